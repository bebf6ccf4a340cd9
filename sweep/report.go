package sweep

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// writeOutputs persists the machine-readable summary (JSON and CSV) and
// the human-readable markdown report.
func (r *Runner) writeOutputs(res *Result) error {
	summaryDoc := map[string]any{
		"summary": res.Summary,
		"runs":    res.Runs,
	}

	if err := writeJSON(filepath.Join(r.cfg.OutputDir, "sweep_summary.json"), summaryDoc); err != nil {
		return err
	}

	if err := writeCSV(filepath.Join(r.cfg.OutputDir, "sweep_summary.csv"), res.Runs); err != nil {
		return err
	}

	return writeMarkdownReport(filepath.Join(r.cfg.OutputDir, "sweep_report.md"), res)
}

// csvHeader matches the JSON field names of CellResult so the CSV and
// JSON summaries stay interchangeable.
var csvHeader = []string{
	"preset", "drift", "chaosIntensity", "duration_seconds",
	"rt60_seconds", "dynamic_range_db", "rms", "peak",
	"flatness_db", "mean_gain_db", "stability_ok",
	"runaway", "runaway_reason", "output_dir",
}

func writeCSV(path string, runs []CellResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("sweep: create csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)

	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("sweep: write csv: %w", err)
	}

	for _, run := range runs {
		record := []string{
			strconv.Itoa(run.Preset),
			FormatValue(run.Drift),
			FormatValue(run.Chaos),
			strconv.FormatFloat(run.DurationSeconds, 'g', -1, 64),
			optionalNumber(run.RT60Seconds),
			optionalNumber(run.DynamicRangeDB),
			optionalNumber(run.RMS),
			optionalNumber(run.Peak),
			optionalNumber(run.FlatnessDB),
			optionalNumber(run.MeanGainDB),
			optionalBool(run.StabilityOK),
			strconv.FormatBool(run.Runaway),
			run.RunawayReason,
			run.OutputDir,
		}

		if err := w.Write(record); err != nil {
			return fmt.Errorf("sweep: write csv: %w", err)
		}
	}

	w.Flush()

	if err := w.Error(); err != nil {
		return fmt.Errorf("sweep: write csv: %w", err)
	}

	return nil
}

func optionalNumber(v *float64) string {
	if v == nil {
		return ""
	}

	return strconv.FormatFloat(*v, 'g', -1, 64)
}

func optionalBool(v *bool) string {
	if v == nil {
		return ""
	}

	return strconv.FormatBool(*v)
}

func formatOptional(v *float64) string {
	if v == nil {
		return "n/a"
	}

	return fmt.Sprintf("%.3f", *v)
}

// writeMarkdownReport renders the human-readable sweep report, including
// drift-by-chaos metric grids in place of rendered heatmaps.
func writeMarkdownReport(path string, res *Result) error {
	var b strings.Builder

	sum := res.Summary
	man := res.Manifest

	fmt.Fprintf(&b, "# Drift/Chaos Sweep Report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", sum.Timestamp)
	fmt.Fprintf(&b, "## Overview\n")
	fmt.Fprintf(&b, "- Runs: %d\n", sum.RunsTotal)
	fmt.Fprintf(&b, "- Failures: %d\n", sum.Failures)
	fmt.Fprintf(&b, "- Runaways: %d\n", sum.RunawayCount)
	fmt.Fprintf(&b, "- Stability failures: %d\n", sum.StabilityFailures)
	fmt.Fprintf(&b, "- Duration: %g seconds\n", man.DurationSeconds)
	fmt.Fprintf(&b, "- Presets: %v\n", man.Presets)
	fmt.Fprintf(&b, "- Drift values: %v\n", man.DriftValues)
	fmt.Fprintf(&b, "- Chaos values: %v\n\n", man.ChaosValues)

	b.WriteString("## Aggregate Metrics\n")
	b.WriteString("| Metric | Min | Mean | Median | P95 | Max |\n")
	b.WriteString("| --- | --- | --- | --- | --- | --- |\n")
	writeStatsRow(&b, "RT60 (s)", sum.RT60Stats)
	writeStatsRow(&b, "Flatness (dB)", sum.FlatnessStats)
	b.WriteString("\n")

	if sum.MaxRT60 != nil {
		fmt.Fprintf(&b, "## Extremes\n")
		fmt.Fprintf(&b, "- Max RT60: %.3f s (preset %d, drift %s, chaos %s)\n\n",
			sum.MaxRT60.RT60Seconds, sum.MaxRT60.Preset,
			FormatValue(sum.MaxRT60.Drift), FormatValue(sum.MaxRT60.Chaos))
	}

	if len(res.PresetRows) > 0 {
		b.WriteString("## Per-Preset Summary\n")
		b.WriteString("| Preset | Runs | RT60 mean (s) | RT60 max (s) | Flatness mean (dB) | Runaways | Stability failures |\n")
		b.WriteString("| --- | --- | --- | --- | --- | --- | --- |\n")

		for _, row := range res.PresetRows {
			fmt.Fprintf(&b, "| %d | %d | %s | %s | %s | %d | %d |\n",
				row.Preset, row.Runs,
				formatOptional(row.RT60Mean), formatOptional(row.RT60Max),
				formatOptional(row.FlatnessMean),
				row.Runaways, row.StabilityFailures)
		}

		b.WriteString("\n")
	}

	writeGrids(&b, res)

	var runaways []CellResult

	for _, run := range res.Runs {
		if run.Runaway {
			runaways = append(runaways, run)
		}
	}

	if len(runaways) > 0 {
		b.WriteString("## Runaway Details\n")

		for _, run := range runaways {
			fmt.Fprintf(&b, "- preset %d drift %s chaos %s: %s\n",
				run.Preset, FormatValue(run.Drift), FormatValue(run.Chaos), run.RunawayReason)
		}

		b.WriteString("\n")
	}

	b.WriteString("## Files\n")
	b.WriteString("- sweep_summary.json\n")
	b.WriteString("- sweep_summary.csv\n")
	b.WriteString("- sweep_manifest.json\n")
	b.WriteString("- sweep_report.md\n")

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("sweep: write report: %w", err)
	}

	return nil
}

func writeStatsRow(b *strings.Builder, label string, s *Stats) {
	if s == nil {
		fmt.Fprintf(b, "| %s | n/a | n/a | n/a | n/a | n/a |\n", label)
		return
	}

	fmt.Fprintf(b, "| %s | %.3f | %.3f | %.3f | %.3f | %.3f |\n",
		label, s.Min, s.Mean, s.Median, s.P95, s.Max)
}

// writeGrids renders the drift-by-chaos plane as markdown tables: mean
// RT60 and flatness, plus runaway and stability-pass counts.
func writeGrids(b *strings.Builder, res *Result) {
	drifts := res.Manifest.DriftValues
	chaoses := res.Manifest.ChaosValues

	b.WriteString("## Metric Grids\n")
	b.WriteString("Rows are chaos values, columns are drift values.\n\n")

	writeMetricGrid(b, "RT60 mean (s)", drifts, chaoses, res.Runs,
		func(run CellResult) (float64, bool) {
			if run.RT60Seconds == nil {
				return 0, false
			}

			return *run.RT60Seconds, true
		})

	writeMetricGrid(b, "Flatness mean (dB)", drifts, chaoses, res.Runs,
		func(run CellResult) (float64, bool) {
			if run.FlatnessDB == nil {
				return 0, false
			}

			return *run.FlatnessDB, true
		})

	writeCountGrid(b, "Runaway count", drifts, chaoses, res.Runs,
		func(run CellResult) bool { return run.Runaway })

	writeCountGrid(b, "Stability pass count", drifts, chaoses, res.Runs,
		func(run CellResult) bool { return run.StabilityOK != nil && *run.StabilityOK })
}

func writeGridHeader(b *strings.Builder, title string, drifts []float64) {
	fmt.Fprintf(b, "### %s\n", title)
	b.WriteString("| Chaos \\ Drift |")

	for _, d := range drifts {
		fmt.Fprintf(b, " %s |", FormatValue(d))
	}

	b.WriteString("\n|")

	for range len(drifts) + 1 {
		b.WriteString(" --- |")
	}

	b.WriteString("\n")
}

func writeMetricGrid(b *strings.Builder, title string, drifts, chaoses []float64, runs []CellResult, value func(CellResult) (float64, bool)) {
	writeGridHeader(b, title, drifts)

	for _, chaos := range chaoses {
		fmt.Fprintf(b, "| %s |", FormatValue(chaos))

		for _, drift := range drifts {
			var sum float64

			count := 0

			for _, run := range runs {
				if run.Drift != drift || run.Chaos != chaos {
					continue
				}

				if v, ok := value(run); ok && !math.IsNaN(v) {
					sum += v
					count++
				}
			}

			if count == 0 {
				b.WriteString(" n/a |")
			} else {
				fmt.Fprintf(b, " %.3f |", sum/float64(count))
			}
		}

		b.WriteString("\n")
	}

	b.WriteString("\n")
}

func writeCountGrid(b *strings.Builder, title string, drifts, chaoses []float64, runs []CellResult, pred func(CellResult) bool) {
	writeGridHeader(b, title, drifts)

	for _, chaos := range chaoses {
		fmt.Fprintf(b, "| %s |", FormatValue(chaos))

		for _, drift := range drifts {
			count := 0

			for _, run := range runs {
				if run.Drift == drift && run.Chaos == chaos && pred(run) {
					count++
				}
			}

			fmt.Fprintf(b, " %d |", count)
		}

		b.WriteString("\n")
	}

	b.WriteString("\n")
}
