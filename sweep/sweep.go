// Package sweep drives drift/chaos grid sweeps: per-cell capture via an
// external binary, in-process analysis, runaway detection, and aggregate
// reporting.
package sweep

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/cwbudde/algo-reverb-qa/metrics"
)

// ErrNoGrid is returned when the sweep grid is empty.
var ErrNoGrid = errors.New("sweep: no presets or control values specified")

// ErrStrictAbort wraps the first cell failure when strict mode is on.
var ErrStrictAbort = errors.New("sweep: aborted by strict mode")

// Defaults for capture parameters.
const (
	DefaultDurationSeconds = 30.0
	DefaultSampleRate      = 48000.0
	DefaultBlockSize       = 512
	DefaultChannels        = 2
)

// runawayFraction of the capture duration above which an RT60 estimate
// means the decay did not complete within the window.
const runawayFraction = 0.9

// Config holds the sweep grid and capture parameters.
type Config struct {
	PluginPath      string
	AnalyzerPath    string
	OutputDir       string
	Presets         []int
	DriftValues     []float64
	ChaosValues     []float64
	DurationSeconds float64
	SampleRate      float64
	BlockSize       int
	Channels        int
	NoAnalysis      bool
	Force           bool
	Strict          bool

	// Capturer and Analyzer default to the subprocess capturer and the
	// in-process analyzer; tests substitute fakes.
	Capturer Capturer
	Analyzer Analyzer

	Logger *logrus.Logger
}

// Manifest records the full grid definition before execution starts.
type Manifest struct {
	Timestamp       string    `json:"timestamp"`
	PluginPath      string    `json:"plugin_path"`
	AnalyzerPath    string    `json:"analyzer_path"`
	Presets         []int     `json:"presets"`
	DriftValues     []float64 `json:"drift_values"`
	ChaosValues     []float64 `json:"chaos_values"`
	DurationSeconds float64   `json:"duration_seconds"`
	SampleRate      float64   `json:"sample_rate"`
	BlockSize       int       `json:"block_size"`
	Channels        int       `json:"channels"`
	Analysis        bool      `json:"analysis"`
}

// CellResult is one row of the sweep summary. Pointer fields are null
// when the underlying metric could not be computed.
type CellResult struct {
	Preset          int      `json:"preset"`
	Drift           float64  `json:"drift"`
	Chaos           float64  `json:"chaosIntensity"`
	DurationSeconds float64  `json:"duration_seconds"`
	RT60Seconds     *float64 `json:"rt60_seconds"`
	DynamicRangeDB  *float64 `json:"dynamic_range_db"`
	RMS             *float64 `json:"rms"`
	Peak            *float64 `json:"peak"`
	FlatnessDB      *float64 `json:"flatness_db"`
	MeanGainDB      *float64 `json:"mean_gain_db"`
	StabilityOK     *bool    `json:"stability_ok"`
	Runaway         bool     `json:"runaway"`
	RunawayReason   string   `json:"runaway_reason"`
	OutputDir       string   `json:"output_dir"`
	State           State    `json:"state"`
}

// MaxRT60 identifies the cell with the longest decay.
type MaxRT60 struct {
	RT60Seconds float64 `json:"rt60_seconds"`
	Preset      int     `json:"preset"`
	Drift       float64 `json:"drift"`
	Chaos       float64 `json:"chaosIntensity"`
}

// Summary aggregates the whole sweep.
type Summary struct {
	Timestamp         string   `json:"timestamp"`
	RunsTotal         int      `json:"runs_total"`
	Failures          int      `json:"failures"`
	RunawayCount      int      `json:"runaway_count"`
	StabilityFailures int      `json:"stability_failures"`
	MaxRT60           *MaxRT60 `json:"max_rt60,omitempty"`
	RT60Stats         *Stats   `json:"rt60_stats"`
	FlatnessStats     *Stats   `json:"flatness_stats"`
}

// PresetSummary is one per-preset aggregate row.
type PresetSummary struct {
	Preset            int      `json:"preset"`
	Runs              int      `json:"runs"`
	RT60Mean          *float64 `json:"rt60_mean"`
	RT60Max           *float64 `json:"rt60_max"`
	FlatnessMean      *float64 `json:"flatness_mean"`
	Runaways          int      `json:"runaways"`
	StabilityFailures int      `json:"stability_failures"`
}

// Result is the completed sweep: manifest, per-cell rows in deterministic
// preset/drift/chaos order, and aggregates.
type Result struct {
	Manifest   Manifest        `json:"manifest"`
	Summary    Summary         `json:"summary"`
	Runs       []CellResult    `json:"runs"`
	PresetRows []PresetSummary `json:"preset_rows"`
}

// Runner executes sweeps with a fixed configuration.
type Runner struct {
	cfg      Config
	log      *logrus.Logger
	capturer Capturer
	analyzer Analyzer
}

// NewRunner creates a sweep runner, filling zero config fields with the
// documented defaults.
func NewRunner(cfg Config) *Runner {
	if cfg.DurationSeconds <= 0 {
		cfg.DurationSeconds = DefaultDurationSeconds
	}

	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}

	if cfg.BlockSize <= 0 {
		cfg.BlockSize = DefaultBlockSize
	}

	if cfg.Channels <= 0 {
		cfg.Channels = DefaultChannels
	}

	log := cfg.Logger
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}

	capturer := cfg.Capturer
	if capturer == nil {
		capturer = ExecCapturer{
			AnalyzerPath:    cfg.AnalyzerPath,
			PluginPath:      cfg.PluginPath,
			DurationSeconds: cfg.DurationSeconds,
			SampleRate:      cfg.SampleRate,
			BlockSize:       cfg.BlockSize,
			Channels:        cfg.Channels,
		}
	}

	analyzer := cfg.Analyzer
	if analyzer == nil {
		analyzer = LocalAnalyzer{Logger: cfg.Logger}
	}

	return &Runner{cfg: cfg, log: log, capturer: capturer, analyzer: analyzer}
}

// Run executes the full grid sequentially and writes the manifest,
// summary JSON/CSV, and markdown report under the output directory. The
// summary is written even when individual cells failed; in strict mode
// the first failure aborts instead.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if len(r.cfg.Presets) == 0 || len(r.cfg.DriftValues) == 0 || len(r.cfg.ChaosValues) == 0 {
		return nil, ErrNoGrid
	}

	if err := os.MkdirAll(r.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("sweep: create output dir: %w", err)
	}

	manifest := Manifest{
		Timestamp:       metrics.Timestamp(),
		PluginPath:      r.cfg.PluginPath,
		AnalyzerPath:    r.cfg.AnalyzerPath,
		Presets:         r.cfg.Presets,
		DriftValues:     r.cfg.DriftValues,
		ChaosValues:     r.cfg.ChaosValues,
		DurationSeconds: r.cfg.DurationSeconds,
		SampleRate:      r.cfg.SampleRate,
		BlockSize:       r.cfg.BlockSize,
		Channels:        r.cfg.Channels,
		Analysis:        !r.cfg.NoAnalysis,
	}

	if err := writeJSON(filepath.Join(r.cfg.OutputDir, "sweep_manifest.json"), manifest); err != nil {
		return nil, err
	}

	res := &Result{Manifest: manifest}
	failures := 0

	for _, preset := range r.cfg.Presets {
		for _, drift := range r.cfg.DriftValues {
			for _, chaos := range r.cfg.ChaosValues {
				if err := ctx.Err(); err != nil {
					return nil, err
				}

				cell := Cell{Preset: preset, Drift: drift, Chaos: chaos}

				row, failed, err := r.runCell(ctx, cell)
				if failed {
					failures++
				}

				if err != nil {
					return nil, err
				}

				res.Runs = append(res.Runs, row)
			}
		}
	}

	res.Summary = r.summarize(res.Runs, failures)
	res.PresetRows = summarizeByPreset(res.Runs)

	if err := r.writeOutputs(res); err != nil {
		return nil, err
	}

	r.log.WithFields(logrus.Fields{
		"runs":     res.Summary.RunsTotal,
		"failures": res.Summary.Failures,
		"runaways": res.Summary.RunawayCount,
	}).Info("sweep complete")

	return res, nil
}

// runCell walks one cell through its lifecycle. failed reports a
// non-fatal capture/analysis failure; err is non-nil only in strict mode
// or on unrecoverable filesystem problems.
func (r *Runner) runCell(ctx context.Context, cell Cell) (CellResult, bool, error) {
	row := CellResult{
		Preset:          cell.Preset,
		Drift:           cell.Drift,
		Chaos:           cell.Chaos,
		DurationSeconds: r.cfg.DurationSeconds,
		OutputDir:       cell.DirName(),
	}

	dir := filepath.Join(r.cfg.OutputDir, cell.DirName())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return row, false, fmt.Errorf("sweep: create cell dir: %w", err)
	}

	dryWav := filepath.Join(dir, "dry.wav")
	wetWav := filepath.Join(dir, "wet.wav")

	log := r.log.WithField("cell", cell.String())
	failed := false

	advance := func(s State) {
		log.WithField("state", s).Debug("cell state")
	}

	advance(StateNeedsCapture)

	if r.cfg.Force || !fileExists(dryWav) || !fileExists(wetWav) {
		advance(StateCapturing)
		log.Info("capturing")

		if err := r.capturer.Capture(ctx, cell, dir); err != nil {
			failed = true

			log.WithError(err).Error("capture failed")

			if r.cfg.Strict {
				return row, true, fmt.Errorf("%w: %v", ErrStrictAbort, err)
			}
		}
	} else {
		log.Info("reusing existing capture")
	}

	advance(StateCaptured)

	if err := r.writeCellMetadata(cell, dir); err != nil {
		return row, failed, err
	}

	if !r.cfg.NoAnalysis && fileExists(wetWav) {
		advance(StateNeedsAnalysis)
		advance(StateAnalyzing)

		if err := r.analyzer.Analyze(ctx, cell, dir, r.cfg.Force); err != nil {
			failed = true

			log.WithError(err).Error("analysis failed")

			if r.cfg.Strict {
				return row, true, fmt.Errorf("%w: %v", ErrStrictAbort, err)
			}
		} else {
			advance(StateAnalyzed)
		}

		r.collectCellMetrics(&row, dir)
	}

	row.Runaway, row.RunawayReason = detectRunaway(loadDoc(filepath.Join(dir, "rt60_metrics.json")), r.cfg.DurationSeconds)

	row.State = StateRecorded
	advance(StateRecorded)

	return row, failed, nil
}

// writeCellMetadata writes the capture_metadata document for the cell.
func (r *Runner) writeCellMetadata(cell Cell, dir string) error {
	return writeJSON(filepath.Join(dir, "metadata.json"), map[string]any{
		"version":          metrics.Version,
		"timestamp":        metrics.Timestamp(),
		"plugin_path":      r.cfg.PluginPath,
		"preset_index":     cell.Preset,
		"duration_seconds": r.cfg.DurationSeconds,
		"sample_rate":      r.cfg.SampleRate,
		"num_channels":     r.cfg.Channels,
		"block_size":       r.cfg.BlockSize,
		"test_type":        "impulse",
		"parameters": map[string]any{
			"drift":          cell.Drift,
			"chaosIntensity": cell.Chaos,
		},
		"output_files": map[string]any{
			"dry": "dry.wav",
			"wet": "wet.wav",
		},
	})
}

// collectCellMetrics pulls the per-cell summary fields out of the metric
// documents written by the analyzer.
func (r *Runner) collectCellMetrics(row *CellResult, dir string) {
	if rt60Doc := loadDoc(filepath.Join(dir, "rt60_metrics.json")); rt60Doc != nil {
		row.RT60Seconds = numberField(rt60Doc, "broadband", "rt60_seconds")
		row.DynamicRangeDB = numberField(rt60Doc, "_metadata", "dynamic_range_db")
		row.RMS = numberField(rt60Doc, "_metadata", "rms_level")
		row.Peak = numberField(rt60Doc, "_metadata", "peak_amplitude")
	}

	if freqDoc := loadDoc(filepath.Join(dir, "freq_metrics.json")); freqDoc != nil {
		row.FlatnessDB = numberField(freqDoc, "broadband", "flatness_db")
		row.MeanGainDB = numberField(freqDoc, "broadband", "mean_gain_db")
	}

	if stabDoc := loadDoc(filepath.Join(dir, StabilityFile)); stabDoc != nil {
		if pass, ok := stabDoc["pass"].(bool); ok {
			row.StabilityOK = &pass
		}
	}
}

// detectRunaway flags cells whose decay did not complete within the
// capture window: an RT60 estimate at or above 90% of the duration, or
// analysis notes reporting that the signal does not decay.
func detectRunaway(rt60Doc map[string]any, duration float64) (bool, string) {
	if rt60Doc == nil {
		return false, ""
	}

	broadband, _ := rt60Doc["broadband"].(map[string]any)
	if broadband == nil {
		return false, ""
	}

	if notes, ok := broadband["analysis_notes"].([]any); ok {
		var parts []string

		for _, n := range notes {
			if s, ok := n.(string); ok {
				parts = append(parts, s)
			}
		}

		joined := strings.Join(parts, "; ")
		if strings.Contains(strings.ToLower(joined), "not decay") {
			return true, joined
		}
	}

	if rt60, ok := broadband["rt60_seconds"].(float64); ok && rt60 > 0 {
		if limit := duration * runawayFraction; rt60 >= limit {
			return true, fmt.Sprintf("rt60 >= %.2fs", limit)
		}
	}

	return false, ""
}

func (r *Runner) summarize(runs []CellResult, failures int) Summary {
	sum := Summary{
		Timestamp: metrics.Timestamp(),
		RunsTotal: len(runs),
		Failures:  failures,
	}

	var rt60Values, flatnessValues []float64

	for _, run := range runs {
		if run.Runaway {
			sum.RunawayCount++
		}

		if run.StabilityOK != nil && !*run.StabilityOK {
			sum.StabilityFailures++
		}

		if run.RT60Seconds != nil && !math.IsNaN(*run.RT60Seconds) {
			rt60Values = append(rt60Values, *run.RT60Seconds)

			if sum.MaxRT60 == nil || *run.RT60Seconds > sum.MaxRT60.RT60Seconds {
				sum.MaxRT60 = &MaxRT60{
					RT60Seconds: *run.RT60Seconds,
					Preset:      run.Preset,
					Drift:       run.Drift,
					Chaos:       run.Chaos,
				}
			}
		}

		if run.FlatnessDB != nil {
			flatnessValues = append(flatnessValues, *run.FlatnessDB)
		}
	}

	sum.RT60Stats = computeStats(rt60Values)
	sum.FlatnessStats = computeStats(flatnessValues)

	return sum
}

// summarizeByPreset aggregates runs per preset, preserving preset order.
func summarizeByPreset(runs []CellResult) []PresetSummary {
	order := []int{}
	byPreset := map[int]*PresetSummary{}
	rt60s := map[int][]float64{}
	flats := map[int][]float64{}

	for _, run := range runs {
		entry, ok := byPreset[run.Preset]
		if !ok {
			entry = &PresetSummary{Preset: run.Preset}
			byPreset[run.Preset] = entry
			order = append(order, run.Preset)
		}

		entry.Runs++

		if run.Runaway {
			entry.Runaways++
		}

		if run.StabilityOK != nil && !*run.StabilityOK {
			entry.StabilityFailures++
		}

		if run.RT60Seconds != nil && !math.IsNaN(*run.RT60Seconds) {
			rt60s[run.Preset] = append(rt60s[run.Preset], *run.RT60Seconds)
		}

		if run.FlatnessDB != nil {
			flats[run.Preset] = append(flats[run.Preset], *run.FlatnessDB)
		}
	}

	rows := make([]PresetSummary, 0, len(order))

	for _, preset := range order {
		entry := byPreset[preset]

		if s := computeStats(rt60s[preset]); s != nil {
			entry.RT60Mean = &s.Mean
			entry.RT60Max = &s.Max
		}

		if s := computeStats(flats[preset]); s != nil {
			entry.FlatnessMean = &s.Mean
		}

		rows = append(rows, *entry)
	}

	return rows
}

// loadDoc reads a JSON document, returning nil when absent or invalid.
func loadDoc(path string) map[string]any {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}

	return doc
}

// numberField reads doc[section][key] as a number, nil when absent.
func numberField(doc map[string]any, section, key string) *float64 {
	obj, _ := doc[section].(map[string]any)
	if obj == nil {
		return nil
	}

	v, ok := obj[key].(float64)
	if !ok {
		return nil
	}

	return &v
}
