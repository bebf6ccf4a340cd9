package sweep

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/cwbudde/algo-reverb-qa/analysis/decay"
	"github.com/cwbudde/algo-reverb-qa/analysis/flatness"
	"github.com/cwbudde/algo-reverb-qa/analysis/stability"
	"github.com/cwbudde/algo-reverb-qa/audio/wavio"
	"github.com/cwbudde/algo-reverb-qa/metrics"
)

// Capturer renders one grid cell's dry/wet pair into its directory. The
// production implementation shells out to the capture binary; tests
// substitute a fake.
type Capturer interface {
	Capture(ctx context.Context, cell Cell, dir string) error
}

// Analyzer produces the per-cell metric documents (rt60_metrics.json,
// freq_metrics.json, stability.json) from the captured audio.
type Analyzer interface {
	Analyze(ctx context.Context, cell Cell, dir string, force bool) error
}

// ExecCapturer invokes the external capture binary, redirecting its
// combined output to capture.log inside the cell directory.
type ExecCapturer struct {
	AnalyzerPath    string
	PluginPath      string
	DurationSeconds float64
	SampleRate      float64
	BlockSize       int
	Channels        int
}

// Capture runs one capture subprocess for the cell.
func (e ExecCapturer) Capture(ctx context.Context, cell Cell, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("sweep: create cell dir: %w", err)
	}

	logFile, err := os.Create(filepath.Join(dir, "capture.log"))
	if err != nil {
		return fmt.Errorf("sweep: create capture log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.CommandContext(ctx, e.AnalyzerPath,
		"--plugin", e.PluginPath,
		"--preset", strconv.Itoa(cell.Preset),
		"--duration", strconv.FormatFloat(e.DurationSeconds, 'f', -1, 64),
		"--samplerate", strconv.FormatFloat(e.SampleRate, 'f', -1, 64),
		"--channels", strconv.Itoa(e.Channels),
		"--blocksize", strconv.Itoa(e.BlockSize),
		"--output", dir,
		"--param", fmt.Sprintf("drift=%g", cell.Drift),
		"--param", fmt.Sprintf("chaosIntensity=%g", cell.Chaos),
	)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("sweep: capture %s: %w", cell, err)
	}

	return nil
}

// LocalAnalyzer runs the decay, flatness, and stability analyses
// in-process on the cell's wet capture.
type LocalAnalyzer struct {
	Budget *stability.Budget // nil uses the default budget
	Logger *logrus.Logger
}

// StabilityFile is the per-cell stability result document name.
const StabilityFile = "stability.json"

// Analyze writes rt60_metrics.json and freq_metrics.json (skipped when
// present unless force) and always refreshes stability.json.
func (a LocalAnalyzer) Analyze(ctx context.Context, cell Cell, dir string, force bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	wetPath := filepath.Join(dir, "wet.wav")

	buf, err := wavio.Load(wetPath)
	if err != nil {
		return fmt.Errorf("sweep: analyze %s: %w", cell, err)
	}

	mono := buf.Mono()
	meta := metrics.Meta{
		InputFile:       wetPath,
		SampleRate:      buf.SampleRate,
		DurationSeconds: buf.Duration(),
	}

	rt60Path := filepath.Join(dir, "rt60_metrics.json")
	if force || !fileExists(rt60Path) {
		log := a.Logger
		if log == nil {
			log = logrus.New()
			log.SetOutput(io.Discard)
		}

		report, err := decay.NewAnalyzer(decay.Config{
			SampleRate: float64(buf.SampleRate),
			Logger:     log,
		}).Analyze(mono)
		if err != nil {
			return fmt.Errorf("sweep: rt60 analysis %s: %w", cell, err)
		}

		if err := writeJSON(rt60Path, metrics.NewRT60Document(report, meta)); err != nil {
			return err
		}
	}

	freqPath := filepath.Join(dir, "freq_metrics.json")
	if force || !fileExists(freqPath) {
		res, err := flatness.Analyze(mono, float64(buf.SampleRate))
		if err != nil {
			return fmt.Errorf("sweep: flatness analysis %s: %w", cell, err)
		}

		if err := writeJSON(freqPath, metrics.NewFrequencyDocument(res, meta)); err != nil {
			return err
		}
	}

	budget := stability.DefaultBudget()
	if a.Budget != nil {
		budget = *a.Budget
	}

	// The scan covers every channel, not the mono fold, so a NaN in one
	// channel cannot be averaged away.
	var samples []float64
	for _, ch := range buf.Channels {
		samples = append(samples, ch...)
	}

	result := stability.Analyze(samples, budget)

	return writeJSON(filepath.Join(dir, StabilityFile), result)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func writeJSON(path string, doc any) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("sweep: marshal %s: %w", path, err)
	}

	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("sweep: write %s: %w", path, err)
	}

	return nil
}
