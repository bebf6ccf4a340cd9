// Package compare detects regressions between a baseline capture set and a
// current one: per-preset RT60, frequency flatness, spatial cues, and raw
// waveform similarity, aggregated into a machine-readable report.
package compare

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrMissingDir is returned when the baseline or current root does not
// exist.
var ErrMissingDir = errors.New("compare: directory not found")

// Default thresholds.
const (
	DefaultThreshold        = 0.05
	DefaultITDThresholdMs   = 0.2
	DefaultILDThresholdDB   = 1.0
	DefaultIACCDelta        = 0.05
	DefaultFlatnessScale    = 10.0
	DefaultCorrelationFloor = 0.95
)

// Config holds comparison thresholds. The flatness comparison uses
// Threshold scaled by FlatnessScale to express an absolute dB bound.
type Config struct {
	Threshold        float64
	ITDThresholdMs   float64
	ILDThresholdDB   float64
	IACCDelta        float64
	FlatnessScale    float64
	CorrelationFloor float64
	Presets          []int // nil scans both roots for preset directories
	Logger           *logrus.Logger
}

// DefaultConfig returns the documented default thresholds.
func DefaultConfig() Config {
	return Config{
		Threshold:        DefaultThreshold,
		ITDThresholdMs:   DefaultITDThresholdMs,
		ILDThresholdDB:   DefaultILDThresholdDB,
		IACCDelta:        DefaultIACCDelta,
		FlatnessScale:    DefaultFlatnessScale,
		CorrelationFloor: DefaultCorrelationFloor,
	}
}

// PresetResult is the comparison outcome for one preset. All issues are
// collected; a failing check never hides later ones.
type PresetResult struct {
	PresetIndex int            `json:"preset_index"`
	Pass        bool           `json:"pass"`
	Issues      []string       `json:"issues"`
	Metrics     map[string]any `json:"metrics"`
}

// Summary counts preset outcomes.
type Summary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// Report is the full regression comparison.
type Report struct {
	BaselineDir string         `json:"baseline_dir"`
	CurrentDir  string         `json:"current_dir"`
	Threshold   float64        `json:"threshold"`
	Summary     Summary        `json:"summary"`
	Results     []PresetResult `json:"results"`
}

// OverallPass reports whether every preset passed.
func (r Report) OverallPass() bool {
	return r.Summary.Failed == 0
}

// Comparer runs baseline comparisons with fixed thresholds.
type Comparer struct {
	cfg Config
	log *logrus.Logger
}

// NewComparer creates a comparer, filling zero thresholds with defaults.
// A nil Logger discards log output.
func NewComparer(cfg Config) *Comparer {
	def := DefaultConfig()

	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}

	if cfg.ITDThresholdMs <= 0 {
		cfg.ITDThresholdMs = def.ITDThresholdMs
	}

	if cfg.ILDThresholdDB <= 0 {
		cfg.ILDThresholdDB = def.ILDThresholdDB
	}

	if cfg.IACCDelta <= 0 {
		cfg.IACCDelta = def.IACCDelta
	}

	if cfg.FlatnessScale <= 0 {
		cfg.FlatnessScale = def.FlatnessScale
	}

	if cfg.CorrelationFloor <= 0 {
		cfg.CorrelationFloor = def.CorrelationFloor
	}

	log := cfg.Logger
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}

	return &Comparer{cfg: cfg, log: log}
}

// Run compares every selected preset under the two roots.
func (c *Comparer) Run(baselineDir, currentDir string) (Report, error) {
	if _, err := os.Stat(baselineDir); err != nil {
		return Report{}, fmt.Errorf("%w: baseline %s", ErrMissingDir, baselineDir)
	}

	if _, err := os.Stat(currentDir); err != nil {
		return Report{}, fmt.Errorf("%w: current %s", ErrMissingDir, currentDir)
	}

	presets := c.cfg.Presets
	if presets == nil {
		presets = discoverPresets(baselineDir, currentDir)
	}

	report := Report{
		BaselineDir: baselineDir,
		CurrentDir:  currentDir,
		Threshold:   c.cfg.Threshold,
	}

	for _, idx := range presets {
		res := c.comparePreset(idx, baselineDir, currentDir)
		report.Results = append(report.Results, res)
		report.Summary.Total++

		if res.Pass {
			report.Summary.Passed++
		} else {
			report.Summary.Failed++

			c.log.WithFields(logrus.Fields{
				"preset": idx,
				"issues": res.Issues,
			}).Warn("preset comparison failed")
		}
	}

	return report, nil
}

// PresetDirName formats the canonical per-preset directory name.
func PresetDirName(idx int) string {
	return fmt.Sprintf("preset_%02d", idx)
}

var presetDirPattern = regexp.MustCompile(`^preset_(\d{2,})$`)

// discoverPresets scans both roots and returns the union of preset
// indices, sorted. A preset present on only one side is still compared so
// its absence is reported.
func discoverPresets(baselineDir, currentDir string) []int {
	seen := map[int]bool{}

	for _, root := range []string{baselineDir, currentDir} {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}

		for _, e := range entries {
			if !e.IsDir() {
				continue
			}

			m := presetDirPattern.FindStringSubmatch(e.Name())
			if m == nil {
				continue
			}

			idx, err := strconv.Atoi(m[1])
			if err == nil {
				seen[idx] = true
			}
		}
	}

	presets := make([]int, 0, len(seen))
	for idx := range seen {
		presets = append(presets, idx)
	}

	sort.Ints(presets)

	return presets
}

func (c *Comparer) comparePreset(idx int, baselineDir, currentDir string) PresetResult {
	res := PresetResult{
		PresetIndex: idx,
		Pass:        true,
		Issues:      []string{},
		Metrics:     map[string]any{},
	}

	baselinePreset := filepath.Join(baselineDir, PresetDirName(idx))
	currentPreset := filepath.Join(currentDir, PresetDirName(idx))

	if _, err := os.Stat(baselinePreset); err != nil {
		res.Pass = false
		res.Issues = append(res.Issues, "Baseline preset missing")

		return res
	}

	if _, err := os.Stat(currentPreset); err != nil {
		res.Pass = false
		res.Issues = append(res.Issues, "Current preset missing")

		return res
	}

	c.compareRT60(&res, baselinePreset, currentPreset)
	c.compareFlatness(&res, baselinePreset, currentPreset)
	c.compareSpatial(&res, baselinePreset, currentPreset)
	c.compareWaveforms(&res, baselinePreset, currentPreset)

	return res
}

// loadPair reads one metric family's document from both sides. A file
// present on only one side marks the preset run incomplete and fails it;
// a file absent on both sides means the family was never captured, and
// the comparison is skipped.
func loadPair(res *PresetResult, baselinePreset, currentPreset, file, label string) (baseline, current map[string]any, ok bool) {
	baseline, okB := loadDoc(filepath.Join(baselinePreset, file))
	current, okC := loadDoc(filepath.Join(currentPreset, file))

	if okB && okC {
		return baseline, current, true
	}

	if okB != okC {
		side := "baseline"
		if okB {
			side = "current"
		}

		res.Pass = false
		res.Issues = append(res.Issues, fmt.Sprintf("%s: missing %s metrics", label, side))
	}

	return nil, nil, false
}

// loadDoc reads a JSON metric document; ok is false when the file does
// not exist or cannot be parsed.
func loadDoc(path string) (map[string]any, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false
	}

	return doc, true
}

// numberAt resolves a numeric field from doc, trying each dotted path in
// order.
func numberAt(doc map[string]any, paths ...string) (float64, bool) {
	for _, path := range paths {
		var cur any = doc

		found := true

		for _, part := range strings.Split(path, ".") {
			obj, ok := cur.(map[string]any)
			if !ok {
				found = false
				break
			}

			cur, ok = obj[part]
			if !ok {
				found = false
				break
			}
		}

		if !found {
			continue
		}

		if v, ok := cur.(float64); ok {
			return v, true
		}
	}

	return 0, false
}

func (c *Comparer) compareRT60(res *PresetResult, baselinePreset, currentPreset string) {
	baseline, current, ok := loadPair(res, baselinePreset, currentPreset, "rt60_metrics.json", "RT60")
	if !ok {
		return
	}

	baseRT, okB := numberAt(baseline, "rt60_seconds", "broadband.rt60_seconds")
	curRT, okC := numberAt(current, "rt60_seconds", "broadband.rt60_seconds")

	// A zero or negative baseline leaves the relative change undefined.
	if !okB || !okC || baseRT <= 0 {
		res.Pass = false
		res.Issues = append(res.Issues, "RT60: Missing RT60 data")
		res.Metrics["rt60_diff_pct"] = 0.0

		return
	}

	diffPct := math.Abs(baseRT-curRT) / baseRT * 100
	res.Metrics["rt60_diff_pct"] = diffPct

	if diffPct > c.cfg.Threshold*100 {
		res.Pass = false
		res.Issues = append(res.Issues,
			fmt.Sprintf("RT60: changed by %.1f%% (%.3fs -> %.3fs)", diffPct, baseRT, curRT))
	}
}

func (c *Comparer) compareFlatness(res *PresetResult, baselinePreset, currentPreset string) {
	baseline, current, ok := loadPair(res, baselinePreset, currentPreset, "freq_metrics.json", "Frequency")
	if !ok {
		return
	}

	baseFlat, okB := numberAt(baseline, "broadband.flatness_db", "overall.flatness_std_db")
	curFlat, okC := numberAt(current, "broadband.flatness_db", "overall.flatness_std_db")

	if !okB || !okC {
		res.Pass = false
		res.Issues = append(res.Issues, "Frequency: Missing frequency response data")
		res.Metrics["freq_flatness_diff_db"] = 0.0

		return
	}

	diff := math.Abs(baseFlat - curFlat)
	res.Metrics["freq_flatness_diff_db"] = diff

	if diff > c.cfg.Threshold*c.cfg.FlatnessScale {
		res.Pass = false
		res.Issues = append(res.Issues,
			fmt.Sprintf("Frequency: flatness changed by %.2fdB (%.2fdB -> %.2fdB)",
				diff, baseFlat, curFlat))
	}
}

func (c *Comparer) compareSpatial(res *PresetResult, baselinePreset, currentPreset string) {
	baseline, current, ok := loadPair(res, baselinePreset, currentPreset, "spatial_metrics.json", "Spatial")
	if !ok {
		return
	}

	deltas := map[string]float64{}

	if baseITD, ok := numberAt(baseline, "broadband.itd_seconds"); ok {
		if curITD, ok := numberAt(current, "broadband.itd_seconds"); ok {
			deltaMs := math.Abs(baseITD-curITD) * 1000
			deltas["itd_delta_ms"] = deltaMs

			if deltaMs > c.cfg.ITDThresholdMs {
				res.Pass = false
				res.Issues = append(res.Issues,
					fmt.Sprintf("Spatial: ITD changed by %.3fms (%.3fms -> %.3fms)",
						deltaMs, baseITD*1000, curITD*1000))
			}
		}
	}

	if baseILD, ok := numberAt(baseline, "broadband.ild_db"); ok {
		if curILD, ok := numberAt(current, "broadband.ild_db"); ok {
			delta := math.Abs(baseILD - curILD)
			deltas["ild_db_delta"] = delta

			if delta > c.cfg.ILDThresholdDB {
				res.Pass = false
				res.Issues = append(res.Issues,
					fmt.Sprintf("Spatial: ILD changed by %.2fdB (%.2fdB -> %.2fdB)",
						delta, baseILD, curILD))
			}
		}
	}

	if baseIACC, ok := numberAt(baseline, "broadband.iacc"); ok {
		if curIACC, ok := numberAt(current, "broadband.iacc"); ok {
			delta := math.Abs(baseIACC - curIACC)
			deltas["iacc_delta"] = delta

			if delta > c.cfg.IACCDelta {
				res.Pass = false
				res.Issues = append(res.Issues,
					fmt.Sprintf("Spatial: IACC changed by %.3f (%.3f -> %.3f)",
						delta, baseIACC, curIACC))
			}
		}
	}

	if len(deltas) > 0 {
		res.Metrics["spatial"] = deltas
	}
}

func (c *Comparer) compareWaveforms(res *PresetResult, baselinePreset, currentPreset string) {
	baselineWav := filepath.Join(baselinePreset, "wet.wav")
	currentWav := filepath.Join(currentPreset, "wet.wav")

	if _, err := os.Stat(baselineWav); err != nil {
		return
	}

	if _, err := os.Stat(currentWav); err != nil {
		return
	}

	metrics, err := CompareWaveforms(baselineWav, currentWav)
	if err != nil {
		c.log.WithError(err).WithField("preset", res.PresetIndex).Warn("waveform comparison skipped")

		res.Metrics["waveform_error"] = err.Error()

		return
	}

	res.Metrics["waveform"] = metrics

	if metrics.Correlation < c.cfg.CorrelationFloor {
		res.Pass = false
		res.Issues = append(res.Issues,
			fmt.Sprintf("Waveform correlation low: %.4f", metrics.Correlation))
	}

	if metrics.RMSDifference > c.cfg.Threshold {
		res.Pass = false
		res.Issues = append(res.Issues,
			fmt.Sprintf("Waveform RMS difference: %.6f", metrics.RMSDifference))
	}
}

// WriteReport saves the report as indented JSON.
func WriteReport(report Report, path string) error {
	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("compare: marshal report: %w", err)
	}

	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("compare: write report: %w", err)
	}

	return nil
}
