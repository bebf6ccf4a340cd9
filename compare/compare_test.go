package compare

import (
	"encoding/json"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/cwbudde/algo-reverb-qa/audio/wavio"
	"github.com/cwbudde/algo-reverb-qa/metrics"
)

type presetDocs struct {
	rt60     float64
	rt60Null bool
	flatness float64
	itdSec   float64
	ildDB    float64
	iacc     float64
	wav      []float64
}

func writePreset(t *testing.T, root string, idx int, docs presetDocs) {
	t.Helper()

	dir := filepath.Join(root, PresetDirName(idx))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	var rt60 any
	if !docs.rt60Null {
		rt60 = docs.rt60
	}

	writeJSON(t, filepath.Join(dir, "rt60_metrics.json"), map[string]any{
		"broadband": map[string]any{
			"rt60_seconds":    rt60,
			"method":          "schroeder_t30",
			"frequency_range": "20-20000 Hz",
		},
	})

	writeJSON(t, filepath.Join(dir, "freq_metrics.json"), map[string]any{
		"broadband": map[string]any{"flatness_db": docs.flatness},
	})

	writeJSON(t, filepath.Join(dir, "spatial_metrics.json"), map[string]any{
		"broadband": map[string]any{
			"itd_seconds": docs.itdSec,
			"ild_db":      docs.ildDB,
			"iacc":        docs.iacc,
		},
	})

	if docs.wav != nil {
		buf := &wavio.Buffer{
			Channels:   [][]float64{docs.wav},
			SampleRate: 48000,
			BitDepth:   16,
		}

		if err := wavio.Save(filepath.Join(dir, "wet.wav"), buf); err != nil {
			t.Fatal(err)
		}
	}
}

func writeJSON(t *testing.T, path string, doc any) {
	t.Helper()

	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}
}

func makeNoise(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	sig := make([]float64, n)

	for i := range sig {
		sig[i] = (rng.Float64()*2 - 1) * 0.5
	}

	return sig
}

func defaultDocs(wav []float64) presetDocs {
	return presetDocs{
		rt60:     1.0,
		flatness: 2.0,
		itdSec:   0.0001,
		ildDB:    0.5,
		iacc:     0.9,
		wav:      wav,
	}
}

func TestIdenticalPresetsPass(t *testing.T) {
	baseline := t.TempDir()
	current := t.TempDir()
	wav := makeNoise(8192, 1)

	writePreset(t, baseline, 0, defaultDocs(wav))
	writePreset(t, current, 0, defaultDocs(wav))

	report, err := NewComparer(DefaultConfig()).Run(baseline, current)
	if err != nil {
		t.Fatal(err)
	}

	if !report.OverallPass() {
		t.Fatalf("identical presets failed: %+v", report.Results)
	}

	res := report.Results[0]

	wf, ok := res.Metrics["waveform"].(WaveformMetrics)
	if !ok {
		t.Fatalf("waveform metrics missing: %v", res.Metrics)
	}

	if math.Abs(wf.Correlation-1.0) > 1e-9 {
		t.Errorf("Correlation = %.6f, want 1.0", wf.Correlation)
	}

	if wf.RMSDifference != 0 {
		t.Errorf("RMSDifference = %g, want 0", wf.RMSDifference)
	}
}

func TestRT60DriftFails(t *testing.T) {
	baseline := t.TempDir()
	current := t.TempDir()

	base := defaultDocs(nil)
	cur := defaultDocs(nil)
	cur.rt60 = 1.2 // 20% change against a 5% threshold

	writePreset(t, baseline, 0, base)
	writePreset(t, current, 0, cur)

	report, err := NewComparer(DefaultConfig()).Run(baseline, current)
	if err != nil {
		t.Fatal(err)
	}

	res := report.Results[0]
	if res.Pass {
		t.Fatal("RT60 drift not detected")
	}

	if got := res.Metrics["rt60_diff_pct"].(float64); math.Abs(got-20) > 0.01 {
		t.Errorf("rt60_diff_pct = %.2f, want 20", got)
	}
}

func TestNullRT60IsAFailure(t *testing.T) {
	baseline := t.TempDir()
	current := t.TempDir()

	cur := defaultDocs(nil)
	cur.rt60Null = true

	writePreset(t, baseline, 0, defaultDocs(nil))
	writePreset(t, current, 0, cur)

	report, err := NewComparer(DefaultConfig()).Run(baseline, current)
	if err != nil {
		t.Fatal(err)
	}

	res := report.Results[0]
	if res.Pass {
		t.Fatal("missing RT60 must fail the preset")
	}

	if res.Issues[0] != "RT60: Missing RT60 data" {
		t.Errorf("issue = %q", res.Issues[0])
	}
}

func TestFlatnessThresholdIsScaled(t *testing.T) {
	// Threshold 0.05 with the default scale of 10 allows up to 0.5 dB.
	for _, c := range []struct {
		curFlatness float64
		wantPass    bool
	}{
		{2.4, true},
		{2.7, false},
	} {
		baseline := t.TempDir()
		current := t.TempDir()

		cur := defaultDocs(nil)
		cur.flatness = c.curFlatness

		writePreset(t, baseline, 0, defaultDocs(nil))
		writePreset(t, current, 0, cur)

		report, err := NewComparer(DefaultConfig()).Run(baseline, current)
		if err != nil {
			t.Fatal(err)
		}

		if report.Results[0].Pass != c.wantPass {
			t.Errorf("flatness %.1f: pass = %v, want %v, issues %v",
				c.curFlatness, report.Results[0].Pass, c.wantPass, report.Results[0].Issues)
		}
	}
}

func TestSpatialCueThresholds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*presetDocs)
	}{
		{"itd", func(d *presetDocs) { d.itdSec += 0.0005 }},   // 0.5 ms > 0.2 ms
		{"ild", func(d *presetDocs) { d.ildDB += 1.5 }},       // > 1.0 dB
		{"iacc", func(d *presetDocs) { d.iacc -= 0.2 }},       // > 0.05
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			baseline := t.TempDir()
			current := t.TempDir()

			cur := defaultDocs(nil)
			c.mutate(&cur)

			writePreset(t, baseline, 0, defaultDocs(nil))
			writePreset(t, current, 0, cur)

			report, err := NewComparer(DefaultConfig()).Run(baseline, current)
			if err != nil {
				t.Fatal(err)
			}

			if report.Results[0].Pass {
				t.Errorf("%s drift not detected", c.name)
			}
		})
	}
}

func TestMissingPresetReported(t *testing.T) {
	baseline := t.TempDir()
	current := t.TempDir()

	writePreset(t, baseline, 0, defaultDocs(nil))
	writePreset(t, current, 0, defaultDocs(nil))

	// Preset 5 exists only in the baseline; union discovery must still
	// visit and fail it.
	writePreset(t, baseline, 5, defaultDocs(nil))

	report, err := NewComparer(DefaultConfig()).Run(baseline, current)
	if err != nil {
		t.Fatal(err)
	}

	if report.Summary.Total != 2 {
		t.Fatalf("total = %d, want 2", report.Summary.Total)
	}

	var missing *PresetResult

	for i := range report.Results {
		if report.Results[i].PresetIndex == 5 {
			missing = &report.Results[i]
		}
	}

	if missing == nil {
		t.Fatal("preset 5 not discovered")
	}

	if missing.Pass || missing.Issues[0] != "Current preset missing" {
		t.Errorf("unexpected result: %+v", missing)
	}
}

func TestOneSidedMissingMetricFileFails(t *testing.T) {
	baseline := t.TempDir()
	current := t.TempDir()

	writePreset(t, baseline, 0, defaultDocs(nil))
	writePreset(t, current, 0, defaultDocs(nil))

	// The current preset directory exists but lost its RT60 document:
	// an incomplete run, not a skippable family.
	if err := os.Remove(filepath.Join(current, PresetDirName(0), "rt60_metrics.json")); err != nil {
		t.Fatal(err)
	}

	report, err := NewComparer(DefaultConfig()).Run(baseline, current)
	if err != nil {
		t.Fatal(err)
	}

	res := report.Results[0]
	if res.Pass {
		t.Fatal("one-sided missing metric file must fail the preset")
	}

	if res.Issues[0] != "RT60: missing current metrics" {
		t.Errorf("issue = %q", res.Issues[0])
	}
}

func TestBothSidesMissingFamilyIsSkipped(t *testing.T) {
	baseline := t.TempDir()
	current := t.TempDir()

	writePreset(t, baseline, 0, defaultDocs(nil))
	writePreset(t, current, 0, defaultDocs(nil))

	// Neither run captured spatial metrics: the family was never part of
	// the baseline contract and must not fail the preset.
	for _, root := range []string{baseline, current} {
		if err := os.Remove(filepath.Join(root, PresetDirName(0), "spatial_metrics.json")); err != nil {
			t.Fatal(err)
		}
	}

	report, err := NewComparer(DefaultConfig()).Run(baseline, current)
	if err != nil {
		t.Fatal(err)
	}

	if !report.OverallPass() {
		t.Errorf("both-sides-absent family must be skipped: %+v", report.Results[0])
	}
}

func TestZeroBaselineRT60Fails(t *testing.T) {
	baseline := t.TempDir()
	current := t.TempDir()

	base := defaultDocs(nil)
	base.rt60 = 0

	cur := defaultDocs(nil)
	cur.rt60 = 0.5

	writePreset(t, baseline, 0, base)
	writePreset(t, current, 0, cur)

	report, err := NewComparer(DefaultConfig()).Run(baseline, current)
	if err != nil {
		t.Fatal(err)
	}

	res := report.Results[0]
	if res.Pass {
		t.Fatal("zero baseline RT60 must fail the preset")
	}

	if res.Issues[0] != "RT60: Missing RT60 data" {
		t.Errorf("issue = %q", res.Issues[0])
	}

	// The recorded diff must stay finite so the report marshals.
	if diff := res.Metrics["rt60_diff_pct"].(float64); math.IsInf(diff, 0) || math.IsNaN(diff) {
		t.Errorf("rt60_diff_pct = %v", diff)
	}

	out := filepath.Join(t.TempDir(), "regression_report.json")
	if err := WriteReport(report, out); err != nil {
		t.Errorf("report with zero baseline RT60 failed to write: %v", err)
	}
}

func TestDivergentWaveformsFail(t *testing.T) {
	baseline := t.TempDir()
	current := t.TempDir()

	base := defaultDocs(makeNoise(8192, 1))
	cur := defaultDocs(makeNoise(8192, 2))

	writePreset(t, baseline, 0, base)
	writePreset(t, current, 0, cur)

	report, err := NewComparer(DefaultConfig()).Run(baseline, current)
	if err != nil {
		t.Fatal(err)
	}

	if report.Results[0].Pass {
		t.Fatal("uncorrelated waveforms must fail")
	}
}

func TestExplicitPresetSelection(t *testing.T) {
	baseline := t.TempDir()
	current := t.TempDir()

	writePreset(t, baseline, 0, defaultDocs(nil))
	writePreset(t, current, 0, defaultDocs(nil))
	writePreset(t, baseline, 1, defaultDocs(nil)) // would fail if compared

	cfg := DefaultConfig()
	cfg.Presets = []int{0}

	report, err := NewComparer(cfg).Run(baseline, current)
	if err != nil {
		t.Fatal(err)
	}

	if report.Summary.Total != 1 || !report.OverallPass() {
		t.Fatalf("unexpected summary: %+v", report.Summary)
	}
}

func TestMissingRootDirs(t *testing.T) {
	if _, err := NewComparer(DefaultConfig()).Run("/nonexistent/a", t.TempDir()); err == nil {
		t.Error("missing baseline root must error")
	}

	if _, err := NewComparer(DefaultConfig()).Run(t.TempDir(), "/nonexistent/b"); err == nil {
		t.Error("missing current root must error")
	}
}

func TestReportMatchesSchema(t *testing.T) {
	baseline := t.TempDir()
	current := t.TempDir()

	writePreset(t, baseline, 0, defaultDocs(nil))
	writePreset(t, current, 0, defaultDocs(nil))

	report, err := NewComparer(DefaultConfig()).Run(baseline, current)
	if err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(t.TempDir(), "regression_report.json")
	if err := WriteReport(report, out); err != nil {
		t.Fatal(err)
	}

	fr := metrics.ValidateFile(out, "")
	if !fr.OK() {
		t.Errorf("report fails its own schema: %v %s", fr.Issues, fr.Err)
	}

	if fr.Schema != "regression_report" {
		t.Errorf("detected schema = %s", fr.Schema)
	}
}
