package decay

import (
	"errors"
	"math"
	"testing"
)

// makeExponentialDecay generates a synthetic IR with known RT60.
// h(t) = exp(-6.9078 * t / rt60) reaches -60 dB at t = rt60.
func makeExponentialDecay(sampleRate, rt60, durationSec float64) []float64 {
	n := int(sampleRate * durationSec)
	ir := make([]float64, n)
	decayRate := 6.9078 / rt60

	for i := range ir {
		t := float64(i) / sampleRate
		ir[i] = math.Exp(-decayRate * t)
	}

	return ir
}

func TestAnalyzeExponentialDecay(t *testing.T) {
	sampleRate := 48000.0
	want := 1.0

	a := NewAnalyzer(Config{SampleRate: sampleRate})

	report, err := a.Analyze(makeExponentialDecay(sampleRate, want, 3.0))
	if err != nil {
		t.Fatal(err)
	}

	if !report.OK {
		t.Fatalf("expected estimate, got notes %v", report.Notes)
	}

	if math.Abs(report.RT60-want) > 0.05*want {
		t.Errorf("RT60 = %.3f, want %.3f (±5%%)", report.RT60, want)
	}

	if report.Method != "schroeder_t30" {
		t.Errorf("Method = %q, want schroeder_t30", report.Method)
	}

	if report.RT60 > 3.0 {
		t.Errorf("RT60 = %.3f exceeds recording duration", report.RT60)
	}
}

func TestRT60MonotoneInDecaySlope(t *testing.T) {
	sampleRate := 48000.0
	a := NewAnalyzer(Config{SampleRate: sampleRate})

	prev := 0.0
	for _, rt := range []float64{0.3, 0.6, 0.9, 1.2} {
		report, err := a.Analyze(makeExponentialDecay(sampleRate, rt, 4.0))
		if err != nil {
			t.Fatal(err)
		}

		if !report.OK {
			t.Fatalf("rt=%.1f: no estimate", rt)
		}

		if report.RT60 < prev {
			t.Errorf("RT60 decreased as slope shallowed: %.3f after %.3f", report.RT60, prev)
		}

		if report.RT60 > 4.0 {
			t.Errorf("rt=%.1f: RT60 = %.3f exceeds recording duration", rt, report.RT60)
		}

		prev = report.RT60
	}
}

func TestCrossingEstimatorDirect(t *testing.T) {
	sampleRate := 48000.0
	want := 0.8
	ir := makeExponentialDecay(sampleRate, want, 3.0)

	res, err := CrossingEstimator{DecayDB: -60}.Estimate(ir, sampleRate)
	if err != nil {
		t.Fatal(err)
	}

	if res.Extrapolated {
		t.Error("-60 dB crossing must not be tagged extrapolated")
	}

	// Schroeder integration of a clean exponential tracks the envelope.
	if math.Abs(res.RT60-want) > 0.15*want {
		t.Errorf("RT60 = %.3f, want %.3f (±15%%)", res.RT60, want)
	}
}

func TestCrossingEstimatorExtrapolation(t *testing.T) {
	sampleRate := 48000.0
	ir := makeExponentialDecay(sampleRate, 1.0, 3.0)

	res, err := CrossingEstimator{DecayDB: -30}.Estimate(ir, sampleRate)
	if err != nil {
		t.Fatal(err)
	}

	if !res.Extrapolated {
		t.Error("-30 dB crossing must be tagged extrapolated")
	}

	if res.Method != "schroeder_rt30_extrapolated" {
		t.Errorf("Method = %q", res.Method)
	}

	if res.Note == "" {
		t.Error("extrapolated result must carry a note")
	}
}

func TestCrossingEstimatorSilence(t *testing.T) {
	_, err := CrossingEstimator{DecayDB: -60}.Estimate(make([]float64, 48000), 48000)
	if !errors.Is(err, ErrNoEstimate) {
		t.Errorf("err = %v, want ErrNoEstimate", err)
	}
}

func TestAnalyzeSilenceReportsNull(t *testing.T) {
	a := NewAnalyzer(Config{SampleRate: 48000})

	report, err := a.Analyze(make([]float64, 48000))
	if err != nil {
		t.Fatal(err)
	}

	if report.OK {
		t.Fatal("silence must not yield an estimate")
	}

	if !math.IsNaN(report.RT60) {
		t.Errorf("RT60 = %f, want NaN", report.RT60)
	}

	if len(report.Attempts) != 3 {
		t.Errorf("attempts = %d, want all 3 tiers recorded", len(report.Attempts))
	}

	if len(report.Notes) == 0 {
		t.Error("failed ladder must record diagnostic notes")
	}
}

// failingEstimator is a stub tier that always declines.
type failingEstimator struct{ name string }

func (f failingEstimator) Name() string { return f.name }

func (f failingEstimator) Estimate([]float64, float64) (Result, error) {
	return Result{}, ErrNoEstimate
}

// fixedEstimator is a stub tier that always returns a fixed value.
type fixedEstimator struct{ rt60 float64 }

func (fixedEstimator) Name() string { return "fixed" }

func (f fixedEstimator) Estimate([]float64, float64) (Result, error) {
	return Result{RT60: f.rt60, Method: "fixed"}, nil
}

func TestLadderRecordsIntermediateFailures(t *testing.T) {
	a := NewAnalyzer(Config{
		SampleRate: 48000,
		Ladder: []Estimator{
			failingEstimator{name: "first"},
			failingEstimator{name: "second"},
			fixedEstimator{rt60: 0.5},
		},
	})

	report, err := a.Analyze(makeExponentialDecay(48000, 1.0, 1.0))
	if err != nil {
		t.Fatal(err)
	}

	if !report.OK || report.RT60 != 0.5 {
		t.Fatalf("unexpected report: %+v", report)
	}

	if len(report.Attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(report.Attempts))
	}

	if report.Attempts[0].Err == "" || report.Attempts[1].Err == "" {
		t.Error("intermediate failures must be recorded")
	}

	if report.Attempts[2].Err != "" {
		t.Error("winning tier must not carry an error")
	}
}

func TestLadderRejectsNonPositive(t *testing.T) {
	a := NewAnalyzer(Config{
		SampleRate: 48000,
		Ladder: []Estimator{
			fixedEstimator{rt60: -1},
			fixedEstimator{rt60: 0.25},
		},
	})

	report, err := a.Analyze(makeExponentialDecay(48000, 1.0, 1.0))
	if err != nil {
		t.Fatal(err)
	}

	if report.RT60 != 0.25 {
		t.Errorf("RT60 = %f, want fallback to 0.25", report.RT60)
	}
}

func TestAnalyzeInputErrors(t *testing.T) {
	a := NewAnalyzer(Config{SampleRate: 48000})
	if _, err := a.Analyze(nil); !errors.Is(err, ErrEmptySignal) {
		t.Errorf("err = %v, want ErrEmptySignal", err)
	}

	bad := NewAnalyzer(Config{})
	if _, err := bad.Analyze([]float64{1}); !errors.Is(err, ErrInvalidSampleRate) {
		t.Errorf("err = %v, want ErrInvalidSampleRate", err)
	}
}

func TestQualityMetrics(t *testing.T) {
	ir := makeExponentialDecay(48000, 0.5, 2.0)
	a := NewAnalyzer(Config{SampleRate: 48000})

	report, err := a.Analyze(ir)
	if err != nil {
		t.Fatal(err)
	}

	if math.Abs(report.Quality.Peak-1.0) > 1e-9 {
		t.Errorf("Peak = %f, want 1.0", report.Quality.Peak)
	}

	if report.Quality.RMS <= 0 || report.Quality.RMS >= 1 {
		t.Errorf("RMS = %f out of expected range", report.Quality.RMS)
	}

	if report.Quality.DynamicRangeDB >= -60 {
		t.Errorf("DynamicRangeDB = %f, expected deep range for clean decay", report.Quality.DynamicRangeDB)
	}

	if report.Quality.EarlyLateDB <= 0 {
		t.Errorf("EarlyLateDB = %f, expected positive decay", report.Quality.EarlyLateDB)
	}
}
