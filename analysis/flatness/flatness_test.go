package flatness

import (
	"math"
	"math/rand"
	"testing"
)

func TestDeltaImpulseIsFlat(t *testing.T) {
	sig := make([]float64, 8192)
	sig[0] = 1.0

	res, err := Analyze(sig, 48000)
	if err != nil {
		t.Fatal(err)
	}

	// A unit impulse has a perfectly flat spectrum; windowing leaves only
	// a small residual spread.
	if res.Rating != RatingExcellent && res.Rating != RatingGood {
		t.Errorf("Rating = %s (flatness %.2f dB), want Excellent or Good", res.Rating, res.FlatnessDB)
	}

	if res.NearSilent {
		t.Error("impulse flagged near-silent")
	}
}

func TestWhiteNoiseNeverColored(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	sig := make([]float64, 1<<16)

	for i := range sig {
		sig[i] = rng.Float64()*2 - 1
	}

	res, err := Analyze(sig, 48000)
	if err != nil {
		t.Fatal(err)
	}

	if res.Rating == RatingColored {
		t.Errorf("white noise rated Colored (flatness %.2f dB)", res.FlatnessDB)
	}
}

func TestSineIsColored(t *testing.T) {
	sig := make([]float64, 1<<15)
	for i := range sig {
		sig[i] = math.Sin(2 * math.Pi * 1000 * float64(i) / 48000)
	}

	res, err := Analyze(sig, 48000)
	if err != nil {
		t.Fatal(err)
	}

	if res.Rating != RatingColored {
		t.Errorf("pure tone rated %s, want Colored", res.Rating)
	}

	// The spectral peak should sit near the tone frequency.
	if math.Abs(res.PeakFrequencyHz-1000) > 50 {
		t.Errorf("PeakFrequencyHz = %.1f, want ~1000", res.PeakFrequencyHz)
	}
}

func TestSilenceStillReported(t *testing.T) {
	res, err := Analyze(make([]float64, 4096), 48000)
	if err != nil {
		t.Fatal(err)
	}

	if !res.NearSilent {
		t.Error("silence not flagged near-silent")
	}

	if res.Rating == "" {
		t.Error("degenerate spectrum must still carry a rating")
	}
}

func TestAllNineBandsPresent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	sig := make([]float64, 48000)

	for i := range sig {
		sig[i] = rng.Float64()*2 - 1
	}

	res, err := Analyze(sig, 48000)
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Bands) != 9 {
		t.Fatalf("bands = %d, want 9", len(res.Bands))
	}

	for key, b := range res.Bands {
		if b.VariationDB != b.MaxDB-b.MinDB {
			t.Errorf("band %s: variation %.2f != max-min %.2f", key, b.VariationDB, b.MaxDB-b.MinDB)
		}
	}
}

func TestInputErrors(t *testing.T) {
	if _, err := Analyze(nil, 48000); err == nil {
		t.Error("expected error for empty input")
	}

	if _, err := Analyze([]float64{1}, 0); err == nil {
		t.Error("expected error for invalid sample rate")
	}
}

func TestRatingBoundaries(t *testing.T) {
	cases := []struct {
		flatness float64
		want     Rating
	}{
		{2.9, RatingExcellent},
		{3.0, RatingGood},
		{5.9, RatingGood},
		{6.0, RatingFair},
		{9.9, RatingFair},
		{10.0, RatingColored},
	}

	for _, c := range cases {
		if got := rate(c.flatness); got != c.want {
			t.Errorf("rate(%.1f) = %s, want %s", c.flatness, got, c.want)
		}
	}
}
