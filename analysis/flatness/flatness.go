// Package flatness analyzes the frequency-response flatness of an impulse
// response: a Hann-windowed magnitude spectrum summarized per octave band
// and as a single broadband coloration figure.
package flatness

import (
	"errors"
	"fmt"
	"math"

	algofft "github.com/MeKo-Christian/algo-fft"
	vecmath "github.com/cwbudde/algo-vecmath"

	"github.com/cwbudde/algo-reverb-qa/bands"
)

// Errors returned by flatness analysis.
var (
	ErrEmptySignal       = errors.New("flatness: signal is empty")
	ErrInvalidSampleRate = errors.New("flatness: sample rate must be positive")
)

// silenceFloor is the peak linear magnitude below which the input is
// flagged as near-silent; the degenerate spectrum is still reported.
const silenceFloor = 1e-8

// Rating is the qualitative four-level flatness verdict.
type Rating string

// Rating levels by broadband dB standard deviation.
const (
	RatingExcellent Rating = "Excellent" // < 3 dB
	RatingGood      Rating = "Good"      // < 6 dB
	RatingFair      Rating = "Fair"      // < 10 dB
	RatingColored   Rating = "Colored"   // >= 10 dB
)

// rate maps a broadband dB standard deviation to its rating.
func rate(flatnessDB float64) Rating {
	switch {
	case flatnessDB < 3:
		return RatingExcellent
	case flatnessDB < 6:
		return RatingGood
	case flatnessDB < 10:
		return RatingFair
	default:
		return RatingColored
	}
}

// BandStats summarizes the magnitude response within one octave band.
type BandStats struct {
	FrequencyRange string  `json:"frequency_range"`
	MeanDB         float64 `json:"average_db"`
	MinDB          float64 `json:"min_db"`
	MaxDB          float64 `json:"max_db"`
	VariationDB    float64 `json:"variation_db"`
	FlatnessDB     float64 `json:"flatness_db"`
}

// Result holds the full flatness analysis.
type Result struct {
	FlatnessDB       float64              `json:"flatness_db"`
	MeanGainDB       float64              `json:"mean_gain_db"`
	PeakFrequencyHz  float64              `json:"peak_frequency_hz"`
	NotchFrequencyHz float64              `json:"notch_frequency_hz"`
	Rating           Rating               `json:"quality_rating"`
	Bands            map[string]BandStats `json:"octave_bands"`
	NearSilent       bool                 `json:"near_silent"`
}

// Analyze computes the windowed magnitude spectrum of an impulse-like
// signal and summarizes it per octave band and broadband. A silent input
// yields a degenerate but still-reported spectrum with NearSilent set.
func Analyze(samples []float64, sampleRate float64) (Result, error) {
	if len(samples) == 0 {
		return Result{}, ErrEmptySignal
	}

	if sampleRate <= 0 {
		return Result{}, ErrInvalidSampleRate
	}

	magDB, freqs, peakMag, err := magnitudeSpectrumDB(samples, sampleRate)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Bands:      make(map[string]BandStats, len(bands.Octave)),
		NearSilent: peakMag < silenceFloor,
	}

	for _, band := range bands.Octave {
		stats, ok := bandStats(magDB, freqs, band)
		if ok {
			res.Bands[band.Key] = stats
		}
	}

	// Broadband figures over the audible range.
	var (
		sum, sumSq float64
		count      int
		peakDB     = math.Inf(-1)
		notchDB    = math.Inf(1)
	)

	for i, f := range freqs {
		if f < bands.AudibleLowHz || f > bands.AudibleHighHz {
			continue
		}

		v := magDB[i]
		sum += v
		sumSq += v * v
		count++

		if v > peakDB {
			peakDB = v
			res.PeakFrequencyHz = f
		}

		if v < notchDB {
			notchDB = v
			res.NotchFrequencyHz = f
		}
	}

	if count > 0 {
		mean := sum / float64(count)
		res.MeanGainDB = mean
		res.FlatnessDB = math.Sqrt(math.Max(sumSq/float64(count)-mean*mean, 0))
	}

	res.Rating = rate(res.FlatnessDB)

	return res, nil
}

// magnitudeSpectrumDB returns the Hann-windowed magnitude spectrum in dB,
// normalized to 0 dB at its peak, plus bin frequencies and the raw linear
// peak magnitude (for silence detection).
func magnitudeSpectrumDB(samples []float64, sampleRate float64) (magDB, freqs []float64, peakMag float64, err error) {
	n := len(samples)
	fftSize := nextPowerOf2(n)

	plan, err := algofft.NewPlan64(fftSize)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("flatness: create FFT plan: %w", err)
	}

	in := make([]complex128, fftSize)
	for i, v := range samples {
		in[i] = complex(v*hann(i, n), 0)
	}

	out := make([]complex128, fftSize)
	if err := plan.Forward(out, in); err != nil {
		return nil, nil, 0, fmt.Errorf("flatness: forward FFT: %w", err)
	}

	binCount := fftSize/2 + 1
	re := make([]float64, binCount)
	im := make([]float64, binCount)

	for i := 0; i < binCount; i++ {
		re[i] = real(out[i])
		im[i] = imag(out[i])
	}

	mag := make([]float64, binCount)
	vecmath.Magnitude(mag, re, im)

	for _, m := range mag {
		if m > peakMag {
			peakMag = m
		}
	}

	magDB = make([]float64, binCount)
	freqs = make([]float64, binCount)
	maxDB := math.Inf(-1)

	for i := range mag {
		magDB[i] = 20 * math.Log10(mag[i]+1e-10)
		freqs[i] = float64(i) * sampleRate / float64(fftSize)

		if magDB[i] > maxDB {
			maxDB = magDB[i]
		}
	}

	// Normalize to 0 dB at peak.
	for i := range magDB {
		magDB[i] -= maxDB
	}

	return magDB, freqs, peakMag, nil
}

// bandStats summarizes the dB magnitudes falling inside one octave band.
// ok is false when no FFT bin lands in the band (very short inputs).
func bandStats(magDB, freqs []float64, band bands.Band) (BandStats, bool) {
	var (
		sum, sumSq float64
		count      int
		minDB      = math.Inf(1)
		maxDB      = math.Inf(-1)
	)

	for i, f := range freqs {
		if !band.Contains(f) {
			continue
		}

		v := magDB[i]
		sum += v
		sumSq += v * v
		count++

		if v < minDB {
			minDB = v
		}

		if v > maxDB {
			maxDB = v
		}
	}

	if count == 0 {
		return BandStats{}, false
	}

	mean := sum / float64(count)

	return BandStats{
		FrequencyRange: fmt.Sprintf("%.0f-%.0f Hz", band.LowHz, band.HighHz),
		MeanDB:         mean,
		MinDB:          minDB,
		MaxDB:          maxDB,
		VariationDB:    maxDB - minDB,
		FlatnessDB:     math.Sqrt(math.Max(sumSq/float64(count)-mean*mean, 0)),
	}, true
}

// hann returns the symmetric Hann window coefficient for index i of n.
func hann(i, n int) float64 {
	if n <= 1 {
		return 1
	}

	return 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
}

// nextPowerOf2 returns the smallest power of two >= n.
func nextPowerOf2(n int) int {
	p := 1
	for p < n {
		p *= 2
	}

	return p
}
