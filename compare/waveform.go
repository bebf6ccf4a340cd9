package compare

import (
	"errors"
	"fmt"
	"math"

	algofft "github.com/MeKo-Christian/algo-fft"
	"gonum.org/v1/gonum/stat"

	"github.com/cwbudde/algo-reverb-qa/audio/wavio"
)

// ErrSampleRateMismatch is returned when the two recordings cannot be
// compared sample by sample.
var ErrSampleRateMismatch = errors.New("compare: sample rate mismatch")

// welchSegment is the Welch PSD segment length used for the spectral
// difference figure.
const welchSegment = 2048

// WaveformMetrics summarizes the similarity of two recordings.
type WaveformMetrics struct {
	RMSDifference        float64 `json:"rms_difference"`
	Correlation          float64 `json:"correlation"`
	SpectralDifferenceDB float64 `json:"spectral_difference_db"`
}

// CompareWaveforms loads two WAV files and computes sample-wise RMS
// difference, Pearson correlation, and the RMS difference of their Welch
// power spectra in dB. Channels are folded to mono and lengths trimmed to
// the shorter recording.
func CompareWaveforms(baselinePath, currentPath string) (WaveformMetrics, error) {
	baseBuf, err := wavio.Load(baselinePath)
	if err != nil {
		return WaveformMetrics{}, fmt.Errorf("compare: load baseline: %w", err)
	}

	curBuf, err := wavio.Load(currentPath)
	if err != nil {
		return WaveformMetrics{}, fmt.Errorf("compare: load current: %w", err)
	}

	if baseBuf.SampleRate != curBuf.SampleRate {
		return WaveformMetrics{}, fmt.Errorf("%w: %d vs %d",
			ErrSampleRateMismatch, baseBuf.SampleRate, curBuf.SampleRate)
	}

	base := baseBuf.Mono()
	cur := curBuf.Mono()

	n := len(base)
	if len(cur) < n {
		n = len(cur)
	}

	if n == 0 {
		return WaveformMetrics{}, fmt.Errorf("compare: %s: empty recording", baselinePath)
	}

	base = base[:n]
	cur = cur[:n]

	var sumSqDiff float64
	for i := range base {
		d := base[i] - cur[i]
		sumSqDiff += d * d
	}

	m := WaveformMetrics{
		RMSDifference: math.Sqrt(sumSqDiff / float64(n)),
		Correlation:   stat.Correlation(base, cur, nil),
	}

	basePSD, err := welchPSD(base, float64(baseBuf.SampleRate), welchSegment)
	if err != nil {
		return WaveformMetrics{}, err
	}

	curPSD, err := welchPSD(cur, float64(curBuf.SampleRate), welchSegment)
	if err != nil {
		return WaveformMetrics{}, err
	}

	var sumSq float64
	for i := range basePSD {
		d := 10*math.Log10(basePSD[i]+1e-10) - 10*math.Log10(curPSD[i]+1e-10)
		sumSq += d * d
	}

	m.SpectralDifferenceDB = math.Sqrt(sumSq / float64(len(basePSD)))

	return m, nil
}

// welchPSD estimates the one-sided power spectral density with Hann
// windowed, mean-removed, half-overlapping segments.
func welchPSD(x []float64, sampleRate float64, nperseg int) ([]float64, error) {
	if nperseg > len(x) {
		nperseg = len(x)
	}

	if nperseg < 2 {
		nperseg = 2
	}

	fftSize := nextPowerOf2(nperseg)

	plan, err := algofft.NewPlan64(fftSize)
	if err != nil {
		return nil, fmt.Errorf("compare: create FFT plan: %w", err)
	}

	window := make([]float64, nperseg)

	var windowPower float64

	for i := range window {
		// Periodic Hann.
		window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(nperseg)))
		windowPower += window[i] * window[i]
	}

	binCount := fftSize/2 + 1
	psd := make([]float64, binCount)
	in := make([]complex128, fftSize)
	out := make([]complex128, fftSize)

	step := nperseg / 2
	if step < 1 {
		step = 1
	}

	segments := 0

	for start := 0; start+nperseg <= len(x); start += step {
		seg := x[start : start+nperseg]

		var mean float64
		for _, v := range seg {
			mean += v
		}

		mean /= float64(nperseg)

		for i := range in {
			in[i] = 0
		}

		for i, v := range seg {
			in[i] = complex((v-mean)*window[i], 0)
		}

		if err := plan.Forward(out, in); err != nil {
			return nil, fmt.Errorf("compare: forward FFT: %w", err)
		}

		for k := 0; k < binCount; k++ {
			re, im := real(out[k]), imag(out[k])
			psd[k] += re*re + im*im
		}

		segments++
	}

	if segments == 0 {
		return nil, fmt.Errorf("compare: signal too short for PSD estimate")
	}

	scale := 1 / (sampleRate * windowPower * float64(segments))

	for k := range psd {
		psd[k] *= scale
		if k != 0 && k != binCount-1 {
			psd[k] *= 2
		}
	}

	return psd, nil
}

// nextPowerOf2 returns the smallest power of two >= n.
func nextPowerOf2(n int) int {
	p := 1
	for p < n {
		p *= 2
	}

	return p
}
