package spatial

import (
	"fmt"
	"math"

	algofft "github.com/MeKo-Christian/algo-fft"
	vecmath "github.com/cwbudde/algo-vecmath"

	"github.com/cwbudde/algo-reverb-qa/bands"
)

// gccPHAT estimates the delay between left and right in samples using the
// phase transform: the cross-power spectrum is whitened to unit magnitude
// before the inverse transform, sharpening the correlation peak. The
// search is restricted to ±maxLag samples.
func gccPHAT(left, right []float64, maxLag int) (int, error) {
	fftSize := nextPowerOf2(len(left) + len(right))

	plan, err := algofft.NewPlan64(fftSize)
	if err != nil {
		return 0, fmt.Errorf("spatial: create FFT plan: %w", err)
	}

	lPadded := make([]complex128, fftSize)
	for i, v := range left {
		lPadded[i] = complex(v, 0)
	}

	rPadded := make([]complex128, fftSize)
	for i, v := range right {
		rPadded[i] = complex(v, 0)
	}

	lFreq := make([]complex128, fftSize)
	rFreq := make([]complex128, fftSize)

	if err := plan.Forward(lFreq, lPadded); err != nil {
		return 0, fmt.Errorf("spatial: forward FFT: %w", err)
	}

	if err := plan.Forward(rFreq, rPadded); err != nil {
		return 0, fmt.Errorf("spatial: forward FFT: %w", err)
	}

	cross := make([]complex128, fftSize)
	for i := range cross {
		rConj := complex(real(rFreq[i]), -imag(rFreq[i]))
		c := lFreq[i] * rConj

		mag := math.Hypot(real(c), imag(c))
		if mag < eps {
			mag = eps
		}

		cross[i] = complex(real(c)/mag, imag(c)/mag)
	}

	corr := make([]complex128, fftSize)
	if err := plan.Inverse(corr, cross); err != nil {
		return 0, fmt.Errorf("spatial: inverse FFT: %w", err)
	}

	if maxLag > fftSize/2 {
		maxLag = fftSize / 2
	}

	// Circular correlation: positive lags sit at the front, negative lags
	// wrap to the tail. Scan ±maxLag for the strongest peak.
	bestShift := 0
	bestVal := math.Inf(-1)

	for shift := -maxLag; shift <= maxLag; shift++ {
		idx := shift
		if idx < 0 {
			idx += fftSize
		}

		if v := math.Abs(real(corr[idx])); v > bestVal {
			bestVal = v
			bestShift = shift
		}
	}

	return bestShift, nil
}

// iaccCues holds the normalized cross-correlation summary.
type iaccCues struct {
	signedPeak float64
	peakLag    int
	zeroLag    float64
}

// crossCorrelationCues computes the mean-removed normalized cross
// correlation of left and right and summarizes it within ±maxLag: the
// strongest (by magnitude) signed peak, its lag, and the zero-lag value.
func crossCorrelationCues(left, right []float64, maxLag int) (iaccCues, error) {
	l := removeMean(left)
	r := removeMean(right)

	corr, err := correlateFFT(l, r)
	if err != nil {
		return iaccCues{}, err
	}

	denom := l2Norm(l)*l2Norm(r) + eps
	center := len(r) - 1

	lo := center - maxLag
	if lo < 0 {
		lo = 0
	}

	hi := center + maxLag
	if hi > len(corr)-1 {
		hi = len(corr) - 1
	}

	cues := iaccCues{zeroLag: corr[center] / denom}

	bestVal := math.Inf(-1)
	for i := lo; i <= hi; i++ {
		v := corr[i] / denom
		if math.Abs(v) > bestVal {
			bestVal = math.Abs(v)
			cues.signedPeak = v
			cues.peakLag = i - center
		}
	}

	return cues, nil
}

// correlateFFT computes the full linear cross-correlation of a and b via
// the frequency domain. Output index k corresponds to lag k - (len(b)-1).
func correlateFFT(a, b []float64) ([]float64, error) {
	n := len(a)
	m := len(b)
	fftSize := nextPowerOf2(n + m - 1)

	plan, err := algofft.NewPlan64(fftSize)
	if err != nil {
		return nil, fmt.Errorf("spatial: create FFT plan: %w", err)
	}

	aPadded := make([]complex128, fftSize)
	for i := 0; i < n; i++ {
		aPadded[i] = complex(a[i], 0)
	}

	bPadded := make([]complex128, fftSize)
	for i := 0; i < m; i++ {
		bPadded[i] = complex(b[i], 0)
	}

	aFreq := make([]complex128, fftSize)
	bFreq := make([]complex128, fftSize)

	if err := plan.Forward(aFreq, aPadded); err != nil {
		return nil, fmt.Errorf("spatial: forward FFT: %w", err)
	}

	if err := plan.Forward(bFreq, bPadded); err != nil {
		return nil, fmt.Errorf("spatial: forward FFT: %w", err)
	}

	crossFreq := make([]complex128, fftSize)
	for i := range crossFreq {
		bConj := complex(real(bFreq[i]), -imag(bFreq[i]))
		crossFreq[i] = aFreq[i] * bConj
	}

	crossTime := make([]complex128, fftSize)
	if err := plan.Inverse(crossTime, crossFreq); err != nil {
		return nil, fmt.Errorf("spatial: inverse FFT: %w", err)
	}

	// Rearrange circular correlation into linear: positive lags at the
	// front of the transform, negative lags wrapped to the tail.
	result := make([]float64, n+m-1)
	for i := 0; i < n; i++ {
		result[m-1+i] = real(crossTime[i])
	}

	for i := 0; i < m-1; i++ {
		result[i] = real(crossTime[fftSize-m+1+i])
	}

	return result, nil
}

// bandLevelDifference computes the per-octave-band level difference in dB
// from the spectral energy of each channel.
func bandLevelDifference(left, right []float64, sampleRate float64) (map[string]float64, error) {
	lPower, err := powerSpectrum(left)
	if err != nil {
		return nil, err
	}

	rPower, err := powerSpectrum(right)
	if err != nil {
		return nil, err
	}

	fftSize := 2 * (len(lPower) - 1)
	out := make(map[string]float64, len(bands.Octave))

	for _, band := range bands.Octave {
		var el, er float64

		count := 0

		for i := range lPower {
			f := float64(i) * sampleRate / float64(fftSize)
			if !band.Contains(f) {
				continue
			}

			el += lPower[i]
			er += rPower[i]
			count++
		}

		if count == 0 {
			continue
		}

		out[band.Key] = 10 * math.Log10((el+eps)/(er+eps))
	}

	return out, nil
}

// powerSpectrum returns the one-sided power spectrum of x.
func powerSpectrum(x []float64) ([]float64, error) {
	fftSize := nextPowerOf2(len(x))

	plan, err := algofft.NewPlan64(fftSize)
	if err != nil {
		return nil, fmt.Errorf("spatial: create FFT plan: %w", err)
	}

	in := make([]complex128, fftSize)
	for i, v := range x {
		in[i] = complex(v, 0)
	}

	out := make([]complex128, fftSize)
	if err := plan.Forward(out, in); err != nil {
		return nil, fmt.Errorf("spatial: forward FFT: %w", err)
	}

	binCount := fftSize/2 + 1
	re := make([]float64, binCount)
	im := make([]float64, binCount)

	for i := 0; i < binCount; i++ {
		re[i] = real(out[i])
		im[i] = imag(out[i])
	}

	power := make([]float64, binCount)
	vecmath.Power(power, re, im)

	return power, nil
}

func removeMean(x []float64) []float64 {
	var sum float64
	for _, v := range x {
		sum += v
	}

	mean := sum / float64(len(x))

	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v - mean
	}

	return out
}

func l2Norm(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v * v
	}

	return math.Sqrt(sum)
}

// nextPowerOf2 returns the smallest power of two >= n.
func nextPowerOf2(n int) int {
	p := 1
	for p < n {
		p *= 2
	}

	return p
}
