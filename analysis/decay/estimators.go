package decay

import (
	"errors"
	"fmt"
	"math"
)

// Errors returned by decay estimation.
var (
	ErrEmptySignal       = errors.New("decay: signal is empty")
	ErrInvalidSampleRate = errors.New("decay: sample rate must be positive")
	ErrNoEstimate        = errors.New("decay: could not estimate decay time")
)

// minEnergy is the squared-amplitude floor below which a recording is
// treated as silent rather than decaying.
const minEnergy = 1e-10

// Result is one estimator's tagged outcome.
type Result struct {
	RT60         float64 // seconds
	Method       string
	Extrapolated bool   // projected from a shallower threshold, not measured
	Note         string // non-fatal caveat recorded in metrics output
}

// Estimator is a single decay-time estimation strategy. Estimate returns
// ErrNoEstimate (possibly wrapped) when the strategy cannot produce a
// positive, finite RT60 from the given signal.
type Estimator interface {
	Name() string
	Estimate(ir []float64, sampleRate float64) (Result, error)
}

// schroederDB computes the Schroeder backward integration of the squared
// signal, normalized to 0 dB at its peak.
//
//	S(t) = 10*log10( sum_{i>=t} x[i]^2 / sum_i x[i]^2 )
func schroederDB(ir []float64) []float64 {
	n := len(ir)
	curve := make([]float64, n)

	var cumSum float64
	for i := n - 1; i >= 0; i-- {
		cumSum += ir[i] * ir[i]
		curve[i] = cumSum
	}

	total := curve[0]
	if total <= 0 {
		for i := range curve {
			curve[i] = -200
		}

		return curve
	}

	for i := range curve {
		ratio := curve[i] / total
		if ratio <= 0 {
			curve[i] = -200 // floor
		} else {
			curve[i] = 10 * math.Log10(ratio)
		}
	}

	return curve
}

// RegressionEstimator fits a line to the Schroeder curve between two dB
// anchors and extrapolates the slope to -60 dB. It prefers the T30 range
// (-5 to -35 dB) and falls back to T20 (-5 to -25 dB) when the recording
// does not reach -35 dB.
type RegressionEstimator struct{}

// Name implements [Estimator].
func (RegressionEstimator) Name() string { return "schroeder_regression" }

// Estimate implements [Estimator].
func (e RegressionEstimator) Estimate(ir []float64, sampleRate float64) (Result, error) {
	curve := schroederDB(ir)

	if rt := regressRT(curve, sampleRate, -5, -35); rt > 0 {
		return Result{RT60: rt, Method: "schroeder_t30"}, nil
	}

	if rt := regressRT(curve, sampleRate, -5, -25); rt > 0 {
		return Result{
			RT60:   rt,
			Method: "schroeder_t20",
			Note:   "decay range below 35 dB; RT60 extrapolated from T20 slope",
		}, nil
	}

	return Result{}, fmt.Errorf("%w: insufficient decay for regression", ErrNoEstimate)
}

// regressRT performs linear regression on curve between startDB and endDB
// and extrapolates the slope to -60 dB. Returns 0 when no valid fit exists.
func regressRT(curve []float64, sampleRate, startDB, endDB float64) float64 {
	startIdx, endIdx := -1, -1

	for i, v := range curve {
		if startIdx < 0 && v <= startDB {
			startIdx = i
		}

		if startIdx >= 0 && v <= endDB {
			endIdx = i
			break
		}
	}

	if startIdx < 0 || endIdx <= startIdx {
		return 0
	}

	n := endIdx - startIdx + 1
	if n < 2 {
		return 0
	}

	var sumX, sumY, sumXX, sumXY float64

	for i := startIdx; i <= endIdx; i++ {
		x := float64(i - startIdx)
		y := curve[i]
		sumX += x
		sumY += y
		sumXX += x * x
		sumXY += x * y
	}

	nf := float64(n)

	denom := nf*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}

	slope := (nf*sumXY - sumX*sumY) / denom
	if slope >= 0 {
		return 0 // no decay
	}

	rt := -60.0 / (slope * sampleRate)
	if rt < 0 {
		return 0
	}

	return rt
}

// CrossingEstimator finds the first sample where the Schroeder curve
// crosses DecayDB and scales the elapsed time to a -60 dB projection.
// With DecayDB = -60 the result is a direct measurement; shallower
// thresholds are tagged as extrapolations.
type CrossingEstimator struct {
	DecayDB float64
}

// Name implements [Estimator].
func (e CrossingEstimator) Name() string {
	if e.DecayDB <= -60 {
		return "schroeder_integration"
	}

	return fmt.Sprintf("schroeder_rt%d_extrapolated", int(-e.DecayDB))
}

// Estimate implements [Estimator].
func (e CrossingEstimator) Estimate(ir []float64, sampleRate float64) (Result, error) {
	var maxEnergy float64
	for _, v := range ir {
		if sq := v * v; sq > maxEnergy {
			maxEnergy = sq
		}
	}

	if maxEnergy < minEnergy {
		return Result{}, fmt.Errorf("%w: signal has insufficient energy", ErrNoEstimate)
	}

	curve := schroederDB(ir)

	crossing := -1
	for i, v := range curve {
		if v <= e.DecayDB {
			crossing = i
			break
		}
	}

	if crossing < 0 {
		return Result{}, fmt.Errorf("%w: signal does not decay %.0f dB within the recording",
			ErrNoEstimate, -e.DecayDB)
	}

	decayTime := float64(crossing) / sampleRate
	rt60 := decayTime * (60.0 / math.Abs(e.DecayDB))

	res := Result{RT60: rt60, Method: e.Name()}

	if e.DecayDB > -60 {
		res.Extrapolated = true
		res.Note = fmt.Sprintf("RT60 projected from %.0f dB crossing; not a direct measurement",
			-e.DecayDB)
	}

	return res, nil
}

// defaultLadder returns the documented strategy order.
func defaultLadder() []Estimator {
	return []Estimator{
		RegressionEstimator{},
		CrossingEstimator{DecayDB: -60},
		CrossingEstimator{DecayDB: -30},
	}
}
