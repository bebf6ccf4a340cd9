// Package stability scans audio output for numerical health: non-finite
// samples, denormal magnitudes, and DC bias, checked against fixed budgets.
package stability

import (
	"fmt"
	"math"
)

// denormalThreshold is just below float32 FLT_MIN; nonzero magnitudes under
// it indicate denormal processing in the effect under test.
const denormalThreshold = 1.175e-38

// Budget holds the pass/fail limits for a stability check.
type Budget struct {
	MaxNaN              int
	MaxInf              int
	MaxDenormalPercent  float64
	DCOffsetThresholdDB float64
}

// DefaultBudget returns the CI budget: zero tolerance for non-finite
// samples, up to 0.01% denormals (tail samples), DC below -60 dB.
func DefaultBudget() Budget {
	return Budget{
		MaxNaN:              0,
		MaxInf:              0,
		MaxDenormalPercent:  0.01,
		DCOffsetThresholdDB: -60.0,
	}
}

// Stats holds the raw counts and levels gathered in a single pass.
type Stats struct {
	TotalSamples    int     `json:"total_samples"`
	NaNCount        int     `json:"nan_count"`
	InfCount        int     `json:"inf_count"`
	DenormalCount   int     `json:"denormal_count"`
	DenormalPercent float64 `json:"denormal_percent"`
	DCOffsetDB      float64 `json:"dc_offset_db"`
	RMSDB           float64 `json:"rms_db"`
	PeakDB          float64 `json:"peak_db"`
}

// Kind identifies a stability violation category.
type Kind string

const (
	KindNaN      Kind = "nan"
	KindInf      Kind = "inf"
	KindDenormal Kind = "denormal"
	KindDCOffset Kind = "dc_offset"
)

// Violation describes one failed check together with remediation guidance.
type Violation struct {
	Kind     Kind     `json:"kind"`
	Message  string   `json:"message"`
	Guidance []string `json:"guidance"`
}

// guidance maps each violation kind to remediation hints surfaced in CI logs.
var guidance = map[Kind][]string{
	KindNaN: {
		"NaN indicates division by zero or invalid math operations",
		"check filter coefficient calculations",
		"verify parameter range validation",
	},
	KindInf: {
		"Inf indicates overflow or division by a very small number",
		"add safety clamps to gain stages",
		"check feedback loop stability",
	},
	KindDenormal: {
		"denormals degrade CPU performance significantly",
		"flush denormals to zero in the processing loop",
		"add a DC blocker if needed",
	},
	KindDCOffset: {
		"DC offset can cause clicks and pops",
		"add a high-pass filter (1-5 Hz cutoff)",
		"check for uninitialized state variables",
	},
}

// Scan gathers stability statistics from raw samples in a single pass.
// Non-finite samples are excluded from the DC/RMS/peak aggregates so one
// NaN does not poison the contextual levels.
func Scan(samples []float64) Stats {
	s := Stats{
		TotalSamples: len(samples),
		DCOffsetDB:   silenceDB,
		RMSDB:        silenceDB,
		PeakDB:       silenceDB,
	}

	if len(samples) == 0 {
		return s
	}

	var (
		sum    float64
		sumSq  float64
		peak   float64
		finite int
	)

	for _, v := range samples {
		switch {
		case math.IsNaN(v):
			s.NaNCount++
			continue
		case math.IsInf(v, 0):
			s.InfCount++
			continue
		}

		a := math.Abs(v)
		if a > 0 && a < denormalThreshold {
			s.DenormalCount++
		}

		sum += v
		sumSq += v * v

		if a > peak {
			peak = a
		}

		finite++
	}

	s.DenormalPercent = float64(s.DenormalCount) / float64(s.TotalSamples) * 100

	if finite > 0 {
		nf := float64(finite)
		s.DCOffsetDB = ampTodB(sum / nf)
		s.RMSDB = ampTodB(math.Sqrt(sumSq / nf))
		s.PeakDB = ampTodB(peak)
	}

	return s
}

// Check evaluates all four budget checks independently and returns the
// overall verdict with every violation enumerated, never just the first.
func (b Budget) Check(s Stats) (bool, []Violation) {
	var violations []Violation

	if s.NaNCount > b.MaxNaN {
		violations = append(violations, Violation{
			Kind:     KindNaN,
			Message:  fmt.Sprintf("NaN detected: %d samples contain NaN", s.NaNCount),
			Guidance: guidance[KindNaN],
		})
	}

	if s.InfCount > b.MaxInf {
		violations = append(violations, Violation{
			Kind:     KindInf,
			Message:  fmt.Sprintf("Inf detected: %d samples contain Inf", s.InfCount),
			Guidance: guidance[KindInf],
		})
	}

	if s.DenormalPercent > b.MaxDenormalPercent {
		violations = append(violations, Violation{
			Kind: KindDenormal,
			Message: fmt.Sprintf("excessive denormals: %.3f%% exceeds threshold %.3f%%",
				s.DenormalPercent, b.MaxDenormalPercent),
			Guidance: guidance[KindDenormal],
		})
	}

	if s.DCOffsetDB > b.DCOffsetThresholdDB {
		violations = append(violations, Violation{
			Kind: KindDCOffset,
			Message: fmt.Sprintf("DC offset too high: %.1f dB exceeds threshold %.1f dB",
				s.DCOffsetDB, b.DCOffsetThresholdDB),
			Guidance: guidance[KindDCOffset],
		})
	}

	return len(violations) == 0, violations
}

// Result bundles the stats and verdict of one check.
type Result struct {
	Stats      Stats       `json:"stats"`
	Pass       bool        `json:"pass"`
	Violations []Violation `json:"violations,omitempty"`
}

// Analyze runs Scan and Check with the given budget.
func Analyze(samples []float64, b Budget) Result {
	stats := Scan(samples)
	pass, violations := b.Check(stats)

	return Result{Stats: stats, Pass: pass, Violations: violations}
}

// silenceDB is the dB level reported for zero amplitude. Keeping levels
// finite lets the stats round-trip through JSON.
const silenceDB = -200.0

// ampTodB converts an amplitude value to decibels, regularized so silence
// maps to the finite silenceDB floor.
func ampTodB(value float64) float64 {
	db := 20 * math.Log10(math.Abs(value)+1e-10)
	if db < silenceDB {
		return silenceDB
	}

	return db
}
