package sweep

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Stats summarizes one metric across sweep cells.
type Stats struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
}

// computeStats returns nil when no values were collected, so absent
// metrics serialize as null rather than zeroed figures.
func computeStats(values []float64) *Stats {
	if len(values) == 0 {
		return nil
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	n := len(sorted)

	median := sorted[n/2]
	if n%2 == 0 {
		median = 0.5 * (sorted[n/2-1] + sorted[n/2])
	}

	return &Stats{
		Count:  n,
		Min:    sorted[0],
		Max:    sorted[n-1],
		Mean:   stat.Mean(sorted, nil),
		Median: median,
		P95:    stat.Quantile(0.95, stat.LinInterp, sorted, nil),
	}
}
