// Package stats reduces latency samples to summary statistics.
package stats

import (
	"errors"
	"sort"
)

// ErrNoData indicates an aggregation over zero samples. Callers must
// report the no-data condition instead of a fabricated zero.
var ErrNoData = errors.New("stats: no samples")

// LatencySummary holds nearest-rank percentiles over a sample set,
// in the same unit as the input (milliseconds by convention).
type LatencySummary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P99   float64 `json:"p99"`
}

// Summarize computes nearest-rank percentiles over samples.
// Percentiles index directly into the sorted slice (sorted[n/2],
// sorted[n*0.9], sorted[n*0.99]); p99 falls back to the maximum when
// n <= 100 so small samples never index past the end. This is not an
// interpolated percentile and is kept that way so reported numbers
// stay comparable across runs.
func Summarize(samples []float64) (*LatencySummary, error) {
	if len(samples) == 0 {
		return nil, ErrNoData
	}

	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	n := len(sorted)
	s := &LatencySummary{
		Count: n,
		Min:   sorted[0],
		Max:   sorted[n-1],
		P50:   sorted[n/2],
		P90:   sorted[int(float64(n)*0.9)],
	}

	if n > 100 {
		s.P99 = sorted[int(float64(n)*0.99)]
	} else {
		s.P99 = sorted[n-1]
	}

	return s, nil
}
