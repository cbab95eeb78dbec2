package holder

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// clamp bounds v to [lo, hi]. NaN collapses to lo.
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// sampleStdDev is the unbiased standard deviation, 0 for fewer than two points.
func sampleStdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	return stat.StdDev(xs, nil)
}

// populationStdDev is the biased (population) standard deviation, 0 for an empty slice.
func populationStdDev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.PopStdDev(xs, nil)
}

// lastN returns the trailing n elements of xs (all of xs when shorter).
func lastN[T any](xs []T, n int) []T {
	if len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}

// appendBounded appends v and drops the oldest entries beyond limit.
func appendBounded[T any](xs []T, v T, limit int) []T {
	xs = append(xs, v)
	if len(xs) > limit {
		// copy down so the backing array does not grow without bound
		n := copy(xs, xs[len(xs)-limit:])
		xs = xs[:n]
	}
	return xs
}
