package features

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// RollingMean returns the trailing mean over up to window points ending at
// each position. Partial windows at the start use the points available.
func RollingMean(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		out[i] = stat.Mean(trailing(values, i, window), nil)
	}
	return out
}

// RollingStd returns the trailing sample standard deviation (n-1 divisor)
// over up to window points. A single-point window has no spread estimate
// and yields NaN.
func RollingStd(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		w := trailing(values, i, window)
		if len(w) < 2 {
			out[i] = math.NaN()
			continue
		}
		out[i] = stat.StdDev(w, nil)
	}
	return out
}

// Lag shifts values k positions later; the first k positions are NaN.
func Lag(values []float64, k int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		if i < k {
			out[i] = math.NaN()
			continue
		}
		out[i] = values[i-k]
	}
	return out
}

// trailing returns values[i-window+1 : i+1], clipped at the series start.
func trailing(values []float64, i, window int) []float64 {
	start := i - window + 1
	if start < 0 {
		start = 0
	}
	return values[start : i+1]
}
