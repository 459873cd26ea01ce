package utils

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Mean returns the arithmetic mean, 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// PopStdDev returns the population standard deviation, 0 for fewer than two values.
func PopStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return stat.PopStdDev(values, nil)
}

// Sorted returns a sorted copy.
func Sorted(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	sort.Float64s(out)
	return out
}

// Quantile returns the sample p-quantile interpolated between closest ranks
// (h = (n-1)p), 0 for an empty slice.
func Quantile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return sortedQuantile(Sorted(values), p)
}

func sortedQuantile(sorted []float64, p float64) float64 {
	p = math.Max(0, math.Min(1, p))
	h := float64(len(sorted)-1) * p
	lo := int(math.Floor(h))
	hi := int(math.Ceil(h))
	return sorted[lo] + (h-float64(lo))*(sorted[hi]-sorted[lo])
}

// Median returns the 0.5 quantile.
func Median(values []float64) float64 {
	return Quantile(values, 0.5)
}

// IQRBounds returns the Tukey fences q1-k*iqr and q3+k*iqr.
func IQRBounds(values []float64, k float64) (lower, upper float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sorted := Sorted(values)
	q1 := sortedQuantile(sorted, 0.25)
	q3 := sortedQuantile(sorted, 0.75)
	iqr := q3 - q1
	return q1 - k*iqr, q3 + k*iqr
}

// Tail returns at most the last n values.
func Tail(values []float64, n int) []float64 {
	if n >= len(values) {
		return values
	}
	if n <= 0 {
		return nil
	}
	return values[len(values)-n:]
}

// CoefficientOfVariation returns std/mean, 0 when the mean is not positive.
func CoefficientOfVariation(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean, std := stat.PopMeanStdDev(values, nil)
	if mean <= 0 {
		return 0
	}
	return std / mean
}

// Slope returns the least squares slope of values against their index.
func Slope(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	xs := make([]float64, len(values))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, beta := stat.LinearRegression(xs, values, nil, false)
	if IsFinite(beta) {
		return beta
	}
	return 0
}

// Sum adds the values.
func Sum(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return floats.Sum(values)
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// SafeRatio divides a by b, returning fallback when b is zero or the result is not finite.
func SafeRatio(a, b, fallback float64) float64 {
	if b == 0 {
		return fallback
	}
	r := a / b
	if !IsFinite(r) {
		return fallback
	}
	return r
}
