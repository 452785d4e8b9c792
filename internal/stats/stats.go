// Package stats provides the pure statistical kernel used by the
// aggregation strategies and the confidence model.
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// Variance calculates the population variance of a slice of float64 values
func Variance(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	// gonum computes the unbiased sample variance; the confidence model
	// works on the population form.
	n := float64(len(data))
	return stat.Variance(data, nil) * (n - 1) / n
}

// StdDev calculates the population standard deviation
func StdDev(data []float64) float64 {
	return math.Sqrt(Variance(data))
}

// Median returns the middle value of the sorted data, or the mean of
// the two central values when the count is even.
func Median(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// WeightedSum returns sum(values[i] * weights[i]) and sum(weights[i]).
// Slices must have equal length.
func WeightedSum(values, weights []float64) (weightedTotal, weightTotal float64) {
	for i, v := range values {
		weightedTotal += v * weights[i]
		weightTotal += weights[i]
	}
	return weightedTotal, weightTotal
}

// Spread returns max(data) - min(data), 0 for fewer than two values.
func Spread(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	min, max := data[0], data[0]
	for _, v := range data[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return max - min
}

// SpreadPercent returns the spread as a percentage of the mean.
// A zero mean yields 0 rather than an undefined ratio.
func SpreadPercent(data []float64) float64 {
	mean := Mean(data)
	if mean == 0 {
		return 0
	}
	return 100 * Spread(data) / mean
}

// RoundHalfAwayFromZero rounds v to the given number of decimal places,
// with ties rounded away from zero (math.Round semantics).
func RoundHalfAwayFromZero(v float64, decimals int) float64 {
	shift := math.Pow(10, float64(decimals))
	return math.Round(v*shift) / shift
}
