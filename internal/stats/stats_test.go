package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMean(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
	assert.Equal(t, 100.0, Mean([]float64{100, 102, 98}))
	assert.Equal(t, 5.0, Mean([]float64{5}))
}

func TestMedian(t *testing.T) {
	tests := []struct {
		name     string
		input    []float64
		expected float64
	}{
		{name: "empty", input: nil, expected: 0},
		{name: "single", input: []float64{7}, expected: 7},
		{name: "odd count", input: []float64{3, 1, 2}, expected: 2},
		{name: "even count", input: []float64{4, 1, 3, 2}, expected: 2.5},
		{name: "outlier resistant", input: []float64{100, 101, 99, 1000}, expected: 100.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Median(tt.input))
		})
	}
}

func TestMedianDoesNotMutateInput(t *testing.T) {
	input := []float64{3, 1, 2}
	Median(input)
	assert.Equal(t, []float64{3, 1, 2}, input)
}

func TestVarianceAndStdDev(t *testing.T) {
	// Population variance of {100, 102, 98} is 8/3.
	assert.InDelta(t, 8.0/3.0, Variance([]float64{100, 102, 98}), 1e-12)
	assert.InDelta(t, 1.632993, StdDev([]float64{100, 102, 98}), 1e-5)

	assert.Equal(t, 0.0, Variance([]float64{42}))
	assert.Equal(t, 0.0, Variance(nil))
}

func TestWeightedSum(t *testing.T) {
	weighted, total := WeightedSum([]float64{100, 110}, []float64{3, 1})
	assert.Equal(t, 410.0, weighted)
	assert.Equal(t, 4.0, total)
}

func TestSpreadPercent(t *testing.T) {
	assert.InDelta(t, 4.0, SpreadPercent([]float64{100, 102, 98}), 1e-12)
	assert.Equal(t, 0.0, SpreadPercent([]float64{5}))

	// Zero mean yields zero rather than a division blowup.
	assert.Equal(t, 0.0, SpreadPercent([]float64{-1, 1}))
}

func TestRoundHalfAwayFromZero(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		decimals int
		expected float64
	}{
		{name: "no change", value: 100.1234, decimals: 4, expected: 100.1234},
		{name: "rounds down", value: 100.12344, decimals: 4, expected: 100.1234},
		{name: "half away from zero", value: 2.5, decimals: 0, expected: 3},
		{name: "negative half away", value: -2.5, decimals: 0, expected: -3},
		{name: "integer", value: 3.0, decimals: 4, expected: 3.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, RoundHalfAwayFromZero(tt.value, tt.decimals), 1e-12)
		})
	}
}
