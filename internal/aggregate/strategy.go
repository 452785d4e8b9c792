package aggregate

import (
	"sort"

	"github.com/lumenrwa/pricefeed/internal/domain"
	"github.com/lumenrwa/pricefeed/internal/stats"
)

// Strategy is the common contract for the aggregation laws. Input is a
// non-empty list of canonical quotes sharing one symbol; output is the
// consensus price. Weights are resolved per source; strategies that
// ignore weights (median) accept and discard the map.
type Strategy interface {
	Aggregate(quotes []domain.CanonicalQuote, weightsBySource map[domain.Source]float64) (float64, error)
	Method() domain.Method
}

// NewStrategy returns the strategy for a method. Trimmed mean is bound
// to the given fraction; other methods ignore it.
func NewStrategy(method domain.Method, trimFraction float64) (Strategy, error) {
	switch method {
	case domain.MethodWeightedMean:
		return WeightedMean{}, nil
	case domain.MethodMedian:
		return Median{}, nil
	case domain.MethodTrimmedMean:
		return NewTrimmedMean(trimFraction)
	default:
		return nil, ErrUnknownMethod
	}
}

// effectiveWeight resolves a quote's weight: explicit per-quote weight
// first, then the source map, then 1.0.
func effectiveWeight(q domain.CanonicalQuote, weightsBySource map[domain.Source]float64) float64 {
	if q.Weight > 0 {
		return q.Weight
	}
	if w, ok := weightsBySource[q.Source]; ok {
		return w
	}
	return 1.0
}

// WeightedMean computes sum(price*weight)/sum(weight).
type WeightedMean struct{}

func (WeightedMean) Method() domain.Method { return domain.MethodWeightedMean }

func (WeightedMean) Aggregate(quotes []domain.CanonicalQuote, weightsBySource map[domain.Source]float64) (float64, error) {
	if len(quotes) == 0 {
		return 0, ErrEmptyInput
	}

	prices := make([]float64, len(quotes))
	weights := make([]float64, len(quotes))
	for i, q := range quotes {
		prices[i] = q.Price
		weights[i] = effectiveWeight(q, weightsBySource)
	}

	weightedTotal, weightTotal := stats.WeightedSum(prices, weights)
	if weightTotal == 0 {
		return 0, ErrZeroTotalWeight
	}
	return weightedTotal / weightTotal, nil
}

// Median returns the middle price; weights are ignored by contract.
// Stable against a single outlier regardless of its magnitude.
type Median struct{}

func (Median) Method() domain.Method { return domain.MethodMedian }

func (Median) Aggregate(quotes []domain.CanonicalQuote, _ map[domain.Source]float64) (float64, error) {
	if len(quotes) == 0 {
		return 0, ErrEmptyInput
	}
	prices := make([]float64, len(quotes))
	for i, q := range quotes {
		prices[i] = q.Price
	}
	return stats.Median(prices), nil
}

// TrimmedMean drops floor(n*fraction) quotes from each end of the
// price-sorted set, then applies the weighted mean to the remainder.
type TrimmedMean struct {
	fraction float64
}

// NewTrimmedMean validates the trim fraction at construction; values
// outside [0, 0.5) are rejected.
func NewTrimmedMean(fraction float64) (TrimmedMean, error) {
	if fraction < 0 || fraction >= 0.5 {
		return TrimmedMean{}, ErrInvalidTrimFraction
	}
	return TrimmedMean{fraction: fraction}, nil
}

func (t TrimmedMean) Method() domain.Method { return domain.MethodTrimmedMean }

// Fraction returns the configured trim fraction.
func (t TrimmedMean) Fraction() float64 { return t.fraction }

func (t TrimmedMean) Aggregate(quotes []domain.CanonicalQuote, weightsBySource map[domain.Source]float64) (float64, error) {
	if len(quotes) == 0 {
		return 0, ErrEmptyInput
	}

	// Too few quotes to trim meaningfully; fall back to the full-set
	// weighted mean.
	if len(quotes) < 3 {
		return WeightedMean{}.Aggregate(quotes, weightsBySource)
	}

	sorted := make([]domain.CanonicalQuote, len(quotes))
	copy(sorted, quotes)
	// Stable sort keeps equal prices position-stable.
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Price < sorted[j].Price
	})

	k := int(float64(len(sorted)) * t.fraction)
	trimmed := sorted[k : len(sorted)-k]

	return WeightedMean{}.Aggregate(trimmed, weightsBySource)
}
