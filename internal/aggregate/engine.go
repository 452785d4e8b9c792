package aggregate

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumenrwa/pricefeed/internal/cache"
	"github.com/lumenrwa/pricefeed/internal/domain"
	"github.com/lumenrwa/pricefeed/internal/stats"
)

// Default option values applied when the caller leaves fields zero.
const (
	DefaultMinSources   = 3
	DefaultWindowMillis = 30_000
	DefaultTrimFraction = 0.20
)

// Options configures a single aggregation call.
type Options struct {
	MinSources   int
	WindowMillis int64
	Method       domain.Method

	// TrimFraction is a pointer so an explicit zero-trim is
	// distinguishable from unset; nil takes the default.
	TrimFraction          *float64
	SourceWeightOverrides map[domain.Source]float64
}

// withDefaults fills unset fields. MinSources is deliberately not
// defaulted when negative so invalid input still fails validation.
func (o Options) withDefaults() Options {
	if o.MinSources == 0 {
		o.MinSources = DefaultMinSources
	}
	if o.WindowMillis == 0 {
		o.WindowMillis = DefaultWindowMillis
	}
	if o.Method == "" {
		o.Method = domain.MethodWeightedMean
	}
	if o.TrimFraction == nil {
		fraction := DefaultTrimFraction
		o.TrimFraction = &fraction
	}
	return o
}

// Engine fuses a symbol's canonical quotes into a consensus price. It
// is stateless apart from writing the last-value cache, so one engine
// serves concurrent callers.
type Engine struct {
	weights *WeightRegistry
	cache   *cache.LastValue
	now     func() time.Time
	log     zerolog.Logger
}

// NewEngine creates an engine. The cache may be nil when the caller
// does not want last-value tracking.
func NewEngine(weights *WeightRegistry, lastValue *cache.LastValue, log zerolog.Logger) *Engine {
	return &Engine{
		weights: weights,
		cache:   lastValue,
		now:     time.Now,
		log:     log.With().Str("component", "aggregation_engine").Logger(),
	}
}

// SetClock overrides the engine clock. Tests use this to pin the
// aggregation window.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Aggregate computes a consensus price for symbol over quotes.
func (e *Engine) Aggregate(symbol string, quotes []domain.CanonicalQuote, opts Options) (domain.ConsensusPrice, error) {
	opts = opts.withDefaults()

	if symbol == "" {
		return domain.ConsensusPrice{}, ErrEmptySymbol
	}
	if len(quotes) == 0 {
		return domain.ConsensusPrice{}, ErrEmptyInput
	}
	if opts.MinSources < 1 {
		return domain.ConsensusPrice{}, ErrInvalidMinSources
	}
	if len(quotes) < opts.MinSources {
		return domain.ConsensusPrice{}, ErrInsufficientSources
	}
	for _, q := range quotes {
		if q.Symbol != symbol {
			return domain.ConsensusPrice{}, ErrSymbolMismatch
		}
		if math.IsNaN(q.Price) || math.IsInf(q.Price, 0) || q.Price <= 0 {
			return domain.ConsensusPrice{}, ErrInvalidPriceValue
		}
	}

	// The window is bounded above at now: a future-stamped quote from a
	// clock-skewed provider would otherwise push WindowEnd past
	// ComputedAt.
	now := e.now().UnixMilli()
	cutoff := now - opts.WindowMillis
	recent := make([]domain.CanonicalQuote, 0, len(quotes))
	for _, q := range quotes {
		if q.OriginalTimestamp >= cutoff && q.OriginalTimestamp <= now {
			recent = append(recent, q)
		}
	}
	if len(recent) < opts.MinSources {
		return domain.ConsensusPrice{}, ErrInsufficientRecentSources
	}

	strategy, err := NewStrategy(opts.Method, *opts.TrimFraction)
	if err != nil {
		return domain.ConsensusPrice{}, err
	}

	weightsBySource := e.resolveWeights(recent, opts.SourceWeightOverrides)

	price, err := strategy.Aggregate(recent, weightsBySource)
	if err != nil {
		return domain.ConsensusPrice{}, err
	}

	prices := make([]float64, len(recent))
	windowStart, windowEnd := recent[0].OriginalTimestamp, recent[0].OriginalTimestamp
	sourceSet := make(map[string]struct{})
	for i, q := range recent {
		prices[i] = q.Price
		if q.OriginalTimestamp < windowStart {
			windowStart = q.OriginalTimestamp
		}
		if q.OriginalTimestamp > windowEnd {
			windowEnd = q.OriginalTimestamp
		}
		sourceSet[string(q.Source)] = struct{}{}
	}

	sources := make([]string, 0, len(sourceSet))
	for s := range sourceSet {
		sources = append(sources, s)
	}

	metrics := domain.ConsensusMetrics{
		StandardDeviation: stats.StdDev(prices),
		SpreadPercent:     stats.SpreadPercent(prices),
		SourceCount:       len(recent),
		Variance:          stats.Variance(prices),
	}

	consensus := domain.ConsensusPrice{
		Symbol:      symbol,
		Price:       price,
		Method:      opts.Method,
		Confidence:  Confidence(metrics.SourceCount, metrics.SpreadPercent, metrics.StandardDeviation),
		Metrics:     metrics,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		ComputedAt:  now,
		Sources:     sources,
	}

	if e.cache != nil {
		e.cache.Store(symbol, consensus, recent)
	}

	return consensus, nil
}

// AggregateMany aggregates each symbol's quote set. Symbols that fail
// are logged and omitted so the remaining symbols make progress.
func (e *Engine) AggregateMany(quotesBySymbol map[string][]domain.CanonicalQuote, opts Options) map[string]domain.ConsensusPrice {
	results := make(map[string]domain.ConsensusPrice, len(quotesBySymbol))
	for symbol, quotes := range quotesBySymbol {
		consensus, err := e.Aggregate(symbol, quotes, opts)
		if err != nil {
			e.log.Warn().
				Err(err).
				Str("symbol", symbol).
				Int("quotes", len(quotes)).
				Msg("Skipping symbol that failed aggregation")
			continue
		}
		results[symbol] = consensus
	}
	return results
}

// resolveWeights builds the per-source weight map for this call: the
// caller override wins, otherwise the registry (or 1.0 when no
// registry is configured).
func (e *Engine) resolveWeights(quotes []domain.CanonicalQuote, overrides map[domain.Source]float64) map[domain.Source]float64 {
	resolved := make(map[domain.Source]float64)
	for _, q := range quotes {
		if _, done := resolved[q.Source]; done {
			continue
		}
		if w, ok := overrides[q.Source]; ok {
			resolved[q.Source] = w
			continue
		}
		if e.weights != nil {
			resolved[q.Source] = e.weights.WeightOf(q.Source)
			continue
		}
		resolved[q.Source] = 1.0
	}
	return resolved
}

// Confidence scores a consensus in [0, 100]: concave in source count,
// monotonically decreasing in spread and dispersion.
func Confidence(sourceCount int, spreadPercent, stdDev float64) float64 {
	sourceScore := math.Min(40, 10+3*float64(sourceCount))
	spreadScore := math.Max(0, 30-3*spreadPercent)
	stdDevScore := math.Max(0, 30-0.3*stdDev)

	confidence := sourceScore + spreadScore + stdDevScore
	if confidence < 0 {
		return 0
	}
	if confidence > 100 {
		return 100
	}
	return confidence
}
