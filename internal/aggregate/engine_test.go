package aggregate

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenrwa/pricefeed/internal/cache"
	"github.com/lumenrwa/pricefeed/internal/domain"
)

var engineNow = time.UnixMilli(1700000100000)

func newTestEngine(lastValue *cache.LastValue) *Engine {
	engine := NewEngine(NewWeightRegistry(nil), lastValue, zerolog.Nop())
	engine.SetClock(func() time.Time { return engineNow })
	return engine
}

// quote builds a canonical quote aged by the given duration relative
// to the engine's pinned clock.
func quote(symbol string, price float64, age time.Duration, source domain.Source) domain.CanonicalQuote {
	ts := engineNow.Add(-age).UnixMilli()
	return domain.CanonicalQuote{
		Symbol:            symbol,
		Price:             price,
		OriginalTimestamp: ts,
		ISOTimestamp:      domain.ISOTimestampFormat(ts),
		Source:            source,
	}
}

func TestAggregateWeightedMeanHomogeneousSources(t *testing.T) {
	engine := newTestEngine(nil)

	quotes := []domain.CanonicalQuote{
		quote("AAPL", 100, time.Second, domain.SourceAlphaVantage),
		quote("AAPL", 102, time.Second, domain.SourceFinnhub),
		quote("AAPL", 98, time.Second, domain.SourceYahooFinance),
	}

	consensus, err := engine.Aggregate("AAPL", quotes, Options{})
	require.NoError(t, err)

	assert.Equal(t, 100.0, consensus.Price)
	assert.Equal(t, domain.MethodWeightedMean, consensus.Method)
	assert.Equal(t, 3, consensus.Metrics.SourceCount)
	assert.InDelta(t, 4.0, consensus.Metrics.SpreadPercent, 1e-9)
	assert.ElementsMatch(t, []string{"alpha_vantage", "finnhub", "yahoo_finance"}, consensus.Sources)
}

func TestAggregateWithSourceWeightOverride(t *testing.T) {
	engine := newTestEngine(nil)

	quotes := []domain.CanonicalQuote{
		quote("AAPL", 100, time.Second, domain.SourceAlphaVantage),
		quote("AAPL", 110, time.Second, domain.SourceFinnhub),
	}

	consensus, err := engine.Aggregate("AAPL", quotes, Options{
		MinSources: 2,
		SourceWeightOverrides: map[domain.Source]float64{
			domain.SourceAlphaVantage: 3,
			domain.SourceFinnhub:      1,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 102.5, consensus.Price)
}

func TestAggregateMedianMethod(t *testing.T) {
	engine := newTestEngine(nil)

	quotes := []domain.CanonicalQuote{
		quote("AAPL", 100, time.Second, domain.SourceAlphaVantage),
		quote("AAPL", 101, time.Second, domain.SourceFinnhub),
		quote("AAPL", 99, time.Second, domain.SourceYahooFinance),
		quote("AAPL", 1000, time.Second, domain.SourceMock),
	}

	consensus, err := engine.Aggregate("AAPL", quotes, Options{Method: domain.MethodMedian})
	require.NoError(t, err)
	assert.Equal(t, 100.5, consensus.Price)
	assert.Equal(t, domain.MethodMedian, consensus.Method)
}

func TestWindowFilterRejectsStale(t *testing.T) {
	engine := newTestEngine(nil)

	quotes := []domain.CanonicalQuote{
		quote("AAPL", 100, time.Second, domain.SourceAlphaVantage),
		quote("AAPL", 102, time.Second, domain.SourceFinnhub),
		quote("AAPL", 500, 50*time.Second, domain.SourceYahooFinance),
		quote("AAPL", 510, 50*time.Second, domain.SourceMock),
	}

	consensus, err := engine.Aggregate("AAPL", quotes, Options{MinSources: 2, WindowMillis: 30_000})
	require.NoError(t, err)

	// Only the two fresh quotes contribute.
	assert.Equal(t, 101.0, consensus.Price)
	assert.Equal(t, 2, consensus.Metrics.SourceCount)
	assert.ElementsMatch(t, []string{"alpha_vantage", "finnhub"}, consensus.Sources)
}

func TestWindowFilterRejectsFutureQuotes(t *testing.T) {
	engine := newTestEngine(nil)

	quotes := []domain.CanonicalQuote{
		quote("AAPL", 100, time.Second, domain.SourceAlphaVantage),
		quote("AAPL", 102, time.Second, domain.SourceFinnhub),
		// A clock-skewed provider stamps a quote 40s ahead; it must not
		// survive the window, or WindowEnd would exceed ComputedAt.
		quote("AAPL", 500, -40*time.Second, domain.SourceYahooFinance),
	}

	consensus, err := engine.Aggregate("AAPL", quotes, Options{MinSources: 2, WindowMillis: 30_000})
	require.NoError(t, err)

	assert.Equal(t, 101.0, consensus.Price)
	assert.Equal(t, 2, consensus.Metrics.SourceCount)
	assert.LessOrEqual(t, consensus.WindowEnd, consensus.ComputedAt)
}

func TestInsufficientRecentSources(t *testing.T) {
	engine := newTestEngine(nil)

	quotes := []domain.CanonicalQuote{
		quote("AAPL", 100, time.Second, domain.SourceAlphaVantage),
		quote("AAPL", 102, time.Second, domain.SourceFinnhub),
		quote("AAPL", 500, 50*time.Second, domain.SourceYahooFinance),
		quote("AAPL", 510, 50*time.Second, domain.SourceMock),
	}

	_, err := engine.Aggregate("AAPL", quotes, Options{MinSources: 3, WindowMillis: 30_000})
	assert.ErrorIs(t, err, ErrInsufficientRecentSources)
}

func TestAggregateValidation(t *testing.T) {
	engine := newTestEngine(nil)
	good := []domain.CanonicalQuote{
		quote("AAPL", 100, time.Second, domain.SourceAlphaVantage),
		quote("AAPL", 101, time.Second, domain.SourceFinnhub),
		quote("AAPL", 102, time.Second, domain.SourceYahooFinance),
	}

	tests := []struct {
		name     string
		symbol   string
		quotes   []domain.CanonicalQuote
		opts     Options
		expected error
	}{
		{name: "empty symbol", symbol: "", quotes: good, expected: ErrEmptySymbol},
		{name: "empty quotes", symbol: "AAPL", quotes: nil, expected: ErrEmptyInput},
		{name: "min sources zero", symbol: "AAPL", quotes: good, opts: Options{MinSources: -1}, expected: ErrInvalidMinSources},
		{name: "too few quotes", symbol: "AAPL", quotes: good[:2], expected: ErrInsufficientSources},
		{
			name:   "symbol mismatch",
			symbol: "AAPL",
			quotes: append([]domain.CanonicalQuote{quote("MSFT", 100, time.Second, domain.SourceMock)}, good[:2]...),
			expected: ErrSymbolMismatch,
		},
		{
			name:   "zero price",
			symbol: "AAPL",
			quotes: append([]domain.CanonicalQuote{quote("AAPL", 0, time.Second, domain.SourceMock)}, good[:2]...),
			expected: ErrInvalidPriceValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Aggregate(tt.symbol, tt.quotes, tt.opts)
			assert.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestMinSourcesZeroFails(t *testing.T) {
	engine := newTestEngine(nil)
	quotes := []domain.CanonicalQuote{quote("AAPL", 100, time.Second, domain.SourceMock)}

	// Explicit zero is indistinguishable from unset in Options, so the
	// negative form carries the "invalid" case; calling with one quote
	// against the default of three still fails.
	_, err := engine.Aggregate("AAPL", quotes, Options{})
	assert.ErrorIs(t, err, ErrInsufficientSources)
}

func TestAggregateTrimmedMeanExplicitZeroFraction(t *testing.T) {
	engine := newTestEngine(nil)

	quotes := []domain.CanonicalQuote{
		quote("AAPL", 10, time.Second, domain.SourceAlphaVantage),
		quote("AAPL", 98, time.Second, domain.SourceFinnhub),
		quote("AAPL", 100, time.Second, domain.SourceYahooFinance),
		quote("AAPL", 102, time.Second, domain.SourceMock),
		quote("AAPL", 500, time.Second, domain.SourceMock),
	}

	// Unset fraction takes the 0.20 default: the extremes are trimmed.
	trimmed, err := engine.Aggregate("AAPL", quotes, Options{Method: domain.MethodTrimmedMean})
	require.NoError(t, err)
	assert.Equal(t, 100.0, trimmed.Price)

	// An explicit zero keeps every quote, reducing to the weighted mean
	// of the full set while still reporting the trimmed-mean method.
	zero := 0.0
	untrimmed, err := engine.Aggregate("AAPL", quotes, Options{Method: domain.MethodTrimmedMean, TrimFraction: &zero})
	require.NoError(t, err)
	assert.Equal(t, 162.0, untrimmed.Price)
	assert.Equal(t, domain.MethodTrimmedMean, untrimmed.Method)
}

func TestWindowInvariant(t *testing.T) {
	engine := newTestEngine(nil)

	quotes := []domain.CanonicalQuote{
		quote("AAPL", 100, 5*time.Second, domain.SourceAlphaVantage),
		quote("AAPL", 101, 2*time.Second, domain.SourceFinnhub),
		quote("AAPL", 102, 8*time.Second, domain.SourceYahooFinance),
	}

	consensus, err := engine.Aggregate("AAPL", quotes, Options{})
	require.NoError(t, err)

	assert.LessOrEqual(t, consensus.WindowStart, consensus.WindowEnd)
	assert.LessOrEqual(t, consensus.WindowEnd, consensus.ComputedAt)
	assert.Equal(t, engineNow.Add(-8*time.Second).UnixMilli(), consensus.WindowStart)
	assert.Equal(t, engineNow.Add(-2*time.Second).UnixMilli(), consensus.WindowEnd)
	assert.Equal(t, engineNow.UnixMilli(), consensus.ComputedAt)
}

func TestAggregateUpdatesLastValueCache(t *testing.T) {
	lastValue := cache.New()
	engine := newTestEngine(lastValue)

	quotes := []domain.CanonicalQuote{
		quote("AAPL", 100, time.Second, domain.SourceAlphaVantage),
		quote("AAPL", 102, time.Second, domain.SourceFinnhub),
		quote("AAPL", 98, time.Second, domain.SourceYahooFinance),
	}

	consensus, err := engine.Aggregate("AAPL", quotes, Options{})
	require.NoError(t, err)

	entry, ok := lastValue.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, consensus, entry.LastConsensus)
	assert.Len(t, entry.LastCanonicalSet, 3)
}

func TestAggregateManyPartialFailure(t *testing.T) {
	engine := newTestEngine(nil)

	quotesBySymbol := map[string][]domain.CanonicalQuote{
		"AAPL": {
			quote("AAPL", 100, time.Second, domain.SourceAlphaVantage),
			quote("AAPL", 102, time.Second, domain.SourceFinnhub),
			quote("AAPL", 98, time.Second, domain.SourceYahooFinance),
		},
		// Too few quotes; this symbol is skipped, the other proceeds.
		"MSFT": {
			quote("MSFT", 300, time.Second, domain.SourceAlphaVantage),
		},
	}

	results := engine.AggregateMany(quotesBySymbol, Options{})
	require.Len(t, results, 1)
	assert.Equal(t, 100.0, results["AAPL"].Price)
}

func TestConfidenceBounds(t *testing.T) {
	assert.LessOrEqual(t, Confidence(100, 0, 0), 100.0)
	assert.GreaterOrEqual(t, Confidence(1, 1000, 1000), 0.0)

	// Equal prices: no spread, no deviation.
	assert.Equal(t, 79.0, Confidence(3, 0, 0))
	assert.Equal(t, 100.0, Confidence(10, 0, 0))
}

func TestConfidenceMonotonicInSourceCount(t *testing.T) {
	for _, spread := range []float64{0, 2.5, 11} {
		for _, stdDev := range []float64{0, 5, 120} {
			previous := -1.0
			for n := 1; n <= 20; n++ {
				current := Confidence(n, spread, stdDev)
				assert.GreaterOrEqual(t, current, previous)
				previous = current
			}
		}
	}
}

func TestConfidenceDecreasingInSpreadAndStdDev(t *testing.T) {
	assert.Greater(t, Confidence(5, 0, 0), Confidence(5, 5, 0))
	assert.Greater(t, Confidence(5, 0, 0), Confidence(5, 0, 30))
}

func TestWeightRegistry(t *testing.T) {
	registry := NewWeightRegistry(map[string]float64{
		"finnhub": 2.5,
		"default": 0.5,
	})

	assert.Equal(t, 2.5, registry.WeightOf(domain.SourceFinnhub))
	assert.Equal(t, 0.5, registry.WeightOf(domain.SourceYahooFinance))

	// No default entry falls back to 1.0.
	plain := NewWeightRegistry(map[string]float64{"finnhub": 2})
	assert.Equal(t, 1.0, plain.WeightOf(domain.SourceMock))
}
