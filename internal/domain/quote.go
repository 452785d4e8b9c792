// Package domain defines the core price-feed data model: raw provider
// quotes, normalized canonical quotes, and aggregated consensus prices.
// Domain types carry no infrastructure dependencies and are immutable
// once constructed.
package domain

import (
	"time"
)

// Source identifies a canonical quote provider.
type Source string

const (
	SourceAlphaVantage Source = "alpha_vantage"
	SourceFinnhub      Source = "finnhub"
	SourceYahooFinance Source = "yahoo_finance"
	SourceMock         Source = "mock"
	SourceUnknown      Source = "unknown"
)

// Method selects the aggregation law applied to a quote set.
type Method string

const (
	MethodWeightedMean Method = "weighted-mean"
	MethodMedian       Method = "median"
	MethodTrimmedMean  Method = "trimmed-mean"
)

// ValidMethod reports whether m names a known aggregation method.
func ValidMethod(m Method) bool {
	switch m {
	case MethodWeightedMean, MethodMedian, MethodTrimmedMean:
		return true
	}
	return false
}

// RawQuote is a provider-native price record before normalization.
// Symbol and Source are free-form provider values; Timestamp is epoch
// milliseconds.
type RawQuote struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
	Source    string  `json:"source"`
}

// Audit records how a raw quote was transformed into its canonical form.
type Audit struct {
	OriginalSource    string   `json:"original_source"`
	OriginalSymbol    string   `json:"original_symbol"`
	NormalizedAt      int64    `json:"normalized_at"`
	NormalizerVersion string   `json:"normalizer_version"`
	WasTransformed    bool     `json:"was_transformed"`
	Transformations   []string `json:"transformations,omitempty"`
}

// CanonicalQuote is the validated internal record: trimmed upper-cased
// symbol, price rounded to four decimals, ISO-8601 UTC timestamp.
type CanonicalQuote struct {
	Symbol            string  `json:"symbol"`
	Price             float64 `json:"price"`
	ISOTimestamp      string  `json:"iso_timestamp"`
	OriginalTimestamp int64   `json:"original_timestamp"`
	Source            Source  `json:"source"`
	Audit             Audit   `json:"audit"`

	// Weight is an optional per-quote weight set by callers that know
	// more than the source registry. Zero means "not set".
	Weight float64 `json:"weight,omitempty"`
}

// Time returns the quote timestamp as a UTC time.
func (q CanonicalQuote) Time() time.Time {
	return time.UnixMilli(q.OriginalTimestamp).UTC()
}

// ConsensusMetrics carries the dispersion statistics computed over the
// quotes that survived window filtering.
type ConsensusMetrics struct {
	StandardDeviation float64 `json:"standard_deviation"`
	SpreadPercent     float64 `json:"spread_percent"`
	SourceCount       int     `json:"source_count"`
	Variance          float64 `json:"variance"`
}

// ConsensusPrice is the aggregation output: a single fused price with
// provenance, window bounds, and quality metrics.
type ConsensusPrice struct {
	Symbol     string           `json:"symbol"`
	Price      float64          `json:"price"`
	Method     Method           `json:"method"`
	Confidence float64          `json:"confidence"`
	Metrics    ConsensusMetrics `json:"metrics"`

	WindowStart int64 `json:"window_start"`
	WindowEnd   int64 `json:"window_end"`
	ComputedAt  int64 `json:"computed_at"`

	Sources []string `json:"sources"`
}

// ISOTimestampFormat renders epoch milliseconds as ISO-8601 UTC with
// millisecond precision, e.g. 2026-08-26T09:30:00.000Z.
func ISOTimestampFormat(epochMs int64) string {
	return time.UnixMilli(epochMs).UTC().Format("2006-01-02T15:04:05.000Z")
}

// ParseISOTimestamp is the inverse of ISOTimestampFormat.
func ParseISOTimestamp(s string) (int64, error) {
	t, err := time.Parse("2006-01-02T15:04:05.000Z", s)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}
