package normalize

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/lumenrwa/pricefeed/internal/domain"
	"github.com/lumenrwa/pricefeed/internal/stats"
)

const priceDecimals = 4

// BuildCanonical runs the shared validation and transformation sequence
// for a raw quote under the given strategy. Every normalizer variant
// goes through this path, so the invariants hold uniformly: price is
// finite, non-negative, and rounded to four decimals; the ISO timestamp
// round-trips to the original epoch; the audit trail lists exactly the
// fields that changed.
func BuildCanonical(raw domain.RawQuote, strategy Normalizer) (domain.CanonicalQuote, error) {
	if strings.TrimSpace(raw.Symbol) == "" {
		return domain.CanonicalQuote{}, &ValidationError{Field: "symbol", Reason: "empty"}
	}
	if strings.TrimSpace(raw.Source) == "" {
		return domain.CanonicalQuote{}, &ValidationError{Field: "source", Reason: "empty"}
	}
	if math.IsNaN(raw.Price) || math.IsInf(raw.Price, 0) {
		return domain.CanonicalQuote{}, &ValidationError{Field: "price", Reason: "not finite"}
	}
	if raw.Price < 0 {
		return domain.CanonicalQuote{}, &ValidationError{Field: "price", Reason: "negative"}
	}
	if raw.Timestamp <= 0 {
		return domain.CanonicalQuote{}, &ValidationError{Field: "timestamp", Reason: "not a positive epoch"}
	}

	var transformations []string

	symbol := strings.ToUpper(strings.TrimSpace(strategy.RewriteSymbol(strings.TrimSpace(raw.Symbol))))
	if symbol == "" {
		return domain.CanonicalQuote{}, &ValidationError{Field: "symbol", Reason: "empty after rewrite"}
	}
	if symbol != raw.Symbol {
		transformations = append(transformations, fmt.Sprintf("symbol: %s -> %s", raw.Symbol, symbol))
	}

	price := stats.RoundHalfAwayFromZero(raw.Price, priceDecimals)
	if price != raw.Price {
		transformations = append(transformations, fmt.Sprintf("price: %v -> %v", raw.Price, price))
	}

	return domain.CanonicalQuote{
		Symbol:            symbol,
		Price:             price,
		ISOTimestamp:      domain.ISOTimestampFormat(raw.Timestamp),
		OriginalTimestamp: raw.Timestamp,
		Source:            strategy.CanonicalSource(),
		Audit: domain.Audit{
			OriginalSource:    raw.Source,
			OriginalSymbol:    raw.Symbol,
			NormalizedAt:      time.Now().UnixMilli(),
			NormalizerVersion: strategy.Version(),
			WasTransformed:    len(transformations) > 0,
			Transformations:   transformations,
		},
	}, nil
}
