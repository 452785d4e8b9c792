// Package normalize converts provider-native raw quotes into canonical
// quotes. Each provider has a small strategy describing how to recognize
// its records and rewrite its symbol conventions; the shared canonical
// builder applies validation, rounding, and audit bookkeeping on top.
package normalize

import (
	"regexp"
	"strings"

	"github.com/lumenrwa/pricefeed/internal/domain"
)

// Normalizer is the per-provider strategy: a recognition predicate plus
// a symbol-rewriting rule. Implementations are stateless and reentrant.
type Normalizer interface {
	// Recognize reports whether this strategy handles the raw quote,
	// based on its source field.
	Recognize(raw domain.RawQuote) bool

	// RewriteSymbol strips provider-specific prefixes and suffixes.
	// Trimming and upper-casing happen in the canonical builder.
	RewriteSymbol(symbol string) string

	// Version identifies the rewrite rules in audit records.
	Version() string

	// CanonicalSource is the enum value stamped on emitted quotes.
	CanonicalSource() domain.Source
}

// foldSource strips whitespace, hyphens, and underscores and lowers the
// case, so "Alpha-Vantage" and "alpha_vantage" compare equal.
func foldSource(source string) string {
	folded := strings.ToLower(source)
	folded = strings.ReplaceAll(folded, " ", "")
	folded = strings.ReplaceAll(folded, "\t", "")
	folded = strings.ReplaceAll(folded, "-", "")
	folded = strings.ReplaceAll(folded, "_", "")
	return folded
}

// matchesAny reports whether the folded source contains any of the
// folded identifiers.
func matchesAny(source string, identifiers []string) bool {
	folded := foldSource(source)
	for _, id := range identifiers {
		if strings.Contains(folded, foldSource(id)) {
			return true
		}
	}
	return false
}

// AlphaVantage quotes carry exchange suffixes such as AAPL.US or
// VOD.LON which the canonical symbol drops.
type AlphaVantage struct{}

var alphaVantageSuffix = regexp.MustCompile(`(?i)\.(US|NYSE|NASDAQ|LSE|TSX|ASX|HK|LON)$`)

func (AlphaVantage) Recognize(raw domain.RawQuote) bool {
	// No bare "av" token: substring matching would claim unrelated
	// sources like "wave-feed".
	return matchesAny(raw.Source, []string{"alphavantage", "alpha vantage"})
}

func (AlphaVantage) RewriteSymbol(symbol string) string {
	return alphaVantageSuffix.ReplaceAllString(symbol, "")
}

func (AlphaVantage) Version() string { return "alphavantage-1" }

func (AlphaVantage) CanonicalSource() domain.Source { return domain.SourceAlphaVantage }

// Finnhub prefixes symbols with an asset-class tag, e.g. US-GOOGL or
// CRYPTO-BTCUSD.
type Finnhub struct{}

var finnhubPrefix = regexp.MustCompile(`(?i)^(US|CRYPTO|FX|INDICES)-`)

func (Finnhub) Recognize(raw domain.RawQuote) bool {
	return matchesAny(raw.Source, []string{"finnhub"})
}

func (Finnhub) RewriteSymbol(symbol string) string {
	return finnhubPrefix.ReplaceAllString(symbol, "")
}

func (Finnhub) Version() string { return "finnhub-1" }

func (Finnhub) CanonicalSource() domain.Source { return domain.SourceFinnhub }

// YahooFinance uses exchange dot-suffixes (VOD.L, 7203.T) and a caret
// marker for indices (^DJI).
type YahooFinance struct{}

var yahooSuffix = regexp.MustCompile(`(?i)\.(L|T|AX|HK|SI|KS|TW|NS|BO|TO|V|F|DE|PA|AS|BR|MC|MI|SW|CO|MX|SA|JK|KL)$`)

func (YahooFinance) Recognize(raw domain.RawQuote) bool {
	return matchesAny(raw.Source, []string{"yahoo", "yahoofinance", "yfinance"})
}

func (YahooFinance) RewriteSymbol(symbol string) string {
	rewritten := yahooSuffix.ReplaceAllString(symbol, "")
	rewritten = strings.TrimPrefix(rewritten, "^")
	return rewritten
}

func (YahooFinance) Version() string { return "yahoo-1" }

func (YahooFinance) CanonicalSource() domain.Source { return domain.SourceYahooFinance }

// Mock passes symbols through untouched apart from the shared trim and
// upper-case step. Used by tests and dry runs.
type Mock struct{}

func (Mock) Recognize(raw domain.RawQuote) bool {
	return matchesAny(raw.Source, []string{"mock", "test", "simulated"})
}

func (Mock) RewriteSymbol(symbol string) string { return symbol }

func (Mock) Version() string { return "mock-1" }

func (Mock) CanonicalSource() domain.Source { return domain.SourceMock }
