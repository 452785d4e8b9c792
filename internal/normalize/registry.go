package normalize

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/lumenrwa/pricefeed/internal/domain"
)

// Registry dispatches raw quotes to the first normalizer whose
// recognition predicate matches. Registration order is significant and
// fixed at construction; the registry is read-only afterwards.
type Registry struct {
	normalizers []Normalizer
	log         zerolog.Logger
}

// NewRegistry creates a registry with the default provider strategies.
func NewRegistry(log zerolog.Logger) *Registry {
	return NewRegistryWith(log, AlphaVantage{}, Finnhub{}, YahooFinance{}, Mock{})
}

// NewRegistryWith creates a registry with an explicit strategy list.
func NewRegistryWith(log zerolog.Logger, normalizers ...Normalizer) *Registry {
	return &Registry{
		normalizers: normalizers,
		log:         log.With().Str("component", "normalizer_registry").Logger(),
	}
}

// Failure pairs a raw quote with the error that rejected it.
type Failure struct {
	Raw      domain.RawQuote `json:"raw"`
	Err      error           `json:"-"`
	Reason   string          `json:"reason"`
	FailedAt int64           `json:"failed_at"`
}

// Normalize converts one raw quote to canonical form. It fails with
// ErrNoNormalizerFound when no strategy recognizes the source and with
// a ValidationError when field constraints are violated.
func (r *Registry) Normalize(raw domain.RawQuote) (domain.CanonicalQuote, error) {
	for _, n := range r.normalizers {
		if n.Recognize(raw) {
			return BuildCanonical(raw, n)
		}
	}
	return domain.CanonicalQuote{}, ErrNoNormalizerFound
}

// NormalizeBatch converts a batch of raw quotes, collecting failures
// instead of aborting. Failing quotes are skipped and logged at debug
// level; the caller decides what to do with them.
func (r *Registry) NormalizeBatch(raws []domain.RawQuote) ([]domain.CanonicalQuote, []Failure) {
	successes := make([]domain.CanonicalQuote, 0, len(raws))
	var failures []Failure

	for _, raw := range raws {
		canonical, err := r.Normalize(raw)
		if err != nil {
			r.log.Debug().
				Err(err).
				Str("symbol", raw.Symbol).
				Str("source", raw.Source).
				Msg("Dropping quote that failed normalization")
			failures = append(failures, Failure{
				Raw:      raw,
				Err:      err,
				Reason:   err.Error(),
				FailedAt: time.Now().UnixMilli(),
			})
			continue
		}
		successes = append(successes, canonical)
	}

	return successes, failures
}

// NormalizeBySource converts a batch and groups the successes by their
// canonical source.
func (r *Registry) NormalizeBySource(raws []domain.RawQuote) (map[domain.Source][]domain.CanonicalQuote, []Failure) {
	successes, failures := r.NormalizeBatch(raws)
	grouped := make(map[domain.Source][]domain.CanonicalQuote)
	for _, q := range successes {
		grouped[q.Source] = append(grouped[q.Source], q)
	}
	return grouped, failures
}
