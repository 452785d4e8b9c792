// Package ingest defines the ingestion contract and the adapters that
// wrap concrete provider clients with timeouts, rate limits, and
// circuit breaking.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/lumenrwa/pricefeed/internal/domain"
)

// ErrIngestionTimeout indicates a provider call exceeded its deadline.
var ErrIngestionTimeout = errors.New("ingestion timed out")

// ProviderError wraps a provider-side failure with its provider name.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Ingestor pulls raw quotes for a set of symbols. Implementations own
// their transport; the core only sees RawQuote batches.
type Ingestor interface {
	Name() string
	FetchQuotes(ctx context.Context, symbols []string) ([]domain.RawQuote, error)
}

// Streamer emits raw quotes as they arrive from a push transport.
// Malformed payloads are dropped inside the streamer, never surfaced.
type Streamer interface {
	Name() string
	Quotes() <-chan domain.RawQuote
	Start() error
	Stop() error
}
