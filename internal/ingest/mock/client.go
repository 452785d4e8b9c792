// Package mock provides a deterministic ingestor for tests and dry
// runs.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"time"

	"github.com/lumenrwa/pricefeed/internal/domain"
)

// SourceName is the provider identifier stamped on raw quotes.
const SourceName = "mock"

// Client generates synthetic quotes: a stable per-symbol base price
// plus a small sinusoidal drift, so repeated fetches look like a live
// feed without any network dependency.
type Client struct {
	now func() time.Time

	// Err, when set, is returned from every fetch. Tests use it to
	// exercise retry and partial-failure paths.
	Err error
}

// NewClient creates a mock ingestor.
func NewClient() *Client {
	return &Client{now: time.Now}
}

// SetClock overrides the clock used for timestamps and drift.
func (c *Client) SetClock(now func() time.Time) { c.now = now }

// Name returns the provider identifier.
func (c *Client) Name() string { return SourceName }

// FetchQuotes generates one quote per symbol.
func (c *Client) FetchQuotes(_ context.Context, symbols []string) ([]domain.RawQuote, error) {
	if c.Err != nil {
		return nil, c.Err
	}

	now := c.now()
	quotes := make([]domain.RawQuote, 0, len(symbols))
	for _, symbol := range symbols {
		quotes = append(quotes, domain.RawQuote{
			Symbol:    symbol,
			Price:     basePrice(symbol) * (1 + 0.002*math.Sin(float64(now.Unix())/60)),
			Timestamp: now.UnixMilli(),
			Source:    SourceName,
		})
	}
	return quotes, nil
}

// basePrice derives a stable price in [10, 1010) from the symbol name.
func basePrice(symbol string) float64 {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return 10 + float64(h.Sum32()%100000)/100
}
