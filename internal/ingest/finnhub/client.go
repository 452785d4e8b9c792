// Package finnhub implements the Finnhub quote ingestor.
package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumenrwa/pricefeed/internal/domain"
)

const defaultBaseURL = "https://finnhub.io/api/v1"

// SourceName is the provider identifier stamped on raw quotes.
const SourceName = "finnhub"

// Client is a Finnhub API client.
type Client struct {
	client  *http.Client
	token   string
	baseURL string
	log     zerolog.Logger
}

// NewClient creates a new Finnhub client.
func NewClient(token string, log zerolog.Logger) *Client {
	return &Client{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		token:   token,
		baseURL: defaultBaseURL,
		log:     log.With().Str("client", "finnhub").Logger(),
	}
}

// SetBaseURL overrides the API endpoint for tests.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// Name returns the provider identifier.
func (c *Client) Name() string { return SourceName }

// quoteResponse is Finnhub's /quote payload: c = current price,
// t = unix seconds.
type quoteResponse struct {
	Current   float64 `json:"c"`
	Timestamp int64   `json:"t"`
}

// FetchQuotes pulls /quote for each symbol.
func (c *Client) FetchQuotes(ctx context.Context, symbols []string) ([]domain.RawQuote, error) {
	quotes := make([]domain.RawQuote, 0, len(symbols))
	for _, symbol := range symbols {
		quote, err := c.fetchOne(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", symbol, err)
		}
		quotes = append(quotes, quote)
	}
	return quotes, nil
}

func (c *Client) fetchOne(ctx context.Context, symbol string) (domain.RawQuote, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("token", c.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/quote?"+params.Encode(), nil)
	if err != nil {
		return domain.RawQuote{}, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.RawQuote{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.RawQuote{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.RawQuote{}, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed quoteResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.RawQuote{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Current == 0 && parsed.Timestamp == 0 {
		// Finnhub returns zeros for unknown symbols.
		return domain.RawQuote{}, fmt.Errorf("no quote for %s", symbol)
	}

	timestamp := parsed.Timestamp * 1000
	if parsed.Timestamp == 0 {
		timestamp = time.Now().UnixMilli()
	}

	return domain.RawQuote{
		Symbol:    symbol,
		Price:     parsed.Current,
		Timestamp: timestamp,
		Source:    SourceName,
	}, nil
}
