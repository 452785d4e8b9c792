// Package yahoo implements the Yahoo Finance batch quote ingestor.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumenrwa/pricefeed/internal/domain"
)

const defaultBaseURL = "https://query1.finance.yahoo.com/v7/finance/quote"

// SourceName is the provider identifier stamped on raw quotes.
const SourceName = "yahoo-finance"

// Client is a Yahoo Finance API client.
type Client struct {
	client  *http.Client
	baseURL string
	log     zerolog.Logger
}

// NewClient creates a new Yahoo Finance client.
func NewClient(log zerolog.Logger) *Client {
	return &Client{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: defaultBaseURL,
		log:     log.With().Str("client", "yahoo").Logger(),
	}
}

// SetBaseURL overrides the API endpoint for tests.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// Name returns the provider identifier.
func (c *Client) Name() string { return SourceName }

// quoteResponse is the v7 quote payload subset we read.
type quoteResponse struct {
	QuoteResponse struct {
		Result []struct {
			Symbol             string  `json:"symbol"`
			RegularMarketPrice float64 `json:"regularMarketPrice"`
			RegularMarketTime  int64   `json:"regularMarketTime"`
		} `json:"result"`
		Error interface{} `json:"error"`
	} `json:"quoteResponse"`
}

// FetchQuotes pulls all symbols in one batch call.
func (c *Client) FetchQuotes(ctx context.Context, symbols []string) ([]domain.RawQuote, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	params := url.Values{}
	params.Set("symbols", strings.Join(symbols, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	// Yahoo rejects requests without a browser-ish user agent.
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; pricefeed/1.0)")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed quoteResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.QuoteResponse.Error != nil {
		return nil, fmt.Errorf("api error: %v", parsed.QuoteResponse.Error)
	}

	quotes := make([]domain.RawQuote, 0, len(parsed.QuoteResponse.Result))
	for _, result := range parsed.QuoteResponse.Result {
		timestamp := result.RegularMarketTime * 1000
		if timestamp <= 0 {
			timestamp = time.Now().UnixMilli()
		}
		quotes = append(quotes, domain.RawQuote{
			Symbol:    result.Symbol,
			Price:     result.RegularMarketPrice,
			Timestamp: timestamp,
			Source:    SourceName,
		})
	}

	return quotes, nil
}
