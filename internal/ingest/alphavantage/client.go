// Package alphavantage implements the Alpha Vantage GLOBAL_QUOTE
// ingestor.
package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumenrwa/pricefeed/internal/domain"
)

const defaultBaseURL = "https://www.alphavantage.co/query"

// SourceName is the provider identifier stamped on raw quotes.
const SourceName = "alpha-vantage"

// Client is an Alpha Vantage API client.
type Client struct {
	client  *http.Client
	apiKey  string
	baseURL string
	log     zerolog.Logger
}

// NewClient creates a new Alpha Vantage client.
func NewClient(apiKey string, log zerolog.Logger) *Client {
	return &Client{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		log:     log.With().Str("client", "alphavantage").Logger(),
	}
}

// SetBaseURL overrides the API endpoint. Tests point this at a local
// server.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// Name returns the provider identifier.
func (c *Client) Name() string { return SourceName }

// globalQuoteResponse is the GLOBAL_QUOTE payload. Alpha Vantage keys
// fields with numeric prefixes.
type globalQuoteResponse struct {
	GlobalQuote struct {
		Symbol string `json:"01. symbol"`
		Price  string `json:"05. price"`
	} `json:"Global Quote"`
	Note         string `json:"Note,omitempty"`
	ErrorMessage string `json:"Error Message,omitempty"`
}

// FetchQuotes pulls one GLOBAL_QUOTE per symbol. Alpha Vantage has no
// batch endpoint, so symbols are fetched sequentially; a failing symbol
// fails the whole call so the retry policy can re-run it.
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
	params.Set("function", "GLOBAL_QUOTE")
	params.Set("symbol", symbol)
	params.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
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

	var parsed globalQuoteResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.RawQuote{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.ErrorMessage != "" {
		return domain.RawQuote{}, fmt.Errorf("api error: %s", parsed.ErrorMessage)
	}
	if parsed.Note != "" {
		// Rate-limit notes come back as HTTP 200.
		return domain.RawQuote{}, fmt.Errorf("api throttled: %s", parsed.Note)
	}
	if parsed.GlobalQuote.Symbol == "" {
		return domain.RawQuote{}, fmt.Errorf("empty quote for %s", symbol)
	}

	price, err := strconv.ParseFloat(parsed.GlobalQuote.Price, 64)
	if err != nil {
		return domain.RawQuote{}, fmt.Errorf("unparseable price %q: %w", parsed.GlobalQuote.Price, err)
	}

	return domain.RawQuote{
		Symbol:    parsed.GlobalQuote.Symbol,
		Price:     price,
		Timestamp: time.Now().UnixMilli(),
		Source:    SourceName,
	}, nil
}
