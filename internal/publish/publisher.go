// Package publish defines the downstream publishing contract and two
// implementations: a dry-run publisher that only logs, and an HTTP
// publisher posting to an oracle submission endpoint.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ErrPublishFailure indicates the downstream submission errored. The
// scheduler logs it, bumps a counter, and continues the cycle.
var ErrPublishFailure = errors.New("publish failed")

// Request carries one consensus price to the oracle. Price is scaled
// to fixed-point integer units matching the oracle's decimals.
type Request struct {
	AssetID           string   `json:"asset_id"`
	Price             uint64   `json:"price"`
	Timestamp         int64    `json:"timestamp"`
	CommitmentDigest  string   `json:"commitment_digest"`
	ProofDigest       string   `json:"proof_digest,omitempty"`
	ProofPublicInputs []string `json:"proof_public_inputs,omitempty"`
}

// Receipt is the opaque submission result.
type Receipt struct {
	TxHash string `json:"tx_hash"`
	OK     bool   `json:"ok"`
}

// Publisher submits consensus prices downstream.
type Publisher interface {
	Publish(ctx context.Context, req Request) (Receipt, error)
}

// LogPublisher logs submissions instead of sending them. Used in dev
// mode and tests.
type LogPublisher struct {
	log zerolog.Logger
}

// NewLogPublisher creates a dry-run publisher.
func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log.With().Str("component", "log_publisher").Logger()}
}

// Publish logs the request and reports success.
func (p *LogPublisher) Publish(_ context.Context, req Request) (Receipt, error) {
	p.log.Info().
		Str("asset_id", req.AssetID).
		Uint64("price", req.Price).
		Int64("timestamp", req.Timestamp).
		Str("commitment", req.CommitmentDigest).
		Msg("Dry-run publish")
	return Receipt{TxHash: "dry-run", OK: true}, nil
}

// HTTPPublisher posts submissions to an oracle relay endpoint.
type HTTPPublisher struct {
	client   *http.Client
	endpoint string
	log      zerolog.Logger
}

// NewHTTPPublisher creates a publisher for the given endpoint.
func NewHTTPPublisher(endpoint string, log zerolog.Logger) *HTTPPublisher {
	return &HTTPPublisher{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		endpoint: endpoint,
		log:      log.With().Str("component", "http_publisher").Logger(),
	}
}

// Publish posts the request as JSON and decodes the receipt.
func (p *HTTPPublisher) Publish(ctx context.Context, req Request) (Receipt, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: failed to encode request: %v", ErrPublishFailure, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: failed to build request: %v", ErrPublishFailure, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrPublishFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: failed to read response: %v", ErrPublishFailure, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Receipt{}, fmt.Errorf("%w: status %d: %s", ErrPublishFailure, resp.StatusCode, body)
	}

	var receipt Receipt
	if err := json.Unmarshal(body, &receipt); err != nil {
		return Receipt{}, fmt.Errorf("%w: unparseable receipt: %v", ErrPublishFailure, err)
	}
	if !receipt.OK {
		return receipt, fmt.Errorf("%w: relay rejected submission (tx %s)", ErrPublishFailure, receipt.TxHash)
	}

	return receipt, nil
}
