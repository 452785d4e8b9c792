package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/lumenrwa/pricefeed/internal/domain"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	baseReconnectDelay = 5 * time.Second
	maxReconnectDelay  = 5 * time.Minute

	quoteBufferSize = 256
)

// streamState is the connection state machine. Destroyed is terminal;
// no transition leaves it.
type streamState int

const (
	stateDisconnected streamState = iota
	stateConnecting
	stateOpen
	stateBackoff
	stateDestroyed
)

func (s streamState) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateConnecting:
		return "connecting"
	case stateOpen:
		return "open"
	case stateBackoff:
		return "backoff"
	case stateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// wireQuote is the push-transport payload shape. Providers that stream
// quotes send one JSON object per message.
type wireQuote struct {
	Symbol    string   `json:"symbol"`
	Price     *float64 `json:"price"`
	Timestamp *int64   `json:"timestamp"`
	Source    string   `json:"source"`
}

// QuoteStream is a reconnecting WebSocket driver that converts push
// messages into raw quotes. Malformed payloads are dropped with a
// logged validation error; transport drops trigger exponential-backoff
// reconnection with the attempt count reset on a successful open.
type QuoteStream struct {
	url       string
	provider  string
	subscribe []string

	mu         sync.RWMutex
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	state      streamState

	// wg tracks the read and reconnect goroutines; Stop waits for them
	// before closing the quotes channel so no send races the close.
	wg sync.WaitGroup

	quotes   chan domain.RawQuote
	stopChan chan struct{}
	log      zerolog.Logger
}

// NewQuoteStream creates a streaming adapter for the given endpoint.
// The subscribe list is sent as a JSON array on every (re)connect.
func NewQuoteStream(url, provider string, subscribe []string, log zerolog.Logger) *QuoteStream {
	return &QuoteStream{
		url:       url,
		provider:  provider,
		subscribe: subscribe,
		state:     stateDisconnected,
		quotes:    make(chan domain.RawQuote, quoteBufferSize),
		stopChan:  make(chan struct{}),
		log:       log.With().Str("component", "quote_stream").Str("provider", provider).Logger(),
	}
}

// Name returns the provider identifier for this stream.
func (s *QuoteStream) Name() string { return s.provider }

// Quotes returns the channel of converted raw quotes. The channel is
// closed by Stop.
func (s *QuoteStream) Quotes() <-chan domain.RawQuote { return s.quotes }

// Start establishes the connection and begins the read loop. A failed
// initial dial falls into the backoff loop rather than returning a
// terminal error.
func (s *QuoteStream) Start() error {
	s.log.Info().Str("url", s.url).Msg("Starting quote stream")

	if err := s.connect(); err != nil {
		s.log.Warn().Err(err).Msg("Initial stream connection failed, retrying in background")
		s.goReconnect()
		return err
	}

	s.mu.RLock()
	ctx := s.connCtx
	s.mu.RUnlock()
	s.goRead(ctx)

	return nil
}

func (s *QuoteStream) goRead(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readMessages(ctx)
	}()
}

func (s *QuoteStream) goReconnect() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reconnectLoop()
	}()
}

// Stop destroys the stream. The state machine enters its terminal
// state, the read and reconnect goroutines drain, and the quotes
// channel is closed so consumers ranging over it exit.
func (s *QuoteStream) Stop() error {
	s.mu.Lock()
	if s.state == stateDestroyed {
		s.mu.Unlock()
		return nil
	}
	s.state = stateDestroyed
	s.mu.Unlock()

	s.log.Info().Msg("Stopping quote stream")
	close(s.stopChan)
	err := s.disconnect()

	s.wg.Wait()
	close(s.quotes)
	return err
}

// State returns the current connection state name, for the debug
// surface.
func (s *QuoteStream) State() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.String()
}

func (s *QuoteStream) destroyed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == stateDestroyed
}

func (s *QuoteStream) connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateDestroyed {
		return fmt.Errorf("stream destroyed")
	}
	s.state = stateConnecting

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, s.url, nil)
	if err != nil {
		s.state = stateDisconnected
		return fmt.Errorf("failed to dial quote stream: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	s.conn = conn
	s.connCtx = connCtx
	s.cancelFunc = connCancel

	if len(s.subscribe) > 0 {
		writeCtx, cancel := context.WithTimeout(connCtx, writeWait)
		defer cancel()

		payload, err := json.Marshal(s.subscribe)
		if err == nil {
			err = conn.Write(writeCtx, websocket.MessageText, payload)
		}
		if err != nil {
			connCancel()
			conn.Close(websocket.StatusNormalClosure, "subscribe failed")
			s.conn = nil
			s.connCtx = nil
			s.cancelFunc = nil
			s.state = stateDisconnected
			return fmt.Errorf("failed to subscribe: %w", err)
		}
	}

	s.state = stateOpen
	s.log.Info().Msg("Quote stream connected")
	return nil
}

func (s *QuoteStream) disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}

	if s.cancelFunc != nil {
		s.cancelFunc()
		s.cancelFunc = nil
	}

	err := s.conn.Close(websocket.StatusNormalClosure, "")
	s.conn = nil
	s.connCtx = nil
	if s.state != stateDestroyed {
		s.state = stateDisconnected
	}

	if err != nil {
		return fmt.Errorf("error closing quote stream: %w", err)
	}
	return nil
}

func (s *QuoteStream) readMessages(ctx context.Context) {
	// Respawn of the reconnect loop happens before this goroutine is
	// counted done, so Stop's wait never observes a zero in between.
	defer func() {
		if !s.destroyed() {
			s.goReconnect()
		}
	}()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}

		msgType, message, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			switch {
			case closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway:
				s.log.Info().Int("status", int(closeStatus)).Msg("Quote stream closed normally")
			case ctx.Err() != nil:
				s.log.Debug().Msg("Quote stream read cancelled")
			default:
				s.log.Error().Err(err).Msg("Unexpected quote stream read error")
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		s.handleMessage(message)
	}
}

// handleMessage converts one payload into a RawQuote. Invalid payloads
// are dropped; the stream keeps reading.
func (s *QuoteStream) handleMessage(message []byte) {
	var wire wireQuote
	if err := json.Unmarshal(message, &wire); err != nil {
		s.log.Error().Err(err).Str("message", string(message)).Msg("Dropping unparseable stream payload")
		return
	}

	if strings.TrimSpace(wire.Symbol) == "" || wire.Price == nil || wire.Timestamp == nil {
		s.log.Error().Str("message", string(message)).Msg("Dropping stream payload with missing fields")
		return
	}

	source := wire.Source
	if source == "" {
		source = s.provider
	}

	quote := domain.RawQuote{
		Symbol:    wire.Symbol,
		Price:     *wire.Price,
		Timestamp: *wire.Timestamp,
		Source:    source,
	}

	select {
	case s.quotes <- quote:
	default:
		s.log.Warn().Str("symbol", quote.Symbol).Msg("Quote buffer full, dropping oldest-pending quote")
	}
}

// reconnectLoop re-establishes the connection with exponential backoff.
// The attempt count resets once a connection opens.
func (s *QuoteStream) reconnectLoop() {
	s.mu.Lock()
	if s.state == stateBackoff || s.state == stateDestroyed {
		s.mu.Unlock()
		return
	}
	s.state = stateBackoff
	s.mu.Unlock()

	attempt := 0
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}
		if s.destroyed() {
			return
		}

		attempt++
		delay := backoffDelay(attempt)
		s.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Reconnecting quote stream")

		select {
		case <-time.After(delay):
		case <-s.stopChan:
			return
		}

		if err := s.connect(); err != nil {
			s.log.Error().Err(err).Int("attempt", attempt).Msg("Stream reconnection failed")
			s.mu.Lock()
			if s.state != stateDestroyed {
				s.state = stateBackoff
			}
			s.mu.Unlock()
			continue
		}

		s.mu.RLock()
		ctx := s.connCtx
		s.mu.RUnlock()
		s.goRead(ctx)
		return
	}
}

// backoffDelay is baseReconnectDelay * 2^(attempt-1), capped.
func backoffDelay(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}
