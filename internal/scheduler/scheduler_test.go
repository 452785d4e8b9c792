package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenrwa/pricefeed/internal/aggregate"
	"github.com/lumenrwa/pricefeed/internal/cache"
	"github.com/lumenrwa/pricefeed/internal/domain"
	"github.com/lumenrwa/pricefeed/internal/ingest"
	"github.com/lumenrwa/pricefeed/internal/normalize"
	"github.com/lumenrwa/pricefeed/internal/publish"
	"github.com/lumenrwa/pricefeed/internal/retry"
)

type fakeIngestor struct {
	name   string
	quotes []domain.RawQuote
	err    error

	mu    sync.Mutex
	calls int
}

func (f *fakeIngestor) Name() string { return f.name }

func (f *fakeIngestor) FetchQuotes(_ context.Context, _ []string) ([]domain.RawQuote, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.quotes, nil
}

func (f *fakeIngestor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type spyPublisher struct {
	mu       sync.Mutex
	requests []publish.Request
	err      error
}

func (p *spyPublisher) Publish(_ context.Context, req publish.Request) (publish.Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return publish.Receipt{}, p.err
	}
	p.requests = append(p.requests, req)
	return publish.Receipt{TxHash: "spy", OK: true}, nil
}

func (p *spyPublisher) published() []publish.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]publish.Request, len(p.requests))
	copy(out, p.requests)
	return out
}

func rawQuotes(symbol string, source string, prices ...float64) []domain.RawQuote {
	now := time.Now().UnixMilli()
	quotes := make([]domain.RawQuote, len(prices))
	for i, p := range prices {
		quotes[i] = domain.RawQuote{
			Symbol:    symbol,
			Price:     p,
			Timestamp: now,
			Source:    source,
		}
	}
	return quotes
}

func newTestScheduler(t *testing.T, cfg Config, ingestors []ingest.Ingestor, publisher publish.Publisher) *Scheduler {
	t.Helper()
	log := zerolog.Nop()
	engine := aggregate.NewEngine(aggregate.NewWeightRegistry(nil), cache.New(), log)
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Policy{MaxAttempts: 1, Delay: time.Millisecond, Mode: retry.ModeFixed}
	}
	return New(cfg, ingestors, normalize.NewRegistry(log), engine, publisher, nil, nil, log)
}

func TestRunOncePublishesConsensus(t *testing.T) {
	publisher := &spyPublisher{}
	ingestors := []ingest.Ingestor{
		&fakeIngestor{name: "finnhub", quotes: rawQuotes("AAPL", "finnhub", 100)},
		&fakeIngestor{name: "yahoo", quotes: rawQuotes("AAPL", "yahoo", 102)},
		&fakeIngestor{name: "mock", quotes: rawQuotes("AAPL", "mock", 98)},
	}

	sched := newTestScheduler(t, Config{Symbols: []string{"AAPL"}}, ingestors, publisher)
	require.NoError(t, sched.RunOnce(context.Background()))

	published := publisher.published()
	require.Len(t, published, 1)
	req := published[0]
	assert.Equal(t, "AAPL", req.AssetID)
	assert.Equal(t, uint64(1_000_000), req.Price)
	assert.Len(t, req.CommitmentDigest, 2+64)
	assert.Greater(t, req.Timestamp, int64(0))
}

func TestRunOnceToleratesFailingProvider(t *testing.T) {
	publisher := &spyPublisher{}
	broken := &fakeIngestor{name: "alpha-vantage", err: errors.New("rate limited")}
	ingestors := []ingest.Ingestor{
		broken,
		&fakeIngestor{name: "finnhub", quotes: rawQuotes("AAPL", "finnhub", 100)},
		&fakeIngestor{name: "yahoo", quotes: rawQuotes("AAPL", "yahoo", 101)},
		&fakeIngestor{name: "mock", quotes: rawQuotes("AAPL", "mock", 102)},
	}

	cfg := Config{
		Symbols: []string{"AAPL"},
		Retry:   retry.Policy{MaxAttempts: 2, Delay: time.Millisecond, Mode: retry.ModeFixed},
	}
	sched := newTestScheduler(t, cfg, ingestors, publisher)
	require.NoError(t, sched.RunOnce(context.Background()))

	// The broken provider was retried, then dropped for the cycle.
	assert.Equal(t, 2, broken.callCount())
	assert.Len(t, publisher.published(), 1)
}

func TestRunOnceSkipsSymbolsBelowMinSources(t *testing.T) {
	publisher := &spyPublisher{}
	ingestors := []ingest.Ingestor{
		&fakeIngestor{name: "finnhub", quotes: rawQuotes("AAPL", "finnhub", 100)},
		&fakeIngestor{name: "yahoo", quotes: rawQuotes("AAPL", "yahoo", 102)},
	}

	sched := newTestScheduler(t, Config{Symbols: []string{"AAPL"}}, ingestors, publisher)
	require.NoError(t, sched.RunOnce(context.Background()))

	assert.Empty(t, publisher.published())
}

func TestRunOnceEmptyFetch(t *testing.T) {
	publisher := &spyPublisher{}
	sched := newTestScheduler(t, Config{Symbols: []string{"AAPL"}}, nil, publisher)

	require.NoError(t, sched.RunOnce(context.Background()))
	assert.Empty(t, publisher.published())
}

func TestRunOnceDropsUnrecognizedSources(t *testing.T) {
	publisher := &spyPublisher{}
	ingestors := []ingest.Ingestor{
		&fakeIngestor{name: "bloomberg", quotes: rawQuotes("AAPL", "bloomberg", 100, 101, 102)},
	}

	sched := newTestScheduler(t, Config{Symbols: []string{"AAPL"}}, ingestors, publisher)
	require.NoError(t, sched.RunOnce(context.Background()))

	assert.Empty(t, publisher.published())
}

type fakeStreamer struct {
	ch chan domain.RawQuote
}

func (f *fakeStreamer) Name() string                   { return "fake-stream" }
func (f *fakeStreamer) Quotes() <-chan domain.RawQuote { return f.ch }
func (f *fakeStreamer) Start() error                   { return nil }
func (f *fakeStreamer) Stop() error                    { close(f.ch); return nil }

func TestStreamedQuotesMergeIntoCycle(t *testing.T) {
	publisher := &spyPublisher{}
	ingestors := []ingest.Ingestor{
		&fakeIngestor{name: "finnhub", quotes: rawQuotes("AAPL", "finnhub", 100)},
		&fakeIngestor{name: "yahoo", quotes: rawQuotes("AAPL", "yahoo", 102)},
	}
	sched := newTestScheduler(t, Config{Symbols: []string{"AAPL"}}, ingestors, publisher)

	streamer := &fakeStreamer{ch: make(chan domain.RawQuote, 4)}
	sched.ConsumeStream(streamer)
	streamer.ch <- rawQuotes("AAPL", "mock", 98)[0]
	require.NoError(t, streamer.Stop())

	// The consume goroutine drains a closed channel promptly; wait for
	// the buffered quote to land.
	require.Eventually(t, func() bool {
		sched.streamMu.Lock()
		defer sched.streamMu.Unlock()
		return len(sched.streamed) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, sched.RunOnce(context.Background()))
	require.Len(t, publisher.published(), 1)
	assert.Equal(t, uint64(1_000_000), publisher.published()[0].Price)
}

func TestStopReturnsAfterStreamStops(t *testing.T) {
	publisher := &spyPublisher{}
	sched := newTestScheduler(t, Config{Symbols: []string{"AAPL"}, Interval: time.Hour}, nil, publisher)

	stream := ingest.NewQuoteStream("ws://127.0.0.1:1/feed", "stream", nil, zerolog.Nop())
	sched.ConsumeStream(stream)
	sched.Start()

	// Stopping the stream closes its quotes channel, which releases the
	// consumer goroutine the scheduler waits on.
	require.NoError(t, stream.Stop())

	done := make(chan struct{})
	go func() {
		sched.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler Stop blocked on the stream consumer")
	}
}

func TestDoubleStartIsNoOp(t *testing.T) {
	publisher := &spyPublisher{}
	ingestors := []ingest.Ingestor{
		&fakeIngestor{name: "finnhub", quotes: rawQuotes("AAPL", "finnhub", 100)},
		&fakeIngestor{name: "yahoo", quotes: rawQuotes("AAPL", "yahoo", 101)},
		&fakeIngestor{name: "mock", quotes: rawQuotes("AAPL", "mock", 102)},
	}

	sched := newTestScheduler(t, Config{Symbols: []string{"AAPL"}, Interval: time.Hour}, ingestors, publisher)
	sched.Start()
	sched.Start()
	defer sched.Stop()

	// Only the single immediate cycle ran.
	require.Eventually(t, func() bool {
		return len(publisher.published()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, publisher.published(), 1)
}

func TestStopPreventsFurtherCycles(t *testing.T) {
	publisher := &spyPublisher{}
	ingestors := []ingest.Ingestor{
		&fakeIngestor{name: "finnhub", quotes: rawQuotes("AAPL", "finnhub", 100)},
		&fakeIngestor{name: "yahoo", quotes: rawQuotes("AAPL", "yahoo", 101)},
		&fakeIngestor{name: "mock", quotes: rawQuotes("AAPL", "mock", 102)},
	}

	sched := newTestScheduler(t, Config{Symbols: []string{"AAPL"}, Interval: 20 * time.Millisecond}, ingestors, publisher)
	sched.Start()
	require.Eventually(t, func() bool {
		return len(publisher.published()) >= 1
	}, 2*time.Second, 5*time.Millisecond)
	sched.Stop()

	count := len(publisher.published())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, count, len(publisher.published()))

	// Stop on a stopped scheduler is harmless.
	sched.Stop()
}

func TestOverlappingTickSkipped(t *testing.T) {
	block := make(chan struct{})
	publisher := &spyPublisher{}
	slow := &slowIngestor{release: block}

	sched := newTestScheduler(t, Config{Symbols: []string{"AAPL"}}, []ingest.Ingestor{slow}, publisher)

	done := make(chan struct{})
	go func() {
		sched.runGuarded(context.Background())
		close(done)
	}()

	// Wait until the first cycle holds the in-flight lock, then a
	// second tick must be skipped immediately.
	require.Eventually(t, func() bool {
		return slow.started()
	}, 2*time.Second, time.Millisecond)

	skipped := make(chan struct{})
	go func() {
		sched.runGuarded(context.Background())
		close(skipped)
	}()
	select {
	case <-skipped:
	case <-time.After(2 * time.Second):
		t.Fatal("overlapping tick was not skipped")
	}

	close(block)
	<-done
}

type slowIngestor struct {
	release <-chan struct{}

	mu      sync.Mutex
	running bool
}

func (s *slowIngestor) Name() string { return "slow" }

func (s *slowIngestor) FetchQuotes(ctx context.Context, _ []string) ([]domain.RawQuote, error) {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return nil, nil
}

func (s *slowIngestor) started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
