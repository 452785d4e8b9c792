// Package scheduler drives the fetch, normalize, aggregate, publish
// cycle. At most one cycle is in flight at a time; ticks that land
// while a cycle is still running are skipped, and a stopped scheduler
// emits no further cycles.
package scheduler

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/lumenrwa/pricefeed/internal/aggregate"
	"github.com/lumenrwa/pricefeed/internal/commit"
	"github.com/lumenrwa/pricefeed/internal/domain"
	"github.com/lumenrwa/pricefeed/internal/history"
	"github.com/lumenrwa/pricefeed/internal/ingest"
	"github.com/lumenrwa/pricefeed/internal/metrics"
	"github.com/lumenrwa/pricefeed/internal/normalize"
	"github.com/lumenrwa/pricefeed/internal/publish"
	"github.com/lumenrwa/pricefeed/internal/retry"
)

// Config tunes the orchestrator.
type Config struct {
	// Interval between cycles. When both Interval and CronExpression
	// are set, the interval wins.
	Interval       time.Duration
	CronExpression string

	Symbols []string

	AggregationOptions aggregate.Options

	// Retry policy applied to each provider fetch.
	Retry retry.Policy

	// OracleDecimals scales prices to integer units for publication.
	OracleDecimals int
}

// Scheduler is the periodic fetch orchestrator.
type Scheduler struct {
	cfg       Config
	ingestors []ingest.Ingestor
	registry  *normalize.Registry
	engine    *aggregate.Engine
	publisher publish.Publisher
	recorder  history.Recorder
	metrics   *metrics.Registry
	log       zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	cron    *cron.Cron

	// inFlight enforces single-flight cycles.
	inFlight sync.Mutex

	// streamed buffers quotes arriving over push transports between
	// cycles.
	streamMu sync.Mutex
	streamed []domain.RawQuote
}

// New creates a scheduler. Recorder may be nil to disable history.
func New(
	cfg Config,
	ingestors []ingest.Ingestor,
	registry *normalize.Registry,
	engine *aggregate.Engine,
	publisher publish.Publisher,
	recorder history.Recorder,
	m *metrics.Registry,
	log zerolog.Logger,
) *Scheduler {
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Policy{MaxAttempts: 3, Delay: time.Second, Mode: retry.ModeExponential}
	}
	if cfg.OracleDecimals == 0 {
		cfg.OracleDecimals = commit.PriceDecimals
	}
	if recorder == nil {
		recorder = history.NopRecorder{}
	}
	return &Scheduler{
		cfg:       cfg,
		ingestors: ingestors,
		registry:  registry,
		engine:    engine,
		publisher: publisher,
		recorder:  recorder,
		metrics:   m,
		log:       log.With().Str("component", "scheduler").Logger(),
	}
}

// ConsumeStream drains a push-transport quote channel into the buffer
// merged into each cycle. The goroutine exits when the stream channel
// closes, so the streamer must be stopped before the scheduler.
func (s *Scheduler) ConsumeStream(streamer ingest.Streamer) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for quote := range streamer.Quotes() {
			s.streamMu.Lock()
			s.streamed = append(s.streamed, quote)
			s.streamMu.Unlock()
		}
	}()
}

// Start launches the cycle loop: one immediate cycle, then recurring
// by interval or cron. A second Start is a no-op with a warning.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn().Msg("Scheduler already started, ignoring")
		return
	}
	s.running = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	switch {
	case s.cfg.Interval > 0:
		s.log.Info().Dur("interval", s.cfg.Interval).Msg("Scheduler started in interval mode")
		s.wg.Add(1)
		go s.intervalLoop(ctx)
	case s.cfg.CronExpression != "":
		s.log.Info().Str("cron", s.cfg.CronExpression).Msg("Scheduler started in cron mode")
		s.startCron(ctx)
	default:
		s.log.Warn().Msg("Neither interval nor cron configured, running single cycle")
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runGuarded(ctx)
		}()
	}
}

// Stop cancels the waiting interval and signals any in-flight cycle.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	cancel()
	s.wg.Wait()
	s.log.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) intervalLoop(ctx context.Context) {
	defer s.wg.Done()

	// First cycle fires immediately.
	s.runGuarded(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runGuarded(ctx)
		}
	}
}

func (s *Scheduler) startCron(ctx context.Context) {
	s.cron = cron.New(cron.WithSeconds())
	_, err := s.cron.AddFunc(s.cfg.CronExpression, func() {
		s.runGuarded(ctx)
	})
	if err != nil {
		s.log.Error().Err(err).Str("cron", s.cfg.CronExpression).Msg("Invalid cron expression, scheduler idle")
		return
	}

	// Immediate first cycle, then the cron cadence.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runGuarded(ctx)
	}()
	s.cron.Start()
}

// runGuarded runs one cycle unless another is already in flight, in
// which case the tick is skipped and counted against the scheduler.
func (s *Scheduler) runGuarded(ctx context.Context) {
	if !s.inFlight.TryLock() {
		s.log.Warn().Msg("Previous cycle still running, skipping tick")
		if s.metrics != nil {
			s.metrics.CyclesSkipped.Inc()
		}
		return
	}
	defer s.inFlight.Unlock()

	if ctx.Err() != nil {
		return
	}

	// Bound each cycle to just under the interval so a slow cycle can
	// never pile up behind the next tick.
	cycleCtx := ctx
	if s.cfg.Interval > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, s.cfg.Interval-100*time.Millisecond)
		defer cancel()
	}

	if err := s.RunOnce(cycleCtx); err != nil {
		// Cycle failures are logged and absorbed; the loop continues.
		s.log.Error().Err(err).Msg("Cycle failed")
	}
}

// RunOnce executes a single fetch-normalize-aggregate-publish cycle.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	cycleID := uuid.NewString()
	started := time.Now()
	log := s.log.With().Str("cycle_id", cycleID).Logger()

	if s.metrics != nil {
		s.metrics.CyclesTotal.Inc()
		defer func() {
			s.metrics.CycleDuration.Observe(time.Since(started).Seconds())
		}()
	}

	raws := s.fetchAll(ctx, log)
	raws = append(raws, s.drainStreamed()...)
	if len(raws) == 0 {
		log.Warn().Msg("No quotes fetched this cycle")
		return nil
	}

	canonical, failures := s.registry.NormalizeBatch(raws)
	if s.metrics != nil {
		s.metrics.QuotesRejected.Add(float64(len(failures)))
	}
	if len(failures) > 0 {
		log.Debug().Int("rejected", len(failures)).Msg("Quotes dropped during normalization")
	}

	bySymbol := make(map[string][]domain.CanonicalQuote)
	for _, q := range canonical {
		bySymbol[q.Symbol] = append(bySymbol[q.Symbol], q)
	}

	results := s.engine.AggregateMany(bySymbol, s.cfg.AggregationOptions)
	if s.metrics != nil {
		s.metrics.SymbolsSkipped.Add(float64(len(bySymbol) - len(results)))
	}

	for symbol, consensus := range results {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.publishOne(ctx, log, symbol, consensus, bySymbol[symbol])
	}

	log.Info().
		Int("raw_quotes", len(raws)).
		Int("symbols", len(bySymbol)).
		Int("published", len(results)).
		Dur("took", time.Since(started)).
		Msg("Cycle completed")
	return nil
}

// fetchAll queries every ingestor concurrently, each wrapped in the
// retry policy. A failing provider is logged and dropped for the
// cycle; the others proceed.
func (s *Scheduler) fetchAll(ctx context.Context, log zerolog.Logger) []domain.RawQuote {
	type fetchResult struct {
		provider string
		quotes   []domain.RawQuote
		err      error
	}

	results := make(chan fetchResult, len(s.ingestors))
	for _, ing := range s.ingestors {
		go func(ing ingest.Ingestor) {
			var quotes []domain.RawQuote
			err := retry.Do(ctx, s.cfg.Retry, func(ctx context.Context) error {
				fetched, fetchErr := ing.FetchQuotes(ctx, s.cfg.Symbols)
				if fetchErr != nil {
					return fetchErr
				}
				quotes = fetched
				return nil
			})
			results <- fetchResult{provider: ing.Name(), quotes: quotes, err: err}
		}(ing)
	}

	var all []domain.RawQuote
	for range s.ingestors {
		result := <-results
		if result.err != nil {
			log.Error().Err(result.err).Str("provider", result.provider).Msg("Provider fetch failed after retries")
			if s.metrics != nil {
				s.metrics.FetchErrors.WithLabelValues(result.provider).Inc()
			}
			continue
		}
		if s.metrics != nil {
			s.metrics.QuotesIngested.WithLabelValues(result.provider).Add(float64(len(result.quotes)))
		}
		all = append(all, result.quotes...)
	}
	return all
}

// drainStreamed takes the quotes buffered from push transports since
// the last cycle.
func (s *Scheduler) drainStreamed() []domain.RawQuote {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	buffered := s.streamed
	s.streamed = nil
	return buffered
}

// publishOne computes the commitment digest and hands the consensus to
// the publisher and the history recorder. Failures increment counters
// and never abort the cycle.
func (s *Scheduler) publishOne(ctx context.Context, log zerolog.Logger, symbol string, consensus domain.ConsensusPrice, quotes []domain.CanonicalQuote) {
	digest, err := commit.Digest(consensus.Price, consensus.ComputedAt, symbol, nil)
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("Failed to compute commitment digest")
		return
	}

	receipt, err := s.publisher.Publish(ctx, publish.Request{
		AssetID:          symbol,
		Price:            scalePrice(consensus.Price, s.cfg.OracleDecimals),
		Timestamp:        consensus.ComputedAt,
		CommitmentDigest: digest,
	})
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("Publish failed")
		if s.metrics != nil {
			s.metrics.PublishFailures.Inc()
		}
		return
	}

	if s.metrics != nil {
		s.metrics.PublishesTotal.Inc()
		s.metrics.Confidence.WithLabelValues(symbol).Set(consensus.Confidence)
	}

	if err := s.recorder.Record(ctx, consensus, quotes, receipt.TxHash); err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("Failed to record consensus history")
	}

	log.Debug().
		Str("symbol", symbol).
		Float64("price", consensus.Price).
		Float64("confidence", consensus.Confidence).
		Str("tx_hash", receipt.TxHash).
		Msg("Consensus published")
}

func scalePrice(price float64, decimals int) uint64 {
	return uint64(math.Round(price * math.Pow(10, float64(decimals))))
}
