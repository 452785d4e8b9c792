package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/lumenrwa/pricefeed/internal/domain"
)

const defaultFetchTimeout = 10 * time.Second

// GuardedConfig tunes the protective wrapper around a provider client.
type GuardedConfig struct {
	FetchTimeout time.Duration
	// RequestsPerSecond throttles calls to the provider. Zero disables
	// throttling.
	RequestsPerSecond float64
	// BreakerFailures is the consecutive-failure count that opens the
	// circuit.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Guarded wraps an Ingestor with a per-call timeout, a rate limiter,
// and a circuit breaker, so one misbehaving provider cannot stall or
// hammer a cycle.
type Guarded struct {
	inner   Ingestor
	timeout time.Duration
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// NewGuarded wraps inner with the protective layers.
func NewGuarded(inner Ingestor, cfg GuardedConfig, log zerolog.Logger) *Guarded {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	componentLog := log.With().Str("component", "ingestor").Str("provider", inner.Name()).Logger()

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    inner.Name(),
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			componentLog.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Provider circuit breaker state changed")
		},
	})

	return &Guarded{
		inner:   inner,
		timeout: cfg.FetchTimeout,
		limiter: limiter,
		breaker: breaker,
		log:     componentLog,
	}
}

// Name returns the wrapped provider's name.
func (g *Guarded) Name() string { return g.inner.Name() }

// FetchQuotes applies the rate limit, then runs the provider call
// through the breaker under a deadline.
func (g *Guarded) FetchQuotes(ctx context.Context, symbols []string) ([]domain.RawQuote, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, &ProviderError{Provider: g.Name(), Err: err}
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.inner.FetchQuotes(fetchCtx, symbols)
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
			return nil, ErrIngestionTimeout
		}
		return nil, &ProviderError{Provider: g.Name(), Err: err}
	}

	return result.([]domain.RawQuote), nil
}
