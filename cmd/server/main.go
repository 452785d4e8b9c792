// Package main is the entry point for the consensus price feeder. The
// feeder pulls quotes from independent providers on a schedule,
// normalizes them into canonical records, fuses them into a single
// confidence-scored consensus price per symbol, and publishes each
// consensus with a commitment digest to the downstream oracle.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lumenrwa/pricefeed/internal/aggregate"
	"github.com/lumenrwa/pricefeed/internal/cache"
	"github.com/lumenrwa/pricefeed/internal/config"
	"github.com/lumenrwa/pricefeed/internal/history"
	"github.com/lumenrwa/pricefeed/internal/ingest"
	"github.com/lumenrwa/pricefeed/internal/ingest/alphavantage"
	"github.com/lumenrwa/pricefeed/internal/ingest/finnhub"
	"github.com/lumenrwa/pricefeed/internal/ingest/mock"
	"github.com/lumenrwa/pricefeed/internal/ingest/yahoo"
	"github.com/lumenrwa/pricefeed/internal/metrics"
	"github.com/lumenrwa/pricefeed/internal/normalize"
	"github.com/lumenrwa/pricefeed/internal/publish"
	"github.com/lumenrwa/pricefeed/internal/scheduler"
	"github.com/lumenrwa/pricefeed/internal/server"
	"github.com/lumenrwa/pricefeed/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting price feeder")

	// Ingestors. Providers without credentials are left out; the mock
	// provider fills in when nothing real is configured so dev mode
	// produces cycles out of the box.
	var ingestors []ingest.Ingestor
	if cfg.AlphaVantageAPIKey != "" {
		ingestors = append(ingestors, ingest.NewGuarded(
			alphavantage.NewClient(cfg.AlphaVantageAPIKey, log),
			ingest.GuardedConfig{RequestsPerSecond: 0.5},
			log,
		))
	}
	if cfg.FinnhubToken != "" {
		ingestors = append(ingestors, ingest.NewGuarded(
			finnhub.NewClient(cfg.FinnhubToken, log),
			ingest.GuardedConfig{RequestsPerSecond: 1},
			log,
		))
	}
	ingestors = append(ingestors, ingest.NewGuarded(
		yahoo.NewClient(log),
		ingest.GuardedConfig{RequestsPerSecond: 1},
		log,
	))
	if len(ingestors) == 1 || cfg.DevMode {
		ingestors = append(ingestors, mock.NewClient())
		log.Info().Msg("Mock ingestor enabled")
	}

	registry := normalize.NewRegistry(log)
	weights := aggregate.NewWeightRegistry(cfg.SourceWeights)
	lastValue := cache.New()
	engine := aggregate.NewEngine(weights, lastValue, log)
	metricsRegistry := metrics.NewRegistry()

	var publisher publish.Publisher
	if cfg.PublisherEndpoint != "" {
		publisher = publish.NewHTTPPublisher(cfg.PublisherEndpoint, log)
	} else {
		publisher = publish.NewLogPublisher(log)
		log.Warn().Msg("No publisher endpoint configured, running in dry-run mode")
	}

	var recorder history.Recorder = history.NopRecorder{}
	var historyStore *history.Store
	if cfg.HistoryDBPath != "" {
		historyStore, err = history.Open(cfg.HistoryDBPath, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open history store")
		}
		defer historyStore.Close()
		recorder = historyStore
	}

	schedCfg := scheduler.Config{
		Interval: time.Duration(cfg.FetchIntervalMillis) * time.Millisecond,
		Symbols:  cfg.StockSymbols,
		AggregationOptions: aggregate.Options{
			MinSources:   cfg.MinSources,
			WindowMillis: cfg.WindowMillis,
			Method:       cfg.DefaultMethod,
			TrimFraction: &cfg.TrimFraction,
		},
		OracleDecimals: cfg.OracleDecimals,
	}
	if cfg.CronExpression != "" {
		if cfg.IntervalExplicit {
			log.Warn().Msg("Both interval and cron configured, interval wins")
		} else {
			schedCfg.Interval = 0
			schedCfg.CronExpression = cfg.CronExpression
		}
	}

	sched := scheduler.New(schedCfg, ingestors, registry, engine, publisher, recorder, metricsRegistry, log)

	// Optional push transport feeding the same pipeline.
	var stream *ingest.QuoteStream
	if cfg.StreamURL != "" {
		stream = ingest.NewQuoteStream(cfg.StreamURL, "stream", cfg.StockSymbols, log)
		sched.ConsumeStream(stream)
		if err := stream.Start(); err != nil {
			log.Warn().Err(err).Msg("Quote stream not yet connected, reconnecting in background")
		}
	}

	srv := server.New(server.Config{
		Port:      cfg.Port,
		Log:       log,
		LastValue: lastValue,
		History:   historyStore,
		Metrics:   metricsRegistry,
	})
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	sched.Start()
	log.Info().
		Int("providers", len(ingestors)).
		Strs("symbols", cfg.StockSymbols).
		Str("method", string(cfg.DefaultMethod)).
		Msg("Feeder running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// The stream stops first: closing its quotes channel releases the
	// scheduler's consumer goroutine before the scheduler waits on it.
	if stream != nil {
		if err := stream.Stop(); err != nil {
			log.Error().Err(err).Msg("Error stopping quote stream")
		}
	}
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Feeder stopped")
}
