// Package metrics holds the Prometheus instruments for the feeder.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all Prometheus metrics for the price feeder.
type Registry struct {
	registry *prometheus.Registry

	CyclesTotal   prometheus.Counter
	CyclesSkipped prometheus.Counter
	CycleDuration prometheus.Histogram

	FetchErrors     *prometheus.CounterVec
	QuotesIngested  *prometheus.CounterVec
	QuotesRejected  prometheus.Counter
	SymbolsSkipped  prometheus.Counter
	PublishFailures prometheus.Counter
	PublishesTotal  prometheus.Counter

	Confidence *prometheus.GaugeVec
}

// NewRegistry creates and registers all feeder metrics.
func NewRegistry() *Registry {
	r := prometheus.NewRegistry()

	m := &Registry{
		registry: r,
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricefeed_cycles_total",
			Help: "Total fetch-aggregate-publish cycles executed",
		}),
		CyclesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricefeed_cycles_skipped_total",
			Help: "Ticks skipped because a cycle was still in flight",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pricefeed_cycle_duration_seconds",
			Help:    "Duration of full cycles in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pricefeed_fetch_errors_total",
			Help: "Provider fetch failures after retries, by provider",
		}, []string{"provider"}),
		QuotesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pricefeed_quotes_ingested_total",
			Help: "Raw quotes successfully fetched, by provider",
		}, []string{"provider"}),
		QuotesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricefeed_quotes_rejected_total",
			Help: "Raw quotes dropped during normalization",
		}),
		SymbolsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricefeed_symbols_skipped_total",
			Help: "Symbols omitted from a cycle because aggregation failed",
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricefeed_publish_failures_total",
			Help: "Downstream publish errors",
		}),
		PublishesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricefeed_publishes_total",
			Help: "Consensus prices handed to the publisher",
		}),
		Confidence: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pricefeed_consensus_confidence",
			Help: "Confidence score of the latest consensus, by symbol",
		}, []string{"symbol"}),
	}

	r.MustRegister(
		m.CyclesTotal,
		m.CyclesSkipped,
		m.CycleDuration,
		m.FetchErrors,
		m.QuotesIngested,
		m.QuotesRejected,
		m.SymbolsSkipped,
		m.PublishFailures,
		m.PublishesTotal,
		m.Confidence,
	)

	return m
}

// Handler serves the /metrics endpoint for this registry.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
