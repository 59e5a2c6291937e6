// Package metrics holds the Prometheus collectors of the ledger indexer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nearx-labs/nearx/pkg/db/models/ledger"
)

const namespace = "nearx"

// Metrics is registered on its own registry so tests can create many.
type Metrics struct {
	BlocksProcessed prometheus.Counter
	BalanceEvents   *prometheus.CounterVec
	BlockFailures   *prometheus.CounterVec
	RPCFallbacks    prometheus.Counter
	BlockDuration   prometheus.Histogram
	LastHeight      prometheus.Gauge

	registry *prometheus.Registry
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		BlocksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_processed_total",
			Help:      "Blocks whose balance events were persisted",
		}),
		BalanceEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "balance_events_total",
			Help:      "Balance events written, by cause",
		}, []string{"cause"}),
		BlockFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "block_failures_total",
			Help:      "Block processing attempts that failed, by kind",
		}, []string{"kind"}),
		RPCFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "balance_rpc_fallback_total",
			Help:      "Balance cache misses answered over RPC",
		}),
		BlockDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "block_process_seconds",
			Help:      "Time from decode to persisted events for one block",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		LastHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_processed_height",
			Help:      "Height of the last persisted block",
		}),
	}

	m.registry.MustRegister(
		m.BlocksProcessed,
		m.BalanceEvents,
		m.BlockFailures,
		m.RPCFallbacks,
		m.BlockDuration,
		m.LastHeight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// expose every cause from the start
	for _, c := range ledger.Causes {
		m.BalanceEvents.WithLabelValues(string(c))
	}
	return m
}

// ObserveCacheMiss counts a balance answered over RPC.
func (m *Metrics) ObserveCacheMiss() {
	m.RPCFallbacks.Inc()
}

// ObserveBlock records a persisted block.
func (m *Metrics) ObserveBlock(height uint64, events []*ledger.BalanceEvent, took time.Duration) {
	m.BlocksProcessed.Inc()
	m.BlockDuration.Observe(took.Seconds())
	m.LastHeight.Set(float64(height))
	for _, ev := range events {
		m.BalanceEvents.WithLabelValues(string(ev.Cause)).Inc()
	}
}

// ObserveFailure counts a failed attempt; kind is a consistency kind or "transient".
func (m *Metrics) ObserveFailure(kind string) {
	m.BlockFailures.WithLabelValues(kind).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
