// Package metrics exposes Prometheus instrumentation for the synchronizer
// (spec.md §9 ambient concerns). The driver records against a Registry;
// cmd/walletsyncd serves it over HTTP via promhttp.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the synchronizer's metrics behind one Prometheus
// registry, grounded on the teacher pack's health-logging registry pattern.
type Registry struct {
	registry *prometheus.Registry

	SubscriptionsActive prometheus.Gauge
	BootstrapSeconds    prometheus.Histogram
	EventsTotal         *prometheus.CounterVec
	HistoryFetchesTotal prometheus.Counter
	TxFetchesTotal      prometheus.Counter
}

// New builds and registers every metric.
func New() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		registry: reg,
		SubscriptionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "walletsync_subscriptions_active",
			Help: "Number of scripthashes currently subscribed at the transport.",
		}),
		BootstrapSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "walletsync_bootstrap_seconds",
			Help:    "Wall-clock seconds from engine start to the initial subscribe wave being dispatched.",
			Buckets: prometheus.DefBuckets,
		}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walletsync_events_total",
			Help: "Transport events fed into the engine, by type.",
		}, []string{"type"}),
		HistoryFetchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "walletsync_history_fetches_total",
			Help: "Total blockchain.scripthash.get_history requests issued.",
		}),
		TxFetchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "walletsync_tx_fetches_total",
			Help: "Total blockchain.transaction.get requests issued.",
		}),
	}

	reg.MustRegister(
		m.SubscriptionsActive,
		m.BootstrapSeconds,
		m.EventsTotal,
		m.HistoryFetchesTotal,
		m.TxFetchesTotal,
	)
	return m
}

// Handler returns the HTTP handler serving this registry's metrics in the
// Prometheus text exposition format.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
