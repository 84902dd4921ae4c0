// Package metrics exposes Prometheus instrumentation for a backtest
// run: event throughput, order flow and fill volume.
package metrics

import (
	"net/http"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors for one run.
type Metrics struct {
	registry *prometheus.Registry
	logger   log.Logger

	eventsProcessed prometheus.Counter
	ordersSubmitted prometheus.Counter
	ordersRejected  prometheus.Counter
	fills           prometheus.Counter
	fillVolume      prometheus.Counter
	bookDepth       *prometheus.GaugeVec
	deliveryDelay   prometheus.Histogram
}

// New creates and registers the run collectors under namespace.
func New(namespace string) *Metrics {
	logger := log.Root().New("module", "metrics")
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		logger:   logger,

		eventsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_processed_total",
			Help:      "Total simulation events processed",
		}),
		ordersSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_submitted_total",
			Help:      "Total orders submitted to the simulated venue",
		}),
		ordersRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_rejected_total",
			Help:      "Total order rejections reported by the venue",
		}),
		fills: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fills_total",
			Help:      "Total local order fills",
		}),
		fillVolume: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fill_volume_total",
			Help:      "Total filled quantity across local orders",
		}),
		bookDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "book_depth_levels",
			Help:      "Price levels tracked by the local book, by side",
		}, []string{"side"}),
		deliveryDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_delay_ns",
			Help:      "Simulated delay between an event and its knock-on delivery",
			Buckets:   prometheus.ExponentialBuckets(1_000, 4, 12),
		}),
	}

	registry.MustRegister(
		m.eventsProcessed,
		m.ordersSubmitted,
		m.ordersRejected,
		m.fills,
		m.fillVolume,
		m.bookDepth,
		m.deliveryDelay,
	)
	return m
}

// StartServer exposes /metrics on addr in the background.
func (m *Metrics) StartServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			m.logger.Error("metrics server failed", "error", err)
		}
	}()
	m.logger.Info("metrics exposed", "addr", addr)
}

// RecordEvent counts one processed simulation event.
func (m *Metrics) RecordEvent() { m.eventsProcessed.Inc() }

// RecordOrder counts one submitted order.
func (m *Metrics) RecordOrder() { m.ordersSubmitted.Inc() }

// RecordRejection counts one rejection report.
func (m *Metrics) RecordRejection() { m.ordersRejected.Inc() }

// RecordFill counts one local fill of qty units.
func (m *Metrics) RecordFill(qty int64) {
	m.fills.Inc()
	m.fillVolume.Add(float64(qty))
}

// ObserveDelay records one simulated delivery delay in nanoseconds.
func (m *Metrics) ObserveDelay(ns int64) { m.deliveryDelay.Observe(float64(ns)) }

// SetBookDepth publishes the current level count for a side.
func (m *Metrics) SetBookDepth(side string, levels int) {
	m.bookDepth.WithLabelValues(side).Set(float64(levels))
}
