/**
 * @description
 * Prometheus collectors for payment outcomes and realtime fan-out. Collectors are
 * created and registered lazily, once per process.
 *
 * @dependencies
 * - github.com/prometheus/client_golang/prometheus: Metric collectors and registry.
 */
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type paymentMetrics struct {
	payments      *prometheus.CounterVec
	batchItems    prometheus.Histogram
	activeStreams *prometheus.GaugeVec
	dropped       *prometheus.CounterVec
	feedEvents    *prometheus.CounterVec
}

var (
	registryOnce sync.Once
	registry     *paymentMetrics
)

// Payments returns the lazily-initialised payment metrics registry.
func Payments() *paymentMetrics {
	registryOnce.Do(func() {
		registry = &paymentMetrics{
			payments: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "backing",
				Subsystem: "payments",
				Name:      "total",
				Help:      "Payments executed segmented by settlement method and outcome kind.",
			}, []string{"method", "outcome"}),
			batchItems: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "backing",
				Subsystem: "payments",
				Name:      "batch_items",
				Help:      "Number of items per batch payment request.",
				Buckets:   []float64{1, 2, 3, 5, 10, 25, 50},
			}),
			activeStreams: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "backing",
				Subsystem: "realtime",
				Name:      "active_streams",
				Help:      "Open server-push connections segmented by stream kind.",
			}, []string{"stream"}),
			dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "backing",
				Subsystem: "realtime",
				Name:      "dropped_events_total",
				Help:      "Events not delivered because a subscriber buffer was full.",
			}, []string{"kind"}),
			feedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "backing",
				Subsystem: "changefeed",
				Name:      "events_total",
				Help:      "Cross-instance ledger events segmented by direction and outcome.",
			}, []string{"direction", "outcome"}),
		}
		prometheus.MustRegister(
			registry.payments,
			registry.batchItems,
			registry.activeStreams,
			registry.dropped,
			registry.feedEvents,
		)
	})
	return registry
}

// RecordPayment counts one executed payment.
func (m *paymentMetrics) RecordPayment(method, outcome string) {
	if m == nil {
		return
	}
	method = strings.TrimSpace(method)
	if method == "" {
		method = "unresolved"
	}
	m.payments.WithLabelValues(method, outcome).Inc()
}

// ObserveBatch records the size of a batch request.
func (m *paymentMetrics) ObserveBatch(items int) {
	if m == nil {
		return
	}
	m.batchItems.Observe(float64(items))
}

// StreamOpened increments the active stream gauge and returns its decrement.
func (m *paymentMetrics) StreamOpened(stream string) func() {
	if m == nil {
		return func() {}
	}
	gauge := m.activeStreams.WithLabelValues(stream)
	gauge.Inc()
	var once sync.Once
	return func() { once.Do(gauge.Dec) }
}

// RecordDropped counts an event a slow subscriber missed.
func (m *paymentMetrics) RecordDropped(kind string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(kind).Inc()
}

// RecordFeedEvent counts a change-feed event.
func (m *paymentMetrics) RecordFeedEvent(direction, outcome string) {
	if m == nil {
		return
	}
	m.feedEvents.WithLabelValues(direction, outcome).Inc()
}
