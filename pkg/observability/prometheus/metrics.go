// Package prometheus exports appbridge metrics in Prometheus format.
package prometheus

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fluxorio/appbridge/pkg/application"
	"github.com/fluxorio/appbridge/pkg/loop"
)

var (
	// DefaultRegistry is the default Prometheus registry
	DefaultRegistry = prometheus.NewRegistry()

	// DefaultRegisterer is the default Prometheus registerer
	DefaultRegisterer = prometheus.WrapRegistererWith(prometheus.Labels{"service": "appbridge"}, DefaultRegistry)

	metricsOnce sync.Once
	metrics     *Metrics
)

// phaseValues maps registration phases to gauge values
var phaseValues = map[application.Phase]float64{
	application.PhaseUnregistered: 0,
	application.PhaseRegistering:  1,
	application.PhaseActive:       2,
}

// Metrics holds all appbridge metrics. It implements application.Metrics.
type Metrics struct {
	// Inbound message metrics
	MessagesTotal *prometheus.CounterVec
	EventsTotal   *prometheus.CounterVec

	// Registration phase (0 unregistered, 1 registering, 2 active)
	Phase prometheus.Gauge

	// Loop metrics
	LoopQueuedTasks    prometheus.Gauge
	LoopCompletedTasks prometheus.Gauge
	LoopRejectedTasks  prometheus.Gauge
	LoopPanickedTasks  prometheus.Gauge
	LoopQueueCapacity  prometheus.Gauge

	// Inbound messages lost before reaching the loop
	BusDroppedMessages prometheus.Gauge
}

var _ application.Metrics = (*Metrics)(nil)

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = NewMetrics(DefaultRegisterer)
	})
	return metrics
}

// NewMetrics creates a new metrics collection
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Metrics{
		MessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appbridge_messages_total",
				Help: "Total number of inbound bus messages",
			},
			[]string{"variant", "outcome"}, // variant: subscription, handle_event, status
		),
		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appbridge_events_total",
				Help: "Total number of classified lifecycle events",
			},
			[]string{"event", "dispatched"},
		),
		Phase: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "appbridge_phase",
				Help: "Registration phase (0 unregistered, 1 registering, 2 active)",
			},
		),
		LoopQueuedTasks: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "appbridge_loop_queued_tasks",
				Help: "Tasks waiting on the event loop",
			},
		),
		LoopCompletedTasks: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "appbridge_loop_completed_tasks",
				Help: "Tasks run by the event loop",
			},
		),
		LoopRejectedTasks: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "appbridge_loop_rejected_tasks",
				Help: "Tasks rejected because the loop queue was full or closed",
			},
		),
		LoopPanickedTasks: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "appbridge_loop_panicked_tasks",
				Help: "Tasks that panicked on the event loop",
			},
		),
		LoopQueueCapacity: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "appbridge_loop_queue_capacity",
				Help: "Event loop queue capacity",
			},
		),
		BusDroppedMessages: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "appbridge_bus_dropped_messages",
				Help: "Inbound bus messages dropped because the pre-attach buffer or loop queue was full",
			},
		),
	}
}

// MessageReceived records an inbound message
func (m *Metrics) MessageReceived(variant, outcome string) {
	m.MessagesTotal.WithLabelValues(variant, outcome).Inc()
}

// EventClassified records a classified lifecycle event
func (m *Metrics) EventClassified(event string, dispatched bool) {
	label := "false"
	if dispatched {
		label = "true"
	}
	m.EventsTotal.WithLabelValues(event, label).Inc()
}

// PhaseChanged records the registration phase
func (m *Metrics) PhaseChanged(phase application.Phase) {
	m.Phase.Set(phaseValues[phase])
}

// UpdateLoopStats copies loop statistics into the loop gauges
func (m *Metrics) UpdateLoopStats(stats loop.Stats) {
	m.LoopQueuedTasks.Set(float64(stats.QueuedTasks))
	m.LoopCompletedTasks.Set(float64(stats.CompletedTasks))
	m.LoopRejectedTasks.Set(float64(stats.RejectedTasks))
	m.LoopPanickedTasks.Set(float64(stats.PanickedTasks))
	m.LoopQueueCapacity.Set(float64(stats.QueueCapacity))
}

// UpdateBusDropped records the bus drop count
func (m *Metrics) UpdateBusDropped(n int64) {
	m.BusDroppedMessages.Set(float64(n))
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.HandlerFor(DefaultRegistry, promhttp.HandlerOpts{})
}
