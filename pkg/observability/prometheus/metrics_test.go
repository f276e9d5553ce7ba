package prometheus_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/fluxorio/appbridge/pkg/application"
	"github.com/fluxorio/appbridge/pkg/loop"
	"github.com/fluxorio/appbridge/pkg/observability/prometheus"
)

func TestMetrics_Counters(t *testing.T) {
	m := prometheus.NewMetrics(prom.NewRegistry())

	m.MessageReceived(application.VariantSubscription, application.OutcomeAck)
	m.MessageReceived(application.VariantSubscription, application.OutcomeDispatched)
	m.MessageReceived(application.VariantSubscription, application.OutcomeDispatched)
	m.EventClassified("suspending", true)
	m.EventClassified("rebooting", false)

	if got := testutil.ToFloat64(m.MessagesTotal.WithLabelValues("subscription", "dispatched")); got != 2 {
		t.Errorf("dispatched = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.MessagesTotal.WithLabelValues("subscription", "ack")); got != 1 {
		t.Errorf("ack = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.EventsTotal.WithLabelValues("suspending", "true")); got != 1 {
		t.Errorf("suspending = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.EventsTotal.WithLabelValues("rebooting", "false")); got != 1 {
		t.Errorf("rebooting = %v, want 1", got)
	}
}

func TestMetrics_Phase(t *testing.T) {
	m := prometheus.NewMetrics(prom.NewRegistry())

	tests := []struct {
		phase application.Phase
		want  float64
	}{
		{application.PhaseRegistering, 1},
		{application.PhaseActive, 2},
		{application.PhaseUnregistered, 0},
	}
	for _, tt := range tests {
		m.PhaseChanged(tt.phase)
		if got := testutil.ToFloat64(m.Phase); got != tt.want {
			t.Errorf("phase %s = %v, want %v", tt.phase, got, tt.want)
		}
	}
}

func TestMetrics_LoopStats(t *testing.T) {
	m := prometheus.NewMetrics(prom.NewRegistry())

	m.UpdateLoopStats(loop.Stats{QueuedTasks: 3, CompletedTasks: 10, RejectedTasks: 1, PanickedTasks: 2, QueueCapacity: 64})

	if got := testutil.ToFloat64(m.LoopCompletedTasks); got != 10 {
		t.Errorf("completed = %v", got)
	}
	if got := testutil.ToFloat64(m.LoopQueueCapacity); got != 64 {
		t.Errorf("capacity = %v", got)
	}
	if got := testutil.ToFloat64(m.LoopPanickedTasks); got != 2 {
		t.Errorf("panicked = %v", got)
	}

	m.UpdateBusDropped(4)
	if got := testutil.ToFloat64(m.BusDroppedMessages); got != 4 {
		t.Errorf("bus dropped = %v", got)
	}
}

func TestHandler(t *testing.T) {
	m := prometheus.GetMetrics()
	if m != prometheus.GetMetrics() {
		t.Fatal("GetMetrics() must return a single instance")
	}
	m.MessageReceived(application.VariantHandleEvent, application.OutcomeInvalid)

	rec := httptest.NewRecorder()
	prometheus.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`appbridge_messages_total{outcome="invalid",service="appbridge",variant="handle_event"} 1`,
		"appbridge_phase",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
