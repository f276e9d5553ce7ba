package application

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/appbridge/pkg/core"
	"github.com/fluxorio/appbridge/pkg/lifecycle"
)

// Inbound message variants
const (
	VariantSubscription = "subscription"
	VariantHandleEvent  = "handle_event"
	VariantStatus       = "status"
)

// Inbound message outcomes
const (
	OutcomeAck         = "ack"
	OutcomeAckRejected = "ack_rejected"
	OutcomeDispatched  = "dispatched"
	OutcomeIgnored     = "ignored"
	OutcomeMalformed   = "malformed"
	OutcomeInvalid     = "invalid"
	OutcomeNotActive   = "not_active"
	OutcomePanic       = "panic"
	OutcomeClosed      = "closed"
	OutcomeReplied     = "replied"
)

// Metrics receives counters from the inbound path
type Metrics interface {
	// MessageReceived counts one inbound message by variant and outcome
	MessageReceived(variant, outcome string)

	// EventClassified counts one classified lifecycle event
	EventClassified(event string, dispatched bool)

	// PhaseChanged reports the new registration phase
	PhaseChanged(phase Phase)
}

type nopMetrics struct{}

func (nopMetrics) MessageReceived(string, string) {}
func (nopMetrics) EventClassified(string, bool)   {}
func (nopMetrics) PhaseChanged(Phase)             {}

type options struct {
	logger   core.Logger
	metrics  Metrics
	tracer   trace.Tracer
	classify lifecycle.ClassifyOptions
}

func defaultOptions() options {
	return options{
		metrics: nopMetrics{},
		tracer:  otel.Tracer(tracerName),
	}
}

// Option configures Init
type Option func(*options)

// WithLogger sets the logger. Default: core.NewDefaultLogger().
func WithLogger(logger core.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracer sets the tracer used for inbound message spans.
// Default: the global otel tracer provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithStrictLowMemory makes unrecognized low-memory states a validation
// failure instead of reporting them as Normal.
func WithStrictLowMemory(strict bool) Option {
	return func(o *options) {
		o.classify.StrictLowMemory = strict
	}
}
