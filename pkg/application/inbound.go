package application

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/appbridge/pkg/bus"
	"github.com/fluxorio/appbridge/pkg/fsm"
	"github.com/fluxorio/appbridge/pkg/lifecycle"
	"github.com/fluxorio/appbridge/pkg/payload"
)

// acknowledgement is the manager's answer to the subscribing call
type acknowledgement struct {
	returnValue bool
	subscribed  bool
}

func (a acknowledgement) accepted() bool {
	return a.returnValue && a.subscribed
}

// parseAcknowledgement reads the ack fields. Both must be booleans.
func parseAcknowledgement(v payload.Value) (acknowledgement, error) {
	rv, err := v.Bool("returnValue")
	if err != nil {
		return acknowledgement{}, err
	}
	sub, err := v.Bool("subscribed")
	if err != nil {
		return acknowledgement{}, err
	}
	return acknowledgement{returnValue: rv, subscribed: sub}, nil
}

func (a *Application) startSpan(ctx context.Context, variant string, msg bus.Message) (context.Context, trace.Span) {
	return a.opts.tracer.Start(ctx, "appbridge.inbound",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("appbridge.app_id", a.id.AppID),
			attribute.String("appbridge.variant", variant),
			attribute.String("appbridge.phase", string(a.Phase())),
			attribute.String("messaging.message_id", msg.ID()),
			attribute.String("messaging.source", msg.Sender()),
			attribute.Int("messaging.message_payload_size_bytes", len(msg.Payload())),
		),
	)
}

func (a *Application) record(span trace.Span, variant, outcome string) {
	span.SetAttributes(attribute.String("appbridge.outcome", outcome))
	a.opts.metrics.MessageReceived(variant, outcome)
}

// onManagerReply handles every reply on the subscribing registration call.
// While Registering a reply can only complete the handshake; once Active it
// is a lifecycle event.
func (a *Application) onManagerReply(ctx context.Context, msg bus.Message) {
	ctx, span := a.startSpan(ctx, VariantSubscription, msg)
	defer span.End()

	if a.isClosing() {
		a.record(span, VariantSubscription, OutcomeClosed)
		return
	}

	v, err := payload.Parse(msg.Payload())
	if err != nil {
		a.logger.Warnf("dropping malformed message from %s: %v", msg.Sender(), err)
		span.RecordError(err)
		a.record(span, VariantSubscription, OutcomeMalformed)
		return
	}

	switch a.Phase() {
	case PhaseRegistering:
		a.acknowledge(ctx, span, v)
	case PhaseActive:
		e, err := lifecycle.Classify(v, a.opts.classify)
		if err != nil {
			a.logger.Warnf("dropping invalid lifecycle message: %v", err)
			span.RecordError(err)
			a.record(span, VariantSubscription, OutcomeInvalid)
			return
		}
		outcome, _ := a.dispatch(span, e)
		a.record(span, VariantSubscription, outcome)
	default:
		a.record(span, VariantSubscription, OutcomeClosed)
	}
}

func (a *Application) acknowledge(ctx context.Context, span trace.Span, v payload.Value) {
	ack, err := parseAcknowledgement(v)
	if err != nil {
		a.logger.Warnf("ignoring registration reply: %v", err)
		a.record(span, VariantSubscription, OutcomeAckRejected)
		return
	}

	if _, err := a.machine.Fire(ctx, eventAcknowledge, ack); err != nil {
		if errors.Is(err, fsm.ErrGuardRejected) {
			a.logger.Warnf("registration not accepted (returnValue=%t, subscribed=%t), waiting for another reply",
				ack.returnValue, ack.subscribed)
		} else {
			a.logger.Errorf("registration reply: %v", err)
		}
		a.record(span, VariantSubscription, OutcomeAckRejected)
		return
	}
	a.record(span, VariantSubscription, OutcomeAck)
}

// dispatch runs the callback for e. It returns the outcome and, for a
// panicking callback, the recovered error.
func (a *Application) dispatch(span trace.Span, e lifecycle.Event) (string, error) {
	span.SetAttributes(attribute.String("appbridge.event", e.Kind()))

	if _, unknown := e.(lifecycle.Unknown); unknown {
		a.logger.Warnf("got unknown event from application manager: %s", e.Kind())
		a.opts.metrics.EventClassified(e.Kind(), false)
		return OutcomeIgnored, nil
	}
	if a.isClosing() {
		return OutcomeClosed, nil
	}

	dispatched, err := lifecycle.Dispatch(e, a.handlers, a.userData)
	a.opts.metrics.EventClassified(e.Kind(), dispatched)
	if err != nil {
		a.logger.Errorf("lifecycle callback failed: %v", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "callback panic")
		return OutcomePanic, err
	}
	if !dispatched {
		a.logger.Debugf("no handler for %s", e.Kind())
		return OutcomeIgnored, nil
	}
	a.logger.Debugf("dispatched %s", e.Kind())
	return OutcomeDispatched, nil
}

// handleEvent serves direct calls from the manager. It replies
// {"returnValue":true} once the event has been handled, or an error text.
func (a *Application) handleEvent(ctx context.Context, msg bus.Message) {
	_, span := a.startSpan(ctx, VariantHandleEvent, msg)
	defer span.End()

	if a.isClosing() {
		a.record(span, VariantHandleEvent, OutcomeClosed)
		return
	}

	v, err := payload.Parse(msg.Payload())
	if err != nil {
		a.logger.Warnf("handleEvent: malformed payload from %s", msg.Sender())
		a.record(span, VariantHandleEvent, OutcomeMalformed)
		a.reply(msg, bus.ReplyBadJSON)
		return
	}

	if phase := a.Phase(); phase != PhaseActive {
		a.logger.Warnf("handleEvent: rejecting event while %s", phase)
		a.record(span, VariantHandleEvent, OutcomeNotActive)
		a.reply(msg, bus.ReplyInternalError)
		return
	}

	e, err := lifecycle.Classify(v, a.opts.classify)
	if err != nil {
		a.logger.Warnf("handleEvent: %v", err)
		a.record(span, VariantHandleEvent, OutcomeInvalid)
		a.reply(msg, bus.ReplyInvalidParams)
		return
	}

	outcome, err := a.dispatch(span, e)
	a.record(span, VariantHandleEvent, outcome)
	if err != nil {
		a.reply(msg, bus.ReplyInternalError)
		return
	}
	a.reply(msg, bus.ReplySuccess)
}

func (a *Application) reply(msg bus.Message, send func(bus.Message) error) {
	if err := send(msg); err != nil {
		a.logger.Errorf("failed to reply to %s: %v", msg.Sender(), err)
	}
}
