package application

import (
	"context"

	"github.com/fluxorio/appbridge/pkg/bus"
	"github.com/fluxorio/appbridge/pkg/payload"
)

// statusPayload reports the registration phase to /status callers
func (a *Application) statusPayload(phase Phase, subscribed *bool) (string, error) {
	fields := map[string]any{
		"returnValue": true,
		"appId":       a.id.AppID,
		"serviceName": a.id.ServiceName,
		"phase":       string(phase),
	}
	if subscribed != nil {
		fields["subscribed"] = *subscribed
	}
	return bus.BuildPayload(fields)
}

// handleStatus answers /status. Subscribing callers also get a post on
// every phase change.
func (a *Application) handleStatus(ctx context.Context, msg bus.Message) {
	_, span := a.startSpan(ctx, VariantStatus, msg)
	defer span.End()

	if _, err := payload.Parse(msg.Payload()); err != nil {
		a.record(span, VariantStatus, OutcomeMalformed)
		a.reply(msg, bus.ReplyBadJSON)
		return
	}

	subscribed := a.status.Process(MethodStatus, msg)
	body, err := a.statusPayload(a.Phase(), &subscribed)
	if err != nil {
		a.logger.Errorf("status: %v", err)
		a.status.Cancel(msg)
		a.record(span, VariantStatus, OutcomeInvalid)
		a.reply(msg, bus.ReplyInternalError)
		return
	}
	a.record(span, VariantStatus, OutcomeReplied)
	if err := msg.Reply(body); err != nil {
		a.logger.Errorf("failed to reply to %s: %v", msg.Sender(), err)
		a.status.Cancel(msg)
	}
}

func (a *Application) postStatus(phase Phase) {
	if a.status.Count(MethodStatus) == 0 {
		return
	}
	body, err := a.statusPayload(phase, nil)
	if err != nil {
		a.logger.Errorf("status: %v", err)
		return
	}
	n := a.status.Post(MethodStatus, body)
	a.logger.Debugf("posted phase %s to %d status subscribers", phase, n)
}
