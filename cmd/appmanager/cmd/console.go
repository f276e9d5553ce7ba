package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fluxorio/appbridge/pkg/bus"
	"github.com/fluxorio/appbridge/pkg/core"
	"github.com/fluxorio/appbridge/pkg/lifecycle"
)

// manager is the part of appmanager.Manager the console drives
type manager interface {
	Registered() []string
	Acknowledge(appID string) error
	Notify(appID string, e lifecycle.Event) error
	NotifyRaw(appID, body string) error
	HandleEvent(appID string, e lifecycle.Event, onReply bus.ReplyHandler) error
}

type console struct {
	manager manager
	out     io.Writer
	logger  core.Logger
}

// run executes one command per input line until in is exhausted or ctx
// is cancelled
func (c *console) run(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := c.exec(line); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
	if err := scanner.Err(); err != nil {
		c.logger.Warnf("stdin: %v", err)
	}
}

func (c *console) exec(line string) error {
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch verb {
	case "list":
		for _, id := range c.manager.Registered() {
			fmt.Fprintln(c.out, id)
		}
		return nil
	case "ack":
		return c.manager.Acknowledge(rest)
	case "raw":
		appID, body, ok := strings.Cut(rest, " ")
		if !ok {
			return fmt.Errorf("usage: raw <appId> <json>")
		}
		return c.manager.NotifyRaw(appID, strings.TrimSpace(body))
	case "call":
		kind, args, _ := strings.Cut(rest, " ")
		appID, e, err := parseEvent(kind, args)
		if err != nil {
			return err
		}
		return c.manager.HandleEvent(appID, e, func(_ context.Context, msg bus.Message) {
			fmt.Fprintf(c.out, "%s replied %s\n", appID, msg.Payload())
		})
	default:
		appID, e, err := parseEvent(verb, rest)
		if err != nil {
			return err
		}
		return c.manager.Notify(appID, e)
	}
}

// parseEvent reads "<appId> [argument]" for the event named kind
func parseEvent(kind, args string) (string, lifecycle.Event, error) {
	appID, arg, _ := strings.Cut(strings.TrimSpace(args), " ")
	arg = strings.TrimSpace(arg)
	if appID == "" {
		return "", nil, fmt.Errorf("usage: %s <appId>", kind)
	}

	switch kind {
	case lifecycle.KindActivating, "activate":
		return appID, lifecycle.Activating{}, nil
	case lifecycle.KindDeactivating, "deactivate":
		return appID, lifecycle.Deactivating{}, nil
	case lifecycle.KindSuspending, "suspend":
		return appID, lifecycle.Suspending{}, nil
	case lifecycle.KindRelaunched, "relaunch":
		return appID, lifecycle.Relaunched{Parameters: arg}, nil
	case lifecycle.KindLowMemory:
		state, ok := lifecycle.ParseLowMemoryState(arg)
		if !ok {
			return "", nil, fmt.Errorf("unknown memory state %q", arg)
		}
		return appID, lifecycle.LowMemory{State: state}, nil
	default:
		return "", nil, fmt.Errorf("unknown command %q", kind)
	}
}
