// Package bus is the message-bus collaborator used to reach the platform
// Application Manager.
//
// A Bus hands out service Handles. A Handle can call methods on other
// services, expose methods of its own and is attached to a host event loop;
// every reply and method invocation it receives is delivered on that loop,
// one at a time, in arrival order.
//
// Two transports are provided: MemoryBus (in-process) and NATSBus.
package bus

import (
	"context"

	"github.com/fluxorio/appbridge/pkg/loop"
)

// Message is an inbound bus message: either a reply to an outgoing call or
// an invocation of a registered method.
type Message interface {
	// ID returns a unique message identifier
	ID() string

	// Payload returns the raw message text
	Payload() string

	// Sender returns the service name of the sender, if known
	Sender() string

	// Method returns the method path for invocations and the called
	// endpoint for replies
	Method() string

	// Reply sends payload back to the sender.
	// Returns core.ErrNoReplyAddress for messages that cannot be answered.
	Reply(payload string) error
}

// ReplyHandler receives replies to an outgoing call.
// For subscribing calls it may run many times.
type ReplyHandler func(ctx context.Context, msg Message)

// MethodHandler serves invocations of a registered method
type MethodHandler func(ctx context.Context, msg Message)

// Bus registers service objects
type Bus interface {
	// Register claims serviceName on the bus and returns its handle
	Register(serviceName string) (Handle, error)
}

// DropCounter is implemented by buses that count inbound messages lost to a
// full pre-attach buffer or a full loop queue
type DropCounter interface {
	Dropped() int64
}

// Handle is a registered service object
type Handle interface {
	// Name returns the registered service name
	Name() string

	// Call sends payload to endpoint ("luna://service/method").
	// If payload carries "subscribe": true the call stays open and onReply
	// fires for every reply until the handle is unregistered; otherwise it
	// fires at most once.
	Call(endpoint string, payload string, onReply ReplyHandler) error

	// RegisterMethod exposes a method (e.g. "/handleEvent") on this service
	RegisterMethod(path string, handler MethodHandler) error

	// Attach binds delivery to a host event loop. Messages received before
	// Attach are buffered and delivered, in order, once attached.
	Attach(l *loop.Loop) error

	// Unregister releases the service name and cancels open calls.
	// It is idempotent.
	Unregister() error
}
