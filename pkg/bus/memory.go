package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/fluxorio/appbridge/pkg/core"
	"github.com/fluxorio/appbridge/pkg/loop"
)

// MemoryConfig configures an in-process bus
type MemoryConfig struct {
	// PendingLimit bounds messages buffered per handle before Attach
	PendingLimit int
	Logger       core.Logger
}

// MemoryBus is an in-process Bus. Service names are unique per bus.
//
// Thread-safety:
//   - mu protects the services map
//   - each handle guards its own methods and state
type MemoryBus struct {
	mu       sync.RWMutex
	services map[string]*memoryHandle
	cfg      MemoryConfig
	logger   core.Logger
	dropped  atomic.Int64
}

// NewMemoryBus creates an in-process bus
func NewMemoryBus(cfg MemoryConfig) *MemoryBus {
	logger := cfg.Logger
	if logger == nil {
		logger = core.NewDefaultLogger()
	}
	return &MemoryBus{
		services: make(map[string]*memoryHandle),
		cfg:      cfg,
		logger:   logger,
	}
}

// Register implements Bus
func (b *MemoryBus) Register(serviceName string) (Handle, error) {
	if err := core.ValidateServiceName(serviceName); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.services[serviceName]; exists {
		return nil, &core.Error{Code: core.CodeServiceExists, Message: "service name already registered: " + serviceName}
	}

	h := &memoryHandle{
		bus:      b,
		name:     serviceName,
		methods:  make(map[string]MethodHandler),
		delivery: newDelivery(serviceName, b.cfg.PendingLimit, b.logger, &b.dropped),
	}
	b.services[serviceName] = h
	return h, nil
}

// Dropped implements DropCounter
func (b *MemoryBus) Dropped() int64 {
	return b.dropped.Load()
}

// Services returns the registered service names
func (b *MemoryBus) Services() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.services))
	for name := range b.services {
		names = append(names, name)
	}
	return names
}

func (b *MemoryBus) lookup(serviceName string) *memoryHandle {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.services[serviceName]
}

func (b *MemoryBus) release(h *memoryHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.services[h.name] == h {
		delete(b.services, h.name)
	}
}

type memoryHandle struct {
	bus      *MemoryBus
	name     string
	delivery *delivery

	mu      sync.RWMutex
	methods map[string]MethodHandler
	closed  bool
}

func (h *memoryHandle) Name() string {
	return h.name
}

func (h *memoryHandle) RegisterMethod(path string, handler MethodHandler) error {
	if err := core.ValidateMethodPath(path); err != nil {
		return err
	}
	if handler == nil {
		return &core.Error{Code: core.CodeInvalidMethod, Message: "method handler cannot be nil"}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return core.ErrHandleClosed
	}
	h.methods[path] = handler
	return nil
}

func (h *memoryHandle) method(path string) MethodHandler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil
	}
	return h.methods[path]
}

func (h *memoryHandle) Call(endpoint string, payload string, onReply ReplyHandler) error {
	ep, err := ParseURI(endpoint)
	if err != nil {
		return err
	}
	if h.isClosed() {
		return core.ErrHandleClosed
	}

	target := h.bus.lookup(ep.Service)
	if target == nil {
		return &core.Error{Code: core.CodeServiceNotFound, Message: "service does not exist: " + ep.Service}
	}
	handler := target.method(ep.Method)
	if handler == nil {
		return &core.Error{Code: core.CodeInvalidMethod, Message: "unknown method " + ep.Method + " on " + ep.Service}
	}

	call := &memoryCall{
		caller:    h,
		callee:    target.name,
		endpoint:  endpoint,
		onReply:   onReply,
		subscribe: IsSubscribePayload(payload),
	}
	msg := &memoryMessage{
		id:      core.NewMessageID(),
		payload: payload,
		sender:  h.name,
		method:  ep.Method,
		reply:   call.reply,
	}
	target.delivery.deliver(func(ctx context.Context) {
		handler(core.WithMessageID(ctx, msg.id), msg)
	})
	return nil
}

func (h *memoryHandle) Attach(l *loop.Loop) error {
	return h.delivery.attach(l)
}

func (h *memoryHandle) Unregister() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.methods = make(map[string]MethodHandler)
	h.mu.Unlock()

	h.delivery.close()
	h.bus.release(h)
	return nil
}

func (h *memoryHandle) isClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// memoryCall routes replies of one outgoing call back to its caller
type memoryCall struct {
	caller    *memoryHandle
	callee    string
	endpoint  string
	onReply   ReplyHandler
	subscribe bool

	mu       sync.Mutex
	answered bool
}

func (c *memoryCall) reply(payload string) error {
	if c.caller.isClosed() {
		return core.ErrHandleClosed
	}

	c.mu.Lock()
	if c.answered && !c.subscribe {
		c.mu.Unlock()
		return &core.Error{Code: core.CodeNoReplyAddress, Message: "call to " + c.endpoint + " was already answered"}
	}
	c.answered = true
	c.mu.Unlock()

	if c.onReply == nil {
		return nil
	}
	msg := &memoryMessage{
		id:      core.NewMessageID(),
		payload: payload,
		sender:  c.callee,
		method:  c.endpoint,
	}
	c.caller.delivery.deliver(func(ctx context.Context) {
		c.onReply(core.WithMessageID(ctx, msg.id), msg)
	})
	return nil
}

type memoryMessage struct {
	id      string
	payload string
	sender  string
	method  string
	reply   func(payload string) error
}

func (m *memoryMessage) ID() string      { return m.id }
func (m *memoryMessage) Payload() string { return m.payload }
func (m *memoryMessage) Sender() string  { return m.sender }
func (m *memoryMessage) Method() string  { return m.method }

func (m *memoryMessage) Reply(payload string) error {
	if m.reply == nil {
		return core.ErrNoReplyAddress
	}
	return m.reply(payload)
}
