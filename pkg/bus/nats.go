package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fluxorio/appbridge/pkg/core"
	"github.com/fluxorio/appbridge/pkg/loop"
)

// Header keys carried on NATS messages
const (
	HeaderSender    = "X-Sender"
	HeaderMessageID = "X-Message-ID"
)

// NATSConfig configures the NATS-backed Bus.
type NATSConfig struct {
	// URL is the NATS server URL, e.g. "nats://127.0.0.1:4222".
	URL string

	// Prefix is prepended to all subjects. Default: "appbridge".
	Prefix string

	// Name is an optional NATS connection name.
	Name string

	// Timeout bounds the initial connect. Zero uses the nats.go default.
	Timeout time.Duration

	// PendingLimit bounds messages buffered per handle before Attach
	PendingLimit int

	Logger core.Logger
}

// NATSBus is a Bus backed by a NATS connection.
//
// Subject mapping: <prefix>.<service>.<method path with '/' as '.'>, e.g.
// luna://com.palm.applicationManager/registerApplication becomes
// appbridge.com.palm.applicationManager.registerApplication. Methods are
// served through a queue group named after the subject.
//
// Service names are not checked for uniqueness across processes.
type NATSBus struct {
	nc     *nats.Conn
	owned  bool
	prefix string
	cfg    NATSConfig
	logger core.Logger

	dropped atomic.Int64
}

// NewNATSBus connects to NATS and returns a Bus using that connection
func NewNATSBus(cfg NATSConfig) (*NATSBus, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	opts := []nats.Option{}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, nats.Timeout(cfg.Timeout))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, core.ErrTransport.Wrap(err)
	}
	b := NewNATSBusWithConn(nc, cfg)
	b.owned = true
	return b, nil
}

// NewNATSBusWithConn wraps an existing connection. Close does not close it.
func NewNATSBusWithConn(nc *nats.Conn, cfg NATSConfig) *NATSBus {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "appbridge"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = core.NewDefaultLogger()
	}
	return &NATSBus{
		nc:     nc,
		prefix: prefix,
		cfg:    cfg,
		logger: logger,
	}
}

// Conn returns the underlying connection
func (b *NATSBus) Conn() *nats.Conn {
	return b.nc
}

// Register implements Bus
func (b *NATSBus) Register(serviceName string) (Handle, error) {
	if err := core.ValidateServiceName(serviceName); err != nil {
		return nil, err
	}
	if b.nc.IsClosed() {
		return nil, core.ErrTransport.Wrap(nats.ErrConnectionClosed)
	}
	return &natsHandle{
		bus:      b,
		name:     serviceName,
		delivery: newDelivery(serviceName, b.cfg.PendingLimit, b.logger, &b.dropped),
	}, nil
}

// Dropped implements DropCounter
func (b *NATSBus) Dropped() int64 {
	return b.dropped.Load()
}

// Close drains and closes the connection if this bus opened it
func (b *NATSBus) Close() error {
	if !b.owned {
		return nil
	}
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return err
	}
	return nil
}

// Subject returns the NATS subject serving endpoint
func (b *NATSBus) Subject(ep Endpoint) string {
	return b.prefix + "." + ep.Service + "." + strings.ReplaceAll(strings.TrimPrefix(ep.Method, "/"), "/", ".")
}

type natsHandle struct {
	bus      *NATSBus
	name     string
	delivery *delivery

	mu     sync.Mutex
	subs   []*nats.Subscription
	closed bool
}

func (h *natsHandle) Name() string {
	return h.name
}

func (h *natsHandle) RegisterMethod(path string, handler MethodHandler) error {
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

	ep := Endpoint{Service: h.name, Method: path}
	subject := h.bus.Subject(ep)
	sub, err := h.bus.nc.QueueSubscribe(subject, subject, func(nm *nats.Msg) {
		msg := h.newMessage(nm, nm.Header.Get(HeaderSender), path, nm.Reply)
		h.delivery.deliver(func(ctx context.Context) {
			handler(core.WithMessageID(ctx, msg.id), msg)
		})
	})
	if err != nil {
		return core.ErrTransport.Wrap(fmt.Errorf("subscribe %s: %w", subject, err))
	}
	h.subs = append(h.subs, sub)
	return nil
}

func (h *natsHandle) Call(endpoint string, payload string, onReply ReplyHandler) error {
	ep, err := ParseURI(endpoint)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return core.ErrHandleClosed
	}

	nc := h.bus.nc
	inbox := nats.NewInbox()
	sub, err := nc.Subscribe(inbox, func(nm *nats.Msg) {
		if onReply == nil {
			return
		}
		msg := h.newMessage(nm, ep.Service, endpoint, "")
		h.delivery.deliver(func(ctx context.Context) {
			onReply(core.WithMessageID(ctx, msg.id), msg)
		})
	})
	if err != nil {
		return core.ErrTransport.Wrap(err)
	}
	if !IsSubscribePayload(payload) {
		if err := sub.AutoUnsubscribe(1); err != nil {
			_ = sub.Unsubscribe()
			return core.ErrTransport.Wrap(err)
		}
	}

	req := &nats.Msg{
		Subject: h.bus.Subject(ep),
		Reply:   inbox,
		Data:    []byte(payload),
		Header:  nats.Header{},
	}
	req.Header.Set(HeaderSender, h.name)
	req.Header.Set(HeaderMessageID, core.NewMessageID())

	if err := nc.PublishMsg(req); err != nil {
		_ = sub.Unsubscribe()
		return core.ErrTransport.Wrap(err)
	}
	h.track(sub)
	return nil
}

// track remembers sub for Unregister. One-shot calls unsubscribe themselves
// after their reply, so spent subscriptions are pruned here.
func (h *natsHandle) track(sub *nats.Subscription) {
	live := h.subs[:0]
	for _, s := range h.subs {
		if s.IsValid() {
			live = append(live, s)
		}
	}
	for i := len(live); i < len(h.subs); i++ {
		h.subs[i] = nil
	}
	h.subs = append(live, sub)
}

func (h *natsHandle) Attach(l *loop.Loop) error {
	return h.delivery.attach(l)
}

func (h *natsHandle) Unregister() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	subs := h.subs
	h.subs = nil
	h.mu.Unlock()

	h.delivery.close()
	for _, s := range subs {
		// Auto-unsubscribed one-shot calls report ErrBadSubscription here.
		_ = s.Unsubscribe()
	}
	return nil
}

func (h *natsHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *natsHandle) newMessage(nm *nats.Msg, sender, method, reply string) *natsMessage {
	id := nm.Header.Get(HeaderMessageID)
	if id == "" {
		id = core.NewMessageID()
	}
	return &natsMessage{
		id:      id,
		payload: string(nm.Data),
		sender:  sender,
		method:  method,
		reply:   reply,
		handle:  h,
	}
}

type natsMessage struct {
	id      string
	payload string
	sender  string
	method  string
	reply   string
	handle  *natsHandle
}

func (m *natsMessage) ID() string      { return m.id }
func (m *natsMessage) Payload() string { return m.payload }
func (m *natsMessage) Sender() string  { return m.sender }
func (m *natsMessage) Method() string  { return m.method }

func (m *natsMessage) Reply(payload string) error {
	if m.reply == "" {
		return core.ErrNoReplyAddress
	}
	if m.handle.isClosed() {
		return core.ErrHandleClosed
	}

	out := &nats.Msg{
		Subject: m.reply,
		Data:    []byte(payload),
		Header:  nats.Header{},
	}
	out.Header.Set(HeaderSender, m.handle.name)
	out.Header.Set(HeaderMessageID, core.NewMessageID())

	if err := m.handle.bus.nc.PublishMsg(out); err != nil {
		return core.ErrTransport.Wrap(err)
	}
	return nil
}
