// Package appmanager is a stand-in for the platform Application Manager.
//
// It serves /registerApplication on com.palm.applicationManager, keeps the
// subscribing call of every registered application and pushes lifecycle
// events down those calls. It can also deliver events through an
// application's /handleEvent method.
package appmanager

import (
	"context"
	"sort"
	"sync"

	"github.com/fluxorio/appbridge/pkg/application"
	"github.com/fluxorio/appbridge/pkg/bus"
	"github.com/fluxorio/appbridge/pkg/core"
	"github.com/fluxorio/appbridge/pkg/lifecycle"
	"github.com/fluxorio/appbridge/pkg/loop"
	"github.com/fluxorio/appbridge/pkg/payload"
)

// MethodRegisterApplication is the registration method path
const MethodRegisterApplication = "/registerApplication"

// Config configures a Manager
type Config struct {
	Logger core.Logger

	// RejectRegistrations answers registrations with returnValue false.
	// Rejected applications stay known and can be accepted later with
	// Acknowledge.
	RejectRegistrations bool
}

// Manager is a simulated Application Manager
type Manager struct {
	handle bus.Handle
	cfg    Config
	logger core.Logger

	mu   sync.Mutex
	apps map[string]*registration
}

type registration struct {
	appID    string
	service  string
	call     bus.Message
	accepted bool
}

// New registers the manager service on b
func New(b bus.Bus, cfg Config) (*Manager, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = core.NewDefaultLogger()
	}

	h, err := b.Register(application.ManagerService)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		handle: h,
		cfg:    cfg,
		logger: logger,
		apps:   make(map[string]*registration),
	}
	if err := h.RegisterMethod(MethodRegisterApplication, m.register); err != nil {
		_ = h.Unregister()
		return nil, err
	}
	return m, nil
}

// Attach binds the manager to l
func (m *Manager) Attach(l *loop.Loop) error {
	return m.handle.Attach(l)
}

// Close unregisters the manager service
func (m *Manager) Close() error {
	m.mu.Lock()
	m.apps = make(map[string]*registration)
	m.mu.Unlock()
	return m.handle.Unregister()
}

func (m *Manager) register(_ context.Context, msg bus.Message) {
	v, err := payload.Parse(msg.Payload())
	if err != nil {
		m.logger.Warnf("registerApplication: malformed payload from %s", msg.Sender())
		m.reply(msg, bus.ReplyBadJSON)
		return
	}
	appID, err := v.String("appId")
	if err != nil || appID == "" || !bus.IsSubscription(msg) {
		m.logger.Warnf("registerApplication: invalid request from %s: %s", msg.Sender(), msg.Payload())
		m.reply(msg, bus.ReplyInvalidParams)
		return
	}

	reg := &registration{
		appID:    appID,
		service:  msg.Sender(),
		call:     msg,
		accepted: !m.cfg.RejectRegistrations,
	}
	m.mu.Lock()
	m.apps[appID] = reg
	m.mu.Unlock()

	if reg.accepted {
		m.logger.Infof("registered %s (service %s)", appID, reg.service)
		m.reply(msg, func(msg bus.Message) error { return msg.Reply(AckPayload(true)) })
		return
	}
	m.logger.Infof("rejected registration of %s", appID)
	m.reply(msg, func(msg bus.Message) error { return msg.Reply(AckPayload(false)) })
}

// AckPayload is the registration answer sent on the subscribing call
func AckPayload(accepted bool) string {
	if accepted {
		return `{"returnValue":true,"subscribed":true}`
	}
	return `{"returnValue":false,"subscribed":false,"errorText":"Registration refused."}`
}

func (m *Manager) reply(msg bus.Message, send func(bus.Message) error) {
	if err := send(msg); err != nil {
		m.logger.Errorf("failed to reply to %s: %v", msg.Sender(), err)
	}
}

func (m *Manager) lookup(appID string) (*registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.apps[appID]
	if !ok {
		return nil, &core.Error{Code: core.CodeServiceNotFound, Message: "application not registered: " + appID}
	}
	return reg, nil
}

func (m *Manager) forget(reg *registration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.apps[reg.appID] == reg {
		delete(m.apps, reg.appID)
	}
}

// Registered returns the ids of known applications, sorted
func (m *Manager) Registered() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.apps))
	for id := range m.apps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Acknowledge sends a successful registration answer to appID
func (m *Manager) Acknowledge(appID string) error {
	reg, err := m.lookup(appID)
	if err != nil {
		return err
	}
	if err := reg.call.Reply(AckPayload(true)); err != nil {
		m.forget(reg)
		return err
	}
	m.mu.Lock()
	reg.accepted = true
	m.mu.Unlock()
	return nil
}

// Notify pushes e down appID's subscribing call. An application that can no
// longer be reached is forgotten.
func (m *Manager) Notify(appID string, e lifecycle.Event) error {
	reg, err := m.lookup(appID)
	if err != nil {
		return err
	}
	body, err := lifecycle.Encode(e)
	if err != nil {
		return err
	}
	return m.NotifyRaw(reg.appID, body)
}

// NotifyRaw pushes an arbitrary payload down appID's subscribing call
func (m *Manager) NotifyRaw(appID, body string) error {
	reg, err := m.lookup(appID)
	if err != nil {
		return err
	}
	if err := reg.call.Reply(body); err != nil {
		m.logger.Warnf("forgetting %s: %v", appID, err)
		m.forget(reg)
		return err
	}
	return nil
}

// Broadcast notifies every registered application and returns how many
// were reached
func (m *Manager) Broadcast(e lifecycle.Event) int {
	n := 0
	for _, id := range m.Registered() {
		if err := m.Notify(id, e); err == nil {
			n++
		}
	}
	return n
}

// HandleEvent delivers e by calling appID's /handleEvent method.
// onReply receives the application's answer.
func (m *Manager) HandleEvent(appID string, e lifecycle.Event, onReply bus.ReplyHandler) error {
	body, err := lifecycle.Encode(e)
	if err != nil {
		return err
	}
	return m.HandleEventRaw(appID, body, onReply)
}

// HandleEventRaw calls appID's /handleEvent method with body as is
func (m *Manager) HandleEventRaw(appID, body string, onReply bus.ReplyHandler) error {
	reg, err := m.lookup(appID)
	if err != nil {
		return err
	}
	ep := bus.Endpoint{Service: reg.service, Method: application.MethodHandleEvent}
	return m.handle.Call(ep.String(), body, onReply)
}
