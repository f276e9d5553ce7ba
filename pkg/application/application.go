// Package application registers a process as a managed application with the
// platform Application Manager and turns the manager's lifecycle
// notifications into calls on the application's Handlers.
//
// Registration is a two-phase handshake. Init claims the service name on the
// bus and sends a subscribing call to the manager; the first reply that
// reports {"returnValue":true,"subscribed":true} moves the application from
// Registering to Active. From then on every reply on that call is a
// lifecycle event. The manager may also call the /handleEvent method
// directly with the same payload shape.
//
// At most one Application exists per process. All inbound work runs on the
// loop passed to Attach.
package application

import (
	"context"
	"errors"
	"sync"

	"github.com/tidwall/sjson"

	"github.com/fluxorio/appbridge/pkg/bus"
	"github.com/fluxorio/appbridge/pkg/core"
	"github.com/fluxorio/appbridge/pkg/fsm"
	"github.com/fluxorio/appbridge/pkg/lifecycle"
	"github.com/fluxorio/appbridge/pkg/loop"
)

// Application Manager endpoints and the methods exposed by the application
const (
	ManagerService   = "com.palm.applicationManager"
	RegisterEndpoint = "luna://" + ManagerService + "/registerApplication"

	MethodHandleEvent = "/handleEvent"
	MethodStatus      = "/status"
)

const tracerName = "github.com/fluxorio/appbridge/pkg/application"

// Phase is the registration phase
type Phase = fsm.State

// Registration phases
const (
	PhaseUnregistered Phase = "unregistered"
	PhaseRegistering  Phase = "registering"
	PhaseActive       Phase = "active"
)

const (
	eventRegister    fsm.Event = "register"
	eventAcknowledge fsm.Event = "acknowledge"
)

// Identity names the application. ServiceName defaults to AppID.
type Identity struct {
	AppID       string
	ServiceName string
}

func (id Identity) serviceName() string {
	if id.ServiceName == "" {
		return id.AppID
	}
	return id.ServiceName
}

var (
	currentMu sync.Mutex
	current   *Application
)

// Application is the process-wide registered application.
//
// Thread-safety:
//   - currentMu guards the singleton slot
//   - mu guards the bus handle and the closing flag
//   - the phase is owned by the state machine
//
// Callbacks run without any of these locks held, so a callback may call
// Cleanup.
type Application struct {
	id       Identity
	handlers *lifecycle.Handlers
	userData any
	opts     options
	logger   core.Logger

	machine *fsm.Machine
	status  *bus.SubscriptionSet

	mu      sync.Mutex
	handle  bus.Handle
	closing bool
}

// Init registers the application on b and starts the handshake.
//
// It fails with core.ErrAlreadyInitialized if an application exists,
// core.ErrInvalidIdentity if id.AppID is empty and
// core.ErrBusRegistrationFailed if the service name cannot be claimed. If
// the subscribing call cannot be sent, everything is released and a
// core.ErrTransport error is returned. A failed Init leaves no state behind.
//
// h may be nil; every event is then ignored.
func Init(b bus.Bus, id Identity, h *lifecycle.Handlers, userData any, opts ...Option) (*Application, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = core.NewDefaultLogger()
	}

	currentMu.Lock()
	defer currentMu.Unlock()

	if current != nil {
		return nil, core.ErrAlreadyInitialized
	}
	if err := core.ValidateAppID(id.AppID); err != nil {
		return nil, err
	}
	if b == nil {
		return nil, core.ErrBusRegistrationFailed.Wrap(errors.New("bus cannot be nil"))
	}

	logger := o.logger.WithFields(map[string]interface{}{"app_id": id.AppID})

	handle, err := b.Register(id.serviceName())
	if err != nil {
		logger.Warnf("failed to register service object %s: %v", id.serviceName(), err)
		return nil, core.ErrBusRegistrationFailed.Wrap(err)
	}

	app := &Application{
		id:       Identity{AppID: id.AppID, ServiceName: id.serviceName()},
		handlers: h,
		userData: userData,
		opts:     o,
		logger:   logger,
		status:   bus.NewSubscriptionSet(logger),
		handle:   handle,
	}
	app.machine = app.newMachine()

	if err := handle.RegisterMethod(MethodHandleEvent, app.handleEvent); err != nil {
		app.release()
		return nil, core.ErrBusRegistrationFailed.Wrap(err)
	}
	if err := handle.RegisterMethod(MethodStatus, app.handleStatus); err != nil {
		app.release()
		return nil, core.ErrBusRegistrationFailed.Wrap(err)
	}

	if _, err := app.machine.Fire(context.Background(), eventRegister, nil); err != nil {
		app.release()
		return nil, err
	}

	body, err := subscribePayload(id.AppID)
	if err != nil {
		app.release()
		return nil, core.ErrTransport.Wrap(err)
	}
	if err := handle.Call(RegisterEndpoint, body, app.onManagerReply); err != nil {
		logger.Errorf("failed to register application events handler: %v", err)
		app.release()
		return nil, core.ErrTransport.Wrap(err)
	}

	current = app
	logger.Infof("registering with %s as %s", ManagerService, app.id.ServiceName)
	return app, nil
}

func subscribePayload(appID string) (string, error) {
	body, err := sjson.Set(`{"subscribe":true}`, "appId", appID)
	if err != nil {
		return "", err
	}
	return body, nil
}

func (a *Application) newMachine() *fsm.Machine {
	m := fsm.New("appbridge:"+a.id.AppID, PhaseUnregistered)
	m.When(PhaseUnregistered, eventRegister).GoTo(PhaseRegistering)
	m.When(PhaseRegistering, eventAcknowledge).GoTo(PhaseActive).If(func(data any) bool {
		ack, ok := data.(acknowledgement)
		return ok && ack.accepted()
	})
	m.OnChange(a.onPhaseChange)
	return m
}

func (a *Application) onPhaseChange(c fsm.Change) {
	a.logger.Infof("phase %s -> %s", c.From, c.To)
	a.opts.metrics.PhaseChanged(c.To)
	a.postStatus(c.To)
}

// Current returns the registered application, if any
func Current() (*Application, bool) {
	currentMu.Lock()
	defer currentMu.Unlock()
	return current, current != nil
}

// Attach binds the current application to l.
// It fails with core.ErrNotInitialized before Init.
func Attach(l *loop.Loop) error {
	app, ok := Current()
	if !ok {
		return core.ErrNotInitialized
	}
	return app.Attach(l)
}

// Cleanup tears down the current application, if any. It is idempotent.
func Cleanup() {
	currentMu.Lock()
	defer currentMu.Unlock()
	if current == nil {
		return
	}
	current.release()
	current = nil
}

// ID returns the application identity
func (a *Application) ID() Identity {
	return a.id
}

// Phase returns the current registration phase
func (a *Application) Phase() Phase {
	return a.machine.State()
}

// Handle returns the application id and bus handle. ok is false once the
// application has been cleaned up.
func (a *Application) Handle() (appID string, h bus.Handle, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closing || a.handle == nil {
		return "", nil, false
	}
	return a.id.AppID, a.handle, true
}

// Attach binds delivery of manager replies and method calls to l.
// Messages that arrived before Attach are delivered in order once attached.
func (a *Application) Attach(l *loop.Loop) error {
	a.mu.Lock()
	h := a.handle
	closing := a.closing
	a.mu.Unlock()

	if closing || h == nil {
		return core.ErrNotInitialized
	}
	if err := h.Attach(l); err != nil {
		a.logger.Errorf("failed to attach to loop %s: %v", l.Name(), err)
		return core.ErrTransport.Wrap(err)
	}
	return nil
}

// Cleanup releases the bus handle and, if a is the current application,
// frees the singleton slot. It is idempotent and safe to call from a
// lifecycle callback.
func (a *Application) Cleanup() {
	currentMu.Lock()
	defer currentMu.Unlock()
	a.release()
	if current == a {
		current = nil
	}
}

func (a *Application) release() {
	a.mu.Lock()
	if a.closing {
		a.mu.Unlock()
		return
	}
	a.closing = true
	h := a.handle
	a.handle = nil
	a.mu.Unlock()

	a.machine.Reset()
	a.status.Clear()

	if h != nil {
		if err := h.Unregister(); err != nil {
			a.logger.Errorf("failed to unregister service object %s: %v", h.Name(), err)
		}
	}
}

func (a *Application) isClosing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closing
}
