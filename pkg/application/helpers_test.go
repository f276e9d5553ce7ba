package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fluxorio/appbridge/pkg/bus"
	"github.com/fluxorio/appbridge/pkg/core"
	"github.com/fluxorio/appbridge/pkg/lifecycle"
	"github.com/fluxorio/appbridge/pkg/loop"
)

const testAppID = "com.example.app"

// testEnv is an in-memory bus with a fake Application Manager on one loop
type testEnv struct {
	bus     *bus.MemoryBus
	loop    *loop.Loop
	manager bus.Handle
	calls   chan bus.Message
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	b := bus.NewMemoryBus(bus.MemoryConfig{Logger: core.NewNopLogger()})
	l := loop.New(loop.Config{Name: "main", QueueSize: 256, Logger: core.NewNopLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	mgr, err := b.Register(ManagerService)
	if err != nil {
		t.Fatalf("Register(manager) error = %v", err)
	}
	if err := mgr.Attach(l); err != nil {
		t.Fatalf("Attach(manager) error = %v", err)
	}
	calls := make(chan bus.Message, 8)
	if err := mgr.RegisterMethod("/registerApplication", func(_ context.Context, msg bus.Message) {
		calls <- msg
	}); err != nil {
		t.Fatalf("RegisterMethod() error = %v", err)
	}

	t.Cleanup(Cleanup)
	return &testEnv{bus: b, loop: l, manager: mgr, calls: calls}
}

func (e *testEnv) init(t *testing.T, h *lifecycle.Handlers, opts ...Option) *Application {
	t.Helper()

	opts = append([]Option{WithLogger(core.NewNopLogger())}, opts...)
	app, err := Init(e.bus, Identity{AppID: testAppID}, h, "user-data", opts...)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := app.Attach(e.loop); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	return app
}

// registration waits for the subscribing call to reach the manager
func (e *testEnv) registration(t *testing.T) bus.Message {
	t.Helper()
	select {
	case msg := <-e.calls:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("registration call never reached the manager")
		return nil
	}
}

// activate completes the handshake and returns the registration call
func (e *testEnv) activate(t *testing.T, app *Application) bus.Message {
	t.Helper()
	reg := e.registration(t)
	e.send(t, reg, `{"returnValue":true,"subscribed":true}`)
	if app.Phase() != PhaseActive {
		t.Fatalf("Phase() = %s, want %s", app.Phase(), PhaseActive)
	}
	return reg
}

// send replies on the registration call and waits until it is handled
func (e *testEnv) send(t *testing.T, reg bus.Message, payload string) {
	t.Helper()
	if err := reg.Reply(payload); err != nil {
		t.Fatalf("Reply(%s) error = %v", payload, err)
	}
	e.flush(t)
}

// callMethod invokes a method of the application as the manager and
// returns the reply payload
func (e *testEnv) callMethod(t *testing.T, method, payload string) string {
	t.Helper()

	replies := make(chan string, 8)
	err := e.manager.Call("luna://"+testAppID+method, payload, func(_ context.Context, msg bus.Message) {
		replies <- msg.Payload()
	})
	if err != nil {
		t.Fatalf("Call(%s) error = %v", method, err)
	}
	select {
	case r := <-replies:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("no reply from %s", method)
		return ""
	}
}

func (e *testEnv) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.loop.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
}

// recorder captures callback invocations
type recorder struct {
	mu     sync.Mutex
	calls  []string
	params []string
	states []lifecycle.LowMemoryState
	data   []any
}

func (r *recorder) add(name string, userData any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
	r.data = append(r.data, userData)
}

func (r *recorder) handlers() *lifecycle.Handlers {
	return &lifecycle.Handlers{
		Activate:   func(d any) { r.add("activate", d) },
		Deactivate: func(d any) { r.add("deactivate", d) },
		Suspend:    func(d any) { r.add("suspend", d) },
		Relaunch: func(p string, d any) {
			r.mu.Lock()
			r.params = append(r.params, p)
			r.mu.Unlock()
			r.add("relaunch", d)
		},
		LowMemory: func(s lifecycle.LowMemoryState, d any) {
			r.mu.Lock()
			r.states = append(r.states, s)
			r.mu.Unlock()
			r.add("lowmemory", d)
		},
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// recordingMetrics captures metric updates
type recordingMetrics struct {
	mu       sync.Mutex
	messages map[string]int
	events   map[string]int
	phases   []Phase
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{messages: make(map[string]int), events: make(map[string]int)}
}

func (m *recordingMetrics) MessageReceived(variant, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[variant+"/"+outcome]++
}

func (m *recordingMetrics) EventClassified(event string, dispatched bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if dispatched {
		m.events[event]++
	}
}

func (m *recordingMetrics) PhaseChanged(phase Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phases = append(m.phases, phase)
}

func (m *recordingMetrics) message(variant, outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messages[variant+"/"+outcome]
}

func (m *recordingMetrics) phaseHistory() []Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Phase(nil), m.phases...)
}
