package application

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/fluxorio/appbridge/pkg/bus"
	"github.com/fluxorio/appbridge/pkg/core"
	"github.com/fluxorio/appbridge/pkg/lifecycle"
	"github.com/fluxorio/appbridge/pkg/loop"
)

func TestInit_SendsSubscribingCall(t *testing.T) {
	env := newTestEnv(t)
	app := env.init(t, nil)

	if app.Phase() != PhaseRegistering {
		t.Errorf("Phase() = %s, want %s", app.Phase(), PhaseRegistering)
	}

	reg := env.registration(t)
	if reg.Payload() != `{"subscribe":true,"appId":"com.example.app"}` {
		t.Errorf("payload = %s", reg.Payload())
	}
	if reg.Sender() != testAppID {
		t.Errorf("sender = %q, want %q", reg.Sender(), testAppID)
	}
	if !bus.IsSubscription(reg) {
		t.Error("registration call must be a subscribing call")
	}
}

func TestInit_ServiceNameOverride(t *testing.T) {
	env := newTestEnv(t)
	app, err := Init(env.bus, Identity{AppID: testAppID, ServiceName: "com.example.app.container"}, nil, nil,
		WithLogger(core.NewNopLogger()))
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	_ = app.Attach(env.loop)

	reg := env.registration(t)
	if reg.Sender() != "com.example.app.container" {
		t.Errorf("sender = %q", reg.Sender())
	}
	if got := gjson.Get(reg.Payload(), "appId").String(); got != testAppID {
		t.Errorf("appId = %q, want %q", got, testAppID)
	}
	if app.ID().ServiceName != "com.example.app.container" {
		t.Errorf("ID().ServiceName = %q", app.ID().ServiceName)
	}
}

func TestInit_EscapesAppID(t *testing.T) {
	body, err := subscribePayload(`app"with\quotes`)
	if err != nil {
		t.Fatalf("subscribePayload() error = %v", err)
	}
	if !gjson.Valid(body) {
		t.Fatalf("invalid json: %s", body)
	}
	if got := gjson.Get(body, "appId").String(); got != `app"with\quotes` {
		t.Errorf("appId = %q", got)
	}
}

func TestInit_RejectsSecondInit(t *testing.T) {
	env := newTestEnv(t)
	first := env.init(t, nil)
	env.registration(t)
	services := len(env.bus.Services())

	second, err := Init(env.bus, Identity{AppID: "com.example.other"}, nil, nil, WithLogger(core.NewNopLogger()))
	if !errors.Is(err, core.ErrAlreadyInitialized) {
		t.Fatalf("second Init() error = %v, want ErrAlreadyInitialized", err)
	}
	if second != nil {
		t.Error("second Init() returned an application")
	}

	cur, ok := Current()
	if !ok || cur != first {
		t.Error("Current() changed after rejected Init")
	}
	if first.Phase() != PhaseRegistering {
		t.Errorf("Phase() = %s, want %s", first.Phase(), PhaseRegistering)
	}
	if got := len(env.bus.Services()); got != services {
		t.Errorf("services = %d, want %d", got, services)
	}
	select {
	case msg := <-env.calls:
		t.Errorf("rejected Init sent %s", msg.Payload())
	default:
	}
}

func TestInit_InvalidIdentity(t *testing.T) {
	env := newTestEnv(t)

	_, err := Init(env.bus, Identity{}, nil, nil, WithLogger(core.NewNopLogger()))
	if !errors.Is(err, core.ErrInvalidIdentity) {
		t.Fatalf("Init() error = %v, want ErrInvalidIdentity", err)
	}
	if _, ok := Current(); ok {
		t.Error("Current() should be empty")
	}
	if len(env.bus.Services()) != 1 {
		t.Errorf("services = %v, want only the manager", env.bus.Services())
	}
}

func TestInit_BusRegistrationFailed(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.bus.Register(testAppID); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	_, err := Init(env.bus, Identity{AppID: testAppID}, nil, nil, WithLogger(core.NewNopLogger()))
	if !errors.Is(err, core.ErrBusRegistrationFailed) {
		t.Fatalf("Init() error = %v, want ErrBusRegistrationFailed", err)
	}
	if !errors.Is(err, core.ErrServiceExists) {
		t.Errorf("Init() error = %v, want cause ErrServiceExists", err)
	}
	if _, ok := Current(); ok {
		t.Error("Current() should be empty")
	}

	_, err = Init(nil, Identity{AppID: testAppID}, nil, nil, WithLogger(core.NewNopLogger()))
	if !errors.Is(err, core.ErrBusRegistrationFailed) {
		t.Errorf("Init(nil bus) error = %v, want ErrBusRegistrationFailed", err)
	}
}

func TestInit_CallFailureReleasesEverything(t *testing.T) {
	b := bus.NewMemoryBus(bus.MemoryConfig{Logger: core.NewNopLogger()})
	t.Cleanup(Cleanup)

	_, err := Init(b, Identity{AppID: testAppID}, nil, nil, WithLogger(core.NewNopLogger()))
	if !errors.Is(err, core.ErrTransport) {
		t.Fatalf("Init() error = %v, want ErrTransport", err)
	}
	if !errors.Is(err, core.ErrServiceNotFound) {
		t.Errorf("Init() error = %v, want cause ErrServiceNotFound", err)
	}
	if _, ok := Current(); ok {
		t.Error("Current() should be empty")
	}
	if len(b.Services()) != 0 {
		t.Errorf("services = %v, want none", b.Services())
	}
}

func TestAttach_NotInitialized(t *testing.T) {
	l := loop.New(loop.DefaultConfig())

	if err := Attach(l); !errors.Is(err, core.ErrNotInitialized) {
		t.Errorf("Attach() error = %v, want ErrNotInitialized", err)
	}

	env := newTestEnv(t)
	app := env.init(t, nil)
	app.Cleanup()
	if err := app.Attach(env.loop); !errors.Is(err, core.ErrNotInitialized) {
		t.Errorf("Attach() after Cleanup error = %v, want ErrNotInitialized", err)
	}
}

func TestAttach_OtherLoopFails(t *testing.T) {
	env := newTestEnv(t)
	env.init(t, nil)

	other := loop.New(loop.Config{Name: "other", Logger: core.NewNopLogger()})
	if err := Attach(other); !errors.Is(err, core.ErrTransport) {
		t.Errorf("Attach(other) error = %v, want ErrTransport", err)
	}
	if err := Attach(env.loop); err != nil {
		t.Errorf("Attach(same loop) error = %v", err)
	}
}

func TestHandle(t *testing.T) {
	env := newTestEnv(t)
	app := env.init(t, nil)

	id, h, ok := app.Handle()
	if !ok || id != testAppID || h == nil || h.Name() != testAppID {
		t.Errorf("Handle() = %q, %v, %v", id, h, ok)
	}

	Cleanup()
	if _, _, ok := app.Handle(); ok {
		t.Error("Handle() should fail after Cleanup")
	}
}

func TestScenario_AckThenRelaunch(t *testing.T) {
	env := newTestEnv(t)
	rec := &recorder{}
	app := env.init(t, rec.handlers())

	reg := env.activate(t, app)
	env.send(t, reg, `{"event":"relaunched","parameters":"foo=bar"}`)

	if got := rec.snapshot(); !reflect.DeepEqual(got, []string{"relaunch"}) {
		t.Fatalf("calls = %v, want [relaunch]", got)
	}
	if rec.params[0] != "foo=bar" {
		t.Errorf("parameters = %q, want foo=bar", rec.params[0])
	}
	if rec.data[0] != "user-data" {
		t.Errorf("userData = %v", rec.data[0])
	}
}

func TestScenario_FailedAckKeepsRegistering(t *testing.T) {
	env := newTestEnv(t)
	rec := &recorder{}
	metrics := newRecordingMetrics()
	app := env.init(t, rec.handlers(), WithMetrics(metrics))

	reg := env.registration(t)
	env.send(t, reg, `{"returnValue":false,"subscribed":true}`)
	if app.Phase() != PhaseRegistering {
		t.Fatalf("Phase() = %s, want %s", app.Phase(), PhaseRegistering)
	}

	env.send(t, reg, `{"event":"activating"}`)
	if app.Phase() != PhaseRegistering {
		t.Fatalf("Phase() = %s, want %s", app.Phase(), PhaseRegistering)
	}
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("callbacks fired while registering: %v", got)
	}
	if n := metrics.message(VariantSubscription, OutcomeAckRejected); n != 2 {
		t.Errorf("rejected acks = %d, want 2", n)
	}

	env.send(t, reg, `{"returnValue":true,"subscribed":true}`)
	if app.Phase() != PhaseActive {
		t.Fatalf("Phase() = %s, want %s", app.Phase(), PhaseActive)
	}
}

func TestAck_RequiresBooleans(t *testing.T) {
	env := newTestEnv(t)
	app := env.init(t, nil)
	reg := env.registration(t)

	for _, p := range []string{
		`{"returnValue":"true","subscribed":true}`,
		`{"returnValue":true}`,
		`{"returnValue":true,"subscribed":1}`,
		`{"returnValue":true,"subscribed":false}`,
		`[true,true]`,
	} {
		env.send(t, reg, p)
		if app.Phase() != PhaseRegistering {
			t.Fatalf("%s moved phase to %s", p, app.Phase())
		}
	}
}

func TestMalformedPayloadNeverDispatches(t *testing.T) {
	env := newTestEnv(t)
	rec := &recorder{}
	metrics := newRecordingMetrics()
	app := env.init(t, rec.handlers(), WithMetrics(metrics))

	malformed := []string{
		``,
		`   `,
		`{`,
		`{"event":"activating"`,
		`event=activating`,
		`{"event":"suspending",}`,
	}

	reg := env.registration(t)
	for _, p := range malformed {
		env.send(t, reg, p)
	}
	if app.Phase() != PhaseRegistering {
		t.Fatalf("Phase() = %s, want %s", app.Phase(), PhaseRegistering)
	}

	env.send(t, reg, `{"returnValue":true,"subscribed":true}`)
	for _, p := range malformed {
		env.send(t, reg, p)
	}
	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("callbacks fired for malformed payloads: %v", got)
	}
	if n := metrics.message(VariantSubscription, OutcomeMalformed); n != 2*len(malformed) {
		t.Errorf("malformed = %d, want %d", n, 2*len(malformed))
	}
	if app.Phase() != PhaseActive {
		t.Errorf("Phase() = %s, want %s", app.Phase(), PhaseActive)
	}
}

func TestPhaseMonotonic(t *testing.T) {
	env := newTestEnv(t)
	metrics := newRecordingMetrics()
	app := env.init(t, (&recorder{}).handlers(), WithMetrics(metrics))
	reg := env.registration(t)

	inputs := []string{
		`{"event":"activating"}`,
		`not json`,
		`{"returnValue":false,"subscribed":false}`,
		`{"returnValue":true,"subscribed":true}`,
		`{"returnValue":true,"subscribed":true}`,
		`{"event":"suspending"}`,
		`{"returnValue":false,"subscribed":false}`,
		`{"event":"lowmemory","state":"low"}`,
		`{}`,
	}
	for _, p := range inputs {
		env.send(t, reg, p)
	}

	want := []Phase{PhaseRegistering, PhaseActive}
	if got := metrics.phaseHistory(); !reflect.DeepEqual(got, want) {
		t.Errorf("phase history = %v, want %v", got, want)
	}
	if app.Phase() != PhaseActive {
		t.Errorf("Phase() = %s, want %s", app.Phase(), PhaseActive)
	}

	app.Cleanup()
	want = append(want, PhaseUnregistered)
	if got := metrics.phaseHistory(); !reflect.DeepEqual(got, want) {
		t.Errorf("phase history after Cleanup = %v, want %v", got, want)
	}
}

func TestDispatchExactness_OnlySuspend(t *testing.T) {
	env := newTestEnv(t)
	suspends := 0
	h := &lifecycle.Handlers{Suspend: func(any) { suspends++ }}
	app := env.init(t, h)

	reg := env.activate(t, app)
	env.send(t, reg, `{"event":"activating"}`)
	env.send(t, reg, `{"event":"suspending"}`)
	env.send(t, reg, `{"event":"deactivating"}`)

	if suspends != 1 {
		t.Errorf("suspend called %d times, want 1", suspends)
	}
}

func TestLowMemory(t *testing.T) {
	env := newTestEnv(t)
	rec := &recorder{}
	app := env.init(t, rec.handlers())
	reg := env.activate(t, app)

	env.send(t, reg, `{"event":"lowmemory","state":"critical"}`)
	env.send(t, reg, `{"event":"lowmemory","state":"low"}`)
	env.send(t, reg, `{"event":"lowmemory","state":"mild"}`)
	env.send(t, reg, `{"event":"lowmemory"}`)
	env.send(t, reg, `{"event":"lowmemory","state":3}`)

	want := []lifecycle.LowMemoryState{lifecycle.Critical, lifecycle.Low, lifecycle.Normal}
	if !reflect.DeepEqual(rec.states, want) {
		t.Errorf("states = %v, want %v", rec.states, want)
	}
}

func TestLowMemory_Strict(t *testing.T) {
	env := newTestEnv(t)
	rec := &recorder{}
	app := env.init(t, rec.handlers(), WithStrictLowMemory(true))
	reg := env.activate(t, app)

	env.send(t, reg, `{"event":"lowmemory","state":"mild"}`)
	env.send(t, reg, `{"event":"lowmemory","state":"normal"}`)

	want := []lifecycle.LowMemoryState{lifecycle.Normal}
	if !reflect.DeepEqual(rec.states, want) {
		t.Errorf("states = %v, want %v", rec.states, want)
	}
}

func TestRelaunchRequiresParameters(t *testing.T) {
	env := newTestEnv(t)
	rec := &recorder{}
	app := env.init(t, rec.handlers())
	reg := env.activate(t, app)

	env.send(t, reg, `{"event":"relaunched"}`)
	env.send(t, reg, `{"event":"relaunched","parameters":{"a":1}}`)
	env.send(t, reg, `{"parameters":"x"}`)
	env.send(t, reg, `{"event":"rebooting"}`)

	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("calls = %v, want none", got)
	}
}

func TestCallbackPanicKeepsLoopRunning(t *testing.T) {
	env := newTestEnv(t)
	activations := 0
	h := &lifecycle.Handlers{
		Suspend:  func(any) { panic("boom") },
		Activate: func(any) { activations++ },
	}
	metrics := newRecordingMetrics()
	app := env.init(t, h, WithMetrics(metrics))
	reg := env.activate(t, app)

	env.send(t, reg, `{"event":"suspending"}`)
	env.send(t, reg, `{"event":"activating"}`)

	if activations != 1 {
		t.Errorf("activate called %d times, want 1", activations)
	}
	if n := metrics.message(VariantSubscription, OutcomePanic); n != 1 {
		t.Errorf("panics = %d, want 1", n)
	}
}

func TestCleanup_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	rec := &recorder{}
	app := env.init(t, rec.handlers())
	reg := env.activate(t, app)

	Cleanup()
	Cleanup()
	app.Cleanup()

	if _, ok := Current(); ok {
		t.Error("Current() should be empty")
	}
	if app.Phase() != PhaseUnregistered {
		t.Errorf("Phase() = %s, want %s", app.Phase(), PhaseUnregistered)
	}
	for _, name := range env.bus.Services() {
		if name == testAppID {
			t.Error("service name still registered")
		}
	}

	if err := reg.Reply(`{"event":"activating"}`); !errors.Is(err, core.ErrHandleClosed) {
		t.Errorf("Reply() after Cleanup error = %v, want ErrHandleClosed", err)
	}
	env.flush(t)
	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("calls after Cleanup = %v", got)
	}

	// A fresh Init works after cleanup.
	next := env.init(t, nil)
	if next == app {
		t.Error("Init() returned the released application")
	}
}

func TestCleanup_FromCallback(t *testing.T) {
	env := newTestEnv(t)
	var calls []string
	h := &lifecycle.Handlers{
		Suspend:  func(any) { calls = append(calls, "suspend"); Cleanup() },
		Activate: func(any) { calls = append(calls, "activate") },
	}
	app := env.init(t, h)
	reg := env.activate(t, app)

	// Both replies are queued before either is handled.
	_ = reg.Reply(`{"event":"suspending"}`)
	_ = reg.Reply(`{"event":"activating"}`)
	env.flush(t)

	if !reflect.DeepEqual(calls, []string{"suspend"}) {
		t.Errorf("calls = %v, want [suspend]", calls)
	}
	if _, ok := Current(); ok {
		t.Error("Current() should be empty")
	}
}

func TestUserDataIsPassedThrough(t *testing.T) {
	env := newTestEnv(t)
	type state struct{ n int }
	st := &state{}
	h := &lifecycle.Handlers{Activate: func(d any) { d.(*state).n++ }}

	app, err := Init(env.bus, Identity{AppID: testAppID}, h, st, WithLogger(core.NewNopLogger()))
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	_ = app.Attach(env.loop)
	reg := env.activate(t, app)
	env.send(t, reg, `{"event":"activating"}`)

	if st.n != 1 {
		t.Errorf("n = %d, want 1", st.n)
	}
}

func TestBufferedBeforeAttach(t *testing.T) {
	env := newTestEnv(t)
	rec := &recorder{}
	app, err := Init(env.bus, Identity{AppID: testAppID}, rec.handlers(), nil, WithLogger(core.NewNopLogger()))
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	reg := env.registration(t)
	_ = reg.Reply(`{"returnValue":true,"subscribed":true}`)
	_ = reg.Reply(`{"event":"activating"}`)
	env.flush(t)
	if app.Phase() != PhaseRegistering {
		t.Fatalf("Phase() = %s before Attach, want %s", app.Phase(), PhaseRegistering)
	}

	if err := app.Attach(env.loop); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	env.flush(t)
	if app.Phase() != PhaseActive {
		t.Errorf("Phase() = %s, want %s", app.Phase(), PhaseActive)
	}
	if got := rec.snapshot(); !reflect.DeepEqual(got, []string{"activate"}) {
		t.Errorf("calls = %v, want [activate]", got)
	}
}

func TestSpanPerInboundMessage(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	env := newTestEnv(t)
	app := env.init(t, nil, WithTracer(tp.Tracer("test")))
	reg := env.activate(t, app)
	env.send(t, reg, `{"event":"activating"}`)

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	want := []string{OutcomeAck, OutcomeIgnored}
	for i, s := range spans {
		if s.Name != "appbridge.inbound" {
			t.Errorf("span %d name = %q", i, s.Name)
		}
		attrs := make(map[attribute.Key]attribute.Value)
		for _, kv := range s.Attributes {
			attrs[kv.Key] = kv.Value
		}
		if got := attrs["appbridge.outcome"].AsString(); got != want[i] {
			t.Errorf("span %d outcome = %q, want %q", i, got, want[i])
		}
		if got := attrs["appbridge.variant"].AsString(); got != VariantSubscription {
			t.Errorf("span %d variant = %q", i, got)
		}
	}
	if got := spans[1].Attributes; !containsAttr(got, attribute.String("appbridge.event", "activating")) {
		t.Errorf("event attribute missing: %v", got)
	}
}

func containsAttr(attrs []attribute.KeyValue, want attribute.KeyValue) bool {
	for _, kv := range attrs {
		if kv == want {
			return true
		}
	}
	return false
}
