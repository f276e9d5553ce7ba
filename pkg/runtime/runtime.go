// Package runtime assembles a managed application process from a
// config.Bridge: the bus transport, the host loop, the application context
// and its observability endpoints.
package runtime

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/fluxorio/appbridge/pkg/application"
	"github.com/fluxorio/appbridge/pkg/appmanager"
	"github.com/fluxorio/appbridge/pkg/bus"
	"github.com/fluxorio/appbridge/pkg/config"
	"github.com/fluxorio/appbridge/pkg/core"
	"github.com/fluxorio/appbridge/pkg/lifecycle"
	"github.com/fluxorio/appbridge/pkg/loop"
	"github.com/fluxorio/appbridge/pkg/observability/prometheus"
	"github.com/fluxorio/appbridge/pkg/observability/tracing"
)

var ErrRuntimeAlreadyStarted = errors.New("runtime has already been started")
var ErrRuntimeNotStarted = errors.New("runtime is not started")

const (
	runtimeStateIdle uint32 = iota
	runtimeStateStarting
	runtimeStateStarted
	runtimeStateStopping
	runtimeStateStopped
)

var stateNames = map[uint32]string{
	runtimeStateIdle:     "idle",
	runtimeStateStarting: "starting",
	runtimeStateStarted:  "started",
	runtimeStateStopping: "stopping",
	runtimeStateStopped:  "stopped",
}

// statsInterval is how often loop statistics are copied into the gauges
const statsInterval = time.Second

type Options struct {
	Config   *config.Bridge
	Handlers *lifecycle.Handlers
	UserData any
	Logger   core.Logger

	// Bus replaces the transport built from Config.Bus. The caller keeps
	// ownership of it.
	Bus bus.Bus

	// TraceWriter receives exported spans when tracing is enabled.
	// Default: os.Stdout
	TraceWriter io.Writer

	// MetricsListener serves the admin endpoints instead of listening on
	// Config.Metrics.Listen
	MetricsListener net.Listener
}

// Status represents a snapshot of the runtime's state.
type Status struct {
	State     string
	AppID     string
	Phase     application.Phase
	Transport string
	Loop      loop.Stats

	// Dropped counts inbound bus messages lost to a full buffer or queue
	Dropped int64
}

// Runtime owns everything a managed application needs while it runs
type Runtime struct {
	opts   Options
	cfg    *config.Bridge
	logger core.Logger
	state  uint32

	mu       sync.RWMutex
	bus      bus.Bus
	closeBus func() error
	loop     *loop.Loop
	manager  *appmanager.Manager
	app      *application.Application
	metrics  *prometheus.Metrics
	server   *fasthttp.Server
	stopSpan func(context.Context) error

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRuntime validates opts.Config and returns an idle Runtime
func NewRuntime(opts Options) (*Runtime, error) {
	if opts.Config == nil {
		return nil, errors.New("runtime: config is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = core.NewDefaultLogger()
	}
	return &Runtime{
		opts:     opts,
		cfg:      opts.Config,
		logger:   logger,
		closeBus: func() error { return nil },
		stopSpan: func(context.Context) error { return nil },
	}, nil
}

// Start brings the runtime up: loop, transport, tracing, metrics and finally
// the application registration. On failure everything started so far is
// torn down again.
func (r *Runtime) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&r.state, runtimeStateIdle, runtimeStateStarting) {
		return ErrRuntimeAlreadyStarted
	}
	if err := r.start(ctx); err != nil {
		r.teardown(ctx)
		atomic.StoreUint32(&r.state, runtimeStateStopped)
		return err
	}
	atomic.StoreUint32(&r.state, runtimeStateStarted)
	r.logger.Infof("runtime started (app %s, transport %s)", r.cfg.AppID, r.transport())
	return nil
}

func (r *Runtime) start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.loop = loop.New(loop.Config{Name: r.cfg.AppID, QueueSize: r.cfg.Loop.QueueSize, Logger: r.logger})
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.loop.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Errorf("loop stopped: %v", err)
		}
	}()

	if err := r.openBus(); err != nil {
		return err
	}

	tracer, stop, err := tracing.Setup(ctx, tracing.Config{
		Enabled:     r.cfg.Tracing.Enabled,
		ServiceName: r.cfg.AppID,
		Pretty:      r.cfg.Tracing.Pretty,
		Writer:      r.opts.TraceWriter,
	})
	if err != nil {
		return err
	}
	r.stopSpan = stop

	appOpts := []application.Option{
		application.WithLogger(r.logger.WithFields(map[string]interface{}{"appId": r.cfg.AppID})),
		application.WithTracer(tracer),
		application.WithStrictLowMemory(r.cfg.StrictLowMemory),
	}
	if r.cfg.Metrics.Enabled {
		r.metrics = prometheus.GetMetrics()
		appOpts = append(appOpts, application.WithMetrics(r.metrics))
		if err := r.serveAdmin(runCtx); err != nil {
			return err
		}
	}

	id := application.Identity{AppID: r.cfg.AppID, ServiceName: r.cfg.ServiceName}
	app, err := application.Init(r.bus, id, r.opts.Handlers, r.opts.UserData, appOpts...)
	if err != nil {
		return err
	}
	r.app = app
	return app.Attach(r.loop)
}

// openBus picks the transport. The memory transport has nobody to talk to,
// so it gets an in-process Application Manager on the same loop.
func (r *Runtime) openBus() error {
	if r.opts.Bus != nil {
		r.bus = r.opts.Bus
		return nil
	}

	switch r.cfg.Bus.Transport {
	case config.TransportNATS:
		b, err := bus.NewNATSBus(bus.NATSConfig{
			URL:          r.cfg.Bus.URL,
			Prefix:       r.cfg.Bus.Prefix,
			Name:         r.cfg.Bus.Name,
			Timeout:      r.cfg.Bus.ConnectTimeout,
			PendingLimit: r.cfg.Bus.PendingLimit,
			Logger:       r.logger,
		})
		if err != nil {
			return err
		}
		r.bus = b
		r.closeBus = b.Close
	default:
		b := bus.NewMemoryBus(bus.MemoryConfig{PendingLimit: r.cfg.Bus.PendingLimit, Logger: r.logger})
		m, err := appmanager.New(b, appmanager.Config{Logger: r.logger})
		if err != nil {
			return err
		}
		if err := m.Attach(r.loop); err != nil {
			return err
		}
		r.bus = b
		r.manager = m
	}
	return nil
}

// Stop cleans up the application and releases everything Start acquired
func (r *Runtime) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&r.state, runtimeStateStarted, runtimeStateStopping) {
		return ErrRuntimeNotStarted
	}
	r.teardown(ctx)
	atomic.StoreUint32(&r.state, runtimeStateStopped)
	r.logger.Infof("runtime stopped")
	return nil
}

func (r *Runtime) teardown(ctx context.Context) {
	r.mu.RLock()
	app, manager, server, cancel := r.app, r.manager, r.server, r.cancel
	r.mu.RUnlock()

	if app != nil {
		app.Cleanup()
	}
	if manager != nil {
		if err := manager.Close(); err != nil {
			r.logger.Warnf("application manager close: %v", err)
		}
	}
	if server != nil {
		if err := server.ShutdownWithContext(ctx); err != nil {
			r.logger.Warnf("admin server shutdown: %v", err)
		}
	}
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	if err := r.closeBus(); err != nil {
		r.logger.Warnf("bus close: %v", err)
	}
	if err := r.stopSpan(ctx); err != nil {
		r.logger.Warnf("tracer shutdown: %v", err)
	}
}

func (r *Runtime) transport() string {
	if r.opts.Bus != nil {
		return "external"
	}
	return r.cfg.Bus.Transport
}

// Status returns a snapshot of the runtime
func (r *Runtime) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Status{
		State:     stateNames[atomic.LoadUint32(&r.state)],
		AppID:     r.cfg.AppID,
		Phase:     application.PhaseUnregistered,
		Transport: r.transport(),
	}
	if r.app != nil {
		s.Phase = r.app.Phase()
	}
	if r.loop != nil {
		s.Loop = r.loop.Stats()
	}
	if dc, ok := r.bus.(bus.DropCounter); ok {
		s.Dropped = dc.Dropped()
	}
	return s
}

// Application returns the application context, nil before Start
func (r *Runtime) Application() *application.Application {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.app
}

// Manager returns the in-process Application Manager of the memory
// transport, nil otherwise
func (r *Runtime) Manager() *appmanager.Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.manager
}

// Loop returns the host loop, nil before Start
func (r *Runtime) Loop() *loop.Loop {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loop
}
