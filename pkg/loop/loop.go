// Package loop provides the host event loop that bus deliveries are attached to.
//
// A Loop runs every posted task on the goroutine that called Run, strictly one
// at a time and in post order. Code running on the loop therefore never sees
// concurrent deliveries, which is what the lifecycle protocol relies on.
package loop

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/fluxorio/appbridge/pkg/core"
)

// Task is a unit of work executed on the loop
type Task func(ctx context.Context)

// Config configures a Loop
type Config struct {
	Name      string      // Used in log output
	QueueSize int         // Maximum queued tasks (bounded for backpressure)
	Logger    core.Logger // Defaults to core.NewDefaultLogger()
}

// DefaultConfig returns default loop configuration
func DefaultConfig() Config {
	return Config{
		Name:      "main",
		QueueSize: 1024,
	}
}

// Stats provides statistics about loop activity
type Stats struct {
	QueuedTasks    int64
	CompletedTasks int64
	RejectedTasks  int64
	PanickedTasks  int64
	QueueCapacity  int
}

// Loop is a single-threaded cooperative task loop
type Loop struct {
	name   string
	tasks  chan Task
	logger core.Logger

	mu      sync.RWMutex
	closed  bool
	running atomic.Bool

	queued    int64
	completed int64
	rejected  int64
	panicked  int64
}

// New creates a Loop. Nothing runs until Run is called.
func New(cfg Config) *Loop {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.Name == "" {
		cfg.Name = DefaultConfig().Name
	}
	if cfg.Logger == nil {
		cfg.Logger = core.NewDefaultLogger()
	}
	return &Loop{
		name:   cfg.Name,
		tasks:  make(chan Task, cfg.QueueSize),
		logger: cfg.Logger,
	}
}

// Name returns the loop name
func (l *Loop) Name() string {
	return l.name
}

// Post queues a task without blocking.
// Returns core.ErrLoopFull when the queue is at capacity and
// core.ErrLoopClosed after Close.
func (l *Loop) Post(task Task) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return core.ErrLoopClosed
	}

	select {
	case l.tasks <- task:
		atomic.AddInt64(&l.queued, 1)
		return nil
	default:
		atomic.AddInt64(&l.rejected, 1)
		return core.ErrLoopFull
	}
}

// Run executes queued tasks on the calling goroutine until ctx is cancelled
// or the loop is closed and drained. Returns ctx.Err() on cancellation and
// nil after Close.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return fmt.Errorf("loop %s is already running", l.name)
	}
	defer l.running.Store(false)

	for {
		select {
		case task, ok := <-l.tasks:
			if !ok {
				return nil
			}
			atomic.AddInt64(&l.queued, -1)
			l.execute(ctx, task)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Loop) execute(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&l.panicked, 1)
			l.logger.Errorf("loop %s: task panicked: %v\n%s", l.name, r, debug.Stack())
		}
		atomic.AddInt64(&l.completed, 1)
	}()
	task(ctx)
}

// Flush blocks until every task posted before the call has run.
// Requires Run to be active on another goroutine.
func (l *Loop) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if err := l.Post(func(context.Context) { close(done) }); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks. Tasks already queued still run before Run
// returns. Close is idempotent.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.tasks)
}

// IsClosed reports whether Close has been called
func (l *Loop) IsClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.closed
}

// Stats returns current loop statistics
func (l *Loop) Stats() Stats {
	return Stats{
		QueuedTasks:    atomic.LoadInt64(&l.queued),
		CompletedTasks: atomic.LoadInt64(&l.completed),
		RejectedTasks:  atomic.LoadInt64(&l.rejected),
		PanickedTasks:  atomic.LoadInt64(&l.panicked),
		QueueCapacity:  cap(l.tasks),
	}
}
