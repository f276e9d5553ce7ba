package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fluxorio/appbridge/pkg/core"
	"github.com/fluxorio/appbridge/pkg/loop"
)

// DefaultPendingLimit bounds messages buffered before a handle is attached
const DefaultPendingLimit = 256

// delivery moves inbound work for one handle onto its attached loop.
// Work arriving before Attach is buffered in order. Messages that cannot be
// buffered or posted are lost; each one is counted in dropped.
type delivery struct {
	name    string
	limit   int
	logger  core.Logger
	dropped *atomic.Int64

	mu      sync.Mutex
	loop    *loop.Loop
	pending []loop.Task
	closed  bool
}

func newDelivery(name string, limit int, logger core.Logger, dropped *atomic.Int64) *delivery {
	if limit < 1 {
		limit = DefaultPendingLimit
	}
	if dropped == nil {
		dropped = new(atomic.Int64)
	}
	return &delivery{name: name, limit: limit, logger: logger, dropped: dropped}
}

func (d *delivery) attach(l *loop.Loop) error {
	if l == nil {
		return fmt.Errorf("loop cannot be nil")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return core.ErrHandleClosed
	}
	if d.loop != nil {
		if d.loop == l {
			return nil
		}
		return &core.Error{Code: core.CodeTransport, Message: "service " + d.name + " is already attached to loop " + d.loop.Name()}
	}
	d.loop = l

	for _, task := range d.pending {
		if err := l.Post(task); err != nil {
			d.dropped.Add(1)
			d.logger.Errorf("bus: dropping buffered message for %s: %v", d.name, err)
		}
	}
	d.pending = nil
	return nil
}

// deliver schedules task on the attached loop. Tasks scheduled before the
// handle closed are skipped if they have not started by the time it does.
func (d *delivery) deliver(task loop.Task) {
	wrapped := func(ctx context.Context) {
		if d.isClosed() {
			return
		}
		task(ctx)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	if d.loop == nil {
		if len(d.pending) >= d.limit {
			d.dropped.Add(1)
			d.logger.Warnf("bus: %s is not attached and its buffer is full, dropping message", d.name)
			return
		}
		d.pending = append(d.pending, wrapped)
		return
	}
	if err := d.loop.Post(wrapped); err != nil {
		d.dropped.Add(1)
		d.logger.Errorf("bus: dropping message for %s: %v", d.name, err)
	}
}

func (d *delivery) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *delivery) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.pending = nil
}
