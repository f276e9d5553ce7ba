package runtime

import (
	"context"
	"net"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/fluxorio/appbridge/pkg/application"
	"github.com/fluxorio/appbridge/pkg/bus"
	"github.com/fluxorio/appbridge/pkg/observability/prometheus"
)

// serveAdmin starts the metrics endpoint and the loop stats updater.
// Callers hold r.mu.
func (r *Runtime) serveAdmin(ctx context.Context) error {
	ln := r.opts.MetricsListener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", r.cfg.Metrics.Listen)
		if err != nil {
			return err
		}
	}

	r.server = &fasthttp.Server{
		Handler:      r.adminHandler(),
		Name:         "appbridge",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		if err := r.server.Serve(ln); err != nil {
			r.logger.Errorf("admin server: %v", err)
		}
	}()
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.updateStats()
			case <-ctx.Done():
				return
			}
		}
	}()
	r.logger.Infof("metrics listening on %s", ln.Addr())
	return nil
}

func (r *Runtime) adminHandler() fasthttp.RequestHandler {
	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(prometheus.Handler())

	return func(ctx *fasthttp.RequestCtx) {
		if !ctx.IsGet() {
			ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
			return
		}
		switch string(ctx.Path()) {
		case "/metrics":
			r.updateStats()
			metricsHandler(ctx)
		case "/live":
			ctx.SetContentType("application/json")
			ctx.SetBodyString(`{"status":"up"}`)
		case "/status":
			r.writeStatus(ctx)
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}
}

func (r *Runtime) updateStats() {
	s := r.Status()
	r.metrics.UpdateLoopStats(s.Loop)
	r.metrics.UpdateBusDropped(s.Dropped)
}

// writeStatus reports the runtime state. It answers 503 until the
// registration handshake has completed.
func (r *Runtime) writeStatus(ctx *fasthttp.RequestCtx) {
	s := r.Status()
	body, err := bus.BuildPayload(map[string]any{
		"state":       s.State,
		"appId":       s.AppID,
		"phase":       string(s.Phase),
		"transport":   s.Transport,
		"loopQueued":  s.Loop.QueuedTasks,
		"loopPanics":  s.Loop.PanickedTasks,
		"loopRejects": s.Loop.RejectedTasks,
		"busDropped":  s.Dropped,
	})
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	if s.Phase != application.PhaseActive {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	}
	ctx.SetContentType("application/json")
	ctx.SetBodyString(body)
}
