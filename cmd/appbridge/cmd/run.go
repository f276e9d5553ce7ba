package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fluxorio/appbridge/pkg/config"
	"github.com/fluxorio/appbridge/pkg/core"
	"github.com/fluxorio/appbridge/pkg/lifecycle"
	"github.com/fluxorio/appbridge/pkg/runtime"
)

var (
	appID        string
	traceSpans   bool
	withMetrics  bool
	shutdownWait time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Register with the Application Manager and log lifecycle events",
	Long: `Run registers the configured application, waits for lifecycle events and
logs every callback. It stops on SIGINT or SIGTERM.

Examples:
  appbridge run --app-id com.example.app
  appbridge run -c appbridge.yaml --trace
  APPBRIDGE_BUS_TRANSPORT=nats appbridge run --app-id com.example.app`,
	RunE: runHandler,
}

func init() {
	runCmd.Flags().StringVar(&appID, "app-id", "", "application id (overrides config)")
	runCmd.Flags().BoolVar(&traceSpans, "trace", false, "export spans to stdout")
	runCmd.Flags().BoolVar(&withMetrics, "metrics", false, "serve /metrics, /live and /status")
	runCmd.Flags().DurationVar(&shutdownWait, "shutdown-timeout", 5*time.Second, "graceful shutdown timeout")
	rootCmd.AddCommand(runCmd)
}

func runHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(func(c *config.Bridge) {
		if appID != "" {
			c.AppID = appID
		}
		if traceSpans {
			c.Tracing.Enabled = true
		}
		if withMetrics {
			c.Metrics.Enabled = true
		}
	})
	if err != nil {
		return err
	}

	logger, err := core.NewLogger(cfg.Log)
	if err != nil {
		return err
	}

	rt, err := runtime.NewRuntime(runtime.Options{
		Config:   cfg,
		Handlers: loggingHandlers(logger),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()
	return rt.Stop(shutdownCtx)
}

// loggingHandlers logs every lifecycle callback
func loggingHandlers(logger core.Logger) *lifecycle.Handlers {
	return &lifecycle.Handlers{
		Activate:   func(any) { logger.Info("activate") },
		Deactivate: func(any) { logger.Info("deactivate") },
		Suspend:    func(any) { logger.Info("suspend") },
		Relaunch: func(parameters string, _ any) {
			logger.Infof("relaunch with parameters %s", parameters)
		},
		LowMemory: func(state lifecycle.LowMemoryState, _ any) {
			logger.Infof("low memory: %s", state)
		},
	}
}
