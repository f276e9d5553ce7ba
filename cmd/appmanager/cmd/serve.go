package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	natssrv "github.com/nats-io/nats-server/v2/server"
	"github.com/spf13/cobra"

	"github.com/fluxorio/appbridge/pkg/appmanager"
	"github.com/fluxorio/appbridge/pkg/bus"
	"github.com/fluxorio/appbridge/pkg/core"
	"github.com/fluxorio/appbridge/pkg/loop"
)

var (
	natsURL    string
	prefix     string
	embedded   bool
	listenHost string
	listenPort int
	reject     bool
	logLevel   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept registrations and send events typed on stdin",
	Long: `Serve registers com.palm.applicationManager on NATS, acknowledges every
registration and reads commands from stdin:

  list
  ack <appId>
  activate|deactivate|suspend <appId>
  relaunch <appId> <parameters>
  lowmemory <appId> <normal|low|critical>
  call <event> <appId> [argument]     deliver through /handleEvent
  raw <appId> <json>

Examples:
  appmanager serve --embedded
  appmanager serve --url nats://10.0.0.5:4222 --reject`,
	RunE: serveHandler,
}

func init() {
	serveCmd.Flags().StringVar(&natsURL, "url", "nats://127.0.0.1:4222", "NATS server URL")
	serveCmd.Flags().StringVar(&prefix, "prefix", "appbridge", "subject prefix")
	serveCmd.Flags().BoolVar(&embedded, "embedded", false, "run an in-process NATS server")
	serveCmd.Flags().StringVar(&listenHost, "host", "127.0.0.1", "embedded server host")
	serveCmd.Flags().IntVar(&listenPort, "port", 4222, "embedded server port")
	serveCmd.Flags().BoolVar(&reject, "reject", false, "refuse registrations until acked with 'ack'")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	rootCmd.AddCommand(serveCmd)
}

func serveHandler(cmd *cobra.Command, args []string) error {
	logger, err := core.NewLogger(core.LogConfig{Level: logLevel, Development: true})
	if err != nil {
		return err
	}

	url := natsURL
	if embedded {
		srv, err := startEmbedded(listenHost, listenPort)
		if err != nil {
			return err
		}
		defer srv.Shutdown()
		url = srv.ClientURL()
		logger.Infof("embedded NATS server listening on %s", url)
	}

	b, err := bus.NewNATSBus(bus.NATSConfig{
		URL:     url,
		Prefix:  prefix,
		Name:    "appmanager",
		Timeout: 5 * time.Second,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer b.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l := loop.New(loop.Config{Name: "appmanager", Logger: logger})
	loopDone := make(chan error, 1)
	go func() { loopDone <- l.Run(ctx) }()

	m, err := appmanager.New(b, appmanager.Config{Logger: logger, RejectRegistrations: reject})
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Attach(l); err != nil {
		return err
	}
	logger.Infof("application manager ready on %s (prefix %s)", url, prefix)

	c := &console{manager: m, out: cmd.OutOrStdout(), logger: logger}
	go c.run(ctx, cmd.InOrStdin())

	<-ctx.Done()
	if err := <-loopDone; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func startEmbedded(host string, port int) (*natssrv.Server, error) {
	srv, err := natssrv.NewServer(&natssrv.Options{Host: host, Port: port, NoSigs: true})
	if err != nil {
		return nil, err
	}
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		srv.Shutdown()
		return nil, fmt.Errorf("embedded NATS server not ready on %s:%d", host, port)
	}
	return srv, nil
}
