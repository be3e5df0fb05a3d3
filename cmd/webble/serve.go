package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/webble/internal/server"
	"github.com/srg/webble/pkg/config"
	"golang.org/x/sync/errgroup"
)

const pingTimeout = 10 * time.Second

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the Web Bluetooth API over WebSocket",
	Long: `Launches the native host and serves the Web Bluetooth API to WebSocket clients.

Each client sends envelopes as text frames:

  {"id": 1, "command": "gattConnect", "args": ["AA:BB:CC:DD:EE:FF"]}

and receives one response per envelope:

  {"id": 1, "result": ...}   or   {"id": 1, "error": "..."}

Notifications of subscriptions a client started are pushed to that client as
{"_type": "valueChangedNotification", ...} frames.

Examples:
  webble serve --native-host /usr/local/bin/ble-host
  webble serve --config webble.yaml --listen 127.0.0.1:9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveListen           string
	serveRequestTimeout   time.Duration
	serveDiscoveryTimeout time.Duration
	serveVerbose          bool
)

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (overrides config)")
	serveCmd.Flags().DurationVar(&serveRequestTimeout, "request-timeout", 0, "Timeout for each native command; 0 waits forever")
	serveCmd.Flags().DurationVar(&serveDiscoveryTimeout, "discovery-timeout", 0, "Timeout for requestDevice; 0 waits until the client gives up")
	serveCmd.Flags().BoolVar(&serveVerbose, "verbose", false, "Enable debug logging")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveServeConfig(cmd)
	if err != nil {
		return err
	}

	logger := serveLogger(cmd, cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

// serveLogger builds the logger from the resolved config; --verbose raises
// it to debug unless --log-level was given.
func serveLogger(cmd *cobra.Command, cfg *config.Config) *logrus.Logger {
	logger := cfg.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())

	if level, _ := cmd.Flags().GetString("log-level"); level == "" {
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			logger.SetLevel(logrus.DebugLevel)
		}
	}
	return logger
}

// resolveServeConfig loads the configuration and applies serve flags.
func resolveServeConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Listen = serveListen
	}
	if flags.Changed("request-timeout") {
		cfg.RequestTimeout = serveRequestTimeout
	}
	if flags.Changed("discovery-timeout") {
		cfg.DiscoveryTimeout = serveDiscoveryTimeout
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	var (
		registry *prometheus.Registry
		reg      prometheus.Registerer
	)
	if cfg.Metrics {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		reg = registry
	}

	st, err := newStack(ctx, cfg, logger, reg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	err = st.api.Ping(pingCtx)
	cancel()
	if err != nil {
		return err
	}

	metrics, err := server.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("failed to register server metrics: %w", err)
	}
	opts := server.Options{
		OutboxSize:     cfg.OutboxSize,
		AllowedOrigins: cfg.AllowedOrigins,
		Metrics:        metrics,
		Health:         st.health,
	}
	if registry != nil {
		opts.Gatherer = registry
	}
	srv := server.New(st.dispatcher, opts, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, cfg.Listen)
	})
	g.Go(func() error {
		select {
		case <-st.bridge.Done():
			return st.exitError()
		case <-gctx.Done():
			return nil
		}
	})

	err = g.Wait()
	if ctx.Err() != nil {
		logger.Info("Shutting down")
		return nil
	}
	return err
}
