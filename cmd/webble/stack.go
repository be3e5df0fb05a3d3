package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/srg/webble/internal/bridge"
	"github.com/srg/webble/internal/channel"
	"github.com/srg/webble/pkg/config"
)

// connectNative launches the native host. Tests replace it with an in-memory
// host.
var connectNative = func(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (channel.Channel, error) {
	if cfg.NativeHost.Path == "" {
		return nil, fmt.Errorf("native host path is not configured (use --native-host or native_host.path)")
	}
	return channel.ConnectNative(ctx, cfg.NativeHost.Path, cfg.NativeHost.Args, logger)
}

// stack is the bridge and everything layered on it.
type stack struct {
	bridge     *bridge.Bridge
	router     *bridge.NotificationRouter
	discovery  *bridge.DiscoveryCoordinator
	cache      *bridge.CharacteristicCache
	api        *bridge.API
	dispatcher *bridge.Dispatcher

	// stderr returns the native host's recent stderr, when the channel
	// keeps it.
	stderr func() string
}

// newStack connects to the native host and starts the bridge. reg may be
// nil.
func newStack(ctx context.Context, cfg *config.Config, logger *logrus.Logger, reg prometheus.Registerer) (*stack, error) {
	metrics, err := bridge.NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to register bridge metrics: %w", err)
	}

	ch, err := connectNative(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	b := bridge.New(ch, bridge.Options{
		RequestTimeout:     cfg.RequestTimeout,
		FailPendingOnClose: cfg.FailPendingOnClose,
		Metrics:            metrics,
	}, logger)

	s := &stack{
		bridge:    b,
		router:    bridge.NewNotificationRouter(logger, metrics),
		discovery: bridge.NewDiscoveryCoordinator(b, cfg.DiscoveryTimeout, logger, metrics),
		cache:     bridge.NewCharacteristicCache(b, logger, metrics),
	}
	if p, ok := ch.(interface{ Stderr() string }); ok {
		s.stderr = p.Stderr
	}
	b.Handle(channel.TypeValueChanged, s.router)
	b.Handle(channel.TypeScanResult, s.discovery)
	b.Start(ctx)

	s.api = bridge.NewAPI(b, s.discovery, s.cache, s.router, logger)
	s.dispatcher = bridge.NewDispatcher(s.api, logger)
	return s, nil
}

// health reports whether the native host is still connected.
func (s *stack) health() error {
	select {
	case <-s.bridge.Done():
		if err := s.bridge.Err(); err != nil {
			return fmt.Errorf("native host disconnected: %w", err)
		}
		return fmt.Errorf("native host disconnected")
	default:
		return nil
	}
}

// exitError describes why the native host went away.
func (s *stack) exitError() error {
	err := ErrNativeHostExited
	if cause := s.bridge.Err(); cause != nil {
		err = fmt.Errorf("%w: %v", ErrNativeHostExited, cause)
	}
	if s.stderr != nil {
		if tail := s.stderr(); tail != "" {
			err = fmt.Errorf("%w\n%s", err, tail)
		}
	}
	return err
}

func (s *stack) Close() error {
	return s.bridge.Close()
}
