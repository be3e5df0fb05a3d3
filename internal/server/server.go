// Package server exposes the bridge to WebSocket clients. Every connection
// is a separate caller: it sends command envelopes as text frames, receives
// one response frame per envelope, and receives the value-changed pushes of
// the subscriptions it started.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/srg/webble/internal/bridge"
	"github.com/srg/webble/internal/channel"
	"github.com/srg/webble/internal/groutine"
)

const shutdownTimeout = 5 * time.Second

// Options configures a Server.
type Options struct {
	// Path of the WebSocket endpoint. Defaults to "/ws".
	Path string
	// OutboxSize bounds the notifications queued per client. Defaults to 256.
	OutboxSize uint32
	// ReadLimit caps inbound frame size. Defaults to the native message limit.
	ReadLimit int64
	// PingInterval between keepalive pings. Defaults to 30s.
	PingInterval time.Duration
	// AllowedOrigins lists the Origin values accepted on upgrade; "*" allows
	// any. Empty keeps gorilla's same-host check.
	AllowedOrigins []string

	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Metrics  *Metrics
	// Health backs /healthz; nil always reports healthy.
	Health func() error
}

func (o *Options) applyDefaults() {
	if o.Path == "" {
		o.Path = "/ws"
	}
	if o.OutboxSize == 0 {
		o.OutboxSize = 256
	}
	if o.ReadLimit == 0 {
		o.ReadLimit = channel.MaxInboundSize
	}
	if o.PingInterval == 0 {
		o.PingInterval = 30 * time.Second
	}
}

// Server accepts WebSocket connections and feeds their envelopes to a
// dispatcher.
type Server struct {
	dispatcher *bridge.Dispatcher
	opts       Options
	upgrader   websocket.Upgrader
	clients    *hashmap.Map[string, *Client]
	metrics    *Metrics
	logger     *logrus.Logger
}

// New creates a server for dispatcher.
func New(dispatcher *bridge.Dispatcher, opts Options, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	opts.applyDefaults()

	s := &Server{
		dispatcher: dispatcher,
		opts:       opts,
		clients:    hashmap.New[string, *Client](),
		metrics:    opts.Metrics,
		logger:     logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin(),
	}
	return s
}

// Handler returns the HTTP handler serving the WebSocket endpoint, /healthz
// and, when a gatherer is configured, /metrics.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.opts.Path, func(w http.ResponseWriter, r *http.Request) {
		s.handleWebSocket(ctx, w, r)
	})
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.opts.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpSrv := &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	groutine.Go(ctx, "http-server", func(context.Context) {
		errCh <- httpSrv.Serve(ln)
	})

	s.logger.WithField("addr", ln.Addr().String()).Info("WebSocket server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("WebSocket server stopped")
	return nil
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// ClientCount returns the number of open connections.
func (s *Server) ClientCount() int {
	return s.clients.Len()
}

func (s *Server) handleWebSocket(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	c := newClient(conn, s)
	s.clients.Set(c.id, c)
	s.metrics.connected()
	c.logger.WithField("remote", r.RemoteAddr).Info("Client connected")

	defer func() {
		s.clients.Del(c.id)
		s.metrics.disconnected()
		c.logger.Info("Client disconnected")
	}()

	c.run(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Health != nil {
		if err := s.opts.Health(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) checkOrigin() func(*http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(s.opts.AllowedOrigins))
	for _, o := range s.opts.AllowedOrigins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}
