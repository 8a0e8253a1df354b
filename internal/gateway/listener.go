package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/avagate/internal/config"
	"github.com/vyrodovalexey/avagate/internal/observability"
)

// Listener serves one HTTP socket.
type Listener struct {
	name    string
	address string
	timeout config.ListenConfig
	handler http.Handler
	logger  observability.Logger

	mu      sync.Mutex
	server  *http.Server
	bound   net.Addr
	running atomic.Bool
}

// ListenerOption is a functional option for configuring a listener.
type ListenerOption func(*Listener)

// WithListenerLogger sets the logger for the listener.
func WithListenerLogger(logger observability.Logger) ListenerOption {
	return func(l *Listener) {
		l.logger = logger
	}
}

// NewListener creates a listener for address. Timeouts are taken from cfg.
func NewListener(name, address string, cfg config.ListenConfig, handler http.Handler, opts ...ListenerOption) *Listener {
	l := &Listener{
		name:    name,
		address: address,
		timeout: cfg,
		handler: handler,
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the listener name.
func (l *Listener) Name() string {
	return l.name
}

// Addr returns the bound address once started, else the configured one.
func (l *Listener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.bound != nil {
		return l.bound.String()
	}
	return l.address
}

// Start binds the socket and serves in the background.
func (l *Listener) Start(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return fmt.Errorf("listener %s is already running", l.name)
	}

	server := &http.Server{
		Addr:              l.address,
		Handler:           l.handler,
		ReadTimeout:       l.timeout.ReadTimeout.Duration(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      l.timeout.WriteTimeout.Duration(),
		IdleTimeout:       l.timeout.IdleTimeout.Duration(),
		MaxHeaderBytes:    1 << 20,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.address)
	if err != nil {
		l.running.Store(false)
		return fmt.Errorf("failed to listen on %s: %w", l.address, err)
	}

	l.mu.Lock()
	l.server = server
	l.bound = ln.Addr()
	l.mu.Unlock()

	l.logger.Info("listener started",
		observability.String("name", l.name),
		observability.String("address", ln.Addr().String()),
	)

	go l.serve(server, ln)
	return nil
}

func (l *Listener) serve(server *http.Server, ln net.Listener) {
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.logger.Error("listener error",
			observability.String("name", l.name),
			observability.Error(err),
		)
	}
	l.running.Store(false)
}

// Stop shuts the listener down, waiting for in-flight requests until ctx ends.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	server := l.server
	l.mu.Unlock()
	if server == nil {
		return nil
	}

	l.logger.Info("stopping listener", observability.String("name", l.name))

	if err := server.Shutdown(ctx); err != nil {
		if closeErr := server.Close(); closeErr != nil {
			return fmt.Errorf("failed to close listener %s: %w", l.name, closeErr)
		}
		return fmt.Errorf("failed to shutdown listener %s gracefully: %w", l.name, err)
	}
	l.running.Store(false)

	l.logger.Info("listener stopped", observability.String("name", l.name))
	return nil
}

// IsRunning returns true if the listener is running.
func (l *Listener) IsRunning() bool {
	return l.running.Load()
}
