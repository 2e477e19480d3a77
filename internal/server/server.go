// Package server owns the proxy's listener and serve loop and its lifecycle:
// Created, Bound, Running, Stopped.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/NikZak/pact-proxy/internal/api/middleware"
	"github.com/NikZak/pact-proxy/internal/domain"
	"github.com/NikZak/pact-proxy/internal/forward"
	"github.com/NikZak/pact-proxy/internal/journal"
	"github.com/NikZak/pact-proxy/internal/proxy"
	"github.com/NikZak/pact-proxy/internal/store"
	"github.com/NikZak/pact-proxy/internal/telemetry"
)

// State is a server lifecycle state.
type State int

const (
	StateCreated State = iota
	StateBound
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateBound:
		return "bound"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrNotBound is returned when starting a server that is not Bound.
var ErrNotBound = errors.New("server is not bound")

// Server is a proxy instance: one store, one listener, one serve loop.
type Server struct {
	store     *store.Store
	forwarder *forward.Forwarder
	consumer  string
	host      string
	port      int
	metrics   *telemetry.Metrics
	journal   journal.Journal
	logger    *slog.Logger

	transport Transport

	mu    sync.Mutex
	state State
	done  chan struct{}
}

// Option is a functional option for configuring a Server.
type Option func(*Server) error

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = l
		return nil
	}
}

// WithAddress sets the host and port to bind. Port 0 picks a random port
// in [PortRangeStart, PortRangeStart+PortRangeSize).
func WithAddress(host string, port int) Option {
	return func(s *Server) error {
		if port < 0 || port > 65535 {
			return fmt.Errorf("port %d out of range", port)
		}
		if host != "" {
			s.host = host
		}
		s.port = port
		return nil
	}
}

// WithConsumer sets the consumer name interactions are recorded under.
func WithConsumer(name string) Option {
	return func(s *Server) error {
		if name == "" {
			return errors.New("consumer name cannot be empty")
		}
		s.consumer = name
		return nil
	}
}

// WithForwarder sets the forwarding engine used on cache misses.
func WithForwarder(f *forward.Forwarder) Option {
	return func(s *Server) error {
		s.forwarder = f
		return nil
	}
}

// WithMetrics enables the metrics collector and /__admin/metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) error {
		s.metrics = m
		return nil
	}
}

// WithJournal sets the exchange journal backing /__admin/exchanges.
func WithJournal(j journal.Journal) Option {
	return func(s *Server) error {
		if j != nil {
			s.journal = j
		}
		return nil
	}
}

// New creates a server over st and binds its listener. The returned server
// is Bound; nothing is served until Start or StartBackground.
func New(st *store.Store, opts ...Option) (*Server, error) {
	if st == nil {
		return nil, errors.New("store required")
	}

	s := &Server{
		store:    st,
		consumer: domain.DefaultConsumer,
		host:     "127.0.0.1",
		journal:  journal.Nop{},
		logger:   slog.Default(),
		state:    StateCreated,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	if s.forwarder == nil {
		fopts := []forward.Option{forward.WithLogger(s.logger)}
		if s.metrics != nil {
			fopts = append(fopts, forward.WithObserver(s.metrics))
		}
		s.forwarder = forward.New(fopts...)
	}

	ln, err := listen(s.host, s.port, randomPort)
	if err != nil {
		return nil, err
	}
	s.transport = newHTTPTransport(ln, s.routes())
	s.state = StateBound

	for _, ks := range s.store.Stats() {
		s.metrics.SetInteractions(ks.Consumer, ks.Provider, ks.Interactions)
	}

	s.logger.Info("proxy bound",
		slog.String("addr", ln.Addr().String()),
		slog.String("pacts_dir", s.store.Dir()),
		slog.String("consumer", s.consumer))
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.LoggingMiddleware(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "pact-proxy")
	})

	r.Route("/__admin", s.adminRoutes)

	r.Handle("/*", proxy.NewHandler(s.store, s.forwarder,
		proxy.WithConsumer(s.consumer),
		proxy.WithMetrics(s.metrics),
		proxy.WithJournal(s.journal),
		proxy.WithLogger(s.logger),
	))
	return r
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Addr returns the bound listener address.
func (s *Server) Addr() string {
	return s.transport.Addr().String()
}

// Port returns the bound TCP port.
func (s *Server) Port() int {
	if addr, ok := s.transport.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Store returns the server's interaction store.
func (s *Server) Store() *store.Store {
	return s.store
}

// Start serves on the calling goroutine until Stop is called or ctx is
// done, in which case the server stops itself.
func (s *Server) Start(ctx context.Context) error {
	if err := s.run(); err != nil {
		return err
	}

	go func() {
		select {
		case <-ctx.Done():
			if err := s.Stop(context.WithoutCancel(ctx)); err != nil {
				s.logger.Error("stop after cancellation failed", slog.String("error", err.Error()))
			}
		case <-s.done:
		}
	}()

	return s.serve()
}

// StartBackground starts the serve loop on its own goroutine and returns.
func (s *Server) StartBackground() error {
	if err := s.run(); err != nil {
		return err
	}
	go func() {
		if err := s.serve(); err != nil {
			s.logger.Error("serve loop exited", slog.String("error", err.Error()))
		}
	}()
	return nil
}

func (s *Server) run() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateBound {
		return fmt.Errorf("start from state %s: %w", s.state, ErrNotBound)
	}
	s.state = StateRunning
	s.logger.Info("proxy listening", slog.String("addr", s.Addr()))
	return nil
}

// serve runs the serve loop. A loop that exits without Stop, such as on a
// listener failure, leaves the server Stopped.
func (s *Server) serve() error {
	defer close(s.done)
	err := s.transport.Serve()

	s.mu.Lock()
	if s.state == StateRunning {
		s.state = StateStopped
	}
	s.mu.Unlock()
	return err
}

// Stop stops accepting connections and waits for in-flight requests,
// including their forwarding retries, and for the serve loop to exit. It is
// a no-op unless the server is Running.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopped
	s.mu.Unlock()

	s.logger.Info("stopping proxy", slog.String("addr", s.Addr()))

	err := s.transport.Shutdown(ctx)

	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// Close releases the listener of a server that was bound but never
// started. It is a no-op in any other state.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateBound {
		return nil
	}
	s.state = StateStopped
	return s.transport.Close()
}
