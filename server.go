package gridd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"pkt.systems/gridd/internal/clock"
	"pkt.systems/gridd/internal/distributor"
	"pkt.systems/gridd/internal/events"
	"pkt.systems/gridd/internal/grid"
	"pkt.systems/gridd/internal/httpapi"
	"pkt.systems/gridd/internal/matcher"
	"pkt.systems/gridd/internal/queue"
	"pkt.systems/gridd/internal/remote"
	"pkt.systems/gridd/internal/sessions"
	"pkt.systems/pslog"
)

// Server wraps the HTTP endpoints, the distributor, the session request
// queue, and supporting components.
type Server struct {
	cfg      Config
	logger   pslog.Logger
	clock    clock.Clock
	bus      *events.Bus
	queue    *queue.Queue
	dist     *distributor.Distributor
	sessions *sessions.Memory
	handler  http.Handler
	httpSrv  *http.Server

	listener     net.Listener
	telemetry    *telemetryBundle
	lastServeErr error

	mu        sync.Mutex
	shutdown  bool
	readyOnce sync.Once
	readyCh   chan struct{}
}

// Option configures server instances.
type Option func(*options)

type options struct {
	Logger      pslog.Logger
	Clock       clock.Clock
	NodeFactory grid.NodeFactory
}

// WithLogger supplies a custom logger.
func WithLogger(l pslog.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithClock injects a custom clock implementation.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.Clock = c
	}
}

// WithNodeFactory overrides how node handles are built from registrations
// (useful for tests and embedded nodes).
func WithNodeFactory(f grid.NodeFactory) Option {
	return func(o *options) {
		o.NodeFactory = f
	}
}

// NewServer constructs a grid server according to cfg.
// Example:
//
//	cfg := gridd.Config{Listen: ":4444"}
//	srv, err := gridd.NewServer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go srv.Start()
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := o.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	clk := o.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	telemetry, err := setupTelemetry(context.Background(), cfg.MetricsListen, cfg.PprofListen, logger)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(logger)
	q := queue.New(queue.Config{
		Logger:         logger,
		Bus:            bus,
		Clock:          clk,
		Matcher:        matcher.Match,
		RequestTimeout: cfg.SessionRequestTimeout,
		RetryInterval:  cfg.SessionRetryInterval,
	})

	nodeFactory := o.NodeFactory
	if nodeFactory == nil {
		nodeFactory = remote.Factory(remote.Config{
			Logger:         logger,
			Clock:          clk,
			SessionTimeout: cfg.NodeSessionTimeout,
			HealthTimeout:  cfg.NodeHealthTimeout,
		})
	}

	sessionMap := sessions.NewMemory()
	dist := distributor.New(distributor.Config{
		Logger:                logger,
		Bus:                   bus,
		Clock:                 clk,
		Sessions:              sessionMap,
		Queue:                 q,
		NewNode:               nodeFactory,
		Matcher:               matcher.Match,
		Selector:              matcher.SelectSlots,
		HealthCheckInterval:   cfg.HealthCheckInterval,
		HealthCheckGrace:      cfg.HealthCheckGrace,
		PurgeInterval:         cfg.PurgeInterval,
		NodeHeartbeatMaxAge:   cfg.NodeHeartbeatMaxAge,
		DrainInterval:         cfg.DrainInterval,
		RejectUnsupportedCaps: cfg.RejectUnsupportedCaps,
	})

	mux := http.NewServeMux()
	httpapi.New(httpapi.Config{
		Distributor:  dist,
		Logger:       logger,
		Clock:        clk,
		MaxBodyBytes: cfg.MaxBodyBytes,
	}).Register(mux)

	srv := &Server{
		cfg:      cfg,
		logger:   logger.With("sys", "server"),
		clock:    clk,
		bus:      bus,
		queue:    q,
		dist:     dist,
		sessions: sessionMap,
		handler:  mux,
		httpSrv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		telemetry: telemetry,
		readyCh:   make(chan struct{}),
	}
	return srv, nil
}

// Handler exposes the HTTP handler, mainly for tests that mount the grid on
// their own listener.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Distributor exposes the scheduling core for embedding callers.
func (s *Server) Distributor() *distributor.Distributor {
	return s.dist
}

// Start listens and serves until Shutdown is called. Blocks.
func (s *Server) Start() error {
	ln, err := net.Listen(s.cfg.ListenProto, s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen (%s %s): %w", s.cfg.ListenProto, s.cfg.Listen, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.signalReady()
	s.logger.Info("listening", "network", s.cfg.ListenProto, "address", ln.Addr().String())

	serveErr := s.httpSrv.Serve(ln)
	s.recordServeErr(serveErr)
	if errors.Is(serveErr, http.ErrServerClosed) {
		return nil
	}
	if serveErr != nil {
		return fmt.Errorf("http serve: %w", serveErr)
	}
	return nil
}

// Shutdown gracefully stops the server and returns any fatal serve/shutdown
// error. The returned error is nil for clean shutdowns.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	if err := s.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	s.mu.Unlock()

	s.dist.Close()
	s.queue.Close()

	if s.telemetry != nil {
		telemetryCtx := ctx
		if telemetryCtx.Err() != nil {
			var cancel context.CancelFunc
			telemetryCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
		}
		if err := s.telemetry.Shutdown(telemetryCtx); err != nil {
			return err
		}
		s.telemetry = nil
	}

	if err := s.LastServeError(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close gracefully shuts the server down using a bounded background context.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

func (s *Server) signalReady() {
	s.readyOnce.Do(func() {
		close(s.readyCh)
	})
}

// WaitUntilReady blocks until the listener is bound or ctx expires.
func (s *Server) WaitUntilReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListenerAddr reports the bound address, nil before Start.
func (s *Server) ListenerAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) recordServeErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastServeErr = err
}

// LastServeError returns the last error recorded by Serve, if any.
func (s *Server) LastServeError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastServeErr
}
