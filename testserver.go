package gridd

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"pkt.systems/pslog"
)

// TestServer wraps a running gridd.Server with convenient handles for tests.
type TestServer struct {
	Server  *Server
	BaseURL string
	Addr    net.Addr
	Config  Config

	stop func(context.Context) error
}

type testingWriter struct {
	t  testing.TB
	mu sync.Mutex
	// closed guards against writes after the associated test has finished.
	closed bool
}

func (w *testingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return len(p), nil
	}
	for _, line := range bytes.Split(p, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		w.t.Helper()
		w.t.Log(string(line))
	}
	return len(p), nil
}

func (w *testingWriter) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

// NewTestLogger returns a structured logger that writes through t.Log and
// falls silent once the test finishes.
func NewTestLogger(t testing.TB) pslog.Logger {
	writer := &testingWriter{t: t}
	t.Cleanup(writer.close)
	return pslog.NewStructured(context.Background(), writer).LogLevel(pslog.DebugLevel)
}

// StartTestServer boots a server on an ephemeral port and registers cleanup
// with t. Zero-value config fields get test-friendly fast tick defaults.
func StartTestServer(t testing.TB, cfg Config, opts ...Option) *TestServer {
	t.Helper()

	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:0"
	}
	if cfg.DrainInterval == 0 {
		cfg.DrainInterval = 10 * time.Millisecond
	}
	if cfg.SessionRequestTimeout == 0 {
		cfg.SessionRequestTimeout = 10 * time.Second
	}
	if cfg.SessionRetryInterval == 0 {
		cfg.SessionRetryInterval = 50 * time.Millisecond
	}

	var probe options
	for _, opt := range opts {
		opt(&probe)
	}
	if probe.Logger == nil {
		opts = append(opts, WithLogger(NewTestLogger(t)))
	}

	srv, err := NewServer(cfg, opts...)
	if err != nil {
		t.Fatalf("start test server: %v", err)
	}

	serveErrs := make(chan error, 1)
	go func() {
		serveErrs <- srv.Start()
	}()

	readyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.WaitUntilReady(readyCtx); err != nil {
		t.Fatalf("test server never became ready: %v", err)
	}
	addr := srv.ListenerAddr()
	if addr == nil {
		t.Fatal("test server reports no listener address")
	}

	ts := &TestServer{
		Server:  srv,
		BaseURL: fmt.Sprintf("http://%s", addr.String()),
		Addr:    addr,
		Config:  cfg,
		stop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil {
				return err
			}
			select {
			case err := <-serveErrs:
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ts.stop(ctx); err != nil {
			t.Errorf("test server shutdown: %v", err)
		}
	})
	return ts
}
