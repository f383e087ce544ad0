// Package remote implements the grid's node handle over HTTP. A Node talks
// to the worker daemon advertised at registration time: POST /session to
// start sessions, GET /status as the health probe, POST /drain to drain.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"pkt.systems/gridd/api"
	"pkt.systems/gridd/internal/clock"
	"pkt.systems/gridd/internal/grid"
	"pkt.systems/pslog"
)

const (
	defaultSessionTimeout = 60 * time.Second
	defaultHealthTimeout  = 10 * time.Second
	maxErrorBodyBytes     = 8 << 10
	// maxSessionBodyBytes bounds a session response; the raw body is kept
	// for the caller, so a misbehaving daemon must not be able to balloon
	// memory.
	maxSessionBodyBytes = 1 << 20
)

// Config tunes the node client.
type Config struct {
	Logger pslog.Logger
	Clock  clock.Clock
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
	// SessionTimeout bounds one session-creation call; browser startup can
	// legitimately take tens of seconds.
	SessionTimeout time.Duration
	// HealthTimeout bounds one health probe.
	HealthTimeout time.Duration
}

// Node drives one worker daemon over HTTP. Implements grid.Node.
type Node struct {
	id             grid.NodeID
	uri            string
	logger         pslog.Logger
	clock          clock.Clock
	client         *http.Client
	sessionTimeout time.Duration
	healthTimeout  time.Duration

	mu       sync.Mutex
	draining bool
}

// Factory returns a grid.NodeFactory building HTTP node handles with the
// supplied tuning.
func Factory(cfg Config) grid.NodeFactory {
	return func(status grid.NodeStatus) (grid.Node, error) {
		return New(status, cfg)
	}
}

// New builds a node handle from a registration status.
func New(status grid.NodeStatus, cfg Config) (*Node, error) {
	if status.ID == "" {
		return nil, fmt.Errorf("node status carries no id")
	}
	if status.URI == "" {
		return nil, fmt.Errorf("node %s carries no uri", status.ID)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	sessionTimeout := cfg.SessionTimeout
	if sessionTimeout <= 0 {
		sessionTimeout = defaultSessionTimeout
	}
	healthTimeout := cfg.HealthTimeout
	if healthTimeout <= 0 {
		healthTimeout = defaultHealthTimeout
	}
	return &Node{
		id:             status.ID,
		uri:            strings.TrimRight(status.URI, "/"),
		logger:         logger.With("sys", "remote", "node", status.ID.String()),
		clock:          clk,
		client:         client,
		sessionTimeout: sessionTimeout,
		healthTimeout:  healthTimeout,
	}, nil
}

// ID returns the node's identity.
func (n *Node) ID() grid.NodeID { return n.id }

// URI returns the node's base URI.
func (n *Node) URI() string { return n.uri }

// NewSession asks the worker daemon to start a session.
func (n *Node) NewSession(ctx context.Context, req grid.CreateSessionRequest) (*grid.CreateSessionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, n.sessionTimeout)
	defer cancel()

	payload := api.NodeCreateSessionRequest{
		Capabilities: req.Capabilities,
		Metadata:     req.Metadata,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode session request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, n.uri+"/session", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build session request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := n.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("session call to %s: %w", n.uri, err)
	}
	defer drainAndClose(httpResp.Body)

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxSessionBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read session response from %s: %w", n.uri, err)
	}
	if len(raw) > maxSessionBodyBytes {
		return nil, fmt.Errorf("session response from %s exceeds %d bytes", n.uri, maxSessionBodyBytes)
	}
	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusCreated {
		return nil, nodeError(httpResp.StatusCode, raw)
	}

	var resp api.NodeCreateSessionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode session response from %s: %w", n.uri, err)
	}
	if resp.SessionID == "" {
		return nil, fmt.Errorf("node %s returned no session id", n.id)
	}

	caps := grid.Capabilities(resp.Capabilities)
	if caps == nil {
		caps = req.Capabilities
	}
	n.logger.Debug("remote.session.created", "session", resp.SessionID)
	return &grid.CreateSessionResponse{
		Session: grid.Session{
			ID:           grid.SessionID(resp.SessionID),
			NodeID:       n.id,
			URI:          n.uri,
			Capabilities: caps,
			Started:      n.clock.Now(),
		},
		DownstreamResponse: raw,
	}, nil
}

// HealthCheck probes the worker daemon's /status endpoint.
func (n *Node) HealthCheck(ctx context.Context) (grid.HealthResult, error) {
	ctx, cancel := context.WithTimeout(ctx, n.healthTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, n.uri+"/status", nil)
	if err != nil {
		return grid.HealthResult{}, fmt.Errorf("build health request: %w", err)
	}
	httpResp, err := n.client.Do(httpReq)
	if err != nil {
		return grid.HealthResult{}, fmt.Errorf("health probe to %s: %w", n.uri, err)
	}
	defer drainAndClose(httpResp.Body)

	if httpResp.StatusCode != http.StatusOK {
		return grid.HealthResult{
			Availability: grid.Down,
			Reason:       fmt.Sprintf("status probe returned %d", httpResp.StatusCode),
		}, nil
	}

	var resp api.NodeHealthResponse
	if err := json.NewDecoder(io.LimitReader(httpResp.Body, maxErrorBodyBytes)).Decode(&resp); err != nil {
		return grid.HealthResult{}, fmt.Errorf("decode health response from %s: %w", n.uri, err)
	}
	availability := grid.Availability(resp.Availability)
	switch availability {
	case grid.Up, grid.Down, grid.Draining:
	default:
		availability = grid.Up
	}
	return grid.HealthResult{Availability: availability, Reason: resp.Reason}, nil
}

// Drain tells the worker daemon to stop accepting sessions. Best effort: a
// failed call still marks the handle as draining so the scheduler stops
// handing the node new work.
func (n *Node) Drain() {
	n.mu.Lock()
	n.draining = true
	n.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), n.healthTimeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, n.uri+"/drain", nil)
	if err != nil {
		return
	}
	httpResp, err := n.client.Do(httpReq)
	if err != nil {
		n.logger.Warn("remote.drain.failed", "error", err)
		return
	}
	drainAndClose(httpResp.Body)
}

// IsDraining reports whether Drain has been called on this handle.
func (n *Node) IsDraining() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.draining
}

// nodeError converts a non-2xx session response into a failure carrying the
// node's own error detail when it sent a parseable envelope.
func nodeError(status int, raw []byte) error {
	var envelope api.ErrorResponse
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.ErrorCode != "" {
		detail := envelope.Detail
		if detail == "" {
			detail = envelope.ErrorCode
		}
		return grid.NewFailure(grid.CodeNodeRejectedSession, detail)
	}
	return grid.NewFailure(grid.CodeNodeRejectedSession, fmt.Sprintf("node returned status %d", status))
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxErrorBodyBytes))
	_ = body.Close()
}
