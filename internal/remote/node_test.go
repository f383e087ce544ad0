package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"pkt.systems/gridd/api"
	"pkt.systems/gridd/internal/grid"
)

func newTestNode(t *testing.T, handler http.Handler) *Node {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	node, err := New(grid.NodeStatus{ID: "n1", URI: srv.URL}, Config{})
	if err != nil {
		t.Fatalf("build node: %v", err)
	}
	return node
}

func TestNewSessionSuccess(t *testing.T) {
	t.Parallel()

	node := newTestNode(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/session" {
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
		}
		var payload api.NodeCreateSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if payload.Capabilities["browserName"] != "firefox" {
			t.Errorf("capabilities not forwarded: %+v", payload.Capabilities)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(api.NodeCreateSessionResponse{
			SessionID:    "s1",
			Capabilities: map[string]any{"browserName": "firefox", "browserVersion": "128"},
		})
	}))

	resp, err := node.NewSession(context.Background(), grid.CreateSessionRequest{
		Capabilities: grid.Capabilities{"browserName": "firefox"},
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if resp.Session.ID != "s1" || resp.Session.NodeID != "n1" {
		t.Fatalf("unexpected session: %+v", resp.Session)
	}
	if resp.Session.Capabilities.BrowserVersion() != "128" {
		t.Fatalf("node-resolved capabilities not kept: %+v", resp.Session.Capabilities)
	}
}

func TestNewSessionNodeErrorEnvelope(t *testing.T) {
	t.Parallel()

	node := newTestNode(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{
			ErrorCode: "browser_crashed",
			Detail:    "firefox exited during startup",
		})
	}))

	_, err := node.NewSession(context.Background(), grid.CreateSessionRequest{
		Capabilities: grid.Capabilities{"browserName": "firefox"},
	})
	if grid.FailureCode(err) != grid.CodeNodeRejectedSession {
		t.Fatalf("expected node_rejected_session, got %v", err)
	}
}

func TestNewSessionOversizedResponse(t *testing.T) {
	t.Parallel()

	node := newTestNode(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		junk := bytes.Repeat([]byte("x"), 64<<10)
		for written := 0; written <= maxSessionBodyBytes; written += len(junk) {
			if _, err := w.Write(junk); err != nil {
				return
			}
		}
	}))

	_, err := node.NewSession(context.Background(), grid.CreateSessionRequest{
		Capabilities: grid.Capabilities{"browserName": "firefox"},
	})
	if err == nil {
		t.Fatal("expected an error for an oversized session response")
	}
	if !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	availability := atomic.Value{}
	availability.Store("UP")
	node := newTestNode(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(api.NodeHealthResponse{
			Availability: availability.Load().(string),
		})
	}))

	result, err := node.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if result.Availability != grid.Up {
		t.Fatalf("expected UP, got %s", result.Availability)
	}

	availability.Store("DRAINING")
	result, err = node.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if result.Availability != grid.Draining {
		t.Fatalf("expected DRAINING, got %s", result.Availability)
	}
}

func TestHealthCheckDownOnErrorStatus(t *testing.T) {
	t.Parallel()

	node := newTestNode(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	result, err := node.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if result.Availability != grid.Down || result.Reason == "" {
		t.Fatalf("expected DOWN with reason, got %+v", result)
	}
}

func TestDrainIsBestEffort(t *testing.T) {
	t.Parallel()

	var drains atomic.Int64
	node := newTestNode(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/drain" {
			drains.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))

	node.Drain()
	if drains.Load() != 1 {
		t.Fatal("drain endpoint never called")
	}
	// The handle stays draining even though the daemon answered 500.
	if !node.IsDraining() {
		t.Fatal("handle must report draining after Drain")
	}
}
