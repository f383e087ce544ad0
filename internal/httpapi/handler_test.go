package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"pkt.systems/gridd/api"
	"pkt.systems/gridd/internal/clock"
	"pkt.systems/gridd/internal/distributor"
	"pkt.systems/gridd/internal/events"
	"pkt.systems/gridd/internal/grid"
	"pkt.systems/gridd/internal/matcher"
	"pkt.systems/gridd/internal/queue"
	"pkt.systems/gridd/internal/sessions"
)

type stubNode struct {
	id       grid.NodeID
	uri      string
	draining atomic.Bool
	sessions atomic.Int64
}

func (s *stubNode) ID() grid.NodeID { return s.id }
func (s *stubNode) URI() string     { return s.uri }

func (s *stubNode) NewSession(_ context.Context, req grid.CreateSessionRequest) (*grid.CreateSessionResponse, error) {
	n := s.sessions.Add(1)
	return &grid.CreateSessionResponse{
		Session: grid.Session{
			ID:           grid.SessionID(fmt.Sprintf("%s-session-%d", s.id, n)),
			NodeID:       s.id,
			URI:          s.uri,
			Capabilities: req.Capabilities,
		},
	}, nil
}

func (s *stubNode) HealthCheck(context.Context) (grid.HealthResult, error) {
	return grid.HealthResult{Availability: grid.Up}, nil
}

func (s *stubNode) Drain()           { s.draining.Store(true) }
func (s *stubNode) IsDraining() bool { return s.draining.Load() }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	bus := events.NewBus(nil)
	q := queue.New(queue.Config{
		Bus:            bus,
		Clock:          clock.Real{},
		Matcher:        matcher.Match,
		RequestTimeout: 5 * time.Second,
	})
	t.Cleanup(q.Close)

	dist := distributor.New(distributor.Config{
		Bus:      bus,
		Clock:    clock.Real{},
		Sessions: sessions.NewMemory(),
		Queue:    q,
		NewNode: func(status grid.NodeStatus) (grid.Node, error) {
			return &stubNode{id: status.ID, uri: status.URI}, nil
		},
		Matcher:  matcher.Match,
		Selector: matcher.SelectSlots,
		// Fast ticks keep the blocking session endpoint snappy in tests.
		DrainInterval: 10 * time.Millisecond,
	})
	t.Cleanup(dist.Close)

	mux := http.NewServeMux()
	New(Config{Distributor: dist}).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	resp, err := http.Post(url, "application/json", strings.NewReader(string(body)))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func registerNode(t *testing.T, baseURL string, slots int) string {
	t.Helper()
	req := api.RegisterNodeRequest{URI: "http://worker:5555"}
	for i := 0; i < slots; i++ {
		req.Slots = append(req.Slots, api.SlotDescription{
			SlotID:     fmt.Sprintf("slot-%d", i),
			Stereotype: map[string]any{"browserName": "firefox"},
		})
	}
	resp := postJSON(t, baseURL+"/v1/node", req)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register node: status %d", resp.StatusCode)
	}
	var out api.RegisterNodeResponse
	decodeInto(t, resp, &out)
	if out.NodeID == "" {
		t.Fatal("registration returned no node id")
	}
	return out.NodeID
}

func TestSessionEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	registerNode(t, srv.URL, 1)

	resp := postJSON(t, srv.URL+"/v1/session", api.NewSessionRequest{
		Capabilities: []map[string]any{{"browserName": "firefox"}},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("new session: status %d", resp.StatusCode)
	}
	var out api.NewSessionResponse
	decodeInto(t, resp, &out)
	if out.SessionID == "" || out.NodeID == "" {
		t.Fatalf("incomplete session response: %+v", out)
	}
	if out.Capabilities["browserName"] != "firefox" {
		t.Fatalf("capabilities not echoed: %+v", out.Capabilities)
	}
}

func TestSessionEndpointMalformed(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	resp := postJSON(t, srv.URL+"/v1/session", api.NewSessionRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var out api.ErrorResponse
	decodeInto(t, resp, &out)
	if out.ErrorCode != grid.CodeMalformedRequest {
		t.Fatalf("expected malformed_request, got %+v", out)
	}
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	nodeID := registerNode(t, srv.URL, 2)

	resp, err := http.Get(srv.URL + "/v1/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	var out api.StatusResponse
	decodeInto(t, resp, &out)
	if !out.Ready {
		t.Fatal("grid with an UP node must report ready")
	}
	if len(out.Nodes) != 1 || out.Nodes[0].NodeID != nodeID {
		t.Fatalf("unexpected fleet: %+v", out.Nodes)
	}
	if len(out.Nodes[0].Slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(out.Nodes[0].Slots))
	}
}

func TestDrainEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	nodeID := registerNode(t, srv.URL, 1)

	resp := postJSON(t, srv.URL+"/v1/node/"+nodeID+"/drain", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("drain: status %d", resp.StatusCode)
	}
	var out api.DrainNodeResponse
	decodeInto(t, resp, &out)
	if !out.Draining {
		t.Fatal("drain must report the node draining")
	}

	resp = postJSON(t, srv.URL+"/v1/node/ghost/drain", nil)
	var ghost api.DrainNodeResponse
	decodeInto(t, resp, &ghost)
	if ghost.Draining {
		t.Fatal("unknown node must not report draining")
	}
}

func TestQueueEndpoints(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/queue")
	if err != nil {
		t.Fatalf("GET queue: %v", err)
	}
	var contents []api.QueuedRequest
	decodeInto(t, resp, &contents)
	if len(contents) != 0 {
		t.Fatalf("expected empty queue, got %+v", contents)
	}

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/queue", nil)
	if err != nil {
		t.Fatalf("build DELETE: %v", err)
	}
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE queue: %v", err)
	}
	var cleared api.ClearQueueResponse
	decodeInto(t, resp, &cleared)
	if cleared.Cleared != 0 {
		t.Fatalf("expected 0 cleared on empty queue, got %d", cleared.Cleared)
	}
}

func TestReadyzGatesOnNodes(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("empty grid must not be ready, got %d", resp.StatusCode)
	}

	registerNode(t, srv.URL, 1)
	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("grid with an UP node must be ready, got %d", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/v1/session")
	if err != nil {
		t.Fatalf("GET session: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
	if allow := resp.Header.Get("Allow"); allow != "POST" {
		t.Fatalf("expected Allow: POST, got %q", allow)
	}
}
