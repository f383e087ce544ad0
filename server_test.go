package gridd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"pkt.systems/gridd/api"
	"pkt.systems/gridd/internal/grid"
)

type loopbackNode struct {
	id       grid.NodeID
	uri      string
	draining atomic.Bool
	counter  atomic.Int64
}

func (n *loopbackNode) ID() grid.NodeID { return n.id }
func (n *loopbackNode) URI() string     { return n.uri }

func (n *loopbackNode) NewSession(_ context.Context, req grid.CreateSessionRequest) (*grid.CreateSessionResponse, error) {
	c := n.counter.Add(1)
	return &grid.CreateSessionResponse{
		Session: grid.Session{
			ID:           grid.SessionID(fmt.Sprintf("%s-session-%d", n.id, c)),
			NodeID:       n.id,
			URI:          n.uri,
			Capabilities: req.Capabilities,
			Started:      time.Now(),
		},
	}, nil
}

func (n *loopbackNode) HealthCheck(context.Context) (grid.HealthResult, error) {
	return grid.HealthResult{Availability: grid.Up}, nil
}

func (n *loopbackNode) Drain()           { n.draining.Store(true) }
func (n *loopbackNode) IsDraining() bool { return n.draining.Load() }

func loopbackFactory(status grid.NodeStatus) (grid.Node, error) {
	return &loopbackNode{id: status.ID, uri: status.URI}, nil
}

func startLoopbackGrid(t *testing.T) *TestServer {
	t.Helper()
	return StartTestServer(t, Config{}, WithNodeFactory(loopbackFactory))
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func registerTestNode(t *testing.T, baseURL string, slots int, browser string) string {
	t.Helper()
	req := api.RegisterNodeRequest{URI: "http://worker.internal:5555"}
	for i := 0; i < slots; i++ {
		req.Slots = append(req.Slots, api.SlotDescription{
			SlotID:     fmt.Sprintf("slot-%d", i),
			Stereotype: map[string]any{"browserName": browser},
		})
	}
	resp := postJSON(t, baseURL+"/v1/node", req)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register node: status %d", resp.StatusCode)
	}
	var out api.RegisterNodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode registration: %v", err)
	}
	return out.NodeID
}

func TestServerSessionRoundTrip(t *testing.T) {
	ts := startLoopbackGrid(t)
	registerTestNode(t, ts.BaseURL, 2, "firefox")

	resp := postJSON(t, ts.BaseURL+"/v1/session", api.NewSessionRequest{
		Capabilities: []map[string]any{{"browserName": "firefox"}},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("new session: status %d", resp.StatusCode)
	}
	var session api.NewSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if session.SessionID == "" {
		t.Fatalf("empty session id: %+v", session)
	}

	statusResp, err := http.Get(ts.BaseURL + "/v1/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer statusResp.Body.Close()
	var status api.StatusResponse
	if err := json.NewDecoder(statusResp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	occupied := 0
	for _, node := range status.Nodes {
		for _, slot := range node.Slots {
			if slot.SessionID != "" {
				occupied++
			}
		}
	}
	if occupied != 1 {
		t.Fatalf("expected exactly one occupied slot, got %d", occupied)
	}
}

func TestServerQueuesWhenFull(t *testing.T) {
	ts := StartTestServer(t, Config{SessionRequestTimeout: 500 * time.Millisecond},
		WithNodeFactory(loopbackFactory))
	registerTestNode(t, ts.BaseURL, 1, "firefox")

	// Fill the only slot.
	resp := postJSON(t, ts.BaseURL+"/v1/session", api.NewSessionRequest{
		Capabilities: []map[string]any{{"browserName": "firefox"}},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first session: status %d", resp.StatusCode)
	}

	// The second request can never be served and must time out.
	resp = postJSON(t, ts.BaseURL+"/v1/session", api.NewSessionRequest{
		Capabilities: []map[string]any{{"browserName": "firefox"}},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("expected 504 on timeout, got %d", resp.StatusCode)
	}
	var out api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if out.ErrorCode != grid.CodeRequestTimedOut {
		t.Fatalf("expected request_timed_out, got %+v", out)
	}
}

func TestServerRejectUnsupported(t *testing.T) {
	ts := StartTestServer(t, Config{RejectUnsupportedCaps: true},
		WithNodeFactory(loopbackFactory))
	registerTestNode(t, ts.BaseURL, 1, "firefox")

	resp := postJSON(t, ts.BaseURL+"/v1/session", api.NewSessionRequest{
		Capabilities: []map[string]any{{"browserName": "netscape"}},
	})
	defer resp.Body.Close()
	var out api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if out.ErrorCode != grid.CodeNoMatchingNode {
		t.Fatalf("expected no_matching_node, got %+v", out)
	}
}

func TestServerShutdownIsClean(t *testing.T) {
	ts := startLoopbackGrid(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ts.Server.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	// Idempotent.
	if err := ts.Server.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}
