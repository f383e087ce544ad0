package grid

import "time"

// SessionRequest is a pending request for a new session. Alternatives are
// tried strictly in order; the first satisfiable one wins. Immutable after
// creation.
type SessionRequest struct {
	ID           RequestID      `json:"requestId"`
	Alternatives []Capabilities `json:"desiredCapabilities"`
	Enqueued     time.Time      `json:"enqueued"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// NewSessionRequest builds a request with a fresh identifier.
func NewSessionRequest(enqueued time.Time, alternatives []Capabilities, metadata map[string]any) *SessionRequest {
	return &SessionRequest{
		ID:           NewRequestID(),
		Alternatives: alternatives,
		Enqueued:     enqueued,
		Metadata:     metadata,
	}
}

// SessionRequestCapability is the read-only projection of a queued request
// used by the distributor's unsupported-capability pre-check and the queue
// listing endpoint.
type SessionRequestCapability struct {
	ID           RequestID      `json:"requestId"`
	Alternatives []Capabilities `json:"desiredCapabilities"`
	Enqueued     time.Time      `json:"enqueued"`
}

// CreateSessionRequest is the single-alternative request handed to a node
// once a slot has been reserved for it.
type CreateSessionRequest struct {
	Capabilities Capabilities   `json:"capabilities"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Session describes a running session bound to a slot.
type Session struct {
	ID           SessionID    `json:"sessionId"`
	NodeID       NodeID       `json:"nodeId"`
	URI          string       `json:"uri"`
	Capabilities Capabilities `json:"capabilities"`
	Started      time.Time    `json:"started"`
}

// CreateSessionResponse is a node's answer to a successful session creation.
type CreateSessionResponse struct {
	Session Session `json:"session"`
	// DownstreamResponse carries the protocol payload relayed verbatim to
	// the waiting client.
	DownstreamResponse []byte `json:"-"`
}

// Result is the terminal outcome of a session request: exactly one of
// Response or Err is set.
type Result struct {
	Response *CreateSessionResponse
	Err      error
}

// SuccessResult wraps a created session.
func SuccessResult(resp *CreateSessionResponse) Result {
	return Result{Response: resp}
}

// FailureResult wraps a terminal failure.
func FailureResult(err error) Result {
	return Result{Err: err}
}

// OK reports whether the result carries a created session.
func (r Result) OK() bool {
	return r.Err == nil && r.Response != nil
}
