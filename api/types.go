// Package api defines the JSON wire types exchanged with the grid's HTTP
// endpoints.
package api

// NewSessionRequest models the JSON payload for POST /v1/session.
type NewSessionRequest struct {
	// Capabilities lists the acceptable capability alternatives in order of
	// preference; the first alternative a node can serve wins.
	Capabilities []map[string]any `json:"capabilities"`
	// Metadata carries opaque client annotations echoed back on the session.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewSessionResponse is returned when a session has been started on a node.
type NewSessionResponse struct {
	// SessionID identifies the running session.
	SessionID string `json:"session_id"`
	// NodeID identifies the node hosting the session.
	NodeID string `json:"node_id"`
	// NodeURI is the base URI session traffic should be forwarded to.
	NodeURI string `json:"node_uri"`
	// Capabilities is the capability set the session was started with.
	Capabilities map[string]any `json:"capabilities"`
	// StartedAt is the session start time as a Unix timestamp in seconds.
	StartedAt int64 `json:"started_at_unix"`
}

// RegisterNodeRequest models the JSON payload for POST /v1/node.
type RegisterNodeRequest struct {
	// NodeID identifies the registering node; minted by the server when empty.
	NodeID string `json:"node_id,omitempty"`
	// URI is the node's base URI for session traffic and health checks.
	URI string `json:"uri"`
	// Slots describes the node's slots and their stereotypes.
	Slots []SlotDescription `json:"slots"`
}

// SlotDescription describes one slot a node offers.
type SlotDescription struct {
	// SlotID identifies the slot within its node.
	SlotID string `json:"slot_id"`
	// Stereotype is the capability set sessions in this slot are created with.
	Stereotype map[string]any `json:"stereotype"`
}

// RegisterNodeResponse acknowledges a node registration.
type RegisterNodeResponse struct {
	// NodeID is the identity the grid registered the node under.
	NodeID string `json:"node_id"`
}

// DrainNodeResponse is returned by POST /v1/node/{id}/drain.
type DrainNodeResponse struct {
	// Draining reports the node's own drained flag; false may mean the node
	// is still finishing sessions, or that the node is unknown.
	Draining bool `json:"draining"`
}

// NodeStatus is one node's entry in the grid status report.
type NodeStatus struct {
	// NodeID identifies the node.
	NodeID string `json:"node_id"`
	// URI is the node's base URI.
	URI string `json:"uri"`
	// Availability is UP, DOWN or DRAINING.
	Availability string `json:"availability"`
	// Slots lists the node's slots and their occupancy.
	Slots []SlotStatus `json:"slots"`
	// LastHeartbeat is the node's last heartbeat as a Unix timestamp in
	// seconds, zero when none has been seen.
	LastHeartbeat int64 `json:"last_heartbeat_unix,omitempty"`
}

// SlotStatus reports one slot's stereotype and current occupant.
type SlotStatus struct {
	// SlotID identifies the slot within its node.
	SlotID string `json:"slot_id"`
	// Stereotype is the slot's capability set.
	Stereotype map[string]any `json:"stereotype"`
	// SessionID identifies the occupying session, empty when the slot is
	// free or merely reserved.
	SessionID string `json:"session_id,omitempty"`
	// Reserved reports a reservation that has not yet bound a session.
	Reserved bool `json:"reserved,omitempty"`
}

// StatusResponse is the grid-wide fleet and queue report from GET /v1/status.
type StatusResponse struct {
	// Ready is true when at least one node is UP.
	Ready bool `json:"ready"`
	// Nodes lists every known node.
	Nodes []NodeStatus `json:"nodes"`
	// QueueSize is the number of session requests currently waiting.
	QueueSize int `json:"queue_size"`
}

// QueuedRequest is one waiting request in the GET /v1/queue listing.
type QueuedRequest struct {
	// RequestID identifies the queued session request.
	RequestID string `json:"request_id"`
	// Capabilities lists the request's capability alternatives.
	Capabilities []map[string]any `json:"capabilities"`
	// EnqueuedAt is the enqueue time as a Unix timestamp in seconds.
	EnqueuedAt int64 `json:"enqueued_at_unix"`
}

// ClearQueueResponse reports the outcome of DELETE /v1/queue.
type ClearQueueResponse struct {
	// Cleared is the number of waiting requests that were rejected.
	Cleared int `json:"cleared"`
}

// NodeCreateSessionRequest is the payload the grid POSTs to a node's
// /session endpoint once a slot has been reserved there.
type NodeCreateSessionRequest struct {
	// Capabilities is the single resolved capability set for the session.
	Capabilities map[string]any `json:"capabilities"`
	// Metadata carries opaque client annotations from the originating request.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NodeCreateSessionResponse is a node's answer to a session creation call.
type NodeCreateSessionResponse struct {
	// SessionID identifies the session the node started.
	SessionID string `json:"session_id"`
	// Capabilities is the capability set the session actually runs with.
	Capabilities map[string]any `json:"capabilities"`
}

// NodeHealthResponse is a node's answer to the grid's GET /status probe.
type NodeHealthResponse struct {
	// Availability is the node's self-reported state, UP or DRAINING.
	Availability string `json:"availability"`
	// Reason explains a non-UP availability.
	Reason string `json:"reason,omitempty"`
}

// ErrorResponse is the canonical error envelope for API errors.
type ErrorResponse struct {
	// ErrorCode is the stable grid error identifier.
	ErrorCode string `json:"error"`
	// Detail provides human-readable diagnostic context for the error.
	Detail string `json:"detail,omitempty"`
	// RetryAfterSeconds is the server-provided retry hint in seconds.
	RetryAfterSeconds int64 `json:"retry_after_seconds,omitempty"`
}
