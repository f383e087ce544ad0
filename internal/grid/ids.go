package grid

import "github.com/google/uuid"

// NodeID identifies a worker node in the fleet.
type NodeID string

// SlotID identifies a single execution slot on a node.
type SlotID struct {
	Node NodeID `json:"nodeId"`
	Slot string `json:"slotId"`
}

// RequestID identifies a pending new-session request.
type RequestID string

// SessionID identifies a running session.
type SessionID string

// NewNodeID mints a fresh node identifier.
func NewNodeID() NodeID {
	return NodeID(uuid.NewString())
}

// NewRequestID mints a fresh request identifier.
func NewRequestID() RequestID {
	return RequestID(uuid.NewString())
}

// NewSessionID mints a fresh session identifier.
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

func (n NodeID) String() string    { return string(n) }
func (r RequestID) String() string { return string(r) }
func (s SessionID) String() string { return string(s) }

func (s SlotID) String() string {
	return string(s.Node) + "/" + s.Slot
}
