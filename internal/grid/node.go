package grid

import (
	"context"
	"time"
)

// Availability is a node's coarse serving state.
type Availability string

const (
	// Up means the node is reachable and accepting sessions.
	Up Availability = "UP"
	// Down means the node is unreachable or failed its health probe.
	Down Availability = "DOWN"
	// Draining means the node is shutting down and accepts no new sessions.
	Draining Availability = "DRAINING"
)

// Slot is a node-owned execution unit able to run one session at a time.
// Stereotype is the fixed capability profile the slot advertises; Session is
// non-nil while a session occupies the slot.
type Slot struct {
	ID         SlotID       `json:"id"`
	Stereotype Capabilities `json:"stereotype"`
	Session    *Session     `json:"session,omitempty"`
	// Reserved marks a slot handed to one in-flight creation attempt but
	// not yet bound to a session.
	Reserved bool      `json:"reserved,omitempty"`
	LastUsed time.Time `json:"lastUsed,omitzero"`
}

// Free reports whether the slot can be reserved.
func (s Slot) Free() bool {
	return s.Session == nil && !s.Reserved
}

// NodeStatus is a point-in-time view of one node and its slots.
type NodeStatus struct {
	ID           NodeID       `json:"nodeId"`
	URI          string       `json:"uri"`
	Availability Availability `json:"availability"`
	Slots        []Slot       `json:"slots"`
	Heartbeat    time.Time    `json:"heartbeat,omitzero"`
}

// HasCapacity reports whether at least one slot is free.
func (ns NodeStatus) HasCapacity() bool {
	for _, slot := range ns.Slots {
		if slot.Free() {
			return true
		}
	}
	return false
}

// HasCapability reports whether any slot stereotype satisfies caps under the
// supplied matcher.
func (ns NodeStatus) HasCapability(matches SlotMatcher, caps Capabilities) bool {
	for _, slot := range ns.Slots {
		if matches(slot.Stereotype, caps) {
			return true
		}
	}
	return false
}

// Load returns the fraction of occupied slots, used by slot selectors to
// order candidate nodes.
func (ns NodeStatus) Load() float64 {
	if len(ns.Slots) == 0 {
		return 1
	}
	used := 0
	for _, slot := range ns.Slots {
		if slot.Session != nil {
			used++
		}
	}
	return float64(used) / float64(len(ns.Slots))
}

// Stereotypes returns the distinct capability profiles offered by this node.
func (ns NodeStatus) Stereotypes() []Capabilities {
	seen := make(map[string]struct{}, len(ns.Slots))
	out := make([]Capabilities, 0, len(ns.Slots))
	for _, slot := range ns.Slots {
		fp := slot.Stereotype.Fingerprint()
		if _, ok := seen[fp]; ok {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, slot.Stereotype)
	}
	return out
}

// HealthResult is the outcome of one health probe.
type HealthResult struct {
	Availability Availability
	Reason       string
}

// Node is the distributor's handle on a worker. Implementations wrap the
// wire-level transport; the distributor only ever drives this interface.
type Node interface {
	ID() NodeID
	URI() string
	// NewSession asks the node to start a session for an already reserved
	// slot. Transport failures surface as errors and are normalized by the
	// distributor.
	NewSession(ctx context.Context, req CreateSessionRequest) (*CreateSessionResponse, error)
	// HealthCheck probes the node. It must not panic; errors mean DOWN.
	HealthCheck(ctx context.Context) (HealthResult, error)
	// Drain tells the node to stop accepting sessions and finish the ones
	// it has.
	Drain()
	// IsDraining reports whether the node acknowledged the drain command.
	IsDraining() bool
}

// NodeFactory builds a node handle from a registration status. Injected so
// the wire-level node implementation stays out of the scheduling core.
type NodeFactory func(status NodeStatus) (Node, error)

// SlotMatcher decides whether a slot stereotype can satisfy desired
// capabilities. Pure function over its inputs.
type SlotMatcher func(stereotype, caps Capabilities) bool

// SlotSelector ranks candidate slots for desired capabilities over a fleet
// snapshot. The returned order is the reservation attempt order.
type SlotSelector func(caps Capabilities, nodes []NodeStatus) []SlotID
