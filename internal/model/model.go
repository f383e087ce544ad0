// Package model holds the authoritative in-memory view of the fleet: which
// nodes exist, their availability, and which slots are free, reserved, or
// bound to a session.
package model

import (
	"time"

	"pkt.systems/gridd/internal/grid"
	"pkt.systems/pslog"
)

// Model is the node inventory. The distributor serializes all mutation
// under its own readers-writer lock; the model keeps no lock of its own so
// the combined node-table/inventory invariant lives in exactly one place.
type Model struct {
	logger pslog.Logger
	nodes  map[grid.NodeID]*grid.NodeStatus
}

// New constructs an empty inventory.
func New(logger pslog.Logger) *Model {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Model{
		logger: logger.With("sys", "model"),
		nodes:  make(map[grid.NodeID]*grid.NodeStatus),
	}
}

// Add seeds or refreshes a node's entry. Slot occupancy from the incoming
// status is taken verbatim: a slot the node reports free frees here too,
// which is how capacity returns once a session ends on the node. Two pieces
// of grid-side state survive a refresh because the node cannot know them:
// recorded availability, so a re-registration cannot resurrect a DOWN node
// silently, and slot reservations still waiting for their session to start.
func (m *Model) Add(status grid.NodeStatus) {
	existing, ok := m.nodes[status.ID]
	entry := cloneStatus(status)
	if ok {
		entry.Availability = existing.Availability
		if entry.Heartbeat.IsZero() {
			entry.Heartbeat = existing.Heartbeat
		}
		for i := range entry.Slots {
			if entry.Slots[i].Session != nil {
				continue
			}
			if prior := slotIn(existing.Slots, entry.Slots[i].ID); prior != nil && prior.Reserved {
				entry.Slots[i].Reserved = true
			}
		}
	}
	if entry.Availability == "" {
		entry.Availability = grid.Up
	}
	m.nodes[status.ID] = entry
}

// Remove drops a node and everything it carried.
func (m *Model) Remove(id grid.NodeID) {
	delete(m.nodes, id)
}

// SetAvailability records the node's coarse state. Unknown nodes are a
// no-op.
func (m *Model) SetAvailability(id grid.NodeID, availability grid.Availability) {
	if node, ok := m.nodes[id]; ok {
		if node.Availability != availability {
			m.logger.Debug("model.availability.changed",
				"node", id.String(),
				"from", string(node.Availability),
				"to", string(availability),
			)
		}
		node.Availability = availability
	}
}

// Touch refreshes a node's heartbeat timestamp.
func (m *Model) Touch(id grid.NodeID, now time.Time) {
	if node, ok := m.nodes[id]; ok {
		node.Heartbeat = now
	}
}

// PurgeDeadNodes drops every node whose heartbeat is older than maxAge and
// returns the ids removed. Nodes that never sent a heartbeat are kept; the
// per-node health check owns their fate.
func (m *Model) PurgeDeadNodes(now time.Time, maxAge time.Duration) []grid.NodeID {
	var removed []grid.NodeID
	for id, node := range m.nodes {
		if node.Heartbeat.IsZero() {
			continue
		}
		if now.Sub(node.Heartbeat) > maxAge {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		m.logger.Warn("model.node.purged", "node", id.String())
		delete(m.nodes, id)
	}
	return removed
}

// Reserve atomically transitions a specific slot from free to reserved.
// Returns false when the slot is unknown, occupied, or already reserved.
func (m *Model) Reserve(id grid.SlotID) bool {
	slot := m.findSlot(id)
	if slot == nil || !slot.Free() {
		return false
	}
	slot.Reserved = true
	return true
}

// SetSession binds a session to a reserved slot, or releases the slot when
// session is nil. Returns false when the slot is unknown.
func (m *Model) SetSession(id grid.SlotID, session *grid.Session) bool {
	slot := m.findSlot(id)
	if slot == nil {
		return false
	}
	slot.Session = session
	slot.Reserved = false
	if session != nil {
		slot.LastUsed = session.Started
	}
	return true
}

// Snapshot returns a consistent deep copy of every node's status.
func (m *Model) Snapshot() []grid.NodeStatus {
	out := make([]grid.NodeStatus, 0, len(m.nodes))
	for _, node := range m.nodes {
		out = append(out, *cloneStatus(*node))
	}
	return out
}

func (m *Model) findSlot(id grid.SlotID) *grid.Slot {
	node, ok := m.nodes[id.Node]
	if !ok {
		return nil
	}
	return slotIn(node.Slots, id)
}

func slotIn(slots []grid.Slot, id grid.SlotID) *grid.Slot {
	for i := range slots {
		if slots[i].ID == id {
			return &slots[i]
		}
	}
	return nil
}

func cloneStatus(status grid.NodeStatus) *grid.NodeStatus {
	out := status
	out.Slots = make([]grid.Slot, len(status.Slots))
	copy(out.Slots, status.Slots)
	for i := range out.Slots {
		out.Slots[i].Stereotype = status.Slots[i].Stereotype.Clone()
		if status.Slots[i].Session != nil {
			sess := *status.Slots[i].Session
			out.Slots[i].Session = &sess
		}
	}
	return &out
}
