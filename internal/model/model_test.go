package model_test

import (
	"testing"
	"time"

	"pkt.systems/gridd/internal/grid"
	"pkt.systems/gridd/internal/model"
)

func nodeWithSlots(id grid.NodeID, stereotype grid.Capabilities, slots int) grid.NodeStatus {
	status := grid.NodeStatus{
		ID:           id,
		URI:          "http://" + id.String() + ":5555",
		Availability: grid.Up,
	}
	for i := 0; i < slots; i++ {
		status.Slots = append(status.Slots, grid.Slot{
			ID:         grid.SlotID{Node: id, Slot: string(rune('a' + i))},
			Stereotype: stereotype.Clone(),
		})
	}
	return status
}

func TestReserveIsExclusive(t *testing.T) {
	t.Parallel()

	m := model.New(nil)
	node := nodeWithSlots("n1", grid.Capabilities{"browserName": "x"}, 1)
	m.Add(node)
	slot := node.Slots[0].ID

	if !m.Reserve(slot) {
		t.Fatal("first reserve should succeed")
	}
	if m.Reserve(slot) {
		t.Fatal("second reserve on a reserved slot should fail")
	}

	m.SetSession(slot, &grid.Session{ID: "s1", NodeID: "n1"})
	if m.Reserve(slot) {
		t.Fatal("reserve on an occupied slot should fail")
	}

	m.SetSession(slot, nil)
	if !m.Reserve(slot) {
		t.Fatal("reserve after unbind should succeed")
	}
}

func TestReserveUnknownSlot(t *testing.T) {
	t.Parallel()

	m := model.New(nil)
	if m.Reserve(grid.SlotID{Node: "missing", Slot: "a"}) {
		t.Fatal("reserve on an unknown slot should fail")
	}
}

func TestSnapshotIsIsolatedFromMutation(t *testing.T) {
	t.Parallel()

	m := model.New(nil)
	node := nodeWithSlots("n1", grid.Capabilities{"browserName": "x"}, 1)
	m.Add(node)

	snap := m.Snapshot()
	if len(snap) != 1 || !snap[0].HasCapacity() {
		t.Fatalf("expected one node with capacity, got %+v", snap)
	}

	m.Reserve(node.Slots[0].ID)
	if !snap[0].HasCapacity() {
		t.Fatal("earlier snapshot must not observe later reservation")
	}
	if m.Snapshot()[0].HasCapacity() {
		t.Fatal("fresh snapshot must observe the reservation")
	}
}

func TestReRegistrationKeepsRecordedAvailability(t *testing.T) {
	t.Parallel()

	m := model.New(nil)
	node := nodeWithSlots("n1", grid.Capabilities{"browserName": "x"}, 1)
	m.Add(node)
	m.SetAvailability("n1", grid.Down)

	m.Add(node)
	if got := m.Snapshot()[0].Availability; got != grid.Down {
		t.Fatalf("expected DOWN preserved across re-add, got %s", got)
	}
}

func TestReAddRefreshesOccupancy(t *testing.T) {
	t.Parallel()

	m := model.New(nil)
	node := nodeWithSlots("n1", grid.Capabilities{"browserName": "x"}, 1)
	m.Add(node)
	slot := node.Slots[0].ID

	if !m.Reserve(slot) {
		t.Fatal("reserve failed")
	}
	m.SetSession(slot, &grid.Session{ID: "s1", NodeID: "n1"})

	// The session ended on the node; its next status reports the slot free.
	m.Add(node)
	if !m.Snapshot()[0].Slots[0].Free() {
		t.Fatal("re-add with a free slot did not release it")
	}
	if !m.Reserve(slot) {
		t.Fatal("released slot should be reservable again")
	}
}

func TestReAddKeepsReservation(t *testing.T) {
	t.Parallel()

	m := model.New(nil)
	node := nodeWithSlots("n1", grid.Capabilities{"browserName": "x"}, 1)
	m.Add(node)
	slot := node.Slots[0].ID

	if !m.Reserve(slot) {
		t.Fatal("reserve failed")
	}

	// A reservation has no session on the node yet, so the node still
	// reports the slot free; the refresh must not release it.
	m.Add(node)
	if m.Snapshot()[0].Slots[0].Free() {
		t.Fatal("re-add released a pending reservation")
	}
	if m.Reserve(slot) {
		t.Fatal("reserved slot handed out twice")
	}
}

func TestPurgeDeadNodes(t *testing.T) {
	t.Parallel()

	m := model.New(nil)
	now := time.Unix(10_000, 0)
	stale := nodeWithSlots("stale", grid.Capabilities{"browserName": "x"}, 1)
	fresh := nodeWithSlots("fresh", grid.Capabilities{"browserName": "x"}, 1)
	silent := nodeWithSlots("silent", grid.Capabilities{"browserName": "x"}, 1)
	m.Add(stale)
	m.Add(fresh)
	m.Add(silent)
	m.Touch("stale", now.Add(-5*time.Minute))
	m.Touch("fresh", now.Add(-5*time.Second))

	removed := m.PurgeDeadNodes(now, time.Minute)
	if len(removed) != 1 || removed[0] != grid.NodeID("stale") {
		t.Fatalf("expected only stale node purged, got %v", removed)
	}
	if len(m.Snapshot()) != 2 {
		t.Fatalf("expected 2 surviving nodes, got %d", len(m.Snapshot()))
	}
}
