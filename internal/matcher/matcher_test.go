package matcher_test

import (
	"testing"

	"pkt.systems/gridd/internal/grid"
	"pkt.systems/gridd/internal/matcher"
)

func TestMatchBrowserNameCaseInsensitive(t *testing.T) {
	t.Parallel()

	stereotype := grid.Capabilities{"browserName": "Firefox", "platformName": "LINUX"}
	caps := grid.Capabilities{"browserName": "firefox", "platformName": "linux"}
	if !matcher.Match(stereotype, caps) {
		t.Fatal("expected case-insensitive browser/platform match")
	}
}

func TestMatchRejectsMissingCapability(t *testing.T) {
	t.Parallel()

	stereotype := grid.Capabilities{"browserName": "firefox"}
	caps := grid.Capabilities{"browserName": "firefox", "browserVersion": "120"}
	if matcher.Match(stereotype, caps) {
		t.Fatal("stereotype without browserVersion must not match a pinned version")
	}
}

func TestMatchIgnoresExtensionsAndEmptyValues(t *testing.T) {
	t.Parallel()

	stereotype := grid.Capabilities{"browserName": "chrome"}
	caps := grid.Capabilities{
		"browserName":        "chrome",
		"browserVersion":     "",
		"goog:chromeOptions": map[string]any{"args": []string{"--headless"}},
	}
	if !matcher.Match(stereotype, caps) {
		t.Fatal("extensions and empty values must not veto a match")
	}
}

func TestSelectSlotsPrefersLeastLoadedNode(t *testing.T) {
	t.Parallel()

	caps := grid.Capabilities{"browserName": "chrome"}
	busy := grid.NodeStatus{
		ID:           "busy",
		Availability: grid.Up,
		Slots: []grid.Slot{
			{ID: grid.SlotID{Node: "busy", Slot: "a"}, Stereotype: caps.Clone(), Session: &grid.Session{ID: "s"}},
			{ID: grid.SlotID{Node: "busy", Slot: "b"}, Stereotype: caps.Clone()},
		},
	}
	idle := grid.NodeStatus{
		ID:           "idle",
		Availability: grid.Up,
		Slots: []grid.Slot{
			{ID: grid.SlotID{Node: "idle", Slot: "a"}, Stereotype: caps.Clone()},
		},
	}
	down := grid.NodeStatus{
		ID:           "down",
		Availability: grid.Down,
		Slots: []grid.Slot{
			{ID: grid.SlotID{Node: "down", Slot: "a"}, Stereotype: caps.Clone()},
		},
	}

	slots := matcher.SelectSlots(caps, []grid.NodeStatus{busy, idle, down})
	if len(slots) != 2 {
		t.Fatalf("expected 2 candidate slots, got %d", len(slots))
	}
	if slots[0].Node != "idle" {
		t.Fatalf("expected the idle node ranked first, got %s", slots[0].Node)
	}
	for _, id := range slots {
		if id.Node == "down" {
			t.Fatal("a DOWN node must never contribute candidates")
		}
	}
}
