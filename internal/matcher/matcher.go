// Package matcher supplies the default capability-matching and
// slot-selection policies. Both are pure functions over snapshots and are
// consumed as opaque funcs, so deployments can swap in their own ranking.
package matcher

import (
	"fmt"
	"sort"
	"strings"

	"pkt.systems/gridd/internal/grid"
)

// Match reports whether a slot stereotype can satisfy the desired
// capabilities: every non-extension capability with a concrete value must be
// present in the stereotype and agree with it. Browser and platform names
// compare case-insensitively; an empty requested value acts as a wildcard.
func Match(stereotype, caps grid.Capabilities) bool {
	for key, want := range caps {
		if grid.IsExtension(key) {
			continue
		}
		if want == nil || want == "" {
			continue
		}
		have, ok := stereotype[key]
		if !ok {
			return false
		}
		if !valuesAgree(key, have, want) {
			return false
		}
	}
	return true
}

func valuesAgree(key string, have, want any) bool {
	hs, hok := have.(string)
	ws, wok := want.(string)
	if hok && wok {
		switch key {
		case "browserName", "platformName":
			return strings.EqualFold(hs, ws)
		default:
			return hs == ws
		}
	}
	return fmt.Sprintf("%v", have) == fmt.Sprintf("%v", want)
}

// SelectSlots ranks candidate slots for the desired capabilities. Free,
// matching slots are emitted least-loaded node first so sessions spread
// across the fleet; within a node, declaration order is kept.
func SelectSlots(caps grid.Capabilities, nodes []grid.NodeStatus) []grid.SlotID {
	ranked := make([]grid.NodeStatus, 0, len(nodes))
	for _, node := range nodes {
		if node.Availability != grid.Up {
			continue
		}
		ranked = append(ranked, node)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		li, lj := ranked[i].Load(), ranked[j].Load()
		if li != lj {
			return li < lj
		}
		return ranked[i].ID < ranked[j].ID
	})

	var out []grid.SlotID
	for _, node := range ranked {
		for _, slot := range node.Slots {
			if !slot.Free() {
				continue
			}
			if Match(slot.Stereotype, caps) {
				out = append(out, slot.ID)
			}
		}
	}
	return out
}
