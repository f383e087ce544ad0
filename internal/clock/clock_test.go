package clock_test

import (
	"testing"
	"time"

	"pkt.systems/gridd/internal/clock"
)

func TestRealNowIsUTC(t *testing.T) {
	t.Parallel()

	now := clock.Real{}.Now()
	if now.Location() != time.UTC {
		t.Fatalf("expected UTC, got %v", now.Location())
	}
}

func TestManualAfterFiresOnAdvance(t *testing.T) {
	t.Parallel()

	m := clock.NewManual(time.Unix(1000, 0))
	ch := m.After(5 * time.Second)

	select {
	case <-ch:
		t.Fatal("timer fired before Advance")
	default:
	}

	m.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("timer fired before its deadline")
	default:
	}

	m.Advance(time.Second)
	select {
	case at := <-ch:
		if got := at.Unix(); got != 1005 {
			t.Fatalf("expected fire at 1005, got %d", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timer did not fire after Advance past deadline")
	}
}

func TestManualAfterNonPositiveFiresImmediately(t *testing.T) {
	t.Parallel()

	m := clock.NewManual(time.Unix(0, 0))
	select {
	case <-m.After(0):
	case <-time.After(time.Second):
		t.Fatal("zero-duration After did not fire")
	}
}
