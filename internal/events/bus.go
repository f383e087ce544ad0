// Package events carries the grid's internal publish/subscribe bus. The
// event set is small and closed; handlers are registered at runtime and
// invoked synchronously, so they must hand off real work to their own
// goroutines or channels.
package events

import (
	"sync"

	"github.com/rs/xid"
	"pkt.systems/gridd/internal/grid"
	"pkt.systems/pslog"
)

// Kind enumerates the grid's event types.
type Kind string

const (
	// NodeStatus announces a node's (possibly new) status snapshot.
	NodeStatus Kind = "node-status"
	// NodeHeartbeat refreshes a known node's liveness.
	NodeHeartbeat Kind = "node-heartbeat"
	// NodeDrainComplete announces that a draining node has no sessions left.
	NodeDrainComplete Kind = "node-drain-complete"
	// NodeAdded announces that the distributor accepted a node.
	NodeAdded Kind = "node-added"
	// NewSessionRequest announces that a request entered the queue.
	NewSessionRequest Kind = "new-session-request"
	// SessionRejected announces a terminal request failure.
	SessionRejected Kind = "session-rejected"
)

// Event is the single envelope fired on the bus. Which fields are set
// depends on Kind.
type Event struct {
	Kind      Kind
	Status    *grid.NodeStatus
	NodeID    grid.NodeID
	RequestID grid.RequestID
	Reason    string
}

// Handler receives fired events. It must not block.
type Handler func(Event)

// Subscription identifies one registered handler so it can be removed.
type Subscription struct {
	kind Kind
	id   string
}

// Bus is a synchronous fan-out bus. Delivery is at-least-once per
// subscriber; ordering across distinct node ids is not guaranteed.
type Bus struct {
	logger pslog.Logger

	mu   sync.RWMutex
	subs map[Kind]map[string]Handler
}

// NewBus constructs an empty bus. A nil logger is replaced with a noop.
func NewBus(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Bus{
		logger: logger.With("sys", "events"),
		subs:   make(map[Kind]map[string]Handler),
	}
}

// Subscribe registers a handler for one event kind.
func (b *Bus) Subscribe(kind Kind, h Handler) Subscription {
	sub := Subscription{kind: kind, id: xid.New().String()}
	b.mu.Lock()
	defer b.mu.Unlock()
	handlers := b.subs[kind]
	if handlers == nil {
		handlers = make(map[string]Handler)
		b.subs[kind] = handlers
	}
	handlers[sub.id] = h
	return sub
}

// Unsubscribe removes a previously registered handler. Unknown
// subscriptions are ignored.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if handlers, ok := b.subs[sub.kind]; ok {
		delete(handlers, sub.id)
		if len(handlers) == 0 {
			delete(b.subs, sub.kind)
		}
	}
}

// Fire delivers the event to every subscriber of its kind. A panicking
// handler is logged and skipped; it never poisons the firing caller.
func (b *Bus) Fire(ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[ev.Kind]))
	for _, h := range b.subs[ev.Kind] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(ev, h)
	}
}

func (b *Bus) deliver(ev Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus.handler.panic", "kind", string(ev.Kind), "panic", r)
		}
	}()
	h(ev)
}
