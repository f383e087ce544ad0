// Package distributor holds the scheduling core of the grid: the exclusive
// authority over slot reservation. It registers and health-checks nodes,
// reserves slots under a fleet-wide readers-writer lock, drives session
// creation on nodes outside that lock, and drains the session request queue.
package distributor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pkt.systems/gridd/internal/clock"
	"pkt.systems/gridd/internal/events"
	"pkt.systems/gridd/internal/grid"
	"pkt.systems/gridd/internal/model"
	"pkt.systems/gridd/internal/queue"
	"pkt.systems/gridd/internal/sessions"
	"pkt.systems/pslog"
)

// Config carries the distributor's collaborators and tuning.
type Config struct {
	Logger   pslog.Logger
	Bus      *events.Bus
	Clock    clock.Clock
	Sessions sessions.Map
	Queue    *queue.Queue
	// NewNode builds a node handle from a registration status.
	NewNode  grid.NodeFactory
	Matcher  grid.SlotMatcher
	Selector grid.SlotSelector
	// HealthCheckInterval is the per-node probe period; HealthCheckGrace is
	// the fixed, shorter delay before a freshly added node's first probe.
	HealthCheckInterval time.Duration
	HealthCheckGrace    time.Duration
	// PurgeInterval drives the dead-node sweep; nodes whose heartbeat is
	// older than NodeHeartbeatMaxAge are dropped.
	PurgeInterval       time.Duration
	NodeHeartbeatMaxAge time.Duration
	// DrainInterval is the queue drain tick; new-request events wake the
	// loop earlier.
	DrainInterval time.Duration
	// RejectUnsupportedCaps fails queued requests no node can ever serve
	// instead of letting them ride out their timeout.
	RejectUnsupportedCaps bool
}

// Distributor owns the fleet view and the slot-reservation protocol.
//
// One readers-writer lock guards the inventory and the node table together:
// the two are views of the same fact and must never be observed
// inconsistently. The lock is held only across in-memory transitions, never
// across a network call to a node.
type Distributor struct {
	logger   pslog.Logger
	bus      *events.Bus
	clock    clock.Clock
	sessions sessions.Map
	queue    *queue.Queue
	newNode  grid.NodeFactory
	matcher  grid.SlotMatcher
	selector grid.SlotSelector
	metrics  *distributorMetrics

	healthCheckInterval   time.Duration
	healthCheckGrace      time.Duration
	purgeInterval         time.Duration
	nodeHeartbeatMaxAge   time.Duration
	drainInterval         time.Duration
	rejectUnsupportedCaps bool

	mu     sync.RWMutex
	model  *model.Model
	nodes  map[grid.NodeID]grid.Node
	checks map[grid.NodeID]chan struct{}

	subs []events.Subscription
	wake chan struct{}

	stopOnce sync.Once
	stop     chan struct{}
	done     sync.WaitGroup
}

// New wires the distributor, subscribes it to the bus, and starts its
// background loops.
func New(cfg Config) *Distributor {
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	logger = logger.With("sys", "distributor")
	d := &Distributor{
		logger:                logger,
		bus:                   cfg.Bus,
		clock:                 cfg.Clock,
		sessions:              cfg.Sessions,
		queue:                 cfg.Queue,
		newNode:               cfg.NewNode,
		matcher:               cfg.Matcher,
		selector:              cfg.Selector,
		metrics:               newDistributorMetrics(logger),
		healthCheckInterval:   cfg.HealthCheckInterval,
		healthCheckGrace:      cfg.HealthCheckGrace,
		purgeInterval:         cfg.PurgeInterval,
		nodeHeartbeatMaxAge:   cfg.NodeHeartbeatMaxAge,
		drainInterval:         cfg.DrainInterval,
		rejectUnsupportedCaps: cfg.RejectUnsupportedCaps,
		model:                 model.New(logger),
		nodes:                 make(map[grid.NodeID]grid.Node),
		checks:                make(map[grid.NodeID]chan struct{}),
		wake:                  make(chan struct{}, 1),
		stop:                  make(chan struct{}),
	}

	if d.bus != nil {
		d.subs = append(d.subs,
			d.bus.Subscribe(events.NodeStatus, func(ev events.Event) {
				if ev.Status != nil {
					if err := d.Register(*ev.Status); err != nil {
						d.logger.Warn("distributor.register.failed", "node", ev.Status.ID.String(), "error", err)
					}
				}
			}),
			d.bus.Subscribe(events.NodeHeartbeat, func(ev events.Event) {
				d.heartbeat(ev)
			}),
			d.bus.Subscribe(events.NodeDrainComplete, func(ev events.Event) {
				d.Remove(ev.NodeID)
			}),
			d.bus.Subscribe(events.NewSessionRequest, func(events.Event) {
				d.nudge()
			}),
		)
	}

	if d.purgeInterval > 0 {
		d.done.Add(1)
		go d.purgeLoop()
	}
	if d.drainInterval > 0 {
		d.done.Add(1)
		go d.drainLoop()
	}
	return d
}

// Close stops the background loops and per-node health checks and detaches
// from the bus.
func (d *Distributor) Close() {
	d.stopOnce.Do(func() {
		close(d.stop)
	})
	if d.bus != nil {
		for _, sub := range d.subs {
			d.bus.Unsubscribe(sub)
		}
	}
	d.mu.Lock()
	for id, stopCheck := range d.checks {
		close(stopCheck)
		delete(d.checks, id)
	}
	d.mu.Unlock()
	d.done.Wait()
}

// Register adds a node from its announced status. A status announcement
// from an already known node refreshes its inventory entry instead of
// rebuilding the handle; the node's own view of slot occupancy is what
// frees a slot once its session ends on the node.
func (d *Distributor) Register(status grid.NodeStatus) error {
	d.mu.Lock()
	if _, ok := d.nodes[status.ID]; ok {
		d.model.Add(status)
		d.model.Touch(status.ID, d.clock.Now())
		d.mu.Unlock()
		return nil
	}
	if d.newNode == nil {
		d.mu.Unlock()
		return fmt.Errorf("no node factory configured")
	}
	node, err := d.newNode(status)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("build node handle for %s: %w", status.ID, err)
	}
	d.addLocked(node, status)
	d.mu.Unlock()

	d.announceAdded(status.ID)
	return nil
}

// Add inserts a pre-built node handle. Returns the distributor for
// chaining.
func (d *Distributor) Add(node grid.Node, status grid.NodeStatus) *Distributor {
	d.mu.Lock()
	d.addLocked(node, status)
	d.mu.Unlock()

	d.announceAdded(status.ID)
	return d
}

// addLocked inserts into the node table and the inventory in one critical
// section and schedules the node's recurring health check.
func (d *Distributor) addLocked(node grid.Node, status grid.NodeStatus) {
	id := status.ID
	d.nodes[id] = node
	d.model.Add(status)
	d.model.Touch(id, d.clock.Now())

	if old, ok := d.checks[id]; ok {
		close(old)
	}
	if d.healthCheckInterval > 0 {
		stopCheck := make(chan struct{})
		d.checks[id] = stopCheck
		d.done.Add(1)
		go d.healthCheckLoop(node, stopCheck)
	}

	d.logger.Info("distributor.node.added", "node", id.String(), "uri", node.URI(), "slots", len(status.Slots))
	d.metrics.recordNodeCount(context.Background(), len(d.nodes))
}

func (d *Distributor) announceAdded(id grid.NodeID) {
	if d.bus != nil {
		d.bus.Fire(events.Event{Kind: events.NodeAdded, NodeID: id})
	}
}

func (d *Distributor) heartbeat(ev events.Event) {
	if ev.Status == nil {
		return
	}
	d.mu.Lock()
	_, known := d.nodes[ev.Status.ID]
	if known {
		d.model.Touch(ev.Status.ID, d.clock.Now())
	}
	d.mu.Unlock()
	if !known {
		if err := d.Register(*ev.Status); err != nil {
			d.logger.Warn("distributor.heartbeat.register_failed", "node", ev.Status.ID.String(), "error", err)
		}
	}
}

// Drain asks a node to stop accepting new sessions. Returns the node's own
// drained flag, which may legitimately still read false while sessions
// finish.
func (d *Distributor) Drain(id grid.NodeID) bool {
	d.mu.RLock()
	node, ok := d.nodes[id]
	d.mu.RUnlock()
	if !ok {
		d.logger.Info("distributor.drain.unknown_node", "node", id.String())
		return false
	}

	d.mu.Lock()
	node.Drain()
	d.model.SetAvailability(id, grid.Draining)
	d.mu.Unlock()

	return node.IsDraining()
}

// Remove drops a node from the inventory and cancels its health check.
// Triggered by the node-drain-complete event.
func (d *Distributor) Remove(id grid.NodeID) {
	d.mu.Lock()
	d.model.Remove(id)
	delete(d.nodes, id)
	if stopCheck, ok := d.checks[id]; ok {
		close(stopCheck)
		delete(d.checks, id)
	}
	nodeCount := len(d.nodes)
	d.mu.Unlock()

	d.logger.Info("distributor.node.removed", "node", id.String())
	d.metrics.recordNodeCount(context.Background(), nodeCount)
}

// GetStatus returns a read-locked snapshot of the fleet.
func (d *Distributor) GetStatus() []grid.NodeStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.model.Snapshot()
}

// availableNodes returns the nodes that are not DOWN. DRAINING nodes count
// as available for support checks so a request for them does not get a
// spurious no_matching_node, but the selector will not hand out their
// slots.
func (d *Distributor) availableNodes() []grid.NodeStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.availableNodesLocked()
}

func (d *Distributor) availableNodesLocked() []grid.NodeStatus {
	snapshot := d.model.Snapshot()
	out := snapshot[:0]
	for _, node := range snapshot {
		if node.Availability != grid.Down {
			out = append(out, node)
		}
	}
	return out
}

func (d *Distributor) isSupported(caps grid.Capabilities) bool {
	for _, node := range d.availableNodes() {
		if node.HasCapability(d.matcher, caps) {
			return true
		}
	}
	return false
}

// NewSession runs the reservation and creation protocol for one request.
// Alternatives are tried strictly in the order supplied; the first one that
// yields a running session wins.
func (d *Distributor) NewSession(ctx context.Context, req *grid.SessionRequest) (*grid.CreateSessionResponse, error) {
	if req == nil || len(req.Alternatives) == 0 {
		return nil, grid.NewFailure(grid.CodeMalformedRequest, "no capabilities found in session request")
	}

	d.logger.Debug("distributor.session.requested", "request", req.ID.String(), "alternatives", len(req.Alternatives))

	retry := false
	var lastFailure error = grid.NewFailure(grid.CodeNoMatchingNode, "no node supports the requested capabilities")
	for _, caps := range req.Alternatives {
		if !d.isSupported(caps) {
			continue
		}

		// Find and reserve a slot under the write lock, as briefly as
		// possible: while we hold it, no other session can start. The
		// session itself is never started inside this critical section.
		slotID, ok := d.reserveSlot(req.ID, caps)
		if !ok {
			d.logger.Debug("distributor.session.no_slot", "request", req.ID.String(), "capabilities", caps.String())
			retry = true
			continue
		}

		resp, err := d.startSession(ctx, slotID, grid.CreateSessionRequest{Capabilities: caps, Metadata: req.Metadata})
		if err != nil {
			// Give the slot back and move on to the next alternative; a
			// node that just rejected these capabilities is not retried
			// for them in this call.
			d.mu.Lock()
			d.model.SetSession(slotID, nil)
			d.mu.Unlock()
			lastFailure = err
			continue
		}

		if err := d.sessions.Add(resp.Session); err != nil {
			d.logger.Warn("distributor.session.directory_add_failed", "session", resp.Session.ID.String(), "error", err)
		}
		d.mu.Lock()
		d.model.SetSession(slotID, &resp.Session)
		d.mu.Unlock()

		d.logger.Info("distributor.session.created",
			"request", req.ID.String(),
			"session", resp.Session.ID.String(),
			"node", slotID.Node.String(),
		)
		d.metrics.recordSessionCreated(ctx)
		return resp, nil
	}

	if retry {
		return nil, grid.RetryError{Cause: lastFailure}
	}
	d.metrics.recordSessionRejected(ctx, grid.FailureCode(lastFailure))
	return nil, lastFailure
}

// reserveSlot asks the selector for candidates over the current snapshot
// and reserves the first one still free, all under the write lock. A
// candidate may have been taken by a concurrent pass between selection and
// reservation; the loop simply tries the next.
func (d *Distributor) reserveSlot(reqID grid.RequestID, caps grid.Capabilities) (grid.SlotID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	candidates := d.selector(caps, d.availableNodesLocked())
	if len(candidates) == 0 {
		return grid.SlotID{}, false
	}
	for _, slotID := range candidates {
		if _, ok := d.nodes[slotID.Node]; !ok {
			continue
		}
		if d.model.Reserve(slotID) {
			return slotID, true
		}
	}
	return grid.SlotID{}, false
}

// startSession resolves the owning node and delegates the creation call to
// it, outside any lock. Node-side failures are normalized to
// node_rejected_session so they cannot crash the drain loop.
func (d *Distributor) startSession(ctx context.Context, slotID grid.SlotID, req grid.CreateSessionRequest) (resp *grid.CreateSessionResponse, err error) {
	d.mu.RLock()
	node, ok := d.nodes[slotID.Node]
	d.mu.RUnlock()
	if !ok {
		d.logger.Error("distributor.session.owner_vanished", "slot", slotID.String())
		return nil, grid.NewFailure(grid.CodeInconsistentState, "unable to find owning node for reserved slot")
	}

	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = grid.WrapFailure(grid.CodeNodeRejectedSession, fmt.Sprintf("node panicked creating session: %v", r), nil)
		}
	}()

	resp, err = node.NewSession(ctx, req)
	if err != nil {
		if grid.FailureCode(err) == grid.CodeNodeRejectedSession {
			return nil, err
		}
		return nil, grid.WrapFailure(grid.CodeNodeRejectedSession, "node failed to create session", err)
	}
	if resp == nil {
		return nil, grid.NewFailure(grid.CodeNodeRejectedSession, "node returned no session")
	}
	return resp, nil
}
