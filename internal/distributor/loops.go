package distributor

import (
	"context"
	"fmt"

	"pkt.systems/gridd/internal/events"
	"pkt.systems/gridd/internal/grid"
)

// nudge wakes the drain loop without blocking the caller; a pass already
// scheduled absorbs the signal.
func (d *Distributor) nudge() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Distributor) healthCheckLoop(node grid.Node, stopCheck <-chan struct{}) {
	defer d.done.Done()

	// Fixed grace window before the first probe so a node that just
	// registered is not marked DOWN while it finishes starting up.
	select {
	case <-d.stop:
		return
	case <-stopCheck:
		return
	case <-d.clock.After(d.healthCheckGrace):
	}

	for {
		d.runHealthCheck(node)
		select {
		case <-d.stop:
			return
		case <-stopCheck:
			return
		case <-d.clock.After(d.healthCheckInterval):
		}
	}
}

// runHealthCheck probes one node. Any failure, including a panic inside the
// probe, demotes the node to DOWN with a reason instead of propagating.
func (d *Distributor) runHealthCheck(node grid.Node) {
	result := d.probe(node)

	d.mu.Lock()
	d.model.SetAvailability(node.ID(), result.Availability)
	d.mu.Unlock()

	if result.Availability != grid.Up {
		d.logger.Warn("distributor.healthcheck.unhealthy",
			"node", node.ID().String(),
			"availability", string(result.Availability),
			"reason", result.Reason,
		)
	}
}

func (d *Distributor) probe(node grid.Node) (result grid.HealthResult) {
	defer func() {
		if r := recover(); r != nil {
			result = grid.HealthResult{Availability: grid.Down, Reason: fmt.Sprintf("health check panicked: %v", r)}
		}
	}()
	result, err := node.HealthCheck(context.Background())
	if err != nil {
		return grid.HealthResult{Availability: grid.Down, Reason: "unable to run health check, assuming down: " + err.Error()}
	}
	return result
}

func (d *Distributor) purgeLoop() {
	defer d.done.Done()
	for {
		select {
		case <-d.stop:
			return
		case <-d.clock.After(d.purgeInterval):
			d.purgeDeadNodes()
		}
	}
}

func (d *Distributor) purgeDeadNodes() {
	d.mu.Lock()
	removed := d.model.PurgeDeadNodes(d.clock.Now(), d.nodeHeartbeatMaxAge)
	for _, id := range removed {
		delete(d.nodes, id)
		if stopCheck, ok := d.checks[id]; ok {
			close(stopCheck)
			delete(d.checks, id)
		}
	}
	nodeCount := len(d.nodes)
	d.mu.Unlock()

	if len(removed) > 0 {
		d.metrics.recordNodeCount(context.Background(), nodeCount)
	}
}

func (d *Distributor) drainLoop() {
	defer d.done.Done()
	for {
		select {
		case <-d.stop:
			return
		case <-d.wake:
		case <-d.clock.After(d.drainInterval):
		}
		d.runDrainPass()
	}
}

// runDrainPass serves as many queued requests as the current fleet can
// take. The loop keeps pulling while the queue keeps shrinking; a pass that
// leaves the size unchanged stops, so a head that cannot currently be
// served does not spin the loop. That guard can starve a request parked
// behind a permanently unmatchable one when RejectUnsupportedCaps is off; a
// known fairness limitation, kept as-is.
func (d *Distributor) runDrainPass() {
	if d.rejectUnsupportedCaps {
		d.rejectUnmatchable(d.queue.GetQueueContents())
	}

	initialSize := d.queue.Size()
	for initialSize != 0 {
		stereotypes := d.spareStereotypes()
		if req := d.queue.GetNextAvailable(stereotypes); req != nil {
			d.handleRequest(req)
		}
		currentSize := d.queue.Size()
		if currentSize == 0 || currentSize == initialSize {
			return
		}
		initialSize = currentSize
	}
}

// spareStereotypes collects the distinct stereotypes offered by nodes that
// currently have a free slot.
func (d *Distributor) spareStereotypes() []grid.Capabilities {
	seen := make(map[string]struct{})
	var out []grid.Capabilities
	for _, node := range d.availableNodes() {
		if !node.HasCapacity() {
			continue
		}
		for _, stereotype := range node.Stereotypes() {
			fp := stereotype.Fingerprint()
			if _, ok := seen[fp]; ok {
				continue
			}
			seen[fp] = struct{}{}
			out = append(out, stereotype)
		}
	}
	return out
}

// rejectUnmatchable fails every queued request whose alternatives no
// available node supports, so doomed requests do not churn the queue until
// their timeout.
func (d *Distributor) rejectUnmatchable(contents []grid.SessionRequestCapability) {
	for _, reqCaps := range contents {
		supported := false
		for _, caps := range reqCaps.Alternatives {
			if d.isSupported(caps) {
				supported = true
				break
			}
		}
		if supported {
			continue
		}
		// Complete may lose to a concurrent completer or the reaper; only the
		// call that actually finalized the request counts as a rejection.
		if d.queue.Complete(reqCaps.ID, grid.FailureResult(
			grid.NewFailure(grid.CodeNoMatchingNode, "no nodes support the capabilities in the request"))) {
			d.logger.Info("distributor.request.unmatchable", "request", reqCaps.ID.String())
			d.metrics.recordSessionRejected(context.Background(), grid.CodeNoMatchingNode)
		}
	}
}

// handleRequest attempts one dequeued request. A retryable failure puts the
// request back at the front of the queue; anything else is reported as the
// terminal outcome. A panic while processing fails only this request, never
// the loop.
func (d *Distributor) handleRequest(req *grid.SessionRequest) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("distributor.drain.panic", "request", req.ID.String(), "panic", r)
			d.queue.Complete(req.ID, grid.FailureResult(
				grid.NewFailure(grid.CodeNodeRejectedSession, fmt.Sprintf("panic while processing request: %v", r))))
		}
	}()

	resp, err := d.NewSession(context.Background(), req)
	if err != nil {
		if grid.IsRetryable(err) {
			if d.queue.RetryAddToQueue(req) {
				return
			}
			// The request died while we were working on it (completed or
			// reaped); fall through and let Complete no-op or finalize.
		}
		d.queue.Complete(req.ID, grid.FailureResult(err))
		return
	}
	d.queue.Complete(req.ID, grid.SuccessResult(resp))
}

// SubmitAndWait enqueues the request and blocks the caller until the drain
// loop (or the reaper) produces a terminal result.
func (d *Distributor) SubmitAndWait(ctx context.Context, req *grid.SessionRequest) grid.Result {
	return d.queue.AddToQueue(ctx, req)
}

// QueueSize reports the number of requests waiting.
func (d *Distributor) QueueSize() int {
	return d.queue.Size()
}

// QueueContents is the read-only projection of waiting requests.
func (d *Distributor) QueueContents() []grid.SessionRequestCapability {
	return d.queue.GetQueueContents()
}

// ClearQueue fails every waiting request.
func (d *Distributor) ClearQueue() int {
	return d.queue.ClearQueue()
}

// FireStatus lets transports inject a node status announcement as if it
// arrived on the wire.
func (d *Distributor) FireStatus(status grid.NodeStatus) {
	if d.bus != nil {
		d.bus.Fire(events.Event{Kind: events.NodeStatus, Status: &status})
	}
}
