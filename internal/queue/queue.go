// Package queue implements the new-session request queue. A submitter
// blocks inside AddToQueue until the distributor completes the request or
// its deadline passes; the distributor pulls work through GetNextAvailable
// and reports outcomes through Complete.
//
// Lifecycle of a request:
//
//  1. AddToQueue appends the request, fires a new-session-request event, and
//     blocks the caller.
//  2. A drain loop removes the request for an attempt via GetNextAvailable.
//  3. Complete finalizes it (idempotent, first writer wins), or
//     RetryAddToQueue puts it back at the front for another pass.
//  4. A background reaper fails requests whose deadline passed.
package queue

import (
	"context"
	"sync"
	"time"

	"pkt.systems/gridd/internal/clock"
	"pkt.systems/gridd/internal/events"
	"pkt.systems/gridd/internal/grid"
	"pkt.systems/pslog"
)

// Config carries the queue's collaborators and tuning.
type Config struct {
	Logger pslog.Logger
	Bus    *events.Bus
	Clock  clock.Clock
	// Matcher decides stereotype/capability compatibility for
	// GetNextAvailable.
	Matcher grid.SlotMatcher
	// RequestTimeout bounds how long a request may stay pending.
	RequestTimeout time.Duration
	// RetryInterval is the reaper tick.
	RetryInterval time.Duration
}

// Queue is the in-memory session request queue.
type Queue struct {
	logger         pslog.Logger
	bus            *events.Bus
	clock          clock.Clock
	matcher        grid.SlotMatcher
	requestTimeout time.Duration
	retryInterval  time.Duration
	metrics        *queueMetrics

	mu      sync.RWMutex
	pending []*grid.SessionRequest
	results map[grid.RequestID]*pendingResult

	stopOnce sync.Once
	stop     chan struct{}
	done     sync.WaitGroup
}

// pendingResult is the per-request bookkeeping entry. Completion is signaled
// exactly once; later completers lose silently.
type pendingResult struct {
	deadline time.Time

	mu        sync.Mutex
	completed bool
	result    grid.Result
	ready     chan struct{}
}

func (p *pendingResult) complete(res grid.Result) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.completed {
		return false
	}
	p.completed = true
	p.result = res
	close(p.ready)
	return true
}

// New constructs the queue and starts its timeout reaper.
func New(cfg Config) *Queue {
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	logger = logger.With("sys", "queue")
	q := &Queue{
		logger:         logger,
		bus:            cfg.Bus,
		clock:          cfg.Clock,
		matcher:        cfg.Matcher,
		requestTimeout: cfg.RequestTimeout,
		retryInterval:  cfg.RetryInterval,
		metrics:        newQueueMetrics(logger),
		results:        make(map[grid.RequestID]*pendingResult),
		stop:           make(chan struct{}),
	}
	if q.retryInterval > 0 {
		q.done.Add(1)
		go q.reapLoop()
	}
	return q
}

// Close stops the reaper. Pending requests are not failed; use ClearQueue
// for that.
func (q *Queue) Close() {
	q.stopOnce.Do(func() {
		close(q.stop)
	})
	q.done.Wait()
}

// AddToQueue records the request and blocks the caller until a result is
// available or the request timeout elapses. The returned result is always
// terminal.
func (q *Queue) AddToQueue(ctx context.Context, req *grid.SessionRequest) grid.Result {
	if req == nil || req.ID == "" {
		return grid.FailureResult(grid.NewFailure(grid.CodeMalformedRequest, "session request has no id"))
	}

	entry := q.inject(req)

	// Clock skew or a long hand-off can mean the request is already dead on
	// arrival.
	if entry.deadline.Before(q.clock.Now()) {
		q.Complete(req.ID, grid.FailureResult(grid.NewFailure(grid.CodeRequestTimedOut, "request timed out before queueing")))
	}

	var result grid.Result
	select {
	case <-entry.ready:
		entry.mu.Lock()
		result = entry.result
		entry.mu.Unlock()
	case <-q.clock.After(q.requestTimeout):
		// Local timeout for this call. The entry may still be completed or
		// reaped concurrently; both are fine, the first writer into the
		// bookkeeping entry wins and this caller reports its own view.
		result = grid.FailureResult(grid.NewFailure(grid.CodeRequestTimedOut, "new session request timed out"))
		q.metrics.recordTimeout(context.Background())
	case <-ctx.Done():
		result = grid.FailureResult(grid.WrapFailure(grid.CodeRequestTimedOut, "caller abandoned the request", ctx.Err()))
	}

	q.mu.Lock()
	delete(q.results, req.ID)
	q.removeLocked(req.ID)
	q.mu.Unlock()

	q.metrics.recordWait(context.Background(), q.clock.Now().Sub(req.Enqueued), result.OK())
	return result
}

func (q *Queue) inject(req *grid.SessionRequest) *pendingResult {
	entry := &pendingResult{
		deadline: req.Enqueued.Add(q.requestTimeout),
		ready:    make(chan struct{}),
	}

	q.mu.Lock()
	q.results[req.ID] = entry
	q.pending = append(q.pending, req)
	depth := len(q.pending)
	q.mu.Unlock()

	q.logger.Debug("queue.request.added", "request", req.ID.String(), "depth", depth)
	q.metrics.recordEnqueue(context.Background(), depth)
	q.fireNewRequest(req.ID)
	return entry
}

// RetryAddToQueue returns a request to the front of the queue so it is
// retried before newer arrivals. Returns false when the request's
// bookkeeping is gone (completed or reaped); a dead request must not be
// retried.
func (q *Queue) RetryAddToQueue(req *grid.SessionRequest) bool {
	if req == nil {
		return false
	}

	q.mu.Lock()
	if _, ok := q.results[req.ID]; !ok {
		q.mu.Unlock()
		return false
	}
	for _, queued := range q.pending {
		if queued.ID == req.ID {
			// Already back in line; nothing to do.
			q.mu.Unlock()
			return true
		}
	}
	q.pending = append([]*grid.SessionRequest{req}, q.pending...)
	q.mu.Unlock()

	q.logger.Debug("queue.request.retried", "request", req.ID.String())
	q.fireNewRequest(req.ID)
	return true
}

// Remove takes the request out of the pending sequence without touching its
// bookkeeping: the request is in flight for an attempt while its waiter
// stays blocked.
func (q *Queue) Remove(id grid.RequestID) *grid.SessionRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(id)
}

func (q *Queue) removeLocked(id grid.RequestID) *grid.SessionRequest {
	for i, req := range q.pending {
		if req.ID == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return req
		}
	}
	return nil
}

// GetNextAvailable removes and returns the first pending request with at
// least one capability alternative compatible with at least one of the
// supplied stereotypes. Returns nil when nothing matches.
func (q *Queue) GetNextAvailable(stereotypes []grid.Capabilities) *grid.SessionRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, req := range q.pending {
		if q.matchesAny(req, stereotypes) {
			return q.removeLocked(req.ID)
		}
	}
	return nil
}

func (q *Queue) matchesAny(req *grid.SessionRequest, stereotypes []grid.Capabilities) bool {
	for _, caps := range req.Alternatives {
		for _, stereotype := range stereotypes {
			if q.matcher(stereotype, caps) {
				return true
			}
		}
	}
	return false
}

// Complete finalizes a request: removes it from the queue and bookkeeping,
// announces a rejection event for failures, and unblocks the waiter.
// Idempotent; completing an unknown or already-completed request is a
// silent no-op. Returns whether this call supplied the terminal result, so
// callers can skip side effects that must happen at most once per request.
func (q *Queue) Complete(id grid.RequestID, result grid.Result) bool {
	q.mu.RLock()
	entry, ok := q.results[id]
	q.mu.RUnlock()
	if !ok {
		return false
	}

	q.mu.Lock()
	delete(q.results, id)
	q.removeLocked(id)
	q.mu.Unlock()

	won := entry.complete(result)
	if won {
		if result.Err != nil {
			q.fireRejected(id, result.Err)
		}
		q.metrics.recordComplete(context.Background(), result.OK())
	}
	return won
}

// ClearQueue fails every pending request with a queue_cleared error and
// empties the queue. Returns the number of requests that were still in the
// pending sequence.
func (q *Queue) ClearQueue() int {
	q.mu.Lock()
	cleared := len(q.pending)
	entries := make(map[grid.RequestID]*pendingResult, len(q.results))
	for id, entry := range q.results {
		entries[id] = entry
	}
	q.pending = nil
	q.results = make(map[grid.RequestID]*pendingResult)
	q.mu.Unlock()

	failure := grid.NewFailure(grid.CodeQueueCleared, "new session request queue was forcibly cleared")
	for id, entry := range entries {
		entry.complete(grid.FailureResult(failure))
		q.fireRejected(id, failure)
	}
	q.logger.Info("queue.cleared", "pending", cleared, "waiters", len(entries))
	return cleared
}

// GetQueueContents is a read-only projection of the pending requests, used
// by the distributor's unsupported-capability pre-check.
func (q *Queue) GetQueueContents() []grid.SessionRequestCapability {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]grid.SessionRequestCapability, 0, len(q.pending))
	for _, req := range q.pending {
		out = append(out, grid.SessionRequestCapability{ID: req.ID, Alternatives: req.Alternatives, Enqueued: req.Enqueued})
	}
	return out
}

// Size reports the number of requests waiting in the pending sequence.
func (q *Queue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.pending)
}

func (q *Queue) reapLoop() {
	defer q.done.Done()
	for {
		select {
		case <-q.stop:
			return
		case <-q.clock.After(q.retryInterval):
			q.reapTimedOut()
		}
	}
}

// reapTimedOut computes the timed-out set under a read lock, then fails
// each request through the idempotent Complete path. A request that
// completed normally between the two phases is simply skipped.
func (q *Queue) reapTimedOut() {
	now := q.clock.Now()

	q.mu.RLock()
	var expired []grid.RequestID
	for id, entry := range q.results {
		if entry.deadline.Before(now) {
			expired = append(expired, id)
		}
	}
	q.mu.RUnlock()

	for _, id := range expired {
		q.logger.Info("queue.request.timeout", "request", id.String())
		q.Complete(id, grid.FailureResult(grid.NewFailure(grid.CodeRequestTimedOut, "timed out creating session")))
		q.metrics.recordTimeout(context.Background())
	}
}

func (q *Queue) fireNewRequest(id grid.RequestID) {
	if q.bus != nil {
		q.bus.Fire(events.Event{Kind: events.NewSessionRequest, RequestID: id})
	}
}

func (q *Queue) fireRejected(id grid.RequestID, err error) {
	if q.bus != nil {
		q.bus.Fire(events.Event{Kind: events.SessionRejected, RequestID: id, Reason: err.Error()})
	}
}
