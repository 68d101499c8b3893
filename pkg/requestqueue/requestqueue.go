// Package requestqueue implements the bounded FIFO of failover/failback/
// promote/close-idle requests, modeled as an explicit ring buffer (not
// a channel) so callers can observe head/tail cursors directly and the
// capacity check matches a double-checked pattern — see the Open
// Question note below.
package requestqueue

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sentrypool/sentrypool/pkg/log"
	"github.com/sentrypool/sentrypool/pkg/metrics"
	"github.com/sentrypool/sentrypool/pkg/types"
)

// DefaultCapacity matches MAX_REQUEST_QUEUE_SIZE floor.
const DefaultCapacity = types.MinRequestQueueSize

// Queue is a mutex-guarded bounded ring buffer. In the original source
// this was guarded by a named semaphore shared between the supervisor
// and worker processes; collapsing workers and the supervisor into
// goroutines of one process lets a single mutex stand in for it,
// matching "producers use the request-queue semaphore".
type Queue struct {
	mu sync.Mutex

	// head/tail are monotonically increasing counters, not indices
	// modulo capacity; "empty" is head==tail and "full" is
	// tail-head==capacity.
	//
	// Open Question: fullness is checked with this tail-head==capacity
	// formula without explicit wraparound handling. We use uint64
	// cursors rather than "fix" the formula;
	// wraparound after 2^64 enqueues is treated as the same unexamined,
	// preserved assumption the original makes, not resolved here.
	head, tail uint64

	capacity int
	entries  []types.Request
}

// New creates a queue with the given capacity (minimum
// types.MinRequestQueueSize).
func New(capacity int) *Queue {
	if capacity < types.MinRequestQueueSize {
		capacity = types.MinRequestQueueSize
	}
	return &Queue{
		capacity: capacity,
		entries:  make([]types.Request, capacity),
	}
}

// full reports fullness under the lock. Exposed separately from Enqueue
// so a lock-free pre-check can be attempted first, mirroring the
// original's "checked twice: once lock-free, once under the semaphore" —
// here the first check is advisory only (fast rejection without
// blocking callers that can tolerate a stale read); the authoritative
// check is always the one taken under mu in Enqueue.
func (q *Queue) full() bool {
	return q.tail-q.head == uint64(q.capacity)
}

// Full is the lock-free fast-path fullness probe.
func (q *Queue) Full() bool {
	return q.full()
}

// Enqueue appends a request. Returns false (and leaves the queue
// unchanged) if it is full; the caller is responsible for signalling the
// supervisor's failover event afterward (: "if the caller is
// the supervisor itself it drives the engine inline; otherwise it
// signals the supervisor").
func (q *Queue) Enqueue(kind types.RequestKind, nodeIDs []int, byHealth bool) (types.Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.full() {
		metrics.RequestQueueDropsTotal.Inc()
		log.WithComponent("requestqueue").Warn().Str("kind", kind.String()).Msg("request queue full, dropping request")
		return types.Request{}, false
	}

	req := types.Request{
		ID:       uuid.New().String(),
		Kind:     kind,
		NodeIDs:  append([]int(nil), nodeIDs...),
		ByHealth: byHealth,
	}
	slot := q.tail % uint64(q.capacity)
	q.entries[slot] = req
	q.tail++
	metrics.RequestQueueDepth.Set(float64(q.tail - q.head))
	return req, true
}

// Dequeue removes and returns the oldest entry, or false if empty.
func (q *Queue) Dequeue() (types.Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == q.tail {
		return types.Request{}, false
	}
	slot := q.head % uint64(q.capacity)
	req := q.entries[slot]
	q.head++
	metrics.RequestQueueDepth.Set(float64(q.tail - q.head))
	return req, true
}

// Empty reports whether the queue currently holds no entries.
func (q *Queue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.head == q.tail
}

// Len returns the current number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int(q.tail - q.head)
}
