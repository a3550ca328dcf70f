// Package gc implements the epoch/timestamp-based deferred-free queue:
// each worker holds a thread-local multiset of (reclaim_stamp, pointer)
// entries, and reclamation deletes every entry whose stamp is strictly
// below the appropriate safety watermark (global_epoch-2 for epoch
// protocols, smallest_worker_timestamp for timestamp protocols). The
// watermark computation is the usual "smallest live snapshot" approach
// applied to arbitrary reclaimed values — detached cells, superseded
// versions — rather than just heap offsets.
package gc

import (
	"sync"

	"github.com/bobboyms/txcore/pkg/logging"
)

// Stamp is either an epoch (Silo/NoWait) or a timestamp (MVTO/WaitDie),
// whichever the owning protocol's watermark is denominated in.
type Stamp uint64

// entry is a pointer/value scheduled for deferred free, along with the
// stamp below which it is safe to free it.
type entry struct {
	stamp Stamp
	value interface{}
}

// Queue is one worker's deferred-free queue. It is not safe for use by
// more than one goroutine at a time by design — GC queues are
// thread-local — but the mutex guards against the teardown path and a
// concurrent opportunistic sweep landing on the same queue.
type Queue struct {
	mu      sync.Mutex
	entries []entry
}

// NewQueue creates an empty deferred-free queue.
func NewQueue() *Queue { return &Queue{} }

// Enqueue schedules value for reclamation once the watermark passes
// stamp. Called from transaction teardown (commit publication or abort)
// for detached cells and superseded records.
func (q *Queue) Enqueue(stamp Stamp, value interface{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, entry{stamp: stamp, value: value})
}

// Len reports the number of entries still pending reclamation.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Reclaim frees every entry with stamp strictly less than watermark by
// calling free on its value, and removes it from the queue. It must never
// be called while any live transaction could still dereference a pointer
// at or above watermark — the caller (pkg/protocol/*) is responsible for
// only ever passing a watermark that the epoch/timestamp manager has
// certified safe.
func (q *Queue) Reclaim(watermark Stamp, free func(value interface{})) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.entries[:0]
	reclaimed := 0
	for _, e := range q.entries {
		if e.stamp < watermark {
			free(e.value)
			reclaimed++
			continue
		}
		kept = append(kept, e)
	}
	q.entries = kept
	if reclaimed > 0 {
		logging.Debug().Uint64("watermark", uint64(watermark)).Int("reclaimed", reclaimed).Msg("gc reclaimed entries")
	}
	return reclaimed
}
