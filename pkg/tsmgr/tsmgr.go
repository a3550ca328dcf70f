// Package tsmgr implements the timestamp manager used by the MVTO and
// WaitDie protocols. Each worker owns a monotonic counter (an atomic
// uint64 driven by Next/Peek/OnAbort/AdvanceTo); a commit timestamp folds the worker
// id into its low bits so independently-advancing workers still
// total-order. The min/max watermark computation generalizes the usual
// single global watermark into a per-worker min and max.
package tsmgr

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bobboyms/txcore/pkg/logging"
	"github.com/bobboyms/txcore/pkg/types"
)

// Timestamp is a 64-bit total-order identifier: a per-worker counter in
// the high bits, the worker id in the low types.WorkerIDBits bits.
type Timestamp uint64

// Compose builds a Timestamp from a counter value and worker id.
func Compose(counter uint64, worker types.WorkerID) Timestamp {
	return Timestamp(counter<<types.WorkerIDBits | uint64(worker)&(types.MaxWorkers-1))
}

// Counter extracts the counter portion of a Timestamp.
func (t Timestamp) Counter() uint64 { return uint64(t) >> types.WorkerIDBits }

// Worker extracts the worker-id portion of a Timestamp.
func (t Timestamp) Worker() types.WorkerID {
	return types.WorkerID(uint64(t) & (types.MaxWorkers - 1))
}

type workerState struct {
	counter    uint64 // atomic
	abortCount uint32 // atomic; reset is never needed, it only ever grows the boost exponent
}

// Manager assigns start/commit timestamps and maintains the min/max
// watermark every worker observes.
type Manager struct {
	mu      sync.RWMutex
	workers map[types.WorkerID]*workerState

	min atomic.Uint64 // atomic Timestamp, smallest across workers
	max atomic.Uint64 // atomic Timestamp, largest across workers

	refreshInterval time.Duration
	done            chan struct{}
	stopped         chan struct{}
}

// NewManager creates a timestamp manager. refreshInterval governs how
// often the background goroutine recomputes watermarks. That goroutine
// does not advance any worker's counter; only an explicit AdvanceTo
// call does.
func NewManager(refreshInterval time.Duration) *Manager {
	return &Manager{
		workers:         make(map[types.WorkerID]*workerState),
		refreshInterval: refreshInterval,
		done:            make(chan struct{}),
		stopped:         make(chan struct{}),
	}
}

// Register adds a worker with its counter starting at 0.
func (m *Manager) Register(worker types.WorkerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers[worker] = &workerState{}
}

// Unregister removes a worker so a finished thread never pins the
// watermark.
func (m *Manager) Unregister(worker types.WorkerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workers, worker)
	m.recomputeLocked()
}

// Next assigns the next timestamp for worker, advancing its counter.
func (m *Manager) Next(worker types.WorkerID) Timestamp {
	m.mu.RLock()
	ws := m.workers[worker]
	m.mu.RUnlock()
	c := atomic.AddUint64(&ws.counter, 1)
	return Compose(c, worker)
}

// Peek returns worker's current timestamp without advancing it.
func (m *Manager) Peek(worker types.WorkerID) Timestamp {
	m.mu.RLock()
	ws := m.workers[worker]
	m.mu.RUnlock()
	return Compose(atomic.LoadUint64(&ws.counter), worker)
}

// OnAbort boosts worker's counter by 2^min(abort_count,2), to reduce
// repeat collisions after a system abort.
func (m *Manager) OnAbort(worker types.WorkerID) {
	m.mu.RLock()
	ws := m.workers[worker]
	m.mu.RUnlock()
	n := atomic.AddUint32(&ws.abortCount, 1)
	shift := n
	if shift > 2 {
		shift = 2
	}
	atomic.AddUint64(&ws.counter, uint64(1)<<shift)
}

// AdvanceTo opportunistically advances worker's counter to at least peer,
// so its next-assigned timestamp is never behind a peer it has observed.
func (m *Manager) AdvanceTo(worker types.WorkerID, peer uint64) {
	m.mu.RLock()
	ws := m.workers[worker]
	m.mu.RUnlock()
	for {
		cur := atomic.LoadUint64(&ws.counter)
		if cur >= peer {
			return
		}
		if atomic.CompareAndSwapUint64(&ws.counter, cur, peer) {
			return
		}
	}
}

// MinWatermark returns the smallest timestamp among all workers, used by
// MVTO to trim version chains.
func (m *Manager) MinWatermark() Timestamp { return Timestamp(m.min.Load()) }

// MaxWatermark returns the largest timestamp among all workers, used as
// the deferred-free stamp for GC.
func (m *Manager) MaxWatermark() Timestamp { return Timestamp(m.max.Load()) }

func (m *Manager) recomputeLocked() {
	if len(m.workers) == 0 {
		m.min.Store(0)
		m.max.Store(0)
		return
	}
	var lo, hi uint64
	first := true
	for id, ws := range m.workers {
		c := Compose(atomic.LoadUint64(&ws.counter), id)
		v := uint64(c)
		if first || v < lo {
			lo = v
		}
		if first || v > hi {
			hi = v
		}
		first = false
	}
	m.min.Store(lo)
	m.max.Store(hi)
}

// Run drives the periodic watermark-publication goroutine. Launch with
// `go m.Run()`.
func (m *Manager) Run() {
	defer close(m.stopped)
	ticker := time.NewTicker(m.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.mu.Lock()
			m.recomputeLocked()
			m.mu.Unlock()
			logging.Debug().Uint64("min", m.min.Load()).Uint64("max", m.max.Load()).Msg("timestamp watermarks refreshed")
		}
	}
}

// Stop signals Run to exit and blocks until it has.
func (m *Manager) Stop() {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
	<-m.stopped
}
