// Package epoch implements a global epoch clock: a 32-bit counter
// advanced by one dedicated manager goroutine once every worker has
// acknowledged the current value. Reclamation safety falls out of this
// directly — memory detached at epoch e is safe to free once the
// global epoch reaches e+2, since by then no worker can still hold a
// reference taken before e. The manager goroutine's shutdown shape (a
// time.Ticker plus a done channel) is the same pattern used anywhere
// else in this codebase a background goroutine needs clean shutdown.
package epoch

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bobboyms/txcore/pkg/logging"
)

// Epoch is the coarse logical-time unit advanced by Manager.
type Epoch uint32

// Manager owns the global epoch counter and the per-worker "last observed
// epoch" publication it needs before advancing.
type Manager struct {
	global Epoch // atomic

	mu      sync.Mutex
	workers map[uint32]*Epoch // worker id -> published epoch (atomic access via pointer)

	interval time.Duration
	done     chan struct{}
	stopped  chan struct{}
	ticker   *time.Ticker

	deadline time.Time // zero means "run until Stop"
}

// NewManager creates an epoch manager starting at epoch 0. interval is how
// often the manager goroutine attempts to advance; duration, if non-zero,
// bounds the manager's run as a benchmark-duration barrier; zero means
// "run until Stop is called".
func NewManager(interval, duration time.Duration) *Manager {
	m := &Manager{
		workers:  make(map[uint32]*Epoch),
		interval: interval,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	if duration > 0 {
		m.deadline = time.Now().Add(duration)
	}
	return m
}

// Register publishes worker id's initial visible epoch. Call once before
// the worker's first begin_tx.
func (m *Manager) Register(worker uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := Epoch(atomic.LoadUint32((*uint32)(&m.global)))
	m.workers[worker] = &e
}

// Unregister removes a worker from the acknowledgement set, so a finished
// worker thread can never block the global epoch from advancing.
func (m *Manager) Unregister(worker uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workers, worker)
}

// Refresh publishes worker's currently visible epoch. Every transaction
// begin calls this, so the global epoch can never advance past a
// value some live worker hasn't yet observed.
func (m *Manager) Refresh(worker uint32) Epoch {
	cur := m.Current()
	m.mu.Lock()
	if e, ok := m.workers[worker]; ok {
		atomic.StoreUint32((*uint32)(e), uint32(cur))
	}
	m.mu.Unlock()
	return cur
}

// Current returns the global epoch.
func (m *Manager) Current() Epoch {
	return Epoch(atomic.LoadUint32((*uint32)(&m.global)))
}

// tryAdvance increments the global epoch by one iff every registered
// worker has acknowledged the current value.
func (m *Manager) tryAdvance() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := atomic.LoadUint32((*uint32)(&m.global))
	for _, e := range m.workers {
		if atomic.LoadUint32((*uint32)(e)) != cur {
			return false
		}
	}
	if !atomic.CompareAndSwapUint32((*uint32)(&m.global), cur, cur+1) {
		return false
	}
	logging.Debug().Uint32("epoch", cur+1).Msg("epoch advanced")
	return true
}

// Run drives the manager goroutine: it sleeps in short intervals,
// advancing when possible, and exits once the configured deadline elapses
// or Stop is called, whichever comes first. Run is meant to be launched
// with `go m.Run()`.
func (m *Manager) Run() {
	defer close(m.stopped)
	m.ticker = time.NewTicker(m.interval)
	defer m.ticker.Stop()
	logging.Info().Msg("epoch manager started")
	for {
		select {
		case <-m.done:
			logging.Info().Msg("epoch manager stopped")
			return
		case <-m.ticker.C:
			m.tryAdvance()
			if !m.deadline.IsZero() && time.Now().After(m.deadline) {
				logging.Info().Msg("epoch manager reached its deadline")
				return
			}
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

// ReclaimableBelow returns the epoch below which any memory detached at
// that epoch is safe to reclaim: global_epoch-2.
func (m *Manager) ReclaimableBelow() Epoch {
	cur := m.Current()
	if cur < 2 {
		return 0
	}
	return cur - 2
}
