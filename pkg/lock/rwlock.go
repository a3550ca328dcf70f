// Package lock implements two locking primitives this engine's
// concurrency-control protocols share: a reader-writer lock with
// upgrade, and a wait-die timestamp-ordered lock. Both are spin-CAS
// based rather than syscall-based, matching pkg/btree/node.go's latch
// style (Lock/Unlock/RLock/RUnlock wrapping a sync.RWMutex) — here
// built directly on an atomic counter so upgrade can be expressed
// without the blocking-everyone-out shape sync.RWMutex forces.
package lock

import (
	"runtime"
	"sync/atomic"
)

// RWLock is a signed-counter reader-writer lock with upgrade support.
// 0 means free, k>0 means k readers hold it, -1 means a writer holds it.
// There is no fairness guarantee.
type RWLock struct {
	state int32
}

// LockShared blocks until a shared hold is granted.
func (l *RWLock) LockShared() {
	for {
		if l.TryLockShared() {
			return
		}
		runtime.Gosched()
	}
}

// TryLockShared attempts to add one reader without blocking.
func (l *RWLock) TryLockShared() bool {
	for {
		cur := atomic.LoadInt32(&l.state)
		if cur < 0 {
			return false
		}
		if atomic.CompareAndSwapInt32(&l.state, cur, cur+1) {
			return true
		}
	}
}

// Lock blocks until an exclusive hold is granted.
func (l *RWLock) Lock() {
	for {
		if l.TryLock() {
			return
		}
		runtime.Gosched()
	}
}

// TryLock attempts to acquire the lock exclusively without blocking.
func (l *RWLock) TryLock() bool {
	return atomic.CompareAndSwapInt32(&l.state, 0, -1)
}

// LockUpgrade blocks until the caller's existing shared hold is promoted
// to exclusive. Precondition: the caller already holds exactly one
// shared lock and is the only reader; callers that violate this
// precondition will spin forever against their own hold, which is the
// documented failure mode rather than undefined behavior.
func (l *RWLock) LockUpgrade() {
	for {
		if l.TryLockUpgrade() {
			return
		}
		runtime.Gosched()
	}
}

// TryLockUpgrade attempts the promotion described by LockUpgrade without
// blocking. It succeeds only when the caller is the sole reader.
func (l *RWLock) TryLockUpgrade() bool {
	return atomic.CompareAndSwapInt32(&l.state, 1, -1)
}

// UnlockShared releases one shared hold.
func (l *RWLock) UnlockShared() {
	atomic.AddInt32(&l.state, -1)
}

// Unlock releases an exclusive hold.
func (l *RWLock) Unlock() {
	atomic.StoreInt32(&l.state, 0)
}

// Readers reports the current reader count, or -1 if held exclusively.
// It is a snapshot, useful for tests and diagnostics only.
func (l *RWLock) Readers() int32 {
	return atomic.LoadInt32(&l.state)
}
