package lock

import (
	"sort"
	"sync"

	txerrors "github.com/bobboyms/txcore/pkg/errors"
)

// Mode is the acquisition mode for a WaitDieLock request.
type Mode int

const (
	Shared Mode = iota
	Exclusive
	// UpgradeMode promotes an existing Shared hold to Exclusive. Its
	// precondition (the caller already owns a Shared hold) is the same one
	// RWLock.LockUpgrade documents.
	UpgradeMode
)

type owner struct {
	ts   uint64
	mode Mode
}

type waiter struct {
	ts      uint64
	mode    Mode
	granted chan struct{}
}

// WaitDieLock is the timestamp-ordered lock backing the WaitDie
// protocol. At contention, an older requester (smaller start
// timestamp) waits; a younger one dies immediately — AcquireShared,
// AcquireExclusive, and AcquireUpgrade all return ConflictError rather
// than blocking when the caller must abort.
type WaitDieLock struct {
	mu      sync.Mutex
	owners  []owner  // kept sorted ascending by ts
	waiters []waiter // kept sorted ascending by ts (oldest first)
}

// AcquireShared blocks if ts is older than the exclusive owner blocking it,
// and returns a ConflictError (the caller must abort) if ts is younger.
func (l *WaitDieLock) AcquireShared(ts uint64) error {
	return l.acquire(ts, Shared)
}

// AcquireExclusive is AcquireShared's exclusive-mode counterpart.
func (l *WaitDieLock) AcquireExclusive(ts uint64) error {
	return l.acquire(ts, Exclusive)
}

// AcquireUpgrade promotes the caller's existing Shared hold (ts must
// already be an owner in Shared mode) to Exclusive. If another owner holds
// a shared lock, ts waits when it is the oldest owner, otherwise it dies.
func (l *WaitDieLock) AcquireUpgrade(ts uint64) error {
	l.mu.Lock()
	idx, ok := l.findOwner(ts)
	if !ok || l.owners[idx].mode != Shared {
		l.mu.Unlock()
		return txerrors.WrapBug(txerrors.NewBug("upgrade requires an existing shared hold"), "AcquireUpgrade")
	}
	if len(l.owners) == 1 {
		l.owners[idx].mode = Exclusive
		l.mu.Unlock()
		return nil
	}
	if !l.isOldestOwner(ts) {
		l.mu.Unlock()
		return &txerrors.ConflictError{Reason: "wait-die: younger upgrade dies"}
	}
	w := waiter{ts: ts, mode: UpgradeMode, granted: make(chan struct{})}
	l.insertWaiter(w)
	l.mu.Unlock()
	<-w.granted
	return nil
}

func (l *WaitDieLock) acquire(ts uint64, mode Mode) error {
	l.mu.Lock()
	if !l.conflicts(mode) {
		l.owners = append(l.owners, owner{ts: ts, mode: mode})
		l.sortOwners()
		l.mu.Unlock()
		return nil
	}
	minConflict, ok := l.minConflictingTS(mode)
	if !ok || ts >= minConflict {
		l.mu.Unlock()
		return &txerrors.ConflictError{Reason: "wait-die: younger requester dies"}
	}
	w := waiter{ts: ts, mode: mode, granted: make(chan struct{})}
	l.insertWaiter(w)
	l.mu.Unlock()
	<-w.granted
	return nil
}

// Release drops ts's hold (in whatever mode it currently has) and promotes
// waiters from the oldest end as far as the new owner set allows.
func (l *WaitDieLock) Release(ts uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if idx, ok := l.findOwner(ts); ok {
		l.owners = append(l.owners[:idx], l.owners[idx+1:]...)
	}
	l.promote()
}

func (l *WaitDieLock) conflicts(mode Mode) bool {
	switch mode {
	case Exclusive:
		return len(l.owners) > 0
	default: // Shared
		for _, o := range l.owners {
			if o.mode == Exclusive {
				return true
			}
		}
		return false
	}
}

func (l *WaitDieLock) minConflictingTS(mode Mode) (uint64, bool) {
	found := false
	var min uint64
	for _, o := range l.owners {
		conflicting := mode == Exclusive || o.mode == Exclusive
		if !conflicting {
			continue
		}
		if !found || o.ts < min {
			min = o.ts
			found = true
		}
	}
	return min, found
}

func (l *WaitDieLock) isOldestOwner(ts uint64) bool {
	for _, o := range l.owners {
		if o.ts < ts {
			return false
		}
	}
	return true
}

func (l *WaitDieLock) findOwner(ts uint64) (int, bool) {
	for i, o := range l.owners {
		if o.ts == ts {
			return i, true
		}
	}
	return 0, false
}

func (l *WaitDieLock) sortOwners() {
	sort.Slice(l.owners, func(i, j int) bool { return l.owners[i].ts < l.owners[j].ts })
}

func (l *WaitDieLock) insertWaiter(w waiter) {
	i := sort.Search(len(l.waiters), func(i int) bool { return l.waiters[i].ts >= w.ts })
	l.waiters = append(l.waiters, waiter{})
	copy(l.waiters[i+1:], l.waiters[i:])
	l.waiters[i] = w
}

// promote walks the waiter queue from the oldest end, granting as many
// waiters as the current owner set allows.
func (l *WaitDieLock) promote() {
	for len(l.waiters) > 0 {
		w := l.waiters[0]
		switch w.mode {
		case Exclusive:
			if len(l.owners) != 0 {
				return
			}
			l.owners = append(l.owners, owner{ts: w.ts, mode: Exclusive})
			l.waiters = l.waiters[1:]
			close(w.granted)
			return
		case Shared:
			if l.hasExclusiveOwner() {
				return
			}
			l.owners = append(l.owners, owner{ts: w.ts, mode: Shared})
			l.sortOwners()
			l.waiters = l.waiters[1:]
			close(w.granted)
			// Continue to the next waiter: a read waiter is granted
			// while the next waiter is also a reader and no write owner
			// exists.
			if len(l.waiters) == 0 || l.waiters[0].mode != Shared {
				return
			}
		case UpgradeMode:
			idx, ok := l.findOwner(w.ts)
			if !ok || len(l.owners) != 1 {
				return
			}
			l.owners[idx].mode = Exclusive
			l.waiters = l.waiters[1:]
			close(w.granted)
			return
		}
	}
}

func (l *WaitDieLock) hasExclusiveOwner() bool {
	for _, o := range l.owners {
		if o.mode == Exclusive {
			return true
		}
	}
	return false
}
