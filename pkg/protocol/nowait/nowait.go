// Package nowait implements the NoWait concurrency-control protocol:
// strict two-phase locking where a lock acquisition that would block
// instead fails immediately and the transaction aborts.
package nowait

import (
	"sync"

	"github.com/bobboyms/txcore/pkg/arena"
	txerrors "github.com/bobboyms/txcore/pkg/errors"
	"github.com/bobboyms/txcore/pkg/gc"
	"github.com/bobboyms/txcore/pkg/index"
	"github.com/bobboyms/txcore/pkg/logging"
	"github.com/bobboyms/txcore/pkg/rwset"
	"github.com/bobboyms/txcore/pkg/schema"
	"github.com/bobboyms/txcore/pkg/types"
	"github.com/bobboyms/txcore/pkg/valuecell"
)

// Engine is the process-wide NoWait collaborator set.
type Engine struct {
	Index  *index.Registry
	Schema *schema.Catalog

	mu     sync.Mutex
	gcqs   map[types.WorkerID]*gc.Queue
	arenas map[arenaKey]*arena.Arena
	clock  uint64 // atomic; epoch-like stamp for this protocol's GC queue
}

type arenaKey struct {
	worker types.WorkerID
	table  types.TableID
}

// NewEngine wires a NoWait engine on top of an already-populated index
// registry and schema catalog.
func NewEngine(idx *index.Registry, cat *schema.Catalog) *Engine {
	return &Engine{
		Index:  idx,
		Schema: cat,
		gcqs:   make(map[types.WorkerID]*gc.Queue),
		arenas: make(map[arenaKey]*arena.Arena),
	}
}

// RegisterWorker allocates worker's GC queue. Call once before the
// worker's first Begin.
func (e *Engine) RegisterWorker(worker types.WorkerID) {
	e.mu.Lock()
	e.gcqs[worker] = gc.NewQueue()
	e.mu.Unlock()
}

func (e *Engine) gcQueue(worker types.WorkerID) *gc.Queue {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gcqs[worker]
}

func (e *Engine) arenaFor(worker types.WorkerID, table types.TableID) (*arena.Arena, error) {
	key := arenaKey{worker, table}
	e.mu.Lock()
	a, ok := e.arenas[key]
	e.mu.Unlock()
	if ok {
		return a, nil
	}
	size, err := e.Schema.RecordSize(table)
	if err != nil {
		return nil, err
	}
	a = arena.New(size)
	e.mu.Lock()
	e.arenas[key] = a
	e.mu.Unlock()
	return a, nil
}

// nextStamp hands out a monotonically increasing GC stamp. NoWait has
// no epoch or timestamp manager of its own (its safety comes from
// holding locks, not from watermark validation), so reclamation here
// is simply "safe once this transaction itself has finished" — the
// stamp only needs to order transactions from the same worker.
func (e *Engine) nextStamp() gc.Stamp {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock++
	return gc.Stamp(e.clock)
}

type lockMode int

const (
	sharedMode lockMode = iota
	exclusiveMode
)

type heldLock struct {
	cell *valuecell.NoWaitCell
	mode lockMode
}

// Txn is one NoWait transaction attempt. Not safe for concurrent use.
type Txn struct {
	eng    *Engine
	worker types.WorkerID
	set    *rwset.Set
	locks  []heldLock
	finished bool
}

// Begin starts a new NoWait transaction for worker.
func (e *Engine) Begin(worker types.WorkerID) *Txn {
	return &Txn{eng: e, worker: worker, set: rwset.New()}
}

// Read acquires a shared lock on the cell (no-wait: failure aborts)
// and returns its current record.
func (t *Txn) Read(table types.TableID, key types.Key) (valuecell.Record, bool, error) {
	if e, ok := t.set.Get(table, key); ok {
		if e.Type == rwset.DELETE {
			return nil, false, nil
		}
		return e.LocalRecord, true, nil
	}

	val, present, err := t.eng.Index.Find(table, key)
	if err != nil {
		return nil, false, err
	}
	if !present {
		return nil, false, nil
	}
	cell := val.(*valuecell.NoWaitCell)
	if !cell.Lock.TryLockShared() {
		return nil, false, &txerrors.ConflictError{Reason: "nowait: shared lock unavailable"}
	}
	t.locks = append(t.locks, heldLock{cell: cell, mode: sharedMode})

	rec := cell.Record()
	if rec == nil {
		// Detached cell: logically removed, waiting for GC. Observers
		// treat this as absent; the shared lock stays held (released
		// at commit/abort) but no entry is recorded, so a later Read
		// on the same key re-checks rather than replaying this miss.
		return nil, false, nil
	}
	local := rec.Clone()
	t.set.Put(table, key, &rwset.Entry{
		Type:        rwset.READ,
		ValRef:      cell,
		LocalRecord: local,
	})
	return local, true, nil
}

// Insert next-key-locks the successor to guard against range phantoms,
// allocates a new write-locked cell with a null record, inserts it,
// then releases the successor lock.
func (t *Txn) Insert(table types.TableID, key types.Key) (valuecell.Record, error) {
	if e, ok := t.set.Get(table, key); ok && e.Type != rwset.DELETE {
		return nil, &txerrors.AlreadyPresentError{Key: keyStringer{key}}
	}

	_, succVal, hasSucc, err := t.eng.Index.GetNextKV(table, key)
	if err != nil {
		return nil, err
	}
	var succCell *valuecell.NoWaitCell
	if hasSucc {
		succCell = succVal.(*valuecell.NoWaitCell)
		if !succCell.Lock.TryLock() {
			return nil, &txerrors.ConflictError{Reason: "nowait: next-key lock unavailable"}
		}
	}

	cell := valuecell.NewNoWaitCell(nil)
	cell.Lock.Lock() // always succeeds: the cell was just allocated, unshared

	if err := t.eng.Index.Insert(table, key, cell); err != nil {
		cell.Lock.Unlock()
		if succCell != nil {
			succCell.Lock.Unlock()
		}
		return nil, err
	}
	if succCell != nil {
		succCell.Lock.Unlock()
	}

	buf, err := t.acquireBuffer(table)
	if err != nil {
		return nil, err
	}
	t.locks = append(t.locks, heldLock{cell: cell, mode: exclusiveMode})
	t.set.Put(table, key, &rwset.Entry{
		Type:        rwset.INSERT,
		IsNew:       true,
		ValRef:      cell,
		LocalRecord: buf,
	})
	return buf, nil
}

// Update acquires a write lock (upgrading an already-held shared lock
// when possible) and returns a writable copy seeded from the current
// value.
func (t *Txn) Update(table types.TableID, key types.Key) (valuecell.Record, error) {
	return t.writeLock(table, key, rwset.UPDATE)
}

// Upsert is read-or-insert semantics.
func (t *Txn) Upsert(table types.TableID, key types.Key) (valuecell.Record, error) {
	rec, err := t.writeLock(table, key, rwset.UPDATE)
	if err == nil {
		return rec, nil
	}
	if _, ok := err.(*txerrors.NotPresentError); ok {
		return t.Insert(table, key)
	}
	return nil, err
}

// Remove acquires a write lock and records intent to delete at commit.
func (t *Txn) Remove(table types.TableID, key types.Key) (valuecell.Record, error) {
	rec, err := t.writeLock(table, key, rwset.DELETE)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (t *Txn) writeLock(table types.TableID, key types.Key, typ rwset.RWType) (valuecell.Record, error) {
	if e, ok := t.set.Get(table, key); ok {
		switch e.Type {
		case rwset.DELETE:
			return nil, &txerrors.NotPresentError{Key: keyStringer{key}}
		case rwset.INSERT, rwset.UPDATE:
			if typ == rwset.DELETE {
				old := e.LocalRecord
				e.Type = rwset.DELETE
				return old, nil
			}
			return e.LocalRecord, nil
		default: // READ: try in-place upgrade
			cell := e.ValRef.(*valuecell.NoWaitCell)
			if !cell.Lock.TryLockUpgrade() {
				return nil, &txerrors.ConflictError{Reason: "nowait: upgrade unavailable"}
			}
			t.markUpgraded(cell)
			buf, err := t.acquireBuffer(table)
			if err != nil {
				return nil, err
			}
			copy(buf, e.LocalRecord)
			old := e.LocalRecord
			e.Type = typ
			e.OldRecord = old
			e.LocalRecord = buf
			t.set.Put(table, key, e)
			if typ == rwset.DELETE {
				return old, nil
			}
			return buf, nil
		}
	}

	val, present, err := t.eng.Index.Find(table, key)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, &txerrors.NotPresentError{Key: keyStringer{key}}
	}
	cell := val.(*valuecell.NoWaitCell)
	if !cell.Lock.TryLock() {
		return nil, &txerrors.ConflictError{Reason: "nowait: write lock unavailable"}
	}
	t.locks = append(t.locks, heldLock{cell: cell, mode: exclusiveMode})

	rec := cell.Record()
	if rec == nil {
		return nil, &txerrors.NotPresentError{Key: keyStringer{key}}
	}

	if typ == rwset.DELETE {
		t.set.Put(table, key, &rwset.Entry{Type: rwset.DELETE, ValRef: cell, OldRecord: rec.Clone()})
		return rec.Clone(), nil
	}

	buf, err := t.acquireBuffer(table)
	if err != nil {
		return nil, err
	}
	copy(buf, rec)
	t.set.Put(table, key, &rwset.Entry{Type: typ, ValRef: cell, LocalRecord: buf, OldRecord: rec.Clone()})
	return buf, nil
}

func (t *Txn) markUpgraded(cell *valuecell.NoWaitCell) {
	for i := range t.locks {
		if t.locks[i].cell == cell {
			t.locks[i].mode = exclusiveMode
			return
		}
	}
}

// ReadScan visits up to count live keys in [lkey, rkey) (or
// descending, if reverse), shared-locking each touched cell in
// traversal order; the first lock failure aborts the whole scan.
func (t *Txn) ReadScan(table types.TableID, lkey, rkey types.Key, count int, reverse bool) (map[types.Key]valuecell.Record, error) {
	return t.scan(table, lkey, rkey, count, reverse, false)
}

// UpdateScan is ReadScan, but each visited key is opened for update.
func (t *Txn) UpdateScan(table types.TableID, lkey, rkey types.Key, count int, reverse bool) (map[types.Key]valuecell.Record, error) {
	return t.scan(table, lkey, rkey, count, reverse, true)
}

func (t *Txn) scan(table types.TableID, lkey, rkey types.Key, count int, reverse, forUpdate bool) (map[types.Key]valuecell.Record, error) {
	out := make(map[types.Key]valuecell.Record)
	var firstErr error
	perKV := func(key types.Comparable, val interface{}) bool {
		k := key.(types.Key)
		var rec valuecell.Record
		var err error
		if forUpdate {
			rec, err = t.writeLock(table, k, rwset.UPDATE)
		} else {
			rec, _, err = t.Read(table, k)
		}
		if err != nil {
			firstErr = err
			return false
		}
		if rec != nil {
			out[k] = rec
		}
		return true
	}

	var err error
	if reverse {
		err = t.eng.Index.RScan(table, lkey, rkey, count, nil, perKV)
	} else {
		err = t.eng.Index.Scan(table, lkey, rkey, count, nil, perKV)
	}
	if err != nil {
		return nil, err
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// Commit publishes every write-set entry (already write-locked) and
// releases every held lock; since NoWait's safety comes entirely from
// its locks rather than a validation pass, commit never fails.
func (t *Txn) Commit() (bool, error) {
	if t.finished {
		return false, txerrors.NewBug("commit called on a finished NoWait transaction")
	}
	t.finished = true

	stamp := t.eng.nextStamp()
	gcq := t.eng.gcQueue(t.worker)
	for _, table := range t.set.Tables() {
		for key, e := range t.set.Entries(table) {
			switch e.Type {
			case rwset.READ:
				continue
			case rwset.DELETE:
				cell := e.ValRef.(*valuecell.NoWaitCell)
				cell.SetRecord(nil)
				if err := t.eng.Index.Remove(table, key); err != nil {
					logging.Warn().Err(err).Msg("nowait: commit-time index removal failed")
				}
				gcq.Enqueue(stamp, cell)
			default: // INSERT, UPDATE
				cell := e.ValRef.(*valuecell.NoWaitCell)
				rec := e.LocalRecord.Clone()
				cell.SetRecord(&rec)
			}
		}
	}
	t.unlockAll()
	logging.Debug().Uint32("worker", uint32(t.worker)).Msg("nowait commit")
	return true, nil
}

// Abort releases every held lock, removes cells this transaction
// inserted but never published, and frees local buffers.
func (t *Txn) Abort() {
	if t.finished {
		return
	}
	t.finished = true

	stamp := t.eng.nextStamp()
	gcq := t.eng.gcQueue(t.worker)
	for _, table := range t.set.Tables() {
		for key, e := range t.set.Entries(table) {
			if e.Type == rwset.INSERT && e.IsNew {
				cell := e.ValRef.(*valuecell.NoWaitCell)
				if err := t.eng.Index.Remove(table, key); err != nil {
					logging.Warn().Err(err).Msg("nowait: abort-time index removal failed")
				}
				gcq.Enqueue(stamp, cell)
			}
			if e.LocalRecord != nil {
				t.releaseBuffer(table, e.LocalRecord)
			}
		}
	}
	t.unlockAll()
}

func (t *Txn) unlockAll() {
	for _, l := range t.locks {
		switch l.mode {
		case sharedMode:
			l.cell.Lock.UnlockShared()
		default:
			l.cell.Lock.Unlock()
		}
	}
	t.locks = nil
}

func (t *Txn) acquireBuffer(table types.TableID) ([]byte, error) {
	a, err := t.eng.arenaFor(t.worker, table)
	if err != nil {
		return nil, err
	}
	return a.Acquire(), nil
}

func (t *Txn) releaseBuffer(table types.TableID, buf []byte) {
	a, err := t.eng.arenaFor(t.worker, table)
	if err != nil {
		return
	}
	a.Release(buf)
}

type keyStringer struct{ key types.Key }

func (k keyStringer) String() string { return k.key.String() }
