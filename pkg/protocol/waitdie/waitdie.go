// Package waitdie implements the WaitDie concurrency-control protocol:
// the same strict two-phase locking structure as pkg/protocol/nowait,
// but every lock acquisition goes through a timestamp-ordered wait-die
// lock instead of a no-wait lock — an older transaction blocks, a
// younger one dies (aborts).
package waitdie

import (
	"sync"

	"github.com/bobboyms/txcore/pkg/arena"
	txerrors "github.com/bobboyms/txcore/pkg/errors"
	"github.com/bobboyms/txcore/pkg/gc"
	"github.com/bobboyms/txcore/pkg/index"
	"github.com/bobboyms/txcore/pkg/logging"
	"github.com/bobboyms/txcore/pkg/rwset"
	"github.com/bobboyms/txcore/pkg/schema"
	"github.com/bobboyms/txcore/pkg/tsmgr"
	"github.com/bobboyms/txcore/pkg/types"
	"github.com/bobboyms/txcore/pkg/valuecell"
)

// Engine is the process-wide WaitDie collaborator set.
type Engine struct {
	Index  *index.Registry
	Schema *schema.Catalog
	Tsmgr  *tsmgr.Manager

	mu     sync.Mutex
	gcqs   map[types.WorkerID]*gc.Queue
	arenas map[arenaKey]*arena.Arena
}

type arenaKey struct {
	worker types.WorkerID
	table  types.TableID
}

// NewEngine wires a WaitDie engine on top of an already-populated
// index registry, schema catalog and timestamp manager.
func NewEngine(idx *index.Registry, cat *schema.Catalog, tm *tsmgr.Manager) *Engine {
	return &Engine{
		Index:  idx,
		Schema: cat,
		Tsmgr:  tm,
		gcqs:   make(map[types.WorkerID]*gc.Queue),
		arenas: make(map[arenaKey]*arena.Arena),
	}
}

// RegisterWorker registers worker with the timestamp manager and
// allocates its GC queue. Call once before the worker's first Begin.
func (e *Engine) RegisterWorker(worker types.WorkerID) {
	e.Tsmgr.Register(worker)
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

// Txn is one WaitDie transaction attempt. Not safe for concurrent use.
type Txn struct {
	eng      *Engine
	worker   types.WorkerID
	ts       uint64
	set      *rwset.Set
	locked   []*valuecell.WaitDieCell
	aborted  bool
	finished bool
}

// Begin assigns a start timestamp for worker and starts a new WaitDie
// transaction. Every lock this transaction acquires is ordered by ts.
func (e *Engine) Begin(worker types.WorkerID) *Txn {
	ts := uint64(e.Tsmgr.Next(worker))
	return &Txn{eng: e, worker: worker, ts: ts, set: rwset.New()}
}

// Read acquires a shared wait-die lock on the cell (blocking if this
// transaction is older than the exclusive holder, dying/aborting if it
// is younger) and returns its current record.
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
	cell := val.(*valuecell.WaitDieCell)
	if err := cell.Lock.AcquireShared(t.ts); err != nil {
		return nil, false, err
	}
	t.locked = append(t.locked, cell)

	rec := cell.Record()
	if rec == nil {
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

// Insert next-key-locks the successor exclusively to guard against
// range phantoms, allocates a new cell (exclusively locked by this
// transaction from creation), inserts it, then releases the successor
// lock.
func (t *Txn) Insert(table types.TableID, key types.Key) (valuecell.Record, error) {
	if e, ok := t.set.Get(table, key); ok && e.Type != rwset.DELETE {
		return nil, &txerrors.AlreadyPresentError{Key: keyStringer{key}}
	}

	_, succVal, hasSucc, err := t.eng.Index.GetNextKV(table, key)
	if err != nil {
		return nil, err
	}
	var succCell *valuecell.WaitDieCell
	if hasSucc {
		succCell = succVal.(*valuecell.WaitDieCell)
		if err := succCell.Lock.AcquireExclusive(t.ts); err != nil {
			return nil, err
		}
	}

	cell := valuecell.NewWaitDieCell(nil)
	cell.Lock.AcquireExclusive(t.ts) // always succeeds: brand new, unowned

	if err := t.eng.Index.Insert(table, key, cell); err != nil {
		cell.Lock.Release(t.ts)
		if succCell != nil {
			succCell.Lock.Release(t.ts)
		}
		return nil, err
	}
	if succCell != nil {
		succCell.Lock.Release(t.ts)
	}

	buf, err := t.acquireBuffer(table)
	if err != nil {
		return nil, err
	}
	t.locked = append(t.locked, cell)
	t.set.Put(table, key, &rwset.Entry{
		Type:        rwset.INSERT,
		IsNew:       true,
		ValRef:      cell,
		LocalRecord: buf,
	})
	return buf, nil
}

// Update acquires (upgrading a held shared lock when possible) an
// exclusive wait-die lock and returns a writable copy.
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

// Remove acquires an exclusive lock and records intent to delete.
func (t *Txn) Remove(table types.TableID, key types.Key) (valuecell.Record, error) {
	return t.writeLock(table, key, rwset.DELETE)
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
		default: // READ: upgrade
			cell := e.ValRef.(*valuecell.WaitDieCell)
			if err := cell.Lock.AcquireUpgrade(t.ts); err != nil {
				return nil, err
			}
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
	cell := val.(*valuecell.WaitDieCell)
	if err := cell.Lock.AcquireExclusive(t.ts); err != nil {
		return nil, err
	}
	t.locked = append(t.locked, cell)

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

// ReadScan visits up to count live keys, shared-locking each touched
// cell in traversal order.
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

// Commit publishes every write-set entry (already exclusively locked)
// and releases every lock this transaction holds.
func (t *Txn) Commit() (bool, error) {
	if t.finished {
		return false, txerrors.NewBug("commit called on a finished WaitDie transaction")
	}
	t.finished = true

	gcq := t.eng.gcQueue(t.worker)
	for _, table := range t.set.Tables() {
		for key, e := range t.set.Entries(table) {
			switch e.Type {
			case rwset.READ:
				continue
			case rwset.DELETE:
				cell := e.ValRef.(*valuecell.WaitDieCell)
				cell.SetRecord(nil)
				if err := t.eng.Index.Remove(table, key); err != nil {
					logging.Warn().Err(err).Msg("waitdie: commit-time index removal failed")
				}
				gcq.Enqueue(gc.Stamp(t.ts), cell)
			default:
				cell := e.ValRef.(*valuecell.WaitDieCell)
				rec := e.LocalRecord.Clone()
				cell.SetRecord(&rec)
			}
		}
	}
	t.releaseAll()
	logging.Debug().Uint32("worker", uint32(t.worker)).Msg("waitdie commit")
	return true, nil
}

// Abort releases every held lock, boosts this worker's timestamp
// counter (so a retried transaction doesn't collide with its own prior
// timestamp), removes cells this transaction inserted but never
// published, and frees local buffers.
func (t *Txn) Abort() {
	if t.finished {
		return
	}
	t.finished = true
	t.eng.Tsmgr.OnAbort(t.worker)

	gcq := t.eng.gcQueue(t.worker)
	for _, table := range t.set.Tables() {
		for key, e := range t.set.Entries(table) {
			if e.Type == rwset.INSERT && e.IsNew {
				cell := e.ValRef.(*valuecell.WaitDieCell)
				if err := t.eng.Index.Remove(table, key); err != nil {
					logging.Warn().Err(err).Msg("waitdie: abort-time index removal failed")
				}
				gcq.Enqueue(gc.Stamp(t.ts), cell)
			}
			if e.LocalRecord != nil {
				t.releaseBuffer(table, e.LocalRecord)
			}
		}
	}
	t.releaseAll()
}

func (t *Txn) releaseAll() {
	for _, cell := range t.locked {
		cell.Lock.Release(t.ts)
	}
	t.locked = nil
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
