// Package mvto implements the MVTO concurrency-control protocol:
// multi-version, timestamp-ordered reads and writes against a per-key
// version chain. Readers never block writers and never abort on a
// write-write conflict alone — visibility is decided entirely by
// comparing write_ts/read_ts against the reading transaction's
// start_ts.
package mvto

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

// Engine is the process-wide MVTO collaborator set.
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

// NewEngine wires an MVTO engine on top of an already-populated index
// registry, schema catalog and timestamp manager.
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
// allocates its GC queue.
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

// writeIntent is the captured per-key state an MVTO write-set entry
// needs at commit: the cell it targets, whether it is a fresh insert
// (no cell existed yet), and whether it reuses a visible-but-deleted
// head version rather than allocating a brand-new cell.
type writeIntent struct {
	cell        *valuecell.MVTOCell
	insertedNew bool // true: this transaction created and indexed the cell
}

// Txn is one MVTO transaction attempt. Not safe for concurrent use.
type Txn struct {
	eng      *Engine
	worker   types.WorkerID
	startTS  uint64
	set      *rwset.Set
	finished bool
}

// Begin assigns a start timestamp for worker and starts a new MVTO
// transaction.
func (e *Engine) Begin(worker types.WorkerID) *Txn {
	ts := uint64(e.Tsmgr.Next(worker))
	return &Txn{eng: e, worker: worker, startTS: ts, set: rwset.New()}
}

// Read walks the target cell's version chain under its short lock for
// the newest version with write_ts <= start_ts, bumping that
// version's read_ts.
func (t *Txn) Read(table types.TableID, key types.Key) (valuecell.Record, bool, error) {
	if e, ok := t.set.Get(table, key); ok {
		if e.Type == rwset.DELETE {
			return nil, false, nil
		}
		return e.LocalRecord, true, nil
	}

	val, present, obs, err := t.eng.Index.FindObserving(table, key)
	if err != nil {
		return nil, false, err
	}
	t.set.RecordNodeObservation(obs.Leaf, obs.Stamp)
	if !present {
		return nil, false, nil
	}
	cell := val.(*valuecell.MVTOCell)

	cell.Lock()
	v := cell.VisibleVersion(t.startTS)
	if v != nil && v.ReadTS < t.startTS {
		v.ReadTS = t.startTS
	}
	cell.Unlock()

	if v == nil || v.Deleted {
		return nil, false, nil
	}
	local := v.Record.Clone()
	t.set.Put(table, key, &rwset.Entry{
		Type:        rwset.READ,
		ValRef:      cell,
		LocalRecord: local,
		Evidence:    v,
	})
	return local, true, nil
}

// Insert returns a writable, zero-initialized buffer. If no cell
// exists yet, a brand-new cell/version pair is staged for creation at
// commit; if a cell exists with a visible, deleted head, the insert
// reuses that cell by attaching a fresh version at commit.
func (t *Txn) Insert(table types.TableID, key types.Key) (valuecell.Record, error) {
	if e, ok := t.set.Get(table, key); ok && e.Type != rwset.DELETE {
		return nil, &txerrors.AlreadyPresentError{Key: keyStringer{key}}
	}

	val, present, obs, err := t.eng.Index.FindObserving(table, key)
	if err != nil {
		return nil, err
	}
	t.set.RecordNodeObservation(obs.Leaf, obs.Stamp)

	buf, err := t.acquireBuffer(table)
	if err != nil {
		return nil, err
	}

	if !present {
		cell := valuecell.NewMVTOCell(nil)
		t.set.Put(table, key, &rwset.Entry{
			Type:        rwset.INSERT,
			IsNew:       true,
			ValRef:      cell,
			LocalRecord: buf,
			Evidence:    &writeIntent{cell: cell, insertedNew: true},
		})
		return buf, nil
	}

	cell := val.(*valuecell.MVTOCell)
	cell.Lock()
	v := cell.VisibleVersion(t.startTS)
	cell.Unlock()
	if v == nil || !v.Deleted {
		t.releaseBuffer(table, buf)
		return nil, &txerrors.AlreadyPresentError{Key: keyStringer{key}}
	}

	t.set.Put(table, key, &rwset.Entry{
		Type:        rwset.INSERT,
		IsNew:       true,
		ValRef:      cell,
		LocalRecord: buf,
		Evidence:    &writeIntent{cell: cell, insertedNew: false},
	})
	return buf, nil
}

// Update returns a writable copy of the version visible to start_ts.
func (t *Txn) Update(table types.TableID, key types.Key) (valuecell.Record, error) {
	return t.writeCopy(table, key, rwset.UPDATE)
}

// Upsert is read-or-insert semantics with deleted-version reuse.
func (t *Txn) Upsert(table types.TableID, key types.Key) (valuecell.Record, error) {
	rec, err := t.writeCopy(table, key, rwset.UPDATE)
	if err == nil {
		return rec, nil
	}
	if _, ok := err.(*txerrors.NotPresentError); ok {
		return t.Insert(table, key)
	}
	return nil, err
}

// Remove marks intent to delete; no local buffer is allocated.
func (t *Txn) Remove(table types.TableID, key types.Key) (valuecell.Record, error) {
	if e, ok := t.set.Get(table, key); ok {
		switch e.Type {
		case rwset.DELETE:
			return nil, &txerrors.NotPresentError{Key: keyStringer{key}}
		case rwset.INSERT:
			if e.LocalRecord != nil {
				t.releaseBuffer(table, e.LocalRecord)
			}
			old := e.LocalRecord
			e.Type = rwset.DELETE
			e.LocalRecord = nil
			return old, nil
		case rwset.UPDATE:
			old := e.OldRecord
			e.Type = rwset.DELETE
			if e.LocalRecord != nil {
				t.releaseBuffer(table, e.LocalRecord)
			}
			e.LocalRecord = nil
			return old, nil
		default: // READ
			old := e.LocalRecord
			e.Type = rwset.DELETE
			e.LocalRecord = nil
			return old, nil
		}
	}

	val, present, obs, err := t.eng.Index.FindObserving(table, key)
	if err != nil {
		return nil, err
	}
	t.set.RecordNodeObservation(obs.Leaf, obs.Stamp)
	if !present {
		return nil, &txerrors.NotPresentError{Key: keyStringer{key}}
	}
	cell := val.(*valuecell.MVTOCell)
	cell.Lock()
	v := cell.VisibleVersion(t.startTS)
	cell.Unlock()
	if v == nil || v.Deleted {
		return nil, &txerrors.NotPresentError{Key: keyStringer{key}}
	}
	t.set.Put(table, key, &rwset.Entry{Type: rwset.DELETE, ValRef: cell, OldRecord: v.Record.Clone(), Evidence: v})
	return v.Record.Clone(), nil
}

func (t *Txn) writeCopy(table types.TableID, key types.Key, typ rwset.RWType) (valuecell.Record, error) {
	if e, ok := t.set.Get(table, key); ok {
		switch e.Type {
		case rwset.DELETE:
			return nil, &txerrors.NotPresentError{Key: keyStringer{key}}
		case rwset.INSERT, rwset.UPDATE:
			return e.LocalRecord, nil
		default: // READ: promote to a writable copy
			v := e.Evidence.(*valuecell.Version)
			buf, err := t.acquireBuffer(table)
			if err != nil {
				return nil, err
			}
			copy(buf, *v.Record)
			old := e.LocalRecord
			e.Type = typ
			e.OldRecord = old
			e.LocalRecord = buf
			t.set.Put(table, key, e)
			return buf, nil
		}
	}

	val, present, obs, err := t.eng.Index.FindObserving(table, key)
	if err != nil {
		return nil, err
	}
	t.set.RecordNodeObservation(obs.Leaf, obs.Stamp)
	if !present {
		return nil, &txerrors.NotPresentError{Key: keyStringer{key}}
	}
	cell := val.(*valuecell.MVTOCell)
	cell.Lock()
	v := cell.VisibleVersion(t.startTS)
	cell.Unlock()
	if v == nil || v.Deleted {
		return nil, &txerrors.NotPresentError{Key: keyStringer{key}}
	}

	buf, err := t.acquireBuffer(table)
	if err != nil {
		return nil, err
	}
	copy(buf, *v.Record)
	t.set.Put(table, key, &rwset.Entry{Type: typ, ValRef: cell, LocalRecord: buf, OldRecord: v.Record.Clone(), Evidence: v})
	return buf, nil
}

// ReadScan visits up to count live keys, reading each in traversal
// order.
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
	perLeaf := func(obs index.Observation) { t.set.RecordNodeObservation(obs.Leaf, obs.Stamp) }
	perKV := func(key types.Comparable, val interface{}) bool {
		k := key.(types.Key)
		var rec valuecell.Record
		var err error
		if forUpdate {
			rec, err = t.writeCopy(table, k, rwset.UPDATE)
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
		err = t.eng.Index.RScan(table, lkey, rkey, count, perLeaf, perKV)
	} else {
		err = t.eng.Index.Scan(table, lkey, rkey, count, perLeaf, perKV)
	}
	if err != nil {
		return nil, err
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// Commit locks every write-set cell in ascending key order, revalidates
// each head version against start_ts, splices in new versions, and
// opportunistically trims each chain.
func (t *Txn) Commit() (bool, error) {
	if t.finished {
		return false, txerrors.NewBug("commit called on a finished MVTO transaction")
	}
	t.finished = true

	var lockedCells []lockedCell
	var insertedCells []lockedCell

	for _, table := range t.set.Tables() {
		for _, key := range t.set.WriteKeysAscending(table) {
			e, _ := t.set.Get(table, key)

			if e.Type == rwset.INSERT {
				wi := e.Evidence.(*writeIntent)
				if wi.insertedNew {
					if err := t.eng.Index.Insert(table, key, wi.cell); err != nil {
						t.unwindAndUnlock(lockedCells, insertedCells)
						return false, err
					}
					insertedCells = append(insertedCells, lockedCell{table, key, e, wi.cell})
				}
				wi.cell.Lock()
				lockedCells = append(lockedCells, lockedCell{table, key, e, wi.cell})
				continue
			}

			cell := e.ValRef.(*valuecell.MVTOCell)
			cell.Lock()
			lockedCells = append(lockedCells, lockedCell{table, key, e, cell})
		}
	}

	for _, l := range lockedCells {
		e := l.entry
		if e.Type == rwset.INSERT {
			wi := e.Evidence.(*writeIntent)
			if !wi.insertedNew {
				head := l.cell.Head
				if head == nil || !head.Deleted || head.ReadTS > t.startTS || head.WriteTS > t.startTS {
					t.unwindAndUnlock(lockedCells, insertedCells)
					return false, &txerrors.ConflictError{Reason: "mvto: insert-on-deleted-head reuse target is no longer a visible deleted head"}
				}
			}
			continue
		}
		head := l.cell.Head
		if head == nil || head.Deleted || head.ReadTS > t.startTS || head.WriteTS > t.startTS {
			t.unwindAndUnlock(lockedCells, insertedCells)
			return false, &txerrors.ConflictError{Reason: "mvto: head version is no longer visible to this transaction's start_ts"}
		}
	}

	for _, l := range lockedCells {
		e := l.entry
		switch e.Type {
		case rwset.INSERT:
			rec := e.LocalRecord.Clone()
			nv := &valuecell.Version{ReadTS: t.startTS, WriteTS: t.startTS, Prev: l.cell.Head, Record: &rec, Deleted: false}
			l.cell.Head = nv
		case rwset.DELETE:
			nv := &valuecell.Version{ReadTS: t.startTS, WriteTS: t.startTS, Prev: l.cell.Head, Record: nil, Deleted: true}
			l.cell.Head = nv
		default: // UPDATE
			rec := e.LocalRecord.Clone()
			nv := &valuecell.Version{ReadTS: t.startTS, WriteTS: t.startTS, Prev: l.cell.Head, Record: &rec, Deleted: false}
			l.cell.Head = nv
		}

		floor := uint64(t.eng.Tsmgr.MinWatermark())
		l.cell.Trim(floor)
	}

	for _, l := range lockedCells {
		l.cell.Unlock()
	}
	logging.Debug().Uint32("worker", uint32(t.worker)).Msg("mvto commit")
	return true, nil
}

// lockedCell pairs a write-set entry with the cell it targets, while
// its lock is held across the validate-then-splice commit sequence.
type lockedCell struct {
	table types.TableID
	key   types.Key
	entry *rwset.Entry
	cell  *valuecell.MVTOCell
}

// unwindAndUnlock is called mid-validation, after some cells have
// already been locked (and possibly inserted into the index): it
// removes any cell this transaction freshly inserted and releases
// every acquired lock, leaving no trace of the aborted attempt.
func (t *Txn) unwindAndUnlock(lockedCells []lockedCell, insertedCells []lockedCell) {
	for _, l := range lockedCells {
		l.cell.Unlock()
	}
	gcq := t.eng.gcQueue(t.worker)
	for _, l := range insertedCells {
		if err := t.eng.Index.Remove(l.table, l.key); err != nil {
			logging.Warn().Err(err).Msg("mvto: commit-failure index removal failed")
		}
		gcq.Enqueue(gc.Stamp(t.startTS), l.cell)
	}
}

// Abort releases local buffers and removes cells this transaction
// inserted but never published. A never-locked cell was never made
// visible to any other transaction, so no version chain unwind is
// needed beyond dropping the cell itself.
func (t *Txn) Abort() {
	if t.finished {
		return
	}
	t.finished = true
	gcq := t.eng.gcQueue(t.worker)
	for _, table := range t.set.Tables() {
		for key, e := range t.set.Entries(table) {
			if e.Type == rwset.INSERT {
				if wi, ok := e.Evidence.(*writeIntent); ok && wi.insertedNew {
					if err := t.eng.Index.Remove(table, key); err != nil {
						logging.Warn().Err(err).Msg("mvto: abort-time index removal failed")
					}
					gcq.Enqueue(gc.Stamp(t.startTS), wi.cell)
				}
			}
			if e.LocalRecord != nil {
				t.releaseBuffer(table, e.LocalRecord)
			}
		}
	}
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
