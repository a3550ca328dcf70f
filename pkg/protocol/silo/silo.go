// Package silo implements the Silo concurrency-control protocol:
// optimistic execution against tidword-stamped value cells, validated
// and published at a single epoch-carrying commit point.
package silo

import (
	"sync"
	"sync/atomic"

	"github.com/bobboyms/txcore/pkg/arena"
	txerrors "github.com/bobboyms/txcore/pkg/errors"
	"github.com/bobboyms/txcore/pkg/epoch"
	"github.com/bobboyms/txcore/pkg/gc"
	"github.com/bobboyms/txcore/pkg/index"
	"github.com/bobboyms/txcore/pkg/logging"
	"github.com/bobboyms/txcore/pkg/rwset"
	"github.com/bobboyms/txcore/pkg/schema"
	"github.com/bobboyms/txcore/pkg/types"
	"github.com/bobboyms/txcore/pkg/valuecell"
)

// Engine is the process-wide Silo collaborator set: the index, schema
// catalog, epoch manager, and per-worker GC queues / record arenas
// every transaction on this protocol shares.
type Engine struct {
	Index  *index.Registry
	Schema *schema.Catalog
	Epoch  *epoch.Manager

	mu      sync.Mutex
	gcqs    map[types.WorkerID]*gc.Queue
	arenas  map[arenaKey]*arena.Arena
	lastTID map[types.WorkerID]*atomic.Uint64
}

type arenaKey struct {
	worker types.WorkerID
	table  types.TableID
}

// NewEngine wires a Silo engine on top of an already-populated index
// registry and schema catalog.
func NewEngine(idx *index.Registry, cat *schema.Catalog, ep *epoch.Manager) *Engine {
	return &Engine{
		Index:   idx,
		Schema:  cat,
		Epoch:   ep,
		gcqs:    make(map[types.WorkerID]*gc.Queue),
		arenas:  make(map[arenaKey]*arena.Arena),
		lastTID: make(map[types.WorkerID]*atomic.Uint64),
	}
}

// RegisterWorker makes worker known to the epoch manager and GC queue
// set. Call once before the worker's first Begin.
func (e *Engine) RegisterWorker(worker types.WorkerID) {
	e.Epoch.Register(uint32(worker))
	e.mu.Lock()
	e.gcqs[worker] = gc.NewQueue()
	e.lastTID[worker] = &atomic.Uint64{}
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

func (e *Engine) nextTID(worker types.WorkerID) *atomic.Uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastTID[worker]
}

// maxSpinRetries bounds the execution-phase double-tidword read used to
// get a consistent (tidword, record) snapshot. Nothing requires a cap
// here, but an unbounded spin under a pathologically hot writer would
// never yield control back to the caller.
const maxSpinRetries = 64

// Txn is one Silo transaction attempt. Not safe for concurrent use —
// a transaction is confined to the single worker thread that owns it.
type Txn struct {
	eng      *Engine
	worker   types.WorkerID
	set      *rwset.Set
	locked   []lockedEntry
	finished bool
}

type lockedEntry struct {
	cell *valuecell.SiloCell
	old  valuecell.TidWord
}

// evidence is the Silo-specific payload rwset.Entry.Evidence carries: the
// tidword this transaction observed when it first touched the cell.
type evidence struct {
	cell *valuecell.SiloCell
	word valuecell.TidWord
}

// Begin starts a new Silo transaction for worker, refreshing its
// published epoch so pkg/epoch's reclamation watermark can advance
// past it.
func (e *Engine) Begin(worker types.WorkerID) *Txn {
	e.Epoch.Refresh(uint32(worker))
	return &Txn{eng: e, worker: worker, set: rwset.New()}
}

// Read implements the read/write-set read operation. found is false
// when the key is absent or has been removed by this transaction.
func (t *Txn) Read(table types.TableID, key types.Key) (rec valuecell.Record, found bool, err error) {
	if e, ok := t.set.Get(table, key); ok {
		switch e.Type {
		case rwset.DELETE:
			return nil, false, nil
		default:
			return e.LocalRecord, true, nil
		}
	}

	val, present, obs, err := t.eng.Index.FindObserving(table, key)
	if err != nil {
		return nil, false, err
	}
	t.set.RecordNodeObservation(obs.Leaf, obs.Stamp)
	if !present {
		return nil, false, nil
	}

	cell := val.(*valuecell.SiloCell)
	word, rec, err := readConsistent(cell)
	if err != nil {
		return nil, false, err
	}
	if !word.Readable() {
		return nil, false, nil
	}

	t.set.Put(table, key, &rwset.Entry{
		Type:        rwset.READ,
		ValRef:      cell,
		LocalRecord: rec,
		Evidence:    evidence{cell: cell, word: word},
	})
	return rec, true, nil
}

// readConsistent observes tidword, then the record pointer, then the
// tidword again, accepting the read only when the two tidword
// observations agree.
func readConsistent(cell *valuecell.SiloCell) (valuecell.TidWord, valuecell.Record, error) {
	for i := 0; i < maxSpinRetries; i++ {
		w1 := cell.Load()
		rec := cell.Record()
		w2 := cell.Load()
		if w1 == w2 {
			if rec == nil {
				return w1, nil, nil
			}
			return w1, (*rec).Clone(), nil
		}
	}
	return 0, nil, &txerrors.ConflictError{Reason: "silo: read snapshot never stabilized"}
}

// Insert implements the read/write-set insert operation: a fresh,
// zero-initialized writable buffer, or nil with AlreadyPresentError if
// the key is already known present.
func (t *Txn) Insert(table types.TableID, key types.Key) (valuecell.Record, error) {
	if e, ok := t.set.Get(table, key); ok && e.Type != rwset.DELETE {
		return nil, &txerrors.AlreadyPresentError{Key: keyStringer{key}}
	}

	buf, err := t.acquireBuffer(table)
	if err != nil {
		return nil, err
	}

	word := valuecell.PackTidWord(false, true, true, 0, 0)
	cell := valuecell.NewSiloCell(word, nil)
	obs, err := t.eng.Index.InsertObserving(table, key, cell)
	if err != nil {
		if _, ok := err.(*txerrors.AlreadyPresentError); ok {
			return nil, err
		}
		return nil, err
	}
	t.set.RecordNodeObservation(obs.Leaf, obs.Stamp)

	t.set.Put(table, key, &rwset.Entry{
		Type:        rwset.INSERT,
		IsNew:       true,
		ValRef:      cell,
		LocalRecord: buf,
		Evidence:    evidence{cell: cell, word: word},
	})
	return buf, nil
}

// Update implements the read/write-set update operation: a writable
// copy seeded from the current committed value.
func (t *Txn) Update(table types.TableID, key types.Key) (valuecell.Record, error) {
	return t.writeCopy(table, key, rwset.UPDATE)
}

// Upsert implements read-or-insert semantics.
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

// Remove implements the read/write-set remove operation, returning the
// old record so the caller can inspect it before it's gone.
func (t *Txn) Remove(table types.TableID, key types.Key) (valuecell.Record, error) {
	if e, ok := t.set.Get(table, key); ok {
		switch e.Type {
		case rwset.DELETE:
			return nil, &txerrors.NotPresentError{Key: keyStringer{key}}
		case rwset.INSERT:
			// Free the local buffer of an insert that never became
			// visible; the cell stays in the index for commit to
			// detach.
			t.releaseBuffer(table, e.LocalRecord)
			old := e.OldRecord
			e.Type = rwset.DELETE
			e.LocalRecord = nil
			return old, nil
		default:
			old := e.LocalRecord
			e.Type = rwset.DELETE
			t.set.Put(table, key, e)
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
	cell := val.(*valuecell.SiloCell)
	word, rec, err := readConsistent(cell)
	if err != nil {
		return nil, err
	}
	if !word.Readable() {
		return nil, &txerrors.NotPresentError{Key: keyStringer{key}}
	}

	t.set.Put(table, key, &rwset.Entry{
		Type:        rwset.DELETE,
		ValRef:      cell,
		OldRecord:   rec,
		Evidence:    evidence{cell: cell, word: word},
	})
	return rec, nil
}

func (t *Txn) writeCopy(table types.TableID, key types.Key, typ rwset.RWType) (valuecell.Record, error) {
	if e, ok := t.set.Get(table, key); ok {
		switch e.Type {
		case rwset.DELETE:
			return nil, &txerrors.NotPresentError{Key: keyStringer{key}}
		case rwset.INSERT, rwset.UPDATE:
			return e.LocalRecord, nil
		default: // READ -> promote to UPDATE, reusing the captured evidence
			buf, err := t.acquireBuffer(table)
			if err != nil {
				return nil, err
			}
			copy(buf, e.LocalRecord)
			e.Type = typ
			e.OldRecord = e.LocalRecord
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
	cell := val.(*valuecell.SiloCell)
	word, rec, err := readConsistent(cell)
	if err != nil {
		return nil, err
	}
	if !word.Readable() {
		return nil, &txerrors.NotPresentError{Key: keyStringer{key}}
	}

	buf, err := t.acquireBuffer(table)
	if err != nil {
		return nil, err
	}
	copy(buf, rec)

	t.set.Put(table, key, &rwset.Entry{
		Type:        typ,
		ValRef:      cell,
		LocalRecord: buf,
		OldRecord:   rec,
		Evidence:    evidence{cell: cell, word: word},
	})
	return buf, nil
}

// ReadScan visits up to count live keys in [lkey, rkey), feeding each
// through Read-equivalent logic and aggregating leaf observations.
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

// Commit runs Silo's validation and publication phases: lock the
// write set, validate every read's tidword is still current, then
// publish new tidwords under a single epoch. A false/error result
// means the caller must call Abort.
func (t *Txn) Commit() (bool, error) {
	if t.finished {
		return false, txerrors.NewBug("commit called on a finished Silo transaction")
	}

	// Phase 1: lock every write-set entry in ascending key order.
	if err := t.lockWriteSet(); err != nil {
		t.unlockAll()
		return false, err
	}

	// Phase 2: the commit epoch is the serialization point.
	commitEpoch := t.eng.Epoch.Current()

	// Phase 3: validate the read set.
	if err := t.validateReadSet(); err != nil {
		t.unlockAll()
		return false, err
	}

	// Phase 4: validate the node-observation set.
	if err := t.validateNodeSet(); err != nil {
		t.unlockAll()
		return false, err
	}

	// Phase 5: compute the commit TID.
	tid := t.computeCommitTID()

	// Phase 6: publish.
	t.publish(commitEpoch, tid)
	t.finished = true
	logging.Debug().Uint32("worker", uint32(t.worker)).Uint32("epoch", uint32(commitEpoch)).Msg("silo commit")
	return true, nil
}

func (t *Txn) lockWriteSet() error {
	for _, table := range t.set.Tables() {
		for _, key := range t.set.WriteKeysAscending(table) {
			e, _ := t.set.Get(table, key)
			ev := e.Evidence.(evidence)
			for {
				cur := ev.cell.Load()
				if cur.Locked() {
					return &txerrors.ConflictError{Reason: "silo: write-set entry already locked"}
				}
				locked := cur.WithLock(true)
				if ev.cell.CAS(cur, locked) {
					t.locked = append(t.locked, lockedEntry{cell: ev.cell, old: cur})
					break
				}
			}
			reread := ev.cell.Load()
			if (e.Type == rwset.UPDATE || e.Type == rwset.DELETE) && !reread.Readable() {
				return &txerrors.ConflictError{Reason: "silo: write-set cell no longer readable after lock"}
			}
		}
	}
	return nil
}

func (t *Txn) validateReadSet() error {
	for _, table := range t.set.Tables() {
		for key, e := range t.set.Entries(table) {
			if e.Type != rwset.READ {
				continue
			}
			ev := e.Evidence.(evidence)
			cur := ev.cell.Load()
			if cur.WithLock(false) != ev.word.WithLock(false) {
				return &txerrors.ConflictError{Reason: "silo: read-set tidword mismatch"}
			}
			if cur.Locked() && !t.ownsLock(ev.cell) {
				return &txerrors.ConflictError{Reason: "silo: read-set cell locked by another transaction"}
			}
			_ = key
		}
	}
	return nil
}

func (t *Txn) ownsLock(cell *valuecell.SiloCell) bool {
	for _, l := range t.locked {
		if l.cell == cell {
			return true
		}
	}
	return false
}

func (t *Txn) validateNodeSet() error {
	for leaf, stamp := range t.set.NodeObservations() {
		if index.LeafVersion(leaf) != stamp {
			return &txerrors.PhantomError{Reason: "silo: node-observation stamp mismatch"}
		}
	}
	return nil
}

func (t *Txn) computeCommitTID() uint32 {
	var maxTID uint32
	for _, table := range t.set.Tables() {
		for _, e := range t.set.Entries(table) {
			ev, ok := e.Evidence.(evidence)
			if !ok {
				continue
			}
			if tid := ev.word.Tid(); tid > maxTID {
				maxTID = tid
			}
		}
	}
	last := t.eng.nextTID(t.worker)
	for {
		cur := uint32(last.Load())
		candidate := maxTID
		if cur > candidate {
			candidate = cur
		}
		candidate++
		if last.CompareAndSwap(uint64(cur), uint64(candidate)) {
			return candidate
		}
	}
}

func (t *Txn) publish(commitEpoch epoch.Epoch, tid uint32) {
	gcq := t.eng.gcQueue(t.worker)
	for _, table := range t.set.Tables() {
		for key, e := range t.set.Entries(table) {
			if e.Type == rwset.READ {
				continue
			}
			ev := e.Evidence.(evidence)
			deleted := e.Type == rwset.DELETE

			if deleted {
				ev.cell.SetRecord(nil)
				word := valuecell.PackTidWord(false, false, true, tid, uint32(commitEpoch))
				ev.cell.Store(word)
				if err := t.eng.Index.Remove(table, key); err != nil {
					logging.Warn().Err(err).Msg("silo: commit-time index removal failed")
				}
				gcq.Enqueue(gc.Stamp(commitEpoch), ev.cell)
				continue
			}

			rec := valuecell.Record(e.LocalRecord).Clone()
			ev.cell.SetRecord(&rec)
			word := valuecell.PackTidWord(false, true, false, tid, uint32(commitEpoch))
			ev.cell.Store(word)
		}
	}
}

func (t *Txn) unlockAll() {
	for _, l := range t.locked {
		l.cell.Store(l.old)
	}
	t.locked = nil
}

// Abort undoes local state: cells this transaction inserted but never
// published are detached from the index and enqueued for reclamation;
// local buffers are released back to the arena.
func (t *Txn) Abort() {
	if t.finished {
		return
	}
	t.finished = true
	t.unlockAll()

	gcq := t.eng.gcQueue(t.worker)
	cur := t.eng.Epoch.Current()
	for _, table := range t.set.Tables() {
		for key, e := range t.set.Entries(table) {
			if e.Type == rwset.INSERT && e.IsNew {
				ev := e.Evidence.(evidence)
				if err := t.eng.Index.Remove(table, key); err != nil {
					logging.Warn().Err(err).Msg("silo: abort-time index removal failed")
				}
				gcq.Enqueue(gc.Stamp(cur), ev.cell)
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
