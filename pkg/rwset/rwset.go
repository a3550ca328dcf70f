// Package rwset implements the per-transaction contract (C7): the one
// public read/write-set surface every protocol engine
// (pkg/protocol/{silo,mvto,nowait,waitdie}) builds its execution phase
// on top of, plus the node-observation set phantom-detection evidence
// collected alongside it.
package rwset

import (
	"sort"

	"github.com/bobboyms/txcore/pkg/index"
	"github.com/bobboyms/txcore/pkg/types"
	"github.com/bobboyms/txcore/pkg/valuecell"
)

// RWType classifies how a transaction has touched a key so far.
type RWType int

const (
	READ RWType = iota
	UPDATE
	INSERT
	DELETE
)

func (t RWType) String() string {
	switch t {
	case READ:
		return "READ"
	case UPDATE:
		return "UPDATE"
	case INSERT:
		return "INSERT"
	case DELETE:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Entry is one key's read/write-set record: the access type, whether
// this transaction inserted the cell itself, a reference to the
// cell's value slot, any local (uncommitted) copy, validation
// evidence, and the prior record for undo on abort. Evidence is
// protocol-specific (a Silo TidWord snapshot, an MVTO *Version pointer
// plus the read_ts it was bumped to, or nothing for the lock-based
// protocols, which instead hold the lock itself for the entry's
// lifetime) so this package never interprets it.
type Entry struct {
	Type        RWType
	IsNew       bool // true for a cell this transaction itself inserted
	ValRef      interface{}
	LocalRecord valuecell.Record
	Evidence    interface{}
	OldRecord   valuecell.Record
}

// tableSet holds one table's entries plus the ascending-key-order list
// commit-time locking needs to avoid deadlock among writers;
// writeOrder is kept sorted incrementally rather than resorted at
// commit, so a transaction with thousands of writes doesn't pay an
// O(n log n) sort on its hot path.
type tableSet struct {
	entries    map[types.Key]*Entry
	writeOrder []types.Key
}

func newTableSet() *tableSet {
	return &tableSet{entries: make(map[types.Key]*Entry)}
}

func (ts *tableSet) insertWriteOrder(key types.Key) {
	i := sort.Search(len(ts.writeOrder), func(i int) bool {
		return ts.writeOrder[i].Compare(key) >= 0
	})
	if i < len(ts.writeOrder) && ts.writeOrder[i] == key {
		return
	}
	ts.writeOrder = append(ts.writeOrder, 0)
	copy(ts.writeOrder[i+1:], ts.writeOrder[i:])
	ts.writeOrder[i] = key
}

// Observation pairs an observed index leaf with the version stamp this
// transaction saw, for the node-observation set.
type Observation struct {
	Leaf  index.LeafRef
	Stamp uint64
}

// Set is one transaction's complete read/write-set plus node
// -observation set. Not safe for concurrent use: a transaction is
// confined to the single worker thread that owns it.
type Set struct {
	tables           map[types.TableID]*tableSet
	nodeObservations map[index.LeafRef]uint64
}

// New creates an empty Set.
func New() *Set {
	s := &Set{}
	s.Reset()
	return s
}

// Reset discards all entries and observations so the Set can be
// reused. The protocol engines do not call it: each Begin (and so each
// attempt of pkg/txn's retry driver) allocates a fresh Set with New.
func (s *Set) Reset() {
	s.tables = make(map[types.TableID]*tableSet)
	s.nodeObservations = make(map[index.LeafRef]uint64)
}

func (s *Set) table(table types.TableID) *tableSet {
	ts, ok := s.tables[table]
	if !ok {
		ts = newTableSet()
		s.tables[table] = ts
	}
	return ts
}

// Get returns the existing entry for (table, key), if this transaction
// has already touched it.
func (s *Set) Get(table types.TableID, key types.Key) (*Entry, bool) {
	ts, ok := s.tables[table]
	if !ok {
		return nil, false
	}
	e, ok := ts.entries[key]
	return e, ok
}

// Put records or overwrites the entry for (table, key). Write-typed
// entries (UPDATE/INSERT/DELETE) are additionally threaded into the
// table's ascending-key write-order list for commit-time locking.
func (s *Set) Put(table types.TableID, key types.Key, e *Entry) {
	ts := s.table(table)
	ts.entries[key] = e
	if e.Type != READ {
		ts.insertWriteOrder(key)
	}
}

// WriteKeysAscending returns table's write-set keys (UPDATE/INSERT/
// DELETE entries only) in ascending order, the canonical commit-time
// locking order that prevents deadlock among writers.
func (s *Set) WriteKeysAscending(table types.TableID) []types.Key {
	ts, ok := s.tables[table]
	if !ok {
		return nil
	}
	out := make([]types.Key, len(ts.writeOrder))
	copy(out, ts.writeOrder)
	return out
}

// Tables returns every table id this transaction has touched.
func (s *Set) Tables() []types.TableID {
	out := make([]types.TableID, 0, len(s.tables))
	for id := range s.tables {
		out = append(out, id)
	}
	return out
}

// Entries returns every (key, entry) pair touched in table, for commit
// -phase iteration.
func (s *Set) Entries(table types.TableID) map[types.Key]*Entry {
	ts, ok := s.tables[table]
	if !ok {
		return nil
	}
	return ts.entries
}

// RecordNodeObservation adds leaf (with the version stamp this
// transaction observed on it) to the node-observation set, used to
// detect phantoms at commit. Only the first observation of a given
// leaf is kept: it is the earliest point the transaction's
// serialization order could have depended on that leaf's shape, so
// commit-time revalidation must compare against that one, not a later
// (possibly already-changed) re-observation.
func (s *Set) RecordNodeObservation(leaf index.LeafRef, stamp uint64) {
	if leaf == nil {
		return
	}
	if _, ok := s.nodeObservations[leaf]; !ok {
		s.nodeObservations[leaf] = stamp
	}
}

// NodeObservations returns the full node-observation set for commit
// -time phantom revalidation.
func (s *Set) NodeObservations() map[index.LeafRef]uint64 {
	return s.nodeObservations
}
