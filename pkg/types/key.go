// Package types holds the small value types shared by every layer of the
// engine: the 64-bit key, the table identifier, and the ordering contract
// the index (pkg/btree) and the protocol engines (pkg/protocol/...) both
// depend on.
package types

import (
	"encoding/binary"
	"fmt"
)

// Comparable is the ordering contract the index requires of a key. Key is
// the engine's only implementation, but the interface is kept (rather than
// hard-coding Key everywhere) so the index adapter in pkg/index can be
// tested against fakes without dragging in the rest of the engine.
type Comparable interface {
	Compare(other Comparable) int
}

// Key is a 64-bit integer key, comparable by its big-endian byte order so
// that the ordered index's leaf-level byte comparisons agree with integer
// order. This is the only key kind the core data model defines; workloads
// (pkg/workload) are responsible for mapping composite TPC-C/YCSB keys down
// to a single Key.
type Key uint64

// Bytes returns the big-endian encoding of k, the form the index compares.
func (k Key) Bytes() [8]byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(k))
	return b
}

// Compare orders two keys by their big-endian byte representation, which
// for a fixed-width unsigned integer is the same as numeric order.
func (k Key) Compare(other Comparable) int {
	o := other.(Key)
	switch {
	case k < o:
		return -1
	case k > o:
		return 1
	default:
		return 0
	}
}

func (k Key) String() string { return fmt.Sprintf("%d", uint64(k)) }

// TableID names a table. Schemas (pkg/schema) are registered once, before
// any worker begins a transaction, and TableID is never recomputed or
// reinterpreted afterward.
type TableID uint32

func (t TableID) String() string { return fmt.Sprintf("table#%d", uint32(t)) }

// WorkerID identifies a worker thread. It is folded into commit/start
// timestamps by pkg/tsmgr, so that timestamps assigned independently by
// different workers are still totally ordered.
type WorkerID uint32

// WorkerIDBits is the number of low bits of a 64-bit timestamp reserved for
// the worker id. 2048 concurrent workers comfortably covers any single
// many-core machine this engine targets.
const WorkerIDBits = 11

// MaxWorkers is the number of distinct worker ids representable in
// WorkerIDBits bits (ids 0 through MaxWorkers-1).
const MaxWorkers = 1 << WorkerIDBits
