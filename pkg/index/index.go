// Package index implements the per-table ordered-index adapter:
// find/find_observing/insert/insert_observing/remove/get_next_kv/scan/
// rscan/leaf_version, each parameterized by a table id, on top of
// pkg/btree's latch-crabbed B+-tree of value-cell pointers.
package index

import (
	"github.com/bobboyms/txcore/pkg/btree"
	txerrors "github.com/bobboyms/txcore/pkg/errors"
	"github.com/bobboyms/txcore/pkg/types"
)

// LeafRef is an opaque handle to a B+-tree leaf, usable only with
// LeafVersion. Callers store it (and the stamp observed alongside it)
// in their node-observation set; they never dereference it directly.
type LeafRef = *btree.Node

// Observation is the (leaf identity, observed version stamp) pair
// find_observing/insert_observing/scan's per-leaf callback hand back,
// recorded in the caller's node-observation set for later phantom
// revalidation.
type Observation struct {
	Leaf  LeafRef
	Stamp uint64
}

// Registry maps table ids to their ordered index. One Registry is
// shared by every worker; each table's BPlusTree has its own latches,
// so concurrent operations on different tables never contend.
type Registry struct {
	trees map[types.TableID]*btree.BPlusTree
}

// NewRegistry creates an empty index registry.
func NewRegistry() *Registry {
	return &Registry{trees: make(map[types.TableID]*btree.BPlusTree)}
}

// CreateTable registers table with a fresh, empty index. unique
// matches the table's primary/secondary distinction: a primary index
// rejects duplicate keys, a secondary index does not.
func (r *Registry) CreateTable(table types.TableID, unique bool) {
	if unique {
		r.trees[table] = btree.NewUniqueTree(64)
	} else {
		r.trees[table] = btree.NewTree(64)
	}
}

func (r *Registry) tree(table types.TableID) (*btree.BPlusTree, error) {
	t, ok := r.trees[table]
	if !ok {
		return nil, &txerrors.TableNotFoundError{TableID: table}
	}
	return t, nil
}

// Find is a point lookup with no side effect.
func (r *Registry) Find(table types.TableID, key types.Comparable) (interface{}, bool, error) {
	tree, err := r.tree(table)
	if err != nil {
		return nil, false, err
	}
	val, ok := tree.Get(key)
	return val, ok, nil
}

// FindObserving is Find, but on a miss it also records the identity
// and version stamp of the leaf where key would have lived, so the
// caller can later detect a phantom insert into that range.
func (r *Registry) FindObserving(table types.TableID, key types.Comparable) (interface{}, bool, Observation, error) {
	tree, err := r.tree(table)
	if err != nil {
		return nil, false, Observation{}, err
	}

	leaf, idx := tree.FindLeafLowerBound(key)
	obs := Observation{Leaf: leaf, Stamp: leaf.Version()}

	if idx < leaf.N && key.Compare(leaf.Keys[idx]) == 0 {
		val := leaf.Values[idx]
		leaf.RUnlock()
		return val, true, obs, nil
	}
	leaf.RUnlock()
	return nil, false, obs, nil
}

// Insert adds key->val, a caller-allocated value-cell pointer. It
// reports AlreadyPresentError on a unique index's duplicate key.
// bad_insert (a concurrent split/coalesce racing the caller's own
// prior observation of this range) cannot arise here: every call
// re-descends the tree fresh under latch coupling, so there is no
// stale leaf reference to invalidate within a single Insert call —
// only insert_observing's before/after stamps can surface that race
// to a caller holding an older observation.
func (r *Registry) Insert(table types.TableID, key types.Comparable, val interface{}) error {
	tree, err := r.tree(table)
	if err != nil {
		return err
	}
	return tree.Insert(key, val)
}

// InsertObserving is Insert, but also returns the leaf identity and
// version stamp observed immediately after the insert completes, for
// the caller's node-observation set.
func (r *Registry) InsertObserving(table types.TableID, key types.Comparable, val interface{}) (Observation, error) {
	tree, err := r.tree(table)
	if err != nil {
		return Observation{}, err
	}
	if err := tree.Insert(key, val); err != nil {
		return Observation{}, err
	}
	leaf, _ := tree.FindLeafLowerBound(key)
	obs := Observation{Leaf: leaf, Stamp: leaf.Version()}
	leaf.RUnlock()
	return obs, nil
}

// Remove deletes key, reporting NotPresentError if it was absent.
func (r *Registry) Remove(table types.TableID, key types.Comparable) error {
	tree, err := r.tree(table)
	if err != nil {
		return err
	}
	if !tree.Remove(key) {
		return &txerrors.NotPresentError{Key: stringerKey{key}}
	}
	return nil
}

// GetNextKV returns the strict successor of key, used by NoWait/WaitDie
// next-key locking to close range phantoms on insert.
func (r *Registry) GetNextKV(table types.TableID, key types.Comparable) (types.Comparable, interface{}, bool, error) {
	tree, err := r.tree(table)
	if err != nil {
		return nil, nil, false, err
	}

	leaf, idx := tree.FindLeafLowerBound(key)
	if idx < leaf.N && key.Compare(leaf.Keys[idx]) == 0 {
		idx++
	}
	for leaf != nil {
		if idx < leaf.N {
			k, v := leaf.Keys[idx], leaf.Values[idx]
			leaf.RUnlock()
			return k, v, true, nil
		}
		nextLeaf := leaf.Next
		if nextLeaf != nil {
			nextLeaf.RLock()
		}
		leaf.RUnlock()
		leaf = nextLeaf
		idx = 0
	}
	return nil, nil, false, nil
}

// PerLeaf is scan/rscan's per-leaf callback: invoked once per leaf
// visited, with the leaf's identity and the version stamp observed at
// visit time.
type PerLeaf func(obs Observation)

// PerKV is scan/rscan's per-key-value callback. Returning cont=false
// stops the scan early.
type PerKV func(key types.Comparable, val interface{}) (cont bool)

// Scan visits [lkey, rkey) (rkey==nil means unbounded) in ascending
// key order, up to count keys (count<=0 means unbounded), invoking
// perLeaf once per leaf boundary crossed and perKV once per key.
func (r *Registry) Scan(table types.TableID, lkey, rkey types.Comparable, count int, perLeaf PerLeaf, perKV PerKV) error {
	tree, err := r.tree(table)
	if err != nil {
		return err
	}

	leaf, idx := tree.FindLeafLowerBound(lkey)
	visited := 0
	for leaf != nil {
		if perLeaf != nil {
			perLeaf(Observation{Leaf: leaf, Stamp: leaf.Version()})
		}
		for idx < leaf.N {
			key := leaf.Keys[idx]
			if rkey != nil && key.Compare(rkey) >= 0 {
				leaf.RUnlock()
				return nil
			}
			if perKV != nil && !perKV(key, leaf.Values[idx]) {
				leaf.RUnlock()
				return nil
			}
			visited++
			idx++
			if count > 0 && visited >= count {
				leaf.RUnlock()
				return nil
			}
		}
		next := leaf.Next
		if next != nil {
			next.RLock()
		}
		leaf.RUnlock()
		leaf = next
		idx = 0
	}
	return nil
}

// RScan visits [lkey, rkey] in descending key order by first walking
// the leaf-linked list forward to collect the bounded range, then
// delivering it back to front: the tree's leaves only link forward, so
// a true backward leaf walk isn't available and a scan window has to
// be buffered instead.
func (r *Registry) RScan(table types.TableID, lkey, rkey types.Comparable, count int, perLeaf PerLeaf, perKV PerKV) error {
	tree, err := r.tree(table)
	if err != nil {
		return err
	}

	type kv struct {
		key types.Comparable
		val interface{}
	}
	var collected []kv
	var leaves []Observation

	leaf, idx := tree.FindLeafLowerBound(lkey)
	for leaf != nil {
		leaves = append(leaves, Observation{Leaf: leaf, Stamp: leaf.Version()})
		for idx < leaf.N {
			key := leaf.Keys[idx]
			if rkey != nil && key.Compare(rkey) > 0 {
				leaf.RUnlock()
				leaf = nil
				break
			}
			collected = append(collected, kv{key, leaf.Values[idx]})
			idx++
		}
		if leaf == nil {
			break
		}
		next := leaf.Next
		if next != nil {
			next.RLock()
		}
		leaf.RUnlock()
		leaf = next
		idx = 0
	}

	for _, l := range leaves {
		if perLeaf != nil {
			perLeaf(l)
		}
	}

	visited := 0
	for i := len(collected) - 1; i >= 0; i-- {
		if perKV != nil && !perKV(collected[i].key, collected[i].val) {
			return nil
		}
		visited++
		if count > 0 && visited >= count {
			return nil
		}
	}
	return nil
}

// LeafVersion reads leaf's current structural stamp, for post-hoc
// node-observation-set revalidation at commit.
func LeafVersion(leaf LeafRef) uint64 { return leaf.Version() }

type stringerKey struct{ key types.Comparable }

func (s stringerKey) String() string { return formatKey(s.key) }

func formatKey(k types.Comparable) string {
	if s, ok := k.(interface{ String() string }); ok {
		return s.String()
	}
	return "key"
}
