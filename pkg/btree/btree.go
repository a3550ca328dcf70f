// Package btree is the concrete ordered index collaborator pkg/index
// needs: a latch-crabbed B+-tree that stores value-cell pointers
// (interface{}) rather than on-disk heap offsets, and stamps every
// leaf with a structural version counter for phantom detection.
package btree

import (
	"fmt"
	"sort"
	"sync"

	txerrors "github.com/bobboyms/txcore/pkg/errors"
	"github.com/bobboyms/txcore/pkg/types"
)

// BPlusTree is one table's index, keyed by types.Comparable and storing
// opaque value-cell pointers. mu protects Root and structural
// operations on the tree as a whole; individual nodes are latched
// independently during crabbing descents.
type BPlusTree struct {
	T         int
	Root      *Node
	UniqueKey bool
	mu        sync.RWMutex
}

// stringerKey adapts a types.Comparable key (which makes no Stringer
// promise) to the fmt.Stringer the typed errors package expects.
type stringerKey struct{ key types.Comparable }

func (s stringerKey) String() string { return fmt.Sprintf("%v", s.key) }

// NewTree creates a secondary (duplicate-key-tolerant) index.
func NewTree(t int) *BPlusTree {
	return &BPlusTree{T: t, Root: NewNode(t, true), UniqueKey: false}
}

// NewUniqueTree creates a primary (unique-key) index.
func NewUniqueTree(t int) *BPlusTree {
	return &BPlusTree{T: t, Root: NewNode(t, true), UniqueKey: true}
}

// Insert adds key->value, failing with an AlreadyPresentError if the tree
// is unique and the key is already present.
func (b *BPlusTree) Insert(key types.Comparable, value interface{}) error {
	return b.Upsert(key, func(oldValue interface{}, exists bool) (interface{}, error) {
		if exists && b.UniqueKey {
			return nil, &txerrors.AlreadyPresentError{Key: stringerKey{key}}
		}
		return value, nil
	})
}

// Replace forcibly overwrites key's value, used for in-place value-cell
// pointer swaps on a unique index (no protocol ever mutates a cell's
// address, but secondary index upkeep on a record move does).
func (b *BPlusTree) Replace(key types.Comparable, value interface{}) error {
	return b.Upsert(key, func(oldValue interface{}, exists bool) (interface{}, error) {
		return value, nil
	})
}

// Upsert runs fn against the current value (if any) for key, holding the
// owning leaf's latch across the call so the read-modify-write is
// atomic with respect to other tree operations.
func (b *BPlusTree) Upsert(key types.Comparable, fn func(oldValue interface{}, exists bool) (newValue interface{}, err error)) error {
	return b.upsertHelper(key, fn)
}

func (b *BPlusTree) upsertHelper(key types.Comparable, fn func(oldValue interface{}, exists bool) (newValue interface{}, err error)) error {
	b.mu.Lock()
	root := b.Root
	root.Lock()

	if root.IsFull() {
		newRoot := NewNode(b.T, false)
		newRoot.Children = append(newRoot.Children, root)
		newRoot.SplitChild(0)
		b.Root = newRoot
		b.mu.Unlock()

		newRoot.Lock()
		root.Unlock()

		return b.upsertTopDown(newRoot, key, fn)
	}

	b.mu.Unlock()
	return b.upsertTopDown(root, key, fn)
}

// upsertTopDown descends with preventive splits (latch crabbing):
// curr arrives locked, and at each level a full child is split before
// descending into it so the leaf reached at the bottom is guaranteed
// non-full.
func (b *BPlusTree) upsertTopDown(curr *Node, key types.Comparable, fn func(oldValue interface{}, exists bool) (newValue interface{}, err error)) error {
	defer func() {
		if curr != nil {
			curr.Unlock()
		}
	}()

	for !curr.Leaf {
		i := 0
		for i < curr.N && key.Compare(curr.Keys[i]) >= 0 {
			i++
		}

		child := curr.Children[i]
		child.Lock()

		if child.IsFull() {
			curr.SplitChild(i)
			if key.Compare(curr.Keys[i]) >= 0 {
				child.Unlock()
				child = curr.Children[i+1]
				child.Lock()
			}
		}

		curr.Unlock()
		curr = child
	}

	return curr.UpsertNonFull(key, fn)
}

// Remove deletes key from the tree, rebalancing (borrow/merge) as it
// descends so every visited node keeps at least T-1 keys. Returns
// whether the key was present.
func (b *BPlusTree) Remove(key types.Comparable) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	ok := b.Root.remove(key)
	if !b.Root.Leaf && b.Root.N == 0 && len(b.Root.Children) == 1 {
		b.Root = b.Root.Children[0]
	}
	return ok
}

// Search finds key's owning leaf, returning it RLocked-then-unlocked
// (the caller only gets a membership test, not the leaf itself).
func (b *BPlusTree) Search(key types.Comparable) (*Node, bool) {
	b.mu.RLock()
	curr := b.Root
	curr.RLock()
	b.mu.RUnlock()

	for !curr.Leaf {
		i := 0
		for i < curr.N && key.Compare(curr.Keys[i]) >= 0 {
			i++
		}
		child := curr.Children[i]
		child.RLock()
		curr.RUnlock()
		curr = child
	}

	defer curr.RUnlock()

	for j := 0; j < curr.N; j++ {
		if key.Compare(curr.Keys[j]) == 0 {
			return curr, true
		}
	}
	return nil, false
}

// Get returns key's value-cell pointer via an RLock-coupled descent.
func (b *BPlusTree) Get(key types.Comparable) (interface{}, bool) {
	if b == nil {
		return nil, false
	}
	b.mu.RLock()
	curr := b.Root
	if curr == nil {
		b.mu.RUnlock()
		return nil, false
	}
	curr.RLock()
	b.mu.RUnlock()

	for !curr.Leaf {
		i := 0
		for i < curr.N && key.Compare(curr.Keys[i]) >= 0 {
			i++
		}
		child := curr.Children[i]
		child.RLock()
		curr.RUnlock()
		curr = child
	}

	defer curr.RUnlock()

	for j := 0; j < curr.N; j++ {
		if key.Compare(curr.Keys[j]) == 0 {
			return curr.Values[j], true
		}
	}
	return nil, false
}

// FindLeafLowerBound descends to the leaf that would hold key (or the
// first key after it, for key==nil meaning "from the start"). It
// returns the leaf RLocked: the caller must RUnlock it once done
// reading (a scan may instead hop to Next, RLocking it before
// RUnlocking the current leaf, which is the lock-coupling discipline
// pkg/index's scan/rscan follow).
func (b *BPlusTree) FindLeafLowerBound(key types.Comparable) (*Node, int) {
	b.mu.RLock()
	curr := b.Root
	curr.RLock()
	b.mu.RUnlock()

	for !curr.Leaf {
		var i int
		if key == nil {
			i = 0
		} else {
			// A separator equal to key leads right: the right child's
			// first key is the separator itself.
			i = sort.Search(curr.N, func(i int) bool {
				return curr.Keys[i].Compare(key) > 0
			})
		}

		child := curr.Children[i]
		child.RLock()
		curr.RUnlock()
		curr = child
	}

	var idx int
	if key == nil {
		idx = 0
	} else {
		idx = sort.Search(curr.N, func(i int) bool {
			return curr.Keys[i].Compare(key) >= 0
		})
	}

	return curr, idx
}

// findLeafLowerBound is the unlocked-result variant used by tests that
// only inspect a node's contents without racing other writers.
func (b *BPlusTree) findLeafLowerBound(key types.Comparable) (*Node, int) {
	node, idx := b.FindLeafLowerBound(key)
	if node != nil {
		node.RUnlock()
	}
	return node, idx
}
