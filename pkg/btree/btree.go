// Package btree implements the in-memory B+Tree index used for both
// primary and secondary indexes: latch-crabbing descent, preventive
// top-down splits on insert, and borrow-or-merge rebalancing on delete
// bounded at the minimum fill factor (T-1 keys per node). Nodes are
// ordinary Go values; they are not stored on or loaded from pages.
package btree

import (
	"fmt"
	"sort"
	"sync"

	"github.com/flintdb/flint/pkg/ferrors"
	"github.com/flintdb/flint/pkg/types"
)

// BPlusTree is one index: a primary index storing each row's bytes
// directly in its leaves, or a secondary index storing RowID payloads.
// UniqueKey rejects a second insert of an existing key; a non-unique
// index instead appends the new entry after the run of equal keys, so
// inserts keep coming out in insertion order and deletes identify the
// exact entry to remove via the match callback.
type BPlusTree struct {
	T         int
	Root      *Node
	UniqueKey bool
	Direction types.Direction
	Name      string // index name, used only to annotate DuplicateKeyError
	mu        sync.RWMutex
}

func NewTree(t int, name string, direction types.Direction) *BPlusTree {
	desc := direction == types.Descending
	return &BPlusTree{
		T:         t,
		Root:      NewNode(t, true, desc),
		UniqueKey: false,
		Direction: direction,
		Name:      name,
	}
}

func NewUniqueTree(t int, name string, direction types.Direction) *BPlusTree {
	desc := direction == types.Descending
	return &BPlusTree{
		T:         t,
		Root:      NewNode(t, true, desc),
		UniqueKey: true,
		Direction: direction,
		Name:      name,
	}
}

func (b *BPlusTree) desc() bool { return b.Direction == types.Descending }

// Insert adds key/value, rejecting a collision when the index is unique.
func (b *BPlusTree) Insert(key types.Comparable, value []byte) error {
	return b.Upsert(key, func(oldValue []byte, exists bool) ([]byte, error) {
		if exists && b.UniqueKey {
			return nil, &ferrors.DuplicateKeyError{Index: b.Name, Key: fmt.Sprintf("%v", key)}
		}
		return value, nil
	})
}

// Upsert runs fn against the existing value for key (nil, false if
// absent) while holding the target leaf's latch, and stores fn's
// result. On a non-unique index it always inserts a new entry, even
// when key already exists, rather than overwriting, since duplicates
// are distinct rows sharing a key.
func (b *BPlusTree) Upsert(key types.Comparable, fn func(oldValue []byte, exists bool) (newValue []byte, err error)) error {
	b.mu.Lock()
	root := b.Root
	root.Lock()

	if root.IsFull() {
		newRoot := NewNode(b.T, false, b.desc())
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

// upsertTopDown descends the tree splitting full children preventively,
// so the leaf it finally reaches is always safe to insert into without
// a second pass back up. curr arrives locked; the function unlocks
// whatever node it currently holds before returning.
func (b *BPlusTree) upsertTopDown(curr *Node, key types.Comparable, fn func(oldValue []byte, exists bool) (newValue []byte, err error)) error {
	defer func() {
		if curr != nil {
			curr.Unlock()
		}
	}()

	for !curr.Leaf {
		i := 0
		for i < curr.N && cmp(key, curr.Keys[i], b.desc()) >= 0 {
			i++
		}

		child := curr.Children[i]
		child.Lock()

		if child.IsFull() {
			curr.SplitChild(i)

			if cmp(key, curr.Keys[i], b.desc()) >= 0 {
				child.Unlock()
				child = curr.Children[i+1]
				child.Lock()
			}
		}

		curr.Unlock()
		curr = child
	}

	return curr.UpsertNonFull(key, b.UniqueKey, fn)
}

// Delete removes the entry whose key compares equal to key and whose
// value satisfies match (pass nil on a unique index, where a key has at
// most one entry).
func (b *BPlusTree) Delete(key types.Comparable, match func(value []byte) bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	root := b.Root
	if root == nil || root.N == 0 {
		return false
	}
	ok := root.remove(key, match)

	if !root.Leaf && root.N == 0 && len(root.Children) == 1 {
		b.Root = root.Children[0]
	}
	return ok
}

// Search reports whether key is present, returning the leaf it was
// found in (RUnlock'd already, valid only for the duration of the call
// under the caller's own synchronization discipline).
func (b *BPlusTree) Search(key types.Comparable) (*Node, bool) {
	b.mu.RLock()
	curr := b.Root
	curr.RLock()
	b.mu.RUnlock()

	for !curr.Leaf {
		i := 0
		for i < curr.N && cmp(key, curr.Keys[i], b.desc()) >= 0 {
			i++
		}
		child := curr.Children[i]
		child.RLock()

		curr.RUnlock()
		curr = child
	}

	defer curr.RUnlock()

	for j := 0; j < curr.N; j++ {
		if cmp(key, curr.Keys[j], b.desc()) == 0 {
			return curr, true
		}
	}
	return nil, false
}

// Get returns the first value stored under key.
func (b *BPlusTree) Get(key types.Comparable) ([]byte, bool) {
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
		for i < curr.N && cmp(key, curr.Keys[i], b.desc()) >= 0 {
			i++
		}
		child := curr.Children[i]
		child.RLock()

		curr.RUnlock()
		curr = child
	}

	defer curr.RUnlock()

	for j := 0; j < curr.N; j++ {
		if cmp(key, curr.Keys[j], b.desc()) == 0 {
			return curr.Values[j], true
		}
	}
	return nil, false
}

// GetAll returns every value stored under key, in leaf order, for
// non-unique indexes where several rows can share a key.
func (b *BPlusTree) GetAll(key types.Comparable) [][]byte {
	b.mu.RLock()
	curr := b.Root
	curr.RLock()
	b.mu.RUnlock()

	for !curr.Leaf {
		i := 0
		for i < curr.N && cmp(key, curr.Keys[i], b.desc()) >= 0 {
			i++
		}
		child := curr.Children[i]
		child.RLock()

		curr.RUnlock()
		curr = child
	}
	defer curr.RUnlock()

	var out [][]byte
	for {
		for j := 0; j < curr.N; j++ {
			if cmp(key, curr.Keys[j], b.desc()) == 0 {
				out = append(out, curr.Values[j])
			}
		}
		next := curr.Next
		if next == nil || curr.N == 0 || cmp(key, curr.Keys[curr.N-1], b.desc()) != 0 {
			break
		}
		next.RLock()
		curr.RUnlock()
		curr = next
	}
	return out
}

// FindLeafLowerBound locates the leaf and in-leaf index of the first
// key >= key (or the first leaf entry when key is nil), for range scans.
// The returned node is RLock'd; the caller must RUnlock it.
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
			i = sort.Search(curr.N, func(i int) bool {
				return cmp(curr.Keys[i], key, b.desc()) >= 0
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
			return cmp(curr.Keys[i], key, b.desc()) >= 0
		})
	}

	return curr, idx
}
