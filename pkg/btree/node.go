package btree

import (
	"sort"
	"sync"

	"github.com/flintdb/flint/pkg/types"
)

// Node is one in-memory block of the tree: an internal node holding
// separator keys and child pointers, or a leaf holding keys and the
// payload bytes a leaf carries for its key (a RowID for a secondary
// index, the row's own encoded bytes for a primary index).
type Node struct {
	T        int
	Keys     []types.Comparable
	Values   [][]byte
	Children []*Node
	Leaf     bool
	N        int
	Next     *Node
	desc     bool
	mu       sync.RWMutex
}

func NewNode(t int, leaf bool, desc bool) *Node {
	return &Node{
		T:      t,
		Leaf:   leaf,
		desc:   desc,
		Keys:   make([]types.Comparable, 0, 2*t-1),
		Values: make([][]byte, 0, 2*t-1),
		// Children left nil for leaves; allocated lazily for internal nodes.
	}
}

// cmp orders a against b, inverting the comparison for descending
// indexes. The codec never flips bytes for descending order; the tree
// does it here instead.
func cmp(a, b types.Comparable, desc bool) int {
	c := a.Compare(b)
	if desc {
		return -c
	}
	return c
}

func (n *Node) Lock() {
	if n != nil {
		n.mu.Lock()
	}
}

func (n *Node) Unlock() {
	if n != nil {
		n.mu.Unlock()
	}
}

func (n *Node) RLock() {
	if n != nil {
		n.mu.RLock()
	}
}

func (n *Node) RUnlock() {
	if n != nil {
		n.mu.RUnlock()
	}
}

// IsSafeForInsert reports whether n can take one more key without splitting.
func (n *Node) IsSafeForInsert() bool {
	return n.N < 2*n.T-1
}

// IsSafeForDelete reports whether n can lose one key without borrowing or merging.
func (n *Node) IsSafeForDelete() bool {
	return n.N > n.T-1
}

func (n *Node) IsFull() bool {
	return n.N == 2*n.T-1
}

func (n *Node) Search(key types.Comparable) (*Node, bool) {
	i := 0
	for i < n.N && cmp(key, n.Keys[i], n.desc) >= 0 {
		i++
	}

	if n.Leaf {
		for j := 0; j < n.N; j++ {
			if cmp(key, n.Keys[j], n.desc) == 0 {
				return n, true
			}
		}
		return nil, false
	}

	return n.Children[i].Search(key)
}

func (n *Node) findLeafLowerBound(key types.Comparable) (*Node, int) {
	i := sort.Search(n.N, func(i int) bool {
		return cmp(n.Keys[i], key, n.desc) >= 0
	})

	if n.Leaf {
		return n, i
	}

	return n.Children[i].findLeafLowerBound(key)
}

// UpsertNonFull inserts or updates the key in a leaf that preventive
// top-down splitting has already guaranteed is not full, running fn
// while the leaf's latch is held so the read-modify-write is atomic.
// uniqueKey selects whether a collision is an error or an overwrite.
func (n *Node) UpsertNonFull(key types.Comparable, uniqueKey bool, fn func(oldValue []byte, exists bool) (newValue []byte, err error)) error {
	i := n.N - 1

	if n.Leaf {
		idx := sort.Search(n.N, func(j int) bool {
			return cmp(n.Keys[j], key, n.desc) >= 0
		})

		if idx < n.N && cmp(n.Keys[idx], key, n.desc) == 0 {
			if uniqueKey {
				newValue, err := fn(n.Values[idx], true)
				if err != nil {
					return err
				}
				n.Values[idx] = newValue
				return nil
			}
			return n.insertDuplicateAt(idx, key, fn)
		}

		newValue, err := fn(nil, false)
		if err != nil {
			return err
		}

		n.Keys = append(n.Keys, nil)
		n.Values = append(n.Values, nil)
		copy(n.Keys[idx+1:], n.Keys[idx:])
		copy(n.Values[idx+1:], n.Values[idx:])

		n.Keys[idx] = key
		n.Values[idx] = newValue
		n.N++
		return nil
	}

	for i >= 0 && cmp(key, n.Keys[i], n.desc) < 0 {
		i--
	}
	i++

	if n.Children[i].N == 2*n.T-1 {
		n.SplitChild(i)
		if cmp(key, n.Keys[i], n.desc) >= 0 {
			i++
		}
	}
	return n.Children[i].UpsertNonFull(key, uniqueKey, fn)
}

// insertDuplicateAt handles a non-unique index collision: the new entry
// is inserted immediately after the run of equal keys already present,
// so duplicates come out in insertion order on a forward scan.
func (n *Node) insertDuplicateAt(firstEqual int, key types.Comparable, fn func(oldValue []byte, exists bool) (newValue []byte, err error)) error {
	j := firstEqual
	for j < n.N && cmp(n.Keys[j], key, n.desc) == 0 {
		j++
	}
	newValue, err := fn(nil, false)
	if err != nil {
		return err
	}

	n.Keys = append(n.Keys, nil)
	n.Values = append(n.Values, nil)
	copy(n.Keys[j+1:], n.Keys[j:])
	copy(n.Values[j+1:], n.Values[j:])

	n.Keys[j] = key
	n.Values[j] = newValue
	n.N++
	return nil
}

func (n *Node) SplitChild(i int) {
	t := n.T
	y := n.Children[i]
	z := NewNode(t, y.Leaf, y.desc)

	if y.Leaf {
		mid := t - 1
		z.N = y.N - mid
		z.Keys = append(z.Keys, y.Keys[mid:]...)
		z.Values = append(z.Values, y.Values[mid:]...)

		y.Keys = y.Keys[:mid]
		y.Values = y.Values[:mid]
		y.N = mid

		z.Next = y.Next
		y.Next = z
	} else {
		mid := t - 1
		z.N = t - 1
		z.Keys = append(z.Keys, y.Keys[mid+1:]...)
		z.Children = append(z.Children, y.Children[mid+1:]...)

		upKey := y.Keys[mid]

		y.Keys = y.Keys[:mid]
		y.Children = y.Children[:mid+1]
		y.N = mid

		n.Keys = append(n.Keys, nil)
		copy(n.Keys[i+1:], n.Keys[i:])
		n.Keys[i] = upKey

		n.Children = append(n.Children, nil)
		copy(n.Children[i+2:], n.Children[i+1:])
		n.Children[i+1] = z
		n.N++
		return
	}

	n.Keys = append(n.Keys, nil)
	copy(n.Keys[i+1:], n.Keys[i:])
	n.Keys[i] = z.Keys[0]

	n.Children = append(n.Children, nil)
	copy(n.Children[i+2:], n.Children[i+1:])
	n.Children[i+1] = z
	n.N++
}

// remove deletes the first occurrence of key equal to the (key, rowid)
// pair identified by match, or the sole occurrence when match is nil
// (unique indexes never have more than one).
func (n *Node) remove(key types.Comparable, match func(value []byte) bool) bool {
	idx := sort.Search(n.N, func(i int) bool {
		return cmp(n.Keys[i], key, n.desc) >= 0
	})

	if n.Leaf {
		for idx < n.N && cmp(n.Keys[idx], key, n.desc) == 0 {
			if match == nil || match(n.Values[idx]) {
				n.Keys = append(n.Keys[:idx], n.Keys[idx+1:]...)
				n.Values = append(n.Values[:idx], n.Values[idx+1:]...)
				n.N--
				return true
			}
			idx++
		}
		return false
	}

	childIdx := idx
	if idx < n.N && cmp(n.Keys[idx], key, n.desc) == 0 {
		childIdx = idx + 1
	}

	child := n.Children[childIdx]
	if child.N < n.T {
		n.fill(childIdx)
	}

	return n.removeRecursive(key, match)
}

func (n *Node) removeRecursive(key types.Comparable, match func(value []byte) bool) bool {
	idx := sort.Search(n.N, func(i int) bool {
		return cmp(n.Keys[i], key, n.desc) >= 0
	})

	childIdx := idx
	if idx < n.N && cmp(n.Keys[idx], key, n.desc) == 0 {
		childIdx = idx + 1
	}

	if childIdx > n.N {
		childIdx = n.N
	}

	ok := n.Children[childIdx].remove(key, match)

	if ok {
		n.fixSeparators()
	}

	return ok
}

func (n *Node) fixSeparators() {
	if n.Leaf {
		return
	}
	for i := 0; i < n.N; i++ {
		curr := n.Children[i+1]
		for !curr.Leaf {
			curr = curr.Children[0]
		}
		if curr.N > 0 {
			n.Keys[i] = curr.Keys[0]
		}
	}
}

func (n *Node) fill(i int) {
	if i != 0 && n.Children[i-1].N >= n.T {
		n.borrowFromPrev(i)
	} else if i != n.N && n.Children[i+1].N >= n.T {
		n.borrowFromNext(i)
	} else {
		if i != n.N {
			n.merge(i)
		} else {
			n.merge(i - 1)
		}
	}
}

func (n *Node) borrowFromPrev(i int) {
	child := n.Children[i]
	sibling := n.Children[i-1]

	if child.Leaf {
		child.Keys = append([]types.Comparable{nil}, child.Keys...)
		child.Values = append([][]byte{nil}, child.Values...)
		child.Keys[0] = sibling.Keys[sibling.N-1]
		child.Values[0] = sibling.Values[sibling.N-1]
		child.N++

		sibling.Keys = sibling.Keys[:sibling.N-1]
		sibling.Values = sibling.Values[:sibling.N-1]
		sibling.N--

		n.Keys[i-1] = child.Keys[0]
	} else {
		child.Keys = append([]types.Comparable{nil}, child.Keys...)
		child.Children = append([]*Node{nil}, child.Children...)
		child.Keys[0] = n.Keys[i-1]
		child.Children[0] = sibling.Children[sibling.N]
		child.N++

		n.Keys[i-1] = sibling.Keys[sibling.N-1]
		sibling.Keys = sibling.Keys[:sibling.N-1]
		sibling.Children = sibling.Children[:sibling.N]
		sibling.N--
	}
}

func (n *Node) borrowFromNext(i int) {
	child := n.Children[i]
	sibling := n.Children[i+1]

	if child.Leaf {
		child.Keys = append(child.Keys, sibling.Keys[0])
		child.Values = append(child.Values, sibling.Values[0])
		child.N++

		sibling.Keys = append([]types.Comparable{}, sibling.Keys[1:]...)
		sibling.Values = append([][]byte{}, sibling.Values[1:]...)
		sibling.N--

		n.Keys[i] = sibling.Keys[0]
	} else {
		child.Keys = append(child.Keys, n.Keys[i])
		child.Children = append(child.Children, sibling.Children[0])
		child.N++

		n.Keys[i] = sibling.Keys[0]
		sibling.Keys = append([]types.Comparable{}, sibling.Keys[1:]...)
		sibling.Children = append([]*Node{}, sibling.Children[1:]...)
		sibling.N--
	}
}

func (n *Node) merge(i int) {
	child := n.Children[i]
	sibling := n.Children[i+1]

	if child.Leaf {
		child.Keys = append(child.Keys, sibling.Keys...)
		child.Values = append(child.Values, sibling.Values...)
		child.Next = sibling.Next
		child.N = len(child.Keys)
	} else {
		child.Keys = append(child.Keys, n.Keys[i])
		child.Keys = append(child.Keys, sibling.Keys...)
		child.Children = append(child.Children, sibling.Children...)
		child.N = len(child.Keys)
	}

	n.Keys = append(n.Keys[:i], n.Keys[i+1:]...)
	n.Children = append(n.Children[:i+1], n.Children[i+2:]...)
	n.N--
}

// Remove and FindLeafLowerBound are exported for tests that exercise a
// single node without going through the tree's latch crabbing.
func (n *Node) Remove(key types.Comparable, match func(value []byte) bool) bool {
	return n.remove(key, match)
}

func (n *Node) FindLeafLowerBound(key types.Comparable) (*Node, int) {
	return n.findLeafLowerBound(key)
}
