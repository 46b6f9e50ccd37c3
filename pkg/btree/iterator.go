// ABOUTME: Bidirectional cursor over the leaves of a B+Tree
// ABOUTME: Keeps the root to leaf path so Next and Prev can cross leaf boundaries

package btree

import "bytes"

type frame struct {
	n   node
	pos uint16
}

// Iterator walks keys in order. It is positioned with SeekLE and is only
// valid while the tree is not modified.
type Iterator struct {
	tree *BTree
	path []frame
}

func (t *BTree) NewIterator() *Iterator {
	return &Iterator{tree: t, path: make([]frame, 0, 8)}
}

// SeekLE positions the cursor at the last key <= key, which may be the empty
// sentinel. It returns false only for an empty tree.
func (it *Iterator) SeekLE(key []byte) bool {
	it.path = it.path[:0]
	if it.tree.root == 0 {
		return false
	}
	n := it.tree.load(it.tree.root)
	for {
		i := lookupLE(n, key)
		it.path = append(it.path, frame{n, i})
		if n.kind() == kindLeaf {
			return true
		}
		n = it.tree.load(n.ptr(i))
	}
}

func (it *Iterator) leaf() *frame { return &it.path[len(it.path)-1] }

func (it *Iterator) Valid() bool {
	if len(it.path) == 0 {
		return false
	}
	f := it.leaf()
	return f.pos < f.n.count()
}

func (it *Iterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	f := it.leaf()
	return f.n.key(f.pos)
}

func (it *Iterator) Val() []byte {
	if !it.Valid() {
		return nil
	}
	f := it.leaf()
	return f.n.val(f.pos)
}

// Next moves to the following key and returns false past the last one.
func (it *Iterator) Next() bool {
	for len(it.path) > 0 {
		f := it.leaf()
		if f.pos+1 < f.n.count() {
			f.pos++
			return it.down(false)
		}
		it.path = it.path[:len(it.path)-1]
	}
	return false
}

// Prev moves to the preceding key and returns false before the first one.
// The sentinel of the leftmost leaf is visited like any other key.
func (it *Iterator) Prev() bool {
	for len(it.path) > 0 {
		f := it.leaf()
		if f.pos > 0 {
			f.pos--
			return it.down(true)
		}
		it.path = it.path[:len(it.path)-1]
	}
	return false
}

// down descends from the current frame to a leaf, taking the last child at
// each level when last is set and the first child otherwise.
func (it *Iterator) down(last bool) bool {
	for {
		f := it.leaf()
		if f.n.kind() == kindLeaf {
			return true
		}
		child := it.tree.load(f.n.ptr(f.pos))
		var i uint16
		if last {
			if child.count() == 0 {
				return false
			}
			i = child.count() - 1
		}
		it.path = append(it.path, frame{child, i})
	}
}

// Scan calls fn for every pair with key >= start in ascending order until
// fn returns false.
func (t *BTree) Scan(start []byte, fn func(key, val []byte) bool) {
	it := t.NewIterator()
	if !it.SeekLE(start) {
		return
	}
	if bytes.Compare(it.Key(), start) < 0 && !it.Next() {
		return
	}
	for it.Valid() {
		if !fn(it.Key(), it.Val()) || !it.Next() {
			return
		}
	}
}

// ScanReverse calls fn for every pair with key <= start in descending order
// until fn returns false. The sentinel is never reported.
func (t *BTree) ScanReverse(start []byte, fn func(key, val []byte) bool) {
	it := t.NewIterator()
	if !it.SeekLE(start) {
		return
	}
	for it.Valid() && len(it.Key()) > 0 {
		if !fn(it.Key(), it.Val()) || !it.Prev() {
			return
		}
	}
}
