// ABOUTME: Copy-on-write B+Tree over fixed size pages supplied by a Pager
// ABOUTME: Every mutation rebuilds the path from root to leaf and frees the old pages

package btree

import "bytes"

// Pager hands out pages to the tree. Pages returned by Page must not be
// modified; Alloc takes ownership of a PageSize buffer and Free releases a
// page the tree no longer references.
type Pager interface {
	Page(ptr uint64) []byte
	Alloc(page []byte) uint64
	Free(ptr uint64)
}

// BTree maps byte keys to byte values. The zero value is an empty tree that
// must be attached to a Pager before use. Callers serialize writers.
type BTree struct {
	root  uint64
	pages Pager
}

// New returns a tree rooted at root (0 for an empty tree).
func New(root uint64, pages Pager) *BTree {
	return &BTree{root: root, pages: pages}
}

// Attach sets the page source.
func (t *BTree) Attach(pages Pager) { t.pages = pages }

// Root is the page number of the root node, 0 when the tree is empty.
func (t *BTree) Root() uint64 { return t.root }

// SetRoot repositions the tree, e.g. after loading a meta page.
func (t *BTree) SetRoot(root uint64) { t.root = root }

func (t *BTree) load(ptr uint64) node { return node(t.pages.Page(ptr)) }

// Get returns the value stored under key.
func (t *BTree) Get(key []byte) ([]byte, bool) {
	if t.root == 0 {
		return nil, false
	}
	n := t.load(t.root)
	for n.kind() == kindInternal {
		n = t.load(n.ptr(lookupLE(n, key)))
	}
	if n.kind() != kindLeaf {
		panic("btree: corrupt node kind")
	}
	i := lookupLE(n, key)
	if !bytes.Equal(n.key(i), key) {
		return nil, false
	}
	return n.val(i), true
}

// Insert stores val under key, replacing any previous value. Oversized keys
// or values panic; callers chunk large payloads before they reach the tree.
func (t *BTree) Insert(key, val []byte) {
	if len(key) > MaxKeySize || len(val) > MaxValueSize {
		panic("btree: key or value outside page limits")
	}
	if t.root == 0 {
		leaf := node(make([]byte, PageSize))
		leaf.setHeader(kindLeaf, 2)
		putRecord(leaf, 0, 0, nil, nil)
		putRecord(leaf, 1, 0, key, val)
		t.root = t.pages.Alloc(leaf)
		return
	}

	parts := split(t.insert(t.load(t.root), key, val))
	t.pages.Free(t.root)
	if len(parts) == 1 {
		t.root = t.pages.Alloc(parts[0])
		return
	}
	root := node(make([]byte, PageSize))
	root.setHeader(kindInternal, uint16(len(parts)))
	for i, p := range parts {
		putRecord(root, uint16(i), t.pages.Alloc(p), p.key(0), nil)
	}
	t.root = t.pages.Alloc(root)
}

// insert returns a copy of n holding key. The copy may exceed one page and
// is split by the caller.
func (t *BTree) insert(n node, key, val []byte) node {
	out := node(make([]byte, 2*PageSize))
	i := lookupLE(n, key)

	switch n.kind() {
	case kindLeaf:
		if bytes.Equal(n.key(i), key) {
			out.setHeader(kindLeaf, n.count())
			copyRecords(out, n, 0, 0, i)
			putRecord(out, i, 0, key, val)
			copyRecords(out, n, i+1, i+1, n.count()-i-1)
		} else {
			out.setHeader(kindLeaf, n.count()+1)
			copyRecords(out, n, 0, 0, i+1)
			putRecord(out, i+1, 0, key, val)
			copyRecords(out, n, i+2, i+1, n.count()-i-1)
		}
	case kindInternal:
		child := n.ptr(i)
		parts := split(t.insert(t.load(child), key, val))
		t.pages.Free(child)
		t.replaceChild(out, n, i, parts...)
	default:
		panic("btree: corrupt node kind")
	}
	return out
}

// replaceChild copies n into out with child i replaced by kids.
func (t *BTree) replaceChild(out, n node, i uint16, kids ...node) {
	k := uint16(len(kids))
	out.setHeader(kindInternal, n.count()+k-1)
	copyRecords(out, n, 0, 0, i)
	for j, kid := range kids {
		putRecord(out, i+uint16(j), t.pages.Alloc(kid), kid.key(0), nil)
	}
	copyRecords(out, n, i+k, i+1, n.count()-i-1)
}

// split cuts an oversized node into pages that each fit. Every page but
// the last is filled to about three quarters; a record too large for that
// gets a page of its own.
func split(n node) []node {
	if n.size() <= PageSize {
		return []node{n[:PageSize]}
	}
	c := n.count()
	var parts []node
	start := uint16(0)
	for spanSize(n, start, c) > PageSize {
		cut := start + 1
		for cut < c && spanSize(n, start, cut+1) <= PageSize*3/4 {
			cut++
		}
		parts = append(parts, extract(n, start, cut))
		start = cut
	}
	return append(parts, extract(n, start, c))
}

// spanSize is the size of a node holding records [from, to) of n.
func spanSize(n node, from, to uint16) int {
	return headerSize + int(to-from)*(ptrSize+offsetSize) + n.recordPos(to) - n.recordPos(from)
}

func extract(n node, from, to uint16) node {
	out := node(make([]byte, PageSize))
	out.setHeader(n.kind(), to-from)
	copyRecords(out, n, 0, from, to-from)
	return out
}

// Delete removes key and reports whether it was present.
func (t *BTree) Delete(key []byte) bool {
	if t.root == 0 {
		return false
	}
	updated := t.remove(t.load(t.root), key)
	if updated == nil {
		return false
	}
	t.pages.Free(t.root)
	if updated.kind() == kindInternal && updated.count() == 1 {
		t.root = updated.ptr(0)
	} else {
		t.root = t.pages.Alloc(updated)
	}
	return true
}

// remove returns a copy of n without key, or nil when key is absent.
func (t *BTree) remove(n node, key []byte) node {
	i := lookupLE(n, key)
	switch n.kind() {
	case kindLeaf:
		if !bytes.Equal(n.key(i), key) {
			return nil
		}
		out := node(make([]byte, PageSize))
		out.setHeader(kindLeaf, n.count()-1)
		copyRecords(out, n, 0, 0, i)
		copyRecords(out, n, i, i+1, n.count()-i-1)
		return out
	case kindInternal:
		return t.removeBelow(n, i, key)
	default:
		panic("btree: corrupt node kind")
	}
}

func (t *BTree) removeBelow(n node, i uint16, key []byte) node {
	child := n.ptr(i)
	updated := t.remove(t.load(child), key)
	if updated == nil {
		return nil
	}
	t.pages.Free(child)

	out := node(make([]byte, PageSize))
	dir, sibling := t.mergeTarget(n, i, updated)
	switch {
	case dir < 0:
		merged := merge(sibling, updated)
		t.pages.Free(n.ptr(i - 1))
		t.replacePair(out, n, i-1, t.pages.Alloc(merged), merged.key(0))
	case dir > 0:
		merged := merge(updated, sibling)
		t.pages.Free(n.ptr(i + 1))
		t.replacePair(out, n, i, t.pages.Alloc(merged), merged.key(0))
	case updated.count() == 0:
		// Only child emptied; the parent collapses with it.
		out.setHeader(kindInternal, 0)
	default:
		t.replaceChild(out, n, i, updated)
	}
	return out
}

// mergeTarget picks a sibling that can absorb a child that shrank below a
// quarter page: -1 for the left sibling, +1 for the right, 0 for none.
func (t *BTree) mergeTarget(n node, i uint16, child node) (int, node) {
	if child.size() > PageSize/4 {
		return 0, nil
	}
	fits := func(s node) bool { return s.size()+child.size()-headerSize <= PageSize }
	if i > 0 {
		if s := t.load(n.ptr(i - 1)); fits(s) {
			return -1, s
		}
	}
	if i+1 < n.count() {
		if s := t.load(n.ptr(i + 1)); fits(s) {
			return 1, s
		}
	}
	return 0, nil
}

func merge(left, right node) node {
	out := node(make([]byte, PageSize))
	out.setHeader(left.kind(), left.count()+right.count())
	copyRecords(out, left, 0, 0, left.count())
	copyRecords(out, right, left.count(), 0, right.count())
	return out
}

// replacePair swaps children i and i+1 of n for a single link.
func (t *BTree) replacePair(out, n node, i uint16, p uint64, key []byte) {
	out.setHeader(kindInternal, n.count()-1)
	copyRecords(out, n, 0, 0, i)
	putRecord(out, i, p, key, nil)
	copyRecords(out, n, i+1, i+2, n.count()-i-2)
}
