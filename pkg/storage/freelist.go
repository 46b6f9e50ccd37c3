// ABOUTME: Queue of released page numbers kept inside the page file itself
// ABOUTME: Pages are linked list nodes of slots; pops from the head, pushes to the tail

package storage

import "encoding/binary"

const (
	freeNodeHeader = 8
	freeNodeSlots  = (pageSize - freeNodeHeader) / 8
	freeListMeta   = 40
)

// freeNode is one page of the queue: a next pointer followed by slots.
type freeNode []byte

func (n freeNode) next() uint64 { return binary.LittleEndian.Uint64(n[0:8]) }
func (n freeNode) setNext(p uint64) { binary.LittleEndian.PutUint64(n[0:8], p) }
func (n freeNode) slot(i int) uint64 { return binary.LittleEndian.Uint64(n[freeNodeHeader+8*i:]) }
func (n freeNode) setSlot(i int, p uint64) {
	binary.LittleEndian.PutUint64(n[freeNodeHeader+8*i:], p)
}

// pageIO is the page access the free list needs from the page file.
type pageIO interface {
	pageRead(ptr uint64) []byte
	pageAppend(page []byte) uint64
	pageWrite(ptr uint64, page []byte)
}

// freeList hands released pages back to the allocator. Sequence numbers
// count pushes and pops since the file was created; the slot of sequence s
// is s % freeNodeSlots of its node.
type freeList struct {
	io pageIO

	headPage, headSeq uint64
	tailPage, tailSeq uint64

	// limit stops pops at the tail as it stood after the last commit, so
	// pages freed by the running transaction are not reused before commit.
	// Zero means nothing is available yet.
	limit uint64
}

func (fl *freeList) Len() int {
	if fl.headSeq >= fl.tailSeq {
		return 0
	}
	return int(fl.tailSeq - fl.headSeq)
}

// Pop returns a reusable page or 0 when none is available. Only pages
// queued before the limit are handed out.
func (fl *freeList) Pop() uint64 {
	if fl.headSeq >= min(fl.tailSeq, fl.limit) {
		return 0
	}

	head := freeNode(fl.io.pageRead(fl.headPage))
	ptr := head.slot(int(fl.headSeq % freeNodeSlots))
	fl.headSeq++

	// A drained node with no successor stays the head until Push links one.
	if fl.headSeq%freeNodeSlots == 0 {
		if next := head.next(); next != 0 {
			drained := fl.headPage
			fl.headPage = next
			fl.Push(drained)
		}
	}
	return ptr
}

// Push appends a released page.
func (fl *freeList) Push(ptr uint64) {
	if fl.tailPage == 0 {
		fl.tailPage = fl.io.pageAppend(make([]byte, pageSize))
		fl.headPage = fl.tailPage
	}

	var drained uint64
	i := int(fl.tailSeq % freeNodeSlots)
	if i == 0 && fl.tailSeq > 0 {
		next := fl.io.pageAppend(make([]byte, pageSize))
		fl.rewrite(fl.tailPage, func(n freeNode) { n.setNext(next) })
		if fl.headSeq == fl.tailSeq {
			// the head sat on the full, drained tail node
			drained = fl.headPage
			fl.headPage = next
		}
		fl.tailPage = next
	}
	fl.rewrite(fl.tailPage, func(n freeNode) { n.setSlot(i, ptr) })
	fl.tailSeq++

	if drained != 0 {
		fl.Push(drained)
	}
}

// rewrite applies edit to a private copy of a page; mapped pages are read only.
func (fl *freeList) rewrite(ptr uint64, edit func(freeNode)) {
	page := make([]byte, pageSize)
	copy(page, fl.io.pageRead(ptr))
	edit(freeNode(page))
	fl.io.pageWrite(ptr, page)
}

// Freeze fixes the pop limit at the current tail and returns the previous
// limit so a failed commit can restore it.
func (fl *freeList) Freeze() uint64 {
	prev := fl.limit
	fl.limit = fl.tailSeq
	return prev
}

// Release makes every queued page available again.
func (fl *freeList) Release() { fl.limit = fl.tailSeq }

func (fl *freeList) encode(dst []byte) {
	for i, v := range []uint64{fl.headPage, fl.headSeq, fl.tailPage, fl.tailSeq, fl.limit} {
		binary.LittleEndian.PutUint64(dst[8*i:], v)
	}
}

func (fl *freeList) decode(src []byte) {
	for i, v := range []*uint64{&fl.headPage, &fl.headSeq, &fl.tailPage, &fl.tailSeq, &fl.limit} {
		*v = binary.LittleEndian.Uint64(src[8*i:])
	}
}
