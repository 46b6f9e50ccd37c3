// ABOUTME: Page layout of a B+Tree node and the primitives that read and build it
// ABOUTME: Nodes are immutable once written; edits always build a fresh page

package btree

import (
	"bytes"
	"encoding/binary"
)

// Page geometry. A single key/value pair of maximum size must fit a page
// together with the node header, one pointer and one offset.
const (
	PageSize     = 4096
	MaxKeySize   = 1000
	MaxValueSize = 3000

	headerSize = 4
	ptrSize    = 8
	offsetSize = 2
	kvHeader   = 4
)

// Node kinds stored in the first two header bytes.
const (
	kindInternal uint16 = 1
	kindLeaf     uint16 = 2
)

// node is a page viewed as a B+Tree node:
//
//	| kind | count | pointers      | offsets           | key/values |
//	| 2B   | 2B    | count * 8B    | count * 2B        | ...        |
//
// Each key/value record is | klen 2B | vlen 2B | key | val |. Offsets are
// relative to the first record and offset(0) is implicitly zero.
type node []byte

func (n node) kind() uint16  { return binary.LittleEndian.Uint16(n[0:2]) }
func (n node) count() uint16 { return binary.LittleEndian.Uint16(n[2:4]) }

func (n node) setHeader(kind, count uint16) {
	binary.LittleEndian.PutUint16(n[0:2], kind)
	binary.LittleEndian.PutUint16(n[2:4], count)
}

func (n node) checkIndex(i uint16) {
	if i >= n.count() {
		panic("btree: node index out of range")
	}
}

func (n node) ptr(i uint16) uint64 {
	n.checkIndex(i)
	return binary.LittleEndian.Uint64(n[headerSize+ptrSize*int(i):])
}

func (n node) setPtr(i uint16, p uint64) {
	n.checkIndex(i)
	binary.LittleEndian.PutUint64(n[headerSize+ptrSize*int(i):], p)
}

// offsetAt is the byte position of the stored offset for record i (i >= 1).
func (n node) offsetAt(i uint16) int {
	if i == 0 || i > n.count() {
		panic("btree: offset index out of range")
	}
	return headerSize + ptrSize*int(n.count()) + offsetSize*int(i-1)
}

func (n node) offset(i uint16) uint16 {
	if i == 0 {
		return 0
	}
	return binary.LittleEndian.Uint16(n[n.offsetAt(i):])
}

func (n node) setOffset(i, off uint16) {
	binary.LittleEndian.PutUint16(n[n.offsetAt(i):], off)
}

// recordPos is the byte position of record i; i == count is the end of data.
func (n node) recordPos(i uint16) int {
	if i > n.count() {
		panic("btree: record index out of range")
	}
	c := int(n.count())
	return headerSize + (ptrSize+offsetSize)*c + int(n.offset(i))
}

func (n node) key(i uint16) []byte {
	n.checkIndex(i)
	pos := n.recordPos(i)
	klen := int(binary.LittleEndian.Uint16(n[pos:]))
	return n[pos+kvHeader:][:klen]
}

func (n node) val(i uint16) []byte {
	n.checkIndex(i)
	pos := n.recordPos(i)
	klen := int(binary.LittleEndian.Uint16(n[pos:]))
	vlen := int(binary.LittleEndian.Uint16(n[pos+2:]))
	return n[pos+kvHeader+klen:][:vlen]
}

// size is the number of bytes in use.
func (n node) size() int { return n.recordPos(n.count()) }

// lookupLE returns the index of the last key <= key. Index 0 always
// qualifies: in a leaf it is the empty sentinel, in an internal node it is
// the lower bound copied from the parent.
func lookupLE(n node, key []byte) uint16 {
	var found uint16
	for i := uint16(1); i < n.count(); i++ {
		c := bytes.Compare(n.key(i), key)
		if c > 0 {
			break
		}
		found = i
		if c == 0 {
			break
		}
	}
	return found
}

// copyRecords copies records [from, from+cnt) of src to dst starting at to.
// dst must already carry a header large enough to hold them.
func copyRecords(dst, src node, to, from, cnt uint16) {
	if from+cnt > src.count() || to+cnt > dst.count() {
		panic("btree: record range out of bounds")
	}
	if cnt == 0 {
		return
	}
	if src.kind() == kindInternal {
		for i := uint16(0); i < cnt; i++ {
			dst.setPtr(to+i, src.ptr(from+i))
		}
	}

	base, srcBase := dst.offset(to), src.offset(from)
	for i := uint16(1); i <= cnt; i++ {
		dst.setOffset(to+i, base+src.offset(from+i)-srcBase)
	}
	copy(dst[dst.recordPos(to):], src[src.recordPos(from):src.recordPos(from+cnt)])
}

// putRecord writes one record at index i. Leaves pass a zero pointer and
// internal nodes a nil value.
func putRecord(dst node, i uint16, p uint64, key, val []byte) {
	dst.setPtr(i, p)
	pos := dst.recordPos(i)
	binary.LittleEndian.PutUint16(dst[pos:], uint16(len(key)))
	binary.LittleEndian.PutUint16(dst[pos+2:], uint16(len(val)))
	copy(dst[pos+kvHeader:], key)
	copy(dst[pos+kvHeader+len(key):], val)
	dst.setOffset(i+1, dst.offset(i)+uint16(kvHeader+len(key)+len(val)))
}

func init() {
	if headerSize+ptrSize+offsetSize+kvHeader+MaxKeySize+MaxValueSize > PageSize {
		panic("btree: maximum record does not fit a page")
	}
}
