package btree

import (
	"bytes"
	"fmt"
	"testing"
)

func buildLeaf(kvs ...string) node {
	n := node(make([]byte, PageSize))
	n.setHeader(kindLeaf, uint16(len(kvs)/2))
	for i := 0; i < len(kvs); i += 2 {
		putRecord(n, uint16(i/2), 0, []byte(kvs[i]), []byte(kvs[i+1]))
	}
	return n
}

func TestNodeLayout(t *testing.T) {
	n := buildLeaf("", "", "alpha", "1", "beta", "22")

	if n.kind() != kindLeaf || n.count() != 3 {
		t.Fatalf("header: kind %d count %d", n.kind(), n.count())
	}
	if got := string(n.key(1)); got != "alpha" {
		t.Errorf("key(1) = %q", got)
	}
	if got := string(n.val(2)); got != "22" {
		t.Errorf("val(2) = %q", got)
	}
	// header + 3 pointers + 3 offsets + records (4+0+0, 4+5+1, 4+4+2)
	want := headerSize + 3*ptrSize + 3*offsetSize + 4 + 10 + 10
	if n.size() != want {
		t.Errorf("size = %d, want %d", n.size(), want)
	}
}

func TestNodePointers(t *testing.T) {
	n := node(make([]byte, PageSize))
	n.setHeader(kindInternal, 2)
	putRecord(n, 0, 7, nil, nil)
	putRecord(n, 1, 42, []byte("m"), nil)

	if n.ptr(0) != 7 || n.ptr(1) != 42 {
		t.Errorf("pointers = %d, %d", n.ptr(0), n.ptr(1))
	}

	defer func() {
		if recover() == nil {
			t.Error("expected a panic for an out of range pointer")
		}
	}()
	n.ptr(2)
}

func TestLookupLE(t *testing.T) {
	n := buildLeaf("", "", "b", "", "d", "", "f", "")

	cases := []struct {
		key  string
		want uint16
	}{
		{"a", 0},
		{"b", 1},
		{"c", 1},
		{"d", 2},
		{"e", 2},
		{"f", 3},
		{"z", 3},
	}
	for _, c := range cases {
		if got := lookupLE(n, []byte(c.key)); got != c.want {
			t.Errorf("lookupLE(%q) = %d, want %d", c.key, got, c.want)
		}
	}
}

func TestCopyRecordsKeepsInternalPointers(t *testing.T) {
	src := node(make([]byte, PageSize))
	src.setHeader(kindInternal, 4)
	for i := uint16(0); i < 4; i++ {
		putRecord(src, i, uint64(100+i), []byte(fmt.Sprintf("k%d", i)), nil)
	}

	dst := node(make([]byte, PageSize))
	dst.setHeader(kindInternal, 3)
	putRecord(dst, 0, 9, []byte("first"), nil)
	copyRecords(dst, src, 1, 2, 2)

	for i, want := range []struct {
		ptr uint64
		key string
	}{{9, "first"}, {102, "k2"}, {103, "k3"}} {
		if dst.ptr(uint16(i)) != want.ptr || !bytes.Equal(dst.key(uint16(i)), []byte(want.key)) {
			t.Errorf("record %d = (%d, %q), want (%d, %q)", i, dst.ptr(uint16(i)), dst.key(uint16(i)), want.ptr, want.key)
		}
	}
}

func TestSplitProducesFittingPages(t *testing.T) {
	big := bytes.Repeat([]byte("v"), MaxValueSize)
	oversized := node(make([]byte, 2*PageSize))
	oversized.setHeader(kindLeaf, 5)
	putRecord(oversized, 0, 0, nil, nil)
	putRecord(oversized, 1, 0, []byte("a"), bytes.Repeat([]byte("x"), 1800))
	putRecord(oversized, 2, 0, []byte("b"), big)
	putRecord(oversized, 3, 0, []byte("c"), bytes.Repeat([]byte("y"), 1800))
	putRecord(oversized, 4, 0, []byte("d"), []byte("tail"))

	parts := split(oversized)
	if len(parts) < 2 {
		t.Fatalf("expected the node to be split, got %d part(s)", len(parts))
	}
	var total uint16
	for i, p := range parts {
		if len(p) != PageSize || p.size() > PageSize {
			t.Errorf("part %d: len %d size %d", i, len(p), p.size())
		}
		if p.count() == 0 {
			t.Errorf("part %d is empty", i)
		}
		total += p.count()
	}
	if total != 5 {
		t.Errorf("parts hold %d records, want 5", total)
	}
	if !bytes.Equal(parts[len(parts)-1].key(parts[len(parts)-1].count()-1), []byte("d")) {
		t.Error("record order not preserved")
	}
}
