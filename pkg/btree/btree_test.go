// ABOUTME: Tests for B+Tree insert, lookup and delete over an in-memory pager
// ABOUTME: Random workloads are checked against a map, including page accounting

package btree

import (
	"bytes"
	"fmt"
	"sort"
	"testing"

	"pgregory.net/rapid"
)

// memPager keeps pages in a map and fails loudly on misuse.
type memPager struct {
	pages map[uint64]node
	next  uint64
}

func newMemPager() *memPager {
	return &memPager{pages: map[uint64]node{}, next: 1}
}

func (m *memPager) Page(ptr uint64) []byte {
	p, ok := m.pages[ptr]
	if !ok {
		panic(fmt.Sprintf("read of unallocated page %d", ptr))
	}
	return p
}

func (m *memPager) Alloc(page []byte) uint64 {
	if len(page) != PageSize || node(page).size() > PageSize {
		panic(fmt.Sprintf("bad page: len %d size %d", len(page), node(page).size()))
	}
	ptr := m.next
	m.next++
	m.pages[ptr] = page
	return ptr
}

func (m *memPager) Free(ptr uint64) {
	if _, ok := m.pages[ptr]; !ok {
		panic(fmt.Sprintf("double free of page %d", ptr))
	}
	delete(m.pages, ptr)
}

// reachable counts the pages linked from the root.
func reachable(t *BTree, ptr uint64) int {
	if ptr == 0 {
		return 0
	}
	n := t.load(ptr)
	total := 1
	if n.kind() == kindInternal {
		for i := uint16(0); i < n.count(); i++ {
			total += reachable(t, n.ptr(i))
		}
	}
	return total
}

func newTree() (*BTree, *memPager) {
	pages := newMemPager()
	return New(0, pages), pages
}

func TestEmptyTree(t *testing.T) {
	tree, _ := newTree()
	if _, ok := tree.Get([]byte("x")); ok {
		t.Error("Get on an empty tree found a value")
	}
	if tree.Delete([]byte("x")) {
		t.Error("Delete on an empty tree reported success")
	}
	if tree.Root() != 0 {
		t.Errorf("root = %d", tree.Root())
	}
}

func TestInsertUpdateDelete(t *testing.T) {
	tree, pages := newTree()

	tree.Insert([]byte("model"), []byte("v1"))
	tree.Insert([]byte("model"), []byte("v2"))
	if v, ok := tree.Get([]byte("model")); !ok || string(v) != "v2" {
		t.Fatalf("Get = %q, %v", v, ok)
	}
	if tree.Delete([]byte("other")) {
		t.Error("deleted a key that was never inserted")
	}
	if !tree.Delete([]byte("model")) {
		t.Fatal("Delete of a present key failed")
	}
	if _, ok := tree.Get([]byte("model")); ok {
		t.Error("key still present after Delete")
	}
	if len(pages.pages) != 1 {
		t.Errorf("expected only the sentinel leaf to remain, got %d pages", len(pages.pages))
	}
}

func TestSequentialGrowthAndShrink(t *testing.T) {
	tree, pages := newTree()
	val := bytes.Repeat([]byte("p"), 200)

	const n = 5000
	for i := 0; i < n; i++ {
		tree.Insert([]byte(fmt.Sprintf("run/%06d", i)), val)
	}
	if tree.load(tree.Root()).kind() != kindInternal {
		t.Fatal("expected the tree to have grown internal levels")
	}
	if got := reachable(tree, tree.Root()); got != len(pages.pages) {
		t.Fatalf("%d pages allocated but %d reachable", len(pages.pages), got)
	}

	for i := 0; i < n; i++ {
		if !tree.Delete([]byte(fmt.Sprintf("run/%06d", i))) {
			t.Fatalf("delete %d failed", i)
		}
	}
	if got := reachable(tree, tree.Root()); got != len(pages.pages) {
		t.Fatalf("%d pages allocated but %d reachable after deletes", len(pages.pages), got)
	}
	if len(pages.pages) > 8 {
		t.Errorf("expected the emptied tree to shrink, %d pages remain", len(pages.pages))
	}
}

func TestMaximumRecords(t *testing.T) {
	tree, _ := newTree()
	val := bytes.Repeat([]byte("w"), MaxValueSize)
	for i := 0; i < 50; i++ {
		key := bytes.Repeat([]byte{byte('a' + i%26)}, MaxKeySize-4)
		key = append(key, []byte(fmt.Sprintf("%04d", i))...)
		tree.Insert(key, val)
	}
	for i := 0; i < 50; i++ {
		key := bytes.Repeat([]byte{byte('a' + i%26)}, MaxKeySize-4)
		key = append(key, []byte(fmt.Sprintf("%04d", i))...)
		if v, ok := tree.Get(key); !ok || len(v) != MaxValueSize {
			t.Fatalf("record %d missing", i)
		}
	}
}

func TestOversizedRecordPanics(t *testing.T) {
	tree, _ := newTree()
	defer func() {
		if recover() == nil {
			t.Error("expected a panic for a value above MaxValueSize")
		}
	}()
	tree.Insert([]byte("k"), make([]byte, MaxValueSize+1))
}

func TestTreeMatchesMap(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		tree, pages := newTree()
		model := map[string]string{}

		keys := rapid.StringMatching(`[a-z]{1,12}`)
		vals := rapid.SliceOfN(rapid.Byte(), 0, 900)

		steps := rapid.IntRange(1, 400).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			key := keys.Draw(rt, "key")
			switch rapid.IntRange(0, 2).Draw(rt, "op") {
			case 0, 1:
				v := vals.Draw(rt, "val")
				tree.Insert([]byte(key), v)
				model[key] = string(v)
			case 2:
				_, want := model[key]
				if got := tree.Delete([]byte(key)); got != want {
					rt.Fatalf("Delete(%q) = %v, want %v", key, got, want)
				}
				delete(model, key)
			}
		}

		for k, v := range model {
			got, ok := tree.Get([]byte(k))
			if !ok || string(got) != v {
				rt.Fatalf("Get(%q) = %d bytes, %v; want %d bytes", k, len(got), ok, len(v))
			}
		}
		if got := reachable(tree, tree.Root()); got != len(pages.pages) {
			rt.Fatalf("%d pages allocated but %d reachable", len(pages.pages), got)
		}

		want := make([]string, 0, len(model))
		for k := range model {
			want = append(want, k)
		}
		sort.Strings(want)
		var got []string
		tree.Scan([]byte("a"), func(k, _ []byte) bool {
			got = append(got, string(k))
			return true
		})
		if fmt.Sprint(got) != fmt.Sprint(want) {
			rt.Fatalf("scan = %v, want %v", got, want)
		}
	})
}
