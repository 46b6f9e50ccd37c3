// ABOUTME: Disk-based KV store with B+Tree persistence
// ABOUTME: Copy-on-write pages, a meta page and two-phase fsync; one writer, many readers

package storage

import (
	"fmt"
	"sync"
	"syscall"

	"github.com/nainya/modelregistry/pkg/btree"
)

// Reader is the read side shared by committed views and open transactions
type Reader interface {
	Get(key []byte) ([]byte, bool)
	Scan(start []byte, fn func(key, val []byte) bool)
	ScanReverse(start []byte, fn func(key, val []byte) bool)
}

// KV represents a persistent key-value store.
// Writers are serialized by mu; readers share it and see only committed state.
type KV struct {
	Path string

	// Journal, when set, must durably record a transaction's mutations
	// before the page file is updated.
	Journal Journal

	mu   sync.RWMutex
	fd   int
	tree btree.BTree
	free freeList

	// mapped holds read-only mappings of the file, in file order.
	mapped struct {
		size   int
		chunks [][]byte
	}

	// pending is the uncommitted part of the page file.
	pending struct {
		flushed  uint64            // pages on disk, meta page included
		appended [][]byte          // new pages after flushed
		rewrites map[uint64][]byte // replacements for reused pages
	}

	// dirtyMeta is set when a commit failed after touching the file; the
	// next commit rewrites the last good meta page first.
	dirtyMeta bool
}

// Stats describes the page file
type Stats struct {
	Pages     uint64
	FreePages int
	SizeBytes int64
}

// Open opens or creates the page file at db.Path
func (db *KV) Open() error {
	fd, err := createFileSync(db.Path)
	if err != nil {
		return err
	}
	db.fd = fd

	var st syscall.Stat_t
	if err := syscall.Fstat(fd, &st); err != nil {
		return fmt.Errorf("fstat: %w", err)
	}

	if st.Size == 0 {
		db.pending.flushed = 1
	} else {
		if err := db.mapFile(max(int(st.Size), initialMapSize)); err != nil {
			return err
		}
		if err := db.readMeta(); err != nil {
			return err
		}
	}

	db.pending.rewrites = make(map[uint64][]byte)
	db.free.io = db
	// Pages freed before the last commit are all reusable after a reopen.
	db.free.Release()
	db.tree.Attach(treePages{db})
	return nil
}

// Close unmaps and closes the page file
func (db *KV) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, chunk := range db.mapped.chunks {
		if err := syscall.Munmap(chunk); err != nil {
			return err
		}
	}
	db.mapped.chunks = nil
	return syscall.Close(db.fd)
}

// Get returns a copy of the committed value for key
func (db *KV) Get(key []byte) ([]byte, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	val, ok := db.tree.Get(key)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), val...), true
}

// Set writes a single key in its own transaction
func (db *KV) Set(key []byte, val []byte) error {
	return db.Update(func(tx *KVTX) error {
		tx.Set(key, val)
		return nil
	})
}

// Del removes a single key in its own transaction
func (db *KV) Del(key []byte) (bool, error) {
	var deleted bool
	err := db.Update(func(tx *KVTX) error {
		deleted = tx.Del(key)
		return nil
	})
	return deleted, err
}

// Scan visits keys >= start in ascending order until fn returns false.
// fn runs under the read lock and must not write to db.
func (db *KV) Scan(start []byte, fn func(key, val []byte) bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	db.tree.Scan(start, fn)
}

// ScanReverse visits keys <= start in descending order.
func (db *KV) ScanReverse(start []byte, fn func(key, val []byte) bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	db.tree.ScanReverse(start, fn)
}

// View runs fn against the committed state under the read lock
func (db *KV) View(fn func(r Reader) error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return fn(view{db: db})
}

// Update runs fn inside a write transaction. The transaction commits when
// fn returns nil and aborts otherwise.
func (db *KV) Update(fn func(tx *KVTX) error) error {
	tx := db.Begin()
	if err := fn(tx); err != nil {
		tx.Abort()
		return err
	}
	return tx.Commit()
}

// Stats reports page file usage
func (db *KV) Stats() Stats {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return Stats{
		Pages:     db.pending.flushed,
		FreePages: db.free.Len(),
		SizeBytes: int64(db.pending.flushed) * pageSize,
	}
}

// treePages serves B+Tree pages from the page file
type treePages struct{ db *KV }

func (p treePages) Page(ptr uint64) []byte { return p.db.pageRead(ptr) }
func (p treePages) Alloc(page []byte) uint64 { return p.db.pageAlloc(page) }
func (p treePages) Free(ptr uint64) { p.db.pageFree(ptr) }

// view is a Reader over committed state; the caller holds the read lock
type view struct {
	db *KV
}

func (v view) Get(key []byte) ([]byte, bool) {
	return v.db.tree.Get(key)
}

func (v view) Scan(start []byte, fn func(key, val []byte) bool) {
	v.db.tree.Scan(start, fn)
}

func (v view) ScanReverse(start []byte, fn func(key, val []byte) bool) {
	v.db.tree.ScanReverse(start, fn)
}
