// ABOUTME: Page file internals: page allocation, the meta page and durable commits
// ABOUTME: New pages are appended, reused pages rewritten; meta is written last

package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"path"
	"syscall"

	"github.com/nainya/modelregistry/pkg/btree"
)

const (
	dbSignature = "ModelReg01\x00\x00\x00\x00\x00\x00"
	pageSize    = btree.PageSize

	// meta page: signature 16B, root 8B, page count 8B, free list 40B
	metaSize = 80

	initialMapSize = 64 << 20
)

func (db *KV) pageRead(ptr uint64) []byte {
	if page, ok := db.pending.rewrites[ptr]; ok {
		return page
	}
	if ptr >= db.pending.flushed {
		if i := ptr - db.pending.flushed; i < uint64(len(db.pending.appended)) {
			return db.pending.appended[i]
		}
	}

	first := uint64(0)
	for _, chunk := range db.mapped.chunks {
		last := first + uint64(len(chunk))/pageSize
		if ptr < last {
			off := pageSize * (ptr - first)
			return chunk[off : off+pageSize]
		}
		first = last
	}
	panic(fmt.Sprintf("page %d out of range (flushed %d, appended %d)",
		ptr, db.pending.flushed, len(db.pending.appended)))
}

// pageAlloc stores a new page, reusing a free one when possible
func (db *KV) pageAlloc(page []byte) uint64 {
	if ptr := db.free.Pop(); ptr != 0 {
		db.pageWrite(ptr, page)
		return ptr
	}
	return db.pageAppend(page)
}

func (db *KV) pageAppend(page []byte) uint64 {
	mustBePage(page)
	ptr := db.pending.flushed + uint64(len(db.pending.appended))
	db.pending.appended = append(db.pending.appended, page)
	return ptr
}

func (db *KV) pageWrite(ptr uint64, page []byte) {
	mustBePage(page)
	db.pending.rewrites[ptr] = page
}

// pageFree queues a page for reuse. Pages appended by the running
// transaction are simply dropped on commit.
func (db *KV) pageFree(ptr uint64) {
	if ptr < db.pending.flushed {
		db.free.Push(ptr)
	}
}

func mustBePage(page []byte) {
	if len(page) != pageSize {
		panic(fmt.Sprintf("page is %d bytes, want %d", len(page), pageSize))
	}
}

func (db *KV) saveMeta() []byte {
	var data [metaSize]byte
	copy(data[:16], dbSignature)
	binary.LittleEndian.PutUint64(data[16:], db.tree.Root())
	binary.LittleEndian.PutUint64(data[24:], db.pending.flushed)
	db.free.encode(data[32:])
	return data[:]
}

func (db *KV) loadMeta(data []byte) {
	db.tree.SetRoot(binary.LittleEndian.Uint64(data[16:]))
	db.pending.flushed = binary.LittleEndian.Uint64(data[24:])
	db.free.decode(data[32 : 32+freeListMeta])
}

func (db *KV) readMeta() error {
	data := db.mapped.chunks[0][:metaSize]
	if sig := string(data[:16]); sig != dbSignature {
		return fmt.Errorf("not a registry page file: signature %q", sig)
	}
	db.loadMeta(data)
	return nil
}

// discardPending drops uncommitted pages and restores the state in meta.
func (db *KV) discardPending(meta []byte) {
	db.loadMeta(meta)
	db.pending.appended = db.pending.appended[:0]
	db.pending.rewrites = make(map[uint64][]byte)
}

// updateOrRevert makes the running transaction durable. On failure the
// in-memory state goes back to meta and the file is repaired on the next
// commit.
func (db *KV) updateOrRevert(meta []byte) error {
	if db.dirtyMeta {
		if err := db.writeMeta(meta); err != nil {
			return err
		}
		if err := syscall.Fsync(db.fd); err != nil {
			return err
		}
		db.dirtyMeta = false
	}

	prevLimit := db.free.Freeze()
	if err := db.updateFile(); err != nil {
		db.discardPending(meta)
		db.free.limit = prevLimit
		db.dirtyMeta = true
		return err
	}
	db.free.Release()
	return nil
}

// updateFile writes pages, syncs, then switches the meta page and syncs
// again so a crash leaves either the old or the new tree.
func (db *KV) updateFile() error {
	if err := db.writePages(); err != nil {
		return err
	}
	if err := syscall.Fsync(db.fd); err != nil {
		return err
	}
	if err := db.writeMeta(db.saveMeta()); err != nil {
		return err
	}
	return syscall.Fsync(db.fd)
}

func (db *KV) writePages() error {
	for ptr, page := range db.pending.rewrites {
		if _, err := syscall.Pwrite(db.fd, page, int64(ptr*pageSize)); err != nil {
			return err
		}
	}
	db.pending.rewrites = make(map[uint64][]byte)

	if len(db.pending.appended) == 0 {
		return nil
	}
	end := int(db.pending.flushed+uint64(len(db.pending.appended))) * pageSize
	if err := db.growMapping(end); err != nil {
		return err
	}

	off := int64(db.pending.flushed * pageSize)
	for _, page := range db.pending.appended {
		if _, err := syscall.Pwrite(db.fd, page, off); err != nil {
			return err
		}
		off += pageSize
	}
	db.pending.flushed += uint64(len(db.pending.appended))
	db.pending.appended = db.pending.appended[:0]
	return nil
}

func (db *KV) writeMeta(data []byte) error {
	if _, err := syscall.Pwrite(db.fd, data, 0); err != nil {
		return fmt.Errorf("write meta page: %w", err)
	}
	return nil
}

// mapFile maps the first size bytes of the file.
func (db *KV) mapFile(size int) error {
	chunk, err := syscall.Mmap(db.fd, 0, size, syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap: %w", err)
	}
	db.mapped.size = size
	db.mapped.chunks = append(db.mapped.chunks, chunk)
	return nil
}

// growMapping adds a mapping, at least doubling the mapped size, until
// size bytes are covered. Existing mappings stay valid for readers.
func (db *KV) growMapping(size int) error {
	if size <= db.mapped.size {
		return nil
	}
	grow := max(db.mapped.size, initialMapSize)
	for db.mapped.size+grow < size {
		grow *= 2
	}
	chunk, err := syscall.Mmap(db.fd, int64(db.mapped.size), grow, syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap: %w", err)
	}
	db.mapped.size += grow
	db.mapped.chunks = append(db.mapped.chunks, chunk)
	return nil
}

// createFileSync opens or creates file and syncs its directory entry
func createFileSync(file string) (int, error) {
	fd, err := syscall.Open(file, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return -1, fmt.Errorf("open file: %w", err)
	}

	dirfd, err := syscall.Open(path.Dir(file), os.O_RDONLY, 0)
	if err != nil {
		_ = syscall.Close(fd)
		return -1, fmt.Errorf("open directory: %w", err)
	}
	defer syscall.Close(dirfd)

	if err := syscall.Fsync(dirfd); err != nil {
		_ = syscall.Close(fd)
		return -1, fmt.Errorf("fsync directory: %w", err)
	}
	return fd, nil
}
