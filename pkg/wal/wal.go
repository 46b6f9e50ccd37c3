package wal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	// DefaultMaxFileSize is the rotation threshold of a single log file (64MB)
	DefaultMaxFileSize = 64 << 20

	// MaxEntrySize bounds key+value of a single entry; larger lengths in a
	// header mean the header itself is garbage
	MaxEntrySize = 16 << 20
)

// WAL is an append-only log split over numbered files
// "<Path>.000", "<Path>.001", ... Only the newest file is written.
type WAL struct {
	// Path is the base path of the log files, e.g. "/data/registry.db.wal"
	Path string

	// MaxFileSize triggers rotation; zero means DefaultMaxFileSize
	MaxFileSize int64

	mu     sync.Mutex
	lsn    atomic.Uint64
	fd     *os.File
	index  int   // number of the file being written
	size   int64 // bytes in that file
	closed bool
}

// Open opens the newest log file, or creates the first one. A torn entry
// at the end of the newest file (a crash during append) is cut off so later
// appends stay readable.
func (w *WAL) Open() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.MaxFileSize <= 0 {
		w.MaxFileSize = DefaultMaxFileSize
	}
	if err := os.MkdirAll(filepath.Dir(w.Path), 0o755); err != nil {
		return err
	}

	files, err := w.listFiles()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		w.lsn.Store(0)
		return w.openFile(0, 0)
	}

	newest := files[len(files)-1]
	end, err := validPrefix(newest)
	if err != nil {
		return err
	}
	if err := os.Truncate(newest, end); err != nil {
		return fmt.Errorf("truncate torn tail: %w", err)
	}

	entries, err := ReadAll(files)
	if err != nil {
		return err
	}
	var last uint64
	for _, e := range entries {
		last = max(last, e.LSN)
	}
	w.lsn.Store(last)
	return w.openFile(w.fileNumber(newest), end)
}

// NextLSN issues the next log sequence number
func (w *WAL) NextLSN() uint64 {
	return w.lsn.Add(1)
}

// LastLSN returns the most recently issued log sequence number
func (w *WAL) LastLSN() uint64 {
	return w.lsn.Load()
}

// Write appends an entry, rotating first when it would overflow the file
func (w *WAL) Write(entry Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrLogClosed
	}

	data := entry.Encode()
	if w.size > 0 && w.size+int64(len(data)) > w.MaxFileSize {
		if err := w.rotate(); err != nil {
			return err
		}
	}
	n, err := w.fd.Write(data)
	w.size += int64(n)
	return err
}

// Fsync makes every written entry durable
func (w *WAL) Fsync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrLogClosed
	}
	return w.fd.Sync()
}

// Rotate starts a new log file
func (w *WAL) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrLogClosed
	}
	return w.rotate()
}

// Files returns the log files, oldest first
func (w *WAL) Files() ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.listFiles()
}

// RemoveBeforeCurrent deletes every file older than the one being written
// and returns how many were removed.
func (w *WAL) RemoveBeforeCurrent() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	files, err := w.listFiles()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, f := range files {
		if w.fileNumber(f) >= w.index {
			continue
		}
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Close closes the current file. Closing twice is a no-op.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.fd.Close()
}

func (w *WAL) openFile(index int, size int64) error {
	fd, err := os.OpenFile(w.fileName(index), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.fd, w.index, w.size, w.closed = fd, index, size, false
	return nil
}

// rotate syncs and closes the current file; the caller holds mu.
func (w *WAL) rotate() error {
	if err := w.fd.Sync(); err != nil {
		return err
	}
	if err := w.fd.Close(); err != nil {
		return err
	}
	return w.openFile(w.index+1, 0)
}

func (w *WAL) fileName(index int) string {
	return fmt.Sprintf("%s.%03d", w.Path, index)
}

// fileNumber parses the numeric suffix of a log file, -1 when there is none.
func (w *WAL) fileNumber(file string) int {
	suffix, ok := strings.CutPrefix(filepath.Base(file), filepath.Base(w.Path)+".")
	if !ok || suffix == "" || strings.Trim(suffix, "0123456789") != "" {
		return -1
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return -1
	}
	return n
}

// listFiles returns this log's files ordered by number. Files of other logs
// in the same directory, such as "<Path>.bak.000", are ignored.
func (w *WAL) listFiles() ([]string, error) {
	dir := filepath.Dir(w.Path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && w.fileNumber(e.Name()) >= 0 {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	slices.SortFunc(files, func(a, b string) int {
		return w.fileNumber(a) - w.fileNumber(b)
	})
	return files, nil
}

// validPrefix returns the byte length of the leading run of intact entries
func validPrefix(file string) (int64, error) {
	fd, err := os.Open(file)
	if err != nil {
		return 0, err
	}
	defer fd.Close()

	var end int64
	for {
		e, err := readEntry(fd)
		if err != nil {
			if isTail(err) {
				return end, nil
			}
			return 0, err
		}
		end += int64(e.Size())
	}
}

// isTail reports whether err marks the end of the readable log rather
// than an I/O failure
func isTail(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, ErrCorrupted) ||
		errors.Is(err, ErrTruncated) ||
		errors.Is(err, ErrInvalidEntry)
}

func readEntry(r io.Reader) (*Entry, error) {
	header := make([]byte, EntryHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	keyLen, valLen := entryLengths(header)
	if uint64(keyLen)+uint64(valLen) > MaxEntrySize {
		return nil, ErrInvalidEntry
	}

	data := make([]byte, EntryHeaderSize+int(keyLen)+int(valLen)+crcSize)
	copy(data, header)
	if _, err := io.ReadFull(r, data[EntryHeaderSize:]); err != nil {
		return nil, err
	}
	return DecodeEntry(data)
}
