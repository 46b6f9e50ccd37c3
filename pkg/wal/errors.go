// Package wal is the registry's redo journal. Every committed store
// transaction is appended here before the page file changes, so a crash
// between the two can be repaired on the next open.
package wal

import "errors"

// Tail conditions. A reader treats any of them as the end of a log file.
var (
	ErrCorrupted    = errors.New("wal: checksum mismatch")
	ErrTruncated    = errors.New("wal: truncated entry")
	ErrInvalidEntry = errors.New("wal: malformed entry")
)

// ErrLogClosed is returned by writes after Close.
var ErrLogClosed = errors.New("wal: log closed")
