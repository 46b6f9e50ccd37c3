package wal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CheckpointResult describes one completed checkpoint.
type CheckpointResult struct {
	LSN          uint64
	FilesRemoved int
	Duration     time.Duration
}

// Checkpointer retires journal files whose transactions already reached
// the page file. A checkpoint calls flush, starts a fresh log file whose
// first entry is the checkpoint marker and removes every older file.
type Checkpointer struct {
	wal   *WAL
	flush func() error

	// Notify, when set, receives the outcome of every checkpoint taken by Run.
	Notify func(res CheckpointResult, err error)

	mu sync.Mutex
}

// NewCheckpointer returns a checkpointer for w. flush must make the page
// file durable; journal entries written before it returns are then redundant.
func NewCheckpointer(w *WAL, flush func() error) *Checkpointer {
	return &Checkpointer{wal: w, flush: flush}
}

// Run checkpoints every interval until ctx is done.
func (c *Checkpointer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := c.Checkpoint()
			if c.Notify != nil {
				c.Notify(res, err)
			}
		}
	}
}

// Checkpoint takes one checkpoint now. Concurrent calls are serialized.
func (c *Checkpointer) Checkpoint() (CheckpointResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	var res CheckpointResult

	if err := c.flush(); err != nil {
		return res, fmt.Errorf("flush page file: %w", err)
	}
	if err := c.wal.Rotate(); err != nil {
		return res, fmt.Errorf("rotate: %w", err)
	}

	marker := Entry{LSN: c.wal.NextLSN(), OpType: OpCheckpoint, Timestamp: start}
	if err := c.wal.Write(marker); err != nil {
		return res, fmt.Errorf("write marker: %w", err)
	}
	if err := c.wal.Fsync(); err != nil {
		return res, fmt.Errorf("sync marker: %w", err)
	}
	res.LSN = marker.LSN

	removed, err := c.wal.RemoveBeforeCurrent()
	res.FilesRemoved = removed
	if err != nil {
		return res, fmt.Errorf("remove old log files: %w", err)
	}
	res.Duration = time.Since(start)
	return res, nil
}
