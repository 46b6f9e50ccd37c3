package wal

import (
	"fmt"
	"time"

	"github.com/nainya/modelregistry/pkg/storage"
)

// Journal adapts a WAL to storage.Journal. A transaction is written as its
// mutations followed by a commit marker and a single fsync; the id of the
// transaction is the LSN of its first entry.
type Journal struct {
	wal *WAL
}

// NewJournal wraps an open WAL
func NewJournal(w *WAL) *Journal {
	return &Journal{wal: w}
}

// Append durably records a committed transaction
func (j *Journal) Append(ops []storage.Mutation) (uint64, error) {
	now := time.Now()
	var txnID uint64

	for i, m := range ops {
		lsn := j.wal.NextLSN()
		if i == 0 {
			txnID = lsn
		}

		entry := Entry{
			LSN:       lsn,
			TxnID:     txnID,
			Key:       m.Key,
			Timestamp: now,
		}
		switch m.Op {
		case storage.MutationSet:
			entry.OpType = OpInsert
			entry.Value = m.Val
		case storage.MutationDel:
			entry.OpType = OpDelete
		default:
			return 0, fmt.Errorf("%w: mutation op %d", ErrInvalidEntry, m.Op)
		}

		if err := j.wal.Write(entry); err != nil {
			return 0, err
		}
	}

	commit := Entry{
		LSN:       j.wal.NextLSN(),
		TxnID:     txnID,
		OpType:    OpCommit,
		Timestamp: now,
	}
	if len(ops) == 0 {
		txnID = commit.LSN
		commit.TxnID = txnID
	}
	if err := j.wal.Write(commit); err != nil {
		return 0, err
	}
	if err := j.wal.Fsync(); err != nil {
		return 0, err
	}
	return txnID, nil
}

// Discard marks a previously appended transaction as aborted
func (j *Journal) Discard(id uint64) error {
	abort := Entry{
		LSN:       j.wal.NextLSN(),
		TxnID:     id,
		OpType:    OpAbort,
		Timestamp: time.Now(),
	}
	if err := j.wal.Write(abort); err != nil {
		return err
	}
	return j.wal.Fsync()
}

// Replay applies every recovered transaction to the key-value store in a
// single write transaction. Replay is idempotent: entries are blind sets and
// deletes.
func Replay(w *WAL, db *storage.KV) (*RecoveryStats, error) {
	tx := db.Begin()
	stats, err := Recover(w, func(op OpType, key, value []byte) error {
		switch op {
		case OpInsert:
			tx.Set(key, value)
		case OpDelete:
			tx.Del(key)
		}
		return nil
	})
	if err != nil {
		tx.Abort()
		return stats, err
	}
	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("commit replayed entries: %w", err)
	}
	return stats, nil
}
