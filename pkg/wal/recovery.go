package wal

import "fmt"

// ReplayFunc applies one recovered mutation.
type ReplayFunc func(op OpType, key, value []byte) error

// RecoveryStats summarizes a recovery run.
type RecoveryStats struct {
	TotalEntries       int
	CommittedTxns      int
	UncommittedTxns    int
	AbortedTxns        int
	ReplayedOperations int
	LastCheckpointLSN  uint64
}

// txnLog is the journal view of one transaction.
type txnLog struct {
	start     uint64
	ops       []*Entry
	committed bool
	aborted   bool
}

// Recover replays, in log order, every transaction that started after the
// last checkpoint, committed and was not aborted afterwards.
func Recover(w *WAL, replay ReplayFunc) (*RecoveryStats, error) {
	files, err := w.Files()
	if err != nil {
		return nil, err
	}
	entries, err := ReadAll(files)
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}

	stats := &RecoveryStats{TotalEntries: len(entries)}
	for _, e := range entries {
		if e.OpType == OpCheckpoint {
			stats.LastCheckpointLSN = e.LSN
		}
	}

	for _, txn := range groupTransactions(entries) {
		if txn.start < stats.LastCheckpointLSN {
			continue
		}
		switch {
		case txn.aborted:
			stats.AbortedTxns++
		case !txn.committed:
			stats.UncommittedTxns++
		default:
			stats.CommittedTxns++
			for _, e := range txn.ops {
				if err := replay(e.OpType, e.Key, e.Value); err != nil {
					return stats, fmt.Errorf("replay lsn %d: %w", e.LSN, err)
				}
				stats.ReplayedOperations++
			}
		}
	}
	return stats, nil
}

// groupTransactions collects entries per transaction, ordered by the
// position of each transaction's first entry.
func groupTransactions(entries []*Entry) []*txnLog {
	byID := make(map[uint64]*txnLog)
	var order []*txnLog
	for _, e := range entries {
		if e.OpType == OpCheckpoint {
			continue
		}
		txn, ok := byID[e.TxnID]
		if !ok {
			txn = &txnLog{start: e.LSN}
			byID[e.TxnID] = txn
			order = append(order, txn)
		}
		switch e.OpType {
		case OpCommit:
			txn.committed = true
		case OpAbort:
			txn.aborted = true
		case OpInsert, OpDelete:
			txn.ops = append(txn.ops, e)
		}
	}
	return order
}
