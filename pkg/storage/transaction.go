// ABOUTME: Write transactions for atomic multi-key operations
// ABOUTME: Begin takes the writer lock; Commit journals, then runs the two-phase page update

package storage

import "fmt"

// MutationOp identifies a recorded transaction operation
type MutationOp uint8

const (
	MutationSet MutationOp = 1
	MutationDel MutationOp = 2
)

// Mutation is one Set or Del performed inside a transaction
type Mutation struct {
	Op  MutationOp
	Key []byte
	Val []byte
}

// Journal records committed mutations durably ahead of the page file.
// Append returns an id that Discard can use to cancel the record when the
// page file update fails afterwards.
type Journal interface {
	Append(ops []Mutation) (uint64, error)
	Discard(id uint64) error
}

// KVTX represents a key-value transaction. It holds the writer lock from
// Begin until Commit or Abort.
type KVTX struct {
	db   *KV
	meta []byte // Saved meta for rollback
	ops  []Mutation
	done bool
}

// Begin starts a new transaction, blocking until no other writer is active
func (db *KV) Begin() *KVTX {
	db.mu.Lock()
	return &KVTX{
		db:   db,
		meta: db.saveMeta(),
	}
}

// Commit commits the transaction atomically
func (tx *KVTX) Commit() error {
	if tx.done {
		return fmt.Errorf("transaction already finished")
	}
	defer tx.finish()

	if len(tx.ops) == 0 {
		return nil
	}

	var journalID uint64
	if tx.db.Journal != nil {
		id, err := tx.db.Journal.Append(tx.ops)
		if err != nil {
			tx.rollback()
			return fmt.Errorf("journal append: %w", err)
		}
		journalID = id
	}

	if err := tx.db.updateOrRevert(tx.meta); err != nil {
		if tx.db.Journal != nil {
			if derr := tx.db.Journal.Discard(journalID); derr != nil {
				return fmt.Errorf("page update: %w (journal discard: %v)", err, derr)
			}
		}
		return err
	}
	return nil
}

// Abort rolls back the transaction
func (tx *KVTX) Abort() {
	if tx.done {
		return
	}
	tx.rollback()
	tx.finish()
}

func (tx *KVTX) rollback() {
	tx.db.discardPending(tx.meta)
}

func (tx *KVTX) finish() {
	tx.done = true
	tx.ops = nil
	tx.db.mu.Unlock()
}

// Ops returns the mutations recorded so far
func (tx *KVTX) Ops() []Mutation {
	return tx.ops
}

// Get retrieves a value within the transaction
func (tx *KVTX) Get(key []byte) ([]byte, bool) {
	return tx.db.tree.Get(key)
}

// Set inserts or updates a key-value pair within the transaction
func (tx *KVTX) Set(key []byte, val []byte) {
	tx.db.tree.Insert(key, val)
	tx.ops = append(tx.ops, Mutation{
		Op:  MutationSet,
		Key: append([]byte(nil), key...),
		Val: append([]byte(nil), val...),
	})
}

// Del deletes a key within the transaction
func (tx *KVTX) Del(key []byte) bool {
	if !tx.db.tree.Delete(key) {
		return false
	}
	tx.ops = append(tx.ops, Mutation{Op: MutationDel, Key: append([]byte(nil), key...)})
	return true
}

// Apply replays a recorded mutation
func (tx *KVTX) Apply(m Mutation) {
	switch m.Op {
	case MutationSet:
		tx.Set(m.Key, m.Val)
	case MutationDel:
		tx.Del(m.Key)
	}
}

// Scan performs an ascending range scan within the transaction
func (tx *KVTX) Scan(start []byte, fn func(key, val []byte) bool) {
	tx.db.tree.Scan(start, fn)
}

// ScanReverse performs a descending range scan within the transaction
func (tx *KVTX) ScanReverse(start []byte, fn func(key, val []byte) bool) {
	tx.db.tree.ScanReverse(start, fn)
}
