package state

import (
	"errors"
	"fmt"

	"MultiBridge/internal/storage"
)

// ErrTxnClosed is returned when a committed or reverted transaction is reused.
var ErrTxnClosed = errors.New("transaction closed")

// Txn stages the effects of one attestation or configuration change.
//
// In-memory structures register an undo function for every mutation and
// persistent writes are buffered. Commit flushes the writes as one atomic
// batch; Revert replays the undo functions newest first and drops the writes.
// A Txn is not safe for concurrent use; callers serialize through their own lock.
type Txn struct {
	db     *storage.Storage   // db receives the write set on commit
	writes []storage.KeyValue // writes is the buffered write set, in order
	undo   []func()           // undo restores in-memory state, applied in reverse
	closed bool               // closed is set after Commit or Revert
}

// Begin starts a transaction against db.
func Begin(db *storage.Storage) *Txn {
	return &Txn{db: db}
}

// Set buffers a write of key.
func (t *Txn) Set(key, value []byte) {
	t.writes = append(t.writes, storage.KeyValue{Key: key, Value: value})
}

// Delete buffers a deletion of key.
func (t *Txn) Delete(key []byte) {
	t.writes = append(t.writes, storage.KeyValue{Key: key, Delete: true})
}

// OnRevert registers fn to undo an in-memory mutation.
func (t *Txn) OnRevert(fn func()) {
	t.undo = append(t.undo, fn)
}

// Len returns the number of buffered writes.
func (t *Txn) Len() int {
	return len(t.writes)
}

// Commit flushes the write set atomically.
// On a storage error the in-memory state is reverted before returning.
func (t *Txn) Commit() error {
	if t.closed {
		return ErrTxnClosed
	}

	if err := t.db.Write(t.writes); err != nil {
		t.Revert()
		return fmt.Errorf("write batch:\n%w", err)
	}

	t.closed = true
	t.undo = nil
	t.writes = nil

	return nil
}

// Revert undoes every registered mutation and discards the write set.
// Reverting a closed transaction is a no-op.
func (t *Txn) Revert() {
	if t.closed {
		return
	}

	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}

	t.closed = true
	t.undo = nil
	t.writes = nil
}
