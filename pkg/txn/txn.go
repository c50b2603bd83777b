// Package txn scopes a set of page mutations so they commit or roll back
// atomically. There is no MVCC here: a transaction's writes are staged
// only so a rollback can restore the pages it touched, not so other
// readers can be shielded from them before commit (SPEC_FULL.md §12).
package txn

import (
	"fmt"
	"sync"

	"github.com/flintdb/flint/pkg/ferrors"
	"github.com/flintdb/flint/pkg/wal"
)

// State is a transaction's position in its ACTIVE -> (COMMITTED |
// ROLLED_BACK) -> CLOSED lifecycle.
type State uint8

const (
	StateActive State = iota
	StateCommitted
	StateRolledBack
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateCommitted:
		return "COMMITTED"
	case StateRolledBack:
		return "ROLLED_BACK"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// stagedWrite is one page's before-image, kept only until commit or
// rollback decides whether it is ever needed again.
type stagedWrite struct {
	pageID uint64
	before []byte
}

// Undoer applies a page's before-image back to the store during
// rollback. pkg/table supplies this so txn never needs to know about
// the buffer pool or page store directly.
type Undoer func(pageID uint64, before []byte) error

// Transaction is a single write scope. It is not safe for concurrent
// use by more than one goroutine; the table-level spinlock
// (SPEC_FULL.md §5) already serializes writers before a Transaction is
// ever touched.
type Transaction struct {
	ID    uint64
	w     *wal.WALWriter
	mgr   *Manager
	mu    sync.Mutex
	state State
	// touched prevents capturing more than one before-image per page:
	// only the first write in a transaction needs one to undo the whole
	// transaction's effect on that page.
	touched map[uint64]bool
	staged  []stagedWrite
}

func newTransaction(id uint64, w *wal.WALWriter, mgr *Manager) (*Transaction, error) {
	tx := &Transaction{
		ID:      id,
		w:       w,
		mgr:     mgr,
		state:   StateActive,
		touched: make(map[uint64]bool),
	}
	if w != nil {
		if _, err := w.Append(wal.EntryBegin, wal.EncodeTxnID(id)); err != nil {
			return nil, ferrors.Wrap(err, "txn: writing BEGIN record")
		}
	}
	mgr.register(tx)
	return tx, nil
}

func (tx *Transaction) requireActive() error {
	if tx.state != StateActive {
		return &ferrors.UseAfterEndError{Handle: fmt.Sprintf("transaction %d (%s)", tx.ID, tx.state)}
	}
	return nil
}

// StagePageWrite logs a PAGE_WRITE record carrying before and after
// images and remembers before for rollback. The caller is responsible
// for actually applying after to the buffer pool; StagePageWrite only
// makes the change durable and undoable.
func (tx *Transaction) StagePageWrite(pageID uint64, before, after []byte) (uint64, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if err := tx.requireActive(); err != nil {
		return 0, err
	}

	var lsn uint64
	if tx.w != nil {
		payload := wal.EncodePageWrite(wal.PageWritePayload{
			TxnID:  tx.ID,
			PageID: pageID,
			Before: before,
			After:  after,
		})
		var err error
		lsn, err = tx.w.Append(wal.EntryPageWrite, payload)
		if err != nil {
			return 0, ferrors.Wrap(err, "txn: writing PAGE_WRITE record")
		}
	}

	if !tx.touched[pageID] {
		tx.touched[pageID] = true
		beforeCopy := make([]byte, len(before))
		copy(beforeCopy, before)
		tx.staged = append(tx.staged, stagedWrite{pageID: pageID, before: beforeCopy})
	}

	return lsn, nil
}

// Commit makes the transaction's writes durable and visible, then
// moves it to COMMITTED. It blocks until the WAL has synced up to the
// commit record's LSN, satisfying the durability half of the commit
// contract.
func (tx *Transaction) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if err := tx.requireActive(); err != nil {
		return err
	}

	if tx.w != nil {
		lsn, err := tx.w.Append(wal.EntryCommit, wal.EncodeTxnID(tx.ID))
		if err != nil {
			return ferrors.Wrap(err, "txn: writing COMMIT record")
		}
		if err := tx.w.SyncUpTo(lsn); err != nil {
			return ferrors.Wrap(err, "txn: syncing COMMIT record")
		}
	}

	tx.state = StateCommitted
	tx.mgr.unregister(tx)
	return nil
}

// Rollback undoes every staged page write in reverse order via undo,
// then moves the transaction to ROLLED_BACK. Calling Rollback on an
// already-finished transaction is a no-op, matching Close's auto-
// rollback of a transaction nobody explicitly finished.
func (tx *Transaction) Rollback(undo Undoer) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state != StateActive {
		return nil
	}

	for i := len(tx.staged) - 1; i >= 0; i-- {
		w := tx.staged[i]
		if undo != nil {
			if err := undo(w.pageID, w.before); err != nil {
				return ferrors.Wrap(err, "txn: undoing staged page write")
			}
		}
	}

	if tx.w != nil {
		if _, err := tx.w.Append(wal.EntryRollback, wal.EncodeTxnID(tx.ID)); err != nil {
			return ferrors.Wrap(err, "txn: writing ROLLBACK record")
		}
	}

	tx.state = StateRolledBack
	tx.mgr.unregister(tx)
	return nil
}

// Close finishes the transaction, rolling it back first if nobody
// called Commit or Rollback. Close is idempotent.
func (tx *Transaction) Close(undo Undoer) error {
	tx.mu.Lock()
	active := tx.state == StateActive
	tx.mu.Unlock()

	if active {
		if err := tx.Rollback(undo); err != nil {
			return err
		}
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.state = StateClosed
	return nil
}

func (tx *Transaction) State() State {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}
