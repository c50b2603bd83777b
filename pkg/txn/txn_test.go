package txn

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/flintdb/flint/pkg/ferrors"
	"github.com/flintdb/flint/pkg/page"
	"github.com/flintdb/flint/pkg/wal"
)

func openTestWAL(t *testing.T) *wal.WALWriter {
	t.Helper()
	w, err := wal.NewWALWriter(filepath.Join(t.TempDir(), "test.wal"), wal.Options{
		SyncPolicy: wal.SyncEveryWrite, BufferSize: 1024,
	}, 0)
	if err != nil {
		t.Fatalf("NewWALWriter: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func TestBeginWritesBeginRecord(t *testing.T) {
	mgr := NewManager()
	w := openTestWAL(t)

	tx, err := mgr.Begin(w)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if tx.State() != StateActive {
		t.Fatalf("state = %v, want ACTIVE", tx.State())
	}
	if mgr.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", mgr.ActiveCount())
	}
}

func TestCommitMovesToCommittedAndUnregisters(t *testing.T) {
	mgr := NewManager()
	w := openTestWAL(t)
	tx, err := mgr.Begin(w)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	if _, err := tx.StagePageWrite(1, make([]byte, 16), bytes.Repeat([]byte{1}, 16)); err != nil {
		t.Fatalf("StagePageWrite: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if tx.State() != StateCommitted {
		t.Fatalf("state = %v, want COMMITTED", tx.State())
	}
	if mgr.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0 after commit", mgr.ActiveCount())
	}
}

func TestRollbackUndoesStagedWritesInReverseOrder(t *testing.T) {
	mgr := NewManager()
	w := openTestWAL(t)
	tx, err := mgr.Begin(w)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	before1 := bytes.Repeat([]byte{0xAA}, 8)
	before2 := bytes.Repeat([]byte{0xBB}, 8)
	if _, err := tx.StagePageWrite(1, before1, bytes.Repeat([]byte{1}, 8)); err != nil {
		t.Fatalf("StagePageWrite 1: %v", err)
	}
	if _, err := tx.StagePageWrite(2, before2, bytes.Repeat([]byte{2}, 8)); err != nil {
		t.Fatalf("StagePageWrite 2: %v", err)
	}

	var undone []uint64
	undo := func(pageID uint64, before []byte) error {
		undone = append(undone, pageID)
		return nil
	}
	if err := tx.Rollback(undo); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	if len(undone) != 2 || undone[0] != 2 || undone[1] != 1 {
		t.Fatalf("undo order = %v, want [2 1]", undone)
	}
	if tx.State() != StateRolledBack {
		t.Fatalf("state = %v, want ROLLED_BACK", tx.State())
	}
}

func TestStagePageWriteOnlyCapturesFirstBeforeImagePerPage(t *testing.T) {
	mgr := NewManager()
	w := openTestWAL(t)
	tx, err := mgr.Begin(w)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	first := bytes.Repeat([]byte{0x01}, 4)
	if _, err := tx.StagePageWrite(5, first, bytes.Repeat([]byte{0x02}, 4)); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := tx.StagePageWrite(5, bytes.Repeat([]byte{0x02}, 4), bytes.Repeat([]byte{0x03}, 4)); err != nil {
		t.Fatalf("second write: %v", err)
	}

	var restored []byte
	undo := func(pageID uint64, before []byte) error {
		restored = before
		return nil
	}
	if err := tx.Rollback(undo); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if !bytes.Equal(restored, first) {
		t.Errorf("rollback restored %x, want the transaction's original before-image %x", restored, first)
	}
}

func TestCloseAutoRollsBackUnfinishedTransaction(t *testing.T) {
	mgr := NewManager()
	w := openTestWAL(t)
	tx, err := mgr.Begin(w)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := tx.StagePageWrite(1, make([]byte, 8), bytes.Repeat([]byte{1}, 8)); err != nil {
		t.Fatalf("StagePageWrite: %v", err)
	}

	undoCalled := false
	if err := tx.Close(func(pageID uint64, before []byte) error {
		undoCalled = true
		return nil
	}); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !undoCalled {
		t.Error("expected Close to roll back and undo the staged write")
	}
	if tx.State() != StateClosed {
		t.Fatalf("state = %v, want CLOSED", tx.State())
	}
}

func TestWriteAfterCloseFailsWithUseAfterEnd(t *testing.T) {
	mgr := NewManager()
	w := openTestWAL(t)
	tx, err := mgr.Begin(w)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.Close(nil); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, err = tx.StagePageWrite(1, nil, nil)
	var useAfterEnd *ferrors.UseAfterEndError
	if !asUseAfterEnd(err, &useAfterEnd) {
		t.Fatalf("expected *ferrors.UseAfterEndError, got %T: %v", err, err)
	}
}

func asUseAfterEnd(err error, target **ferrors.UseAfterEndError) bool {
	u, ok := err.(*ferrors.UseAfterEndError)
	if ok {
		*target = u
	}
	return ok
}

func TestCommitTwiceFails(t *testing.T) {
	mgr := NewManager()
	w := openTestWAL(t)
	tx, err := mgr.Begin(w)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := tx.Commit(); err == nil {
		t.Fatal("expected second commit to fail")
	}
}

func TestBeginAssignsMonotonicTransactionIDs(t *testing.T) {
	mgr := NewManager()
	w := openTestWAL(t)

	tx1, err := mgr.Begin(w)
	if err != nil {
		t.Fatalf("Begin 1: %v", err)
	}
	tx2, err := mgr.Begin(w)
	if err != nil {
		t.Fatalf("Begin 2: %v", err)
	}
	if tx2.ID <= tx1.ID {
		t.Fatalf("tx2.ID (%d) did not increase past tx1.ID (%d)", tx2.ID, tx1.ID)
	}
}

func TestRecoveryIntegration(t *testing.T) {
	// A full-page write staged against a real page store, with WAL
	// logging enabled, stages and commits without error.
	mgr := NewManager()
	w := openTestWAL(t)
	tx, err := mgr.Begin(w)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	store, err := page.Open(filepath.Join(t.TempDir(), "data"), 64)
	if err != nil {
		t.Fatalf("page.Open: %v", err)
	}
	defer store.Close()
	id, err := store.AllocPage()
	if err != nil {
		t.Fatalf("AllocPage: %v", err)
	}

	after := bytes.Repeat([]byte{0x7F}, int(store.PageSize()))
	if _, err := tx.StagePageWrite(id, make([]byte, store.PageSize()), after); err != nil {
		t.Fatalf("StagePageWrite: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}
