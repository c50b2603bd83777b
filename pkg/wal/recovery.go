package wal

import (
	"io"

	"github.com/flintdb/flint/pkg/ferrors"
	"github.com/flintdb/flint/pkg/page"
)

// RecoveryResult summarizes what a Recover pass found, useful for
// callers that want to log or surface recovery statistics.
type RecoveryResult struct {
	SafeLSN          uint64
	RedoApplied      int
	UndoApplied      int
	CommittedTxns    int
	RolledBackTxns   int
	TailWasTruncated bool
}

type pendingTxn struct {
	writes    []PageWritePayload
	committed bool
	rolledBk  bool
}

// Recover replays path's WAL against store per spec §4.6: scan forward
// verifying CRCs, partition records into committed and uncommitted
// transactions, redo every committed PAGE_WRITE's after-image, undo
// every uncommitted PAGE_WRITE's before-image in reverse LSN order, and
// report the safe LSN to checkpoint from. A corrupt or truncated tail
// ends the scan without error — that is exactly what a crash mid-append
// looks like, and everything read before it is a valid prefix.
func Recover(path string, store *page.Store) (RecoveryResult, error) {
	reader, err := NewWALReader(path)
	if err != nil {
		return RecoveryResult{}, err
	}
	defer reader.Close()

	txns := make(map[uint64]*pendingTxn)
	var order []uint64 // transaction ids in the order first seen in the log
	var safeLSN uint64
	var result RecoveryResult

	for {
		entry, err := reader.ReadEntry()
		if err == io.EOF {
			break
		}
		if err != nil {
			if _, ok := err.(*ferrors.WalCorruptError); ok || err == io.ErrUnexpectedEOF {
				result.TailWasTruncated = true
				break
			}
			return RecoveryResult{}, err
		}

		switch entry.Header.EntryType {
		case EntryFormatHeader:
			// Validated by the caller before recovery starts; nothing to
			// do here beyond skipping it.
		case EntryBegin:
			txnID := DecodeTxnID(entry.Payload)
			if txns[txnID] == nil {
				order = append(order, txnID)
			}
			txns[txnID] = &pendingTxn{}
		case EntryPageWrite:
			pw, derr := DecodePageWrite(entry.Payload)
			if derr != nil {
				result.TailWasTruncated = true
				ReleaseEntry(entry)
				goto doneScanning
			}
			t := txns[pw.TxnID]
			if t == nil {
				t = &pendingTxn{}
				txns[pw.TxnID] = t
				order = append(order, pw.TxnID)
			}
			t.writes = append(t.writes, pw)
		case EntryAllocPage, EntryFreePage:
			// Structural bookkeeping only; the header page's own mutation
			// is itself covered by a PAGE_WRITE, so no redo action here.
		case EntryCommit:
			txnID := DecodeTxnID(entry.Payload)
			if t := txns[txnID]; t != nil {
				t.committed = true
			}
		case EntryRollback:
			txnID := DecodeTxnID(entry.Payload)
			if t := txns[txnID]; t != nil {
				t.rolledBk = true
			}
		case EntryCheckpoint:
			safeLSN = DecodeCheckpoint(entry.Payload)
		}
		ReleaseEntry(entry)
	}
doneScanning:

	// Redo: committed transactions' after-images, in the order logged.
	for _, id := range order {
		t := txns[id]
		if !t.committed {
			continue
		}
		result.CommittedTxns++
		for _, pw := range t.writes {
			if err := store.WritePage(pw.PageID, pw.After); err != nil {
				return RecoveryResult{}, err
			}
			result.RedoApplied++
		}
	}

	// Undo: uncommitted, not-already-rolled-back transactions' before
	// images, in reverse order.
	for j := len(order) - 1; j >= 0; j-- {
		t := txns[order[j]]
		if t.committed || t.rolledBk {
			continue
		}
		result.RolledBackTxns++
		for i := len(t.writes) - 1; i >= 0; i-- {
			pw := t.writes[i]
			if err := store.WritePage(pw.PageID, pw.Before); err != nil {
				return RecoveryResult{}, err
			}
			result.UndoApplied++
		}
	}

	result.SafeLSN = safeLSN
	return result, nil
}
