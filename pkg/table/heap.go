package table

import (
	"encoding/binary"

	"github.com/flintdb/flint/pkg/bufferpool"
	"github.com/flintdb/flint/pkg/ferrors"
	"github.com/flintdb/flint/pkg/page"
	"github.com/flintdb/flint/pkg/txn"
)

// Row bytes live in a chain of fixed-size pages rather than the
// teacher's append-only heap.HeapManager segments, since the engine
// already has a page-addressed store (pkg/page) for structural
// mutations; reusing it for row data keeps crash recovery to a single
// mechanism (WAL-logged PAGE_WRITE redo/undo) instead of two.
//
// Page layout: [recLen uint32][nextPageID uint64][flags byte][payload...].
// recLen is only meaningful on a chain's head page. flags bit 0 marks a
// tombstoned row (delete_at marks a row dead in place instead of
// freeing its pages immediately; reclaiming it is Vacuum's job,
// SPEC_FULL.md §13); bit 1 marks a head page, needed so Open's
// page-scan rebuild (pkg/table/recover.go) can tell a chain's head from
// its continuation pages without recLen==0 being ambiguous with a
// genuinely zero-length row.
const rowPageHeaderSize = 13

const (
	flagTombstone byte = 1 << 0
	flagHead      byte = 1 << 1
)

func isTombstoned(head []byte) bool { return head[12]&flagTombstone != 0 }
func isHeadPage(pg []byte) bool     { return pg[12]&flagHead != 0 }

// writeRowChain stores data across as many pages as needed and returns
// the head page id. Every page is logged via tx so a rollback restores
// the store to its state before the write.
func writeRowChain(store *page.Store, pool *bufferpool.Pool, tx *txn.Transaction, data []byte) (uint64, error) {
	pageSize := int(store.PageSize())
	usable := pageSize - rowPageHeaderSize
	if usable <= 0 {
		return 0, &ferrors.CorruptRecordError{Reason: "page size too small to hold a row header"}
	}

	chunks := chunk(data, usable)
	frames := make([]*bufferpool.Frame, len(chunks))
	for i := range chunks {
		f, err := pool.AllocAndPin()
		if err != nil {
			for j := 0; j < i; j++ {
				pool.Unpin(frames[j].PageID, false, 0)
			}
			return 0, err
		}
		frames[i] = f
	}

	for i, c := range chunks {
		before := append([]byte(nil), frames[i].Data...)
		after := make([]byte, pageSize)
		if i == 0 {
			binary.LittleEndian.PutUint32(after[0:4], uint32(len(data)))
			after[12] |= flagHead
		}
		next := page.NullPageID
		if i+1 < len(frames) {
			next = frames[i+1].PageID
		}
		binary.LittleEndian.PutUint64(after[4:12], next)
		copy(after[rowPageHeaderSize:], c)

		lsn, err := tx.StagePageWrite(frames[i].PageID, before, after)
		if err != nil {
			return 0, err
		}
		frames[i].Data = after
		pool.Unpin(frames[i].PageID, true, lsn)
	}

	return frames[0].PageID, nil
}

func chunk(data []byte, size int) [][]byte {
	if len(data) == 0 {
		return [][]byte{{}}
	}
	var out [][]byte
	for off := 0; off < len(data); off += size {
		end := off + size
		if end > len(data) {
			end = len(data)
		}
		out = append(out, data[off:end])
	}
	return out
}

// pinRead returns a copy of pageID's current bytes, whether they live
// only in a dirty, unflushed frame or have to be loaded from the store.
// Reads that go straight to store.ReadPage instead of through the pool
// can observe a stale, all-zero page for anything written since the
// table was opened (writeRowChain/tombstoneHead only ever update the
// frame; nothing flushes it to disk until eviction or Close).
func pinRead(pool *bufferpool.Pool, pageID uint64) ([]byte, error) {
	f, err := pool.Pin(pageID)
	if err != nil {
		return nil, err
	}
	f.RLock()
	data := append([]byte(nil), f.Data...)
	f.RUnlock()
	pool.Unpin(pageID, false, 0)
	return data, nil
}

// readRowChain reconstructs a row's bytes from its head page, skipping
// the tombstone check — callers that must respect deletion check
// isTombstoned on the head page themselves.
func readRowChain(pool *bufferpool.Pool, head uint64) ([]byte, error) {
	data, err := pinRead(pool, head)
	if err != nil {
		return nil, err
	}
	recLen := binary.LittleEndian.Uint32(data[0:4])
	next := binary.LittleEndian.Uint64(data[4:12])

	out := make([]byte, 0, recLen)
	out = append(out, data[rowPageHeaderSize:]...)
	for next != page.NullPageID && uint32(len(out)) < recLen {
		pg, err := pinRead(pool, next)
		if err != nil {
			return nil, err
		}
		next = binary.LittleEndian.Uint64(pg[4:12])
		out = append(out, pg[rowPageHeaderSize:]...)
	}
	if uint32(len(out)) < recLen {
		return nil, &ferrors.CorruptRecordError{PageID: head, Reason: "row chain shorter than declared length"}
	}
	return out[:recLen], nil
}

// tombstoneHead marks a row's head page dead in place, logged via tx
// so it survives crash recovery and rolls back like any other write.
func tombstoneHead(store *page.Store, pool *bufferpool.Pool, tx *txn.Transaction, head uint64) error {
	f, err := pool.Pin(head)
	if err != nil {
		return err
	}
	before := append([]byte(nil), f.Data...)
	after := append([]byte(nil), f.Data...)
	after[12] |= flagTombstone
	lsn, err := tx.StagePageWrite(head, before, after)
	if err != nil {
		pool.Unpin(head, false, 0)
		return err
	}
	f.Data = after
	pool.Unpin(head, true, lsn)
	return nil
}

// freeRowChain returns every page in a tombstoned row's chain to the
// store's free list. It is only ever called by Vacuum, outside any
// transaction: reclaiming space is not itself crash-atomic with the
// tombstone (a crash mid-Vacuum just leaves the chain tombstoned but
// unreclaimed, to be swept again next time).
func freeRowChain(store *page.Store, pool *bufferpool.Pool, head uint64) error {
	id := head
	for id != page.NullPageID {
		data, err := pinRead(pool, id)
		if err != nil {
			return err
		}
		next := binary.LittleEndian.Uint64(data[4:12])
		if err := store.FreePage(id); err != nil {
			return err
		}
		id = next
	}
	return nil
}
