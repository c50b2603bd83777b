package table

import (
	"encoding/binary"

	"github.com/flintdb/flint/pkg/btree"
	"github.com/flintdb/flint/pkg/bufferpool"
	"github.com/flintdb/flint/pkg/page"
	"github.com/flintdb/flint/pkg/schema"
	"github.com/flintdb/flint/pkg/types"
)

// freePageSet walks store's free list and returns the set of page ids
// it currently holds, so rebuildIndexes can skip them during its scan.
func freePageSet(store *page.Store, pool *bufferpool.Pool) (map[uint64]bool, error) {
	set := make(map[uint64]bool)
	id := store.FreeListHead()
	for id != page.NullPageID {
		if set[id] {
			break // a corrupt cyclic free list; stop rather than loop forever
		}
		set[id] = true
		data, err := pinRead(pool, id)
		if err != nil {
			return nil, err
		}
		id = binary.LittleEndian.Uint64(data[0:8])
	}
	return set, nil
}

// rebuildIndexes reconstructs the primary and every secondary in-memory
// B+Tree by scanning every page in store once recovery has brought the
// page store to a consistent state. pkg/btree's trees live entirely in
// memory (SPEC_FULL.md §12's redesign note), so nothing short of a full
// scan can recover them after a process restart; non-head and
// tombstoned pages are skipped, live head pages are decoded and
// reinserted exactly as apply would have left them.
func rebuildIndexes(store *page.Store, pool *bufferpool.Pool, s *schema.Schema, primary *btree.BPlusTree, secondary map[string]*btree.BPlusTree) (map[types.RowID]types.CompositeKey, map[types.RowID]uint64, int64, error) {
	free, err := freePageSet(store, pool)
	if err != nil {
		return nil, nil, 0, err
	}

	rowKey := make(map[types.RowID]types.CompositeKey)
	rowHead := make(map[types.RowID]uint64)
	var count int64

	last := store.NextPageID()
	for id := uint64(1); id < last; id++ {
		if free[id] {
			continue
		}
		data, err := pinRead(pool, id)
		if err != nil {
			return nil, nil, 0, err
		}
		if !isHeadPage(data) || isTombstoned(data) {
			continue
		}

		payload, err := readRowChain(pool, id)
		if err != nil {
			return nil, nil, 0, err
		}
		rowID, rowBytes := unwrapRowRecord(payload)
		row, err := decodeRow(s, rowBytes)
		if err != nil {
			return nil, nil, 0, err
		}

		primaryIdx := s.PrimaryIndex()
		key, err := indexKey(s, primaryIdx, row)
		if err != nil {
			return nil, nil, 0, err
		}
		if err := primary.Insert(key, rowBytes); err != nil {
			return nil, nil, 0, err
		}
		for _, idx := range s.Indexes {
			if idx.Primary {
				continue
			}
			sk, err := indexKey(s, idx, row)
			if err != nil {
				return nil, nil, 0, err
			}
			if err := secondary[idx.Name].Insert(sk, types.EncodeRowID(rowID)); err != nil {
				return nil, nil, 0, err
			}
		}

		rowKey[rowID] = key
		rowHead[rowID] = id
		count++
	}

	return rowKey, rowHead, count, nil
}
