// Package table implements the table façade: primary and secondary
// index orchestration, rowid allocation, and the apply/read/delete
// operations a caller actually uses (spec §4.5, §5). It is the one
// package that knows how pkg/page, pkg/bufferpool, pkg/wal, pkg/txn,
// and pkg/btree fit together; none of those packages know about each
// other directly.
package table

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/flintdb/flint/pkg/btree"
	"github.com/flintdb/flint/pkg/bufferpool"
	"github.com/flintdb/flint/pkg/ferrors"
	"github.com/flintdb/flint/pkg/metrics"
	"github.com/flintdb/flint/pkg/page"
	"github.com/flintdb/flint/pkg/query"
	"github.com/flintdb/flint/pkg/schema"
	"github.com/flintdb/flint/pkg/txn"
	"github.com/flintdb/flint/pkg/types"
	"github.com/flintdb/flint/pkg/variant"
	"github.com/flintdb/flint/pkg/wal"
)

// btreeFanout matches the teacher's default node fanout, chosen to
// keep internal nodes a
// handful of cache lines wide rather than tuned against a real page
// size, since nodes are in-memory here rather than page-serialized.
const btreeFanout = 64

// OpenOptions configures Create and Open, replacing the teacher's
// scattered constructors (NewHeapManager, wal.DefaultOptions,
// NewCheckpointManager) with one explicit object (SPEC_FULL.md §10.3).
type OpenOptions struct {
	// Logger receives structural events (recovery stats, vacuum runs,
	// poisoning). Defaults to zerolog.Nop() when unset.
	Logger zerolog.Logger
	WalOptions wal.Options
}

// Table is one open table: its schema, its durable storage (page store
// plus WAL), and the in-memory indexes rebuilt from it.
type Table struct {
	mu sync.Mutex // the single-writer spinlock (spec §5)

	path        string
	instanceID  string
	schema      *schema.Schema
	store       *page.Store
	pool        *bufferpool.Pool
	w           *wal.WALWriter
	txnMgr      *txn.Manager
	primary     *btree.BPlusTree
	secondary   map[string]*btree.BPlusTree
	rowMu       sync.RWMutex // guards rowKey/rowHead against readers racing the writer (spec §5, §8 S6)
	rowKey      map[types.RowID]types.CompositeKey
	rowHead     map[types.RowID]uint64
	nextRowID   uint64
	rowCount    int64
	log         zerolog.Logger
	metrics     *metrics.Metrics

	poisoned  atomic.Bool
	poisonErr atomic.Value // error
}

// Metrics returns the table's Prometheus registry, ready to be served
// or federated into a process-wide exporter.
func (t *Table) Metrics() *metrics.Metrics { return t.metrics }

// Txn is an explicit, caller-driven transaction scope. Only one can be
// open on a Table at a time: Begin holds the table's write spinlock
// until Commit or Rollback releases it.
type Txn struct {
	table   *Table
	tx      *txn.Transaction
	undoLog []func()
}

func companionPaths(path string) (walPath, descPath string) {
	return path + ".wal", path + ".desc"
}

func writeDescFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0644); err != nil {
		return &ferrors.IoError{Op: "write desc", Path: path, Err: err}
	}
	return nil
}

// Create makes a brand-new table at path under s, failing if files
// already exist there.
func Create(path string, s *schema.Schema, opts OpenOptions) (*Table, error) {
	store, err := page.Open(path, s.Options.PageSize)
	if err != nil {
		return nil, err
	}
	if store.SchemaFingerprint() != 0 || store.NextPageID() > 1 {
		store.Close()
		return nil, &ferrors.IoError{Op: "create", Path: path, Err: os.ErrExist}
	}
	if err := store.SetSchemaFingerprint(s.Fingerprint()); err != nil {
		return nil, err
	}

	walPath, descPath := companionPaths(path)
	walOpts := opts.WalOptions
	if walOpts.DirPath == "" {
		walOpts = wal.DefaultOptions()
	}
	walOpts.Compress = s.Options.Compress
	w, err := wal.NewWALWriter(walPath, walOpts, 0)
	if err != nil {
		return nil, err
	}
	if _, err := w.Append(wal.EntryFormatHeader, wal.EncodeFormatHeader(wal.FormatHeaderPayload{
		Mode:              s.Options.WalMode,
		SchemaFingerprint: s.Fingerprint(),
		PageSize:          s.Options.PageSize,
	})); err != nil {
		return nil, err
	}

	desc, err := s.WriteDesc()
	if err != nil {
		return nil, err
	}
	if err := writeDescFile(descPath, desc); err != nil {
		return nil, err
	}

	t := newTable(path, s, store, w, opts)
	t.log.Info().Str("path", path).Uint64("fingerprint", s.Fingerprint()).Msg("table created")
	return t, nil
}

// Open reopens an existing table at path, checking s's fingerprint
// against the one stamped on the store, replaying the WAL to bring the
// page store to a consistent state, then rebuilding every in-memory
// index via a full page scan.
func Open(path string, s *schema.Schema, opts OpenOptions) (*Table, error) {
	store, err := page.Open(path, s.Options.PageSize)
	if err != nil {
		return nil, err
	}
	if err := s.CheckFingerprint(path, store.SchemaFingerprint()); err != nil {
		return nil, err
	}

	walPath, _ := companionPaths(path)
	result, err := wal.Recover(walPath, store)
	if err != nil {
		return nil, err
	}

	walOpts := opts.WalOptions
	if walOpts.DirPath == "" {
		walOpts = wal.DefaultOptions()
	}
	walOpts.Compress = s.Options.Compress
	w, err := wal.NewWALWriter(walPath, walOpts, result.SafeLSN)
	if err != nil {
		return nil, err
	}

	t := newTable(path, s, store, w, opts)

	rowKey, rowHead, count, err := rebuildIndexes(store, t.pool, s, t.primary, t.secondary)
	if err != nil {
		return nil, err
	}

	t.rowKey = rowKey
	t.rowHead = rowHead
	t.rowCount = count
	t.nextRowID = maxRowID(rowKey) + 1

	t.log.Info().Str("path", path).
		Int("redo", result.RedoApplied).Int("undo", result.UndoApplied).
		Int64("rows", count).Msg("table opened")
	return t, nil
}

// lookupRow returns id's current index key and head page under a read
// lock; Read/Find never take the writer's spinlock (spec §5), so the
// maps need their own lock against a writer mutating them concurrently.
func (t *Table) lookupRow(id types.RowID) (types.CompositeKey, uint64, bool) {
	t.rowMu.RLock()
	defer t.rowMu.RUnlock()
	key, ok := t.rowKey[id]
	if !ok {
		return nil, 0, false
	}
	return key, t.rowHead[id], true
}

func (t *Table) setRow(id types.RowID, key types.CompositeKey, head uint64) {
	t.rowMu.Lock()
	t.rowKey[id] = key
	t.rowHead[id] = head
	t.rowMu.Unlock()
}

func (t *Table) deleteRow(id types.RowID) {
	t.rowMu.Lock()
	delete(t.rowKey, id)
	delete(t.rowHead, id)
	t.rowMu.Unlock()
}

func maxRowID(m map[types.RowID]types.CompositeKey) uint64 {
	var max uint64
	for id := range m {
		if uint64(id) > max {
			max = uint64(id)
		}
	}
	return max
}

func newTable(path string, s *schema.Schema, store *page.Store, w *wal.WALWriter, opts OpenOptions) *Table {
	logger := opts.Logger
	t := &Table{
		path:       path,
		instanceID: uuid.NewString(),
		schema:     s,
		store:      store,
		w:          w,
		txnMgr:     txn.NewManager(),
		secondary:  make(map[string]*btree.BPlusTree),
		rowKey:     make(map[types.RowID]types.CompositeKey),
		rowHead:    make(map[types.RowID]uint64),
	}
	t.log = logger.With().Str("table", filepath.Base(path)).Str("instance", t.instanceID).Logger()
	t.metrics = metrics.New(filepath.Base(path))
	t.pool = bufferpool.New(store, w, s.Options.CacheSize)

	primary := btree.NewUniqueTree(btreeFanout, s.PrimaryIndex().Name, s.PrimaryIndex().Direction)
	t.primary = primary
	for _, idx := range s.Indexes {
		if idx.Primary {
			continue
		}
		if idx.Unique {
			t.secondary[idx.Name] = btree.NewUniqueTree(btreeFanout, idx.Name, idx.Direction)
		} else {
			t.secondary[idx.Name] = btree.NewTree(btreeFanout, idx.Name, idx.Direction)
		}
	}
	return t
}

// Close flushes dirty pages, fsyncs, and closes the WAL and store.
func (t *Table) Close() error {
	if err := t.pool.FlushAll(); err != nil {
		return err
	}
	if err := t.store.Sync(); err != nil {
		return err
	}
	if err := t.w.Close(); err != nil {
		return err
	}
	return t.store.Close()
}

func (t *Table) checkPoisoned() error {
	if t.poisoned.Load() {
		if err, ok := t.poisonErr.Load().(error); ok {
			return err
		}
	}
	return nil
}

func (t *Table) poison(err error) error {
	if ferrors.Poisons(err) {
		t.poisoned.Store(true)
		t.poisonErr.Store(err)
		t.metrics.Poisoned.Set(1)
		t.log.Error().Err(err).Msg("table poisoned")
		reportPoisoning(err)
	}
	return err
}

// Rows reports the live row count. Readers don't take the write
// spinlock (spec §5), so this is a plain atomic read.
func (t *Table) Rows() int64 { return atomic.LoadInt64(&t.rowCount) }

// Begin starts an explicit transaction and holds the table's write
// spinlock until Commit or Rollback. Only one explicit transaction may
// be open on a table at a time, matching the single-writer contract.
func (t *Table) Begin() (*Txn, error) {
	if err := t.checkPoisoned(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	tx, err := t.txnMgr.Begin(t.w)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	return &Txn{table: t, tx: tx}, nil
}

func (t *Table) undoPage(pageID uint64, before []byte) error {
	f, err := t.pool.Pin(pageID)
	if err != nil {
		return err
	}
	f.Data = before
	t.pool.Unpin(pageID, true, 0)
	return nil
}

// Commit finalizes the transaction's writes and releases the table's
// write spinlock.
func (tx *Txn) Commit() error {
	defer tx.table.mu.Unlock()
	return tx.tx.Commit()
}

// Rollback undoes every staged page write and every in-memory index
// mutation this transaction made (the B+Tree lives entirely in memory,
// so page-level undo alone cannot restore it), then releases the
// table's write spinlock.
func (tx *Txn) Rollback() error {
	defer tx.table.mu.Unlock()
	for i := len(tx.undoLog) - 1; i >= 0; i-- {
		tx.undoLog[i]()
	}
	return tx.tx.Rollback(tx.table.undoPage)
}

// runInTxn wraps fn in its own implicit begin/commit, rolling back if
// fn fails. Callers holding an explicit Txn use its methods (Txn.Apply
// and friends) instead, which run inside that Txn's scope.
func (t *Table) runInTxn(fn func(tx *Txn) error) error {
	if err := t.checkPoisoned(); err != nil {
		return err
	}
	tx, err := t.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return t.poison(rerr)
		}
		return t.poison(err)
	}
	if err := tx.Commit(); err != nil {
		return t.poison(err)
	}
	return nil
}

// Apply validates row against the schema, assigns it a fresh rowid,
// writes its row chain, and inserts it into the primary and every
// secondary index (spec §4.5 "apply").
func (t *Table) Apply(row []variant.Value) (types.RowID, error) {
	start := time.Now()
	var id types.RowID
	err := t.runInTxn(func(tx *Txn) error {
		var applyErr error
		id, applyErr = t.applyWithTx(tx, row)
		return applyErr
	})
	t.recordOp("apply", start, err)
	return id, err
}

// recordOp logs one operation's outcome to the table's metrics and
// refreshes the row-count and buffer-pool-size gauges, which change on
// nearly every write.
func (t *Table) recordOp(op string, start time.Time, err error) {
	t.metrics.Observe(op, start, err)
	t.metrics.Rows.Set(float64(t.Rows()))
	t.metrics.BufferPoolFrames.Set(float64(t.pool.Len()))
}

// Apply runs inside tx's already-open scope instead of starting an
// implicit transaction of its own, letting a caller batch several
// writes under one explicit Begin/Commit (or Rollback).
func (tx *Txn) Apply(row []variant.Value) (types.RowID, error) {
	return tx.table.applyWithTx(tx, row)
}

// ApplyAt runs inside tx's already-open scope. See Txn.Apply.
func (tx *Txn) ApplyAt(id types.RowID, row []variant.Value) error {
	return tx.table.applyAtWithTx(tx, id, row)
}

// DeleteAt runs inside tx's already-open scope. See Txn.Apply.
func (tx *Txn) DeleteAt(id types.RowID) error {
	return tx.table.deleteAtWithTx(tx, id)
}

func (t *Table) applyWithTx(tx *Txn, row []variant.Value) (types.RowID, error) {
	if err := t.schema.ValidateRow(row); err != nil {
		return 0, err
	}

	id := types.RowID(atomic.AddUint64(&t.nextRowID, 1))
	rowBytes := encodeRow(t.schema, row)

	primaryIdx := t.schema.PrimaryIndex()
	key, err := indexKey(t.schema, primaryIdx, row)
	if err != nil {
		return 0, err
	}

	head, err := writeRowChain(t.store, t.pool, tx.tx, wrapRowRecord(id, rowBytes))
	if err != nil {
		return 0, err
	}

	if err := t.primary.Insert(key, rowBytes); err != nil {
		return 0, err
	}
	tx.undoLog = append(tx.undoLog, func() { t.primary.Delete(key, nil) })

	for _, idx := range t.schema.Indexes {
		if idx.Primary {
			continue
		}
		sk, err := indexKey(t.schema, idx, row)
		if err != nil {
			return 0, err
		}
		tree := t.secondary[idx.Name]
		if err := tree.Insert(sk, types.EncodeRowID(id)); err != nil {
			return 0, err
		}
		tx.undoLog = append(tx.undoLog, func() { tree.Delete(sk, matchRowID(id)) })
	}

	t.setRow(id, key, head)
	atomic.AddInt64(&t.rowCount, 1)

	tx.undoLog = append(tx.undoLog, func() {
		t.deleteRow(id)
		atomic.AddInt64(&t.rowCount, -1)
	})

	return id, nil
}

func sinceKey(s *schema.Schema, idx schema.IndexDef, row []variant.Value) types.CompositeKey {
	k, err := indexKey(s, idx, row)
	if err != nil {
		panic(err) // row already validated and keyed once; re-deriving cannot fail
	}
	return k
}

func matchRowID(id types.RowID) func([]byte) bool {
	return func(v []byte) bool { return types.DecodeRowID(v) == id }
}

// ApplyAt re-encodes row under id, per spec §4.5: if any indexed field
// changed, old secondary entries are removed and new ones inserted; the
// primary payload is rewritten.
func (t *Table) ApplyAt(id types.RowID, row []variant.Value) error {
	start := time.Now()
	err := t.runInTxn(func(tx *Txn) error { return t.applyAtWithTx(tx, id, row) })
	t.recordOp("apply_at", start, err)
	return err
}

func (t *Table) applyAtWithTx(tx *Txn, id types.RowID, row []variant.Value) error {
	oldKey, oldHead, ok := t.lookupRow(id)
	if !ok {
		return &ferrors.NotFoundError{What: "rowid", Key: fmt.Sprint(id)}
	}
	if err := t.schema.ValidateRow(row); err != nil {
		return err
	}

	oldPayload, err := readRowChain(t.pool, oldHead)
	if err != nil {
		return err
	}
	_, oldRowBytes := unwrapRowRecord(oldPayload)
	oldRow, err := decodeRow(t.schema, oldRowBytes)
	if err != nil {
		return err
	}

	newRowBytes := encodeRow(t.schema, row)
	primaryIdx := t.schema.PrimaryIndex()
	newKey, err := indexKey(t.schema, primaryIdx, row)
	if err != nil {
		return err
	}

	newHead, err := writeRowChain(t.store, t.pool, tx.tx, wrapRowRecord(id, newRowBytes))
	if err != nil {
		return err
	}
	if err := tombstoneHead(t.store, t.pool, tx.tx, oldHead); err != nil {
		return err
	}

	if !keysEqual(oldKey, newKey) {
		t.primary.Delete(oldKey, nil)
		if err := t.primary.Insert(newKey, newRowBytes); err != nil {
			return err
		}
	} else {
		if err := t.primary.Upsert(newKey, func([]byte, bool) ([]byte, error) { return newRowBytes, nil }); err != nil {
			return err
		}
	}

	for _, idx := range t.schema.Indexes {
		if idx.Primary {
			continue
		}
		oldSK, err := indexKey(t.schema, idx, oldRow)
		if err != nil {
			return err
		}
		newSK, err := indexKey(t.schema, idx, row)
		if err != nil {
			return err
		}
		if keysEqual(oldSK, newSK) {
			continue
		}
		t.secondary[idx.Name].Delete(oldSK, matchRowID(id))
		if err := t.secondary[idx.Name].Insert(newSK, types.EncodeRowID(id)); err != nil {
			return err
		}
	}

	t.setRow(id, newKey, newHead)

	tx.undoLog = append(tx.undoLog, func() {
		t.primary.Delete(newKey, nil)
		t.primary.Insert(oldKey, oldRowBytes)
		for _, idx := range t.schema.Indexes {
			if idx.Primary {
				continue
			}
			oldSK, _ := indexKey(t.schema, idx, oldRow)
			newSK, _ := indexKey(t.schema, idx, row)
			if keysEqual(oldSK, newSK) {
				continue
			}
			t.secondary[idx.Name].Delete(newSK, matchRowID(id))
			t.secondary[idx.Name].Insert(oldSK, types.EncodeRowID(id))
		}
		t.setRow(id, oldKey, oldHead)
	})

	return nil
}

func keysEqual(a, b types.CompositeKey) bool { return a.Compare(b) == 0 }

// DeleteAt removes id's entry from the primary and every secondary
// index and marks its row chain tombstoned, deferring physical page
// reclamation to Vacuum (spec §4.5 "delete_at").
func (t *Table) DeleteAt(id types.RowID) error {
	start := time.Now()
	err := t.runInTxn(func(tx *Txn) error { return t.deleteAtWithTx(tx, id) })
	t.recordOp("delete_at", start, err)
	return err
}

func (t *Table) deleteAtWithTx(tx *Txn, id types.RowID) error {
	key, head, ok := t.lookupRow(id)
	if !ok {
		return &ferrors.NotFoundError{What: "rowid", Key: fmt.Sprint(id)}
	}

	payload, err := readRowChain(t.pool, head)
	if err != nil {
		return err
	}
	_, rowBytes := unwrapRowRecord(payload)
	row, err := decodeRow(t.schema, rowBytes)
	if err != nil {
		return err
	}

	if err := tombstoneHead(t.store, t.pool, tx.tx, head); err != nil {
		return err
	}
	t.primary.Delete(key, nil)
	secondaryKeys := make(map[string]types.CompositeKey, len(t.schema.Indexes))
	for _, idx := range t.schema.Indexes {
		if idx.Primary {
			continue
		}
		sk, err := indexKey(t.schema, idx, row)
		if err != nil {
			return err
		}
		t.secondary[idx.Name].Delete(sk, matchRowID(id))
		secondaryKeys[idx.Name] = sk
	}

	t.deleteRow(id)
	atomic.AddInt64(&t.rowCount, -1)

	tx.undoLog = append(tx.undoLog, func() {
		t.primary.Insert(key, rowBytes)
		for name, sk := range secondaryKeys {
			t.secondary[name].Insert(sk, types.EncodeRowID(id))
		}
		t.setRow(id, key, head)
		atomic.AddInt64(&t.rowCount, 1)
	})

	return nil
}

// Read decodes the row currently stored under id (spec §4.5 "read").
func (t *Table) Read(id types.RowID) ([]variant.Value, error) {
	if err := t.checkPoisoned(); err != nil {
		return nil, err
	}
	t.rowMu.RLock()
	head, ok := t.rowHead[id]
	t.rowMu.RUnlock()
	if !ok {
		return nil, &ferrors.NotFoundError{What: "rowid", Key: fmt.Sprint(id)}
	}
	payload, err := readRowChain(t.pool, head)
	if err != nil {
		return nil, t.poison(err)
	}
	_, rowBytes := unwrapRowRecord(payload)
	row, err := decodeRow(t.schema, rowBytes)
	if err != nil {
		return nil, t.poison(err)
	}
	return row, nil
}

// Find evaluates q against the index it chooses, filtering
// non-matching rows inside the scan (spec §4.5 "find").
func (t *Table) Find(q *query.FindQuery) ([][]variant.Value, error) {
	start := time.Now()
	var err error
	defer func() { t.recordOp("find", start, err) }()

	if err = t.checkPoisoned(); err != nil {
		return nil, err
	}
	idx := q.ChooseIndex(t.schema)
	tree := t.primary
	if !idx.Primary {
		tree = t.secondary[idx.Name]
	}

	var rows [][]variant.Value
	walkLeaves(tree, func(_ types.Comparable, value []byte) bool {
		var row []variant.Value
		var err error
		if idx.Primary {
			row, err = decodeRow(t.schema, value)
		} else {
			row, err = t.Read(types.DecodeRowID(value))
			if _, isNotFound := err.(*ferrors.NotFoundError); isNotFound {
				return true // a concurrent delete raced the scan; skip it
			}
		}
		if err != nil {
			return true
		}
		if q.Matches(t.schema, row) {
			rows = append(rows, row)
		}
		return true
	})

	if q.Direction != idx.Direction {
		reverseRows(rows)
	}
	return applyLimitOffset(rows, q.Limit, q.Offset), nil
}

func reverseRows(rows [][]variant.Value) {
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
}

func applyLimitOffset(rows [][]variant.Value, limit, offset int) [][]variant.Value {
	if offset > 0 {
		if offset >= len(rows) {
			return nil
		}
		rows = rows[offset:]
	}
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

// walkLeaves visits every (key, value) pair of tree in leaf order,
// stopping early if visit returns false.
func walkLeaves(tree *btree.BPlusTree, visit func(key types.Comparable, value []byte) bool) {
	node, idx := tree.FindLeafLowerBound(nil)
	for node != nil {
		stop := false
		for i := idx; i < node.N; i++ {
			if !visit(node.Keys[i], node.Values[i]) {
				stop = true
				break
			}
		}
		next := node.Next
		node.RUnlock()
		if stop {
			return
		}
		node = next
		idx = 0
	}
}

// Vacuum reclaims pages belonging to tombstoned row chains, the only
// space-reclamation story left once there are no MVCC version chains
// for the teacher's compacting Vacuum to act on (SPEC_FULL.md §13). It
// takes the write spinlock for its duration, matching the teacher's
// exclusive-lock vacuum discipline.
func (t *Table) Vacuum() (int, error) {
	start := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	reclaimed, err := t.vacuumLocked()
	t.metrics.VacuumReclaimed.Add(float64(reclaimed))
	t.recordOp("vacuum", start, err)
	return reclaimed, err
}

func (t *Table) vacuumLocked() (int, error) {
	free, err := freePageSet(t.store, t.pool)
	if err != nil {
		return 0, err
	}
	reclaimed := 0
	last := t.store.NextPageID()
	for id := uint64(1); id < last; id++ {
		if free[id] {
			continue
		}
		data, err := pinRead(t.pool, id)
		if err != nil {
			return reclaimed, err
		}
		if !isHeadPage(data) || !isTombstoned(data) {
			continue
		}
		if err := freeRowChain(t.store, t.pool, id); err != nil {
			return reclaimed, err
		}
		reclaimed++
	}
	t.log.Info().Int("chains_reclaimed", reclaimed).Msg("vacuum complete")
	return reclaimed, nil
}
