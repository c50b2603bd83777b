package table

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flintdb/flint/pkg/ferrors"
	"github.com/flintdb/flint/pkg/query"
	"github.com/flintdb/flint/pkg/schema"
	"github.com/flintdb/flint/pkg/types"
	"github.com/flintdb/flint/pkg/variant"
)

func peopleSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.New("people",
		[]schema.Column{
			{Name: "id", Type: types.TypeInt64},
			{Name: "name", Type: types.TypeString, Width: 50},
			{Name: "age", Type: types.TypeInt32},
		},
		[]schema.IndexDef{
			{Name: "pk", Columns: []string{"id"}, Primary: true, Unique: true},
			{Name: "by_age", Columns: []string{"age"}},
		},
		schema.DefaultOptions(),
	)
	if err != nil {
		t.Fatalf("schema.New: %v", err)
	}
	return s
}

func openTable(t *testing.T, dir string) *Table {
	t.Helper()
	s := peopleSchema(t)
	path := filepath.Join(dir, "people")
	tbl, err := Create(path, s, OpenOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { tbl.Close() })
	return tbl
}

func row(id int64, name string, age int32) []variant.Value {
	return []variant.Value{variant.NewInt64(id), variant.NewString(name), variant.NewInt32(age)}
}

func TestApplyReadDeleteAt(t *testing.T) {
	dir := t.TempDir()
	tbl := openTable(t, dir)

	idA, err := tbl.Apply(row(1, "alice", 30))
	if err != nil {
		t.Fatalf("Apply alice: %v", err)
	}
	idB, err := tbl.Apply(row(2, "bob", 40))
	if err != nil {
		t.Fatalf("Apply bob: %v", err)
	}
	idC, err := tbl.Apply(row(3, "carol", 25))
	if err != nil {
		t.Fatalf("Apply carol: %v", err)
	}

	if got := tbl.Rows(); got != 3 {
		t.Fatalf("Rows() = %d, want 3", got)
	}

	got, err := tbl.Read(idA)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !got[1].Equal(variant.NewString("alice")) {
		t.Fatalf("Read returned %+v, want alice", got)
	}

	q, err := query.Parse("age >= 30", tbl.schema)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	rows, err := tbl.Find(q)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Find age>=30 returned %d rows, want 2", len(rows))
	}

	if err := tbl.ApplyAt(idB, row(2, "bobby", 41)); err != nil {
		t.Fatalf("ApplyAt: %v", err)
	}
	got, err = tbl.Read(idB)
	if err != nil {
		t.Fatalf("Read after ApplyAt: %v", err)
	}
	if !got[1].Equal(variant.NewString("bobby")) {
		t.Fatalf("Read after ApplyAt returned %+v, want bobby", got)
	}

	if err := tbl.DeleteAt(idC); err != nil {
		t.Fatalf("DeleteAt: %v", err)
	}
	if _, err := tbl.Read(idC); err == nil {
		t.Fatalf("Read after DeleteAt: expected error, got nil")
	}
	if got := tbl.Rows(); got != 2 {
		t.Fatalf("Rows() after delete = %d, want 2", got)
	}
}

func TestExplicitRollbackPreservesPriorState(t *testing.T) {
	dir := t.TempDir()
	tbl := openTable(t, dir)

	tx, err := tbl.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := tbl.applyWithTx(tx, row(1, "alice", 30)); err != nil {
		t.Fatalf("applyWithTx: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if got := tbl.Rows(); got != 0 {
		t.Fatalf("Rows() after rollback = %d, want 0", got)
	}

	tx, err = tbl.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	id, err := tbl.applyWithTx(tx, row(1, "alice", 30))
	if err != nil {
		t.Fatalf("applyWithTx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := tbl.Rows(); got != 1 {
		t.Fatalf("Rows() after commit = %d, want 1", got)
	}

	if err := tbl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(filepath.Join(dir, "people"), peopleSchema(t), OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()
	if got := reopened.Rows(); got != 1 {
		t.Fatalf("Rows() after reopen = %d, want 1", got)
	}
	if _, err := reopened.Read(id); err != nil {
		t.Fatalf("Read after reopen: %v", err)
	}
}

func TestApplyAtChangingPrimaryKey(t *testing.T) {
	dir := t.TempDir()
	tbl := openTable(t, dir)

	id, err := tbl.Apply(row(1, "alice", 30))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if err := tbl.ApplyAt(id, row(99, "alice", 30)); err != nil {
		t.Fatalf("ApplyAt changing pk: %v", err)
	}

	q, err := query.Parse("id = 99", tbl.schema)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	rows, err := tbl.Find(q)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Find id==99 returned %d rows, want 1", len(rows))
	}

	oldQ, err := query.Parse("id = 1", tbl.schema)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	rows, err = tbl.Find(oldQ)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("Find id==1 returned %d rows, want 0", len(rows))
	}
}

func TestFindUsesSecondaryIndex(t *testing.T) {
	dir := t.TempDir()
	tbl := openTable(t, dir)

	for i, p := range []struct {
		name string
		age  int32
	}{
		{"alice", 30}, {"bob", 40}, {"carol", 25},
	} {
		if _, err := tbl.Apply(row(int64(i+1), p.name, p.age)); err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}

	q, err := query.Parse("age = 40 USE INDEX(by_age)", tbl.schema)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	rows, err := tbl.Find(q)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(rows) != 1 || !rows[0][1].Equal(variant.NewString("bob")) {
		t.Fatalf("Find via secondary index returned %+v, want [bob]", rows)
	}
}

func TestAbandonedTransactionIsUndoneOnReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "people")
	s := peopleSchema(t)

	tbl, err := Create(path, s, OpenOptions{})
	require.NoError(t, err)
	for i := int64(1); i <= 200; i++ {
		_, err := tbl.Apply(row(i, "seed", 20))
		require.NoError(t, err)
	}
	require.NoError(t, tbl.Close())

	reopened, err := Open(path, s, OpenOptions{})
	require.NoError(t, err)
	tx, err := reopened.Begin()
	require.NoError(t, err)
	for i := int64(201); i <= 1000; i++ {
		_, err := tx.Apply(row(i, "uncommitted", 20))
		require.NoError(t, err)
	}
	// No Commit, no Rollback, no Close: simulates a crash mid-transaction.

	recovered, err := Open(path, s, OpenOptions{})
	require.NoError(t, err)
	defer recovered.Close()

	require.EqualValues(t, 200, recovered.Rows(), "all 800 uncommitted rows should be undone")

	q, err := query.Parse("id >= 201", s)
	require.NoError(t, err)
	rows, err := recovered.Find(q)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestCommittedBatchSurvivesReopenAfterLaterAbandonedTxn(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "people")
	s := peopleSchema(t)

	tbl, err := Create(path, s, OpenOptions{})
	require.NoError(t, err)

	tx, err := tbl.Begin()
	require.NoError(t, err)
	for i := int64(1); i <= 500; i++ {
		_, err := tx.Apply(row(i, "committed", 20))
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit())

	tx, err = tbl.Begin()
	require.NoError(t, err)
	_, err = tx.Apply(row(501, "abandoned", 20))
	require.NoError(t, err)
	// Abandon this second transaction without Commit/Rollback/Close.

	recovered, err := Open(path, s, OpenOptions{})
	require.NoError(t, err)
	defer recovered.Close()

	require.EqualValues(t, 500, recovered.Rows())
	_, err = recovered.Read(types.RowID(1))
	require.NoError(t, err)
	_, err = recovered.Read(types.RowID(501))
	require.Error(t, err)
}

func TestRowChainSpansMultiplePages(t *testing.T) {
	dir := t.TempDir()

	opts := schema.DefaultOptions()
	opts.PageSize = 128 // small enough that a wide row needs several pages
	s, err := schema.New("blobs",
		[]schema.Column{
			{Name: "id", Type: types.TypeInt64},
			{Name: "payload", Type: types.TypeString, Width: 1000},
		},
		[]schema.IndexDef{
			{Name: "pk", Columns: []string{"id"}, Primary: true, Unique: true},
		},
		opts,
	)
	if err != nil {
		t.Fatalf("schema.New: %v", err)
	}

	tbl, err := Create(filepath.Join(dir, "blobs"), s, OpenOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer tbl.Close()

	payload := make([]byte, 0, 1000)
	for i := 0; i < 1000; i++ {
		payload = append(payload, byte('a'+i%26))
	}
	id, err := tbl.Apply([]variant.Value{variant.NewInt64(1), variant.NewString(string(payload))})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	got, err := tbl.Read(id)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !got[1].Equal(variant.NewString(string(payload))) {
		t.Fatalf("Read returned a payload that doesn't round-trip across page boundaries")
	}
}

func TestVacuumReclaimsTombstonedChains(t *testing.T) {
	dir := t.TempDir()
	tbl := openTable(t, dir)

	id, err := tbl.Apply(row(1, "alice", 30))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := tbl.DeleteAt(id); err != nil {
		t.Fatalf("DeleteAt: %v", err)
	}

	reclaimed, err := tbl.Vacuum()
	if err != nil {
		t.Fatalf("Vacuum: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("Vacuum reclaimed %d chains, want 1", reclaimed)
	}
}

// TestConcurrentReadersDuringWriter streams inserts, updates and deletes
// from a single writer goroutine while several reader goroutines hammer
// Read and Find on the same table, matching spec §8 scenario S6. It
// exists to catch "concurrent map read and map write" panics in
// rowKey/rowHead, not just races under -race.
func TestConcurrentReadersDuringWriter(t *testing.T) {
	dir := t.TempDir()
	tbl := openTable(t, dir)

	const numRows = 200
	ids := make([]types.RowID, numRows)
	for i := 0; i < numRows; i++ {
		id, err := tbl.Apply(row(int64(i), fmt.Sprintf("person-%d", i), int32(i%90)))
		require.NoError(t, err)
		ids[i] = id
	}

	const numReaders = 8
	var wg sync.WaitGroup
	errs := make(chan error, numReaders+1)

	for r := 0; r < numReaders; r++ {
		wg.Add(1)
		go func(routineID int) {
			defer wg.Done()
			for i := 0; i < numRows; i++ {
				id := ids[(i+routineID)%numRows]
				if _, err := tbl.Read(id); err != nil {
					if _, isNotFound := err.(*ferrors.NotFoundError); !isNotFound {
						errs <- fmt.Errorf("routine %d: Read(%d): %w", routineID, id, err)
						return
					}
				}
				q, err := query.Parse("age >= 0", tbl.schema)
				if err != nil {
					errs <- fmt.Errorf("routine %d: Parse: %w", routineID, err)
					return
				}
				if _, err := tbl.Find(q); err != nil {
					errs <- fmt.Errorf("routine %d: Find: %w", routineID, err)
					return
				}
			}
		}(r)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < numRows; i++ {
			id := ids[i]
			switch i % 3 {
			case 0:
				if err := tbl.ApplyAt(id, row(int64(i), fmt.Sprintf("updated-%d", i), int32(i%90))); err != nil {
					errs <- fmt.Errorf("ApplyAt(%d): %w", id, err)
					return
				}
			case 1:
				if err := tbl.DeleteAt(id); err != nil {
					errs <- fmt.Errorf("DeleteAt(%d): %w", id, err)
					return
				}
			default:
				if _, err := tbl.Apply(row(int64(numRows+i), fmt.Sprintf("extra-%d", i), int32(i%90))); err != nil {
					errs <- fmt.Errorf("Apply: %w", err)
					return
				}
			}
		}
	}()

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
