// Package schema defines a table's column set, indexes, and storage
// options, and computes the fingerprint a reopened table checks its
// on-disk layout against (SPEC_FULL.md §3, §6). It is grounded on the
// teacher's pkg/storage.Table/Index/DataType shape, generalized from a
// single implicit primary key to an explicit, named index list.
package schema

import (
	"fmt"
	"hash/fnv"

	"github.com/flintdb/flint/pkg/ferrors"
	"github.com/flintdb/flint/pkg/types"
	"github.com/flintdb/flint/pkg/wal"
)

// Column is one field of a row: its name, storage type, and the
// constraints apply/apply_at validate against.
type Column struct {
	Name     string
	Type     types.ColumnType
	Width    int // max byte length for String, exact byte length for Bytes (0 = unchecked); ignored for fixed-width types
	Nullable bool
	Scale    uint8         // Decimal only
	Unit     types.TimeUnit // Date only
}

// IndexDef names an index over one or more columns. Exactly one IndexDef
// in a Schema must have Primary set; it backs the heap itself rather
// than a secondary lookup structure.
type IndexDef struct {
	Name      string
	Columns   []string
	Direction types.Direction
	Unique    bool
	Primary   bool
}

// Options carries the storage knobs fixed at table creation and checked
// (not re-negotiated) on every later open.
type Options struct {
	PageSize  uint32
	CacheSize int
	WalMode   wal.WalMode
	Compress  bool
	FormatTag uint32
}

// DefaultOptions matches what the teacher's engine.go hard-codes today,
// made explicit and overridable.
func DefaultOptions() Options {
	return Options{
		PageSize:  4096,
		CacheSize: 256,
		WalMode:   wal.ModeLog,
		Compress:  false,
		FormatTag: 1,
	}
}

// Schema is immutable after New succeeds: no method mutates Columns,
// Indexes, or Options in place. A table wanting a different schema
// opens a new one; there is no ALTER.
type Schema struct {
	Name    string
	Columns []Column
	Indexes []IndexDef

	Options Options
}

// New validates columns and indexes and returns a frozen Schema.
// Exactly one index must be Primary, every index's Columns must name
// columns declared in Columns, and names (column and index) must be
// unique within their namespace.
func New(name string, columns []Column, indexes []IndexDef, opts Options) (*Schema, error) {
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if seen[c.Name] {
			return nil, &ferrors.SchemaViolationError{Column: c.Name, Reason: "duplicate column name"}
		}
		seen[c.Name] = true
	}

	primaryCount := 0
	idxNames := make(map[string]bool, len(indexes))
	for _, idx := range indexes {
		if idxNames[idx.Name] {
			return nil, &ferrors.SchemaViolationError{Column: idx.Name, Reason: "duplicate index name"}
		}
		idxNames[idx.Name] = true

		if len(idx.Columns) == 0 {
			return nil, &ferrors.SchemaViolationError{Column: idx.Name, Reason: "index has no key columns"}
		}
		for _, col := range idx.Columns {
			if !seen[col] {
				return nil, &ferrors.SchemaViolationError{Column: idx.Name, Reason: fmt.Sprintf("index references unknown column %q", col)}
			}
		}
		if idx.Primary {
			primaryCount++
		}
	}

	if primaryCount == 0 {
		return nil, &ferrors.SchemaViolationError{Column: name, Reason: "no primary index defined"}
	}
	if primaryCount > 1 {
		return nil, &ferrors.SchemaViolationError{Column: name, Reason: fmt.Sprintf("%d primary indexes defined, want 1", primaryCount)}
	}

	colsCopy := make([]Column, len(columns))
	copy(colsCopy, columns)
	idxCopy := make([]IndexDef, len(indexes))
	copy(idxCopy, indexes)

	return &Schema{Name: name, Columns: colsCopy, Indexes: idxCopy, Options: opts}, nil
}

// ColumnByName returns the column and its ordinal position, or false if
// no column has that name.
func (s *Schema) ColumnByName(name string) (Column, int, bool) {
	for i, c := range s.Columns {
		if c.Name == name {
			return c, i, true
		}
	}
	return Column{}, 0, false
}

// IndexByName returns the named index definition, or false.
func (s *Schema) IndexByName(name string) (IndexDef, bool) {
	for _, idx := range s.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexDef{}, false
}

// PrimaryIndex returns the schema's single primary index.
func (s *Schema) PrimaryIndex() IndexDef {
	for _, idx := range s.Indexes {
		if idx.Primary {
			return idx
		}
	}
	panic("schema: New guarantees exactly one primary index")
}

// Fingerprint hashes the ordered (name, type, width, nullable, scale,
// unit) column tuples concatenated with the ordered (name, key columns,
// direction, unique, primary) index tuples (SPEC_FULL.md §6). FNV-1a is used rather than a
// cryptographic hash because the fingerprint only needs to distinguish
// accidental layout drift on reopen, not resist adversarial collision.
func (s *Schema) Fingerprint() uint64 {
	h := fnv.New64a()
	for _, c := range s.Columns {
		fmt.Fprintf(h, "col:%s:%d:%d:%t:%d:%d|", c.Name, c.Type, c.Width, c.Nullable, c.Scale, c.Unit)
	}
	for _, idx := range s.Indexes {
		fmt.Fprintf(h, "idx:%s:%v:%d:%t:%t|", idx.Name, idx.Columns, idx.Direction, idx.Unique, idx.Primary)
	}
	return h.Sum64()
}

// CheckFingerprint compares the schema's fingerprint against an
// on-disk value read at open, returning a SchemaMismatchError on
// divergence.
func (s *Schema) CheckFingerprint(path string, onDisk uint64) error {
	want := s.Fingerprint()
	if want != onDisk {
		return &ferrors.SchemaMismatchError{Path: path, Expected: want, Actual: onDisk}
	}
	return nil
}
