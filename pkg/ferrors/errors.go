// Package ferrors defines the error taxonomy shared by every layer of the
// storage engine. Each kind is a concrete exported type rather than a
// sentinel value, so callers can type-switch or errors.As into the kind
// they care about while still getting cockroachdb/errors' stack traces
// through Wrap.
package ferrors

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// SchemaViolationError is returned when a row fails a NOT-NULL, type-width,
// or string-byte-budget check during validation.
type SchemaViolationError struct {
	Column string
	Reason string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("schema violation on column %q: %s", e.Column, e.Reason)
}

// SchemaMismatchError is returned when an opened table's on-disk schema
// fingerprint does not match the fingerprint the caller supplied.
type SchemaMismatchError struct {
	Path     string
	Expected uint64
	Actual   uint64
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch opening %q: on-disk fingerprint %x, caller fingerprint %x", e.Path, e.Actual, e.Expected)
}

// DuplicateKeyError is returned when an insert into a unique index
// collides with an existing key.
type DuplicateKeyError struct {
	Index string
	Key   string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key violation: key %q already exists in unique index %q", e.Key, e.Index)
}

// NotFoundError is returned when a key or rowid lookup finds nothing.
type NotFoundError struct {
	What string // "rowid", "key", "table", "index"
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.What, e.Key)
}

// CorruptRecordError is returned when a page's bounds or length fields are
// inconsistent with the record it claims to hold. It is fatal for the
// table that raised it: the handle transitions to a poisoned state.
type CorruptRecordError struct {
	PageID uint64
	Reason string
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt record on page %d: %s", e.PageID, e.Reason)
}

// WalCorruptError is returned when the WAL cannot be safely replayed
// (a bad CRC inside a committed transaction's record range). It is fatal
// for the table that raised it.
type WalCorruptError struct {
	Offset int64
	Reason string
}

func (e *WalCorruptError) Error() string {
	return fmt.Sprintf("wal corrupt at offset %d: %s", e.Offset, e.Reason)
}

// NoFrameError is returned when the buffer pool is full of pinned frames
// and cannot satisfy a pin request. Callers should retry after reducing
// concurrency (releasing cursors/transactions).
type NoFrameError struct {
	Capacity int
}

func (e *NoFrameError) Error() string {
	return fmt.Sprintf("buffer pool exhausted: all %d frames pinned", e.Capacity)
}

// IoError wraps an underlying file-system failure.
type IoError struct {
	Op   string
	Path string
	Err  error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("io error during %s on %q: %v", e.Op, e.Path, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

// UseAfterEndError is returned when a write API is invoked on a closed
// transaction or cursor handle.
type UseAfterEndError struct {
	Handle string
}

func (e *UseAfterEndError) Error() string {
	return fmt.Sprintf("use after end: %s is already closed", e.Handle)
}

// Wrap attaches a stack trace to err at the call site, preserving the
// concrete kind underneath for errors.As. A nil err returns nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, "%s", msg)
}

// Poisons reports whether err is one of the fixed error kinds that, once
// observed by a table, flip it into a poisoned state: every subsequent operation fails with the
// same wrapped error until the table is closed.
func Poisons(err error) bool {
	var corrupt *CorruptRecordError
	var walCorrupt *WalCorruptError
	return errors.As(err, &corrupt) || errors.As(err, &walCorrupt)
}
