// Package types holds the small set of shared value types every other
// package in the engine depends on: the B+Tree's ordering contract
// (Comparable), the byte-string composite keys the variant codec
// produces, the stable row locator (RowID), and the column type tags the
// schema and variant codec both need without importing each other.
package types

import "bytes"

// Comparable is implemented by anything the B+Tree can order. The
// variant codec's composite keys are the only concrete implementation
// that crosses package boundaries; it exists as an interface (rather
// than hard-coding []byte into the B+Tree) so unit tests can exercise
// the tree with simple scalar keys without going through the codec.
type Comparable interface {
	Compare(other Comparable) int
}

// CompositeKey is the byte-for-byte encoding of one or more schema
// columns, produced by pkg/variant. Its ordering is plain lexicographic
// byte comparison; by the codec's contract (spec §4.1) that matches the
// natural ordering of the decoded tuple for every supported column type
// on an ascending index. Descending indexes invert this at the B+Tree
// level, never by flipping bytes here.
type CompositeKey []byte

func (k CompositeKey) Compare(other Comparable) int {
	o, ok := other.(CompositeKey)
	if !ok {
		panic("types: CompositeKey compared against incompatible Comparable")
	}
	return bytes.Compare(k, o)
}

func (k CompositeKey) String() string { return string(k) }

// RowID is a table-scoped, monotonically assigned, stable 64-bit locator
// for a row. It never changes for the lifetime of the row, even across
// apply_at updates.
type RowID uint64

// EncodeRowID renders a RowID as the fixed 8-byte little-endian payload
// secondary index leaves store.
func EncodeRowID(id RowID) []byte {
	buf := make([]byte, 8)
	putUint64(buf, uint64(id))
	return buf
}

// DecodeRowID is the inverse of EncodeRowID.
func DecodeRowID(b []byte) RowID {
	return RowID(getUint64(b))
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

func getUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v
}

// ColumnType enumerates the value kinds the schema and variant codec
// both need to agree on. Widths are explicit rather than relying on Go's
// int/uint so the on-disk layout never depends on the host platform.
type ColumnType uint8

const (
	TypeInt8 ColumnType = iota
	TypeInt16
	TypeInt32
	TypeInt64
	TypeUint8
	TypeUint16
	TypeUint32
	TypeUint64
	TypeFloat32
	TypeFloat64
	TypeDecimal
	TypeString
	TypeBytes
	TypeDate
)

func (t ColumnType) String() string {
	switch t {
	case TypeInt8:
		return "INT8"
	case TypeInt16:
		return "INT16"
	case TypeInt32:
		return "INT32"
	case TypeInt64:
		return "INT64"
	case TypeUint8:
		return "UINT8"
	case TypeUint16:
		return "UINT16"
	case TypeUint32:
		return "UINT32"
	case TypeUint64:
		return "UINT64"
	case TypeFloat32:
		return "FLOAT32"
	case TypeFloat64:
		return "FLOAT64"
	case TypeDecimal:
		return "DECIMAL"
	case TypeString:
		return "STRING"
	case TypeBytes:
		return "BYTES"
	case TypeDate:
		return "DATE"
	default:
		return "UNKNOWN"
	}
}

// FixedWidth reports the on-disk width in bytes for types that have one
// (everything but String, Bytes, and Decimal, whose width is schema- or
// value-dependent). ok is false for variable-width types.
func (t ColumnType) FixedWidth() (width int, ok bool) {
	switch t {
	case TypeInt8, TypeUint8:
		return 1, true
	case TypeInt16, TypeUint16:
		return 2, true
	case TypeInt32, TypeUint32, TypeFloat32:
		return 4, true
	case TypeInt64, TypeUint64, TypeFloat64, TypeDate:
		return 8, true
	default:
		return 0, false
	}
}

// Direction is an index's scan direction.
type Direction uint8

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "DESC"
	}
	return "ASC"
}

// TimeUnit is the unit a Date column's 64-bit epoch is stored in.
type TimeUnit uint8

const (
	Seconds TimeUnit = iota
	Milliseconds
)
