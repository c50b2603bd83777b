// Package variant implements the row codec: encoding and decoding of
// schema-typed values to and from compact byte sequences (spec §4.1).
// Two distinct encodings live here under one contract:
//
//   - EncodeValue/DecodeValue: the general-purpose, round-trip value
//     encoding used for row storage. Deterministic, but NOT required to
//     byte-compare in natural order (negative two's-complement integers
//     and raw IEEE-754 floats do not).
//   - EncodeKey: the order-preserving composite-key encoding used by
//     B+Tree indexes, where lexicographic byte comparison of the
//     encoded key must match the natural ordering of the decoded tuple.
//
// Both share the same ColumnType tag set from pkg/types.
package variant

import (
	"math/big"

	"github.com/flintdb/flint/pkg/types"
)

// Value is a schema-typed, possibly-null field value. It is a tagged
// union rather than an interface hierarchy because the codec needs to
// switch on the declared column type anyway (the schema, not the value,
// says what a slot holds), and a flat struct keeps encode/decode
// allocation-free for the common fixed-width cases.
type Value struct {
	Null  bool
	Typ   types.ColumnType
	Int   int64   // backs Int8/Int16/Int32/Int64
	Uint  uint64  // backs Uint8/Uint16/Uint32/Uint64
	F32   float32 // backs Float32
	F64   float64 // backs Float64
	Dec   Decimal // backs Decimal
	Str   string  // backs String
	Bytes []byte  // backs Bytes (fixed-width, schema-declared)
	Date  int64   // backs Date (epoch in the column's declared unit)
}

// Decimal is a scaled arbitrary-precision integer: the true value is
// Unscaled * 10^-Scale. Precision (total digits) is a schema property,
// not carried per value, matching spec §4.1 "precision taken from
// schema".
type Decimal struct {
	Unscaled *big.Int
	Scale    uint8
}

func NewDecimal(unscaled *big.Int, scale uint8) Decimal {
	return Decimal{Unscaled: unscaled, Scale: scale}
}

func NullValue(t types.ColumnType) Value { return Value{Null: true, Typ: t} }

func NewInt8(v int8) Value   { return Value{Typ: types.TypeInt8, Int: int64(v)} }
func NewInt16(v int16) Value { return Value{Typ: types.TypeInt16, Int: int64(v)} }
func NewInt32(v int32) Value { return Value{Typ: types.TypeInt32, Int: int64(v)} }
func NewInt64(v int64) Value { return Value{Typ: types.TypeInt64, Int: v} }

func NewUint8(v uint8) Value   { return Value{Typ: types.TypeUint8, Uint: uint64(v)} }
func NewUint16(v uint16) Value { return Value{Typ: types.TypeUint16, Uint: uint64(v)} }
func NewUint32(v uint32) Value { return Value{Typ: types.TypeUint32, Uint: uint64(v)} }
func NewUint64(v uint64) Value { return Value{Typ: types.TypeUint64, Uint: v} }

func NewFloat32(v float32) Value { return Value{Typ: types.TypeFloat32, F32: v} }
func NewFloat64(v float64) Value { return Value{Typ: types.TypeFloat64, F64: v} }

func NewDecimalValue(d Decimal) Value { return Value{Typ: types.TypeDecimal, Dec: d} }

func NewString(s string) Value { return Value{Typ: types.TypeString, Str: s} }
func NewBytes(b []byte) Value  { return Value{Typ: types.TypeBytes, Bytes: b} }

func NewDate(epoch int64) Value { return Value{Typ: types.TypeDate, Date: epoch} }

// Equal reports whether two values represent the same typed value,
// including null-ness. It does not compare across types.
func (v Value) Equal(o Value) bool {
	if v.Typ != o.Typ {
		return false
	}
	if v.Null || o.Null {
		return v.Null == o.Null
	}
	switch v.Typ {
	case types.TypeInt8, types.TypeInt16, types.TypeInt32, types.TypeInt64:
		return v.Int == o.Int
	case types.TypeUint8, types.TypeUint16, types.TypeUint32, types.TypeUint64:
		return v.Uint == o.Uint
	case types.TypeFloat32:
		return v.F32 == o.F32
	case types.TypeFloat64:
		return v.F64 == o.F64
	case types.TypeDecimal:
		return v.Dec.Scale == o.Dec.Scale && v.Dec.Unscaled.Cmp(o.Dec.Unscaled) == 0
	case types.TypeString:
		return v.Str == o.Str
	case types.TypeBytes:
		if len(v.Bytes) != len(o.Bytes) {
			return false
		}
		for i := range v.Bytes {
			if v.Bytes[i] != o.Bytes[i] {
				return false
			}
		}
		return true
	case types.TypeDate:
		return v.Date == o.Date
	default:
		return false
	}
}

// Compare orders two values of the same type, nulls sorting before any
// non-null value. It panics on a type mismatch: callers (pkg/query)
// only ever compare a column's stored value against a literal already
// parsed as that column's declared type.
func (v Value) Compare(o Value) int {
	if v.Typ != o.Typ {
		panic("variant: Compare called on values of different types")
	}
	if v.Null || o.Null {
		switch {
		case v.Null && o.Null:
			return 0
		case v.Null:
			return -1
		default:
			return 1
		}
	}
	switch v.Typ {
	case types.TypeInt8, types.TypeInt16, types.TypeInt32, types.TypeInt64:
		return cmpInt64(v.Int, o.Int)
	case types.TypeUint8, types.TypeUint16, types.TypeUint32, types.TypeUint64:
		return cmpUint64(v.Uint, o.Uint)
	case types.TypeFloat32:
		return cmpFloat64(float64(v.F32), float64(o.F32))
	case types.TypeFloat64:
		return cmpFloat64(v.F64, o.F64)
	case types.TypeDecimal:
		return v.Dec.Unscaled.Cmp(o.Dec.Unscaled)
	case types.TypeString:
		return cmpString(v.Str, o.Str)
	case types.TypeBytes:
		return cmpBytes(v.Bytes, o.Bytes)
	case types.TypeDate:
		return cmpInt64(v.Date, o.Date)
	default:
		panic("variant: Compare on unsupported column type")
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return cmpInt64(int64(len(a)), int64(len(b)))
}
