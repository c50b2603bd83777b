package variant

import (
	"math"

	"github.com/flintdb/flint/pkg/ferrors"
	"github.com/flintdb/flint/pkg/types"
)

const (
	keyNull    byte = 0x00
	keyPresent byte = 0x01

	stringEscape     byte = 0x01
	stringEscapedFF  byte = 0xFF
	stringTerminator byte = 0x00
)

// EncodeKey renders values as one order-preserving composite key: the
// concatenation of each column's encoded field, in column order, such
// that lexicographic byte comparison of two encoded keys matches the
// natural ordering of the decoded tuples on an ascending index. Every
// field starts with a null/present marker so that null sorts before
// any present value, matching SQL's NULLS FIRST convention.
//
// Unsigned integers and fixed-width byte arrays need no transformation
// beyond big-endian layout. Signed integers and Decimal's unscaled part
// get their sign bit flipped so two's-complement ordering becomes
// unsigned ordering. Floats get the IEEE-754 sign-flip trick: flip the
// sign bit for positive numbers, flip all bits for negative numbers.
// Strings and variable-length byte data are escaped so that the
// 0x00 terminator can never be confused with a literal zero byte in
// the content: every 0x00 in the content becomes 0x01 0xFF, every 0x01
// becomes 0x01 0x01, and the field ends with a bare 0x00.
func EncodeKey(values []Value) (types.CompositeKey, error) {
	var out []byte
	for _, v := range values {
		if v.Null {
			out = append(out, keyNull)
			continue
		}
		out = append(out, keyPresent)

		switch v.Typ {
		case types.TypeInt8:
			out = append(out, flipSignByte(byte(int8(v.Int))))
		case types.TypeInt16:
			b := beUint16(uint16(int16(v.Int)))
			b[0] = flipSignByte(b[0])
			out = append(out, b...)
		case types.TypeInt32:
			b := beUint32(uint32(int32(v.Int)))
			b[0] = flipSignByte(b[0])
			out = append(out, b...)
		case types.TypeInt64:
			b := beUint64(uint64(v.Int))
			b[0] = flipSignByte(b[0])
			out = append(out, b...)
		case types.TypeUint8:
			out = append(out, byte(v.Uint))
		case types.TypeUint16:
			out = append(out, beUint16(uint16(v.Uint))...)
		case types.TypeUint32:
			out = append(out, beUint32(uint32(v.Uint))...)
		case types.TypeUint64:
			out = append(out, beUint64(v.Uint)...)
		case types.TypeFloat32:
			out = append(out, orderedFloatBytes32(v.F32)...)
		case types.TypeFloat64:
			out = append(out, orderedFloatBytes64(v.F64)...)
		case types.TypeDecimal:
			b := signedBigIntToBytes(v.Dec.Unscaled, 16)
			b[0] = flipSignByte(b[0])
			out = append(out, b...)
		case types.TypeString:
			out = append(out, escapeBytes([]byte(v.Str))...)
			out = append(out, stringTerminator)
		case types.TypeBytes:
			// Fixed width per schema: self-delimiting, no escaping needed.
			out = append(out, v.Bytes...)
		case types.TypeDate:
			b := beUint64(uint64(v.Date))
			b[0] = flipSignByte(b[0])
			out = append(out, b...)
		default:
			return nil, &ferrors.CorruptRecordError{Reason: "unknown column type encoding key"}
		}
	}
	return types.CompositeKey(out), nil
}

func flipSignByte(b byte) byte { return b ^ 0x80 }

func beUint16(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }

func beUint32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func beUint64(v uint64) []byte {
	return []byte{
		byte(v >> 56), byte(v >> 48), byte(v >> 40), byte(v >> 32),
		byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v),
	}
}

// orderedFloatBytes32 maps a float32's bits so unsigned big-endian
// comparison matches float ordering: for non-negative numbers flip the
// sign bit, for negative numbers flip every bit.
func orderedFloatBytes32(f float32) []byte {
	bits := math.Float32bits(f)
	if bits&0x80000000 != 0 {
		bits = ^bits
	} else {
		bits |= 0x80000000
	}
	return beUint32(bits)
}

func orderedFloatBytes64(f float64) []byte {
	bits := math.Float64bits(f)
	if bits&0x8000000000000000 != 0 {
		bits = ^bits
	} else {
		bits |= 0x8000000000000000
	}
	return beUint64(bits)
}

func escapeBytes(b []byte) []byte {
	out := make([]byte, 0, len(b)+2)
	for _, c := range b {
		switch c {
		case 0x00:
			out = append(out, stringEscape, stringEscapedFF)
		case 0x01:
			out = append(out, stringEscape, stringEscape)
		default:
			out = append(out, c)
		}
	}
	return out
}
