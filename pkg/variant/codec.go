package variant

import (
	"encoding/binary"
	"math"
	"math/big"

	"github.com/flintdb/flint/pkg/ferrors"
	"github.com/flintdb/flint/pkg/types"
)

const (
	presenceNull    byte = 0x00
	presenceHasData byte = 0x01
)

// EncodeValue renders v as the general-purpose row-storage byte
// sequence: a one-byte null sentinel followed by the type's native
// little-endian (for fixed-width numerics) or length-prefixed (for
// strings) payload. Decimal carries no per-value type tag beyond the
// presence byte; the schema supplies the column's declared type and
// (for Decimal) scale at decode time, matching spec §4.1's "[type-tag?]"
// being optional when context already fixes the type.
func EncodeValue(v Value) []byte {
	if v.Null {
		return []byte{presenceNull}
	}

	switch v.Typ {
	case types.TypeInt8:
		return append([]byte{presenceHasData}, byte(int8(v.Int)))
	case types.TypeInt16:
		buf := make([]byte, 3)
		buf[0] = presenceHasData
		binary.LittleEndian.PutUint16(buf[1:], uint16(int16(v.Int)))
		return buf
	case types.TypeInt32:
		buf := make([]byte, 5)
		buf[0] = presenceHasData
		binary.LittleEndian.PutUint32(buf[1:], uint32(int32(v.Int)))
		return buf
	case types.TypeInt64:
		buf := make([]byte, 9)
		buf[0] = presenceHasData
		binary.LittleEndian.PutUint64(buf[1:], uint64(v.Int))
		return buf
	case types.TypeUint8:
		return []byte{presenceHasData, byte(v.Uint)}
	case types.TypeUint16:
		buf := make([]byte, 3)
		buf[0] = presenceHasData
		binary.LittleEndian.PutUint16(buf[1:], uint16(v.Uint))
		return buf
	case types.TypeUint32:
		buf := make([]byte, 5)
		buf[0] = presenceHasData
		binary.LittleEndian.PutUint32(buf[1:], uint32(v.Uint))
		return buf
	case types.TypeUint64:
		buf := make([]byte, 9)
		buf[0] = presenceHasData
		binary.LittleEndian.PutUint64(buf[1:], v.Uint)
		return buf
	case types.TypeFloat32:
		buf := make([]byte, 5)
		buf[0] = presenceHasData
		binary.LittleEndian.PutUint32(buf[1:], math.Float32bits(v.F32))
		return buf
	case types.TypeFloat64:
		buf := make([]byte, 9)
		buf[0] = presenceHasData
		binary.LittleEndian.PutUint64(buf[1:], math.Float64bits(v.F64))
		return buf
	case types.TypeDecimal:
		buf := make([]byte, 17)
		buf[0] = presenceHasData
		copy(buf[1:], signedBigIntToBytes(v.Dec.Unscaled, 16))
		return buf
	case types.TypeString:
		return encodeLengthPrefixed(presenceHasData, []byte(v.Str))
	case types.TypeBytes:
		// Fixed-width per schema: written verbatim, no length prefix.
		buf := make([]byte, 1+len(v.Bytes))
		buf[0] = presenceHasData
		copy(buf[1:], v.Bytes)
		return buf
	case types.TypeDate:
		buf := make([]byte, 9)
		buf[0] = presenceHasData
		binary.LittleEndian.PutUint64(buf[1:], uint64(v.Date))
		return buf
	default:
		panic("variant: unknown column type in EncodeValue")
	}
}

func encodeLengthPrefixed(presence byte, data []byte) []byte {
	lenBuf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(lenBuf, uint64(len(data)))
	buf := make([]byte, 1+n+len(data))
	buf[0] = presence
	copy(buf[1:], lenBuf[:n])
	copy(buf[1+n:], data)
	return buf
}

// DecodeValue parses b as a value of the given column type, returning
// the decoded Value and the number of bytes consumed. byteWidth is only
// consulted for TypeBytes, where the schema fixes the field's width;
// scale is only consulted for TypeDecimal. A length field that would run
// past the end of b fails with CorruptRecordError.
func DecodeValue(b []byte, typ types.ColumnType, byteWidth int, scale uint8) (Value, int, error) {
	if len(b) == 0 {
		return Value{}, 0, &ferrors.CorruptRecordError{Reason: "empty buffer decoding value"}
	}
	if b[0] == presenceNull {
		return NullValue(typ), 1, nil
	}
	if b[0] != presenceHasData {
		return Value{}, 0, &ferrors.CorruptRecordError{Reason: "invalid presence byte"}
	}
	body := b[1:]

	switch typ {
	case types.TypeInt8:
		if len(body) < 1 {
			return Value{}, 0, shortBuffer("int8")
		}
		return NewInt8(int8(body[0])), 2, nil
	case types.TypeInt16:
		if len(body) < 2 {
			return Value{}, 0, shortBuffer("int16")
		}
		return NewInt16(int16(binary.LittleEndian.Uint16(body))), 3, nil
	case types.TypeInt32:
		if len(body) < 4 {
			return Value{}, 0, shortBuffer("int32")
		}
		return NewInt32(int32(binary.LittleEndian.Uint32(body))), 5, nil
	case types.TypeInt64:
		if len(body) < 8 {
			return Value{}, 0, shortBuffer("int64")
		}
		return NewInt64(int64(binary.LittleEndian.Uint64(body))), 9, nil
	case types.TypeUint8:
		if len(body) < 1 {
			return Value{}, 0, shortBuffer("uint8")
		}
		return NewUint8(body[0]), 2, nil
	case types.TypeUint16:
		if len(body) < 2 {
			return Value{}, 0, shortBuffer("uint16")
		}
		return NewUint16(binary.LittleEndian.Uint16(body)), 3, nil
	case types.TypeUint32:
		if len(body) < 4 {
			return Value{}, 0, shortBuffer("uint32")
		}
		return NewUint32(binary.LittleEndian.Uint32(body)), 5, nil
	case types.TypeUint64:
		if len(body) < 8 {
			return Value{}, 0, shortBuffer("uint64")
		}
		return NewUint64(binary.LittleEndian.Uint64(body)), 9, nil
	case types.TypeFloat32:
		if len(body) < 4 {
			return Value{}, 0, shortBuffer("float32")
		}
		return NewFloat32(math.Float32frombits(binary.LittleEndian.Uint32(body))), 5, nil
	case types.TypeFloat64:
		if len(body) < 8 {
			return Value{}, 0, shortBuffer("float64")
		}
		return NewFloat64(math.Float64frombits(binary.LittleEndian.Uint64(body))), 9, nil
	case types.TypeDecimal:
		if len(body) < 16 {
			return Value{}, 0, shortBuffer("decimal")
		}
		unscaled := bytesToSignedBigInt(body[:16])
		return NewDecimalValue(NewDecimal(unscaled, scale)), 17, nil
	case types.TypeString:
		length, n := binary.Uvarint(body)
		if n <= 0 {
			return Value{}, 0, &ferrors.CorruptRecordError{Reason: "invalid string length varint"}
		}
		end := n + int(length)
		if end > len(body) {
			return Value{}, 0, &ferrors.CorruptRecordError{Reason: "string length exceeds record bound"}
		}
		return NewString(string(body[n:end])), 1 + end, nil
	case types.TypeBytes:
		if byteWidth < 0 || byteWidth > len(body) {
			return Value{}, 0, &ferrors.CorruptRecordError{Reason: "byte array width exceeds record bound"}
		}
		out := make([]byte, byteWidth)
		copy(out, body[:byteWidth])
		return NewBytes(out), 1 + byteWidth, nil
	case types.TypeDate:
		if len(body) < 8 {
			return Value{}, 0, shortBuffer("date")
		}
		return NewDate(int64(binary.LittleEndian.Uint64(body))), 9, nil
	default:
		return Value{}, 0, &ferrors.CorruptRecordError{Reason: "unknown column type"}
	}
}

func shortBuffer(what string) error {
	return &ferrors.CorruptRecordError{Reason: "buffer too short for " + what}
}

// signedBigIntToBytes renders a signed big.Int as a fixed-width,
// big-endian two's-complement byte slice (used for Decimal's 128-bit
// unscaled integer).
func signedBigIntToBytes(v *big.Int, width int) []byte {
	out := make([]byte, width)
	if v.Sign() >= 0 {
		b := v.Bytes()
		copy(out[width-len(b):], b)
		return out
	}
	// Two's complement of |v|: (1<<(8*width)) + v
	mod := new(big.Int).Lsh(big.NewInt(1), uint(8*width))
	twos := new(big.Int).Add(mod, v)
	b := twos.Bytes()
	copy(out[width-len(b):], b)
	return out
}

func bytesToSignedBigInt(b []byte) *big.Int {
	v := new(big.Int).SetBytes(b)
	// If the top bit is set, it's negative in two's complement.
	if len(b) > 0 && b[0]&0x80 != 0 {
		mod := new(big.Int).Lsh(big.NewInt(1), uint(8*len(b)))
		v.Sub(v, mod)
	}
	return v
}
