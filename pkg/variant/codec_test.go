package variant

import (
	"math/big"
	"testing"

	"github.com/flintdb/flint/pkg/types"
)

func roundTrip(t *testing.T, v Value, byteWidth int, scale uint8) {
	t.Helper()
	enc := EncodeValue(v)
	got, n, err := DecodeValue(enc, v.Typ, byteWidth, scale)
	if err != nil {
		t.Fatalf("DecodeValue(%v) error: %v", v, err)
	}
	if n != len(enc) {
		t.Errorf("DecodeValue consumed %d bytes, want %d", n, len(enc))
	}
	if !got.Equal(v) {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, v)
	}
}

func TestEncodeDecodeValueRoundTrip(t *testing.T) {
	cases := []struct {
		name      string
		v         Value
		byteWidth int
		scale     uint8
	}{
		{"int8 positive", NewInt8(42), 0, 0},
		{"int8 negative", NewInt8(-42), 0, 0},
		{"int16", NewInt16(-1000), 0, 0},
		{"int32", NewInt32(-123456), 0, 0},
		{"int64", NewInt64(-9000000000), 0, 0},
		{"uint8", NewUint8(250), 0, 0},
		{"uint64 max-ish", NewUint64(1 << 62), 0, 0},
		{"float32", NewFloat32(-3.25), 0, 0},
		{"float64", NewFloat64(2.5e100), 0, 0},
		{"string empty", NewString(""), 0, 0},
		{"string", NewString("hello, flint"), 0, 0},
		{"bytes fixed", NewBytes([]byte{0xDE, 0xAD, 0xBE, 0xEF}), 4, 0},
		{"date", NewDate(1_700_000_000), 0, 0},
		{"decimal positive", NewDecimalValue(NewDecimal(big.NewInt(123456), 2)), 0, 2},
		{"decimal negative", NewDecimalValue(NewDecimal(big.NewInt(-987654321), 4)), 0, 4},
		{"null int32", NullValue(types.TypeInt32), 0, 0},
		{"null string", NullValue(types.TypeString), 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			roundTrip(t, tc.v, tc.byteWidth, tc.scale)
		})
	}
}

func TestDecodeValueRejectsShortBuffer(t *testing.T) {
	_, _, err := DecodeValue([]byte{presenceHasData, 0x01}, types.TypeInt64, 0, 0)
	if err == nil {
		t.Fatal("expected error decoding truncated int64")
	}
}

func TestDecodeValueRejectsBadStringLength(t *testing.T) {
	enc := EncodeValue(NewString("abc"))
	enc[1] = 0xFF // corrupt the length varint to claim an absurd length
	_, _, err := DecodeValue(enc, types.TypeString, 0, 0)
	if err == nil {
		t.Fatal("expected error decoding string with out-of-bounds length")
	}
}

func TestSignedBigIntRoundTrip(t *testing.T) {
	vals := []int64{0, 1, -1, 123456789, -123456789}
	for _, v := range vals {
		b := signedBigIntToBytes(big.NewInt(v), 16)
		got := bytesToSignedBigInt(b)
		if got.Cmp(big.NewInt(v)) != 0 {
			t.Errorf("signedBigIntToBytes/bytesToSignedBigInt round trip for %d: got %s", v, got)
		}
	}
}
