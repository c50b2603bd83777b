package types

import "testing"

func TestCompositeKeyOrdering(t *testing.T) {
	cases := []struct {
		a, b CompositeKey
		want int
	}{
		{CompositeKey("apple"), CompositeKey("banana"), -1},
		{CompositeKey("cherry"), CompositeKey("banana"), 1},
		{CompositeKey("same"), CompositeKey("same"), 0},
		{CompositeKey(""), CompositeKey("a"), -1},
		{CompositeKey("Apple"), CompositeKey("apple"), -1}, // 'A' < 'a' in ASCII
	}

	for _, tc := range cases {
		if got := tc.a.Compare(tc.b); got != tc.want {
			t.Errorf("%q.Compare(%q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestCompositeKeyComparePanicsOnForeignType(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic comparing CompositeKey to a foreign Comparable")
		}
	}()
	CompositeKey("x").Compare(fakeComparable{})
}

type fakeComparable struct{}

func (fakeComparable) Compare(Comparable) int { return 0 }

func TestRowIDRoundTrip(t *testing.T) {
	ids := []RowID{0, 1, 42, 1 << 40, ^RowID(0)}
	for _, id := range ids {
		encoded := EncodeRowID(id)
		if len(encoded) != 8 {
			t.Fatalf("EncodeRowID(%d) length = %d, want 8", id, len(encoded))
		}
		if got := DecodeRowID(encoded); got != id {
			t.Errorf("DecodeRowID(EncodeRowID(%d)) = %d", id, got)
		}
	}
}

func TestColumnTypeFixedWidth(t *testing.T) {
	cases := []struct {
		typ       ColumnType
		wantWidth int
		wantOK    bool
	}{
		{TypeInt8, 1, true},
		{TypeUint16, 2, true},
		{TypeInt32, 4, true},
		{TypeFloat32, 4, true},
		{TypeInt64, 8, true},
		{TypeDate, 8, true},
		{TypeString, 0, false},
		{TypeBytes, 0, false},
		{TypeDecimal, 0, false},
	}
	for _, tc := range cases {
		width, ok := tc.typ.FixedWidth()
		if width != tc.wantWidth || ok != tc.wantOK {
			t.Errorf("%s.FixedWidth() = (%d, %v), want (%d, %v)", tc.typ, width, ok, tc.wantWidth, tc.wantOK)
		}
	}
}

func TestDirectionString(t *testing.T) {
	if Ascending.String() != "ASC" {
		t.Errorf("Ascending.String() = %q", Ascending.String())
	}
	if Descending.String() != "DESC" {
		t.Errorf("Descending.String() = %q", Descending.String())
	}
}
