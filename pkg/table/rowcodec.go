package table

import (
	"encoding/binary"

	"github.com/flintdb/flint/pkg/schema"
	"github.com/flintdb/flint/pkg/types"
	"github.com/flintdb/flint/pkg/variant"
)

// wrapRowRecord prefixes a row's encoded bytes with its rowid, the form
// stored in a row chain's pages so Open's page-scan rebuild can recover
// which rowid a head page belongs to without a separate index.
func wrapRowRecord(id types.RowID, rowBytes []byte) []byte {
	buf := make([]byte, 8+len(rowBytes))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(id))
	copy(buf[8:], rowBytes)
	return buf
}

// unwrapRowRecord is the inverse of wrapRowRecord.
func unwrapRowRecord(data []byte) (types.RowID, []byte) {
	return types.RowID(binary.LittleEndian.Uint64(data[0:8])), data[8:]
}

// encodeRow concatenates every column's EncodeValue in schema order, the
// row-storage form that lives in the primary index's leaf payload and
// in a row chain's pages (spec §4.1, §4.5).
func encodeRow(s *schema.Schema, row []variant.Value) []byte {
	var out []byte
	for _, v := range row {
		out = append(out, variant.EncodeValue(v)...)
	}
	return out
}

// decodeRow is the inverse of encodeRow, consulting each column's
// declared type, byte width, and scale from s.
func decodeRow(s *schema.Schema, data []byte) ([]variant.Value, error) {
	row := make([]variant.Value, len(s.Columns))
	off := 0
	for i, c := range s.Columns {
		width := c.Width
		v, n, err := variant.DecodeValue(data[off:], c.Type, width, c.Scale)
		if err != nil {
			return nil, err
		}
		row[i] = v
		off += n
	}
	return row, nil
}

// indexKey builds idx's composite key from a decoded row.
func indexKey(s *schema.Schema, idx schema.IndexDef, row []variant.Value) (types.CompositeKey, error) {
	vals := make([]variant.Value, len(idx.Columns))
	for i, colName := range idx.Columns {
		_, pos, ok := s.ColumnByName(colName)
		if !ok {
			panic("table: index references a column absent from its own schema")
		}
		vals[i] = row[pos]
	}
	return variant.EncodeKey(vals)
}
