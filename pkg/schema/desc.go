package schema

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/flintdb/flint/pkg/ferrors"
)

// WriteDesc renders the schema as the single-line BSON-as-JSON
// document written to a table's companion .desc file (SPEC_FULL.md
// §6). The .desc file is informational only — open() checks the
// fingerprint stored in the page store's header, never this file —
// so it uses the same relaxed-JSON encoding the teacher's
// bson.go exposes for human inspection.
func (s *Schema) WriteDesc() ([]byte, error) {
	cols := make(bson.A, 0, len(s.Columns))
	for _, c := range s.Columns {
		cols = append(cols, bson.D{
			{Key: "name", Value: c.Name},
			{Key: "type", Value: c.Type.String()},
			{Key: "width", Value: c.Width},
			{Key: "nullable", Value: c.Nullable},
		})
	}

	idxs := make(bson.A, 0, len(s.Indexes))
	for _, idx := range s.Indexes {
		idxs = append(idxs, bson.D{
			{Key: "name", Value: idx.Name},
			{Key: "columns", Value: idx.Columns},
			{Key: "direction", Value: idx.Direction.String()},
			{Key: "unique", Value: idx.Unique},
			{Key: "primary", Value: idx.Primary},
		})
	}

	doc := bson.D{
		{Key: "name", Value: s.Name},
		{Key: "fingerprint", Value: int64(s.Fingerprint())},
		{Key: "columns", Value: cols},
		{Key: "indexes", Value: idxs},
		{Key: "page_size", Value: s.Options.PageSize},
		{Key: "wal_mode", Value: int(s.Options.WalMode)},
		{Key: "compress", Value: s.Options.Compress},
	}

	out, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return nil, ferrors.Wrap(err, "schema: marshaling .desc document")
	}
	return out, nil
}

// ReadDesc parses a .desc file back into its raw BSON document, for
// tooling (cmd/flintcheck) that wants to inspect a table without
// opening it. It is never used to reconstruct a Schema for validation.
func ReadDesc(data []byte) (bson.D, error) {
	var doc bson.D
	if err := bson.UnmarshalExtJSON(data, true, &doc); err != nil {
		return nil, ferrors.Wrap(err, "schema: parsing .desc document")
	}
	return doc, nil
}
