package schema

import (
	"github.com/flintdb/flint/pkg/ferrors"
	"github.com/flintdb/flint/pkg/types"
	"github.com/flintdb/flint/pkg/variant"
)

// ValidateRow checks a positional row against the schema's column
// order before apply/apply_at stage it for encoding: column count,
// type agreement, NOT-NULL, and the declared byte budget for
// variable-width columns.
func (s *Schema) ValidateRow(row []variant.Value) error {
	if len(row) != len(s.Columns) {
		return &ferrors.SchemaViolationError{
			Column: s.Name,
			Reason: "row has wrong number of columns",
		}
	}

	for i, col := range s.Columns {
		v := row[i]

		if v.Null {
			if !col.Nullable {
				return &ferrors.SchemaViolationError{Column: col.Name, Reason: "null value for non-nullable column"}
			}
			continue
		}

		if v.Typ != col.Type {
			return &ferrors.SchemaViolationError{Column: col.Name, Reason: "value type does not match column type"}
		}

		switch col.Type {
		case types.TypeString:
			if col.Width > 0 && len(v.Str) > col.Width {
				return &ferrors.SchemaViolationError{Column: col.Name, Reason: "string exceeds column byte budget"}
			}
		case types.TypeBytes:
			if col.Width > 0 && len(v.Bytes) != col.Width {
				return &ferrors.SchemaViolationError{Column: col.Name, Reason: "fixed-width bytes column got wrong length"}
			}
		case types.TypeDecimal:
			if v.Dec.Scale != col.Scale {
				return &ferrors.SchemaViolationError{Column: col.Name, Reason: "decimal scale does not match column scale"}
			}
		}
	}
	return nil
}
