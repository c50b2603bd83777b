package query

import (
	"github.com/flintdb/flint/pkg/schema"
	"github.com/flintdb/flint/pkg/types"
	"github.com/flintdb/flint/pkg/variant"
)

// FindQuery is a parsed find() call: an AND-chain of conditions plus
// the optional LIMIT and USE INDEX modifiers spec §6 allows.
type FindQuery struct {
	Conditions []Condition
	Limit      int // 0 means unlimited
	Offset     int
	UseIndex   string // empty if unspecified
	Direction  types.Direction
	hasHint    bool
}

// HasIndexHint reports whether the expression named USE INDEX.
func (q *FindQuery) HasIndexHint() bool { return q.hasHint }

// Matches reports whether every condition in the chain is satisfied by
// row, given s to look up each condition's column position.
func (q *FindQuery) Matches(s *schema.Schema, row []variant.Value) bool {
	for _, c := range q.Conditions {
		_, pos, ok := s.ColumnByName(c.Column)
		if !ok {
			return false
		}
		if !c.Matches(row[pos]) {
			return false
		}
	}
	return true
}

// ChooseIndex picks the index whose ordered key columns are the
// longest prefix of columns this query has an equality condition on —
// "the index whose leading columns best prefix the predicate" (spec
// §4.5). A USE INDEX hint always wins outright. Falls back to the
// primary index (a full table scan in primary-key order) when no index's
// leading column matches any equality condition.
func (q *FindQuery) ChooseIndex(s *schema.Schema) schema.IndexDef {
	if q.hasHint {
		if idx, ok := s.IndexByName(q.UseIndex); ok {
			return idx
		}
	}

	eqCols := make(map[string]bool, len(q.Conditions))
	for _, c := range q.Conditions {
		if c.Op == OpEqual {
			eqCols[c.Column] = true
		}
	}

	best := s.PrimaryIndex()
	bestPrefix := 0
	for _, idx := range s.Indexes {
		prefix := 0
		for _, col := range idx.Columns {
			if !eqCols[col] {
				break
			}
			prefix++
		}
		if prefix > bestPrefix {
			bestPrefix = prefix
			best = idx
		}
	}
	return best
}
