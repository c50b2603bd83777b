// Package query implements the narrow find-expression language tables
// evaluate for find() (spec §4.5, §6): AND-chains of
// COLUMN OP LITERAL, an optional LIMIT, and an optional USE INDEX
// hint. It generalizes the teacher's pkg/query/scan.go ScanCondition,
// which knew only unary key comparisons against a single index, to a
// full row predicate plus the grammar that produces one.
package query

import (
	"strings"

	"github.com/flintdb/flint/pkg/variant"
)

// Operator is one comparison the grammar recognizes.
type Operator int

const (
	OpEqual Operator = iota
	OpNotEqual
	OpLessThan
	OpLessOrEqual
	OpGreaterThan
	OpGreaterOrEqual
	OpLike
	OpIn
)

func (o Operator) String() string {
	switch o {
	case OpEqual:
		return "="
	case OpNotEqual:
		return "!="
	case OpLessThan:
		return "<"
	case OpLessOrEqual:
		return "<="
	case OpGreaterThan:
		return ">"
	case OpGreaterOrEqual:
		return ">="
	case OpLike:
		return "LIKE"
	case OpIn:
		return "IN"
	default:
		return "?"
	}
}

// Condition is one COLUMN OP LITERAL term. Literal holds the operand
// for every operator but IN, which uses Literals; Pattern holds the
// raw LIKE text (Literal.Str duplicates it for convenience).
type Condition struct {
	Column   string
	Op       Operator
	Literal  variant.Value
	Literals []variant.Value
	Pattern  string
}

// Matches evaluates the condition against one column value from a
// decoded row.
func (c Condition) Matches(v variant.Value) bool {
	switch c.Op {
	case OpEqual:
		return !v.Null && v.Equal(c.Literal)
	case OpNotEqual:
		return v.Null || !v.Equal(c.Literal)
	case OpLessThan:
		return !v.Null && v.Compare(c.Literal) < 0
	case OpLessOrEqual:
		return !v.Null && v.Compare(c.Literal) <= 0
	case OpGreaterThan:
		return !v.Null && v.Compare(c.Literal) > 0
	case OpGreaterOrEqual:
		return !v.Null && v.Compare(c.Literal) >= 0
	case OpLike:
		return !v.Null && matchLike(v.Str, c.Pattern)
	case OpIn:
		if v.Null {
			return false
		}
		for _, lit := range c.Literals {
			if v.Equal(lit) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// matchLike implements the single-wildcard subset of SQL LIKE the
// grammar exposes: '%' matches any run of characters (including
// none), everything else must match literally. It does not support
// '_' single-character wildcards or escaping, matching spec §6's
// narrow "LIKE with % wildcard" wording.
func matchLike(s, pattern string) bool {
	parts := strings.Split(pattern, "%")
	if len(parts) == 1 {
		return s == pattern
	}

	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]

	if !strings.HasSuffix(s, parts[len(parts)-1]) {
		return false
	}
	if len(parts) > 2 {
		s = s[:len(s)-len(parts[len(parts)-1])]
	} else {
		return true
	}

	for _, mid := range parts[1 : len(parts)-1] {
		if mid == "" {
			continue
		}
		idx := strings.Index(s, mid)
		if idx < 0 {
			return false
		}
		s = s[idx+len(mid):]
	}
	return true
}
