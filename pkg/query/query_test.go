package query

import (
	"testing"

	"github.com/flintdb/flint/pkg/schema"
	"github.com/flintdb/flint/pkg/types"
	"github.com/flintdb/flint/pkg/variant"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.New("users",
		[]schema.Column{
			{Name: "id", Type: types.TypeInt64},
			{Name: "name", Type: types.TypeString, Width: 50},
			{Name: "age", Type: types.TypeInt32, Nullable: true},
		},
		[]schema.IndexDef{
			{Name: "pk", Columns: []string{"id"}, Primary: true, Unique: true},
			{Name: "by_age", Columns: []string{"age"}},
			{Name: "by_name_age", Columns: []string{"name", "age"}},
		},
		schema.DefaultOptions(),
	)
	if err != nil {
		t.Fatalf("schema.New: %v", err)
	}
	return s
}

func TestParseSimpleComparison(t *testing.T) {
	s := testSchema(t)
	q, err := Parse("age >= 31", s)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(q.Conditions) != 1 || q.Conditions[0].Op != OpGreaterOrEqual {
		t.Fatalf("unexpected conditions: %+v", q.Conditions)
	}
}

func TestParseAndChain(t *testing.T) {
	s := testSchema(t)
	q, err := Parse("name = 'ada' AND age > 20", s)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(q.Conditions) != 2 {
		t.Fatalf("expected 2 conditions, got %d", len(q.Conditions))
	}
	if q.Conditions[0].Literal.Str != "ada" {
		t.Errorf("literal = %q, want ada", q.Conditions[0].Literal.Str)
	}
}

func TestParseLikeWildcard(t *testing.T) {
	s := testSchema(t)
	q, err := Parse("name LIKE 'ad%'", s)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	c := q.Conditions[0]
	if c.Op != OpLike || c.Pattern != "ad%" {
		t.Fatalf("unexpected condition: %+v", c)
	}
	if !c.Matches(variant.NewString("ada")) {
		t.Error("expected 'ada' to match 'ad%'")
	}
	if c.Matches(variant.NewString("bob")) {
		t.Error("expected 'bob' not to match 'ad%'")
	}
}

func TestParseInList(t *testing.T) {
	s := testSchema(t)
	q, err := Parse("age IN (20, 30, 40)", s)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	c := q.Conditions[0]
	if c.Op != OpIn || len(c.Literals) != 3 {
		t.Fatalf("unexpected condition: %+v", c)
	}
	if !c.Matches(variant.NewInt32(30)) {
		t.Error("expected 30 to match IN (20,30,40)")
	}
	if c.Matches(variant.NewInt32(25)) {
		t.Error("expected 25 not to match IN (20,30,40)")
	}
}

func TestParseLimitAndOffset(t *testing.T) {
	s := testSchema(t)
	q, err := Parse("age > 0 LIMIT 10, 5", s)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if q.Limit != 10 || q.Offset != 5 {
		t.Fatalf("Limit/Offset = %d/%d, want 10/5", q.Limit, q.Offset)
	}
}

func TestParseUseIndexHint(t *testing.T) {
	s := testSchema(t)
	q, err := Parse("age > 0 USE INDEX(by_age DESC)", s)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !q.HasIndexHint() || q.UseIndex != "by_age" || q.Direction != types.Descending {
		t.Fatalf("unexpected hint: %+v", q)
	}
}

func TestParseRejectsUnknownColumn(t *testing.T) {
	s := testSchema(t)
	if _, err := Parse("ghost = 1", s); err == nil {
		t.Fatal("expected error for unknown column")
	}
}

func TestMatchesEvaluatesAndChainAgainstRow(t *testing.T) {
	s := testSchema(t)
	q, err := Parse("name = 'ada' AND age >= 30", s)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	row := []variant.Value{variant.NewInt64(1), variant.NewString("ada"), variant.NewInt32(31)}
	if !q.Matches(s, row) {
		t.Error("expected row to match")
	}
	row2 := []variant.Value{variant.NewInt64(2), variant.NewString("ada"), variant.NewInt32(10)}
	if q.Matches(s, row2) {
		t.Error("expected row with age 10 not to match age >= 30")
	}
}

func TestChooseIndexPrefersHint(t *testing.T) {
	s := testSchema(t)
	q, err := Parse("id = 1 USE INDEX(by_age)", s)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	idx := q.ChooseIndex(s)
	if idx.Name != "by_age" {
		t.Fatalf("ChooseIndex = %q, want by_age", idx.Name)
	}
}

func TestChooseIndexPicksLongestEqualityPrefix(t *testing.T) {
	s := testSchema(t)
	q, err := Parse("name = 'ada' AND age = 30", s)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	idx := q.ChooseIndex(s)
	if idx.Name != "by_name_age" {
		t.Fatalf("ChooseIndex = %q, want by_name_age", idx.Name)
	}
}

func TestChooseIndexFallsBackToPrimary(t *testing.T) {
	s := testSchema(t)
	q, err := Parse("name != 'ada'", s)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	idx := q.ChooseIndex(s)
	if idx.Name != "pk" {
		t.Fatalf("ChooseIndex = %q, want pk fallback", idx.Name)
	}
}
