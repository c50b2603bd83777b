package query

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/flintdb/flint/pkg/schema"
	"github.com/flintdb/flint/pkg/types"
	"github.com/flintdb/flint/pkg/variant"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokString
	tokOp
	tokComma
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind tokenKind
	text string
}

// lex tokenizes a find expression. It recognizes identifiers/keywords,
// quoted strings, numbers (including decimals and a leading '-'),
// the comparison operators, and punctuation.
func lex(expr string) ([]token, error) {
	var toks []token
	r := []rune(expr)
	i := 0
	for i < len(r) {
		c := r[i]
		switch {
		case unicode.IsSpace(c):
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ","})
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			var sb strings.Builder
			for j < len(r) && r[j] != quote {
				sb.WriteRune(r[j])
				j++
			}
			if j >= len(r) {
				return nil, fmt.Errorf("query: unterminated string literal")
			}
			toks = append(toks, token{tokString, sb.String()})
			i = j + 1
		case c == '=' || c == '!' || c == '<' || c == '>':
			j := i + 1
			if j < len(r) && r[j] == '=' {
				toks = append(toks, token{tokOp, string(r[i:j+1])})
				i = j + 1
			} else {
				toks = append(toks, token{tokOp, string(c)})
				i++
			}
		case unicode.IsDigit(c) || (c == '-' && i+1 < len(r) && unicode.IsDigit(r[i+1])):
			j := i + 1
			for j < len(r) && (unicode.IsDigit(r[j]) || r[j] == '.') {
				j++
			}
			toks = append(toks, token{tokNumber, string(r[i:j])})
			i = j
		case unicode.IsLetter(c) || c == '_' || c == '%':
			j := i + 1
			for j < len(r) && (unicode.IsLetter(r[j]) || unicode.IsDigit(r[j]) || r[j] == '_') {
				j++
			}
			toks = append(toks, token{tokIdent, string(r[i:j])})
			i = j
		default:
			return nil, fmt.Errorf("query: unexpected character %q at offset %d", c, i)
		}
	}
	toks = append(toks, token{tokEOF, ""})
	return toks, nil
}

type parser struct {
	toks []token
	pos  int
	s    *schema.Schema
}

func (p *parser) peek() token { return p.toks[p.pos] }
func (p *parser) next() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) expectIdentUpper(word string) error {
	t := p.next()
	if t.kind != tokIdent || !strings.EqualFold(t.text, word) {
		return fmt.Errorf("query: expected %q, got %q", word, t.text)
	}
	return nil
}

// Parse compiles a find expression against s, resolving each column
// reference and typing each literal by its column's declared type.
func Parse(expr string, s *schema.Schema) (*FindQuery, error) {
	toks, err := lex(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, s: s}

	q := &FindQuery{Direction: types.Ascending}
	for {
		cond, err := p.parseCondition()
		if err != nil {
			return nil, err
		}
		q.Conditions = append(q.Conditions, cond)

		if p.peek().kind == tokIdent && strings.EqualFold(p.peek().text, "AND") {
			p.next()
			continue
		}
		break
	}

	for p.peek().kind != tokEOF {
		t := p.peek()
		switch {
		case t.kind == tokIdent && strings.EqualFold(t.text, "LIMIT"):
			p.next()
			n, err := p.expectNumberToken()
			if err != nil {
				return nil, err
			}
			q.Limit = n
			if p.peek().kind == tokComma {
				p.next()
				off, err := p.expectNumberToken()
				if err != nil {
					return nil, err
				}
				q.Offset = off
			}
		case t.kind == tokIdent && strings.EqualFold(t.text, "USE"):
			p.next()
			if err := p.expectIdentUpper("INDEX"); err != nil {
				return nil, err
			}
			if p.peek().kind != tokLParen {
				return nil, fmt.Errorf("query: expected '(' after USE INDEX")
			}
			p.next()
			name := p.next()
			if name.kind != tokIdent {
				return nil, fmt.Errorf("query: expected index name")
			}
			q.UseIndex = name.text
			q.hasHint = true
			if p.peek().kind == tokIdent {
				dir := p.next()
				if strings.EqualFold(dir.text, "DESC") {
					q.Direction = types.Descending
				} else if strings.EqualFold(dir.text, "ASC") {
					q.Direction = types.Ascending
				} else {
					return nil, fmt.Errorf("query: unknown index direction %q", dir.text)
				}
			}
			if p.peek().kind != tokRParen {
				return nil, fmt.Errorf("query: expected ')' closing USE INDEX")
			}
			p.next()
		default:
			return nil, fmt.Errorf("query: unexpected token %q", t.text)
		}
	}

	return q, nil
}

func (p *parser) expectNumberToken() (int, error) {
	t := p.next()
	if t.kind != tokNumber {
		return 0, fmt.Errorf("query: expected a number, got %q", t.text)
	}
	n, err := strconv.Atoi(t.text)
	if err != nil {
		return 0, fmt.Errorf("query: invalid integer %q", t.text)
	}
	return n, nil
}

func (p *parser) parseCondition() (Condition, error) {
	colTok := p.next()
	if colTok.kind != tokIdent {
		return Condition{}, fmt.Errorf("query: expected column name, got %q", colTok.text)
	}
	col, _, ok := p.s.ColumnByName(colTok.text)
	if !ok {
		return Condition{}, fmt.Errorf("query: unknown column %q", colTok.text)
	}

	opTok := p.next()
	var op Operator
	switch {
	case opTok.kind == tokOp:
		switch opTok.text {
		case "=":
			op = OpEqual
		case "!=":
			op = OpNotEqual
		case "<":
			op = OpLessThan
		case "<=":
			op = OpLessOrEqual
		case ">":
			op = OpGreaterThan
		case ">=":
			op = OpGreaterOrEqual
		default:
			return Condition{}, fmt.Errorf("query: unknown operator %q", opTok.text)
		}
	case opTok.kind == tokIdent && strings.EqualFold(opTok.text, "LIKE"):
		op = OpLike
	case opTok.kind == tokIdent && strings.EqualFold(opTok.text, "IN"):
		op = OpIn
	default:
		return Condition{}, fmt.Errorf("query: expected an operator, got %q", opTok.text)
	}

	if op == OpIn {
		if p.peek().kind != tokLParen {
			return Condition{}, fmt.Errorf("query: expected '(' after IN")
		}
		p.next()
		var lits []variant.Value
		for {
			v, err := p.parseLiteral(col)
			if err != nil {
				return Condition{}, err
			}
			lits = append(lits, v)
			if p.peek().kind == tokComma {
				p.next()
				continue
			}
			break
		}
		if p.peek().kind != tokRParen {
			return Condition{}, fmt.Errorf("query: expected ')' closing IN list")
		}
		p.next()
		return Condition{Column: col.Name, Op: OpIn, Literals: lits}, nil
	}

	v, err := p.parseLiteral(col)
	if err != nil {
		return Condition{}, err
	}
	cond := Condition{Column: col.Name, Op: op, Literal: v}
	if op == OpLike {
		cond.Pattern = v.Str
	}
	return cond, nil
}

// parseLiteral reads one literal token and types it against col's
// declared column type.
func (p *parser) parseLiteral(col schema.Column) (variant.Value, error) {
	t := p.next()
	switch col.Type {
	case types.TypeString:
		if t.kind != tokString && t.kind != tokIdent {
			return variant.Value{}, fmt.Errorf("query: expected a string literal for column %q, got %q", col.Name, t.text)
		}
		return variant.NewString(t.text), nil
	case types.TypeBytes:
		return variant.NewBytes([]byte(t.text)), nil
	case types.TypeInt8, types.TypeInt16, types.TypeInt32, types.TypeInt64, types.TypeDate:
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return variant.Value{}, fmt.Errorf("query: invalid integer literal %q for column %q", t.text, col.Name)
		}
		if col.Type == types.TypeDate {
			return variant.NewDate(n), nil
		}
		return intValueOfWidth(col.Type, n), nil
	case types.TypeUint8, types.TypeUint16, types.TypeUint32, types.TypeUint64:
		n, err := strconv.ParseUint(t.text, 10, 64)
		if err != nil {
			return variant.Value{}, fmt.Errorf("query: invalid unsigned integer literal %q for column %q", t.text, col.Name)
		}
		return uintValueOfWidth(col.Type, n), nil
	case types.TypeFloat32, types.TypeFloat64:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return variant.Value{}, fmt.Errorf("query: invalid float literal %q for column %q", t.text, col.Name)
		}
		if col.Type == types.TypeFloat32 {
			return variant.NewFloat32(float32(f)), nil
		}
		return variant.NewFloat64(f), nil
	default:
		return variant.Value{}, fmt.Errorf("query: unsupported literal type for column %q", col.Name)
	}
}

func intValueOfWidth(t types.ColumnType, n int64) variant.Value {
	switch t {
	case types.TypeInt8:
		return variant.NewInt8(int8(n))
	case types.TypeInt16:
		return variant.NewInt16(int16(n))
	case types.TypeInt32:
		return variant.NewInt32(int32(n))
	default:
		return variant.NewInt64(n)
	}
}

func uintValueOfWidth(t types.ColumnType, n uint64) variant.Value {
	switch t {
	case types.TypeUint8:
		return variant.NewUint8(uint8(n))
	case types.TypeUint16:
		return variant.NewUint16(uint16(n))
	case types.TypeUint32:
		return variant.NewUint32(uint32(n))
	default:
		return variant.NewUint64(n)
	}
}
