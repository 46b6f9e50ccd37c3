// ABOUTME: Filter expressions: `field op literal` conditions joined by AND
// ABOUTME: Parsed once per request and matched against each candidate entity

package query

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/nainya/modelregistry/pkg/errdefs"
	"github.com/nainya/modelregistry/pkg/properties"
)

// CustomPrefix selects a custom property in a filter field
const CustomPrefix = "customProperties."

// Op is a comparison operator
type Op string

const (
	OpEq Op = "="
	OpNe Op = "!="
	OpLt Op = "<"
	OpLe Op = "<="
	OpGt Op = ">"
	OpGe Op = ">="
)

// Condition is a single `field op literal` term
type Condition struct {
	// Field is the field as written
	Field string
	// Key is the lookup key: the normalized field name, or the raw
	// custom property name when Custom is set
	Key    string
	Custom bool
	Op     Op
	Value  properties.Value
}

// Filter is a conjunction of conditions. The zero Filter matches everything.
type Filter struct {
	Conditions []Condition
}

// Resolver returns the value of a field on one entity
type Resolver func(c Condition) (properties.Value, bool)

// NormalizeField lowercases a field name and drops underscores so that
// modelName, model_name and MODELNAME are the same field
func NormalizeField(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r == '_' {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// ParseFilter parses a filter expression. An empty expression yields an
// empty filter.
func ParseFilter(expr string) (*Filter, error) {
	toks, err := lex(expr)
	if err != nil {
		return nil, err
	}

	f := &Filter{}
	for i := 0; i < len(toks); {
		if len(toks)-i < 3 {
			return nil, errdefs.InvalidArgument("filter %q: incomplete condition", expr)
		}
		field, op, lit := toks[i], toks[i+1], toks[i+2]
		if field.kind != tokIdent {
			return nil, errdefs.InvalidArgument("filter %q: expected field at %q", expr, field.text)
		}
		if op.kind != tokOp {
			return nil, errdefs.InvalidArgument("filter %q: expected operator after %s", expr, field.text)
		}
		val, err := literal(lit)
		if err != nil {
			return nil, errdefs.InvalidArgument("filter %q: %v", expr, err)
		}

		c := Condition{Field: field.text, Op: Op(op.text), Value: val}
		if strings.HasPrefix(field.text, CustomPrefix) {
			c.Custom = true
			c.Key = strings.TrimPrefix(field.text, CustomPrefix)
			if c.Key == "" {
				return nil, errdefs.InvalidArgument("filter %q: empty custom property name", expr)
			}
		} else {
			c.Key = NormalizeField(field.text)
		}
		f.Conditions = append(f.Conditions, c)

		i += 3
		if i == len(toks) {
			break
		}
		if toks[i].kind != tokAnd {
			return nil, errdefs.InvalidArgument("filter %q: expected AND at %q", expr, toks[i].text)
		}
		i++
		if i == len(toks) {
			return nil, errdefs.InvalidArgument("filter %q: trailing AND", expr)
		}
	}

	return f, nil
}

// Empty reports whether the filter matches everything
func (f *Filter) Empty() bool {
	return f == nil || len(f.Conditions) == 0
}

// Canonical renders the filter in a normal form; equal filters render equal
func (f *Filter) Canonical() string {
	if f.Empty() {
		return ""
	}
	parts := make([]string, len(f.Conditions))
	for i, c := range f.Conditions {
		key := c.Key
		if c.Custom {
			key = CustomPrefix + c.Key
		}
		parts[i] = key + " " + string(c.Op) + " " + properties.Format(c.Value)
	}
	return strings.Join(parts, " AND ")
}

// Match reports whether every condition holds. A field the resolver does
// not know fails the condition.
func (f *Filter) Match(resolve Resolver) bool {
	if f.Empty() {
		return true
	}
	for _, c := range f.Conditions {
		v, ok := resolve(c)
		if !ok || !compare(v, c.Op, c.Value) {
			return false
		}
	}
	return true
}

// compare evaluates `left op right`. Int and Double compare numerically;
// other kind mismatches only satisfy !=.
func compare(left properties.Value, op Op, right properties.Value) bool {
	var cmp int
	switch l := left.(type) {
	case properties.String:
		r, ok := right.(properties.String)
		if !ok {
			return op == OpNe
		}
		cmp = strings.Compare(string(l), string(r))

	case properties.Bool:
		r, ok := right.(properties.Bool)
		if !ok {
			return op == OpNe
		}
		switch op {
		case OpEq:
			return l == r
		case OpNe:
			return l != r
		default:
			return false
		}

	case properties.Int, properties.Double:
		lf, _ := number(left)
		rf, ok := number(right)
		if !ok {
			return op == OpNe
		}
		// Exact comparison when both sides are integers
		li, lok := left.(properties.Int)
		ri, rok := right.(properties.Int)
		switch {
		case lok && rok:
			cmp = cmpInt(int64(li), int64(ri))
		case lf < rf:
			cmp = -1
		case lf > rf:
			cmp = 1
		}

	default:
		return false
	}

	switch op {
	case OpEq:
		return cmp == 0
	case OpNe:
		return cmp != 0
	case OpLt:
		return cmp < 0
	case OpLe:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGe:
		return cmp >= 0
	}
	return false
}

func number(v properties.Value) (float64, bool) {
	switch n := v.(type) {
	case properties.Int:
		return float64(n), true
	case properties.Double:
		return float64(n), true
	}
	return 0, false
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

type tokKind int

const (
	tokIdent tokKind = iota
	tokOp
	tokAnd
	tokString
	tokNumber
)

type token struct {
	kind tokKind
	text string
}

func lex(s string) ([]token, error) {
	var toks []token
	rs := []rune(s)

	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++

		case r == '"' || r == '\'':
			j := i + 1
			escaped := false
			for ; j < len(rs); j++ {
				if escaped {
					escaped = false
					continue
				}
				if rs[j] == '\\' {
					escaped = true
					continue
				}
				if rs[j] == r {
					break
				}
			}
			if j >= len(rs) {
				return nil, errdefs.InvalidArgument("filter %q: unterminated string", s)
			}
			body := string(rs[i+1 : j])
			if r == '\'' {
				body = strings.ReplaceAll(strings.ReplaceAll(body, `\'`, `'`), `"`, `\"`)
			}
			text, err := strconv.Unquote(`"` + body + `"`)
			if err != nil {
				return nil, errdefs.InvalidArgument("filter %q: bad string literal", s)
			}
			toks = append(toks, token{tokString, text})
			i = j + 1

		case strings.ContainsRune("=!<>", r):
			op := string(r)
			if i+1 < len(rs) && rs[i+1] == '=' {
				op += "="
			}
			switch Op(op) {
			case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
			default:
				return nil, errdefs.InvalidArgument("filter %q: bad operator %q", s, op)
			}
			toks = append(toks, token{tokOp, op})
			i += len(op)

		case r == '-' || r == '+' || unicode.IsDigit(r):
			j := i + 1
			for j < len(rs) && (unicode.IsDigit(rs[j]) || strings.ContainsRune(".eE+-", rs[j])) {
				j++
			}
			toks = append(toks, token{tokNumber, string(rs[i:j])})
			i = j

		case unicode.IsLetter(r) || r == '_':
			j := i + 1
			for j < len(rs) && (unicode.IsLetter(rs[j]) || unicode.IsDigit(rs[j]) || strings.ContainsRune("_.-", rs[j])) {
				j++
			}
			word := string(rs[i:j])
			if strings.EqualFold(word, "AND") {
				toks = append(toks, token{tokAnd, word})
			} else {
				toks = append(toks, token{tokIdent, word})
			}
			i = j

		default:
			return nil, errdefs.InvalidArgument("filter %q: unexpected %q", s, r)
		}
	}

	return toks, nil
}

func literal(t token) (properties.Value, error) {
	switch t.kind {
	case tokString:
		return properties.String(t.text), nil
	case tokNumber:
		if i, err := strconv.ParseInt(t.text, 10, 64); err == nil {
			return properties.Int(i), nil
		}
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil || math.IsInf(f, 0) {
			return nil, errdefs.InvalidArgument("number %q", t.text)
		}
		return properties.Double(f), nil
	case tokIdent:
		switch strings.ToLower(t.text) {
		case "true":
			return properties.Bool(true), nil
		case "false":
			return properties.Bool(false), nil
		}
		return nil, errdefs.InvalidArgument("expected literal, got %q", t.text)
	default:
		return nil, errdefs.InvalidArgument("expected literal, got %q", t.text)
	}
}
