package query

import (
	"errors"
	"testing"

	"github.com/nainya/modelregistry/pkg/errdefs"
	"github.com/nainya/modelregistry/pkg/properties"
)

func fields(m map[string]properties.Value, custom properties.Map) Resolver {
	return func(c Condition) (properties.Value, bool) {
		if c.Custom {
			v, ok := custom[c.Key]
			return v, ok
		}
		v, ok := m[c.Key]
		return v, ok
	}
}

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter(`model_name = "mnist" AND customProperties.accuracy >= 0.9 and step < 10`)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Conditions) != 3 {
		t.Fatalf("expected 3 conditions, got %d", len(f.Conditions))
	}

	c := f.Conditions[0]
	if c.Key != "modelname" || c.Op != OpEq || !properties.Equal(c.Value, properties.String("mnist")) {
		t.Errorf("condition 0: %+v", c)
	}
	c = f.Conditions[1]
	if !c.Custom || c.Key != "accuracy" || c.Op != OpGe || !properties.Equal(c.Value, properties.Double(0.9)) {
		t.Errorf("condition 1: %+v", c)
	}
	c = f.Conditions[2]
	if c.Key != "step" || !properties.Equal(c.Value, properties.Int(10)) {
		t.Errorf("condition 2: %+v", c)
	}
}

func TestParseFilterLiterals(t *testing.T) {
	f, err := ParseFilter(`state != 'ARCHIVED' AND prod = true AND delta > -3`)
	if err != nil {
		t.Fatal(err)
	}
	if !properties.Equal(f.Conditions[0].Value, properties.String("ARCHIVED")) {
		t.Errorf("single-quoted string: %#v", f.Conditions[0].Value)
	}
	if !properties.Equal(f.Conditions[1].Value, properties.Bool(true)) {
		t.Errorf("bool literal: %#v", f.Conditions[1].Value)
	}
	if !properties.Equal(f.Conditions[2].Value, properties.Int(-3)) {
		t.Errorf("negative int: %#v", f.Conditions[2].Value)
	}
}

func TestParseFilterErrors(t *testing.T) {
	bad := []string{
		`name =`,
		`name "x"`,
		`name = "x" AND`,
		`name = "x" OR id = 1`,
		`name = "unterminated`,
		`name == "x"`,
		`= "x"`,
		`customProperties. = 1`,
		`name = bogus`,
	}
	for _, expr := range bad {
		if _, err := ParseFilter(expr); !errors.Is(err, errdefs.ErrInvalidArgument) {
			t.Errorf("ParseFilter(%q): expected ErrInvalidArgument, got %v", expr, err)
		}
	}
}

func TestEmptyFilterMatchesEverything(t *testing.T) {
	f, err := ParseFilter("  ")
	if err != nil {
		t.Fatal(err)
	}
	if !f.Empty() || !f.Match(fields(nil, nil)) {
		t.Error("empty filter should match")
	}
}

func TestMatch(t *testing.T) {
	entity := fields(map[string]properties.Value{
		"name":  properties.String("mnist"),
		"state": properties.String("LIVE"),
		"id":    properties.Int(7),
	}, properties.Map{"accuracy": properties.Double(0.95), "epochs": properties.Int(10)})

	tests := []struct {
		expr string
		want bool
	}{
		{`name = "mnist"`, true},
		{`NAME = "mnist"`, true},
		{`name != "mnist"`, false},
		{`id > 5 AND id <= 7`, true},
		{`id >= 8`, false},
		{`customProperties.accuracy > 0.9`, true},
		{`customProperties.epochs = 10.0`, true},
		{`customProperties.epochs < 9.5`, false},
		{`customProperties.missing = 1`, false},
		{`customProperties.accuracy = "0.95"`, false},
		{`customProperties.accuracy != "0.95"`, true},
		{`owner = "alice"`, false},
		{`state = "LIVE" AND name = "other"`, false},
	}

	for _, tt := range tests {
		f, err := ParseFilter(tt.expr)
		if err != nil {
			t.Fatalf("ParseFilter(%q): %v", tt.expr, err)
		}
		if got := f.Match(entity); got != tt.want {
			t.Errorf("%q: got %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestCanonicalIgnoresSpelling(t *testing.T) {
	a, _ := ParseFilter(`model_name="x"   and id>1`)
	b, _ := ParseFilter(`modelName = 'x' AND id > 1`)
	if a.Canonical() != b.Canonical() {
		t.Errorf("%q != %q", a.Canonical(), b.Canonical())
	}
}

func TestNormalize(t *testing.T) {
	q, err := Query{PageSize: 5000}.Normalize(DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	if q.PageSize != MaxPageSize || q.OrderBy != OrderID || q.Direction != Asc {
		t.Errorf("unexpected normalized query: %+v", q)
	}

	q, _ = Query{}.Normalize(Limits{DefaultPageSize: 7})
	if q.PageSize != 7 {
		t.Errorf("default page size: %d", q.PageSize)
	}

	if _, err := (Query{OrderBy: "NAME"}).Normalize(DefaultLimits()); !errors.Is(err, errdefs.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestQueryBuilder(t *testing.T) {
	q := NewQueryBuilder().
		Where(`name = "x"`).
		OrderBy(OrderCreateTime, Desc).
		PageSize(10).
		Scope(3).
		Build()

	if q.Filter != `name = "x"` || q.OrderBy != OrderCreateTime || q.Direction != Desc || q.PageSize != 10 || q.ScopeID != 3 {
		t.Errorf("unexpected query: %+v", q)
	}
}
