package query

import (
	"testing"
)

type fieldSet map[string]struct{}

func (f fieldSet) HasField(name string) bool {
	_, ok := f[name]
	return ok
}

var testFields = fieldSet{
	"_id": {}, "age": {}, "name": {}, "color": {},
}

func TestConditionalDumpLoadRoundTrip(t *testing.T) {
	p := Gte("age", int64(10))
	data := p.Dump()

	loaded, err := Load(testFields, data)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	c, ok := loaded.(*Conditional)
	if !ok {
		t.Fatalf("expected *Conditional, got %T", loaded)
	}
	if c.Op != OpGte || c.Field != "age" || c.Value != int64(10) {
		t.Fatalf("round trip mismatch: %+v", c)
	}
}

func TestBooleanDumpLoadRoundTrip(t *testing.T) {
	p := Eq("name", "a").And(Gte("age", int64(18)).Or(Eq("color", "red")))
	data := p.Dump()

	loaded, err := Load(testFields, data)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.String() != p.String() {
		t.Fatalf("round trip mismatch: %s != %s", loaded.String(), p.String())
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	data := Eq("nope", 1).Dump()
	if _, err := Load(testFields, data); err == nil {
		t.Fatal("expected error for unknown field")
	}

	// Unknown fields nested in boolean nodes must also fail.
	nested := Eq("age", 1).And(Eq("nope", 2)).Dump()
	if _, err := Load(testFields, nested); err == nil {
		t.Fatal("expected error for unknown nested field")
	}
}

func TestLoadRejectsMalformedNodes(t *testing.T) {
	cases := []map[string]any{
		{"code": "mystery"},
		{"code": KindBoolean, "op": "xor", "lhs": Eq("age", 1).Dump(), "rhs": Eq("age", 2).Dump()},
		{"code": KindBoolean, "op": OpAnd, "lhs": Eq("age", 1).Dump()},
		{"code": KindConditional, "op": OpIn, "field": "age", "value": "not-a-list"},
	}
	for i, data := range cases {
		if _, err := Load(testFields, data); err == nil {
			t.Fatalf("case %d: expected error, got nil", i)
		}
	}
}

// And binds the receiver as the left subtree, so chaining alternating
// operators keeps explicit grouping: (a || b) && c, not a || (b && c).
func TestChainedOperatorGrouping(t *testing.T) {
	a := Eq("age", 1)
	b := Eq("age", 2)
	c := Eq("age", 3)

	p := a.Or(b).And(c)
	top, ok := p.(*Boolean)
	if !ok || top.Op != OpAnd {
		t.Fatalf("expected top-level and, got %v", p)
	}
	lhs, ok := top.Lhs.(*Boolean)
	if !ok || lhs.Op != OpOr {
		t.Fatalf("expected or subtree on the left, got %v", top.Lhs)
	}
	if top.Rhs != c {
		t.Fatalf("expected c on the right, got %v", top.Rhs)
	}
}

func TestReduceAnd(t *testing.T) {
	if got := ReduceAnd(); got != nil {
		t.Fatalf("expected nil for empty reduce, got %v", got)
	}

	single := Eq("age", 1)
	if got := ReduceAnd(nil, single, nil); got != single {
		t.Fatalf("expected identity for single predicate, got %v", got)
	}

	p := ReduceAnd(Eq("age", 1), Eq("name", "a"), Eq("color", "red"))
	top, ok := p.(*Boolean)
	if !ok || top.Op != OpAnd {
		t.Fatalf("expected and tree, got %v", p)
	}
	// Left fold: ((age && name) && color)
	if _, ok := top.Lhs.(*Boolean); !ok {
		t.Fatalf("expected nested and on the left, got %v", top.Lhs)
	}
}

func TestAndOrWithNil(t *testing.T) {
	p := Eq("age", 1)
	if got := p.And(nil); got != p {
		t.Fatalf("And(nil) should return the receiver, got %v", got)
	}
	if got := p.Or(nil); got != p {
		t.Fatalf("Or(nil) should return the receiver, got %v", got)
	}
}

func TestParseOrderBy(t *testing.T) {
	o, err := ParseOrderBy("age desc")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if o.Key != "age" || !o.Desc {
		t.Fatalf("unexpected order: %+v", o)
	}

	o, err = ParseOrderBy("name")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if o.Key != "name" || o.Desc {
		t.Fatalf("unexpected order: %+v", o)
	}

	if _, err := ParseOrderBy("name sideways"); err == nil {
		t.Fatal("expected error for bad direction")
	}
}

func TestSortMultiKey(t *testing.T) {
	records := []map[string]any{
		{"name": "b", "age": int64(2)},
		{"name": "a", "age": int64(2)},
		{"name": "c", "age": int64(1)},
	}
	cmp := func(field string, a, b any) int {
		switch av := a.(type) {
		case int64:
			bv := b.(int64)
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		case string:
			bv := b.(string)
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
		return 0
	}
	Sort(records, []OrderBy{{Key: "age", Desc: true}, {Key: "name"}}, cmp)

	want := []string{"a", "b", "c"}
	for i, name := range want {
		if records[i]["name"] != name {
			t.Fatalf("position %d: expected %s, got %v", i, name, records[i]["name"])
		}
	}
}
