package schema

import (
	"testing"
	"time"
)

func TestCoerce(t *testing.T) {
	cases := []struct {
		name  string
		field Field
		in    any
		want  any
		fails bool
	}{
		{"int from float64", Field{Name: "n", Type: TypeInt}, float64(42), int64(42), false},
		{"int from string", Field{Name: "n", Type: TypeInt}, "42", int64(42), false},
		{"int from bool fails", Field{Name: "n", Type: TypeInt}, true, nil, true},
		{"float from int", Field{Name: "f", Type: TypeFloat}, 3, float64(3), false},
		{"bool from string", Field{Name: "b", Type: TypeBool}, "true", true, false},
		{"string stays", Field{Name: "s", Type: TypeString}, "x", "x", false},
		{"string from int fails", Field{Name: "s", Type: TypeString}, 1, nil, true},
		{"nil passes through", Field{Name: "s", Type: TypeString}, nil, nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.field.Coerce(tc.in)
			if tc.fails {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("coerce: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %v (%T), got %v (%T)", tc.want, tc.want, got, got)
			}
		})
	}
}

func TestCoerceTimestamp(t *testing.T) {
	f := Field{Name: "at", Type: TypeTimestamp}
	v, err := f.Coerce("2026-01-02T03:04:05Z")
	if err != nil {
		t.Fatalf("coerce: %v", err)
	}
	ts := v.(time.Time)
	if ts.Year() != 2026 || ts.Hour() != 3 {
		t.Fatalf("unexpected time: %v", ts)
	}
	if _, err := f.Coerce("not a time"); err == nil {
		t.Fatal("expected error for unparseable time")
	}
}

// Equal instants coerce to the same comparable value even when one side
// carries a monotonic clock reading and a local zone.
func TestCoerceTimestampNormalizesForEquality(t *testing.T) {
	f := Field{Name: "at", Type: TypeTimestamp}
	now := time.Now()
	a, err := f.Coerce(now)
	if err != nil {
		t.Fatalf("coerce time: %v", err)
	}
	b, err := f.Coerce(now.Format(time.RFC3339Nano))
	if err != nil {
		t.Fatalf("coerce string: %v", err)
	}
	if a != b {
		t.Fatalf("equal instants coerced unequal: %v vs %v", a, b)
	}
}

func TestCompareNilSortsFirst(t *testing.T) {
	f := Field{Name: "n", Type: TypeInt}
	if f.Compare(nil, int64(1)) != -1 {
		t.Fatal("nil should sort before values")
	}
	if f.Compare(int64(1), nil) != 1 {
		t.Fatal("values should sort after nil")
	}
	if f.Compare(nil, nil) != 0 {
		t.Fatal("nil equals nil")
	}
	if f.Compare(int64(2), int64(10)) != -1 {
		t.Fatal("int compare must be numeric, not lexical")
	}
}

func TestIsForeignKey(t *testing.T) {
	cases := []struct {
		field Field
		want  bool
	}{
		{Field{Name: "owner_id", Type: TypeUUID}, true},
		{Field{Name: ID, Type: TypeUUID}, false},
		{Field{Name: "owner_id", Type: TypeString}, false},
		{Field{Name: "owner", Type: TypeUUID}, false},
	}
	for _, tc := range cases {
		if got := tc.field.IsForeignKey(); got != tc.want {
			t.Fatalf("%s/%s: expected %v", tc.field.Name, tc.field.Type, tc.want)
		}
	}
}

func TestSchemaInjectsIdentityFields(t *testing.T) {
	s := New(Field{Name: "name", Type: TypeString, Required: true})
	if !s.Has(ID) || !s.Has(REV) {
		t.Fatal("schema missing implicit identity fields")
	}
	names := s.Names()
	if names[0] != ID || names[1] != REV {
		t.Fatalf("identity fields must lead declaration order, got %v", names)
	}
	if got := s.Required(); len(got) != 1 || got[0] != "name" {
		t.Fatalf("unexpected required set: %v", got)
	}
}

func TestSchemaForeignKeys(t *testing.T) {
	s := New(
		Field{Name: "title", Type: TypeString},
		Field{Name: "author_id", Type: TypeUUID, Nullable: true},
		Field{Name: "parent_id", Type: TypeUUID, Nullable: true},
	)
	fks := s.ForeignKeys()
	if len(fks) != 2 || fks[0] != "author_id" || fks[1] != "parent_id" {
		t.Fatalf("unexpected foreign keys: %v", fks)
	}
}
