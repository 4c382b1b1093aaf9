package store

import (
	"testing"

	"loom-backend/internal/query"
	"loom-backend/internal/schema"
)

func newSQLForTest(d Dialect) *SQLStore {
	return &SQLStore{
		dialect: d,
		table:   "users",
		schema: schema.New(
			schema.Field{Name: "name", Type: schema.TypeString},
			schema.Field{Name: "age", Type: schema.TypeInt},
		),
	}
}

func TestBuildWherePostgres(t *testing.T) {
	s := newSQLForTest(&PostgresDialect{})
	pb := s.dialect.NewParamBuilder()

	p := query.Gte("age", int64(10)).And(query.Lt("age", int64(20)).Or(query.Eq("name", "a")))
	sql, err := s.buildWhere(p, pb)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := "(age >= $1 AND (age < $2 OR name = $3))"
	if sql != want {
		t.Fatalf("expected %q, got %q", want, sql)
	}
	params := pb.Params()
	if len(params) != 3 || params[0] != int64(10) || params[2] != "a" {
		t.Fatalf("unexpected params: %v", params)
	}
}

func TestBuildWherePostgresInUsesArrayParam(t *testing.T) {
	s := newSQLForTest(&PostgresDialect{})
	pb := s.dialect.NewParamBuilder()

	sql, err := s.buildWhere(query.In("name", "a", "b"), pb)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if sql != "name = ANY($1)" {
		t.Fatalf("unexpected sql: %q", sql)
	}
	if pb.Count() != 1 {
		t.Fatalf("expected a single array param, got %d", pb.Count())
	}
}

func TestBuildWhereSQLiteExpandsIn(t *testing.T) {
	s := newSQLForTest(&SQLiteDialect{})
	pb := s.dialect.NewParamBuilder()

	sql, err := s.buildWhere(query.In("name", "a", "b", "c"), pb)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if sql != "name IN (?1, ?2, ?3)" {
		t.Fatalf("unexpected sql: %q", sql)
	}
	if pb.Count() != 3 {
		t.Fatalf("expected 3 params, got %d", pb.Count())
	}

	pb = s.dialect.NewParamBuilder()
	sql, err = s.buildWhere(query.In("name"), pb)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if sql != "1=0" {
		t.Fatalf("empty in should never match, got %q", sql)
	}
}

func TestBuildWhereNilComparisons(t *testing.T) {
	s := newSQLForTest(&PostgresDialect{})
	pb := s.dialect.NewParamBuilder()

	sql, err := s.buildWhere(query.Eq("name", nil), pb)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if sql != "name IS NULL" {
		t.Fatalf("unexpected sql: %q", sql)
	}

	sql, err = s.buildWhere(query.Neq("name", nil), pb)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if sql != "name IS NOT NULL" {
		t.Fatalf("unexpected sql: %q", sql)
	}
	if pb.Count() != 0 {
		t.Fatal("null comparisons must not bind params")
	}
}

func TestBuildWhereRejectsUnknownField(t *testing.T) {
	s := newSQLForTest(&PostgresDialect{})
	pb := s.dialect.NewParamBuilder()
	if _, err := s.buildWhere(query.Eq("ghost", 1), pb); err == nil {
		t.Fatal("expected error for unknown column")
	}
}

func TestColumnListAlwaysIncludesIdentity(t *testing.T) {
	s := newSQLForTest(&PostgresDialect{})
	cols := s.columnList([]string{"name"})
	if cols != "_id, _rev, name" {
		t.Fatalf("unexpected column list: %q", cols)
	}
	if all := s.columnList(nil); all != "_id, _rev, name, age" {
		t.Fatalf("unexpected full column list: %q", all)
	}
}
