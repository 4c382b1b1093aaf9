package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"loom-backend/internal/query"
	"loom-backend/internal/schema"
)

func newBoundMemory(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	sc := schema.New(
		schema.Field{Name: "name", Type: schema.TypeString, Required: true},
		schema.Field{Name: "age", Type: schema.TypeInt},
		schema.Field{Name: "color", Type: schema.TypeString},
		schema.Field{Name: "meta", Type: schema.TypeJSON},
		schema.Field{Name: "at", Type: schema.TypeTimestamp},
	)
	if err := s.Bind(sc); err != nil {
		t.Fatalf("bind: %v", err)
	}
	return s
}

func mustCreate(t *testing.T, s *MemoryStore, record map[string]any) map[string]any {
	t.Helper()
	created, err := s.Create(context.Background(), record)
	if err != nil {
		t.Fatalf("create %v: %v", record, err)
	}
	return created
}

func TestCreateAssignsIdentityAndRevision(t *testing.T) {
	s := newBoundMemory(t)
	created := mustCreate(t, s, map[string]any{"name": "a", "age": 30})

	id, _ := created[schema.ID].(string)
	if id == "" {
		t.Fatal("expected generated _id")
	}
	if created[schema.REV] != int64(1) {
		t.Fatalf("expected _rev 1, got %v", created[schema.REV])
	}
	// int coerced to the canonical width
	if created["age"] != int64(30) {
		t.Fatalf("expected int64 age, got %T", created["age"])
	}
}

func TestUpdateMergesAndIncrementsRevision(t *testing.T) {
	s := newBoundMemory(t)
	ctx := context.Background()
	created := mustCreate(t, s, map[string]any{"name": "a", "age": 30})
	id := created[schema.ID].(string)

	updated, err := s.Update(ctx, id, map[string]any{"age": 31, "_id": "hijack", "_rev": int64(99)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated[schema.ID] != id {
		t.Fatalf("identity changed: %v", updated[schema.ID])
	}
	if updated[schema.REV] != int64(2) {
		t.Fatalf("expected _rev 2, got %v", updated[schema.REV])
	}
	if updated["name"] != "a" {
		t.Fatal("unchanged field lost on merge")
	}
	if updated["age"] != int64(31) {
		t.Fatalf("expected updated age, got %v", updated["age"])
	}
}

func TestUpdateMissingRecord(t *testing.T) {
	s := newBoundMemory(t)
	if _, err := s.Update(context.Background(), "nope", map[string]any{"age": 1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFetchPrunesToRequestedFields(t *testing.T) {
	s := newBoundMemory(t)
	ctx := context.Background()
	created := mustCreate(t, s, map[string]any{"name": "a", "age": 30, "color": "red"})
	id := created[schema.ID].(string)

	record, err := s.Fetch(ctx, id, []string{"name"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if _, ok := record["age"]; ok {
		t.Fatal("unrequested field present")
	}
	// identity and revision always come along
	if record[schema.ID] != id || record[schema.REV] != int64(1) {
		t.Fatalf("identity fields missing: %v", record)
	}
	if record["name"] != "a" {
		t.Fatalf("requested field missing: %v", record)
	}
}

func TestQueryRangeBounds(t *testing.T) {
	s := newBoundMemory(t)
	ctx := context.Background()
	for _, age := range []int{5, 10, 15, 20, 25} {
		mustCreate(t, s, map[string]any{"name": "p", "age": age})
	}

	p := query.Gte("age", 10).And(query.Lt("age", 20))
	records, err := s.Query(ctx, p, QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	ages := map[int64]bool{}
	for _, r := range records {
		ages[r["age"].(int64)] = true
	}
	if len(records) != 2 || !ages[10] || !ages[15] {
		t.Fatalf("expected ages {10, 15}, got %v", ages)
	}
}

// A timestamp stored via time.Now carries a monotonic reading; filtering on
// the same instant in wall-clock form must still find it.
func TestQueryTimestampEquality(t *testing.T) {
	s := newBoundMemory(t)
	ctx := context.Background()
	now := time.Now()
	mustCreate(t, s, map[string]any{"name": "a", "at": now})
	mustCreate(t, s, map[string]any{"name": "b", "at": now.Add(time.Hour)})

	records, err := s.Query(ctx, query.Eq("at", now.Format(time.RFC3339Nano)), QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(records) != 1 || records[0]["name"] != "a" {
		t.Fatalf("expected just a, got %v", records)
	}

	records, err = s.Query(ctx, query.In("at", now, now.Add(time.Hour)), QueryOptions{})
	if err != nil {
		t.Fatalf("in query: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected both records, got %d", len(records))
	}
}

func TestQueryNeqAndInOps(t *testing.T) {
	s := newBoundMemory(t)
	ctx := context.Background()
	mustCreate(t, s, map[string]any{"name": "a", "color": "red"})
	mustCreate(t, s, map[string]any{"name": "b", "color": "green"})
	mustCreate(t, s, map[string]any{"name": "c", "color": "blue"})

	records, err := s.Query(ctx, query.Neq("color", "red"), QueryOptions{})
	if err != nil {
		t.Fatalf("neq query: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("neq: expected 2 records, got %d", len(records))
	}

	records, err = s.Query(ctx, query.In("color", "red", "blue"), QueryOptions{})
	if err != nil {
		t.Fatalf("in query: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("in: expected 2 records, got %d", len(records))
	}

	records, err = s.Query(ctx, query.NotIn("color", "red", "blue"), QueryOptions{})
	if err != nil {
		t.Fatalf("not_in query: %v", err)
	}
	if len(records) != 1 || records[0]["name"] != "b" {
		t.Fatalf("not_in: expected just b, got %v", records)
	}
}

func TestQueryOrPredicate(t *testing.T) {
	s := newBoundMemory(t)
	ctx := context.Background()
	mustCreate(t, s, map[string]any{"name": "a", "age": 10})
	mustCreate(t, s, map[string]any{"name": "b", "age": 20})
	mustCreate(t, s, map[string]any{"name": "c", "age": 30})

	p := query.Eq("age", 10).Or(query.Eq("age", 30))
	records, err := s.Query(ctx, p, QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
}

func TestQueryOrderingAndPagination(t *testing.T) {
	s := newBoundMemory(t)
	ctx := context.Background()
	for _, n := range []string{"d", "b", "a", "c", "e"} {
		mustCreate(t, s, map[string]any{"name": n, "age": 1})
	}

	records, err := s.Query(ctx, nil, QueryOptions{
		OrderBy: []query.OrderBy{{Key: "name", Desc: true}},
		Limit:   2,
		Offset:  1,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(records) != 2 || records[0]["name"] != "d" || records[1]["name"] != "c" {
		t.Fatalf("expected [d c], got %v", records)
	}

	// Offset past the end yields empty, not an error.
	records, err = s.Query(ctx, nil, QueryOptions{Offset: 10})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

// With no order_by, results come back in _id order. Two queries over the same
// data must paginate consistently.
func TestQueryStableNativeOrder(t *testing.T) {
	s := newBoundMemory(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		mustCreate(t, s, map[string]any{"name": "x", "age": i})
	}

	var seen []string
	for page := 0; page < 5; page++ {
		records, err := s.Query(ctx, nil, QueryOptions{Limit: 2, Offset: page * 2})
		if err != nil {
			t.Fatalf("query page %d: %v", page, err)
		}
		for _, r := range records {
			seen = append(seen, r[schema.ID].(string))
		}
	}
	if len(seen) != 10 {
		t.Fatalf("pages overlapped or dropped records: %d ids", len(seen))
	}
	unique := map[string]struct{}{}
	for _, id := range seen {
		unique[id] = struct{}{}
	}
	if len(unique) != 10 {
		t.Fatal("duplicate ids across pages")
	}
}

func TestDeleteRemovesRecordAndIndexEntries(t *testing.T) {
	s := newBoundMemory(t)
	ctx := context.Background()
	created := mustCreate(t, s, map[string]any{"name": "a", "age": 30})
	id := created[schema.ID].(string)

	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Fetch(ctx, id, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	records, err := s.Query(ctx, query.Eq("age", 30), QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(records) != 0 {
		t.Fatal("index entry survived delete")
	}

	// deleting again is a no-op
	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestQueryUnindexedFieldFails(t *testing.T) {
	s := newBoundMemory(t)
	// json fields carry no ordered index
	if _, err := s.Query(context.Background(), query.Eq("meta", "x"), QueryOptions{}); err == nil {
		t.Fatal("expected error for unindexed field")
	}
}

func TestUnboundStoreRejectsWrites(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Create(context.Background(), map[string]any{"name": "a"}); !errors.Is(err, ErrNotBound) {
		t.Fatalf("expected ErrNotBound, got %v", err)
	}
}
