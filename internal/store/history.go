package store

import (
	"context"
	"fmt"
	"sync"

	"loom-backend/internal/query"
	"loom-backend/internal/schema"
)

// Event is one recorded Store call.
type Event struct {
	Method string
	Args   []any
	Err    error
}

var writeMethods = map[string]struct{}{
	"Create": {}, "CreateMany": {}, "Update": {}, "UpdateMany": {},
	"Delete": {}, "DeleteMany": {}, "DeleteAll": {},
}

// IsWrite reports whether the event mutated the store.
func (e Event) IsWrite() bool {
	_, ok := writeMethods[e.Method]
	return ok
}

// Recorder wraps a Store, recording every call and annotating every error
// with the method that produced it. The engine layer binds resource types to
// a Recorder so store failures surface with call context, and tests use the
// call counts to pin down I/O behavior (one query per join hop, no fetch for
// an unset foreign key, and so on).
type Recorder struct {
	inner Store

	mu     sync.Mutex
	events []Event
}

func NewRecorder(inner Store) *Recorder {
	return &Recorder{inner: inner}
}

// Inner returns the wrapped store.
func (r *Recorder) Inner() Store { return r.inner }

// Events returns a copy of the recorded call history.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// CallCount returns how many times the named method was called.
func (r *Recorder) CallCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Method == method {
			n++
		}
	}
	return n
}

// ResetHistory clears the recorded events without touching the inner store.
func (r *Recorder) ResetHistory() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Replay re-applies the recorded write events onto another store, in order.
func (r *Recorder) Replay(ctx context.Context, target Store) error {
	for _, e := range r.Events() {
		if !e.IsWrite() || e.Err != nil {
			continue
		}
		var err error
		switch e.Method {
		case "Create":
			_, err = target.Create(ctx, e.Args[0].(map[string]any))
		case "CreateMany":
			_, err = target.CreateMany(ctx, e.Args[0].([]map[string]any))
		case "Update":
			_, err = target.Update(ctx, e.Args[0].(string), e.Args[1].(map[string]any))
		case "UpdateMany":
			_, err = target.UpdateMany(ctx, e.Args[0].([]string), e.Args[1].([]map[string]any))
		case "Delete":
			err = target.Delete(ctx, e.Args[0].(string))
		case "DeleteMany":
			err = target.DeleteMany(ctx, e.Args[0].([]string))
		case "DeleteAll":
			err = target.DeleteAll(ctx)
		}
		if err != nil {
			return fmt.Errorf("replay %s: %w", e.Method, err)
		}
	}
	return nil
}

func (r *Recorder) record(method string, err error, args ...any) error {
	r.mu.Lock()
	r.events = append(r.events, Event{Method: method, Args: args, Err: err})
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("store %s: %w", method, err)
	}
	return nil
}

func (r *Recorder) Bind(s *schema.Schema) error {
	return r.record("Bind", r.inner.Bind(s))
}

func (r *Recorder) Exists(ctx context.Context, id string) (bool, error) {
	ok, err := r.inner.Exists(ctx, id)
	return ok, r.record("Exists", err, id)
}

func (r *Recorder) ExistsMany(ctx context.Context, ids []string) (map[string]bool, error) {
	out, err := r.inner.ExistsMany(ctx, ids)
	return out, r.record("ExistsMany", err, ids)
}

func (r *Recorder) Count(ctx context.Context) (int, error) {
	n, err := r.inner.Count(ctx)
	return n, r.record("Count", err)
}

func (r *Recorder) Fetch(ctx context.Context, id string, fields []string) (map[string]any, error) {
	out, err := r.inner.Fetch(ctx, id, fields)
	return out, r.record("Fetch", err, id, fields)
}

func (r *Recorder) FetchMany(ctx context.Context, ids []string, fields []string) (map[string]map[string]any, error) {
	out, err := r.inner.FetchMany(ctx, ids, fields)
	return out, r.record("FetchMany", err, ids, fields)
}

func (r *Recorder) FetchAll(ctx context.Context, fields []string) (map[string]map[string]any, error) {
	out, err := r.inner.FetchAll(ctx, fields)
	return out, r.record("FetchAll", err, fields)
}

// Create records the stored result rather than the input, so replayed
// creates carry the assigned identity and later replayed writes hit it.
func (r *Recorder) Create(ctx context.Context, record map[string]any) (map[string]any, error) {
	out, err := r.inner.Create(ctx, record)
	if err != nil {
		return out, r.record("Create", err, record)
	}
	return out, r.record("Create", nil, out)
}

func (r *Recorder) CreateMany(ctx context.Context, records []map[string]any) ([]map[string]any, error) {
	out, err := r.inner.CreateMany(ctx, records)
	if err != nil {
		return out, r.record("CreateMany", err, records)
	}
	return out, r.record("CreateMany", nil, out)
}

func (r *Recorder) Update(ctx context.Context, id string, data map[string]any) (map[string]any, error) {
	out, err := r.inner.Update(ctx, id, data)
	return out, r.record("Update", err, id, data)
}

func (r *Recorder) UpdateMany(ctx context.Context, ids []string, data []map[string]any) (map[string]map[string]any, error) {
	out, err := r.inner.UpdateMany(ctx, ids, data)
	return out, r.record("UpdateMany", err, ids, data)
}

func (r *Recorder) Delete(ctx context.Context, id string) error {
	return r.record("Delete", r.inner.Delete(ctx, id), id)
}

func (r *Recorder) DeleteMany(ctx context.Context, ids []string) error {
	return r.record("DeleteMany", r.inner.DeleteMany(ctx, ids), ids)
}

func (r *Recorder) DeleteAll(ctx context.Context) error {
	return r.record("DeleteAll", r.inner.DeleteAll(ctx))
}

func (r *Recorder) Query(ctx context.Context, p query.Predicate, opts QueryOptions) ([]map[string]any, error) {
	out, err := r.inner.Query(ctx, p, opts)
	return out, r.record("Query", err, p, opts)
}

func (r *Recorder) CreateID(record map[string]any) string {
	return r.inner.CreateID(record)
}
