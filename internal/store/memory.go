package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"loom-backend/internal/query"
	"loom-backend/internal/schema"
)

// MemoryStore is the reference Store implementation: an in-memory keyed
// record space with one ordered index per indexable field. It is the
// normative interpretation of the Store contract and doubles as the backing
// for tests and fixture simulation.
type MemoryStore struct {
	mu      sync.RWMutex
	schema  *schema.Schema
	records map[string]map[string]any
	indexes map[string]*fieldIndex
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	s.reset()
	return s
}

func (s *MemoryStore) reset() {
	s.records = make(map[string]map[string]any)
	s.indexes = make(map[string]*fieldIndex)
}

// Bind builds one ordered index per indexable schema field.
func (s *MemoryStore) Bind(sc *schema.Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schema = sc
	for _, f := range sc.Fields() {
		if f.Indexable() {
			s.indexes[f.Name] = newFieldIndex(f)
		}
	}
	return nil
}

// Reset drops all records and rebuilds empty indexes. Test support.
func (s *MemoryStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc := s.schema
	s.reset()
	if sc != nil {
		s.schema = sc
		for _, f := range sc.Fields() {
			if f.Indexable() {
				s.indexes[f.Name] = newFieldIndex(f)
			}
		}
	}
}

func (s *MemoryStore) Exists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[id]
	return ok, nil
}

func (s *MemoryStore) ExistsMany(_ context.Context, ids []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		_, ok := s.records[id]
		out[id] = ok
	}
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *MemoryStore) Fetch(_ context.Context, id string, fields []string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return PruneRecord(record, FieldSet(fields)), nil
}

func (s *MemoryStore) FetchMany(_ context.Context, ids []string, fields []string) (map[string]map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetchManyLocked(ids, fields), nil
}

func (s *MemoryStore) fetchManyLocked(ids []string, fields []string) map[string]map[string]any {
	set := FieldSet(fields)
	out := make(map[string]map[string]any, len(ids))
	for _, id := range ids {
		if record, ok := s.records[id]; ok {
			out[id] = PruneRecord(record, set)
		}
	}
	return out
}

func (s *MemoryStore) FetchAll(_ context.Context, fields []string) (map[string]map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := FieldSet(fields)
	out := make(map[string]map[string]any, len(s.records))
	for id, record := range s.records {
		out[id] = PruneRecord(record, set)
	}
	return out, nil
}

func (s *MemoryStore) Create(_ context.Context, record map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(record)
}

func (s *MemoryStore) createLocked(record map[string]any) (map[string]any, error) {
	if s.schema == nil {
		return nil, ErrNotBound
	}
	stored, err := s.coerceRecord(record)
	if err != nil {
		return nil, err
	}
	id, _ := stored[schema.ID].(string)
	if id == "" {
		id = s.CreateID(record)
		stored[schema.ID] = id
	}
	if _, ok := stored[schema.REV]; !ok {
		stored[schema.REV] = int64(1)
	}
	s.records[id] = stored
	s.indexUpsert(id, stored, nil)
	return cloneRecord(stored), nil
}

func (s *MemoryStore) CreateMany(_ context.Context, records []map[string]any) ([]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, 0, len(records))
	for _, record := range records {
		created, err := s.createLocked(record)
		if err != nil {
			return nil, err
		}
		out = append(out, created)
	}
	return out, nil
}

// Update removes the stale index entries for exactly the fields being
// changed, merges the new data over the old record, bumps _rev and
// re-indexes. The identity field never changes.
func (s *MemoryStore) Update(_ context.Context, id string, data map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(id, data)
}

func (s *MemoryStore) updateLocked(id string, data map[string]any) (map[string]any, error) {
	old, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("update %s: %w", id, ErrNotFound)
	}
	coerced, err := s.coerceRecord(data)
	if err != nil {
		return nil, err
	}
	delete(coerced, schema.ID)
	delete(coerced, schema.REV)

	changed := make(map[string]struct{}, len(coerced)+1)
	for k := range coerced {
		changed[k] = struct{}{}
	}
	changed[schema.REV] = struct{}{}
	s.indexRemove(id, old, changed)

	merged := cloneRecord(old)
	for k, v := range coerced {
		merged[k] = v
	}
	oldRev, _ := old[schema.REV].(int64)
	merged[schema.REV] = oldRev + 1

	s.records[id] = merged
	s.indexUpsert(id, merged, changed)
	return cloneRecord(merged), nil
}

func (s *MemoryStore) UpdateMany(_ context.Context, ids []string, data []map[string]any) (map[string]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[string]any, len(ids))
	for i, id := range ids {
		if i >= len(data) {
			break
		}
		updated, err := s.updateLocked(id, data[i])
		if err != nil {
			return nil, err
		}
		out[id] = updated
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(id)
	return nil
}

func (s *MemoryStore) deleteLocked(id string) {
	record, ok := s.records[id]
	if !ok {
		return
	}
	s.indexRemove(id, record, nil)
	delete(s.records, id)
}

func (s *MemoryStore) DeleteMany(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.deleteLocked(id)
	}
	return nil
}

func (s *MemoryStore) DeleteAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.records {
		s.deleteLocked(id)
	}
	return nil
}

// Query computes the matching id set from the indexes, fetches pruned copies,
// orders them and paginates. Records with no order_by come back in _id order
// (the store-native order, kept deterministic for pagination).
func (s *MemoryStore) Query(_ context.Context, p query.Predicate, opts QueryOptions) ([]map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.schema == nil {
		return nil, ErrNotBound
	}

	idSet, err := s.evalPredicate(p)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	byID := s.fetchManyLocked(ids, opts.Fields)
	records := make([]map[string]any, 0, len(byID))
	for _, id := range ids {
		if record, ok := byID[id]; ok {
			records = append(records, record)
		}
	}

	if len(opts.OrderBy) > 0 {
		query.Sort(records, opts.OrderBy, func(field string, a, b any) int {
			if f := s.schema.Get(field); f != nil {
				return f.Compare(a, b)
			}
			return 0
		})
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(records) {
			records = nil
		} else {
			records = records[opts.Offset:]
		}
	}
	if opts.Limit > 0 && opts.Limit < len(records) {
		records = records[:opts.Limit]
	}
	return records, nil
}

func (s *MemoryStore) CreateID(record map[string]any) string {
	if id, ok := record[schema.ID].(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// evalPredicate recursively computes the id set satisfying p. A nil
// predicate matches every record.
func (s *MemoryStore) evalPredicate(p query.Predicate) (map[string]struct{}, error) {
	if p == nil {
		all := make(map[string]struct{}, len(s.records))
		for id := range s.records {
			all[id] = struct{}{}
		}
		return all, nil
	}

	switch node := p.(type) {
	case *query.Conditional:
		return s.evalConditional(node)
	case *query.Boolean:
		switch node.Op {
		case query.OpAnd:
			// short-circuit: an empty left side can never intersect
			lhs, err := s.evalPredicate(node.Lhs)
			if err != nil || len(lhs) == 0 {
				return nil, err
			}
			rhs, err := s.evalPredicate(node.Rhs)
			if err != nil {
				return nil, err
			}
			out := make(map[string]struct{})
			for id := range lhs {
				if _, ok := rhs[id]; ok {
					out[id] = struct{}{}
				}
			}
			return out, nil
		case query.OpOr:
			lhs, err := s.evalPredicate(node.Lhs)
			if err != nil {
				return nil, err
			}
			rhs, err := s.evalPredicate(node.Rhs)
			if err != nil {
				return nil, err
			}
			out := make(map[string]struct{}, len(lhs)+len(rhs))
			for id := range lhs {
				out[id] = struct{}{}
			}
			for id := range rhs {
				out[id] = struct{}{}
			}
			return out, nil
		default:
			return nil, fmt.Errorf("memory store: unrecognized boolean op %q", node.Op)
		}
	default:
		return nil, fmt.Errorf("memory store: unrecognized predicate kind %q", p.Kind())
	}
}

func (s *MemoryStore) evalConditional(p *query.Conditional) (map[string]struct{}, error) {
	idx, ok := s.indexes[p.Field]
	if !ok {
		return nil, fmt.Errorf("memory store: no index for field %q", p.Field)
	}
	field := idx.field

	coerceScalar := func(v any) (any, error) {
		return field.Coerce(v)
	}

	switch p.Op {
	case query.OpEq:
		v, err := coerceScalar(p.Value)
		if err != nil {
			return nil, err
		}
		return cloneIDSet(idx.ids[v]), nil

	case query.OpNeq:
		// linear scan over distinct keys rather than an anti-join
		v, err := coerceScalar(p.Value)
		if err != nil {
			return nil, err
		}
		out := make(map[string]struct{})
		for _, key := range idx.keys {
			if key == v {
				continue
			}
			for id := range idx.ids[key] {
				out[id] = struct{}{}
			}
		}
		return out, nil

	case query.OpIn:
		out := make(map[string]struct{})
		for _, raw := range p.Values {
			v, err := coerceScalar(raw)
			if err != nil {
				return nil, err
			}
			for id := range idx.ids[v] {
				out[id] = struct{}{}
			}
		}
		return out, nil

	case query.OpNotIn:
		excluded := make(map[any]struct{}, len(p.Values))
		for _, raw := range p.Values {
			v, err := coerceScalar(raw)
			if err != nil {
				return nil, err
			}
			excluded[v] = struct{}{}
		}
		out := make(map[string]struct{})
		for _, key := range idx.keys {
			if _, skip := excluded[key]; skip {
				continue
			}
			for id := range idx.ids[key] {
				out[id] = struct{}{}
			}
		}
		return out, nil

	case query.OpLt, query.OpLte, query.OpGt, query.OpGte:
		v, err := coerceScalar(p.Value)
		if err != nil {
			return nil, err
		}
		lo, hi := idx.cut(p.Op, v)
		out := make(map[string]struct{})
		for _, key := range idx.keys[lo:hi] {
			for id := range idx.ids[key] {
				out[id] = struct{}{}
			}
		}
		return out, nil

	default:
		return nil, fmt.Errorf("memory store: unrecognized op %q", p.Op)
	}
}

func (s *MemoryStore) indexUpsert(id string, record map[string]any, only map[string]struct{}) {
	for k, v := range record {
		if only != nil {
			if _, ok := only[k]; !ok {
				continue
			}
		}
		if idx, ok := s.indexes[k]; ok {
			idx.insert(v, id)
		}
	}
}

func (s *MemoryStore) indexRemove(id string, record map[string]any, only map[string]struct{}) {
	for k, v := range record {
		if only != nil {
			if _, ok := only[k]; !ok {
				continue
			}
		}
		if idx, ok := s.indexes[k]; ok {
			idx.remove(v, id)
		}
	}
}

// coerceRecord normalizes every schema-known value in the record so index
// keys compare consistently. Unknown keys pass through untouched.
func (s *MemoryStore) coerceRecord(record map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(record))
	for k, v := range record {
		if f := s.schema.Get(k); f != nil {
			coerced, err := f.Coerce(v)
			if err != nil {
				return nil, fmt.Errorf("memory store: %w", err)
			}
			out[k] = coerced
		} else {
			out[k] = v
		}
	}
	return out, nil
}

// fieldIndex is an ordered index for one field: the sorted distinct values
// and, per value, the set of record ids carrying it.
type fieldIndex struct {
	field schema.Field
	keys  []any
	ids   map[any]map[string]struct{}
}

func newFieldIndex(f schema.Field) *fieldIndex {
	return &fieldIndex{field: f, ids: make(map[any]map[string]struct{})}
}

func (idx *fieldIndex) insert(v any, id string) {
	set, ok := idx.ids[v]
	if !ok {
		set = make(map[string]struct{})
		idx.ids[v] = set
		i := idx.bisectLeft(v)
		idx.keys = append(idx.keys, nil)
		copy(idx.keys[i+1:], idx.keys[i:])
		idx.keys[i] = v
	}
	set[id] = struct{}{}
}

func (idx *fieldIndex) remove(v any, id string) {
	set, ok := idx.ids[v]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(idx.ids, v)
		i := idx.bisectLeft(v)
		if i < len(idx.keys) && idx.keys[i] == v {
			idx.keys = append(idx.keys[:i], idx.keys[i+1:]...)
		}
	}
}

func (idx *fieldIndex) bisectLeft(v any) int {
	return sort.Search(len(idx.keys), func(i int) bool {
		return idx.field.Compare(idx.keys[i], v) >= 0
	})
}

func (idx *fieldIndex) bisectRight(v any) int {
	return sort.Search(len(idx.keys), func(i int) bool {
		return idx.field.Compare(idx.keys[i], v) > 0
	})
}

// cut bisects the sorted key array for a range operator, returning the
// [lo, hi) interval of matching keys.
func (idx *fieldIndex) cut(op string, v any) (int, int) {
	switch op {
	case query.OpGte:
		return idx.bisectLeft(v), len(idx.keys)
	case query.OpGt:
		return idx.bisectRight(v), len(idx.keys)
	case query.OpLt:
		return 0, idx.bisectLeft(v)
	default: // lte
		return 0, idx.bisectRight(v)
	}
}

func cloneRecord(record map[string]any) map[string]any {
	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = v
	}
	return out
}

func cloneIDSet(set map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(set))
	for id := range set {
		out[id] = struct{}{}
	}
	return out
}
