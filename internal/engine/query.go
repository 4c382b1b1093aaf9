package engine

import (
	"context"

	"loom-backend/internal/query"
	"loom-backend/internal/schema"
)

// Query builds and executes a fetch against one resource type. Construction
// validates eagerly: the first unknown selection, filter field or sort key is
// recorded and surfaced from Execute before any store I/O happens.
//
// A fresh query selects the type's required fields and foreign keys; explicit
// selections add to that floor. Where conjoins across calls, OrderBy replaces.
type Query struct {
	target   *Type
	requests map[string]*Request
	order    []string
	where    query.Predicate
	orderBy  []query.OrderBy
	limit    int
	offset   int
	mode     Mode
	err      error
}

func NewQuery(target *Type) *Query {
	q := &Query{
		target:   target,
		requests: make(map[string]*Request),
	}
	for _, name := range target.schema.Required() {
		q.selectName(name)
	}
	for _, name := range target.schema.ForeignKeys() {
		q.selectName(name)
	}
	q.selectName(schema.ID)
	q.selectName(schema.REV)
	return q
}

func (q *Query) Target() *Type { return q.target }

// Err returns the first construction error, if any.
func (q *Query) Err() error { return q.err }

func (q *Query) fail(err error) *Query {
	if q.err == nil {
		q.err = err
	}
	return q
}

func (q *Query) selectName(name string) {
	if _, ok := q.requests[name]; ok {
		return
	}
	rv := q.target.resolvers.Get(name)
	if rv == nil {
		q.fail(UnknownResolverError(q.target.Name(), name))
		return
	}
	q.requests[name] = NewRequest(rv)
	q.requests[name].Parent = q
	q.order = append(q.order, name)
}

// Select adds selections: attribute names, field properties, sub-requests
// built via Prop.Select, or nested slices of any of these.
func (q *Query) Select(selection ...any) *Query {
	for _, item := range selection {
		switch t := item.(type) {
		case nil:
		case string:
			q.selectName(t)
		case *Prop:
			q.selectName(t.Name())
		case *Request:
			if t.Resolver == nil {
				q.fail(UnknownResolverError(q.target.Name(), "<nil>"))
				continue
			}
			name := t.Resolver.Name()
			if !q.target.resolvers.Has(name) {
				q.fail(UnknownResolverError(q.target.Name(), name))
				continue
			}
			if _, ok := q.requests[name]; !ok {
				q.order = append(q.order, name)
			}
			t.Parent = q
			q.requests[name] = t
		case []any:
			q.Select(t...)
		case []string:
			for _, name := range t {
				q.selectName(name)
			}
		case *Type:
			if t != q.target {
				q.fail(UnknownResolverError(q.target.Name(), t.Name()))
				continue
			}
			for _, name := range t.resolvers.Names() {
				q.selectName(name)
			}
		default:
			q.fail(UnknownResolverError(q.target.Name(), describe(t)))
		}
	}
	return q
}

// Where conjoins the given predicates onto the query filter. Every referenced
// field must be a schema field of the target type.
func (q *Query) Where(predicates ...query.Predicate) *Query {
	for _, p := range predicates {
		if p == nil {
			continue
		}
		for _, field := range p.Fields() {
			if !q.target.schema.Has(field) {
				q.fail(UnknownResolverError(q.target.Name(), field))
			}
		}
		q.where = query.ReduceAnd(q.where, p)
	}
	return q
}

// WhereEq is sugar for a single equality filter.
func (q *Query) WhereEq(field string, value any) *Query {
	return q.Where(query.Eq(field, value))
}

// OrderBy replaces the sort order. Keys must be schema fields.
func (q *Query) OrderBy(orderBy ...query.OrderBy) *Query {
	for _, o := range orderBy {
		if !q.target.schema.Has(o.Key) {
			q.fail(UnknownResolverError(q.target.Name(), o.Key))
		}
	}
	q.orderBy = orderBy
	return q
}

// SortBy is OrderBy for textual keys: "field", "field asc" or "field desc".
func (q *Query) SortBy(keys ...string) *Query {
	orderBy := make([]query.OrderBy, 0, len(keys))
	for _, key := range keys {
		o, err := query.ParseOrderBy(key)
		if err != nil {
			return q.fail(NewAppError("INVALID_PAYLOAD", 400, err.Error()))
		}
		orderBy = append(orderBy, o)
	}
	return q.OrderBy(orderBy...)
}

// Limit caps the result size. Values below 1 clear the cap.
func (q *Query) Limit(n int) *Query {
	if n < 1 {
		n = 0
	}
	q.limit = n
	return q
}

// Offset skips leading results. Values below 0 clamp to 0.
func (q *Query) Offset(n int) *Query {
	if n < 0 {
		n = 0
	}
	q.offset = n
	return q
}

// Mode overrides the execution mode for this query only.
func (q *Query) Mode(m Mode) *Query {
	q.mode = m
	return q
}

// Requests returns the selected requests in selection order.
func (q *Query) Requests() []*Request {
	out := make([]*Request, 0, len(q.order))
	for _, name := range q.order {
		out = append(out, q.requests[name])
	}
	return out
}

// Merge combines another query targeting the same type into this one (or a
// copy when inPlace is false): selections union, filters conjoin, and the
// other query's ordering and paging win when set. Merged requests are copied,
// never shared, so executing one query cannot touch the other.
func (q *Query) Merge(other *Query, inPlace bool) *Query {
	target := q
	if !inPlace {
		target = NewQuery(q.target)
		for _, name := range q.order {
			target.Select(cloneRequest(q.requests[name]))
		}
		target.where = q.where
		target.orderBy = q.orderBy
		target.limit = q.limit
		target.offset = q.offset
		target.mode = q.mode
		target.err = q.err
	}
	if other == nil {
		return target
	}
	for _, name := range other.order {
		target.Select(cloneRequest(other.requests[name]))
	}
	target.Where(other.where)
	if len(other.orderBy) > 0 {
		target.orderBy = other.orderBy
	}
	if other.limit > 0 {
		target.limit = other.limit
	}
	if other.offset > 0 {
		target.offset = other.offset
	}
	if other.mode != ModeDefault {
		target.mode = other.mode
	}
	if target.err == nil {
		target.err = other.err
	}
	return target
}

// Execute runs the query and returns the matching resources with every
// selected attribute resolved.
func (q *Query) Execute(ctx context.Context) (*Batch, error) {
	if q.err != nil {
		return nil, q.err
	}
	return newExecutor(q).Execute(ctx)
}

// First executes with limit 1 and returns the single result or nil.
func (q *Query) First(ctx context.Context) (*Resource, error) {
	b, err := q.Limit(1).Execute(ctx)
	if err != nil {
		return nil, err
	}
	return b.First(), nil
}

// Dump returns a JSON-safe description of the query.
func (q *Query) Dump() map[string]any {
	out := map[string]any{
		"target": q.target.Name(),
		"select": append([]string(nil), q.order...),
	}
	if q.where != nil {
		out["where"] = q.where.Dump()
	}
	if len(q.orderBy) > 0 {
		keys := make([]string, len(q.orderBy))
		for i, o := range q.orderBy {
			keys[i] = o.String()
		}
		out["order_by"] = keys
	}
	if q.limit > 0 {
		out["limit"] = q.limit
	}
	if q.offset > 0 {
		out["offset"] = q.offset
	}
	return out
}

func describe(v any) string {
	if s, ok := v.(interface{ Name() string }); ok {
		return s.Name()
	}
	return "<unselectable>"
}
