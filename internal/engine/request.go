package engine

import "loom-backend/internal/query"

// Request is the per-resolver slice of a query: which resolver to run, what
// to select beneath it, and how to filter, order and page its result. For
// plain fields only Resolver matters; relationships honor the rest.
type Request struct {
	Resolver  Resolver
	Selection []any
	Where     query.Predicate
	OrderBy   []query.OrderBy
	Limit     int
	Offset    int
	Mode      Mode
	Parent    *Query
}

func NewRequest(rv Resolver) *Request {
	return &Request{Resolver: rv}
}

// SetWhere conjoins a predicate onto the nested result set.
func (r *Request) SetWhere(p query.Predicate) *Request {
	r.Where = query.ReduceAnd(r.Where, p)
	return r
}

func (r *Request) SetOrderBy(keys ...query.OrderBy) *Request {
	r.OrderBy = keys
	return r
}

func (r *Request) SetLimit(n int) *Request {
	r.Limit = n
	return r
}

func (r *Request) SetOffset(n int) *Request {
	r.Offset = n
	return r
}

func cloneRequest(r *Request) *Request {
	c := *r
	c.Selection = append([]any(nil), r.Selection...)
	c.OrderBy = append([]query.OrderBy(nil), r.OrderBy...)
	return &c
}

// ToQuery expands the request into a full query against the resolver's
// target type, used when a relationship request is executed standalone.
func (r *Request) ToQuery() *Query {
	target := r.Resolver.Target()
	if target == nil {
		target = r.Resolver.Owner()
	}
	q := target.Select(r.Selection...)
	if r.Where != nil {
		q.Where(r.Where)
	}
	if len(r.OrderBy) > 0 {
		q.OrderBy(r.OrderBy...)
	}
	if r.Limit > 0 {
		q.Limit(r.Limit)
	}
	if r.Offset > 0 {
		q.Offset(r.Offset)
	}
	q.Mode(r.Mode)
	return q
}
