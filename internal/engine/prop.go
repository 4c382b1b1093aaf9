package engine

import (
	"loom-backend/internal/query"
)

// Prop is a handle to one resolvable attribute of a type, used to build
// predicates and order-by clauses in Go code:
//
//	User.F("name").Eq("alice").And(User.F("age").Geq(18))
type Prop struct {
	owner *Type
	name  string
}

func (p *Prop) Name() string { return p.name }
func (p *Prop) Owner() *Type { return p.owner }

// Resolver returns the resolver behind this property, or nil.
func (p *Prop) Resolver() Resolver {
	return p.owner.resolvers.Get(p.name)
}

func (p *Prop) Eq(v any) query.Predicate  { return query.Eq(p.name, flattenValue(v)) }
func (p *Prop) Neq(v any) query.Predicate { return query.Neq(p.name, flattenValue(v)) }
func (p *Prop) Lt(v any) query.Predicate  { return query.Lt(p.name, flattenValue(v)) }
func (p *Prop) Leq(v any) query.Predicate { return query.Lte(p.name, flattenValue(v)) }
func (p *Prop) Gt(v any) query.Predicate  { return query.Gt(p.name, flattenValue(v)) }
func (p *Prop) Geq(v any) query.Predicate { return query.Gte(p.name, flattenValue(v)) }

// Including matches when the property value is one of the given values.
// Resources and batches collapse to their ids.
func (p *Prop) Including(vs ...any) query.Predicate {
	return query.In(p.name, flattenValues(vs)...)
}

// Excluding matches when the property value is none of the given values.
func (p *Prop) Excluding(vs ...any) query.Predicate {
	return query.NotIn(p.name, flattenValues(vs)...)
}

func (p *Prop) Asc() query.OrderBy  { return query.OrderBy{Key: p.name} }
func (p *Prop) Desc() query.OrderBy { return query.OrderBy{Key: p.name, Desc: true} }

// Select builds a request for this property carrying sub-selections, for use
// inside Query.Select when traversing relationships:
//
//	Account.Select(Account.F("owner").Select("name", "email"))
func (p *Prop) Select(selection ...any) *Request {
	req := NewRequest(p.Resolver())
	req.Selection = append(req.Selection, selection...)
	return req
}

// flattenValue reduces resources to their ids so predicates always carry
// plain comparable values.
func flattenValue(v any) any {
	switch t := v.(type) {
	case *Resource:
		return t.ID()
	default:
		return v
	}
}

func flattenValues(vs []any) []any {
	out := make([]any, 0, len(vs))
	for _, v := range vs {
		switch t := v.(type) {
		case *Resource:
			out = append(out, t.ID())
		case *Batch:
			for _, id := range t.IDs() {
				out = append(out, id)
			}
		case []*Resource:
			for _, r := range t {
				out = append(out, r.ID())
			}
		case []any:
			out = append(out, flattenValues(t)...)
		default:
			out = append(out, v)
		}
	}
	return out
}
