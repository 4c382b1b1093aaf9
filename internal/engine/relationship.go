package engine

import (
	"context"
	"fmt"
	"strings"

	"loom-backend/internal/query"
)

// JoinSpec names one hop of a relationship join chain symbolically, so types
// can reference each other before both are registered:
//
//	{Left: "User._id", Right: "Account.owner_id"}
type JoinSpec struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

// Join is a bound hop: the left field lives on the hop's source type, the
// right field on RightType.
type Join struct {
	LeftField  string
	RightType  *Type
	RightField string
}

// Relationship resolves related resources by walking a chain of joins. A
// single hop covers plain foreign keys in either direction; two hops cover
// many-to-many through an association type. The final hop's type is the
// relationship's target.
type Relationship struct {
	resolverBase
	specs []JoinSpec
	joins []Join
}

func NewRelationship(owner *Type, name string, joins []JoinSpec, many, nullable bool) *Relationship {
	return &Relationship{
		resolverBase: resolverBase{
			name:     name,
			owner:    owner,
			many:     many,
			nullable: nullable,
			priority: PriorityRelationship,
			tags:     []string{"relationships"},
		},
		specs: joins,
	}
}

func (rel *Relationship) Joins() []Join { return rel.joins }

func (rel *Relationship) Bind(reg *Registry) error {
	if len(rel.specs) == 0 {
		return AmbiguousJoinError(rel.owner.Name(), rel.name, "relationship has no joins")
	}
	rel.joins = make([]Join, 0, len(rel.specs))
	source := rel.owner
	for _, spec := range rel.specs {
		leftType, leftField, err := splitJoinRef(spec.Left)
		if err != nil {
			return AmbiguousJoinError(rel.owner.Name(), rel.name, err.Error())
		}
		rightType, rightField, err := splitJoinRef(spec.Right)
		if err != nil {
			return AmbiguousJoinError(rel.owner.Name(), rel.name, err.Error())
		}
		if leftType != source.Name() {
			return AmbiguousJoinError(rel.owner.Name(), rel.name,
				fmt.Sprintf("join left side %s does not continue from %s", spec.Left, source.Name()))
		}
		if !source.schema.Has(leftField) {
			return AmbiguousJoinError(rel.owner.Name(), rel.name,
				fmt.Sprintf("unknown join field %s", spec.Left))
		}
		target := reg.lookup(rightType)
		if target == nil {
			return AmbiguousJoinError(rel.owner.Name(), rel.name,
				fmt.Sprintf("unknown join type %s", rightType))
		}
		if !target.schema.Has(rightField) {
			return AmbiguousJoinError(rel.owner.Name(), rel.name,
				fmt.Sprintf("unknown join field %s", spec.Right))
		}
		rel.joins = append(rel.joins, Join{
			LeftField:  leftField,
			RightType:  target,
			RightField: rightField,
		})
		source = target
	}
	rel.target = rel.joins[len(rel.joins)-1].RightType
	return nil
}

func splitJoinRef(ref string) (typeName, field string, err error) {
	parts := strings.SplitN(ref, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("join reference %q is not Type.field", ref)
	}
	return parts[0], parts[1], nil
}

// Resolve walks the join chain for one resource, issuing one store query per
// hop. A nil join key short-circuits to the empty result without any query.
func (rel *Relationship) Resolve(ctx context.Context, r *Resource, req *Request) (any, error) {
	values := []any{}
	if v, ok := r.state[rel.joins[0].LeftField]; ok && v != nil {
		values = append(values, v)
	}
	batch, err := rel.walk(ctx, values, req)
	if err != nil {
		return nil, err
	}
	return rel.collapse(batch), nil
}

// ResolveBatch resolves the relationship for a whole batch with one store
// query per hop regardless of batch size.
func (rel *Relationship) ResolveBatch(ctx context.Context, batch *Batch, req *Request) (map[string]any, bool, error) {
	left := rel.joins[0].LeftField
	values := make([]any, 0, batch.Len())
	seen := make(map[any]struct{}, batch.Len())
	for _, r := range batch.Items() {
		v, ok := r.state[left]
		if !ok || v == nil {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		values = append(values, v)
	}

	related, err := rel.walkTracked(ctx, values, req)
	if err != nil {
		return nil, true, err
	}

	out := make(map[string]any, batch.Len())
	for _, r := range batch.Items() {
		v, ok := r.state[left]
		var matched []*Resource
		if ok && v != nil {
			matched = related[v]
		}
		if rel.many {
			out[r.ID()] = NewBatch(rel.target, matched...)
		} else if len(matched) > 0 {
			out[r.ID()] = matched[0]
		} else {
			out[r.ID()] = nil
		}
	}
	return out, true, nil
}

// walk runs the hops for a set of starting join values and returns the final
// hop's resources. Empty input short-circuits every hop.
func (rel *Relationship) walk(ctx context.Context, values []any, req *Request) ([]*Resource, error) {
	current := values
	var result []*Resource
	for i, hop := range rel.joins {
		if len(current) == 0 {
			return nil, nil
		}
		last := i == len(rel.joins)-1
		nextLeft := ""
		if !last {
			nextLeft = rel.joins[i+1].LeftField
		}
		q, err := rel.hopQuery(hop, nextLeft, current, last, req)
		if err != nil {
			return nil, err
		}
		b, err := q.Execute(ctx)
		if err != nil {
			return nil, err
		}
		if last {
			result = b.Items()
		} else {
			current = distinctValues(b.Items(), nextLeft)
		}
	}
	return result, nil
}

// walkTracked is walk but keyed: the result maps each starting value to the
// final resources reachable from it, so batch resolution can fan results back
// out to their source resources. Intermediate hops thread the origin value
// through each level of the traversal.
func (rel *Relationship) walkTracked(ctx context.Context, values []any, req *Request) (map[any][]*Resource, error) {
	// origin[v] is the set of starting values that reach hop-input value v.
	origins := make(map[any][]any, len(values))
	for _, v := range values {
		origins[v] = []any{v}
	}
	current := values
	result := make(map[any][]*Resource, len(values))
	for i, hop := range rel.joins {
		if len(current) == 0 {
			return result, nil
		}
		last := i == len(rel.joins)-1
		nextLeft := ""
		if !last {
			nextLeft = rel.joins[i+1].LeftField
		}
		q, err := rel.hopQuery(hop, nextLeft, current, last, req)
		if err != nil {
			return nil, err
		}
		b, err := q.Execute(ctx)
		if err != nil {
			return nil, err
		}
		if last {
			for _, item := range b.Items() {
				rv := item.state[hop.RightField]
				for _, origin := range origins[rv] {
					result[origin] = append(result[origin], item)
				}
			}
			return result, nil
		}
		next := rel.joins[i+1]
		nextOrigins := make(map[any][]any)
		nextValues := make([]any, 0, b.Len())
		for _, item := range b.Items() {
			rv := item.state[hop.RightField]
			nv := item.state[next.LeftField]
			if nv == nil {
				continue
			}
			if _, ok := nextOrigins[nv]; !ok {
				nextValues = append(nextValues, nv)
			}
			nextOrigins[nv] = append(nextOrigins[nv], origins[rv]...)
		}
		origins = nextOrigins
		current = nextValues
	}
	return result, nil
}

// hopQuery builds the store query for one hop. An intermediate hop selects
// its own join key and the next hop's left field, nothing more; the final hop
// folds in the caller's request.
func (rel *Relationship) hopQuery(hop Join, nextLeft string, values []any, last bool, req *Request) (*Query, error) {
	var where query.Predicate
	if len(values) == 1 {
		where = query.Eq(hop.RightField, values[0])
	} else {
		where = query.In(hop.RightField, values...)
	}
	q := hop.RightType.Select()
	if last {
		if req != nil {
			if len(req.Selection) > 0 {
				q = hop.RightType.Select(req.Selection...)
			}
			if req.Where != nil {
				q.Where(req.Where)
			}
			if len(req.OrderBy) > 0 {
				q.OrderBy(req.OrderBy...)
			}
			if req.Limit > 0 {
				q.Limit(req.Limit)
			}
			if req.Offset > 0 {
				q.Offset(req.Offset)
			}
		}
		q.Select(hop.RightField)
	} else {
		q = hop.RightType.Select(hop.RightField, nextLeft)
	}
	q.Where(where)
	if q.err != nil {
		return nil, q.err
	}
	return q, nil
}

func (rel *Relationship) collapse(items []*Resource) any {
	if rel.many {
		return NewBatch(rel.target, items...)
	}
	if len(items) == 0 {
		return nil
	}
	return items[0]
}

func (rel *Relationship) Simulate(r *Resource, req *Request) (any, error) {
	if rel.many {
		return rel.target.Generate(3), nil
	}
	return rel.target.generateOne(), nil
}

// distinctValues collects the non-nil values of a field across resources,
// deduplicated, preserving first-seen order.
func distinctValues(items []*Resource, field string) []any {
	seen := make(map[any]struct{}, len(items))
	out := make([]any, 0, len(items))
	for _, r := range items {
		v := r.state[field]
		if v == nil {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
