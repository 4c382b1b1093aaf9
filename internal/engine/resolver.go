package engine

import (
	"context"
	"fmt"
	"sort"
)

// Resolver priorities. Lower runs earlier during execution; field loaders
// run before relationships, which run before computed attributes.
const (
	PriorityLoader       = 1
	PriorityRelationship = 10
	PriorityComputed     = 100
)

// Execution modes. Normal resolves against stores; simulation fabricates
// values from the schema instead of touching any backend.
type Mode int

const (
	ModeDefault Mode = iota
	ModeNormal
	ModeSimulation
	ModeBackfill
)

// Resolver computes the value of one named attribute of a resource type.
// Schema fields, relationships and computed attributes all implement it, so
// query planning and execution treat every selectable name uniformly.
type Resolver interface {
	Name() string
	Owner() *Type
	Target() *Type
	Many() bool
	Nullable() bool
	Required() bool
	Private() bool
	Priority() int
	Tags() []string

	// Bind runs during registry binding, after all types are registered, so
	// forward references between types can be resolved.
	Bind(reg *Registry) error

	// Resolve computes the value for one resource.
	Resolve(ctx context.Context, r *Resource, req *Request) (any, error)

	// ResolveBatch computes values for a whole batch at once, keyed by source
	// resource id. The second return is false when the resolver has no batch
	// strategy and the executor should fall back to per-resource Resolve.
	ResolveBatch(ctx context.Context, b *Batch, req *Request) (map[string]any, bool, error)

	// Simulate fabricates a plausible value without store access.
	Simulate(r *Resource, req *Request) (any, error)
}

// resolverBase carries the shared metadata and default behavior; concrete
// resolvers embed it and override what they need.
type resolverBase struct {
	name     string
	owner    *Type
	target   *Type
	many     bool
	nullable bool
	required bool
	private  bool
	priority int
	tags     []string
}

func (b *resolverBase) Name() string   { return b.name }
func (b *resolverBase) Owner() *Type   { return b.owner }
func (b *resolverBase) Target() *Type  { return b.target }
func (b *resolverBase) Many() bool     { return b.many }
func (b *resolverBase) Nullable() bool { return b.nullable }
func (b *resolverBase) Required() bool { return b.required }
func (b *resolverBase) Private() bool  { return b.private }
func (b *resolverBase) Priority() int  { return b.priority }
func (b *resolverBase) Tags() []string { return b.tags }

func (b *resolverBase) Bind(reg *Registry) error { return nil }

func (b *resolverBase) Resolve(ctx context.Context, r *Resource, req *Request) (any, error) {
	return nil, &AppError{
		Code:    "NOT_IMPLEMENTED",
		Status:  500,
		Message: fmt.Sprintf("resolver %s.%s has no resolve behavior", b.owner.Name(), b.name),
	}
}

func (b *resolverBase) ResolveBatch(ctx context.Context, batch *Batch, req *Request) (map[string]any, bool, error) {
	return nil, false, nil
}

func (b *resolverBase) Simulate(r *Resource, req *Request) (any, error) {
	return nil, nil
}

// Dispatch runs a resolver honoring the effective execution mode: the
// request's explicit mode if set, otherwise the registry-wide mode. Backfill
// resolves normally and fills nil results with simulated values.
func Dispatch(ctx context.Context, rv Resolver, r *Resource, req *Request) (any, error) {
	if req == nil {
		req = NewRequest(rv)
	}
	mode := req.Mode
	if mode == ModeDefault {
		mode = rv.Owner().registry.Mode()
	}
	switch mode {
	case ModeSimulation:
		return rv.Simulate(r, req)
	case ModeBackfill:
		v, err := rv.Resolve(ctx, r, req)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return rv.Simulate(r, req)
		}
		return v, nil
	default:
		return rv.Resolve(ctx, r, req)
	}
}

// SortResolvers orders resolvers by ascending priority, then name for
// determinism between equal priorities.
func SortResolvers(rs []Resolver) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Priority() != rs[j].Priority() {
			return rs[i].Priority() < rs[j].Priority()
		}
		return rs[i].Name() < rs[j].Name()
	})
}
