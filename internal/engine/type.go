package engine

import (
	"context"

	"loom-backend/internal/schema"
	"loom-backend/internal/store"
)

// Type is a bound resource type: schema, resolvers, store and defaults,
// assembled by the registry. All reads and writes for the type's resources
// flow through it.
type Type struct {
	name      string
	schema    *schema.Schema
	resolvers *Manager
	store     store.Store
	registry  *Registry
	defaults  map[string]func() any
}

func (t *Type) Name() string           { return t.name }
func (t *Type) Schema() *schema.Schema { return t.schema }
func (t *Type) Resolvers() *Manager    { return t.resolvers }
func (t *Type) Store() store.Store     { return t.store }
func (t *Type) Registry() *Registry    { return t.registry }

// HasField satisfies query.FieldChecker for predicate loading.
func (t *Type) HasField(name string) bool {
	return t.schema.Has(name)
}

// F returns the property handle for an attribute, used to build predicates
// and sort keys.
func (t *Type) F(name string) *Prop {
	return &Prop{owner: t, name: name}
}

// New constructs an unsaved resource from the given state. Every assigned
// attribute starts dirty; invalid names or values are logged and skipped.
func (t *Type) New(state map[string]any) *Resource {
	return newResource(t, state)
}

// Select starts a query. Without arguments every schema field is selected;
// with arguments the named attributes join the required-and-foreign-key
// floor.
func (t *Type) Select(selection ...any) *Query {
	q := NewQuery(t)
	if len(selection) == 0 {
		for _, f := range t.schema.Fields() {
			q.Select(f.Name)
		}
		return q
	}
	return q.Select(selection...)
}

// Get fetches one resource by id, with all schema fields loaded.
func (t *Type) Get(ctx context.Context, id string) (*Resource, error) {
	r, err := t.Select().WhereEq(schema.ID, id).First(ctx)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, NotFoundError(t.name, id)
	}
	return r, nil
}

// GetMany fetches resources by id, keyed by id. Missing ids are absent from
// the result, not errors.
func (t *Type) GetMany(ctx context.Context, ids []string) (map[string]*Resource, error) {
	vals := make([]any, len(ids))
	for i, id := range ids {
		vals[i] = id
	}
	b, err := t.Select().Where(t.F(schema.ID).Including(vals...)).Execute(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*Resource, b.Len())
	for _, r := range b.Items() {
		out[r.ID()] = r
	}
	return out, nil
}

// Generate fabricates a batch of resources from the schema, for simulation
// mode and tests.
func (t *Type) Generate(count int) *Batch {
	items := make([]*Resource, count)
	for i := range items {
		items[i] = t.generateOne()
	}
	return NewBatch(t, items...)
}

func (t *Type) generateOne() *Resource {
	fields := t.schema.Fields()
	state := make(map[string]any, len(fields))
	for _, f := range fields {
		state[f.Name] = f.Generate()
	}
	r := t.New(state)
	r.Clean()
	return r
}
