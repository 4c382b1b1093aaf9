package engine

import (
	"context"

	"loom-backend/internal/schema"
)

// Loader resolves one schema field. Selecting a field on a partially loaded
// resource triggers a single Fetch for every still-unloaded schema field, so
// touching several lazy fields costs one store round trip, not one each.
type Loader struct {
	resolverBase
	field schema.Field
}

func NewLoader(owner *Type, f schema.Field) *Loader {
	return &Loader{
		resolverBase: resolverBase{
			name:     f.Name,
			owner:    owner,
			target:   owner,
			nullable: f.Nullable,
			required: f.Required,
			private:  f.Private,
			priority: PriorityLoader,
			tags:     []string{"fields"},
		},
		field: f,
	}
}

func (l *Loader) Field() schema.Field { return l.field }

func (l *Loader) Resolve(ctx context.Context, r *Resource, req *Request) (any, error) {
	if v, ok := r.state[l.name]; ok {
		return v, nil
	}
	id := r.ID()
	if id == "" {
		return nil, nil
	}
	missing := make([]string, 0, 4)
	for _, f := range l.owner.schema.Fields() {
		if _, ok := r.state[f.Name]; !ok {
			missing = append(missing, f.Name)
		}
	}
	record, err := l.owner.store.Fetch(ctx, id, missing)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	for k, v := range record {
		if _, ok := r.state[k]; !ok {
			r.state[k] = v
		}
	}
	return r.state[l.name], nil
}

func (l *Loader) ResolveBatch(ctx context.Context, batch *Batch, req *Request) (map[string]any, bool, error) {
	ids := make([]string, 0, batch.Len())
	for _, r := range batch.Items() {
		if _, ok := r.state[l.name]; ok {
			continue
		}
		if id := r.ID(); id != "" {
			ids = append(ids, id)
		}
	}
	out := make(map[string]any, batch.Len())
	if len(ids) > 0 {
		records, err := l.owner.store.FetchMany(ctx, ids, []string{l.name})
		if err != nil {
			return nil, true, err
		}
		for id, record := range records {
			out[id] = record[l.name]
		}
	}
	for _, r := range batch.Items() {
		if v, ok := r.state[l.name]; ok {
			out[r.ID()] = v
		}
	}
	return out, true, nil
}

func (l *Loader) Simulate(r *Resource, req *Request) (any, error) {
	if v, ok := r.state[l.name]; ok {
		return v, nil
	}
	return l.field.Generate(), nil
}
