package engine

import (
	"context"
	"sort"
	"strings"
)

// Batch is an ordered collection of resources of one type, with bulk
// persistence operations that collapse to as few store calls as possible.
type Batch struct {
	typ   *Type
	items []*Resource
}

func NewBatch(typ *Type, items ...*Resource) *Batch {
	return &Batch{typ: typ, items: items}
}

func (b *Batch) Type() *Type        { return b.typ }
func (b *Batch) Items() []*Resource { return b.items }
func (b *Batch) Len() int           { return len(b.items) }

func (b *Batch) First() *Resource {
	if len(b.items) == 0 {
		return nil
	}
	return b.items[0]
}

func (b *Batch) Append(items ...*Resource) *Batch {
	b.items = append(b.items, items...)
	return b
}

// IDs returns the non-empty ids of the batch members, in order.
func (b *Batch) IDs() []string {
	out := make([]string, 0, len(b.items))
	for _, r := range b.items {
		if id := r.ID(); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// Column returns the value of one attribute across the batch, in order.
func (b *Batch) Column(name string) []any {
	out := make([]any, len(b.items))
	for i, r := range b.items {
		out[i] = r.state[name]
	}
	return out
}

// CreateMany persists every member with a single store call.
func (b *Batch) CreateMany(ctx context.Context) error {
	if len(b.items) == 0 {
		return nil
	}
	records := make([]map[string]any, len(b.items))
	for i, r := range b.items {
		prepared, err := r.prepareCreate()
		if err != nil {
			return err
		}
		records[i] = prepared
	}
	created, err := b.typ.store.CreateMany(ctx, records)
	if err != nil {
		return err
	}
	for i, record := range created {
		b.items[i].mergeStored(record)
	}
	return nil
}

// UpdateMany persists the dirty fields of every member. Members sharing the
// same dirty key set are flushed together, so a batch where everyone changed
// the same fields costs one store call.
func (b *Batch) UpdateMany(ctx context.Context) error {
	groups := make(map[string][]*Resource)
	keys := make([]string, 0)
	for _, r := range b.items {
		data := r.dirtyData()
		if len(data) == 0 {
			continue
		}
		key := dirtyKey(data)
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], r)
	}
	sort.Strings(keys)
	for _, key := range keys {
		members := groups[key]
		ids := make([]string, len(members))
		data := make([]map[string]any, len(members))
		for i, r := range members {
			ids[i] = r.ID()
			data[i] = r.dirtyData()
		}
		updated, err := b.typ.store.UpdateMany(ctx, ids, data)
		if err != nil {
			return err
		}
		for _, r := range members {
			if record, ok := updated[r.ID()]; ok {
				r.mergeStored(record)
			}
		}
	}
	return nil
}

// SaveMany creates the unsaved members and updates the rest.
func (b *Batch) SaveMany(ctx context.Context) error {
	toCreate := make([]*Resource, 0)
	toUpdate := make([]*Resource, 0)
	for _, r := range b.items {
		if r.isPersisted() {
			toUpdate = append(toUpdate, r)
		} else {
			toCreate = append(toCreate, r)
		}
	}
	if len(toCreate) > 0 {
		if err := NewBatch(b.typ, toCreate...).CreateMany(ctx); err != nil {
			return err
		}
	}
	if len(toUpdate) > 0 {
		if err := NewBatch(b.typ, toUpdate...).UpdateMany(ctx); err != nil {
			return err
		}
	}
	return nil
}

// DeleteMany removes every persisted member with one store call and resets
// their identity the same way Resource.Delete does.
func (b *Batch) DeleteMany(ctx context.Context) error {
	ids := b.IDs()
	if len(ids) == 0 {
		return nil
	}
	if err := b.typ.store.DeleteMany(ctx, ids); err != nil {
		return err
	}
	for _, r := range b.items {
		r.forgetIdentity()
	}
	return nil
}

func dirtyKey(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}
