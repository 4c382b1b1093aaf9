package engine

import (
	"context"
	"fmt"
	"log"
	"sort"

	"loom-backend/internal/schema"
)

// Resource is one record of a type plus the dirty bookkeeping that drives
// persistence: every mutation since the last load or save is tracked per
// attribute, and flush operations send exactly the dirty subset.
type Resource struct {
	typ   *Type
	state map[string]any
	dirty map[string]struct{}
}

func newResource(typ *Type, state map[string]any) *Resource {
	r := &Resource{
		typ:   typ,
		state: make(map[string]any, len(state)),
		dirty: make(map[string]struct{}, len(state)),
	}
	for k, v := range state {
		if err := r.Set(k, v); err != nil {
			log.Printf("warn: %s: %v", typ.Name(), err)
		}
	}
	return r
}

func (r *Resource) Type() *Type { return r.typ }

// ID returns the stored identity, or "" before the first create.
func (r *Resource) ID() string {
	if v, ok := r.state[schema.ID].(string); ok {
		return v
	}
	return ""
}

// Rev returns the revision counter, 0 before the first create.
func (r *Resource) Rev() int64 {
	if v, ok := r.state[schema.REV].(int64); ok {
		return v
	}
	return 0
}

// State returns a copy of the raw attribute state.
func (r *Resource) State() map[string]any {
	out := make(map[string]any, len(r.state))
	for k, v := range r.state {
		out[k] = v
	}
	return out
}

// Dump returns the serializable view of the resource, excluding private
// attributes. Related resources and batches dump recursively.
func (r *Resource) Dump() map[string]any {
	private := r.typ.resolvers.Private()
	out := make(map[string]any, len(r.state))
	for k, v := range r.state {
		if _, ok := private[k]; ok {
			continue
		}
		switch t := v.(type) {
		case *Resource:
			out[k] = t.Dump()
		case *Batch:
			dumped := make([]map[string]any, t.Len())
			for i, item := range t.Items() {
				dumped[i] = item.Dump()
			}
			out[k] = dumped
		default:
			out[k] = v
		}
	}
	return out
}

// Get returns the attribute value, lazily resolving it when absent. A nil
// result for a non-nullable resolver is logged and dropped rather than
// stored.
func (r *Resource) Get(ctx context.Context, name string) (any, error) {
	if v, ok := r.state[name]; ok {
		return v, nil
	}
	rv := r.typ.resolvers.Get(name)
	if rv == nil {
		return nil, UnknownResolverError(r.typ.Name(), name)
	}
	v, err := Dispatch(ctx, rv, r, nil)
	if err != nil {
		return nil, err
	}
	v = normalizeCardinality(rv, v)
	if v == nil && !rv.Nullable() {
		log.Printf("warn: %s.%s resolved nil for non-nullable attribute, dropping", r.typ.Name(), name)
		return nil, nil
	}
	r.state[name] = v
	return v, nil
}

// Set assigns an attribute, validating the name and, for relationships, the
// cardinality of the value. Schema fields are coerced to their declared type.
// The attribute is marked dirty.
func (r *Resource) Set(name string, value any) error {
	rv := r.typ.resolvers.Get(name)
	if rv == nil {
		return UnknownResolverError(r.typ.Name(), name)
	}
	if rel, ok := rv.(*Relationship); ok {
		normalized, err := checkCardinality(rel, value)
		if err != nil {
			return err
		}
		value = normalized
	} else if f := r.typ.schema.Get(name); f != nil && value != nil {
		coerced, err := f.Coerce(value)
		if err != nil {
			return &AppError{
				Code:    "VALIDATION_FAILED",
				Status:  422,
				Message: fmt.Sprintf("%s.%s: %v", r.typ.Name(), name, err),
			}
		}
		value = coerced
	}
	r.state[name] = value
	r.dirty[name] = struct{}{}
	return nil
}

// Unset removes an attribute from state and dirty tracking.
func (r *Resource) Unset(name string) {
	delete(r.state, name)
	delete(r.dirty, name)
}

// Dirty returns the dirty attribute names, sorted.
func (r *Resource) Dirty() []string {
	out := make([]string, 0, len(r.dirty))
	for k := range r.dirty {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (r *Resource) IsDirty(name string) bool {
	_, ok := r.dirty[name]
	return ok
}

// Mark flags attributes dirty without changing their values. With no
// arguments every present attribute is marked. Marking is idempotent.
func (r *Resource) Mark(names ...string) {
	if len(names) == 0 {
		for k := range r.state {
			r.dirty[k] = struct{}{}
		}
		return
	}
	for _, name := range names {
		if _, ok := r.state[name]; ok {
			r.dirty[name] = struct{}{}
		}
	}
}

// Clean clears dirty flags. With no arguments everything becomes clean.
func (r *Resource) Clean(names ...string) {
	if len(names) == 0 {
		r.dirty = make(map[string]struct{})
		return
	}
	for _, name := range names {
		delete(r.dirty, name)
	}
}

// Validate checks required and non-nullable constraints against the current
// state, returning one detail per violation.
func (r *Resource) Validate() []ErrorDetail {
	details := []ErrorDetail{}
	for _, f := range r.typ.schema.Fields() {
		v, present := r.state[f.Name]
		if f.Required && f.Name != schema.ID && f.Name != schema.REV && !present {
			details = append(details, ErrorDetail{
				Field:   f.Name,
				Rule:    "required",
				Message: fmt.Sprintf("%s is required", f.Name),
			})
			continue
		}
		if present && v == nil && !f.Nullable {
			details = append(details, ErrorDetail{
				Field:   f.Name,
				Rule:    "not_nullable",
				Message: fmt.Sprintf("%s cannot be null", f.Name),
			})
		}
	}
	return details
}

// Require is Validate in strict form: any violation raises a validation
// error instead of being returned as details.
func (r *Resource) Require() error {
	if details := r.Validate(); len(details) > 0 {
		return ValidationError(details)
	}
	return nil
}

// Create persists the resource as a new record: defaults fill absent fields,
// required fields are enforced, nil values on non-nullable fields are logged
// and dropped. On success the stored record merges back and the resource is
// clean.
func (r *Resource) Create(ctx context.Context) error {
	record, err := r.prepareCreate()
	if err != nil {
		return err
	}
	stored, err := r.typ.store.Create(ctx, record)
	if err != nil {
		return err
	}
	r.mergeStored(stored)
	return nil
}

// Update flushes only the dirty schema fields. A resource with nothing dirty
// costs no store call.
func (r *Resource) Update(ctx context.Context) error {
	data := r.dirtyData()
	if len(data) == 0 {
		return nil
	}
	stored, err := r.typ.store.Update(ctx, r.ID(), data)
	if err != nil {
		return err
	}
	r.mergeStored(stored)
	return nil
}

// Save updates when the resource has a persisted identity and creates
// otherwise.
func (r *Resource) Save(ctx context.Context) error {
	if r.isPersisted() {
		return r.Update(ctx)
	}
	return r.Create(ctx)
}

// Delete removes the stored record. The resource keeps its remaining state
// but loses its identity, so a later Save creates a fresh record.
func (r *Resource) Delete(ctx context.Context) error {
	id := r.ID()
	if id == "" {
		return nil
	}
	if err := r.typ.store.Delete(ctx, id); err != nil {
		return err
	}
	r.forgetIdentity()
	return nil
}

// Resolve re-runs the named resolvers (all of them when none are given),
// overwriting state with fresh values and cleaning the affected attributes.
func (r *Resource) Resolve(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		names = r.typ.resolvers.Names()
	}
	for _, name := range names {
		rv := r.typ.resolvers.Get(name)
		if rv == nil {
			return UnknownResolverError(r.typ.Name(), name)
		}
		v, err := Dispatch(ctx, rv, r, nil)
		if err != nil {
			return err
		}
		r.setResolved(rv, v)
	}
	return nil
}

// prepareCreate builds the record to send to the store: defaults applied,
// required fields enforced, non-nullable nils dropped with a warning.
func (r *Resource) prepareCreate() (map[string]any, error) {
	for name, def := range r.typ.defaults {
		if _, ok := r.state[name]; ok {
			continue
		}
		v := def()
		if err := r.Set(name, v); err != nil {
			return nil, err
		}
	}
	details := []ErrorDetail{}
	record := make(map[string]any, len(r.state))
	for _, f := range r.typ.schema.Fields() {
		if f.Name == schema.ID || f.Name == schema.REV {
			if v, ok := r.state[f.Name]; ok {
				record[f.Name] = v
			}
			continue
		}
		v, present := r.state[f.Name]
		if !present {
			if f.Required {
				details = append(details, ErrorDetail{
					Field:   f.Name,
					Rule:    "required",
					Message: fmt.Sprintf("%s is required", f.Name),
				})
			}
			continue
		}
		if v == nil && !f.Nullable {
			log.Printf("warn: %s.%s is nil but not nullable, dropping from create", r.typ.Name(), f.Name)
			continue
		}
		record[f.Name] = v
	}
	if len(details) > 0 {
		return nil, ValidationError(details)
	}
	return record, nil
}

// dirtyData extracts the dirty schema fields, excluding identity and
// revision.
func (r *Resource) dirtyData() map[string]any {
	data := make(map[string]any, len(r.dirty))
	for name := range r.dirty {
		if name == schema.ID || name == schema.REV {
			continue
		}
		if !r.typ.schema.Has(name) {
			continue
		}
		data[name] = r.state[name]
	}
	return data
}

// mergeStored folds a store result back into state and cleans the merged
// attributes.
func (r *Resource) mergeStored(record map[string]any) {
	for k, v := range record {
		r.state[k] = v
		delete(r.dirty, k)
	}
}

// isPersisted reports whether the resource carries a clean stored identity.
func (r *Resource) isPersisted() bool {
	return r.ID() != "" && !r.IsDirty(schema.ID)
}

// forgetIdentity strips id and revision and marks the rest dirty, the state a
// deleted resource is left in.
func (r *Resource) forgetIdentity() {
	delete(r.state, schema.ID)
	delete(r.state, schema.REV)
	delete(r.dirty, schema.ID)
	delete(r.dirty, schema.REV)
	for k := range r.state {
		r.dirty[k] = struct{}{}
	}
}

// setResolved writes a resolver result into state without dirtying it,
// normalizing relationship cardinality on the way in.
func (r *Resource) setResolved(rv Resolver, v any) {
	v = normalizeCardinality(rv, v)
	if v == nil && !rv.Nullable() {
		log.Printf("warn: %s.%s resolved nil for non-nullable attribute, dropping", r.typ.Name(), rv.Name())
		return
	}
	r.state[rv.Name()] = v
	delete(r.dirty, rv.Name())
}

// normalizeCardinality fixes up resolver outputs: a many resolver always
// yields a batch (possibly empty), a single resolver never yields one.
func normalizeCardinality(rv Resolver, v any) any {
	if rv.Many() {
		switch t := v.(type) {
		case nil:
			target := rv.Target()
			if target == nil {
				target = rv.Owner()
			}
			return NewBatch(target)
		case *Batch:
			return t
		case []*Resource:
			target := rv.Target()
			if target == nil {
				target = rv.Owner()
			}
			return NewBatch(target, t...)
		default:
			return v
		}
	}
	if b, ok := v.(*Batch); ok {
		return b.First()
	}
	return v
}

// checkCardinality validates an assignment to a relationship attribute.
func checkCardinality(rel *Relationship, v any) (any, error) {
	if v == nil {
		if rel.Many() {
			return NewBatch(rel.target), nil
		}
		if !rel.Nullable() {
			return nil, CardinalityError(rel.owner.Name(), rel.name, "cannot assign nil to non-nullable relationship")
		}
		return nil, nil
	}
	switch t := v.(type) {
	case *Resource:
		if rel.Many() {
			return nil, CardinalityError(rel.owner.Name(), rel.name, "expected a collection, got a single resource")
		}
		return t, nil
	case *Batch:
		if !rel.Many() {
			return nil, CardinalityError(rel.owner.Name(), rel.name, "expected a single resource, got a collection")
		}
		return t, nil
	case []*Resource:
		if !rel.Many() {
			return nil, CardinalityError(rel.owner.Name(), rel.name, "expected a single resource, got a collection")
		}
		return NewBatch(rel.target, t...), nil
	default:
		return nil, CardinalityError(rel.owner.Name(), rel.name, fmt.Sprintf("cannot assign %T to a relationship", v))
	}
}
