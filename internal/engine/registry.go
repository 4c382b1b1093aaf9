package engine

import (
	"fmt"
	"sort"
	"sync"

	"loom-backend/internal/schema"
	"loom-backend/internal/store"
)

// RelationshipSpec declares a relationship on a TypeSpec.
type RelationshipSpec struct {
	Name     string     `json:"name"`
	Joins    []JoinSpec `json:"joins"`
	Many     bool       `json:"many"`
	Nullable bool       `json:"nullable"`
}

// ComputedSpec declares an expression-backed attribute.
type ComputedSpec struct {
	Name string `json:"name"`
	Expr string `json:"expr"`
}

// FuncSpec declares a Go-function-backed attribute.
type FuncSpec struct {
	Name     string
	Fn       ResolveFunc
	Simulate ResolveFunc
}

// TypeSpec is the declarative definition of a resource type. Registration
// records the spec; binding turns it into a live Type once every referenced
// type is known.
type TypeSpec struct {
	Name          string
	Fields        []schema.Field
	Relationships []RelationshipSpec
	Computed      []ComputedSpec
	Resolvers     []FuncSpec
	Defaults      map[string]func() any
}

// Registry holds every resource type and the process-wide execution mode.
// Lifecycle is two-phase: Register all specs, then Bind once with the stores,
// which resolves cross-type references and compiles expressions.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]TypeSpec
	types map[string]*Type
	order []string
	mode  Mode
	bound bool
}

func NewRegistry() *Registry {
	return &Registry{
		specs: make(map[string]TypeSpec),
		types: make(map[string]*Type),
		mode:  ModeNormal,
	}
}

func (reg *Registry) Register(spec TypeSpec) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.bound {
		return fmt.Errorf("registry: cannot register %s after binding", spec.Name)
	}
	if _, ok := reg.specs[spec.Name]; ok {
		return fmt.Errorf("registry: type %s already registered", spec.Name)
	}
	reg.specs[spec.Name] = spec
	reg.order = append(reg.order, spec.Name)
	return nil
}

// Bind turns every registered spec into a live type. Each type's store is
// wrapped in a recorder so store errors carry call context and call history
// is observable. Relationship joins and expressions resolve here, so any
// dangling reference fails binding rather than a later query.
func (reg *Registry) Bind(stores map[string]store.Store) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.bound {
		return fmt.Errorf("registry: already bound")
	}

	for _, name := range reg.order {
		spec := reg.specs[name]
		st, ok := stores[name]
		if !ok {
			return fmt.Errorf("registry: no store for type %s", name)
		}
		s := schema.New(spec.Fields...)
		t := &Type{
			name:      name,
			schema:    s,
			resolvers: NewManager(),
			store:     store.NewRecorder(st),
			registry:  reg,
			defaults:  make(map[string]func() any),
		}
		for _, f := range s.Fields() {
			t.resolvers.Register(NewLoader(t, f))
			if f.Default != nil {
				def := f.Default
				t.defaults[f.Name] = func() any { return def }
			}
		}
		for name, fn := range spec.Defaults {
			t.defaults[name] = fn
		}
		for _, rs := range spec.Relationships {
			t.resolvers.Register(NewRelationship(t, rs.Name, rs.Joins, rs.Many, rs.Nullable))
		}
		for _, cs := range spec.Computed {
			t.resolvers.Register(NewExprResolver(t, cs.Name, cs.Expr))
		}
		for _, fs := range spec.Resolvers {
			t.resolvers.Register(NewFuncResolver(t, fs.Name, fs.Fn).WithSimulate(fs.Simulate))
		}
		reg.types[name] = t
	}

	// Second pass: all types exist, so forward references resolve.
	for _, name := range reg.order {
		t := reg.types[name]
		for _, rv := range t.resolvers.Sorted() {
			if err := rv.Bind(reg); err != nil {
				return err
			}
		}
		if err := t.store.Bind(t.schema); err != nil {
			return fmt.Errorf("registry: binding store for %s: %w", name, err)
		}
	}
	reg.bound = true
	return nil
}

// BindWith is Bind with one store per type built by the factory.
func (reg *Registry) BindWith(factory func(name string) store.Store) error {
	reg.mu.RLock()
	names := append([]string(nil), reg.order...)
	reg.mu.RUnlock()
	stores := make(map[string]store.Store, len(names))
	for _, name := range names {
		stores[name] = factory(name)
	}
	return reg.Bind(stores)
}

// MustBind is Bind for main: any bind error is fatal.
func (reg *Registry) MustBind(stores map[string]store.Store) {
	if err := reg.Bind(stores); err != nil {
		panic(err)
	}
}

// lookup is Type without locking, for use during Bind while the registry
// lock is already held.
func (reg *Registry) lookup(name string) *Type {
	return reg.types[name]
}

// Type returns the bound type by name.
func (reg *Registry) Type(name string) (*Type, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	t, ok := reg.types[name]
	if !ok {
		return nil, UnknownTypeError(name)
	}
	return t, nil
}

// Types returns all bound types sorted by name.
func (reg *Registry) Types() []*Type {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*Type, 0, len(reg.types))
	for _, t := range reg.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Mode returns the registry-wide execution mode.
func (reg *Registry) Mode() Mode {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.mode
}

// SetMode switches the registry-wide execution mode, e.g. into simulation
// for tests and demos.
func (reg *Registry) SetMode(m Mode) {
	reg.mu.Lock()
	reg.mode = m
	reg.mu.Unlock()
}
