package engine

import "sort"

// Manager holds a type's resolvers by name and partitions them by tag.
// Registering a name twice overrides the earlier resolver, so generated field
// loaders can be replaced by custom resolvers.
type Manager struct {
	byName map[string]Resolver
	byTag  map[string]map[string]struct{}
}

func NewManager() *Manager {
	return &Manager{
		byName: make(map[string]Resolver),
		byTag:  make(map[string]map[string]struct{}),
	}
}

func (m *Manager) Register(rv Resolver) {
	if old, ok := m.byName[rv.Name()]; ok {
		for _, tag := range old.Tags() {
			delete(m.byTag[tag], old.Name())
		}
	}
	m.byName[rv.Name()] = rv
	for _, tag := range rv.Tags() {
		if m.byTag[tag] == nil {
			m.byTag[tag] = make(map[string]struct{})
		}
		m.byTag[tag][rv.Name()] = struct{}{}
	}
}

func (m *Manager) Get(name string) Resolver {
	return m.byName[name]
}

func (m *Manager) Has(name string) bool {
	_, ok := m.byName[name]
	return ok
}

func (m *Manager) Len() int { return len(m.byName) }

// Names returns all resolver names, sorted.
func (m *Manager) Names() []string {
	out := make([]string, 0, len(m.byName))
	for name := range m.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Sorted returns all resolvers ordered by priority then name.
func (m *Manager) Sorted() []Resolver {
	out := make([]Resolver, 0, len(m.byName))
	for _, rv := range m.byName {
		out = append(out, rv)
	}
	SortResolvers(out)
	return out
}

// ByTag returns resolvers carrying the tag, sorted by priority.
func (m *Manager) ByTag(tag string) []Resolver {
	out := make([]Resolver, 0, len(m.byTag[tag]))
	for name := range m.byTag[tag] {
		out = append(out, m.byName[name])
	}
	SortResolvers(out)
	return out
}

// ByTagInvert returns resolvers not carrying the tag, sorted by priority.
func (m *Manager) ByTagInvert(tag string) []Resolver {
	tagged := m.byTag[tag]
	out := make([]Resolver, 0, len(m.byName))
	for name, rv := range m.byName {
		if _, ok := tagged[name]; ok {
			continue
		}
		out = append(out, rv)
	}
	SortResolvers(out)
	return out
}

// Required returns the names of resolvers whose value must be present at
// creation time.
func (m *Manager) Required() map[string]struct{} {
	out := make(map[string]struct{})
	for name, rv := range m.byName {
		if rv.Required() {
			out[name] = struct{}{}
		}
	}
	return out
}

// Private returns the names excluded from serialized output.
func (m *Manager) Private() map[string]struct{} {
	out := make(map[string]struct{})
	for name, rv := range m.byName {
		if rv.Private() {
			out[name] = struct{}{}
		}
	}
	return out
}
