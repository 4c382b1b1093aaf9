package schema

// Identity and revision fields, implicit on every schema. The store owns
// both: _id is assigned at create when absent, _rev increments on update.
const (
	ID  = "_id"
	REV = "_rev"
)

// Schema is the ordered set of persisted fields for one resource type.
type Schema struct {
	fields []Field
	byName map[string]int
}

// New builds a schema from the declared fields, injecting the implicit
// _id and _rev fields if the caller did not declare them.
func New(fields ...Field) *Schema {
	s := &Schema{byName: make(map[string]int, len(fields)+2)}
	s.add(Field{Name: ID, Type: TypeUUID})
	s.add(Field{Name: REV, Type: TypeInt})
	for _, f := range fields {
		if f.Name == ID || f.Name == REV {
			continue
		}
		s.add(f)
	}
	return s
}

func (s *Schema) add(f Field) {
	if i, ok := s.byName[f.Name]; ok {
		s.fields[i] = f
		return
	}
	s.byName[f.Name] = len(s.fields)
	s.fields = append(s.fields, f)
}

// Get returns the field with the given name, or nil.
func (s *Schema) Get(name string) *Field {
	if i, ok := s.byName[name]; ok {
		return &s.fields[i]
	}
	return nil
}

// Has reports whether the schema declares the field.
func (s *Schema) Has(name string) bool {
	_, ok := s.byName[name]
	return ok
}

// Fields returns all fields in declaration order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Names returns all field names in declaration order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}

// Required returns the names of required fields.
func (s *Schema) Required() []string {
	var names []string
	for _, f := range s.fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}

// ForeignKeys returns the names of foreign-key fields. Queries auto-select
// these so relationship joins stay possible even when the caller forgot.
func (s *Schema) ForeignKeys() []string {
	var names []string
	for _, f := range s.fields {
		if f.IsForeignKey() {
			names = append(names, f.Name)
		}
	}
	return names
}
