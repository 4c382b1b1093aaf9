package query

import (
	"fmt"
	"strings"
)

// Comparison and boolean operators. Spelled the same way they appear in
// filter query parameters (filter[age.gte]=10).
const (
	OpEq    = "eq"
	OpNeq   = "neq"
	OpLt    = "lt"
	OpLte   = "lte"
	OpGt    = "gt"
	OpGte   = "gte"
	OpIn    = "in"
	OpNotIn = "not_in"

	OpAnd = "and"
	OpOr  = "or"
)

// Predicate node kinds, used in the serialized form.
const (
	KindConditional = "conditional"
	KindBoolean     = "boolean"
)

// FieldChecker is the minimal view of a resource type needed to validate a
// predicate: does a field with this name exist?
type FieldChecker interface {
	HasField(name string) bool
}

// Predicate is an immutable boolean-expression tree over field comparisons.
// It carries no evaluation logic of its own; each store backend interprets
// it against its native index structure.
type Predicate interface {
	// Kind returns KindConditional or KindBoolean.
	Kind() string
	// Fields appends the field names referenced by the tree.
	Fields() []string
	// Dump returns a JSON-safe representation, reversible via Load.
	Dump() map[string]any

	And(other Predicate) Predicate
	Or(other Predicate) Predicate

	String() string
}

// Conditional is a leaf comparison between a field and a value. For OpIn and
// OpNotIn the value is Values ([]any); for all other operators it is the
// scalar Value.
type Conditional struct {
	Op     string
	Field  string
	Value  any
	Values []any
}

func (p *Conditional) Kind() string { return KindConditional }

func (p *Conditional) Fields() []string { return []string{p.Field} }

// IsScalar reports whether the comparison is against a single value rather
// than a value set.
func (p *Conditional) IsScalar() bool {
	return p.Op != OpIn && p.Op != OpNotIn
}

func (p *Conditional) And(other Predicate) Predicate { return and(p, other) }
func (p *Conditional) Or(other Predicate) Predicate  { return or(p, other) }

func (p *Conditional) Dump() map[string]any {
	value := p.Value
	if !p.IsScalar() {
		value = append([]any(nil), p.Values...)
	}
	return map[string]any{
		"code":  KindConditional,
		"op":    p.Op,
		"field": p.Field,
		"value": value,
	}
}

func (p *Conditional) String() string {
	if p.IsScalar() {
		return fmt.Sprintf("(%s %s %v)", p.Field, p.Op, p.Value)
	}
	return fmt.Sprintf("(%s %s %v)", p.Field, p.Op, p.Values)
}

// Boolean combines two child predicates with and/or. Trees are grown by
// wrapping, never mutated in place.
type Boolean struct {
	Op  string
	Lhs Predicate
	Rhs Predicate
}

func (p *Boolean) Kind() string { return KindBoolean }

func (p *Boolean) Fields() []string {
	return append(p.Lhs.Fields(), p.Rhs.Fields()...)
}

func (p *Boolean) And(other Predicate) Predicate { return and(p, other) }
func (p *Boolean) Or(other Predicate) Predicate  { return or(p, other) }

func (p *Boolean) Dump() map[string]any {
	return map[string]any{
		"code": KindBoolean,
		"op":   p.Op,
		"lhs":  p.Lhs.Dump(),
		"rhs":  p.Rhs.Dump(),
	}
}

func (p *Boolean) String() string {
	op := "&&"
	if p.Op == OpOr {
		op = "||"
	}
	return fmt.Sprintf("(%s %s %s)", p.Lhs, op, p.Rhs)
}

func and(lhs, rhs Predicate) Predicate {
	if rhs == nil {
		return lhs
	}
	return &Boolean{Op: OpAnd, Lhs: lhs, Rhs: rhs}
}

func or(lhs, rhs Predicate) Predicate {
	if rhs == nil {
		return lhs
	}
	return &Boolean{Op: OpOr, Lhs: lhs, Rhs: rhs}
}

// Eq and friends construct leaf predicates. The engine layer exposes these
// through typed field properties; stores and adapters may build them directly.
func Eq(field string, value any) *Conditional  { return &Conditional{Op: OpEq, Field: field, Value: value} }
func Neq(field string, value any) *Conditional { return &Conditional{Op: OpNeq, Field: field, Value: value} }
func Lt(field string, value any) *Conditional  { return &Conditional{Op: OpLt, Field: field, Value: value} }
func Lte(field string, value any) *Conditional { return &Conditional{Op: OpLte, Field: field, Value: value} }
func Gt(field string, value any) *Conditional  { return &Conditional{Op: OpGt, Field: field, Value: value} }
func Gte(field string, value any) *Conditional { return &Conditional{Op: OpGte, Field: field, Value: value} }

func In(field string, values ...any) *Conditional {
	return &Conditional{Op: OpIn, Field: field, Values: values}
}

func NotIn(field string, values ...any) *Conditional {
	return &Conditional{Op: OpNotIn, Field: field, Values: values}
}

// ReduceAnd left-folds the non-nil predicates into a single tree with And.
// Returns nil for an empty input and the sole element unchanged for one.
func ReduceAnd(predicates ...Predicate) Predicate {
	return reduce(OpAnd, predicates)
}

// ReduceOr is ReduceAnd with Or.
func ReduceOr(predicates ...Predicate) Predicate {
	return reduce(OpOr, predicates)
}

func reduce(op string, predicates []Predicate) Predicate {
	var result Predicate
	for _, p := range predicates {
		if p == nil {
			continue
		}
		if result == nil {
			result = p
		} else {
			result = &Boolean{Op: op, Lhs: result, Rhs: p}
		}
	}
	return result
}

// Load rebuilds a predicate from its Dump form, validating every referenced
// field name against the target type. An unrecognized field is an error, not
// a silent match.
func Load(fields FieldChecker, data map[string]any) (Predicate, error) {
	code, _ := data["code"].(string)
	switch code {
	case KindConditional:
		op, _ := data["op"].(string)
		field, _ := data["field"].(string)
		if !fields.HasField(field) {
			return nil, fmt.Errorf("predicate: unknown field %q", field)
		}
		if op == OpIn || op == OpNotIn {
			values, ok := data["value"].([]any)
			if !ok {
				return nil, fmt.Errorf("predicate: %s value for %q must be a list", op, field)
			}
			return &Conditional{Op: op, Field: field, Values: values}, nil
		}
		return &Conditional{Op: op, Field: field, Value: data["value"]}, nil
	case KindBoolean:
		op, _ := data["op"].(string)
		if op != OpAnd && op != OpOr {
			return nil, fmt.Errorf("predicate: unsupported boolean op %q", op)
		}
		lhsData, ok := data["lhs"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("predicate: boolean node missing lhs")
		}
		rhsData, ok := data["rhs"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("predicate: boolean node missing rhs")
		}
		lhs, err := Load(fields, lhsData)
		if err != nil {
			return nil, err
		}
		rhs, err := Load(fields, rhsData)
		if err != nil {
			return nil, err
		}
		return &Boolean{Op: op, Lhs: lhs, Rhs: rhs}, nil
	default:
		return nil, fmt.Errorf("predicate: unrecognized node code %q", code)
	}
}

// ParseOp validates a filter operator name coming from an adapter, returning
// the canonical constant.
func ParseOp(op string) (string, error) {
	switch strings.ToLower(op) {
	case "", OpEq:
		return OpEq, nil
	case OpNeq:
		return OpNeq, nil
	case OpLt:
		return OpLt, nil
	case OpLte:
		return OpLte, nil
	case OpGt:
		return OpGt, nil
	case OpGte:
		return OpGte, nil
	case OpIn:
		return OpIn, nil
	case OpNotIn:
		return OpNotIn, nil
	default:
		return "", fmt.Errorf("predicate: unrecognized operator %q", op)
	}
}
