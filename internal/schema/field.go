package schema

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Field type names. A field's type drives value coercion, index ordering
// and simulated value generation.
const (
	TypeString    = "string"
	TypeInt       = "int"
	TypeFloat     = "float"
	TypeBool      = "boolean"
	TypeTimestamp = "timestamp"
	TypeUUID      = "uuid"
	TypeJSON      = "json"
)

type Field struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`
	Nullable bool   `json:"nullable,omitempty"`
	Private  bool   `json:"private,omitempty"`
	Default  any    `json:"default,omitempty"`
}

// Indexable reports whether the field can participate in an ordered index.
// Nested/blob values have no total order, so json fields are skipped.
func (f Field) Indexable() bool {
	return f.Type != TypeJSON
}

// IsForeignKey reports whether the field references another resource's
// identity: a uuid-typed field, other than _id itself, named like "parent_id".
func (f Field) IsForeignKey() bool {
	return f.Type == TypeUUID && f.Name != ID && strings.HasSuffix(f.Name, "_id")
}

// Coerce normalizes a raw value to the canonical Go representation for the
// field's type. Numeric values arriving as other widths (JSON float64,
// query-string text) are converted; anything unconvertible is an error.
func (f Field) Coerce(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Type {
	case TypeInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			return int64(n), nil
		case string:
			return strconv.ParseInt(n, 10, 64)
		}
	case TypeFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case string:
			return strconv.ParseFloat(n, 64)
		}
	case TypeBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			return strconv.ParseBool(b)
		}
	case TypeTimestamp:
		// UTC drops the monotonic reading and normalizes the location, so
		// equal instants stay equal as index keys.
		switch t := v.(type) {
		case time.Time:
			return t.UTC(), nil
		case string:
			if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
				return parsed.UTC(), nil
			}
			parsed, err := time.Parse("2006-01-02 15:04:05", t)
			if err != nil {
				return nil, err
			}
			return parsed.UTC(), nil
		}
	case TypeString, TypeUUID:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case TypeJSON:
		return v, nil
	}
	return nil, fmt.Errorf("field %s: cannot coerce %T to %s", f.Name, v, f.Type)
}

// Compare orders two already-coerced values of this field's type. Nil sorts
// first. Returns -1, 0 or 1.
func (f Field) Compare(a, b any) int {
	if a == nil || b == nil {
		if a == b {
			return 0
		}
		if a == nil {
			return -1
		}
		return 1
	}
	switch f.Type {
	case TypeInt:
		return cmpInt64(toInt64(a), toInt64(b))
	case TypeFloat:
		av, bv := toFloat64(a), toFloat64(b)
		if av < bv {
			return -1
		} else if av > bv {
			return 1
		}
		return 0
	case TypeBool:
		av, _ := a.(bool)
		bv, _ := b.(bool)
		if av == bv {
			return 0
		}
		if !av {
			return -1
		}
		return 1
	case TypeTimestamp:
		av, _ := a.(time.Time)
		bv, _ := b.(time.Time)
		return av.Compare(bv)
	default:
		return strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
	}
}

// Generate produces a plausible fake value for the field, used by the
// simulation execution mode to synthesize fixtures without a store.
func (f Field) Generate() any {
	switch f.Type {
	case TypeInt:
		return int64(rand.Intn(1000))
	case TypeFloat:
		return rand.Float64() * 1000
	case TypeBool:
		return rand.Intn(2) == 1
	case TypeTimestamp:
		return time.Now().UTC().Add(-time.Duration(rand.Intn(86400)) * time.Second)
	case TypeUUID:
		return uuid.NewString()
	case TypeJSON:
		return map[string]any{}
	default:
		return fmt.Sprintf("%s-%04d", f.Name, rand.Intn(10000))
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}

func cmpInt64(a, b int64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}
