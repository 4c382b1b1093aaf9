package store

import (
	"context"
	"errors"

	"loom-backend/internal/query"
	"loom-backend/internal/schema"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrNotBound        = errors.New("store not bound to a schema")
	ErrUniqueViolation = errors.New("unique constraint violation")
)

// QueryOptions carries the non-predicate parameters of a Store.Query call.
// Limit 0 means unlimited; Fields nil means all schema fields.
type QueryOptions struct {
	Fields  []string
	OrderBy []query.OrderBy
	Limit   int
	Offset  int
}

// Store is the persistence contract bound to one resource type. Methods take
// and return raw records (map[string]any), never engine resources.
//
// Contract rules every backend must satisfy:
//   - Create assigns _id when absent and initializes _rev; the full stored
//     record is returned.
//   - Update merges over the existing record, increments _rev and never lets
//     _id change; the merged record is returned.
//   - Query returns records matching the predicate, pruned to the requested
//     fields plus _id/_rev, sorted and paginated per options.
//   - All mutating methods are safe for concurrent use.
type Store interface {
	// Bind attaches the schema the store persists. Called once, before any
	// other method, during registry binding.
	Bind(s *schema.Schema) error

	Exists(ctx context.Context, id string) (bool, error)
	ExistsMany(ctx context.Context, ids []string) (map[string]bool, error)
	Count(ctx context.Context) (int, error)

	Fetch(ctx context.Context, id string, fields []string) (map[string]any, error)
	FetchMany(ctx context.Context, ids []string, fields []string) (map[string]map[string]any, error)
	FetchAll(ctx context.Context, fields []string) (map[string]map[string]any, error)

	Create(ctx context.Context, record map[string]any) (map[string]any, error)
	CreateMany(ctx context.Context, records []map[string]any) ([]map[string]any, error)
	Update(ctx context.Context, id string, data map[string]any) (map[string]any, error)
	UpdateMany(ctx context.Context, ids []string, data []map[string]any) (map[string]map[string]any, error)

	Delete(ctx context.Context, id string) error
	DeleteMany(ctx context.Context, ids []string) error
	DeleteAll(ctx context.Context) error

	Query(ctx context.Context, p query.Predicate, opts QueryOptions) ([]map[string]any, error)

	// CreateID returns the identity for a not-yet-created record: the _id
	// already present in the record, or a freshly generated one. Idempotent
	// so transaction wrappers may call it ahead of Create.
	CreateID(record map[string]any) string
}

// FieldSet normalizes a fields selector into a membership set, always
// retaining the identity and revision fields.
func FieldSet(fields []string) map[string]struct{} {
	if fields == nil {
		return nil
	}
	set := make(map[string]struct{}, len(fields)+2)
	for _, f := range fields {
		set[f] = struct{}{}
	}
	set[schema.ID] = struct{}{}
	set[schema.REV] = struct{}{}
	return set
}

// PruneRecord copies a record keeping only the fields in set (nil set keeps
// everything). The input record is never mutated.
func PruneRecord(record map[string]any, set map[string]struct{}) map[string]any {
	out := make(map[string]any, len(record))
	for k, v := range record {
		if set != nil {
			if _, ok := set[k]; !ok {
				continue
			}
		}
		out[k] = v
	}
	return out
}
