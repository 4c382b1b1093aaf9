package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"loom-backend/internal/query"
	"loom-backend/internal/schema"
)

// SQLStore persists one resource type in one table, through database/sql
// with either the pgx stdlib driver or modernc sqlite. SQL generation goes
// through the dialect so both share the same code path.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	table   string
	schema  *schema.Schema
}

func NewSQLStore(db *sql.DB, dialect Dialect, table string) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, table: table}
}

// Open connects via the dialect's database/sql driver and pings.
func Open(ctx context.Context, dialect Dialect, dsn string) (*sql.DB, error) {
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect.Name(), err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect.Name(), err)
	}
	return db, nil
}

func (s *SQLStore) Bind(sc *schema.Schema) error {
	s.schema = sc
	return EnsureTable(context.Background(), s.db, s.dialect, s.table, sc)
}

func (s *SQLStore) CreateID(record map[string]any) string {
	if id, ok := record[schema.ID].(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

func (s *SQLStore) Exists(ctx context.Context, id string) (bool, error) {
	pb := s.dialect.NewParamBuilder()
	q := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = %s", s.table, schema.ID, pb.Add(id))
	var one int
	err := s.db.QueryRowContext(ctx, q, pb.Params()...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, s.dialect.MapError(err)
	}
	return true, nil
}

func (s *SQLStore) ExistsMany(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = false
	}
	if len(ids) == 0 {
		return out, nil
	}
	pb := s.dialect.NewParamBuilder()
	vals := make([]any, len(ids))
	for i, id := range ids {
		vals[i] = id
	}
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		schema.ID, s.table, s.dialect.InExpr(schema.ID, pb, vals))
	rows, err := s.db.QueryContext(ctx, q, pb.Params()...)
	if err != nil {
		return nil, s.dialect.MapError(err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)).Scan(&n)
	return n, s.dialect.MapError(err)
}

func (s *SQLStore) Fetch(ctx context.Context, id string, fields []string) (map[string]any, error) {
	pb := s.dialect.NewParamBuilder()
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		s.columnList(fields), s.table, schema.ID, pb.Add(id))
	records, err := s.queryRecords(ctx, q, pb.Params())
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

func (s *SQLStore) FetchMany(ctx context.Context, ids []string, fields []string) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	pb := s.dialect.NewParamBuilder()
	vals := make([]any, len(ids))
	for i, id := range ids {
		vals[i] = id
	}
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		s.columnList(fields), s.table, s.dialect.InExpr(schema.ID, pb, vals))
	records, err := s.queryRecords(ctx, q, pb.Params())
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if id, ok := record[schema.ID].(string); ok {
			out[id] = record
		}
	}
	return out, nil
}

func (s *SQLStore) FetchAll(ctx context.Context, fields []string) (map[string]map[string]any, error) {
	q := fmt.Sprintf("SELECT %s FROM %s", s.columnList(fields), s.table)
	records, err := s.queryRecords(ctx, q, nil)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]any, len(records))
	for _, record := range records {
		if id, ok := record[schema.ID].(string); ok {
			out[id] = record
		}
	}
	return out, nil
}

func (s *SQLStore) Create(ctx context.Context, record map[string]any) (map[string]any, error) {
	return s.createIn(ctx, s.db, record)
}

func (s *SQLStore) CreateMany(ctx context.Context, records []map[string]any) ([]map[string]any, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	out := make([]map[string]any, len(records))
	for i, record := range records {
		created, err := s.createIn(ctx, tx, record)
		if err != nil {
			return nil, err
		}
		out[i] = created
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLStore) createIn(ctx context.Context, db execer, record map[string]any) (map[string]any, error) {
	stored := make(map[string]any, len(record)+2)
	stored[schema.ID] = s.CreateID(record)
	stored[schema.REV] = int64(1)
	for k, v := range record {
		if k == schema.ID || k == schema.REV {
			continue
		}
		if s.schema.Has(k) {
			stored[k] = v
		}
	}

	cols := make([]string, 0, len(stored))
	for k := range stored {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	pb := s.dialect.NewParamBuilder()
	phs := make([]string, len(cols))
	for i, col := range cols {
		phs[i] = pb.Add(s.encodeValue(col, stored[col]))
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.table, strings.Join(cols, ", "), strings.Join(phs, ", "))
	if _, err := db.ExecContext(ctx, q, pb.Params()...); err != nil {
		return nil, s.dialect.MapError(err)
	}
	return stored, nil
}

func (s *SQLStore) Update(ctx context.Context, id string, data map[string]any) (map[string]any, error) {
	if err := s.updateIn(ctx, s.db, id, data); err != nil {
		return nil, err
	}
	return s.Fetch(ctx, id, nil)
}

func (s *SQLStore) UpdateMany(ctx context.Context, ids []string, data []map[string]any) (map[string]map[string]any, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	for i, id := range ids {
		if err := s.updateIn(ctx, tx, id, data[i]); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.FetchMany(ctx, ids, nil)
}

func (s *SQLStore) updateIn(ctx context.Context, db execer, id string, data map[string]any) error {
	cols := make([]string, 0, len(data))
	for k := range data {
		if k == schema.ID || k == schema.REV || !s.schema.Has(k) {
			continue
		}
		cols = append(cols, k)
	}
	sort.Strings(cols)

	pb := s.dialect.NewParamBuilder()
	sets := make([]string, 0, len(cols)+1)
	for _, col := range cols {
		sets = append(sets, fmt.Sprintf("%s = %s", col, pb.Add(s.encodeValue(col, data[col]))))
	}
	sets = append(sets, fmt.Sprintf("%s = %s + 1", schema.REV, schema.REV))
	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		s.table, strings.Join(sets, ", "), schema.ID, pb.Add(id))
	res, err := db.ExecContext(ctx, q, pb.Params()...)
	if err != nil {
		return s.dialect.MapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	pb := s.dialect.NewParamBuilder()
	q := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", s.table, schema.ID, pb.Add(id))
	_, err := s.db.ExecContext(ctx, q, pb.Params()...)
	return s.dialect.MapError(err)
}

func (s *SQLStore) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pb := s.dialect.NewParamBuilder()
	vals := make([]any, len(ids))
	for i, id := range ids {
		vals[i] = id
	}
	q := fmt.Sprintf("DELETE FROM %s WHERE %s", s.table, s.dialect.InExpr(schema.ID, pb, vals))
	_, err := s.db.ExecContext(ctx, q, pb.Params()...)
	return s.dialect.MapError(err)
}

func (s *SQLStore) DeleteAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", s.table))
	return s.dialect.MapError(err)
}

func (s *SQLStore) Query(ctx context.Context, p query.Predicate, opts QueryOptions) ([]map[string]any, error) {
	var sb strings.Builder
	pb := s.dialect.NewParamBuilder()
	fmt.Fprintf(&sb, "SELECT %s FROM %s", s.columnList(opts.Fields), s.table)
	if p != nil {
		where, err := s.buildWhere(p, pb)
		if err != nil {
			return nil, err
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}
	if len(opts.OrderBy) > 0 {
		clauses := make([]string, len(opts.OrderBy))
		for i, o := range opts.OrderBy {
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			clauses[i] = fmt.Sprintf("%s %s", o.Key, dir)
		}
		fmt.Fprintf(&sb, " ORDER BY %s, %s ASC", strings.Join(clauses, ", "), schema.ID)
	} else {
		fmt.Fprintf(&sb, " ORDER BY %s ASC", schema.ID)
	}
	if opts.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", opts.Limit)
	} else if opts.Offset > 0 && s.dialect.Name() == "sqlite" {
		sb.WriteString(" LIMIT -1")
	}
	if opts.Offset > 0 {
		fmt.Fprintf(&sb, " OFFSET %d", opts.Offset)
	}
	return s.queryRecords(ctx, sb.String(), pb.Params())
}

// buildWhere translates a predicate tree into a parameterized SQL fragment.
func (s *SQLStore) buildWhere(p query.Predicate, pb ParamBuilder) (string, error) {
	switch node := p.(type) {
	case *query.Conditional:
		if !s.schema.Has(node.Field) {
			return "", fmt.Errorf("query %s: unknown field %s", s.table, node.Field)
		}
		switch node.Op {
		case query.OpEq:
			if node.Value == nil {
				return fmt.Sprintf("%s IS NULL", node.Field), nil
			}
			return fmt.Sprintf("%s = %s", node.Field, pb.Add(s.encodeValue(node.Field, node.Value))), nil
		case query.OpNeq:
			if node.Value == nil {
				return fmt.Sprintf("%s IS NOT NULL", node.Field), nil
			}
			return fmt.Sprintf("%s != %s", node.Field, pb.Add(s.encodeValue(node.Field, node.Value))), nil
		case query.OpLt:
			return fmt.Sprintf("%s < %s", node.Field, pb.Add(s.encodeValue(node.Field, node.Value))), nil
		case query.OpLte:
			return fmt.Sprintf("%s <= %s", node.Field, pb.Add(s.encodeValue(node.Field, node.Value))), nil
		case query.OpGt:
			return fmt.Sprintf("%s > %s", node.Field, pb.Add(s.encodeValue(node.Field, node.Value))), nil
		case query.OpGte:
			return fmt.Sprintf("%s >= %s", node.Field, pb.Add(s.encodeValue(node.Field, node.Value))), nil
		case query.OpIn:
			return s.dialect.InExpr(node.Field, pb, s.encodeValues(node.Field, node.Values)), nil
		case query.OpNotIn:
			return s.dialect.NotInExpr(node.Field, pb, s.encodeValues(node.Field, node.Values)), nil
		default:
			return "", fmt.Errorf("query %s: unsupported operator %s", s.table, node.Op)
		}
	case *query.Boolean:
		lhs, err := s.buildWhere(node.Lhs, pb)
		if err != nil {
			return "", err
		}
		rhs, err := s.buildWhere(node.Rhs, pb)
		if err != nil {
			return "", err
		}
		op := "AND"
		if node.Op == query.OpOr {
			op = "OR"
		}
		return fmt.Sprintf("(%s %s %s)", lhs, op, rhs), nil
	default:
		return "", fmt.Errorf("query %s: unsupported predicate kind %s", s.table, p.Kind())
	}
}

func (s *SQLStore) columnList(fields []string) string {
	set := FieldSet(fields)
	cols := make([]string, 0, 8)
	for _, f := range s.schema.Fields() {
		if set != nil {
			if _, ok := set[f.Name]; !ok {
				continue
			}
		}
		cols = append(cols, f.Name)
	}
	return strings.Join(cols, ", ")
}

func (s *SQLStore) queryRecords(ctx context.Context, q string, params []any) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, q, params...)
	if err != nil {
		return nil, s.dialect.MapError(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.table, err)
		}
		record := make(map[string]any, len(cols))
		for i, col := range cols {
			v, err := s.decodeValue(col, raw[i])
			if err != nil {
				return nil, fmt.Errorf("decode %s.%s: %w", s.table, col, err)
			}
			record[col] = v
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// encodeValue prepares a coerced value for parameter binding.
func (s *SQLStore) encodeValue(col string, v any) any {
	if v == nil {
		return nil
	}
	f := s.schema.Get(col)
	if f == nil {
		return v
	}
	switch f.Type {
	case schema.TypeTimestamp:
		return s.dialect.TimeParam(v)
	case schema.TypeJSON:
		b, err := json.Marshal(v)
		if err != nil {
			return v
		}
		return string(b)
	default:
		return v
	}
}

func (s *SQLStore) encodeValues(col string, vs []any) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = s.encodeValue(col, v)
	}
	return out
}

// decodeValue converts driver output back to the canonical representation
// for the column's schema type.
func (s *SQLStore) decodeValue(col string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	f := s.schema.Get(col)
	if f == nil {
		return v, nil
	}
	switch raw := v.(type) {
	case [16]byte:
		// pgx scans UUID columns as raw bytes
		return fmt.Sprintf("%x-%x-%x-%x-%x", raw[0:4], raw[4:6], raw[6:8], raw[8:10], raw[10:16]), nil
	case []byte:
		v = string(raw)
	}
	if f.Type == schema.TypeBool && s.dialect.NeedsBoolFix() {
		if n, ok := v.(int64); ok {
			return n != 0, nil
		}
	}
	if f.Type == schema.TypeJSON {
		if str, ok := v.(string); ok {
			var decoded any
			if err := json.Unmarshal([]byte(str), &decoded); err != nil {
				return nil, err
			}
			return decoded, nil
		}
		return v, nil
	}
	return f.Coerce(v)
}
