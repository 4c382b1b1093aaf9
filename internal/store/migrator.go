package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"loom-backend/internal/schema"
)

// EnsureTable creates the backing table for a schema when it does not exist
// yet. Identity is the primary key; required fields become NOT NULL.
func EnsureTable(ctx context.Context, db *sql.DB, dialect Dialect, table string, sc *schema.Schema) error {
	exists, err := dialect.TableExists(ctx, db, table)
	if err != nil {
		return fmt.Errorf("check table %s: %w", table, err)
	}
	if exists {
		return nil
	}

	cols := make([]string, 0, 8)
	for _, f := range sc.Fields() {
		colType := dialect.ColumnType(f.Type)
		switch f.Name {
		case schema.ID:
			cols = append(cols, fmt.Sprintf("%s %s PRIMARY KEY", f.Name, colType))
		case schema.REV:
			cols = append(cols, fmt.Sprintf("%s %s NOT NULL DEFAULT 1", f.Name, dialect.ColumnType(schema.TypeInt)))
		default:
			col := fmt.Sprintf("%s %s", f.Name, colType)
			if f.Required && !f.Nullable {
				col += " NOT NULL"
			}
			cols = append(cols, col)
		}
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)", table, strings.Join(cols, ",\n    "))
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}

	for _, name := range sc.ForeignKeys() {
		idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)", table, name, table, name)
		if _, err := db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("create index on %s.%s: %w", table, name, err)
		}
	}
	return nil
}
