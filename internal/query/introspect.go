package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
)

// SchemaIntrospector answers existence questions about tables and columns.
// Used by the validator; never by the interpreter.
type SchemaIntrospector interface {
	TableExists(ctx context.Context, name string) (bool, error)
	ColumnExists(ctx context.Context, table, column string) (bool, error)
}

// SQLIntrospector implements SchemaIntrospector over a SQLite-family database
// using sqlite_master and PRAGMA table_info. Lookups are case-insensitive,
// matching SQLite identifier semantics. Results are cached per table; the
// cache is invalidated wholesale on Reset (schema changes are rare).
type SQLIntrospector struct {
	db *sql.DB

	mu      sync.RWMutex
	columns map[string]map[string]bool // lowercase table -> lowercase column set
}

// NewSQLIntrospector creates a SchemaIntrospector backed by the given database.
func NewSQLIntrospector(db *sql.DB) *SQLIntrospector {
	return &SQLIntrospector{
		db:      db,
		columns: make(map[string]map[string]bool),
	}
}

// TableExists reports whether a table with the given name exists.
func (in *SQLIntrospector) TableExists(ctx context.Context, name string) (bool, error) {
	if !validIdentifier(name) {
		return false, nil
	}
	var found string
	err := in.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type IN ('table','view') AND name = ? COLLATE NOCASE`,
		name,
	).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("introspect table %q: %w", name, err)
	}
	return true, nil
}

// ColumnExists reports whether the table has a column with the given name.
func (in *SQLIntrospector) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	if !validIdentifier(table) || !validIdentifier(column) {
		return false, nil
	}

	key := strings.ToLower(table)

	in.mu.RLock()
	cols, ok := in.columns[key]
	in.mu.RUnlock()

	if !ok {
		var err error
		cols, err = in.loadColumns(ctx, table)
		if err != nil {
			return false, err
		}
		in.mu.Lock()
		in.columns[key] = cols
		in.mu.Unlock()
	}

	return cols[strings.ToLower(column)], nil
}

// Reset drops the column cache, forcing re-introspection.
func (in *SQLIntrospector) Reset() {
	in.mu.Lock()
	in.columns = make(map[string]map[string]bool)
	in.mu.Unlock()
}

// loadColumns reads the column set of a table via PRAGMA table_info.
// PRAGMA cannot take bound parameters, so the identifier is validated and
// quoted before interpolation.
func (in *SQLIntrospector) loadColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := in.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, table))
	if err != nil {
		return nil, fmt.Errorf("introspect columns of %q: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   sql.NullString
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan table_info of %q: %w", table, err)
		}
		cols[strings.ToLower(name)] = true
	}
	return cols, rows.Err()
}

// validIdentifier accepts plain SQL identifiers only (letters, digits,
// underscore, not starting with a digit).
func validIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

var _ SchemaIntrospector = (*SQLIntrospector)(nil)
