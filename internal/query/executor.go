package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rendis/metrica/pkg/schema"
)

// Result holds the rows of a query together with the column order of the
// statement, which row maps cannot preserve.
type Result struct {
	Columns []string
	Rows    []map[string]any
}

// Executor runs a single read-only, parameterized SQL statement and returns
// its rows as ordered column-name/value mappings.
type Executor interface {
	Execute(ctx context.Context, sqlText string, params []any) (*Result, error)
}

// SQLExecutor implements Executor over a *sql.DB. The validator guarantees
// statements reaching this executor are single read-only SELECTs; parameters
// are always bound positionally, never concatenated.
type SQLExecutor struct {
	db *sql.DB
}

// NewSQLExecutor creates an Executor backed by the given database.
func NewSQLExecutor(db *sql.DB) *SQLExecutor {
	return &SQLExecutor{db: db}
}

// Execute runs the statement and materializes all rows.
func (e *SQLExecutor) Execute(ctx context.Context, sqlText string, params []any) (*Result, error) {
	rows, err := e.db.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"query failed: %s", err.Error()).WithCause(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	result := &Result{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = normalizeValue(vals[i])
		}
		result.Rows = append(result.Rows, row)
	}
	return result, rows.Err()
}

// normalizeValue converts driver-specific types into plain Go values.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

var _ Executor = (*SQLExecutor)(nil)
