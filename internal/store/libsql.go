package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/metrica/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for the query executor and the
// time-series reader, which share the same database.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return applyMigrations(ctx, s.db)
}

// --- Definitions ---

func (s *LibSQLStore) CreateDefinition(ctx context.Context, def *schema.WorkflowDefinition, steps []schema.Step) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create definition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO definitions (id, name, interval_seconds, schedule, embeddable, value, status, last_run, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		def.ID, def.Name, def.IntervalSeconds, nullStr(def.Schedule), boolInt(def.Embeddable),
		def.Value, def.Status, nullTime(def.LastRun), timeOrNow(def.CreatedAt), timeOrNow(def.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return schema.NewErrorf(schema.ErrCodeDuplicateName,
				"definition name %q already exists", def.Name).WithCause(err)
		}
		return fmt.Errorf("insert definition: %w", err)
	}

	if err := insertSteps(ctx, tx, def.ID, steps); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *LibSQLStore) GetDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error) {
	return s.getDefinition(ctx, `WHERE id = ?`, id)
}

func (s *LibSQLStore) GetDefinitionByName(ctx context.Context, name string) (*schema.WorkflowDefinition, error) {
	return s.getDefinition(ctx, `WHERE name = ?`, name)
}

func (s *LibSQLStore) getDefinition(ctx context.Context, where string, arg any) (*schema.WorkflowDefinition, error) {
	def := &schema.WorkflowDefinition{}
	var (
		schedule sql.NullString
		emb      int
		lastRun  sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, interval_seconds, schedule, embeddable, value, status, last_run, created_at, updated_at
		 FROM definitions `+where, arg,
	).Scan(&def.ID, &def.Name, &def.IntervalSeconds, &schedule, &emb,
		&def.Value, &def.Status, &lastRun, &def.CreatedAt, &def.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("definition", fmt.Sprintf("%v", arg))
	}
	if err != nil {
		return nil, err
	}
	def.Schedule = schedule.String
	def.Embeddable = emb != 0
	if lastRun.Valid {
		def.LastRun = &lastRun.Time
	}
	return def, nil
}

func (s *LibSQLStore) ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]*schema.WorkflowDefinition, error) {
	query := `SELECT id, name, interval_seconds, schedule, embeddable, value, status, last_run, created_at, updated_at
	          FROM definitions`
	switch filter.Mode {
	case ModeTimer:
		query += ` WHERE interval_seconds > 0`
	case ModeChange:
		query += ` WHERE interval_seconds < 0`
	case ModeManual:
		query += ` WHERE interval_seconds = 0`
	}
	query += ` ORDER BY name`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []*schema.WorkflowDefinition
	for rows.Next() {
		def := &schema.WorkflowDefinition{}
		var (
			schedule sql.NullString
			emb      int
			lastRun  sql.NullTime
		)
		if err := rows.Scan(&def.ID, &def.Name, &def.IntervalSeconds, &schedule, &emb,
			&def.Value, &def.Status, &lastRun, &def.CreatedAt, &def.UpdatedAt); err != nil {
			return nil, err
		}
		def.Schedule = schedule.String
		def.Embeddable = emb != 0
		if lastRun.Valid {
			def.LastRun = &lastRun.Time
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (s *LibSQLStore) UpdateDefinition(ctx context.Context, id string, update DefinitionUpdate) error {
	var (
		sets []string
		args []any
	)
	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.IntervalSeconds != nil {
		sets = append(sets, "interval_seconds = ?")
		args = append(args, *update.IntervalSeconds)
	}
	if update.Schedule != nil {
		sets = append(sets, "schedule = ?")
		args = append(args, nullStr(*update.Schedule))
	}
	if update.Embeddable != nil {
		sets = append(sets, "embeddable = ?")
		args = append(args, boolInt(*update.Embeddable))
	}
	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *update.Status)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE definitions SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return schema.NewError(schema.ErrCodeDuplicateName, "definition name already exists").WithCause(err)
		}
		return err
	}
	return checkRowsAffected(res, "definition", id)
}

func (s *LibSQLStore) DeleteDefinition(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM definitions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "definition", id)
}

// --- Steps ---

func (s *LibSQLStore) GetSteps(ctx context.Context, definitionID string) ([]schema.Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step_order, type, expression, result_variable, max_loop
		 FROM steps WHERE definition_id = ? ORDER BY step_order`, definitionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []schema.Step
	for rows.Next() {
		var st schema.Step
		var resVar sql.NullString
		if err := rows.Scan(&st.Order, &st.Type, &st.Expression, &resVar, &st.MaxLoop); err != nil {
			return nil, err
		}
		st.ResultVariable = resVar.String
		if st.Type == schema.StepTypeCondition && st.MaxLoop <= 0 {
			st.MaxLoop = schema.DefaultMaxLoop
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

func (s *LibSQLStore) ReplaceSteps(ctx context.Context, definitionID string, steps []schema.Step) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace steps: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM steps WHERE definition_id = ?`, definitionID); err != nil {
		return fmt.Errorf("clear steps: %w", err)
	}
	if err := insertSteps(ctx, tx, definitionID, steps); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE definitions SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`, definitionID); err != nil {
		return fmt.Errorf("touch definition: %w", err)
	}
	return tx.Commit()
}

func insertSteps(ctx context.Context, tx *sql.Tx, definitionID string, steps []schema.Step) error {
	for _, st := range steps {
		maxLoop := st.MaxLoop
		if st.Type == schema.StepTypeCondition && maxLoop <= 0 {
			maxLoop = schema.DefaultMaxLoop
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO steps (definition_id, step_order, type, expression, result_variable, max_loop)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			definitionID, st.Order, string(st.Type), st.Expression, nullStr(st.ResultVariable), maxLoop,
		); err != nil {
			return fmt.Errorf("insert step %d: %w", st.Order, err)
		}
	}
	return nil
}

// --- Run results ---

func (s *LibSQLStore) RecordRun(ctx context.Context, id, value, status string, lastRun time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE definitions SET value = ?, status = ?, last_run = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		value, status, lastRun, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "definition", id)
}

func (s *LibSQLStore) RecordStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE definitions SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "definition", id)
}

// --- Helpers ---

func storeNotFound(kind, id string) error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", kind, id)
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(kind, id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToUpper(err.Error()), "UNIQUE")
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*LibSQLStore)(nil)
