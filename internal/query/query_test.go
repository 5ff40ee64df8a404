package query

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/metrica/internal/store"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	db := s.DB()
	_, err = db.Exec(`CREATE TABLE Sensors (DeviceId TEXT, Temperature REAL, Humidity REAL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO Sensors VALUES ('dev-1', 20.0, 40.0), ('dev-1', 30.0, 50.0), ('dev-2', 10.0, 60.0)`)
	require.NoError(t, err)
	return db
}

// --- Tests ---

func TestExecutePreservesColumnOrder(t *testing.T) {
	e := NewSQLExecutor(newTestDB(t))

	res, err := e.Execute(context.Background(),
		`SELECT Humidity, Temperature, DeviceId FROM Sensors ORDER BY Temperature`, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Humidity", "Temperature", "DeviceId"}, res.Columns)
	require.Len(t, res.Rows, 3)
	assert.Equal(t, "dev-2", res.Rows[0]["DeviceId"])
}

func TestExecuteBindsPositionalParams(t *testing.T) {
	e := NewSQLExecutor(newTestDB(t))

	res, err := e.Execute(context.Background(),
		`SELECT AVG(Temperature) AS avg_temp FROM Sensors WHERE DeviceId = ?`,
		[]any{"dev-1"})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, 25.0, res.Rows[0]["avg_temp"])
}

func TestExecuteNormalizesTextValues(t *testing.T) {
	e := NewSQLExecutor(newTestDB(t))

	res, err := e.Execute(context.Background(),
		`SELECT DeviceId FROM Sensors WHERE Temperature = 10.0`, nil)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	// TEXT comes back as string, never []byte.
	assert.Equal(t, "dev-2", res.Rows[0]["DeviceId"])
	assert.IsType(t, "", res.Rows[0]["DeviceId"])
}

func TestExecuteEmptyResult(t *testing.T) {
	e := NewSQLExecutor(newTestDB(t))

	res, err := e.Execute(context.Background(),
		`SELECT DeviceId FROM Sensors WHERE DeviceId = ?`, []any{"ghost"})
	require.NoError(t, err)
	assert.Equal(t, []string{"DeviceId"}, res.Columns)
	assert.Empty(t, res.Rows)
}

func TestExecuteSQLError(t *testing.T) {
	e := NewSQLExecutor(newTestDB(t))

	_, err := e.Execute(context.Background(), `SELECT nope FROM NoSuchTable`, nil)
	require.Error(t, err)
}

func TestTableExists(t *testing.T) {
	in := NewSQLIntrospector(newTestDB(t))
	ctx := context.Background()

	ok, err := in.TableExists(ctx, "Sensors")
	require.NoError(t, err)
	assert.True(t, ok)

	// Lookups are case-insensitive.
	ok, err = in.TableExists(ctx, "sensors")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = in.TableExists(ctx, "Orders")
	require.NoError(t, err)
	assert.False(t, ok)

	// Invalid identifiers are rejected without touching the database.
	ok, err = in.TableExists(ctx, "Sensors; DROP TABLE Sensors")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestColumnExists(t *testing.T) {
	in := NewSQLIntrospector(newTestDB(t))
	ctx := context.Background()

	ok, err := in.ColumnExists(ctx, "Sensors", "Temperature")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = in.ColumnExists(ctx, "sensors", "temperature")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = in.ColumnExists(ctx, "Sensors", "Pressure")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = in.ColumnExists(ctx, "NoSuchTable", "Temperature")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = in.ColumnExists(ctx, "Sensors", "x; --")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIntrospectorReset(t *testing.T) {
	db := newTestDB(t)
	in := NewSQLIntrospector(db)
	ctx := context.Background()

	ok, err := in.ColumnExists(ctx, "Sensors", "Pressure")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = db.Exec(`ALTER TABLE Sensors ADD COLUMN Pressure REAL`)
	require.NoError(t, err)

	// The cached column set predates the ALTER.
	ok, err = in.ColumnExists(ctx, "Sensors", "Pressure")
	require.NoError(t, err)
	assert.False(t, ok)

	in.Reset()
	ok, err = in.ColumnExists(ctx, "Sensors", "Pressure")
	require.NoError(t, err)
	assert.True(t, ok)
}
