package timeseries

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/metrica/internal/store"
	"github.com/rendis/metrica/pkg/schema"
)

func newTestReader(t *testing.T) (*SQLReader, *sql.DB) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return NewSQLReader(s.DB()), s.DB()
}

func seedSamples(t *testing.T, db *sql.DB, base time.Time) {
	t.Helper()
	samples := []struct {
		offset time.Duration
		value  float64
	}{
		{0, 10}, {10 * time.Minute, 20}, {20 * time.Minute, 40},
	}
	for _, s := range samples {
		_, err := db.Exec(
			`INSERT INTO timeseries (table_name, entity_id, property, ts, value) VALUES (?, ?, ?, ?, ?)`,
			"Sensors", "dev-1", "Temperature", base.Add(s.offset), s.value)
		require.NoError(t, err)
	}
	// A neighboring series that must never leak into dev-1 reads.
	_, err := db.Exec(
		`INSERT INTO timeseries (table_name, entity_id, property, ts, value) VALUES (?, ?, ?, ?, ?)`,
		"Sensors", "dev-2", "Temperature", base, 99.0)
	require.NoError(t, err)
}

// --- Tests ---

func TestGetRange(t *testing.T) {
	r, db := newTestReader(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedSamples(t, db, base)

	points, err := r.GetRange(context.Background(),
		"Sensors", "dev-1", "Temperature", base, base.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, 10.0, points[0].Value)
	assert.Equal(t, 40.0, points[2].Value)
	assert.True(t, points[0].Timestamp.Before(points[1].Timestamp))
}

func TestGetRangeBoundsAreInclusive(t *testing.T) {
	r, db := newTestReader(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedSamples(t, db, base)

	points, err := r.GetRange(context.Background(),
		"Sensors", "dev-1", "Temperature", base.Add(10*time.Minute), base.Add(20*time.Minute))
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 20.0, points[0].Value)
	assert.Equal(t, 40.0, points[1].Value)
}

func TestGetRangeEmpty(t *testing.T) {
	r, db := newTestReader(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedSamples(t, db, base)

	points, err := r.GetRange(context.Background(),
		"Sensors", "ghost", "Temperature", base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestGetRangeInterpolatedLinear(t *testing.T) {
	r, db := newTestReader(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedSamples(t, db, base)

	points, err := r.GetRangeInterpolated(context.Background(),
		"Sensors", "dev-1", "Temperature", base, base.Add(20*time.Minute),
		5*time.Minute, schema.InterpolationLinear)
	require.NoError(t, err)
	require.Len(t, points, 5)
	assert.Equal(t, []float64{10, 15, 20, 30, 40}, pointValues(points))
}

func TestGetRangeInterpolatedNoneReturnsRaw(t *testing.T) {
	r, db := newTestReader(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedSamples(t, db, base)

	points, err := r.GetRangeInterpolated(context.Background(),
		"Sensors", "dev-1", "Temperature", base, base.Add(time.Hour),
		5*time.Minute, schema.InterpolationNone)
	require.NoError(t, err)
	assert.Len(t, points, 3)
}

func pointValues(points []Point) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}
