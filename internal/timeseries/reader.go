package timeseries

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rendis/metrica/pkg/schema"
)

// Point is one time-series sample.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Reader provides range access to time-series data, raw or resampled.
type Reader interface {
	GetRange(ctx context.Context, table, entityID, property string, start, end time.Time) ([]Point, error)
	GetRangeInterpolated(ctx context.Context, table, entityID, property string, start, end time.Time, interval time.Duration, method schema.InterpolationMethod) ([]Point, error)
}

// Request is a parsed TimeSeries step expression:
// "table,entityId,property,start,end[,interval,method]".
type Request struct {
	Table    string
	EntityID string
	Property string
	Start    time.Time
	End      time.Time
	Interval time.Duration             // 0 when absent
	Method   schema.InterpolationMethod // InterpolationNone when absent
}

// ParseRequest splits and parses a TimeSeries step expression. The validator
// performs the same field-count and syntax checks at definition time, so
// failures here on a validated definition indicate unresolved placeholder
// values rather than authoring errors.
func ParseRequest(expression string, now time.Time) (*Request, error) {
	fields := strings.Split(expression, ",")
	if len(fields) < 5 || len(fields) > 7 {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"timeseries expression must have 5-7 comma-separated fields, got %d", len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	start, err := ParseTime(fields[3], now)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "invalid start time %q: %s", fields[3], err.Error()).WithCause(err)
	}
	end, err := ParseTime(fields[4], now)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "invalid end time %q: %s", fields[4], err.Error()).WithCause(err)
	}

	req := &Request{
		Table:    fields[0],
		EntityID: fields[1],
		Property: fields[2],
		Start:    start,
		End:      end,
		Method:   schema.InterpolationNone,
	}

	if len(fields) >= 6 && fields[5] != "" {
		interval, err := time.ParseDuration(fields[5])
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "invalid interval %q: %s", fields[5], err.Error()).WithCause(err)
		}
		req.Interval = interval
	}
	if len(fields) == 7 && fields[6] != "" {
		method := schema.InterpolationMethod(strings.ToLower(fields[6]))
		if !method.Valid() {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "unknown interpolation method %q", fields[6])
		}
		req.Method = method
	}
	return req, nil
}

// ParseTime parses a timestamp field: RFC3339, "2006-01-02 15:04:05",
// "now", or "now-<duration>" relative to the supplied clock.
func ParseTime(s string, now time.Time) (time.Time, error) {
	if s == "now" {
		return now, nil
	}
	if rest, ok := strings.CutPrefix(s, "now-"); ok {
		d, err := time.ParseDuration(rest)
		if err != nil {
			return time.Time{}, err
		}
		return now.Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", s)
}

// SQLReader implements Reader over the shared libSQL database's timeseries
// table (table_name, entity_id, property, ts, value).
type SQLReader struct {
	db *sql.DB
}

// NewSQLReader creates a Reader backed by the given database.
func NewSQLReader(db *sql.DB) *SQLReader {
	return &SQLReader{db: db}
}

// GetRange returns all samples in [start, end], chronologically ordered.
func (r *SQLReader) GetRange(ctx context.Context, table, entityID, property string, start, end time.Time) ([]Point, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT ts, value FROM timeseries
		 WHERE table_name = ? AND entity_id = ? AND property = ? AND ts >= ? AND ts <= ?
		 ORDER BY ts`,
		table, entityID, property, start, end)
	if err != nil {
		return nil, fmt.Errorf("timeseries range query: %w", err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.Timestamp, &p.Value); err != nil {
			return nil, fmt.Errorf("scan timeseries point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// GetRangeInterpolated resamples the range onto a fixed grid of the given
// interval using the requested method. With InterpolationNone or a zero
// interval the raw range is returned.
func (r *SQLReader) GetRangeInterpolated(ctx context.Context, table, entityID, property string, start, end time.Time, interval time.Duration, method schema.InterpolationMethod) ([]Point, error) {
	raw, err := r.GetRange(ctx, table, entityID, property, start, end)
	if err != nil {
		return nil, err
	}
	if method == schema.InterpolationNone || interval <= 0 {
		return raw, nil
	}
	return Resample(raw, start, end, interval, method), nil
}

// Resample projects chronologically ordered points onto the grid
// start, start+interval, ..., <= end. Grid points outside the data range are
// skipped rather than extrapolated.
func Resample(points []Point, start, end time.Time, interval time.Duration, method schema.InterpolationMethod) []Point {
	if len(points) == 0 {
		return nil
	}

	var out []Point
	for t := start; !t.After(end); t = t.Add(interval) {
		v, ok := sampleAt(points, t, method)
		if ok {
			out = append(out, Point{Timestamp: t, Value: v})
		}
	}
	return out
}

// sampleAt computes the value at time t from the ordered points.
func sampleAt(points []Point, t time.Time, method schema.InterpolationMethod) (float64, bool) {
	// Index of the first point at or after t.
	next := -1
	for i, p := range points {
		if !p.Timestamp.Before(t) {
			next = i
			break
		}
	}
	prev := next - 1
	if next == -1 {
		prev = len(points) - 1
	}

	switch method {
	case schema.InterpolationPrevious:
		if next >= 0 && points[next].Timestamp.Equal(t) {
			return points[next].Value, true
		}
		if prev < 0 {
			return 0, false
		}
		return points[prev].Value, true

	case schema.InterpolationNext:
		if next < 0 {
			return 0, false
		}
		return points[next].Value, true

	case schema.InterpolationNearest:
		if prev < 0 && next < 0 {
			return 0, false
		}
		if prev < 0 {
			return points[next].Value, true
		}
		if next < 0 {
			return points[prev].Value, true
		}
		dPrev := t.Sub(points[prev].Timestamp)
		dNext := points[next].Timestamp.Sub(t)
		if dNext <= dPrev {
			return points[next].Value, true
		}
		return points[prev].Value, true

	case schema.InterpolationLinear:
		if next >= 0 && points[next].Timestamp.Equal(t) {
			return points[next].Value, true
		}
		if prev < 0 || next < 0 {
			return 0, false
		}
		p0, p1 := points[prev], points[next]
		span := p1.Timestamp.Sub(p0.Timestamp)
		if span == 0 {
			return p0.Value, true
		}
		frac := float64(t.Sub(p0.Timestamp)) / float64(span)
		return p0.Value + (p1.Value-p0.Value)*frac, true

	default:
		return 0, false
	}
}

var _ Reader = (*SQLReader)(nil)
