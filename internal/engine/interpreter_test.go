package engine

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/metrica/internal/query"
	"github.com/rendis/metrica/internal/timeseries"
	"github.com/rendis/metrica/pkg/schema"
)

// fakeQueries satisfies query.Executor with a programmable response.
type fakeQueries struct {
	result   *query.Result
	err      error
	lastSQL  string
	lastArgs []any
}

func (f *fakeQueries) Execute(_ context.Context, sqlText string, params []any) (*query.Result, error) {
	f.lastSQL = sqlText
	f.lastArgs = params
	return f.result, f.err
}

// fakeScripts satisfies ScriptRunner with a programmable evaluator and counts
// evaluations per expression.
type fakeScripts struct {
	eval     func(code string, vars map[string]any) (any, error)
	lastCode string
	evals    map[string]int
}

func (f *fakeScripts) Evaluate(_ context.Context, code string, vars map[string]any) (any, error) {
	f.lastCode = code
	if f.evals == nil {
		f.evals = make(map[string]int)
	}
	f.evals[code]++
	return f.eval(code, vars)
}

// fakeSeries satisfies timeseries.Reader with fixed points.
type fakeSeries struct {
	points     []timeseries.Point
	err        error
	lastMethod schema.InterpolationMethod
	resampled  bool
}

func (f *fakeSeries) GetRange(_ context.Context, _, _, _ string, _, _ time.Time) ([]timeseries.Point, error) {
	return f.points, f.err
}

func (f *fakeSeries) GetRangeInterpolated(_ context.Context, _, _, _ string, _, _ time.Time, _ time.Duration, method schema.InterpolationMethod) ([]timeseries.Point, error) {
	f.resampled = true
	f.lastMethod = method
	return f.points, f.err
}

func newTestInterpreter(q query.Executor, s ScriptRunner, r timeseries.Reader) *Interpreter {
	if q == nil {
		q = &fakeQueries{}
	}
	if r == nil {
		r = &fakeSeries{}
	}
	return NewInterpreter(q, s, r, slog.Default())
}

func testDef() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{ID: "def-1", Name: "test"}
}

// counterScripts evaluates the three expressions of the loop workflow:
// "incr" bumps n, "check" tests n < 3, "emit" returns n.
func counterScripts() *fakeScripts {
	return &fakeScripts{eval: func(code string, vars map[string]any) (any, error) {
		n, _ := vars["n"].(int)
		switch code {
		case "incr":
			return n + 1, nil
		case "check":
			return n < 3, nil
		case "emit":
			return n, nil
		}
		return nil, errors.New("unknown expression " + code)
	}}
}

func loopSteps(maxLoop int) []schema.Step {
	return []schema.Step{
		{Order: 1, Type: schema.StepTypeVariable, Expression: "incr", ResultVariable: "n"},
		{Order: 2, Type: schema.StepTypeCondition, Expression: "check", ResultVariable: "1", MaxLoop: maxLoop},
		{Order: 3, Type: schema.StepTypeScript, Expression: "emit", ResultVariable: "result"},
	}
}

// --- Tests ---

func TestRunLoopUntilConditionFalse(t *testing.T) {
	scripts := counterScripts()
	in := newTestInterpreter(nil, scripts, nil)

	// n increments to 3 over two backward jumps, then the condition turns
	// false and control falls through to the final step.
	value, err := in.Run(context.Background(), testDef(), loopSteps(10))
	require.NoError(t, err)
	assert.Equal(t, "3", value)

	// The increment step ran three times and the condition was evaluated
	// after each: exactly two of those evaluations jumped backward.
	assert.Equal(t, 3, scripts.evals["incr"])
	assert.Equal(t, 3, scripts.evals["check"])
	assert.Equal(t, 1, scripts.evals["emit"])
}

func TestRunLoopBudgetDisablesBranch(t *testing.T) {
	scripts := counterScripts()
	in := newTestInterpreter(nil, scripts, nil)

	// MaxLoop 1 allows a single jump: n reaches 2, then the exhausted
	// condition is skipped entirely even though it would still be true.
	value, err := in.Run(context.Background(), testDef(), loopSteps(1))
	require.NoError(t, err)
	assert.Equal(t, "2", value)

	// One evaluated jump, then the disabled condition never evaluates again.
	assert.Equal(t, 2, scripts.evals["incr"])
	assert.Equal(t, 1, scripts.evals["check"])
}

func TestRunConditionSubstitutesPlaceholders(t *testing.T) {
	scripts := &fakeScripts{eval: func(code string, _ map[string]any) (any, error) {
		if code == "two" {
			return 2, nil
		}
		return false, nil
	}}
	in := newTestInterpreter(nil, scripts, nil)

	steps := []schema.Step{
		{Order: 1, Type: schema.StepTypeVariable, Expression: "two", ResultVariable: "n"},
		{Order: 2, Type: schema.StepTypeCondition, Expression: "{n} < 3", ResultVariable: "1", MaxLoop: 1},
		{Order: 3, Type: schema.StepTypeScript, Expression: "two", ResultVariable: "result"},
	}
	_, err := in.Run(context.Background(), testDef(), steps)
	require.NoError(t, err)
	assert.Equal(t, "two", scripts.lastCode)

	// The condition saw the substituted literal, not the raw placeholder.
	// lastCode was overwritten by step 3; re-run with only the condition last.
	scripts2 := &fakeScripts{eval: func(string, map[string]any) (any, error) { return false, nil }}
	in2 := newTestInterpreter(nil, scripts2, nil)
	_, err = in2.Run(context.Background(), testDef(), []schema.Step{
		{Order: 1, Type: schema.StepTypeCondition, Expression: "{n} < 3", ResultVariable: "1", MaxLoop: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, " < 3", scripts2.lastCode)
}

func TestRunConditionNonBooleanFails(t *testing.T) {
	scripts := &fakeScripts{eval: func(string, map[string]any) (any, error) { return "yes", nil }}
	in := newTestInterpreter(nil, scripts, nil)

	_, err := in.Run(context.Background(), testDef(), []schema.Step{
		{Order: 1, Type: schema.StepTypeCondition, Expression: "check", ResultVariable: "1", MaxLoop: 1},
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeExecution, schema.CodeOf(err))

	var me *schema.MetricaError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, 1, me.Step)
}

func TestRunQueryBindsParamsAndResolvesFirstColumn(t *testing.T) {
	queries := &fakeQueries{result: &query.Result{
		Columns: []string{"AVG(Temperature)"},
		Rows:    []map[string]any{{"AVG(Temperature)": 25.0}},
	}}
	scripts := &fakeScripts{eval: func(string, map[string]any) (any, error) { return 10, nil }}
	in := newTestInterpreter(queries, scripts, nil)

	steps := []schema.Step{
		{Order: 1, Type: schema.StepTypeVariable, Expression: "ten", ResultVariable: "min"},
		{Order: 2, Type: schema.StepTypeQuery,
			Expression:     "SELECT AVG(Temperature) FROM Sensors WHERE id > {min}",
			ResultVariable: "avg"},
	}
	value, err := in.Run(context.Background(), testDef(), steps)
	require.NoError(t, err)

	assert.Equal(t, "SELECT AVG(Temperature) FROM Sensors WHERE id > ?", queries.lastSQL)
	assert.Equal(t, []any{10}, queries.lastArgs)
	// "avg" is not a column of the result, so the first column resolves.
	assert.Equal(t, "25", value)
}

func TestRunQueryResolvesNamedColumn(t *testing.T) {
	queries := &fakeQueries{result: &query.Result{
		Columns: []string{"total", "avg"},
		Rows:    []map[string]any{{"total": 100, "avg": 25.0}},
	}}
	in := newTestInterpreter(queries, nil, nil)

	value, err := in.Run(context.Background(), testDef(), []schema.Step{
		{Order: 1, Type: schema.StepTypeQuery, Expression: "SELECT COUNT(id) AS total, AVG(v) AS avg FROM t", ResultVariable: "avg"},
	})
	require.NoError(t, err)
	assert.Equal(t, "25", value)
}

func TestRunQueryEmptyResultYieldsEmptyValue(t *testing.T) {
	queries := &fakeQueries{result: &query.Result{Columns: []string{"v"}}}
	in := newTestInterpreter(queries, nil, nil)

	value, err := in.Run(context.Background(), testDef(), []schema.Step{
		{Order: 1, Type: schema.StepTypeQuery, Expression: "SELECT v FROM t", ResultVariable: "v"},
	})
	require.NoError(t, err)
	assert.Equal(t, "", value)
}

func TestRunTimeSeriesFinalValueIsLastPoint(t *testing.T) {
	series := &fakeSeries{points: []timeseries.Point{
		{Timestamp: time.Now().Add(-time.Hour), Value: 20.0},
		{Timestamp: time.Now(), Value: 21.5},
	}}
	in := newTestInterpreter(nil, nil, series)

	value, err := in.Run(context.Background(), testDef(), []schema.Step{
		{Order: 1, Type: schema.StepTypeTimeSeries,
			Expression: "Sensors,dev-1,Temperature,now-1h,now", ResultVariable: "temp"},
	})
	require.NoError(t, err)
	assert.Equal(t, "21.5", value)
	assert.False(t, series.resampled)
}

func TestRunTimeSeriesInterpolatedPath(t *testing.T) {
	series := &fakeSeries{points: []timeseries.Point{{Timestamp: time.Now(), Value: 1.0}}}
	in := newTestInterpreter(nil, nil, series)

	_, err := in.Run(context.Background(), testDef(), []schema.Step{
		{Order: 1, Type: schema.StepTypeTimeSeries,
			Expression: "Sensors,dev-1,Temperature,now-1h,now,10m,linear", ResultVariable: "temp"},
	})
	require.NoError(t, err)
	assert.True(t, series.resampled)
	assert.Equal(t, schema.InterpolationLinear, series.lastMethod)
}

func TestRunIndexedResultVariable(t *testing.T) {
	calls := 0
	scripts := &fakeScripts{eval: func(string, map[string]any) (any, error) {
		calls++
		return calls * 10, nil
	}}
	in := newTestInterpreter(nil, scripts, nil)

	steps := []schema.Step{
		{Order: 1, Type: schema.StepTypeVariable, Expression: "a", ResultVariable: "readings[0]"},
		{Order: 2, Type: schema.StepTypeVariable, Expression: "b", ResultVariable: "readings[1]"},
		{Order: 3, Type: schema.StepTypeVariable, Expression: "c", ResultVariable: "readings[1]"},
	}
	value, err := in.Run(context.Background(), testDef(), steps)
	require.NoError(t, err)
	// The final step's result variable resolves to the list slot it wrote.
	assert.Equal(t, "30", value)
}

func TestRunCollaboratorErrorCarriesStep(t *testing.T) {
	queries := &fakeQueries{err: errors.New("disk exploded")}
	in := newTestInterpreter(queries, nil, nil)

	_, err := in.Run(context.Background(), testDef(), []schema.Step{
		{Order: 1, Type: schema.StepTypeQuery, Expression: "SELECT v FROM t", ResultVariable: "v"},
	})
	require.Error(t, err)

	var me *schema.MetricaError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, 1, me.Step)
	assert.Equal(t, schema.ErrCodeExecution, me.Code)
}

func TestRunHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	in := newTestInterpreter(nil, counterScripts(), nil)
	_, err := in.Run(ctx, testDef(), loopSteps(10))
	assert.ErrorIs(t, err, context.Canceled)
}
