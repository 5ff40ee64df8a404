package engine

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/rendis/metrica/internal/logging"
	"github.com/rendis/metrica/internal/query"
	"github.com/rendis/metrica/internal/timeseries"
	"github.com/rendis/metrica/pkg/schema"
)

// ScriptRunner evaluates Script, Variable and Condition expressions.
// Satisfied by expressions.Runner.
type ScriptRunner interface {
	Evaluate(ctx context.Context, code string, vars map[string]any) (any, error)
}

// Interpreter executes one workflow run to completion. It owns the program
// counter, the variable context and the loop guards; everything else is a
// collaborator call. Authoring errors never surface here — they were caught
// by the validator — so any error returned is a collaborator failure.
type Interpreter struct {
	queries query.Executor
	scripts ScriptRunner
	series  timeseries.Reader
	logger  *slog.Logger
	now     func() time.Time
}

// NewInterpreter creates an Interpreter with the given collaborators.
func NewInterpreter(queries query.Executor, scripts ScriptRunner, series timeseries.Reader, logger *slog.Logger) *Interpreter {
	return &Interpreter{
		queries: queries,
		scripts: scripts,
		series:  series,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// runState is the ephemeral state of a single run. A fresh runState per run
// means two overlapping runs of one definition cannot corrupt each other.
type runState struct {
	pc           int
	vars         *Context
	guard        map[int]int // condition step order -> jumps taken
	lastResult   any
	lastExecuted int // index of the step that last executed, -1 before any
	lastColumns  []string
}

// Run executes the steps of a definition and returns the workflow's scalar
// result in textual form. The steps must already be validated and ordered.
func (in *Interpreter) Run(ctx context.Context, def *schema.WorkflowDefinition, steps []schema.Step) (string, error) {
	ctx = logging.WithDefinitionID(ctx, def.ID)
	st := &runState{
		vars:         NewContext(),
		guard:        make(map[int]int),
		lastExecuted: -1,
	}
	n := len(steps)

	for st.pc < n {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		step := steps[st.pc]
		stepCtx := logging.WithStep(ctx, step.Order)

		if step.Type == schema.StepTypeCondition {
			jumped, err := in.runCondition(stepCtx, st, step, n)
			if err != nil {
				return "", err
			}
			if !jumped {
				st.pc++
			}
			continue
		}

		if err := in.runStep(stepCtx, st, step); err != nil {
			return "", err
		}

		if step.ResultVariable != "" {
			st.vars.Assign(step.ResultVariable, st.lastResult)
		}
		st.lastExecuted = st.pc
		st.pc++
	}

	return in.finalValue(steps, st), nil
}

// runCondition evaluates a Condition step and returns whether control jumped.
// Once a condition has spent its MaxLoop budget the branch is permanently
// disabled for the rest of the run: the step is skipped entirely and control
// falls through, even if the condition would still be true.
func (in *Interpreter) runCondition(ctx context.Context, st *runState, step schema.Step, n int) (bool, error) {
	if st.guard[step.Order] >= step.MaxLoop {
		in.logger.WarnContext(ctx, "condition loop budget exhausted, branch disabled",
			slog.Int("max_loop", step.MaxLoop))
		return false, nil
	}

	code := SubstituteLiteral(step.Expression, st.vars)
	result, err := in.scripts.Evaluate(ctx, code, st.vars.Snapshot())
	if err != nil {
		return false, stepError(err, step.Order)
	}
	st.lastResult = result
	st.lastExecuted = st.pc

	truth, ok := result.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeExecution,
			"condition result is %T, want boolean", result).WithStep(step.Order)
	}

	target, terr := strconv.Atoi(strings.TrimSpace(step.ResultVariable))
	if truth && terr == nil && target >= 1 && target <= n && target != step.Order {
		st.guard[step.Order]++
		st.pc = target - 1
		return true, nil
	}
	return false, nil
}

// runStep dispatches a non-Condition step to its collaborator and captures
// the typed result.
func (in *Interpreter) runStep(ctx context.Context, st *runState, step schema.Step) error {
	switch step.Type {
	case schema.StepTypeQuery:
		sqlText, params := SubstituteQuery(step.Expression, st.vars)
		result, err := in.queries.Execute(ctx, sqlText, params)
		if err != nil {
			return stepError(err, step.Order)
		}
		st.lastResult = result.Rows
		st.lastColumns = result.Columns

	case schema.StepTypeScript, schema.StepTypeVariable:
		code := SubstituteLiteral(step.Expression, st.vars)
		result, err := in.scripts.Evaluate(ctx, code, st.vars.Snapshot())
		if err != nil {
			return stepError(err, step.Order)
		}
		st.lastResult = result

	case schema.StepTypeTimeSeries:
		text := SubstituteLiteral(step.Expression, st.vars)
		req, err := timeseries.ParseRequest(text, in.now())
		if err != nil {
			return stepError(err, step.Order)
		}
		var points []timeseries.Point
		if req.Method != schema.InterpolationNone && req.Interval > 0 {
			points, err = in.series.GetRangeInterpolated(ctx, req.Table, req.EntityID, req.Property,
				req.Start, req.End, req.Interval, req.Method)
		} else {
			points, err = in.series.GetRange(ctx, req.Table, req.EntityID, req.Property, req.Start, req.End)
		}
		if err != nil {
			return stepError(err, step.Order)
		}
		st.lastResult = points

	default:
		return schema.NewErrorf(schema.ErrCodeExecution,
			"unknown step type %q", step.Type).WithStep(step.Order)
	}
	return nil
}

// finalValue resolves the workflow's scalar result against the step that
// executed immediately before the loop terminated.
func (in *Interpreter) finalValue(steps []schema.Step, st *runState) string {
	if st.lastExecuted < 0 {
		return ""
	}
	step := steps[st.lastExecuted]

	switch step.Type {
	case schema.StepTypeQuery:
		rows, _ := st.lastResult.([]map[string]any)
		if len(rows) == 0 {
			return ""
		}
		row := rows[0]
		if v, ok := row[step.ResultVariable]; ok {
			return Stringify(v)
		}
		if len(st.lastColumns) > 0 {
			return Stringify(row[st.lastColumns[0]])
		}
		return ""

	case schema.StepTypeTimeSeries:
		points, _ := st.lastResult.([]timeseries.Point)
		if len(points) == 0 {
			return ""
		}
		return Stringify(points[len(points)-1].Value)

	default:
		if v, ok := st.vars.Resolve(step.ResultVariable); ok {
			return Stringify(v)
		}
		return Stringify(st.lastResult)
	}
}

// stepError tags a collaborator error with the step it came from.
func stepError(err error, order int) error {
	if me, ok := err.(*schema.MetricaError); ok {
		return me.WithStep(order)
	}
	return schema.NewErrorf(schema.ErrCodeExecution, "%s", err.Error()).
		WithCause(err).WithStep(order)
}
