package expressions

import (
	"context"
	"fmt"

	"github.com/rendis/metrica/pkg/schema"
)

// Runner is the script executor handed to the interpreter and validator.
// It pairs a configured Engine with the static safety scanner.
type Runner struct {
	engine Engine
}

// NewRunner creates a Runner backed by the named engine: "expr" (default),
// "cel" or "jq".
func NewRunner(engineName string) (*Runner, error) {
	var engine Engine
	switch engineName {
	case "", "expr":
		engine = NewExprEngine()
	case "cel":
		engine = NewCELEngine()
	case "jq":
		engine = NewGoJQEngine()
	default:
		return nil, fmt.Errorf("unknown script engine %q (want expr, cel or jq)", engineName)
	}
	return &Runner{engine: engine}, nil
}

// Engine returns the name of the underlying engine.
func (r *Runner) Engine() string {
	return r.engine.Name()
}

// Evaluate runs the expression against the variable context.
func (r *Runner) Evaluate(ctx context.Context, code string, vars map[string]any) (any, error) {
	return r.engine.Evaluate(ctx, code, vars)
}

// IsSafe scans the expression for disallowed capability usage. Unsafe
// expressions are rejected at validation time and never reach the engine.
func (r *Runner) IsSafe(code string) (bool, string) {
	ok, reason := IsSafe(code)
	if !ok {
		return false, reason
	}
	return true, ""
}

// CheckSafe is IsSafe returning a typed error, for callers that prefer it.
func (r *Runner) CheckSafe(code string) error {
	if ok, reason := r.IsSafe(code); !ok {
		return schema.NewError(schema.ErrCodeUnsafeScript, reason)
	}
	return nil
}
