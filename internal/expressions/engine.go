package expressions

import "context"

// Engine evaluates Script, Variable and Condition step expressions against
// the run's variable context. Three implementations: Expr (default), CEL,
// and GoJQ, selectable via configuration.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
