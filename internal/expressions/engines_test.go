package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/metrica/pkg/schema"
)

func TestExprEngineEvaluate(t *testing.T) {
	e := NewExprEngine()
	ctx := context.Background()

	out, err := e.Evaluate(ctx, "x * 2 + 1", map[string]any{"x": 10})
	require.NoError(t, err)
	assert.Equal(t, 21, out)

	out, err = e.Evaluate(ctx, "avg > 20.0", map[string]any{"avg": 25.0})
	require.NoError(t, err)
	assert.Equal(t, true, out)

	// Undefined variables evaluate to nil rather than failing compilation.
	out, err = e.Evaluate(ctx, "missing == nil", nil)
	require.NoError(t, err)
	assert.Equal(t, true, out)

	_, err = e.Evaluate(ctx, "", nil)
	require.Error(t, err)
}

func TestExprEngineCachesPrograms(t *testing.T) {
	e := NewExprEngine()
	ctx := context.Background()

	_, err := e.Evaluate(ctx, "x + 1", map[string]any{"x": 1})
	require.NoError(t, err)
	_, err = e.Evaluate(ctx, "x + 1", map[string]any{"x": 2})
	require.NoError(t, err)
	assert.Len(t, e.cache, 1)
}

func TestCELEngineEvaluate(t *testing.T) {
	e := NewCELEngine()
	ctx := context.Background()

	out, err := e.Evaluate(ctx, "x * 2", map[string]any{"x": int64(10)})
	require.NoError(t, err)
	assert.Equal(t, int64(20), out)

	out, err = e.Evaluate(ctx, "avg > 20.0", map[string]any{"avg": 25.0})
	require.NoError(t, err)
	assert.Equal(t, true, out)

	// Same expression with a different variable set compiles separately.
	out, err = e.Evaluate(ctx, "x * 2", map[string]any{"x": int64(3), "y": int64(1)})
	require.NoError(t, err)
	assert.Equal(t, int64(6), out)
	assert.Len(t, e.cache, 3)
}

func TestCELEngineCompileError(t *testing.T) {
	e := NewCELEngine()
	_, err := e.Evaluate(context.Background(), "undeclared + 1", map[string]any{"x": 1})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestGoJQEngineEvaluate(t *testing.T) {
	e := NewGoJQEngine()
	ctx := context.Background()

	out, err := e.Evaluate(ctx, ".x > 3", map[string]any{"x": 10})
	require.NoError(t, err)
	assert.Equal(t, true, out)

	// Integers normalize to float64 on the way in.
	out, err = e.Evaluate(ctx, ".x + 1", map[string]any{"x": 2})
	require.NoError(t, err)
	assert.Equal(t, 3.0, out)

	// Multiple outputs collect into a slice.
	out, err = e.Evaluate(ctx, ".xs[]", map[string]any{"xs": []any{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0}, out)
}

func TestGoJQEngineBlocksEnv(t *testing.T) {
	e := NewGoJQEngine()
	out, err := e.Evaluate(context.Background(), `env.HOME`, map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestRunnerEngineSelection(t *testing.T) {
	for name, want := range map[string]string{"": "expr", "expr": "expr", "cel": "cel", "jq": "jq"} {
		r, err := NewRunner(name)
		require.NoError(t, err)
		assert.Equal(t, want, r.Engine())
	}

	_, err := NewRunner("lua")
	require.Error(t, err)
}

func TestRunnerCheckSafe(t *testing.T) {
	r, err := NewRunner("expr")
	require.NoError(t, err)

	assert.NoError(t, r.CheckSafe("x + 1"))

	err = r.CheckSafe("http.get('https://example.com')")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeUnsafeScript, schema.CodeOf(err))
}
