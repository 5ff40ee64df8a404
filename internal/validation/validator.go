package validation

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rendis/metrica/internal/engine"
	"github.com/rendis/metrica/internal/query"
	"github.com/rendis/metrica/pkg/schema"
)

// ScriptScanner statically scans an expression for disallowed capability
// usage (file, network, reflection, threading, process access).
// Satisfied by expressions.Runner.
type ScriptScanner interface {
	IsSafe(code string) (bool, string)
}

// Validator performs static analysis of a step sequence before a definition
// is accepted or re-saved. All violations accumulate; validation never
// short-circuits on the first failure, because workflows are authored
// interactively and partial feedback is far less useful than the full list.
type Validator struct {
	scripts ScriptScanner
	schema  query.SchemaIntrospector
}

// New creates a Validator with the given collaborators.
func New(scripts ScriptScanner, introspector query.SchemaIntrospector) *Validator {
	return &Validator{scripts: scripts, schema: introspector}
}

// Validate checks the step sequence and returns every violation found.
func (v *Validator) Validate(ctx context.Context, steps []schema.Step) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	n := len(steps)

	if n == 0 {
		result.Add(0, "definition must have at least one step")
		return result
	}

	defined := make(map[string]bool)

	for i, step := range steps {
		order := i + 1

		if step.Order != order {
			result.Addf(order, "step order is %d, must equal position %d", step.Order, order)
		}
		if !step.Type.Valid() {
			result.Addf(order, "unknown step type %q", step.Type)
		}
		if strings.TrimSpace(step.Expression) == "" {
			result.Add(order, "expression must not be empty")
		}

		switch step.Type {
		case schema.StepTypeQuery:
			v.checkQuery(ctx, step, order, result)
		case schema.StepTypeTimeSeries:
			v.checkTimeSeries(ctx, step, order, result)
		case schema.StepTypeScript, schema.StepTypeCondition, schema.StepTypeVariable:
			v.checkScripted(step, order, n, defined, result)
		}

		// Non-Condition steps define their result variable for later steps.
		if step.Type != schema.StepTypeCondition && step.ResultVariable != "" {
			base := checkResultVariable(step.ResultVariable, order, result)
			defined[base] = true
		}
	}

	// The final step, if not a Condition, must produce a named result.
	last := steps[n-1]
	if last.Type != schema.StepTypeCondition && last.ResultVariable == "" {
		result.Add(n, "final step must have a result variable")
	}

	checkReachability(steps, result)

	return result
}

// checkQuery validates a Query step: single read-only SELECT, referenced
// tables and aggregate columns exist in the schema. Placeholders are
// resolved literally at run time and are not checked as references here.
func (v *Validator) checkQuery(ctx context.Context, step schema.Step, order int, result *schema.ValidationResult) {
	normalized := engine.NormalizeQuery(step.Expression)

	for _, violation := range CheckReadOnly(normalized) {
		result.Add(order, violation)
	}

	tables := ExtractTables(normalized)
	for _, table := range tables {
		exists, err := v.schema.TableExists(ctx, table)
		if err != nil {
			result.Addf(order, "cannot verify table %q: %s", table, err.Error())
			continue
		}
		if !exists {
			result.Addf(order, "unknown table %q", table)
		}
	}

	for _, col := range ExtractAggregateColumns(normalized) {
		found := false
		for _, table := range tables {
			exists, err := v.schema.ColumnExists(ctx, table, col)
			if err != nil {
				result.Addf(order, "cannot verify column %q: %s", col, err.Error())
				found = true
				break
			}
			if exists {
				found = true
				break
			}
		}
		if !found {
			result.Addf(order, "unknown column %q", col)
		}
	}
}

// checkTimeSeries validates the comma-delimited time-series request form:
// table,entityId,property,start,end[,interval,method]. Fields containing
// placeholders are resolved at run time and skip their static checks.
func (v *Validator) checkTimeSeries(ctx context.Context, step schema.Step, order int, result *schema.ValidationResult) {
	fields := strings.Split(step.Expression, ",")
	if len(fields) < 5 || len(fields) > 7 {
		result.Addf(order, "timeseries expression must have 5-7 comma-separated fields, got %d", len(fields))
		return
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	if table := fields[0]; !hasPlaceholder(table) {
		exists, err := v.schema.TableExists(ctx, table)
		if err != nil {
			result.Addf(order, "cannot verify table %q: %s", table, err.Error())
		} else if !exists {
			result.Addf(order, "unknown table %q", table)
		}
	}

	if len(fields) >= 6 && fields[5] != "" && !hasPlaceholder(fields[5]) {
		if _, err := time.ParseDuration(fields[5]); err != nil {
			result.Addf(order, "invalid interval %q", fields[5])
		}
	}
	if len(fields) == 7 && fields[6] != "" && !hasPlaceholder(fields[6]) {
		if !schema.InterpolationMethod(strings.ToLower(fields[6])).Valid() {
			result.Addf(order, "unknown interpolation method %q", fields[6])
		}
	}
}

// checkScripted validates Script, Condition and Variable steps: capability
// safety, placeholder references, and for Condition steps the branch target
// and loop budget.
func (v *Validator) checkScripted(step schema.Step, order, n int, defined map[string]bool, result *schema.ValidationResult) {
	if ok, reason := v.scripts.IsSafe(step.Expression); !ok {
		result.Add(order, reason)
	}

	// Placeholders in Script and Condition expressions must refer to
	// variables defined by an earlier step.
	if step.Type == schema.StepTypeScript || step.Type == schema.StepTypeCondition {
		for _, ref := range engine.Placeholders(step.Expression) {
			base, _, _ := engine.ParseIndexedVar(ref)
			if !defined[base] {
				result.Addf(order, "placeholder {%s} references undefined variable", ref)
			}
		}
	}

	if step.Type == schema.StepTypeCondition {
		target, err := strconv.Atoi(strings.TrimSpace(step.ResultVariable))
		switch {
		case err != nil:
			result.Addf(order, "branch target %q is not an integer", step.ResultVariable)
		case target < 1 || target > n:
			result.Addf(order, "branch target %d is out of range [1,%d]", target, n)
		case target == order:
			result.Addf(order, "branch target must not be the condition step itself")
		}
		if step.MaxLoop < 0 {
			result.Addf(order, "max loop must be positive, got %d", step.MaxLoop)
		}
	}
}

// checkResultVariable validates the result variable's form and returns its
// base name. The first write to a list may itself be indexed; the store is
// created and padded lazily at run time.
func checkResultVariable(resultVar string, order int, result *schema.ValidationResult) string {
	if !strings.Contains(resultVar, "[") {
		return resultVar
	}
	base, _, ok := engine.ParseIndexedVar(resultVar)
	if !ok {
		result.Addf(order, "invalid indexed result variable %q", resultVar)
		if cut := strings.IndexByte(resultVar, '['); cut > 0 {
			return resultVar[:cut]
		}
		return resultVar
	}
	return base
}

// checkReachability seeds step 1 and every valid branch target as reachable,
// closes the set under sequential fallthrough, and reports any step left out.
func checkReachability(steps []schema.Step, result *schema.ValidationResult) {
	n := len(steps)
	reachable := make(map[int]bool, n)
	reachable[1] = true

	for _, step := range steps {
		if step.Type != schema.StepTypeCondition {
			continue
		}
		target, err := strconv.Atoi(strings.TrimSpace(step.ResultVariable))
		if err == nil && target >= 1 && target <= n && target != step.Order {
			reachable[target] = true
		}
	}

	// Fallthrough closure: a reachable step always proves its successor,
	// since an exhausted loop guard forces fallthrough even on conditions.
	for i := 1; i < n; i++ {
		if reachable[i] {
			reachable[i+1] = true
		}
	}

	for i := 1; i <= n; i++ {
		if !reachable[i] {
			result.Addf(i, "step %d is unreachable", i)
		}
	}
}

func hasPlaceholder(s string) bool {
	return len(engine.Placeholders(s)) > 0
}
