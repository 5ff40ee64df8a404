package engine

import (
	"regexp"
	"strings"
)

// placeholderRe matches {name} and {name[k]} references inside step
// expressions.
var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*(?:\[\d+\])?)\}`)

// Placeholders returns the variable references used in an expression, in
// first-seen order, without duplicates.
func Placeholders(expression string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range placeholderRe.FindAllStringSubmatch(expression, -1) {
		ref := m[1]
		if !seen[ref] {
			seen[ref] = true
			out = append(out, ref)
		}
	}
	return out
}

// SubstituteQuery replaces every {name} occurrence in a Query expression with
// a positional parameter marker and returns the bound values in first-seen
// occurrence order. Values are never concatenated into the SQL text, which
// preserves injection safety. Unresolvable placeholders bind the empty
// string; the validator guarantees referenced names were defined by an
// earlier step.
func SubstituteQuery(expression string, vars *Context) (string, []any) {
	var params []any
	sqlText := placeholderRe.ReplaceAllStringFunc(expression, func(tok string) string {
		ref := tok[1 : len(tok)-1]
		v, ok := vars.Resolve(ref)
		if !ok {
			v = ""
		}
		params = append(params, v)
		return "?"
	})
	return sqlText, params
}

// SubstituteLiteral replaces every {name} occurrence with the value's literal
// string form. Used for TimeSeries expressions (plain comma-delimited text)
// and for Script/Variable/Condition expressions before they reach the script
// engine. Unresolvable placeholders substitute to empty string.
func SubstituteLiteral(expression string, vars *Context) string {
	return placeholderRe.ReplaceAllStringFunc(expression, func(tok string) string {
		ref := tok[1 : len(tok)-1]
		v, ok := vars.Resolve(ref)
		if !ok {
			return ""
		}
		return Stringify(v)
	})
}

// NormalizeQuery rewrites placeholders to parameter markers and trims leading
// whitespace, yielding the compiled shape the validator inspects.
func NormalizeQuery(expression string) string {
	return strings.TrimSpace(placeholderRe.ReplaceAllString(expression, "?"))
}
