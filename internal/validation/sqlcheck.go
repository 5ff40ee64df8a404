package validation

import (
	"regexp"
	"strings"
)

// Query steps must be a single read-only statement. These patterns implement
// light extraction only, not SQL parsing; anything the patterns cannot prove
// safe is rejected.
var (
	writeKeywordRe = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|CREATE|DROP|ALTER|SET|WITH)\b`)
	executeRe      = regexp.MustCompile(`(?i)\b(EXEC|EXECUTE|CALL)\b|\bsp_[A-Za-z0-9_]+`)
	tableRe        = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+([A-Za-z_][A-Za-z0-9_]*)`)
	aggregateRe    = regexp.MustCompile(`(?i)\b(?:AVG|SUM|COUNT|MIN|MAX)\s*\(\s*(?:DISTINCT\s+)?([A-Za-z_][A-Za-z0-9_.]*)\s*\)`)
)

// sqlKeywords are identifiers that can follow FROM/JOIN without being table
// names (e.g. "SELECT ... FROM (SELECT" never matches, but derived-table
// aliases and set keywords can).
var sqlKeywords = map[string]bool{
	"select": true, "where": true, "group": true, "order": true, "having": true,
	"limit": true, "union": true, "inner": true, "outer": true, "left": true,
	"right": true, "cross": true, "join": true, "on": true, "as": true,
}

// CheckReadOnly verifies a normalized query expression is a single read-only
// SELECT. Returns the list of violations, empty when clean.
func CheckReadOnly(normalized string) []string {
	var violations []string

	if m := writeKeywordRe.FindString(normalized); m != "" {
		violations = append(violations, "query contains forbidden keyword "+strings.ToUpper(m))
	}
	if !strings.HasPrefix(strings.ToUpper(normalized), "SELECT") {
		violations = append(violations, "query must begin with SELECT")
	}
	if strings.Contains(normalized, ";") {
		violations = append(violations, "query must be a single statement (no separators)")
	}
	if executeRe.MatchString(normalized) {
		violations = append(violations, "query must not execute procedures")
	}
	return violations
}

// ExtractTables returns the identifiers following FROM/JOIN, excluding SQL
// keywords, without duplicates, in first-seen order.
func ExtractTables(normalized string) []string {
	seen := make(map[string]bool)
	var tables []string
	for _, m := range tableRe.FindAllStringSubmatch(normalized, -1) {
		name := m[1]
		key := strings.ToLower(name)
		if sqlKeywords[key] || seen[key] {
			continue
		}
		seen[key] = true
		tables = append(tables, name)
	}
	return tables
}

// ExtractAggregateColumns returns the column names referenced inside
// AVG/SUM/COUNT/MIN/MAX calls, without duplicates. Qualified references
// (t.Col) yield the column part; COUNT(*) yields nothing.
func ExtractAggregateColumns(normalized string) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, m := range aggregateRe.FindAllStringSubmatch(normalized, -1) {
		name := m[1]
		if dot := strings.LastIndexByte(name, '.'); dot >= 0 {
			name = name[dot+1:]
		}
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		cols = append(cols, name)
	}
	return cols
}
