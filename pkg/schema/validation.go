package schema

import "fmt"

// ValidationIssue is a single validation problem with step context.
// Step is the 1-based step number the issue refers to, or 0 for
// definition-level issues.
type ValidationIssue struct {
	Step    int    `json:"step,omitempty"`
	Message string `json:"message"`
}

func (i ValidationIssue) String() string {
	if i.Step > 0 {
		return fmt.Sprintf("step %d: %s", i.Step, i.Message)
	}
	return i.Message
}

// ValidationResult aggregates all issues found by the validator. The
// validator never short-circuits, so a caller always sees the full list.
type ValidationResult struct {
	Issues []ValidationIssue `json:"issues,omitempty"`
}

// Valid returns true if no issues were recorded.
func (r *ValidationResult) Valid() bool {
	return len(r.Issues) == 0
}

// Add appends an issue for the given step (0 for definition-level).
func (r *ValidationResult) Add(step int, message string) {
	r.Issues = append(r.Issues, ValidationIssue{Step: step, Message: message})
}

// Addf appends a formatted issue for the given step.
func (r *ValidationResult) Addf(step int, format string, args ...any) {
	r.Add(step, fmt.Sprintf(format, args...))
}

// Merge combines another ValidationResult into this one.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Issues = append(r.Issues, other.Issues...)
}

// Messages returns all issues rendered as strings, in order.
func (r *ValidationResult) Messages() []string {
	out := make([]string, len(r.Issues))
	for i, issue := range r.Issues {
		out[i] = issue.String()
	}
	return out
}

// ToError converts the result to a MetricaError if invalid, nil if valid.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	msg := r.Issues[0].String()
	if len(r.Issues) > 1 {
		msg = fmt.Sprintf("validation failed with %d errors", len(r.Issues))
	}

	return NewError(ErrCodeValidation, msg).
		WithDetails(map[string]any{
			"error_count": len(r.Issues),
			"errors":      r.Messages(),
		})
}
