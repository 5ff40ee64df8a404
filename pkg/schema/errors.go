package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeDuplicateName = "DUPLICATE_NAME"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeExecution     = "EXECUTION_ERROR"
	ErrCodeUnsafeScript  = "UNSAFE_SCRIPT"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeStore         = "STORE_ERROR"
)

// MetricaError is the structured error type for all metrica operations.
type MetricaError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Step    int            `json:"step,omitempty"`
	Cause   error          `json:"-"`
}

func (e *MetricaError) Error() string {
	if e.Step > 0 {
		return fmt.Sprintf("[%s] step %d: %s", e.Code, e.Step, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *MetricaError) Unwrap() error {
	return e.Cause
}

// NewError creates a new MetricaError.
func NewError(code, message string) *MetricaError {
	return &MetricaError{Code: code, Message: message}
}

// NewErrorf creates a new MetricaError with a formatted message.
func NewErrorf(code, format string, args ...any) *MetricaError {
	return &MetricaError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a 1-based step number to the error.
func (e *MetricaError) WithStep(order int) *MetricaError {
	e.Step = order
	return e
}

// WithCause attaches an underlying cause.
func (e *MetricaError) WithCause(err error) *MetricaError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *MetricaError) WithDetails(details map[string]any) *MetricaError {
	e.Details = details
	return e
}

// CodeOf returns the MetricaError code of err, or "" if err carries no
// MetricaError anywhere in its chain.
func CodeOf(err error) string {
	for err != nil {
		if me, ok := err.(*MetricaError); ok {
			return me.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
