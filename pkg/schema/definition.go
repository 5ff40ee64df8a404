package schema

import "time"

// WorkflowDefinition is a named, persisted analytics program: an ordered
// sequence of steps plus a scheduling mode. IntervalSeconds > 0 means the
// definition runs on a timer with that period; < 0 means it runs when data
// it depends on changes; 0 means manual-only.
type WorkflowDefinition struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	IntervalSeconds int        `json:"interval_seconds"`
	Schedule        string     `json:"schedule,omitempty"` // optional cron expression, overrides IntervalSeconds for due computation
	Embeddable      bool       `json:"embeddable"`
	Value           string     `json:"value,omitempty"`
	Status          string     `json:"status,omitempty"`
	LastRun         *time.Time `json:"last_run,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// StatusOK is the Status value of a definition whose last run succeeded.
const StatusOK = "OK"

// Step is one instruction in a workflow definition. Order is 1-based and
// must equal the step's position+1 in the sequence. For Condition steps,
// ResultVariable holds the branch target step number as text and MaxLoop
// bounds how many times the branch may redirect control flow per run.
type Step struct {
	Order          int      `json:"order"`
	Type           StepType `json:"type"`
	Expression     string   `json:"expression"`
	ResultVariable string   `json:"result_variable,omitempty"`
	MaxLoop        int      `json:"max_loop,omitempty"`
}

// StepType enumerates the five kinds of workflow steps.
type StepType string

const (
	StepTypeQuery      StepType = "query"
	StepTypeScript     StepType = "script"
	StepTypeCondition  StepType = "condition"
	StepTypeVariable   StepType = "variable"
	StepTypeTimeSeries StepType = "timeseries"
)

// KnownStepTypes lists every valid StepType.
var KnownStepTypes = []StepType{
	StepTypeQuery,
	StepTypeScript,
	StepTypeCondition,
	StepTypeVariable,
	StepTypeTimeSeries,
}

// Valid reports whether t is one of the five known step types.
func (t StepType) Valid() bool {
	for _, k := range KnownStepTypes {
		if t == k {
			return true
		}
	}
	return false
}

// DefaultMaxLoop is the loop budget applied to Condition steps that do not
// set one explicitly.
const DefaultMaxLoop = 10

// InterpolationMethod selects how a time-series range is resampled.
type InterpolationMethod string

const (
	InterpolationNone     InterpolationMethod = "none"
	InterpolationLinear   InterpolationMethod = "linear"
	InterpolationNearest  InterpolationMethod = "nearest"
	InterpolationPrevious InterpolationMethod = "previous"
	InterpolationNext     InterpolationMethod = "next"
)

// KnownInterpolationMethods lists every recognized interpolation method.
var KnownInterpolationMethods = []InterpolationMethod{
	InterpolationNone,
	InterpolationLinear,
	InterpolationNearest,
	InterpolationPrevious,
	InterpolationNext,
}

// Valid reports whether m is a recognized interpolation method.
func (m InterpolationMethod) Valid() bool {
	for _, k := range KnownInterpolationMethods {
		if m == k {
			return true
		}
	}
	return false
}
