package store

// TriggerMode narrows a definition listing to one scheduling mode.
type TriggerMode string

const (
	// ModeAny lists every definition.
	ModeAny TriggerMode = ""
	// ModeTimer lists definitions with IntervalSeconds > 0.
	ModeTimer TriggerMode = "timer"
	// ModeChange lists definitions with IntervalSeconds < 0.
	ModeChange TriggerMode = "change"
	// ModeManual lists definitions with IntervalSeconds == 0.
	ModeManual TriggerMode = "manual"
)

// DefinitionFilter specifies criteria for listing definitions.
type DefinitionFilter struct {
	Mode  TriggerMode `json:"mode,omitempty"`
	Limit int         `json:"limit,omitempty"`
}

// DefinitionUpdate specifies mutable fields of a definition. Nil fields are
// left unchanged.
type DefinitionUpdate struct {
	Name            *string `json:"name,omitempty"`
	IntervalSeconds *int    `json:"interval_seconds,omitempty"`
	Schedule        *string `json:"schedule,omitempty"`
	Embeddable      *bool   `json:"embeddable,omitempty"`
	Status          *string `json:"status,omitempty"`
}
