package schema

// Document is the portable form of a workflow definition used by
// Export/Import. It deliberately omits identity and run state (ID, Value,
// Status, LastRun) so an imported definition starts fresh.
type Document struct {
	Name            string         `json:"name"`
	IntervalSeconds int            `json:"interval_seconds"`
	Schedule        string         `json:"schedule,omitempty"`
	Embeddable      bool           `json:"embeddable,omitempty"`
	Steps           []DocumentStep `json:"steps"`
}

// DocumentStep is the portable form of a single step.
type DocumentStep struct {
	Order          int    `json:"order"`
	Type           string `json:"type"`
	Expression     string `json:"expression"`
	ResultVariable string `json:"result_variable,omitempty"`
	MaxLoop        int    `json:"max_loop,omitempty"`
}

// ToSteps converts document steps into schema steps.
func (d *Document) ToSteps() []Step {
	steps := make([]Step, len(d.Steps))
	for i, s := range d.Steps {
		steps[i] = Step{
			Order:          s.Order,
			Type:           StepType(s.Type),
			Expression:     s.Expression,
			ResultVariable: s.ResultVariable,
			MaxLoop:        s.MaxLoop,
		}
	}
	return steps
}

// NewDocument builds a Document from a definition and its steps.
func NewDocument(def *WorkflowDefinition, steps []Step) *Document {
	doc := &Document{
		Name:            def.Name,
		IntervalSeconds: def.IntervalSeconds,
		Schedule:        def.Schedule,
		Embeddable:      def.Embeddable,
		Steps:           make([]DocumentStep, len(steps)),
	}
	for i, s := range steps {
		doc.Steps[i] = DocumentStep{
			Order:          s.Order,
			Type:           string(s.Type),
			Expression:     s.Expression,
			ResultVariable: s.ResultVariable,
			MaxLoop:        s.MaxLoop,
		}
	}
	return doc
}
