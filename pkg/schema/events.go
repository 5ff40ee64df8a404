package schema

// ChangeOperation is the kind of mutation a change event reports.
type ChangeOperation string

const (
	ChangeInsert ChangeOperation = "insert"
	ChangeUpdate ChangeOperation = "update"
	ChangeDelete ChangeOperation = "delete"
)

// ChangeEvent describes one mutation of the underlying data store.
// Delivery is at-least-once and order is not guaranteed across tables.
type ChangeEvent struct {
	Table             string          `json:"table"`
	EntityID          string          `json:"entity_id"`
	Operation         ChangeOperation `json:"operation"`
	ChangedProperties []string        `json:"changed_properties,omitempty"`
}
