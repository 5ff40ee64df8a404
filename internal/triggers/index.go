package triggers

import (
	"strings"
	"sync"

	"github.com/rendis/metrica/internal/engine"
	"github.com/rendis/metrica/internal/validation"
	"github.com/rendis/metrica/pkg/schema"
)

// Index records which tables and properties a definition's steps read, so
// change events can be matched without re-parsing expressions on every event.
// Table and property names are matched case-insensitively.
type Index struct {
	// tables maps a table name to the set of properties read from it. An
	// empty set means the definition reads the table without a provable
	// property, so any change to the table matches.
	tables map[string]map[string]bool
}

// BuildIndex derives the table/property interest set from a validated step
// sequence. Fields hidden behind placeholders are only known at run time and
// cannot contribute; such steps fall back to table-level interest when the
// table itself is static, or nothing at all otherwise.
func BuildIndex(steps []schema.Step) *Index {
	idx := &Index{tables: make(map[string]map[string]bool)}

	for _, step := range steps {
		switch step.Type {
		case schema.StepTypeQuery:
			normalized := engine.NormalizeQuery(step.Expression)
			tables := validation.ExtractTables(normalized)
			cols := validation.ExtractAggregateColumns(normalized)
			for _, table := range tables {
				idx.add(table, cols)
			}

		case schema.StepTypeTimeSeries:
			fields := strings.Split(step.Expression, ",")
			if len(fields) < 3 {
				continue
			}
			table := strings.TrimSpace(fields[0])
			property := strings.TrimSpace(fields[2])
			if hasPlaceholder(table) {
				continue
			}
			if hasPlaceholder(property) {
				idx.add(table, nil)
			} else {
				idx.add(table, []string{property})
			}
		}
	}
	return idx
}

func (idx *Index) add(table string, properties []string) {
	key := strings.ToLower(table)
	set, ok := idx.tables[key]
	if !ok {
		set = make(map[string]bool)
		idx.tables[key] = set
	}
	for _, p := range properties {
		set[strings.ToLower(p)] = true
	}
}

// Empty reports whether the index holds no table interest at all.
func (idx *Index) Empty() bool {
	return len(idx.tables) == 0
}

// Matches reports whether a change event is relevant to the indexed
// definition. Inserts and deletes match on the table alone, since they alter
// aggregates regardless of which properties carry values. Updates match only
// when a changed property intersects the indexed set; an update listing no
// changed properties is treated as potentially touching all of them.
func (idx *Index) Matches(event schema.ChangeEvent) bool {
	props, ok := idx.tables[strings.ToLower(event.Table)]
	if !ok {
		return false
	}
	if event.Operation != schema.ChangeUpdate {
		return true
	}
	if len(props) == 0 || len(event.ChangedProperties) == 0 {
		return true
	}
	for _, p := range event.ChangedProperties {
		if props[strings.ToLower(p)] {
			return true
		}
	}
	return false
}

// Registry maps definition IDs to their trigger indexes. Reads vastly
// outnumber writes: every change event consults the registry, while writes
// only happen when a definition is added, updated or deleted.
type Registry struct {
	mu      sync.RWMutex
	indexes map[string]*Index
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{indexes: make(map[string]*Index)}
}

// Set installs or replaces the index for a definition.
func (r *Registry) Set(definitionID string, idx *Index) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexes[definitionID] = idx
}

// Remove drops a definition's index.
func (r *Registry) Remove(definitionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.indexes, definitionID)
}

// MatchingDefinitions returns the IDs of every definition whose index matches
// the event. Order is unspecified.
func (r *Registry) MatchingDefinitions(event schema.ChangeEvent) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, idx := range r.indexes {
		if idx.Matches(event) {
			ids = append(ids, id)
		}
	}
	return ids
}

func hasPlaceholder(s string) bool {
	return len(engine.Placeholders(s)) > 0
}
