package store

import (
	"context"
	"time"

	"github.com/rendis/metrica/pkg/schema"
)

// Store defines the persistence contract for workflow definitions and their
// steps. All implementations must be safe for concurrent use.
type Store interface {
	// Definitions
	CreateDefinition(ctx context.Context, def *schema.WorkflowDefinition, steps []schema.Step) error
	GetDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error)
	GetDefinitionByName(ctx context.Context, name string) (*schema.WorkflowDefinition, error)
	ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]*schema.WorkflowDefinition, error)
	UpdateDefinition(ctx context.Context, id string, update DefinitionUpdate) error
	DeleteDefinition(ctx context.Context, id string) error

	// Steps
	GetSteps(ctx context.Context, definitionID string) ([]schema.Step, error)
	ReplaceSteps(ctx context.Context, definitionID string, steps []schema.Step) error

	// RecordRun atomically updates Value, Status and LastRun after a
	// successful execution.
	RecordRun(ctx context.Context, id, value, status string, lastRun time.Time) error

	// RecordStatus updates only Status, leaving Value and LastRun from the
	// prior successful run untouched.
	RecordStatus(ctx context.Context, id, status string) error

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
