package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/rendis/metrica/internal/engine"
	"github.com/rendis/metrica/internal/logging"
	"github.com/rendis/metrica/internal/store"
	"github.com/rendis/metrica/internal/triggers"
	"github.com/rendis/metrica/internal/validation"
	"github.com/rendis/metrica/pkg/schema"
)

// Service orchestrates the definition lifecycle: validation before
// persistence, execution, trigger index maintenance, and export/import.
// It is the single entry point for both the MCP surface and the scheduler.
type Service struct {
	store     store.Store
	validator *validation.Validator
	interp    *engine.Interpreter
	triggers  *triggers.Registry
	logger    *slog.Logger
	importer  *documentImporter
	cron      cron.Parser
	now       func() time.Time
}

// New creates a Service with the given collaborators.
func New(st store.Store, v *validation.Validator, interp *engine.Interpreter, reg *triggers.Registry, logger *slog.Logger) *Service {
	return &Service{
		store:     st,
		validator: v,
		interp:    interp,
		triggers:  reg,
		logger:    logger,
		importer:  newDocumentImporter(),
		cron:      cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// checkSchedule rejects cron expressions the scheduler would never fire.
func (s *Service) checkSchedule(schedule string) error {
	if schedule == "" {
		return nil
	}
	if _, err := s.cron.Parse(schedule); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"invalid cron schedule %q: %s", schedule, err.Error()).WithCause(err)
	}
	return nil
}

// AddDefinition validates and persists a new definition. Name collisions and
// validation failures both abort before anything is written; a rejected
// definition leaves no trace in the store.
func (s *Service) AddDefinition(ctx context.Context, def *schema.WorkflowDefinition, steps []schema.Step) (*schema.WorkflowDefinition, error) {
	if strings.TrimSpace(def.Name) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "definition name must not be empty")
	}
	if err := s.checkSchedule(def.Schedule); err != nil {
		return nil, err
	}

	existing, err := s.store.GetDefinitionByName(ctx, def.Name)
	if err != nil && schema.CodeOf(err) != schema.ErrCodeNotFound {
		return nil, err
	}
	if existing != nil {
		return nil, schema.NewErrorf(schema.ErrCodeDuplicateName,
			"definition %q already exists", def.Name)
	}

	if vr := s.validator.Validate(ctx, steps); !vr.Valid() {
		return nil, vr.ToError()
	}

	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	def.Status = schema.StatusOK
	def.CreatedAt = s.now()
	def.UpdatedAt = def.CreatedAt

	if err := s.store.CreateDefinition(ctx, def, steps); err != nil {
		return nil, err
	}
	s.triggers.Set(def.ID, triggers.BuildIndex(steps))

	s.logger.InfoContext(ctx, "definition created",
		slog.String("definition_id", def.ID),
		slog.String("name", def.Name),
		slog.Int("steps", len(steps)))
	return def, nil
}

// DeleteDefinition removes a definition, its steps and its trigger index.
func (s *Service) DeleteDefinition(ctx context.Context, id string) error {
	if err := s.store.DeleteDefinition(ctx, id); err != nil {
		return err
	}
	s.triggers.Remove(id)
	s.logger.InfoContext(ctx, "definition deleted", slog.String("definition_id", id))
	return nil
}

// UpdateDefinition applies field changes and, when steps is non-nil, replaces
// the step sequence. The updated definition is re-validated; unlike creation,
// an update whose steps fail validation is still persisted, with the failure
// recorded in Status so the scheduler skips it and the author sees why.
// A malformed cron schedule is rejected outright, as at creation.
func (s *Service) UpdateDefinition(ctx context.Context, id string, update store.DefinitionUpdate, steps []schema.Step) (*schema.WorkflowDefinition, error) {
	if _, err := s.store.GetDefinition(ctx, id); err != nil {
		return nil, err
	}
	if update.Schedule != nil {
		if err := s.checkSchedule(*update.Schedule); err != nil {
			return nil, err
		}
	}

	if steps == nil {
		current, err := s.store.GetSteps(ctx, id)
		if err != nil {
			return nil, err
		}
		steps = current
	}

	status := schema.StatusOK
	if vr := s.validator.Validate(ctx, steps); !vr.Valid() {
		status = "Validation Error: " + strings.Join(vr.Messages(), "; ")
		s.logger.WarnContext(ctx, "updated definition failed validation",
			slog.String("definition_id", id),
			slog.Int("issues", len(vr.Issues)))
	}
	update.Status = &status

	if err := s.store.UpdateDefinition(ctx, id, update); err != nil {
		return nil, err
	}
	if err := s.store.ReplaceSteps(ctx, id, steps); err != nil {
		return nil, err
	}
	s.triggers.Set(id, triggers.BuildIndex(steps))

	return s.store.GetDefinition(ctx, id)
}

// GetDefinition returns a single definition by ID.
func (s *Service) GetDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error) {
	return s.store.GetDefinition(ctx, id)
}

// GetSteps returns a definition's ordered steps.
func (s *Service) GetSteps(ctx context.Context, id string) ([]schema.Step, error) {
	return s.store.GetSteps(ctx, id)
}

// ListDefinitions returns definitions matching the filter.
func (s *Service) ListDefinitions(ctx context.Context, filter store.DefinitionFilter) ([]*schema.WorkflowDefinition, error) {
	return s.store.ListDefinitions(ctx, filter)
}

// ExecuteOnce runs a definition immediately and records the outcome. On
// success Value, Status and LastRun are updated atomically; on failure only
// Status changes, so the last good Value and LastRun stay visible.
func (s *Service) ExecuteOnce(ctx context.Context, id string) (string, error) {
	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)

	def, err := s.store.GetDefinition(ctx, id)
	if err != nil {
		return "", err
	}
	steps, err := s.store.GetSteps(ctx, id)
	if err != nil {
		return "", err
	}

	started := s.now()
	value, err := s.interp.Run(ctx, def, steps)
	if err != nil {
		status := "Runtime Error: " + err.Error()
		if rerr := s.store.RecordStatus(ctx, id, status); rerr != nil {
			s.logger.ErrorContext(ctx, "failed to record run status",
				slog.String("definition_id", id), slog.String("error", rerr.Error()))
		}
		s.logger.ErrorContext(ctx, "run failed",
			slog.String("definition_id", id),
			slog.String("error", err.Error()))
		return "", err
	}

	if err := s.store.RecordRun(ctx, id, value, schema.StatusOK, started); err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "run completed",
		slog.String("definition_id", id),
		slog.String("value", value),
		slog.Duration("elapsed", s.now().Sub(started)))
	return value, nil
}

// ExportDefinition returns the portable document form of a definition,
// stripped of identity and run state.
func (s *Service) ExportDefinition(ctx context.Context, id string) (*schema.Document, error) {
	def, err := s.store.GetDefinition(ctx, id)
	if err != nil {
		return nil, err
	}
	steps, err := s.store.GetSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	return schema.NewDocument(def, steps), nil
}

// ImportDefinition validates raw document JSON against the document schema,
// then creates the definition through the normal AddDefinition path so step
// validation and duplicate-name rules apply identically to imports.
func (s *Service) ImportDefinition(ctx context.Context, data []byte) (*schema.WorkflowDefinition, error) {
	doc, err := s.importer.parse(data)
	if err != nil {
		return nil, err
	}

	def := &schema.WorkflowDefinition{
		Name:            doc.Name,
		IntervalSeconds: doc.IntervalSeconds,
		Schedule:        doc.Schedule,
		Embeddable:      doc.Embeddable,
	}
	return s.AddDefinition(ctx, def, doc.ToSteps())
}

// RebuildTriggerIndexes repopulates the trigger registry from the store.
// Called once at startup so change-triggered definitions survive restarts.
func (s *Service) RebuildTriggerIndexes(ctx context.Context) error {
	defs, err := s.store.ListDefinitions(ctx, store.DefinitionFilter{})
	if err != nil {
		return err
	}
	for _, def := range defs {
		steps, err := s.store.GetSteps(ctx, def.ID)
		if err != nil {
			return err
		}
		s.triggers.Set(def.ID, triggers.BuildIndex(steps))
	}
	s.logger.InfoContext(ctx, "trigger indexes rebuilt", slog.Int("definitions", len(defs)))
	return nil
}
