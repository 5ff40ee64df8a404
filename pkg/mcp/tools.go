package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/metrica/internal/store"
	"github.com/rendis/metrica/pkg/schema"
)

// handleAdd creates a new definition.
func (s *MetricaServer) handleAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}

	steps, err := parseSteps(req.GetArguments()["steps"])
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid steps: %v", err)), nil
	}
	if steps == nil {
		return mcp.NewToolResultError("steps is required"), nil
	}

	def := &schema.WorkflowDefinition{
		Name:            name,
		IntervalSeconds: req.GetInt("interval_seconds", 0),
		Schedule:        req.GetString("schedule", ""),
		Embeddable:      req.GetBool("embeddable", false),
	}

	created, addErr := s.svc.AddDefinition(ctx, def, steps)
	if addErr != nil {
		return toolError(addErr), nil
	}
	return marshalResult(created)
}

// handleUpdate applies field changes and an optional step replacement.
func (s *MetricaServer) handleUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id is required"), nil
	}

	args := req.GetArguments()
	var update store.DefinitionUpdate
	if _, ok := args["name"]; ok {
		name := req.GetString("name", "")
		update.Name = &name
	}
	if _, ok := args["interval_seconds"]; ok {
		interval := req.GetInt("interval_seconds", 0)
		update.IntervalSeconds = &interval
	}
	if _, ok := args["schedule"]; ok {
		schedule := req.GetString("schedule", "")
		update.Schedule = &schedule
	}
	if _, ok := args["embeddable"]; ok {
		embeddable := req.GetBool("embeddable", false)
		update.Embeddable = &embeddable
	}

	steps, err := parseSteps(args["steps"])
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid steps: %v", err)), nil
	}

	updated, updErr := s.svc.UpdateDefinition(ctx, id, update, steps)
	if updErr != nil {
		return toolError(updErr), nil
	}
	return marshalResult(updated)
}

// handleDelete removes a definition.
func (s *MetricaServer) handleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id is required"), nil
	}

	if delErr := s.svc.DeleteDefinition(ctx, id); delErr != nil {
		return toolError(delErr), nil
	}
	return marshalResult(map[string]any{"ok": true, "id": id})
}

// handleRun executes a definition immediately.
func (s *MetricaServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id is required"), nil
	}

	value, runErr := s.svc.ExecuteOnce(ctx, id)
	if runErr != nil {
		return toolError(runErr), nil
	}
	return marshalResult(map[string]any{"id": id, "value": value})
}

// handleGet returns a definition together with its steps.
func (s *MetricaServer) handleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id is required"), nil
	}

	def, getErr := s.svc.GetDefinition(ctx, id)
	if getErr != nil {
		return toolError(getErr), nil
	}
	steps, stepsErr := s.svc.GetSteps(ctx, id)
	if stepsErr != nil {
		return toolError(stepsErr), nil
	}
	return marshalResult(map[string]any{"definition": def, "steps": steps})
}

// handleList returns definitions matching the filter.
func (s *MetricaServer) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.DefinitionFilter{
		Mode:  store.TriggerMode(req.GetString("mode", "")),
		Limit: req.GetInt("limit", 0),
	}

	defs, listErr := s.svc.ListDefinitions(ctx, filter)
	if listErr != nil {
		return toolError(listErr), nil
	}
	return marshalResult(map[string]any{"definitions": defs, "count": len(defs)})
}

// handleExport returns the portable document form of a definition.
func (s *MetricaServer) handleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id is required"), nil
	}

	doc, expErr := s.svc.ExportDefinition(ctx, id)
	if expErr != nil {
		return toolError(expErr), nil
	}
	return marshalResult(doc)
}

// handleImport creates a definition from an exported document.
func (s *MetricaServer) handleImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc := mcp.ParseStringMap(req, "document", nil)
	if doc == nil {
		return mcp.NewToolResultError("document is required"), nil
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid document: %v", err)), nil
	}

	created, impErr := s.svc.ImportDefinition(ctx, data)
	if impErr != nil {
		return toolError(impErr), nil
	}
	return marshalResult(created)
}

// handleNotifyChange publishes a change event to the feed, waking any
// change-triggered definitions whose trigger index matches it.
func (s *MetricaServer) handleNotifyChange(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	table, err := req.RequireString("table")
	if err != nil {
		return mcp.NewToolResultError("table is required"), nil
	}
	op := schema.ChangeOperation(req.GetString("operation", ""))
	switch op {
	case schema.ChangeInsert, schema.ChangeUpdate, schema.ChangeDelete:
	default:
		return mcp.NewToolResultError("operation must be insert, update or delete"), nil
	}

	event := schema.ChangeEvent{
		Table:             table,
		EntityID:          req.GetString("entity_id", ""),
		Operation:         op,
		ChangedProperties: stringSlice(req.GetArguments()["changed_properties"]),
	}
	if pubErr := s.feed.Publish(ctx, event); pubErr != nil {
		return toolError(pubErr), nil
	}
	return marshalResult(map[string]any{"ok": true, "table": table, "operation": string(op)})
}

// stringSlice coerces a JSON array argument into its string elements.
func stringSlice(raw any) []string {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// parseSteps converts the raw "steps" argument into schema steps via a JSON
// round-trip. Returns (nil, nil) when the argument is absent.
func parseSteps(raw any) ([]schema.Step, error) {
	if raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var steps []schema.Step
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, err
	}
	return steps, nil
}

// toolError renders a service error as a tool result. Structured errors keep
// their code and details so agents can react to DUPLICATE_NAME, NOT_FOUND and
// validation failures programmatically.
func toolError(err error) *mcp.CallToolResult {
	me, ok := err.(*schema.MetricaError)
	if !ok {
		return mcp.NewToolResultError(err.Error())
	}

	payload := map[string]any{
		"code":    me.Code,
		"message": me.Message,
	}
	if me.Step > 0 {
		payload["step"] = me.Step
	}
	if len(me.Details) > 0 {
		payload["details"] = me.Details
	}
	data, jerr := json.Marshal(payload)
	if jerr != nil {
		return mcp.NewToolResultError(me.Error())
	}
	return mcp.NewToolResultError(string(data))
}

// marshalResult renders any value as a JSON tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
