package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/metrica/internal/changefeed"
	"github.com/rendis/metrica/internal/service"
)

// MetricaServer wraps an MCP server with metrica-specific tool handlers.
type MetricaServer struct {
	svc       *service.Service
	feed      changefeed.Feed
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewMetricaServer creates a new MetricaServer with all tools registered.
// The feed is the producer side of change-triggered scheduling: callers that
// mutate the underlying data report it through metrica.notify_change.
func NewMetricaServer(svc *service.Service, feed changefeed.Feed, logger *slog.Logger) *MetricaServer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &MetricaServer{svc: svc, feed: feed, logger: logger}

	mcpSrv := server.NewMCPServer(
		"metrica",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Metrica computes values from stored data through multi-step workflow definitions. Use metrica.add to create a definition, metrica.run to compute its value immediately, metrica.list to browse definitions, metrica.update to change one, metrica.export/metrica.import to move definitions between instances, metrica.delete to remove one, and metrica.notify_change to report data mutations that should wake change-triggered definitions."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *MetricaServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *MetricaServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the registered MCP tools as ServerTool entries.
func (s *MetricaServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: addTool(), Handler: s.handleAdd},
		{Tool: updateTool(), Handler: s.handleUpdate},
		{Tool: deleteTool(), Handler: s.handleDelete},
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: getTool(), Handler: s.handleGet},
		{Tool: listTool(), Handler: s.handleList},
		{Tool: exportTool(), Handler: s.handleExport},
		{Tool: importTool(), Handler: s.handleImport},
		{Tool: notifyChangeTool(), Handler: s.handleNotifyChange},
	}
}

// --- Tool definitions ---

func addTool() mcp.Tool {
	return mcp.NewTool("metrica.add",
		mcp.WithDescription("Create a workflow definition. The step sequence is validated before anything is persisted; on failure every violation is reported and nothing is stored."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Unique definition name")),
		mcp.WithNumber("interval_seconds", mcp.Description("Positive: run every N seconds. Negative: run when watched data changes. Zero (default): manual runs only")),
		mcp.WithString("schedule", mcp.Description("Optional cron expression, overrides interval_seconds for timing")),
		mcp.WithBoolean("embeddable", mcp.Description("Mark the computed value as embeddable in external documents")),
		mcp.WithArray("steps", mcp.Required(), mcp.Description("Ordered steps: {order, type, expression, result_variable, max_loop}. Types: query, script, condition, variable, timeseries")),
	)
}

func updateTool() mcp.Tool {
	return mcp.NewTool("metrica.update",
		mcp.WithDescription("Update a definition's fields and optionally replace its steps. The result is re-validated; a failing update is saved with the failure recorded in its status."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Definition ID")),
		mcp.WithString("name", mcp.Description("New name")),
		mcp.WithNumber("interval_seconds", mcp.Description("New trigger interval")),
		mcp.WithString("schedule", mcp.Description("New cron expression, empty string clears it")),
		mcp.WithBoolean("embeddable", mcp.Description("New embeddable flag")),
		mcp.WithArray("steps", mcp.Description("Replacement step sequence; omit to keep current steps")),
	)
}

func deleteTool() mcp.Tool {
	return mcp.NewTool("metrica.delete",
		mcp.WithDescription("Delete a definition and its steps"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Definition ID")),
	)
}

func runTool() mcp.Tool {
	return mcp.NewTool("metrica.run",
		mcp.WithDescription("Execute a definition immediately and return its computed value"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Definition ID")),
	)
}

func getTool() mcp.Tool {
	return mcp.NewTool("metrica.get",
		mcp.WithDescription("Fetch a definition with its steps, last value and status"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Definition ID")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("metrica.list",
		mcp.WithDescription("List definitions with their current values and statuses"),
		mcp.WithString("mode", mcp.Description("Filter by trigger mode: timer, change or manual (default: all)")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of definitions to return")),
	)
}

func exportTool() mcp.Tool {
	return mcp.NewTool("metrica.export",
		mcp.WithDescription("Export a definition as a portable document without identity or run state"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Definition ID")),
	)
}

func importTool() mcp.Tool {
	return mcp.NewTool("metrica.import",
		mcp.WithDescription("Import a previously exported document as a new definition with a fresh ID"),
		mcp.WithObject("document", mcp.Required(), mcp.Description("Exported definition document")),
	)
}

func notifyChangeTool() mcp.Tool {
	return mcp.NewTool("metrica.notify_change",
		mcp.WithDescription("Report a data mutation so change-triggered definitions (interval_seconds < 0) watching the affected table and properties run"),
		mcp.WithString("table", mcp.Required(), mcp.Description("Name of the mutated table")),
		mcp.WithString("operation", mcp.Required(), mcp.Description("Mutation kind: insert, update or delete")),
		mcp.WithString("entity_id", mcp.Description("Identifier of the mutated row")),
		mcp.WithArray("changed_properties", mcp.Description("Column names changed by an update; ignored for insert/delete")),
	)
}
