package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rendis/metrica/internal/changefeed"
	"github.com/rendis/metrica/internal/engine"
	"github.com/rendis/metrica/internal/expressions"
	"github.com/rendis/metrica/internal/logging"
	"github.com/rendis/metrica/internal/query"
	"github.com/rendis/metrica/internal/scheduler"
	"github.com/rendis/metrica/internal/service"
	"github.com/rendis/metrica/internal/store"
	"github.com/rendis/metrica/internal/timeseries"
	"github.com/rendis/metrica/internal/triggers"
	"github.com/rendis/metrica/internal/validation"
	"github.com/rendis/metrica/pkg/mcp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "metrica:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := os.MkdirAll(metricaDir(), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	runner, err := expressions.NewRunner(cfg.ScriptEngine)
	if err != nil {
		return fmt.Errorf("script engine: %w", err)
	}

	db := st.DB()
	executor := query.NewSQLExecutor(db)
	introspector := query.NewSQLIntrospector(db)
	reader := timeseries.NewSQLReader(db)

	interp := engine.NewInterpreter(executor, runner, reader, logger)
	validator := validation.New(runner, introspector)
	registry := triggers.NewRegistry()
	feed := changefeed.NewMemoryFeed()

	svc := service.New(st, validator, interp, registry, logger)
	if err := svc.RebuildTriggerIndexes(ctx); err != nil {
		return fmt.Errorf("rebuild trigger indexes: %w", err)
	}

	sched := scheduler.New(svc, svc, feed, registry, logger,
		scheduler.WithPollInterval(cfg.pollInterval()),
		scheduler.WithDebounce(cfg.debounce()))
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	srv := mcp.NewMetricaServer(svc, feed, logger)
	logger.Info("metrica started",
		slog.String("db_path", cfg.DBPath),
		slog.String("script_engine", runner.Engine()))

	return srv.Serve(ctx)
}

// newLogger builds the process logger: JSON to stderr (stdout carries the MCP
// stdio transport) with correlation IDs injected from the context.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
