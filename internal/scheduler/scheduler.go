package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/metrica/internal/changefeed"
	"github.com/rendis/metrica/internal/store"
	"github.com/rendis/metrica/internal/triggers"
	"github.com/rendis/metrica/pkg/schema"
)

const (
	// DefaultPollInterval is how often the timer path scans for due definitions.
	DefaultPollInterval = 10 * time.Second
	// DefaultDebounce is the minimum gap between two runs of one definition,
	// shared by the timer and change paths.
	DefaultDebounce = 10 * time.Second
)

// Runner executes a single definition. Satisfied by the service (avoids
// import cycle).
type Runner interface {
	ExecuteOnce(ctx context.Context, id string) (string, error)
}

// DefinitionSource reads definitions for scheduling decisions. Satisfied by
// the service.
type DefinitionSource interface {
	ListDefinitions(ctx context.Context, filter store.DefinitionFilter) ([]*schema.WorkflowDefinition, error)
	GetDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error)
}

// Scheduler drives both activation paths: a poll loop for timer-triggered
// definitions and a change-event loop for data-triggered ones. Both funnel
// into the same debounced, deduplicated execution gate, so a definition runs
// at most once per debounce window no matter how many paths fire.
type Scheduler struct {
	source   DefinitionSource
	runner   Runner
	feed     changefeed.Feed
	triggers *triggers.Registry
	parser   cron.Parser
	logger   *slog.Logger

	poll     time.Duration
	debounce time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	runCtx context.Context
	runs   sync.WaitGroup

	gateMu   sync.Mutex
	lastFire map[string]time.Time // definition ID -> last gate pass
	inflight map[string]struct{}  // definition IDs currently executing (dedup)

	now func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPollInterval overrides the timer scan interval.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.poll = d }
}

// WithDebounce overrides the minimum gap between runs of one definition.
func WithDebounce(d time.Duration) Option {
	return func(s *Scheduler) { s.debounce = d }
}

// New creates a Scheduler.
func New(source DefinitionSource, runner Runner, feed changefeed.Feed, reg *triggers.Registry, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		source:   source,
		runner:   runner,
		feed:     feed,
		triggers: reg,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		poll:     DefaultPollInterval,
		debounce: DefaultDebounce,
		lastFire: make(map[string]time.Time),
		inflight: make(map[string]struct{}),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the timer and change-event loops.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	// Runs execute on the caller's context, not the loop context: Stop cancels
	// the loops but lets in-flight runs finish. External cancellation (process
	// shutdown signal) still threads through to collaborator calls.
	s.runCtx = ctx
	s.mu.Unlock()

	events, unsubscribe, err := s.feed.Subscribe(schedCtx, changefeed.Filter{})
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe to change feed: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.timerLoop(schedCtx)
	}()
	go func() {
		defer wg.Done()
		defer unsubscribe()
		s.changeLoop(schedCtx, events)
	}()
	go func() {
		wg.Wait()
		close(s.done)
	}()

	s.logger.Info("scheduler started",
		slog.Duration("poll_interval", s.poll),
		slog.Duration("debounce", s.debounce))
	return nil
}

// Stop shuts down both loops, then waits for in-flight runs to finish. No new
// activations start after Stop returns.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.runs.Wait()
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) timerLoop(ctx context.Context) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	// Run an initial scan immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick scans timer-triggered definitions and runs those that are due, one
// after another. The next tick simply arrives late when a scan overruns its
// slot; the debounce gate keeps the backlog from double-running anything.
func (s *Scheduler) tick(ctx context.Context) {
	defs, err := s.source.ListDefinitions(ctx, store.DefinitionFilter{Mode: store.ModeTimer})
	if err != nil {
		s.logger.Error("failed to list timer definitions", slog.String("error", err.Error()))
		return
	}

	now := s.now()
	for _, def := range defs {
		if !s.isDue(def, now) {
			continue
		}
		s.execute(s.runContext(ctx), def.ID, "timer")
	}
}

// runContext returns the context runs execute on. s.runCtx is written only in
// Start, before the loops launch, so an unlocked read here cannot race. Falls
// back to the loop context when tick is driven directly in tests.
func (s *Scheduler) runContext(fallback context.Context) context.Context {
	if s.runCtx != nil {
		return s.runCtx
	}
	return fallback
}

// isDue decides whether a timer definition should run now. A cron Schedule,
// when present, takes precedence over the plain interval. Definitions whose
// last update failed validation never run.
func (s *Scheduler) isDue(def *schema.WorkflowDefinition, now time.Time) bool {
	if skipStatus(def.Status) {
		return false
	}
	if def.LastRun == nil {
		return true
	}

	if def.Schedule != "" {
		sched, err := s.parser.Parse(def.Schedule)
		if err != nil {
			s.logger.Warn("invalid cron schedule",
				slog.String("definition_id", def.ID),
				slog.String("schedule", def.Schedule))
			return false
		}
		return !sched.Next(*def.LastRun).After(now)
	}

	interval := time.Duration(def.IntervalSeconds) * time.Second
	return now.Sub(*def.LastRun) >= interval
}

func (s *Scheduler) changeLoop(ctx context.Context, events <-chan schema.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			s.handleEvent(ctx, event)
		}
	}
}

// handleEvent activates every change-triggered definition whose trigger index
// matches the event. Timer and manual definitions never activate on changes,
// even when their steps read the changed table.
func (s *Scheduler) handleEvent(ctx context.Context, event schema.ChangeEvent) {
	ids := s.triggers.MatchingDefinitions(event)
	if len(ids) == 0 {
		return
	}

	for _, id := range ids {
		def, err := s.source.GetDefinition(ctx, id)
		if err != nil {
			s.logger.Error("failed to load definition for change event",
				slog.String("definition_id", id), slog.String("error", err.Error()))
			continue
		}
		if def.IntervalSeconds >= 0 || skipStatus(def.Status) {
			continue
		}
		s.runs.Add(1)
		go func(id string) {
			defer s.runs.Done()
			s.execute(s.runContext(ctx), id, "change:"+event.Table)
		}(id)
	}
}

// execute runs one definition through the shared gate: debounce first, then
// in-flight dedup. The debounce stamp is taken up front, not on completion,
// so a failing run cannot hot-loop on a chatty table. Failures are logged and
// recorded by the runner; the scheduler keeps going.
func (s *Scheduler) execute(ctx context.Context, id, origin string) {
	if !s.tryAcquire(id) {
		return
	}
	defer s.release(id)

	s.logger.Debug("activating definition",
		slog.String("definition_id", id),
		slog.String("origin", origin))

	if _, err := s.runner.ExecuteOnce(ctx, id); err != nil {
		s.logger.Error("scheduled run failed",
			slog.String("definition_id", id),
			slog.String("origin", origin),
			slog.String("error", err.Error()))
	}
}

// tryAcquire passes the execution gate: false when the definition ran within
// the debounce window or is already running.
func (s *Scheduler) tryAcquire(id string) bool {
	s.gateMu.Lock()
	defer s.gateMu.Unlock()

	now := s.now()
	if last, ok := s.lastFire[id]; ok && now.Sub(last) < s.debounce {
		return false
	}
	if _, running := s.inflight[id]; running {
		return false
	}
	s.lastFire[id] = now
	s.inflight[id] = struct{}{}
	return true
}

// release removes the definition from the in-flight set.
func (s *Scheduler) release(id string) {
	s.gateMu.Lock()
	defer s.gateMu.Unlock()
	delete(s.inflight, id)
}

// skipStatus reports whether a definition's status bars scheduling. Runs that
// merely failed at run time stay schedulable; definitions whose last update
// failed validation do not run until fixed.
func skipStatus(status string) bool {
	return strings.HasPrefix(status, "Validation Error")
}
