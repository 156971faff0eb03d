// Package scheduler starts executions of definitions that declare a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dukex/playbook/pkg/models"
	"github.com/dukex/playbook/pkg/workflow"
	"github.com/robfig/cron/v3"
)

// DefaultRefreshInterval is how often the stored schedules are re-read.
const DefaultRefreshInterval = time.Minute

// Source lists definitions with a non-empty schedule.
type Source interface {
	FetchScheduled(ctx context.Context) ([]*models.WorkflowDefinition, error)
}

// Starter starts an execution of a stored definition.
type Starter interface {
	Start(ctx context.Context, definitionID string, input map[string]any, opts workflow.StartOptions) (string, error)
}

type job struct {
	schedule string
	entryID  cron.EntryID
}

type Scheduler struct {
	source  Source
	starter Starter
	logger  *slog.Logger
	refresh time.Duration
	options workflow.StartOptions

	mutex  sync.Mutex
	cron   *cron.Cron
	jobs   map[string]job
	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(source Source, starter Starter, logger *slog.Logger, refresh time.Duration, options workflow.StartOptions) *Scheduler {
	if refresh <= 0 {
		refresh = DefaultRefreshInterval
	}

	return &Scheduler{
		source:  source,
		starter: starter,
		logger:  logger.With("module", "scheduler"),
		refresh: refresh,
		options: options,
		jobs:    make(map[string]job),
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
			cron.Recover(cron.DefaultLogger),
		)),
	}
}

// Start loads the schedules, keeps them in sync and begins firing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mutex.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mutex.Unlock()

	if err := s.Sync(ctx); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.refresh), func() {
		if err := s.Sync(s.ctx); err != nil {
			s.logger.Error("Failed to refresh schedules", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to add refresh job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Scheduler started", "definitions", len(s.Scheduled()), "refresh", s.refresh)

	return nil
}

// Stop halts the cron and waits for running jobs, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()

	s.mutex.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mutex.Unlock()

	select {
	case <-done.Done():
		s.logger.Info("Scheduler stopped")

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sync adds, replaces and removes cron entries to match the stored definitions.
// Definitions with an unparsable schedule are logged and left out.
func (s *Scheduler) Sync(ctx context.Context) error {
	definitions, err := s.source.FetchScheduled(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch scheduled definitions: %w", err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	seen := make(map[string]bool, len(definitions))

	for _, definition := range definitions {
		seen[definition.ID] = true
		logger := s.logger.With("definition_id", definition.ID, "schedule", definition.Schedule)

		if existing, ok := s.jobs[definition.ID]; ok {
			if existing.schedule == definition.Schedule {
				continue
			}

			s.cron.Remove(existing.entryID)
			delete(s.jobs, definition.ID)
		}

		definitionID := definition.ID

		entryID, err := s.cron.AddFunc(definition.Schedule, func() {
			s.fire(definitionID)
		})
		if err != nil {
			logger.Error("Invalid schedule, skipping definition", "error", err)

			continue
		}

		s.jobs[definition.ID] = job{schedule: definition.Schedule, entryID: entryID}
		logger.Info("Scheduled definition", "entry_id", entryID)
	}

	for definitionID, j := range s.jobs {
		if !seen[definitionID] {
			s.cron.Remove(j.entryID)
			delete(s.jobs, definitionID)
			s.logger.Info("Unscheduled definition", "definition_id", definitionID)
		}
	}

	return nil
}

// Scheduled returns the ids of the definitions with an active cron entry, sorted.
func (s *Scheduler) Scheduled() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids
}

func (s *Scheduler) fire(definitionID string) {
	s.mutex.Lock()
	ctx := s.ctx
	s.mutex.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	input := map[string]any{
		"trigger": map[string]any{
			"type":         "schedule",
			"scheduled_at": time.Now().UTC().Format(time.RFC3339),
		},
	}

	executionID, err := s.starter.Start(ctx, definitionID, input, s.options)
	if err != nil {
		s.logger.Error("Failed to start scheduled execution", "definition_id", definitionID, "error", err)

		return
	}

	s.logger.Info("Started scheduled execution", "definition_id", definitionID, "execution_id", executionID)
}
