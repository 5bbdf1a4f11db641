// Package schedule runs the pipeline on a cron expression for unattended
// refreshes. Expressions use the standard five-field form; the default
// fires weekday evenings after the market close.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// DefaultCron refreshes at 18:00 Monday through Friday.
const DefaultCron = "0 18 * * 1-5"

// Task is the work a scheduler tick performs.
type Task func(ctx context.Context) error

// Scheduler wraps a cron runner around a single refresh task.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	running bool
}

// New creates a scheduler that runs task per spec. An empty spec uses
// DefaultCron.
func New(spec string, task Task, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if spec == "" {
		spec = DefaultCron
	}
	if task == nil {
		return nil, fmt.Errorf("scheduler requires a task")
	}

	s := &Scheduler{
		cron:   cron.New(),
		logger: logger,
	}

	if _, err := s.cron.AddFunc(spec, func() {
		s.logger.Info("scheduled refresh starting", "cron", spec)
		if err := task(context.Background()); err != nil {
			s.logger.Error("scheduled refresh failed", "error", err)
			return
		}
		s.logger.Info("scheduled refresh finished")
	}); err != nil {
		return nil, fmt.Errorf("register refresh task with spec %q: %w", spec, err)
	}

	return s, nil
}

// Start begins firing. Safe to call once; subsequent calls are no-ops.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("scheduler started")
}

// Stop halts firing and waits for a running task to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("scheduler stopped")
}
