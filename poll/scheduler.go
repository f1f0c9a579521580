package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule polls hourly.
const DefaultSchedule = "@every 1h"

// Scheduler runs poll cycles on a cron spec.
type Scheduler struct {
	cron    *cron.Cron
	monitor *Monitor
	logger  *slog.Logger
	spec    string
}

// NewScheduler creates a scheduler; an empty spec means DefaultSchedule.
func NewScheduler(monitor *Monitor, spec string, logger *slog.Logger) *Scheduler {
	if spec == "" {
		spec = DefaultSchedule
	}
	return &Scheduler{
		cron:    cron.New(),
		monitor: monitor,
		logger:  logger,
		spec:    spec,
	}
}

// Start registers the poll job and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("add cron job %q: %w", s.spec, err)
	}
	s.cron.Start()
	s.logger.Info("Poll scheduler started", "spec", s.spec)
	return nil
}

// Stop stops the cron loop and waits for a running cycle to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Poll scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	_, err := s.monitor.RunCycle(ctx)
	switch {
	case errors.Is(err, ErrCycleRunning):
		s.logger.Info("Skipping scheduled tick, a poll cycle is already running")
	case err != nil:
		s.logger.Error("Scheduled poll cycle failed", "error", err)
	}
}
