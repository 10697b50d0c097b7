// Package scheduler runs periodic maintenance jobs against story progress.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
)

// StalePauser pauses in-progress stories that have not been touched recently.
type StalePauser interface {
	PauseStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Config controls the stale-pause job.
type Config struct {
	// StaleAfter is how long an in-progress story may sit untouched. Zero disables the job.
	StaleAfter time.Duration
	// Interval between sweeps.
	Interval time.Duration
}

// Scheduler owns the background jobs.
type Scheduler struct {
	scheduler *gocron.Scheduler
	pauser    StalePauser
	cfg       Config
	logger    *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// New creates a scheduler. Nothing runs until Start.
func New(pauser StalePauser, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		pauser:    pauser,
		cfg:       cfg,
		logger:    logger,
	}
}

// Enabled reports whether Start will schedule anything.
func (s *Scheduler) Enabled() bool {
	return s.cfg.StaleAfter > 0 && s.cfg.Interval > 0
}

// Start schedules the jobs and returns immediately. The first sweep runs at once.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if !s.Enabled() {
		s.logger.Info("stale progress sweep disabled")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := s.scheduler.Every(s.cfg.Interval).SingletonMode().Do(s.pauseStale, ctx); err != nil {
		cancel()
		return fmt.Errorf("schedule stale sweep: %w", err)
	}

	s.cancel = cancel
	s.running = true
	s.scheduler.StartAsync()

	s.logger.Info("scheduler started",
		"stale_after", s.cfg.StaleAfter,
		"interval", s.cfg.Interval,
	)
	return nil
}

// Stop cancels in-flight work and stops the scheduler. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.cancel()
	s.scheduler.Stop()
	s.running = false
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) pauseStale(ctx context.Context) {
	start := time.Now()
	n, err := s.pauser.PauseStale(ctx, s.cfg.StaleAfter)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("stale progress sweep failed", "error", err, "paused", n)
		return
	}
	s.logger.Debug("stale progress sweep finished", "paused", n, "duration", time.Since(start))
}
