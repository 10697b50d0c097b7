package providers

import (
	"fmt"

	"github.com/samber/do/v2"

	"github.com/storylingo/storylingo-server/internal/config"
	"github.com/storylingo/storylingo-server/internal/scheduler"
	"github.com/storylingo/storylingo-server/internal/service"
)

// SchedulerHandle wraps the background job scheduler with Shutdownable.
type SchedulerHandle struct {
	*scheduler.Scheduler
}

// Shutdown implements do.Shutdownable.
func (h *SchedulerHandle) Shutdown() error {
	h.Stop()
	return nil
}

// ProvideScheduler starts the stale-story sweep when it is enabled.
func ProvideScheduler(i do.Injector) (*SchedulerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*LoggerHandle](i)
	progress := do.MustInvoke[*service.ProgressService](i)

	s := scheduler.New(progress, scheduler.Config{
		StaleAfter: cfg.Jobs.StaleAfter,
		Interval:   cfg.Jobs.StaleCheckInterval,
	}, log.Logger.Logger)

	if err := s.Start(); err != nil {
		return nil, fmt.Errorf("start scheduler: %w", err)
	}

	return &SchedulerHandle{Scheduler: s}, nil
}
