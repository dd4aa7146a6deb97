package workspace

import (
	"context"
	"fmt"
	"log/slog"

	gocron "github.com/go-co-op/gocron/v2"

	"github.com/RajasekharPalleti/cropin-automation-techops/internal/model"
)

// Janitor sweeps a Workspace on a cron schedule.
type Janitor struct {
	scheduler gocron.Scheduler
}

// NewJanitor schedules Workspace.Sweep. An empty cron expression returns a
// Janitor which does nothing.
func NewJanitor(ctx context.Context, w *Workspace, cfg model.Sweep) (*Janitor, error) {
	if cfg.Cron == "" {
		return &Janitor{}, nil
	}
	every, err := model.ParseCron(cfg.Cron)
	if err != nil {
		return nil, fmt.Errorf("parsing workspace.sweep.cron: %w", err)
	}
	slog.DebugContext(ctx, "successfully parsed", "cron", cfg.Cron, "every", every.String())

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.CronJob(cfg.Cron, false),
		gocron.NewTask(func() {
			n, err := w.Sweep(ctx, cfg.MaxAge)
			if err != nil {
				slog.WarnContext(ctx, "workspace sweep", "error", err)
			}
			if n > 0 {
				slog.InfoContext(ctx, "stale files removed", "count", n)
			}
		}),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	return &Janitor{scheduler: s}, nil
}

// Do runs the schedule until ctx is done.
func (j *Janitor) Do(ctx context.Context) error {
	if j.scheduler == nil {
		<-ctx.Done()
		return nil
	}
	j.scheduler.Start()
	<-ctx.Done()
	if err := j.scheduler.Shutdown(); err != nil {
		slog.ErrorContext(ctx, "shutting down gocron has failed", "error", err)
	}
	return nil
}
