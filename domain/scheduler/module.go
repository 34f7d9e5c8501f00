package scheduler

import (
	"context"
	"log/slog"
	"time"

	"go.uber.org/fx"
)

// Module provides the shared maintenance scheduler and registers the two
// tasks the ingestion core needs: the stale-lease sweep (§4.3) and the
// rate-limiter key reap (§4.6). Both run on the same robfig/cron-backed
// scheduler the teacher uses for its own periodic maintenance.
var Module = fx.Module("scheduler",
	fx.Provide(
		NewConfig,
		NewScheduler,
		NewLeaseSweepTask,
		NewRateLimitReapTask,
	),
	fx.Invoke(
		RegisterTasks,
		RegisterSchedulerLifecycle,
	),
)

// TaskParams contains dependencies for registering scheduled tasks.
type TaskParams struct {
	fx.In
	Scheduler *Scheduler
	Log       *slog.Logger
	Cfg       *Config
	LeaseTask *LeaseSweepTask
	ReapTask  *RateLimitReapTask
}

// RegisterTasks registers the maintenance tasks with the scheduler.
func RegisterTasks(p TaskParams) error {
	if !p.Cfg.Enabled {
		p.Log.Info("scheduler disabled, skipping task registration")
		return nil
	}

	if err := addScheduledTask(p.Scheduler, p.Log, "lease_sweep",
		p.Cfg.LeaseSweepSchedule, p.Cfg.LeaseSweepInterval, p.LeaseTask.Run); err != nil {
		p.Log.Error("failed to register lease sweep task", slog.String("error", err.Error()))
	}

	if err := addScheduledTask(p.Scheduler, p.Log, "rate_limit_reap",
		p.Cfg.RateLimitReapSchedule, p.Cfg.RateLimitReapInterval, p.ReapTask.Run); err != nil {
		p.Log.Error("failed to register rate limit reap task", slog.String("error", err.Error()))
	}

	p.Log.Info("registered scheduled tasks", slog.Any("tasks", p.Scheduler.ListTasks()))
	return nil
}

// addScheduledTask registers a task using a cron schedule if provided, otherwise using an interval.
// The cron schedule takes precedence over the interval when both are specified.
// If the cron schedule is invalid, falls back to using the interval.
func addScheduledTask(s *Scheduler, log *slog.Logger, name, cronSchedule string, interval time.Duration, task TaskFunc) error {
	if cronSchedule != "" {
		log.Info("using cron schedule for task",
			slog.String("name", name),
			slog.String("schedule", cronSchedule))
		err := s.AddCronTask(name, cronSchedule, task)
		if err != nil {
			log.Warn("invalid cron schedule, falling back to interval",
				slog.String("name", name),
				slog.String("schedule", cronSchedule),
				slog.Duration("interval", interval),
				slog.String("error", err.Error()))
			return s.AddIntervalTask(name, interval, task)
		}
		return nil
	}
	return s.AddIntervalTask(name, interval, task)
}

// RegisterSchedulerLifecycle registers the scheduler with fx lifecycle
func RegisterSchedulerLifecycle(lc fx.Lifecycle, scheduler *Scheduler, cfg *Config) {
	if !cfg.Enabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return scheduler.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return scheduler.Stop(ctx)
		},
	})
}
