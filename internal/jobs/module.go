package jobs

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/clarityinspect/ingestcore/internal/config"
)

// Module provides the Job Store and the worker pool that drains it. The
// pool's Handler is installed by the ingestion domain (fx.Invoke runs after
// every fx.Provide, so domain/ingestion's own fx.Invoke wiring in is free to
// call Pool.SetHandler before the pool starts).
var Module = fx.Module("jobs",
	fx.Provide(NewStore, NewPool),
	fx.Invoke(registerLifecycle),
)

func registerLifecycle(lc fx.Lifecycle, pool *Pool, cfg *config.Config, log *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("starting job worker pool", slog.Int("workers", cfg.Queue.WorkerCount))
			pool.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("stopping job worker pool")
			return pool.Stop(ctx)
		},
	})
}
