package webhooks

import (
	"context"

	"go.uber.org/fx"

	"github.com/clarityinspect/ingestcore/domain/events"
)

// Module provides the subscription store, the dispatcher, and the thin CRUD
// HTTP surface, and runs the dispatcher's event-bus subscription for the
// lifetime of the process.
var Module = fx.Module("webhooks",
	fx.Provide(NewStore, NewDispatcher, NewHandler),
	fx.Invoke(registerDispatcherLifecycle, RegisterRoutes),
)

func registerDispatcherLifecycle(lc fx.Lifecycle, d *Dispatcher, bus *events.Service) {
	var unsubscribe func()
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			unsubscribe = d.Start(bus)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if unsubscribe != nil {
				unsubscribe()
			}
			return d.Stop(ctx)
		},
	})
}
