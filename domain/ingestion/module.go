package ingestion

import (
	"go.uber.org/fx"

	"github.com/clarityinspect/ingestcore/internal/jobs"
)

// Module provides the Extraction Pipeline, installs it as the worker pool's
// Handler, and exposes the thin job submission/state-query HTTP surface.
var Module = fx.Module("ingestion",
	fx.Provide(NewPipeline, NewEventHandler, NewHandler),
	fx.Invoke(installHandler, RegisterRoutes),
)

// installHandler wires the EventHandler into the worker pool before it
// starts (internal/jobs.Module's fx.Invoke runs after every fx.Provide, so
// SetHandler here always lands before Pool.Start).
func installHandler(pool *jobs.Pool, h *EventHandler) {
	pool.SetHandler(h.Handle)
	pool.SetFailureObserver(h.HandleFailure)
}
