package events

import "go.uber.org/fx"

// Module provides the in-process event bus (C7). It has no HTTP surface of
// its own; the job pipeline, dispatcher, and scheduler depend on *Service
// directly.
var Module = fx.Module("events",
	fx.Provide(NewService),
)
