package ratelimit

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"github.com/clarityinspect/ingestcore/domain/scheduler"
)

// Module provides the rate limiter, applies its API-bucket middleware
// globally, and makes the limiter available to the maintenance scheduler
// as a scheduler.RateLimitReaper.
var Module = fx.Module("ratelimit",
	fx.Provide(
		NewLimiter,
		provideReaper,
	),
	fx.Invoke(registerMiddleware),
)

func provideReaper(l *Limiter) scheduler.RateLimitReaper {
	return l
}

func registerMiddleware(e *echo.Echo, l *Limiter) {
	e.Use(l.Middleware(BucketAPI))
}
