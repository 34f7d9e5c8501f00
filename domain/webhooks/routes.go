package webhooks

import "github.com/labstack/echo/v4"

// RegisterRoutes wires the subscription CRUD + test surface onto the
// shared echo instance (§6).
func RegisterRoutes(e *echo.Echo, h *Handler) {
	g := e.Group("/api/webhooks/subscriptions")
	g.POST("", h.Create)
	g.GET("", h.List)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/test", h.Test)
}
