package ingestion

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires the job submission/state-query/download/cancel
// surface (§6) onto the shared echo instance.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	g := e.Group("/api/jobs")
	g.POST("", h.Submit)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.GET("/:id/download", h.Download)
	g.POST("/:id/cancel", h.Cancel)
}
