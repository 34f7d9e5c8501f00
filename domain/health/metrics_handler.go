package health

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"

	"github.com/clarityinspect/ingestcore/domain/scheduler"
)

// MetricsHandler handles job and scheduler metrics requests
type MetricsHandler struct {
	db        *bun.DB
	scheduler *scheduler.Scheduler
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(db *bun.DB, sched *scheduler.Scheduler) *MetricsHandler {
	return &MetricsHandler{
		db:        db,
		scheduler: sched,
	}
}

// JobQueueMetrics represents state-count metrics for the ingestion job queue.
type JobQueueMetrics struct {
	Queued      int64 `json:"queued"`
	Active      int64 `json:"active"`
	Completed   int64 `json:"completed"`
	Failed      int64 `json:"failed"`
	Dead        int64 `json:"dead"`
	Total       int64 `json:"total"`
	LastHour    int64 `json:"lastHour"`
	Last24Hours int64 `json:"last24Hours"`
}

// AllJobMetrics wraps the queue metrics with a capture timestamp.
type AllJobMetrics struct {
	Queue     JobQueueMetrics `json:"queue"`
	Timestamp string          `json:"timestamp"`
}

// JobMetrics returns aggregate state counts for core.jobs (C3).
func (h *MetricsHandler) JobMetrics(c echo.Context) error {
	ctx := c.Request().Context()

	metrics, err := h.getQueueMetrics(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, AllJobMetrics{
		Queue:     *metrics,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *MetricsHandler) getQueueMetrics(ctx context.Context) (*JobQueueMetrics, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE state = 'queued') as queued,
			COUNT(*) FILTER (WHERE state = 'active') as active,
			COUNT(*) FILTER (WHERE state = 'completed') as completed,
			COUNT(*) FILTER (WHERE state = 'failed') as failed,
			COUNT(*) FILTER (WHERE state = 'dead') as dead,
			COUNT(*) as total,
			COUNT(*) FILTER (WHERE submitted_at > NOW() - INTERVAL '1 hour') as last_hour,
			COUNT(*) FILTER (WHERE submitted_at > NOW() - INTERVAL '24 hours') as last_24_hours
		FROM core.jobs`

	var metrics struct {
		Queued      int64 `bun:"queued"`
		Active      int64 `bun:"active"`
		Completed   int64 `bun:"completed"`
		Failed      int64 `bun:"failed"`
		Dead        int64 `bun:"dead"`
		Total       int64 `bun:"total"`
		LastHour    int64 `bun:"last_hour"`
		Last24Hours int64 `bun:"last_24_hours"`
	}

	if err := h.db.NewRaw(query).Scan(ctx, &metrics); err != nil {
		return nil, err
	}

	return &JobQueueMetrics{
		Queued:      metrics.Queued,
		Active:      metrics.Active,
		Completed:   metrics.Completed,
		Failed:      metrics.Failed,
		Dead:        metrics.Dead,
		Total:       metrics.Total,
		LastHour:    metrics.LastHour,
		Last24Hours: metrics.Last24Hours,
	}, nil
}

// SchedulerMetrics reports the maintenance scheduler's registered tasks and
// their next/previous run times.
func (h *MetricsHandler) SchedulerMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"running": h.scheduler.IsRunning(),
		"tasks":   h.scheduler.GetTaskInfo(),
	})
}
