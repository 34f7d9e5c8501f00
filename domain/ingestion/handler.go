package ingestion

import (
	"context"
	"log/slog"
	"time"

	"github.com/clarityinspect/ingestcore/domain/events"
	"github.com/clarityinspect/ingestcore/internal/jobs"
	"github.com/clarityinspect/ingestcore/pkg/logger"
)

// EventHandler adapts Pipeline.Run into the jobs.Handler contract expected
// by the worker pool (C4), additionally publishing the processing.* events
// (§4.4, §6) onto the Event Bus (C7) so the Webhook Dispatcher (C5) and any
// outward progress-stream observers can react without polling.
type EventHandler struct {
	pipeline *Pipeline
	bus      *events.Service
	log      *slog.Logger
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(pipeline *Pipeline, bus *events.Service, log *slog.Logger) *EventHandler {
	return &EventHandler{
		pipeline: pipeline,
		bus:      bus,
		log:      log.With(logger.Scope("ingestion.handler")),
	}
}

// Handle implements jobs.Handler. It fires processing.started exactly once,
// on the job's first activation (Attempts == 0 on entry, since Acquire
// itself never increments the attempt counter — only Fail(retryable) does),
// wraps the pool's progress callback to also emit processing.progress (at
// most once per 500ms per job; the 100% report is always emitted), and
// emits processing.completed once the pipeline succeeds. A pipeline error
// does NOT emit processing.failed here: a retryable error may still be
// requeued rather than reach a terminal state, so that emission waits for
// HandleFailure, which the pool calls once Store.Fail has actually resolved
// the job's resulting state (§4.4, S2/S3).
func (h *EventHandler) Handle(ctx context.Context, job *jobs.Job, progress func(percent int, stage string)) error {
	if job.Attempts == 0 {
		h.emitJobEvent(job, events.StageEventStarted, nil)
	}

	const progressEventMinInterval = 500 * time.Millisecond
	lastEmit := time.Now().Add(-time.Hour)
	wrapped := func(percent int, stage string) {
		progress(percent, stage)
		if time.Since(lastEmit) < progressEventMinInterval && percent < 100 {
			return
		}
		lastEmit = time.Now()
		h.emitJobEvent(job, events.StageEventProgress, map[string]any{
			"progress": percent,
			"stage":    stage,
		})
	}

	err := h.pipeline.Run(ctx, job, wrapped)
	if err != nil {
		return err
	}

	h.emitJobEvent(job, events.StageEventCompleted, nil)
	return nil
}

// HandleFailure is registered as the worker pool's FailureObserver. It emits
// processing.failed only when the job has actually reached a terminal state
// (failed or dead); a requeue (state == StateQueued) means the job will be
// retried and must not be reported as failed.
func (h *EventHandler) HandleFailure(job *jobs.Job, state jobs.State, payload jobs.ErrorPayload) {
	if state != jobs.StateFailed && state != jobs.StateDead {
		return
	}
	h.emitJobEvent(job, events.StageEventFailed, map[string]any{
		"code":    payload.Code,
		"message": payload.Message,
	})
}

func (h *EventHandler) emitJobEvent(job *jobs.Job, stageEvent string, data map[string]any) {
	payload := map[string]any{"event": stageEvent, "jobId": job.ID, "kind": job.Kind}
	for k, v := range data {
		payload[k] = v
	}
	h.bus.EmitUpdated(events.EntityJob, job.ID, job.TenantID, &events.EmitOptions{Data: payload})
}
