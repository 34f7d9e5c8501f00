package ingestion

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clarityinspect/ingestcore/domain/ratelimit"
	"github.com/clarityinspect/ingestcore/internal/jobs"
	"github.com/clarityinspect/ingestcore/internal/storage"
	"github.com/clarityinspect/ingestcore/pkg/apperror"
)

// defaultTenantID is used when a caller omits X-Tenant-ID. Authentication
// itself is out of scope (§1 Non-goals); the core only needs a stable
// partition key.
const defaultTenantID = "default"

// maxUploadBytes bounds a single job submission's blob size.
const maxUploadBytes = 64 << 20 // 64 MiB

var supportedKinds = map[string]bool{
	"pdf": true, "doc": true, "docx": true, "xls": true, "xlsx": true,
	"csv": true, "jpg": true, "jpeg": true, "png": true, "tiff": true, "bmp": true,
}

// Handler exposes the thin HTTP surface over the job store: submission,
// state query, artifact download and cancellation (§6).
type Handler struct {
	store   *jobs.Store
	pool    *jobs.Pool
	storage *storage.Service
	limiter *ratelimit.Limiter
}

// NewHandler constructs a Handler.
func NewHandler(store *jobs.Store, pool *jobs.Pool, storageSvc *storage.Service, limiter *ratelimit.Limiter) *Handler {
	return &Handler{store: store, pool: pool, storage: storageSvc, limiter: limiter}
}

func tenantID(c echo.Context) string {
	if t := c.Request().Header.Get("X-Tenant-ID"); t != "" {
		return t
	}
	return defaultTenantID
}

// Submit handles a streaming multipart blob upload, declared kind and
// optional metadata, enqueuing a new job in state `queued` (§6).
func (h *Handler) Submit(c echo.Context) error {
	kind := c.FormValue("kind")
	if !supportedKinds[kind] {
		return apperror.ErrUnsupportedKind.WithMessage("declared kind " + kind + " is not supported").ToEchoError()
	}

	if d := h.limiter.Allow(c.Request().Context(), ratelimit.IdentityFromRequest(c), ratelimit.BucketFiles, ratelimit.TierFromRequest(c)); !d.Allowed {
		return apperror.ErrRateLimitExceeded.WithDetails(map[string]any{
			"limit": d.Limit, "remaining": 0, "reset": d.Reset.UnixMilli(), "retryAfter": d.RetryAfter(),
		}).ToEchoError()
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return apperror.ErrBadRequest.WithMessage("missing file part").ToEchoError()
	}
	if fileHeader.Size > maxUploadBytes {
		return apperror.ErrBadRequest.WithMessage("file exceeds maximum upload size").ToEchoError()
	}

	src, err := fileHeader.Open()
	if err != nil {
		return apperror.ErrInternal.WithInternal(err).ToEchoError()
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, maxUploadBytes+1))
	if err != nil {
		return apperror.ErrInternal.WithInternal(err).ToEchoError()
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	result, err := h.storage.UploadBlob(c.Request().Context(), bytes.NewReader(data), int64(len(data)), storage.BlobUploadOptions{
		ContentHash: hash,
		Filename:    fileHeader.Filename,
		UploadOptions: storage.UploadOptions{
			ContentType: fileHeader.Header.Get("Content-Type"),
		},
	})
	if err != nil {
		return apperror.ErrInternal.WithInternal(err).ToEchoError()
	}

	var metadata json.RawMessage
	if raw := c.FormValue("metadata"); raw != "" {
		metadata = json.RawMessage(raw)
	}

	job, err := h.store.Submit(c.Request().Context(), jobs.SubmitInput{
		TenantID:    tenantID(c),
		BlobHash:    hash,
		BlobLocator: result.Key,
		Kind:        kind,
		Metadata:    metadata,
	})
	if err != nil {
		return apperror.ErrInternal.WithInternal(err).ToEchoError()
	}

	return c.JSON(http.StatusAccepted, map[string]any{
		"id":    job.ID,
		"state": job.State,
	})
}

// Get returns a job's current state, progress, timings, and (when terminal)
// its result summary or error reason (§6).
func (h *Handler) Get(c echo.Context) error {
	job, err := h.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperror.ErrJobNotFound.ToEchoError()
	}

	resp := map[string]any{
		"id":             job.ID,
		"state":          job.State,
		"progress":       job.Progress,
		"stage":          job.Stage,
		"attempts":       job.Attempts,
		"maxAttempts":    job.MaxAttempts,
		"submittedAt":    job.SubmittedAt,
		"firstStartedAt": job.FirstStartedAt,
		"lastStartedAt":  job.LastStartedAt,
		"finishedAt":     job.FinishedAt,
		"nextAttemptAt":  job.NextAttemptAt,
	}

	switch job.State {
	case jobs.StateCompleted:
		var record Record
		if err := json.Unmarshal(job.Result, &record); err == nil {
			resp["result"] = BuildSummary(&record)
		}
	case jobs.StateFailed, jobs.StateDead:
		var payload jobs.ErrorPayload
		if err := json.Unmarshal(job.Error, &payload); err == nil {
			resp["error"] = payload
		}
	}

	return c.JSON(http.StatusOK, resp)
}

// List returns jobs for the caller's tenant, optionally filtered by state.
func (h *Handler) List(c echo.Context) error {
	filter := jobs.ListFilter{
		TenantID: tenantID(c),
		State:    jobs.State(c.QueryParam("state")),
		Limit:    50,
	}
	list, err := h.store.List(c.Request().Context(), filter)
	if err != nil {
		return apperror.ErrInternal.WithInternal(err).ToEchoError()
	}
	return c.JSON(http.StatusOK, map[string]any{"jobs": list})
}

// Download streams the originally stored blob for a completed job (§6).
func (h *Handler) Download(c echo.Context) error {
	job, err := h.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperror.ErrJobNotFound.ToEchoError()
	}
	if job.State != jobs.StateCompleted {
		return apperror.ErrConflict.WithMessage("job has not completed processing").ToEchoError()
	}

	reader, err := h.storage.Download(c.Request().Context(), job.BlobLocator)
	if err != nil {
		return apperror.ErrInternal.WithInternal(err).ToEchoError()
	}
	defer reader.Close()

	return c.Stream(http.StatusOK, "application/octet-stream", reader)
}

// Cancel requests cooperative cancellation of a job (§4.4).
func (h *Handler) Cancel(c echo.Context) error {
	state, err := h.pool.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperror.ErrJobNotFound.ToEchoError()
	}
	return c.JSON(http.StatusOK, map[string]any{"id": c.Param("id"), "state": state})
}
