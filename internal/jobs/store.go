package jobs

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	mrand "math/rand"
	"time"

	"github.com/oklog/ulid"
	"github.com/uptrace/bun"

	"github.com/clarityinspect/ingestcore/internal/config"
	"github.com/clarityinspect/ingestcore/pkg/logger"
	"github.com/clarityinspect/ingestcore/pkg/metrics"
)

// ErrNotFound is returned when a Job id has no matching row.
var ErrNotFound = errors.New("jobs: job not found")

// ErrStale is returned by Heartbeat when the job is no longer active or its
// lease already expired; the caller must stop processing.
var ErrStale = errors.New("jobs: stale lease")

// Store is the sole owner of Job mutation (C3). All state transitions are
// expressed as single-statement UPDATEs guarded by the current state, so two
// workers racing on the same job never both win.
type Store struct {
	db  bun.IDB
	cfg config.QueueConfig
	log *slog.Logger
}

// NewStore constructs a Store bound to the shared database handle.
func NewStore(db *bun.DB, cfg *config.Config, log *slog.Logger) *Store {
	return &Store{
		db:  db,
		cfg: cfg.Queue,
		log: log.With(logger.Scope("jobs.store")),
	}
}

func newULID() string {
	ms := ulid.Timestamp(time.Now())
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ms, entropy)
	if err != nil {
		// Extremely unlikely (entropy source failure); fall back to a
		// timestamp-seeded id so Submit never panics.
		return fmt.Sprintf("%020d%08x", ms, mrand.Uint32())
	}
	return id.String()
}

// Submit creates a new Job in state queued.
func (s *Store) Submit(ctx context.Context, in SubmitInput) (*Job, error) {
	maxAttempts := in.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	job := &Job{
		ID:          newULID(),
		TenantID:    in.TenantID,
		BlobHash:    in.BlobHash,
		BlobLocator: in.BlobLocator,
		Kind:        in.Kind,
		Priority:    in.Priority,
		State:       StateQueued,
		MaxAttempts: maxAttempts,
		SubmittedAt: time.Now().UTC(),
		Metadata:    in.Metadata,
	}
	if _, err := s.db.NewInsert().Model(job).Exec(ctx); err != nil {
		return nil, fmt.Errorf("submit job: %w", err)
	}
	return job, nil
}

// Acquire claims exactly one queued job, per the comparator
// (priority DESC, next_attempt_at ASC NULLS FIRST, submitted_at ASC, id ASC).
// Returns (nil, nil) when no job is ready.
func (s *Store) Acquire(ctx context.Context) (*Job, error) {
	var job Job
	query := `
		WITH cte AS (
			SELECT id FROM core.jobs
			WHERE state = 'queued'
			  AND (next_attempt_at IS NULL OR next_attempt_at <= now())
			ORDER BY priority DESC, next_attempt_at ASC NULLS FIRST, submitted_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE core.jobs j
		SET state = 'active',
		    last_started_at = now(),
		    first_started_at = COALESCE(j.first_started_at, now()),
		    lease_expires_at = now() + ?
		FROM cte
		WHERE j.id = cte.id
		RETURNING j.*`

	leaseSeconds := int(s.cfg.LeaseDuration.Seconds())
	if leaseSeconds <= 0 {
		leaseSeconds = 300
	}
	interval := fmt.Sprintf("%d seconds", leaseSeconds)

	if err := s.db.NewRaw(query, interval).Scan(ctx, &job); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("acquire job: %w", err)
	}
	return &job, nil
}

// Heartbeat extends a held lease and records progress/stage. It no-ops
// (returns ErrStale) if the job is no longer active or its lease already
// expired underneath the caller.
func (s *Store) Heartbeat(ctx context.Context, id string, progress int, stage string) error {
	leaseSeconds := int(s.cfg.LeaseDuration.Seconds())
	if leaseSeconds <= 0 {
		leaseSeconds = 300
	}
	interval := fmt.Sprintf("%d seconds", leaseSeconds)

	res, err := s.db.NewRaw(`
		UPDATE core.jobs
		SET progress = ?, stage = ?, lease_expires_at = now() + ?
		WHERE id = ? AND state = 'active' AND lease_expires_at > now()`,
		progress, stage, interval, id,
	).Exec(ctx)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrStale
	}
	return nil
}

// Complete transitions an active job to completed, persisting result atop
// the caller's own transaction boundary (the pipeline's stage 3-4 boundary,
// see domain/ingestion.Pipeline.persistWithRetry) so the canonical record
// write and the completion transition commit or roll back together.
func (s *Store) Complete(ctx context.Context, tx bun.Tx, id string, result json.RawMessage) error {
	res, err := tx.NewRaw(`
		UPDATE core.jobs
		SET state = 'completed', progress = 100, finished_at = now(), result = ?
		WHERE id = ? AND state = 'active'`,
		result, id,
	).Exec(ctx)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrStale
	}
	metrics.JobsCompleted.WithLabelValues("completed").Inc()
	return nil
}

// Fail records a failure. When retryable and attempts remain, the job is
// requeued with next_attempt_at set per the fixed backoff schedule; once
// attempts are exhausted it is dead-lettered. Non-retryable failures go
// straight to failed, bypassing backoff entirely. The returned State is the
// job's resulting state (failed, dead, or queued-for-retry) so callers can
// tell a terminal failure from a scheduled retry.
func (s *Store) Fail(ctx context.Context, id string, retryable bool, payload ErrorPayload) (State, error) {
	errJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal error payload: %w", err)
	}

	if !retryable {
		res, err := s.db.NewRaw(`
			UPDATE core.jobs
			SET state = 'failed', finished_at = now(), error = ?, last_error = ?, attempts = attempts + 1
			WHERE id = ? AND state = 'active'`,
			errJSON, payload.Message, id,
		).Exec(ctx)
		if err != nil {
			return "", fmt.Errorf("fail job (permanent): %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return "", ErrStale
		}
		metrics.JobsCompleted.WithLabelValues("failed").Inc()
		return StateFailed, nil
	}

	return s.failRetryable(ctx, id, errJSON, payload.Message)
}

// failRetryable increments attempts and either requeues with backoff+jitter
// or dead-letters once max_attempts is reached. The post-increment attempt
// number must be known before the delay is computed, so the current
// attempts/max_attempts are locked and read first inside a transaction
// rather than derived from a column expression in the UPDATE itself.
func (s *Store) failRetryable(ctx context.Context, id string, errJSON json.RawMessage, lastErr string) (State, error) {
	delays := s.cfg.RetryDelays()
	var result State

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var current struct {
			Attempts    int
			MaxAttempts int
		}
		row := tx.QueryRowContext(ctx, `
			SELECT attempts, max_attempts FROM core.jobs
			WHERE id = ? AND state = 'active' FOR UPDATE`, id)
		if err := row.Scan(&current.Attempts, &current.MaxAttempts); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrStale
			}
			return fmt.Errorf("lock job for retry: %w", err)
		}

		newAttempts := current.Attempts + 1
		if newAttempts >= current.MaxAttempts {
			if _, err := tx.NewRaw(`
				UPDATE core.jobs
				SET attempts = ?, last_error = ?, state = 'dead', finished_at = now(),
				    error = ?::jsonb, next_attempt_at = NULL
				WHERE id = ?`,
				newAttempts, lastErr, errJSON, id,
			).Exec(ctx); err != nil {
				return err
			}
			result = StateDead
			metrics.JobsCompleted.WithLabelValues("dead").Inc()
			return nil
		}

		if _, err := tx.NewRaw(`
			UPDATE core.jobs
			SET attempts = ?, last_error = ?, state = 'queued', next_attempt_at = now() + ?
			WHERE id = ?`,
			newAttempts, lastErr, backoffInterval(delays, newAttempts), id,
		).Exec(ctx); err != nil {
			return err
		}
		result = StateQueued
		return nil
	})
	if errors.Is(err, ErrStale) {
		return "", ErrStale
	}
	if err != nil {
		return "", fmt.Errorf("fail job (retryable): %w", err)
	}
	return result, nil
}

// backoffInterval renders the jittered delay for the given 1-indexed attempt
// as a Postgres interval literal. Attempt k uses delays[min(k-1,len-1)], plus
// uniform jitter in [0,20%] of the base delay.
func backoffInterval(delays []time.Duration, attempt int) string {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(delays) {
		idx = len(delays) - 1
	}
	base := delays[idx]
	jitter := jitterFraction() * float64(base)
	total := base + time.Duration(jitter)
	return fmt.Sprintf("%f seconds", total.Seconds())
}

func jitterFraction() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<20))
	if err != nil {
		return 0
	}
	return 0.2 * (float64(n.Int64()) / float64(1<<20))
}

// Get retrieves a single job by id.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	job := new(Job)
	err := s.db.NewSelect().Model(job).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns jobs matching the filter, newest submission first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Job, error) {
	q := s.db.NewSelect().Model((*Job)(nil)).OrderExpr("submitted_at DESC")
	if filter.TenantID != "" {
		q = q.Where("tenant_id = ?", filter.TenantID)
	}
	if filter.State != "" {
		q = q.Where("state = ?", filter.State)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q = q.Limit(limit).Offset(filter.Offset)

	var out []*Job
	if err := q.Scan(ctx, &out); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return out, nil
}

// RequestCancel marks a job for cancellation. Queued jobs are terminated
// immediately (failed, reason=cancelled); active jobs are flagged so the
// worker processing them can abandon at its next checkpoint. Returns the
// job's state at the moment of the request so the caller knows which path
// was taken.
func (s *Store) RequestCancel(ctx context.Context, id string) (State, error) {
	var result State
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		job := new(Job)
		if err := tx.NewSelect().Model(job).Where("id = ?", id).For("UPDATE").Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if job.State.Terminal() {
			result = job.State
			return nil
		}
		if job.State == StateQueued {
			payload, _ := json.Marshal(ErrorPayload{Code: "CANCELLED", Message: "job was cancelled"})
			_, err := tx.NewRaw(`
				UPDATE core.jobs SET state = 'failed', finished_at = now(), error = ? WHERE id = ?`,
				payload, id,
			).Exec(ctx)
			result = StateFailed
			return err
		}
		// active: flag for cooperative cancellation; the pool's per-job
		// context gets cancelled out-of-band by the caller via the pool's
		// own registry, this column only records intent for observers.
		_, err := tx.NewRaw(`UPDATE core.jobs SET cancel_requested = true WHERE id = ?`, id).Exec(ctx)
		result = StateActive
		return err
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

// RecoverExpiredLeases requeues any active job whose lease has expired
// without a heartbeat, counting the expiry as a retryable failure (see
// DESIGN.md: lease-expiry attempt-count Open Question).
func (s *Store) RecoverExpiredLeases(ctx context.Context) (int, error) {
	// No row lock here: this is a plain read outside a transaction. Safety
	// against double-recovery comes from failRetryable, which re-reads the
	// row with "WHERE id = ? AND state = 'active' FOR UPDATE" before updating.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM core.jobs
		WHERE state = 'active' AND lease_expires_at IS NOT NULL AND lease_expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("scan expired leases: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	recovered := 0
	for _, id := range ids {
		payload := ErrorPayload{Code: "LEASE_EXPIRED", Message: "worker lease expired without heartbeat"}
		if _, err := s.failRetryable(ctx, id, mustJSON(payload), payload.Message); err != nil && !errors.Is(err, ErrStale) {
			s.log.Warn("failed to recover expired lease", slog.String("job_id", id), logger.Error(err))
			continue
		}
		recovered++
	}
	if recovered > 0 {
		s.log.Info("recovered expired leases", slog.Int("count", recovered))
	}
	return recovered, nil
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
