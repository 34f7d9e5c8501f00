package scheduler

import (
	"context"
	"log/slog"

	"github.com/clarityinspect/ingestcore/internal/jobs"
)

// LeaseSweepTask wraps the Job Store's expired-lease recovery as a
// scheduled maintenance task: jobs whose worker lease expired without
// reaching a terminal state are rescheduled for retry per §4.3's
// lease-expiry-is-retryable resolution.
type LeaseSweepTask struct {
	store *jobs.Store
	log   *slog.Logger
}

// NewLeaseSweepTask constructs a LeaseSweepTask.
func NewLeaseSweepTask(store *jobs.Store, log *slog.Logger) *LeaseSweepTask {
	return &LeaseSweepTask{store: store, log: log}
}

// Run reclaims every job whose lease has expired.
func (t *LeaseSweepTask) Run(ctx context.Context) error {
	n, err := t.store.RecoverExpiredLeases(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		t.log.Info("recovered expired leases", slog.Int("count", n))
	}
	return nil
}

// RateLimitReaper discards rate-limiter keys whose sliding window has
// fully expired, so the in-memory key space does not grow unbounded (§4.6).
// Satisfied by *domain/ratelimit.Limiter; declared as an interface here
// (rather than importing that package directly) to avoid a scheduler ->
// ratelimit -> scheduler import cycle, since the rate limiter itself has no
// need to know about the scheduler.
type RateLimitReaper interface {
	Reap(ctx context.Context) int
}

// RateLimitReapTask wraps the rate limiter's empty-key reap as a scheduled
// maintenance task.
type RateLimitReapTask struct {
	limiter RateLimitReaper
	log     *slog.Logger
}

// NewRateLimitReapTask constructs a RateLimitReapTask.
func NewRateLimitReapTask(limiter RateLimitReaper, log *slog.Logger) *RateLimitReapTask {
	return &RateLimitReapTask{limiter: limiter, log: log}
}

// Run discards fully-expired rate-limiter keys.
func (t *RateLimitReapTask) Run(ctx context.Context) error {
	n := t.limiter.Reap(ctx)
	if n > 0 {
		t.log.Info("reaped empty rate-limit keys", slog.Int("count", n))
	}
	return nil
}
