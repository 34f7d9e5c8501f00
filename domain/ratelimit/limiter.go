// Package ratelimit implements the sliding-window tiered Rate Limiter (C6):
// per-identity, per-bucket admission control with fail-open behavior when
// the limiter's own bookkeeping cannot be consulted.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/clarityinspect/ingestcore/internal/config"
	"github.com/clarityinspect/ingestcore/pkg/logger"
	"github.com/clarityinspect/ingestcore/pkg/metrics"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// RetryAfter returns the seconds a denied caller should wait, per §6's
// 429 response contract.
func (d Decision) RetryAfter() int {
	wait := time.Until(d.Reset)
	if wait < 0 {
		return 0
	}
	return int(wait.Seconds()) + 1
}

// bucketState is one (identity, bucket) key's sliding-window log. Its own
// mutex serializes admission checks for this key; the surrounding
// xsync.MapOf lets distinct keys proceed independently (§4.6 concurrency
// model: "updates to a single bucket key are serialized... across keys,
// operations are independent").
type bucketState struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// Limiter is the sliding-window log rate limiter. Grounded structurally on
// the teacher's WebhookRateLimiter (map + mutex, lazily-created per-key
// entries) but deliberately NOT on its token-bucket algorithm: C6 requires
// an exact admission-count sliding window, which a token bucket only
// approximates.
type Limiter struct {
	cfg     *config.RateLimitConfig
	log     *slog.Logger
	buckets *xsync.MapOf[string, *bucketState]
}

// NewLimiter constructs a Limiter.
func NewLimiter(cfg *config.Config, log *slog.Logger) *Limiter {
	return &Limiter{
		cfg:     &cfg.RateLimit,
		log:     log.With(logger.Scope("ratelimit")),
		buckets: xsync.NewMapOf[string, *bucketState](),
	}
}

func key(identity string, bucket Bucket) string {
	return fmt.Sprintf("%s:%s", bucket, identity)
}

// Allow performs the admission check for identity against bucket at tier.
// On any internal failure it fails open: the request is allowed and a
// warning is logged (§4.6 failure policy).
func (l *Limiter) Allow(ctx context.Context, identity string, bucket Bucket, tier Tier) (d Decision) {
	if l.cfg != nil && !l.cfg.Enabled {
		return Decision{Allowed: true}
	}

	defer func() {
		if r := recover(); r != nil {
			l.log.Warn("rate limiter panicked, failing open", slog.Any("recover", r))
			d = Decision{Allowed: true}
		}
	}()

	q := quotaFor(bucket, tier)
	k := key(identity, bucket)
	state, _ := l.buckets.LoadOrCompute(k, func() *bucketState {
		return &bucketState{}
	})

	now := time.Now()
	state.mu.Lock()
	defer state.mu.Unlock()

	cutoff := now.Add(-q.Window)
	live := state.timestamps[:0]
	for _, ts := range state.timestamps {
		if ts.After(cutoff) {
			live = append(live, ts)
		}
	}
	state.timestamps = live

	if len(state.timestamps) < q.Limit {
		state.timestamps = append(state.timestamps, now)
		return Decision{
			Allowed:   true,
			Limit:     q.Limit,
			Remaining: q.Limit - len(state.timestamps),
			Reset:     now.Add(q.Window),
		}
	}

	reset := state.timestamps[0].Add(q.Window)
	metrics.RateLimitDenied.WithLabelValues(string(bucket), string(tier)).Inc()
	return Decision{
		Allowed:   false,
		Limit:     q.Limit,
		Remaining: 0,
		Reset:     reset,
	}
}

// Reap discards keys whose every timestamp is at least 24h old (the longest
// configured window), whatever the key's own bucket window is; a key from a
// shorter-window bucket is kept until its newest timestamp reaches that age.
// Run periodically by the maintenance scheduler (§4.6) so the key space does
// not grow unbounded.
func (l *Limiter) Reap(ctx context.Context) int {
	now := time.Now()
	reaped := 0

	l.buckets.Range(func(k string, state *bucketState) bool {
		state.mu.Lock()
		empty := true
		for _, ts := range state.timestamps {
			// A generous upper bound: the longest configured window is 24h
			// (files bucket); anything older than that on every key is dead.
			if now.Sub(ts) < 24*time.Hour {
				empty = false
				break
			}
		}
		state.mu.Unlock()

		if empty {
			l.buckets.Delete(k)
			reaped++
		}
		return true
	})

	return reaped
}
