package ratelimit

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clarityinspect/ingestcore/internal/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestLimiter(enabled bool) *Limiter {
	cfg := &config.Config{RateLimit: config.RateLimitConfig{Enabled: enabled}}
	return NewLimiter(cfg, newTestLogger())
}

func TestAllow_AdmitsUpToLimit(t *testing.T) {
	l := newTestLimiter(true)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		d := l.Allow(ctx, "user-1", BucketAPI, TierFree)
		require.True(t, d.Allowed, "request %d should be admitted (limit is 100)", i)
	}

	d := l.Allow(ctx, "user-1", BucketAPI, TierFree)
	assert.False(t, d.Allowed, "the 101st request within the window must be denied")
	assert.Equal(t, 100, d.Limit)
	assert.Equal(t, 0, d.Remaining)
	assert.Greater(t, d.RetryAfter(), 0)
}

func TestAllow_IndependentPerIdentity(t *testing.T) {
	l := newTestLimiter(true)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		require.True(t, l.Allow(ctx, "user-a", BucketAPI, TierFree).Allowed)
	}
	assert.False(t, l.Allow(ctx, "user-a", BucketAPI, TierFree).Allowed)

	// A distinct identity has its own independent window.
	assert.True(t, l.Allow(ctx, "user-b", BucketAPI, TierFree).Allowed)
}

func TestAllow_IndependentPerBucket(t *testing.T) {
	l := newTestLimiter(true)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		require.True(t, l.Allow(ctx, "user-1", BucketAPI, TierFree).Allowed)
	}
	assert.False(t, l.Allow(ctx, "user-1", BucketAPI, TierFree).Allowed)

	// The files bucket for the same identity is a distinct counter.
	assert.True(t, l.Allow(ctx, "user-1", BucketFiles, TierFree).Allowed)
}

func TestAllow_HigherTierHasHigherQuota(t *testing.T) {
	l := newTestLimiter(true)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		require.True(t, l.Allow(ctx, "pro-user", BucketAPI, TierPro).Allowed)
	}
	// Pro's quota is 1000/15min, so request 101 must still be admitted.
	d := l.Allow(ctx, "pro-user", BucketAPI, TierPro)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1000, d.Limit)
}

func TestAllow_DisabledFailsOpen(t *testing.T) {
	l := newTestLimiter(false)
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		d := l.Allow(ctx, "user-1", BucketAPI, TierFree)
		require.True(t, d.Allowed, "a disabled limiter must never deny")
	}
}

func TestQuotaFor(t *testing.T) {
	tests := []struct {
		name      string
		bucket    Bucket
		tier      Tier
		wantLimit int
	}{
		{"free api", BucketAPI, TierFree, 100},
		{"pro api", BucketAPI, TierPro, 1000},
		{"enterprise api", BucketAPI, TierEnterprise, 10000},
		{"free files", BucketFiles, TierFree, 10},
		{"pro files", BucketFiles, TierPro, 100},
		{"enterprise files", BucketFiles, TierEnterprise, 1000},
		{"webhook fixed regardless of tier", BucketWebhook, TierFree, 100},
		{"admin fixed regardless of tier", BucketAdmin, TierEnterprise, 1000},
		{"unknown tier falls back to free", BucketAPI, Tier("unknown"), 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantLimit, quotaFor(tt.bucket, tt.tier).Limit)
		})
	}
}

func TestReap_RemovesFullyExpiredKeys(t *testing.T) {
	l := newTestLimiter(true)
	ctx := context.Background()

	l.Allow(ctx, "stale-user", BucketAPI, TierFree)

	k := key("stale-user", BucketAPI)
	state, ok := l.buckets.Load(k)
	require.True(t, ok)

	state.mu.Lock()
	for i := range state.timestamps {
		state.timestamps[i] = state.timestamps[i].AddDate(0, 0, -2)
	}
	state.mu.Unlock()

	reaped := l.Reap(ctx)
	assert.Equal(t, 1, reaped)

	_, stillPresent := l.buckets.Load(k)
	assert.False(t, stillPresent)
}

func TestReap_KeepsLiveKeys(t *testing.T) {
	l := newTestLimiter(true)
	ctx := context.Background()

	l.Allow(ctx, "active-user", BucketAPI, TierFree)

	reaped := l.Reap(ctx)
	assert.Equal(t, 0, reaped)

	_, ok := l.buckets.Load(key("active-user", BucketAPI))
	assert.True(t, ok)
}
