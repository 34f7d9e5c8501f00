package webhooks

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
)

func TestFixedSchedule_WalksExactDelays(t *testing.T) {
	delays := []time.Duration{time.Second, 5 * time.Second, 15 * time.Second, 60 * time.Second, 300 * time.Second}
	s := newFixedSchedule(delays)

	for _, want := range delays {
		assert.Equal(t, want, s.NextBackOff())
	}
}

func TestFixedSchedule_StopsAfterExhausted(t *testing.T) {
	s := newFixedSchedule([]time.Duration{time.Second, 5 * time.Second})

	assert.Equal(t, time.Second, s.NextBackOff())
	assert.Equal(t, 5*time.Second, s.NextBackOff())
	assert.Equal(t, backoff.Stop, s.NextBackOff())
	assert.Equal(t, backoff.Stop, s.NextBackOff())
}

func TestFixedSchedule_Reset(t *testing.T) {
	delays := []time.Duration{time.Second, 5 * time.Second}
	s := newFixedSchedule(delays)

	s.NextBackOff()
	s.NextBackOff()
	assert.Equal(t, backoff.Stop, s.NextBackOff())

	s.Reset()
	assert.Equal(t, time.Second, s.NextBackOff())
}

func TestLimiterSet_ReusesLimiterPerSubscription(t *testing.T) {
	set := newLimiterSet(10, 5)

	a1 := set.get("sub-1")
	a2 := set.get("sub-1")
	b1 := set.get("sub-2")

	assert.Same(t, a1, a2, "the same subscription id must always get the same limiter instance")
	assert.NotSame(t, a1, b1, "distinct subscription ids must get independent limiters")
}

func TestBuildEnvelope_ShapeAndUniqueIDs(t *testing.T) {
	body1, id1, err := buildEnvelope("processing.completed", map[string]any{"jobId": "job-1"})
	assert.NoError(t, err)
	body2, id2, err := buildEnvelope("processing.completed", map[string]any{"jobId": "job-1"})
	assert.NoError(t, err)

	assert.NotEqual(t, id1, id2, "each delivery gets its own id")
	assert.Contains(t, string(body1), `"event":"processing.completed"`)
	assert.Contains(t, string(body1), `"jobId":"job-1"`)
	assert.Contains(t, string(body1), id1)
	assert.Contains(t, string(body2), id2)
}
