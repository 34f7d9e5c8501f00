// Package jobs implements the durable Job Store and the bounded worker pool
// that drains it. A Job moves queued -> active -> {completed, failed, dead},
// with at most one worker holding its lease at any time.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

// State is a Job's lifecycle state. Completed, Failed and Dead are terminal:
// once reached, a Job never transitions again.
type State string

const (
	StateQueued    State = "queued"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateDead      State = "dead"
)

// Terminal reports whether s is one of the states a Job never leaves.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateDead
}

// Job is the durable record C3 owns exclusively. Workers hold only a
// transient lease over it; every mutation goes through the Store.
type Job struct {
	bun.BaseModel `bun:"table:core.jobs,alias:j"`

	ID       string `bun:"id,pk" json:"id"`
	TenantID string `bun:"tenant_id,notnull" json:"tenantId"`

	BlobHash    string `bun:"blob_hash,notnull" json:"blobHash"`
	BlobLocator string `bun:"blob_locator,notnull" json:"blobLocator"`
	Kind        string `bun:"kind,notnull" json:"kind"`

	Priority int   `bun:"priority,notnull,default:0" json:"priority"`
	State    State `bun:"state,notnull" json:"state"`
	Progress int   `bun:"progress,notnull,default:0" json:"progress"`
	Stage    string `bun:"stage,notnull,default:''" json:"stage"`

	Attempts    int `bun:"attempts,notnull,default:0" json:"attempts"`
	MaxAttempts int `bun:"max_attempts,notnull" json:"maxAttempts"`

	SubmittedAt    time.Time  `bun:"submitted_at,notnull" json:"submittedAt"`
	FirstStartedAt *time.Time `bun:"first_started_at" json:"firstStartedAt,omitempty"`
	LastStartedAt  *time.Time `bun:"last_started_at" json:"lastStartedAt,omitempty"`
	FinishedAt     *time.Time `bun:"finished_at" json:"finishedAt,omitempty"`
	NextAttemptAt  *time.Time `bun:"next_attempt_at" json:"nextAttemptAt,omitempty"`
	LeaseExpiresAt *time.Time `bun:"lease_expires_at" json:"leaseExpiresAt,omitempty"`

	CancelRequested bool `bun:"cancel_requested,notnull,default:false" json:"-"`

	Metadata json.RawMessage `bun:"metadata,type:jsonb" json:"metadata,omitempty"`
	Result   json.RawMessage `bun:"result,type:jsonb" json:"result,omitempty"`
	Error    json.RawMessage `bun:"error,type:jsonb" json:"error,omitempty"`
	LastErr  string          `bun:"last_error,type:text" json:"lastError,omitempty"`
}

// ErrorPayload is the canonical shape persisted to Job.Error on terminal
// failure, and surfaced to callers via the job-state-query interface.
type ErrorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// SubmitInput carries everything a caller provides when enqueuing work.
type SubmitInput struct {
	TenantID    string
	BlobHash    string
	BlobLocator string
	Kind        string
	Priority    int
	MaxAttempts int
	Metadata    json.RawMessage
}

// ListFilter narrows List queries.
type ListFilter struct {
	TenantID string
	State    State
	Limit    int
	Offset   int
}
