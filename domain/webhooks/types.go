// Package webhooks implements the Webhook Dispatcher (C5): signed,
// bounded-retry delivery of bus events to tenant-registered subscriptions.
package webhooks

import (
	"time"

	"github.com/uptrace/bun"
)

// Subscription is the durable record of one tenant's webhook registration.
type Subscription struct {
	bun.BaseModel `bun:"table:core.webhook_subscriptions,alias:ws"`

	ID          string   `bun:"id,pk" json:"id"`
	TenantID    string   `bun:"tenant_id,notnull" json:"tenantId"`
	URL         string   `bun:"url,notnull" json:"url"`
	Description string   `bun:"description,notnull,default:''" json:"description"`
	EventTypes  []string `bun:"event_types,array,notnull" json:"eventTypes"`

	SecretEncrypted string `bun:"secret_encrypted,notnull" json:"-"`
	Active          bool   `bun:"active,notnull,default:true" json:"active"`

	TotalDeliveries int64 `bun:"total_deliveries,notnull,default:0" json:"totalDeliveries"`
	SucceededCount  int64 `bun:"succeeded_count,notnull,default:0" json:"succeededCount"`
	FailedCount     int64 `bun:"failed_count,notnull,default:0" json:"failedCount"`

	LastTriggeredAt *time.Time `bun:"last_triggered_at" json:"lastTriggeredAt,omitempty"`
	CreatedAt       time.Time  `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt       time.Time  `bun:"updated_at,notnull" json:"updatedAt"`
}

// wants reports whether the subscription is active and registered for
// eventType.
func (s *Subscription) wants(eventType string) bool {
	if !s.Active {
		return false
	}
	for _, t := range s.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// CreateInput carries the fields a caller supplies when registering a
// subscription (§6: "create takes (url, event-type set, description)").
type CreateInput struct {
	TenantID    string
	URL         string
	Description string
	EventTypes  []string
}

// Envelope is the exact wire body of a delivery (§4.5).
type Envelope struct {
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
	ID        string `json:"id"`
}

// DeliveryOutcome classifies how one delivery attempt resolved (§4.5,
// §7). A Delivery Attempt itself is transient — not persisted as its own
// row — so this type only exists to drive the dispatcher's retry loop and
// subscription counter updates.
type DeliveryOutcome string

const (
	OutcomeDelivered     DeliveryOutcome = "delivered"
	OutcomeTransientFail DeliveryOutcome = "transient_fail"
)
