package webhooks

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid"
	"github.com/uptrace/bun"

	"github.com/clarityinspect/ingestcore/pkg/encryption"
	"github.com/clarityinspect/ingestcore/pkg/logger"
)

// ErrNotFound is returned when a subscription id has no matching row.
var ErrNotFound = errors.New("webhooks: subscription not found")

// Store owns Subscription persistence.
type Store struct {
	db         *bun.DB
	encryption *encryption.Service
	log        *slog.Logger
}

// NewStore constructs a Store.
func NewStore(db *bun.DB, enc *encryption.Service, log *slog.Logger) *Store {
	return &Store{db: db, encryption: enc, log: log.With(logger.Scope("webhooks.store"))}
}

func newULID() string {
	ms := ulid.Timestamp(time.Now())
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ms, entropy)
	if err != nil {
		return ulid.MustNew(ms, rand.Reader).String()
	}
	return id.String()
}

// Create registers a new subscription, generating and encrypting a random
// secret. The plaintext secret is returned alongside the record; it is
// never retrievable again (§6: "the secret is returned exactly once").
func (s *Store) Create(ctx context.Context, in CreateInput) (*Subscription, string, error) {
	secret, err := generateSecret()
	if err != nil {
		return nil, "", err
	}

	encrypted, err := s.encryption.EncryptSecret(ctx, secret)
	if err != nil {
		return nil, "", err
	}

	now := time.Now()
	sub := &Subscription{
		ID:              newULID(),
		TenantID:        in.TenantID,
		URL:             in.URL,
		Description:     in.Description,
		EventTypes:      in.EventTypes,
		SecretEncrypted: encrypted,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if _, err := s.db.NewInsert().Model(sub).Exec(ctx); err != nil {
		return nil, "", err
	}
	return sub, secret, nil
}

// List returns every subscription for tenantID, most recently created first.
func (s *Store) List(ctx context.Context, tenantID string) ([]*Subscription, error) {
	var subs []*Subscription
	err := s.db.NewSelect().Model(&subs).
		Where("tenant_id = ?", tenantID).
		OrderExpr("created_at DESC").
		Scan(ctx)
	return subs, err
}

// Get fetches a single subscription by id.
func (s *Store) Get(ctx context.Context, id string) (*Subscription, error) {
	sub := new(Subscription)
	err := s.db.NewSelect().Model(sub).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sub, err
}

// Delete deactivates a subscription (§3: deletion is soft, active=false) so
// the dispatcher's ActiveForTenant query stops routing events to it while the
// row and its delivery counters remain for audit.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.NewUpdate().Model((*Subscription)(nil)).
		Set("active = false").
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Where("active = true").
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveForTenant returns every active subscription for tenantID whose
// event-type set contains eventType, the dispatcher's routing query (§4.5).
func (s *Store) ActiveForTenant(ctx context.Context, tenantID, eventType string) ([]*Subscription, error) {
	var subs []*Subscription
	err := s.db.NewSelect().Model(&subs).
		Where("tenant_id = ?", tenantID).
		Where("active = true").
		Where("? = ANY(event_types)", eventType).
		Scan(ctx)
	return subs, err
}

// RecordDelivery updates a subscription's delivery counters after a single
// HTTP delivery attempt; the dispatcher calls it once per attempt.
func (s *Store) RecordDelivery(ctx context.Context, id string, succeeded bool) error {
	q := s.db.NewUpdate().Model((*Subscription)(nil)).
		Set("total_deliveries = total_deliveries + 1").
		Set("last_triggered_at = ?", time.Now()).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id)
	if succeeded {
		q = q.Set("succeeded_count = succeeded_count + 1")
	} else {
		q = q.Set("failed_count = failed_count + 1")
	}
	_, err := q.Exec(ctx)
	return err
}

// Secret decrypts and returns a subscription's signing secret.
func (s *Store) Secret(ctx context.Context, sub *Subscription) (string, error) {
	return s.encryption.DecryptSecret(ctx, sub.SecretEncrypted)
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
