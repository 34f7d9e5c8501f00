package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/clarityinspect/ingestcore/domain/events"
	"github.com/clarityinspect/ingestcore/internal/config"
	"github.com/clarityinspect/ingestcore/pkg/logger"
	"github.com/clarityinspect/ingestcore/pkg/metrics"
)

// fixedSchedule is a cenkalti/backoff.BackOff that walks a fixed list of
// delays rather than growing exponentially, matching §4.5's literal retry
// schedule (1s, 5s, 15s, 60s, 300s).
type fixedSchedule struct {
	delays []time.Duration
	idx    int
}

func newFixedSchedule(delays []time.Duration) *fixedSchedule {
	return &fixedSchedule{delays: delays}
}

func (f *fixedSchedule) NextBackOff() time.Duration {
	if f.idx >= len(f.delays) {
		return backoff.Stop
	}
	d := f.delays[f.idx]
	f.idx++
	return d
}

func (f *fixedSchedule) Reset() { f.idx = 0 }

// limiterSet lazily creates one golang.org/x/time/rate.Limiter per
// subscription id, grounded structurally on the teacher's WebhookRateLimiter
// (domain/agents/ratelimit.go) map+mutex pattern.
type limiterSet struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

func newLimiterSet(rps float64, burst int) *limiterSet {
	return &limiterSet{limiters: make(map[string]*rate.Limiter), rps: rps, burst: burst}
}

func (s *limiterSet) get(subscriptionID string) *rate.Limiter {
	s.mu.RLock()
	l, ok := s.limiters[subscriptionID]
	s.mu.RUnlock()
	if ok {
		return l
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.limiters[subscriptionID]; ok {
		return l
	}
	l = rate.NewLimiter(rate.Limit(s.rps), s.burst)
	s.limiters[subscriptionID] = l
	return l
}

// Dispatcher is the Webhook Dispatcher (C5): it subscribes to every tenant's
// events on the bus and, for each, enqueues one independent delivery per
// matching active subscription, bounded to cfg.DispatchConcurrency
// in-flight deliveries at a time.
type Dispatcher struct {
	store    *Store
	cfg      config.WebhookConfig
	client   *http.Client
	log      *slog.Logger
	limiters *limiterSet

	sem chan struct{}
	wg  sync.WaitGroup
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(store *Store, cfg *config.Config, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store: store,
		cfg:   cfg.Webhook,
		client: &http.Client{
			Timeout: cfg.Webhook.RequestTimeout,
		},
		log:      log.With(logger.Scope("webhooks.dispatcher")),
		limiters: newLimiterSet(cfg.Webhook.PerSubscriptionRPS, cfg.Webhook.PerSubscriptionBurst),
		sem:      make(chan struct{}, cfg.Webhook.DispatchConcurrency),
	}
}

// Start subscribes the dispatcher to the event bus. The returned func stops
// the subscription; Stop should be called before the process exits to let
// in-flight deliveries drain.
func (d *Dispatcher) Start(bus *events.Service) func() {
	return bus.SubscribeAll(func(evt events.EntityEvent) {
		eventType, _ := evt.Data["event"].(string)
		if eventType == "" {
			eventType = string(evt.Type)
		}
		d.route(context.Background(), evt.ProjectID, eventType, evt)
	})
}

// Stop waits for in-flight deliveries to finish or ctx to expire.
func (d *Dispatcher) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// route fans an event out to every active subscription of tenant that
// wants eventType, each as its own independent, bounded-concurrency
// delivery.
func (d *Dispatcher) route(ctx context.Context, tenant, eventType string, evt events.EntityEvent) {
	subs, err := d.store.ActiveForTenant(ctx, tenant, eventType)
	if err != nil {
		d.log.Error("failed to look up subscriptions", logger.Error(err))
		return
	}

	body, deliveryID, err := buildEnvelope(eventType, evt.Data)
	if err != nil {
		d.log.Error("failed to build delivery envelope", logger.Error(err))
		return
	}

	for _, sub := range subs {
		sub := sub
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.sem <- struct{}{}
			defer func() { <-d.sem }()
			d.deliver(ctx, sub, eventType, deliveryID, body)
		}()
	}
}

func buildEnvelope(eventType string, data any) ([]byte, string, error) {
	id := newULID()
	env := Envelope{
		Event:     eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
		ID:        id,
	}
	body, err := json.Marshal(env)
	return body, id, err
}

// deliver runs the fixed-schedule retry loop for one subscription (§4.5):
// up to MaxAttempts attempts, each throttled by the subscription's own
// token bucket, with no attempt ever classified permanent_fail.
func (d *Dispatcher) deliver(ctx context.Context, sub *Subscription, eventType, deliveryID string, body []byte) {
	secret, err := d.store.Secret(ctx, sub)
	if err != nil {
		d.log.Error("failed to decrypt subscription secret", logger.Error(err), slog.String("subscription", sub.ID))
		return
	}

	limiter := d.limiters.get(sub.ID)
	schedule := newFixedSchedule(d.cfg.RetryDelays())
	attempt := 0

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if err := limiter.Wait(ctx); err != nil {
			return struct{}{}, err
		}

		outcome, attemptErr := d.attempt(ctx, sub, eventType, deliveryID, attempt, secret, body)
		// Counters are recorded per attempt (§6 S5: two transient failures
		// then a success on one delivery must show succeeded=1, failed=2),
		// not once per delivery sequence.
		if rerr := d.store.RecordDelivery(ctx, sub.ID, outcome == OutcomeDelivered); rerr != nil {
			d.log.Error("failed to record delivery attempt", logger.Error(rerr))
		}
		if outcome == OutcomeDelivered {
			return struct{}{}, nil
		}
		return struct{}{}, fmt.Errorf("delivery %s attempt %d: %w", deliveryID, attempt, attemptErr)
	}, backoff.WithBackOff(schedule), backoff.WithMaxTries(uint(d.cfg.MaxAttempts)))

	succeeded := err == nil
	metrics.WebhookDeliveryAttempts.Observe(float64(attempt))
	if succeeded {
		metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
	} else {
		metrics.WebhookDeliveries.WithLabelValues("exhausted").Inc()
		d.log.Warn("webhook delivery exhausted retry schedule",
			slog.String("subscription", sub.ID), slog.String("delivery", deliveryID), slog.Int("attempts", attempt))
	}
}

// attempt performs one HTTP POST delivery attempt and classifies the result
// per §4.5: 2xx is delivered, anything else (including transport errors and
// timeouts) is transient_fail.
func (d *Dispatcher) attempt(ctx context.Context, sub *Subscription, eventType, deliveryID string, attemptNum int, secret string, body []byte) (DeliveryOutcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return OutcomeTransientFail, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ingestcore-webhooks/1.0")
	req.Header.Set("X-Webhook-Event", eventType)
	req.Header.Set("X-Webhook-Delivery", deliveryID)
	req.Header.Set("X-Webhook-Attempt", fmt.Sprintf("%d", attemptNum))
	req.Header.Set("X-Webhook-Signature", sign(secret, body))

	resp, err := d.client.Do(req)
	if err != nil {
		return OutcomeTransientFail, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return OutcomeDelivered, nil
	}
	return OutcomeTransientFail, fmt.Errorf("unexpected status %d", resp.StatusCode)
}
