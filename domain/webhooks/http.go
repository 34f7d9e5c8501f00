package webhooks

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/clarityinspect/ingestcore/domain/events"
	"github.com/clarityinspect/ingestcore/pkg/apperror"
)

const defaultTenantID = "default"

// Handler exposes subscription CRUD and the subscription-test operation (§6).
type Handler struct {
	store *Store
	bus   *events.Service
}

// NewHandler constructs a Handler.
func NewHandler(store *Store, bus *events.Service) *Handler {
	return &Handler{store: store, bus: bus}
}

func tenantID(c echo.Context) string {
	if t := c.Request().Header.Get("X-Tenant-ID"); t != "" {
		return t
	}
	return defaultTenantID
}

type createRequest struct {
	URL         string   `json:"url"`
	Description string   `json:"description"`
	EventTypes  []string `json:"eventTypes"`
}

// Create registers a new subscription, returning the plaintext secret
// exactly once (§6).
func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithInternal(err).ToEchoError()
	}
	if req.URL == "" || len(req.EventTypes) == 0 {
		return apperror.ErrValidation.WithMessage("url and eventTypes are required").ToEchoError()
	}

	sub, secret, err := h.store.Create(c.Request().Context(), CreateInput{
		TenantID:    tenantID(c),
		URL:         req.URL,
		Description: req.Description,
		EventTypes:  req.EventTypes,
	})
	if err != nil {
		return apperror.ErrInternal.WithInternal(err).ToEchoError()
	}

	return c.JSON(http.StatusCreated, map[string]any{
		"id":          sub.ID,
		"url":         sub.URL,
		"eventTypes":  sub.EventTypes,
		"description": sub.Description,
		"secret":      secret,
	})
}

// List returns every subscription for the caller's tenant.
func (h *Handler) List(c echo.Context) error {
	subs, err := h.store.List(c.Request().Context(), tenantID(c))
	if err != nil {
		return apperror.ErrInternal.WithInternal(err).ToEchoError()
	}
	return c.JSON(http.StatusOK, map[string]any{"subscriptions": subs})
}

// Delete removes a subscription.
func (h *Handler) Delete(c echo.Context) error {
	if err := h.store.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return apperror.ErrSubscriptionNotFound.ToEchoError()
	}
	return c.NoContent(http.StatusNoContent)
}

// Test publishes a synthetic `test` event scoped to the subscription's own
// tenant, exercising the full dispatcher path (signing, delivery, counters)
// (§6: "test" event type). The event is delivered to every active
// subscription of that tenant whose event-type set includes "test", not only
// to the subscription named in the request.
func (h *Handler) Test(c echo.Context) error {
	sub, err := h.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperror.ErrSubscriptionNotFound.ToEchoError()
	}

	h.bus.EmitUpdated(events.EntityWebhookDelivery, sub.ID, sub.TenantID, &events.EmitOptions{
		Data: map[string]any{
			"event":          "test",
			"subscriptionId": sub.ID,
			"firedAt":        time.Now().UTC().Format(time.RFC3339),
		},
	})
	return c.JSON(http.StatusAccepted, map[string]any{"status": "queued"})
}
