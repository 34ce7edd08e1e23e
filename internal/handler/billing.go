package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/protocollm/seat-licensing/internal/license"
	"github.com/protocollm/seat-licensing/internal/queue"
	queue_publisher "github.com/protocollm/seat-licensing/internal/service"
)

// BillingHandler receives subscription lifecycle notifications from the
// billing layer.  The billing webhook terminates the payment provider's
// protocol elsewhere; what arrives here is only the purchaser and the
// purchased seat quantity.  Requests are authenticated with a shared
// secret header instead of a user JWT.
type BillingHandler struct {
	Svc    *license.Service
	Secret string
}

// NewBillingHandler constructs a BillingHandler.
func NewBillingHandler(svc *license.Service, secret string) *BillingHandler {
	if svc == nil {
		panic("nil service passed to NewBillingHandler")
	}
	return &BillingHandler{Svc: svc, Secret: secret}
}

// Subscription event names accepted from the billing layer.
const (
	SubscriptionCreated = "created"
	SubscriptionUpdated = "updated"
	SubscriptionDeleted = "deleted"
)

type subscriptionReq struct {
	PurchaserUserID uint64 `json:"purchaser_user_id"`
	Quantity        int    `json:"quantity"`
	Event           string `json:"event"`
}

// Subscription handles POST /v1/billing/subscription.  Created and
// updated events reconcile seat inventory to the reported quantity;
// deleted events retire every seat of the purchaser.  The operation is
// idempotent, so the billing layer may retry on timeout.
func (h *BillingHandler) Subscription(c echo.Context) error {
	got := c.Request().Header.Get("X-Webhook-Secret")
	if h.Secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.Secret)) != 1 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var req subscriptionReq
	if err := c.Bind(&req); err != nil || req.PurchaserUserID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "purchaser_user_id required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	switch req.Event {
	case SubscriptionCreated, SubscriptionUpdated:
		created, err := h.Svc.EnsureSeatInventory(ctx, req.PurchaserUserID, req.Quantity)
		if err != nil {
			if errors.Is(err, license.ErrValidation) {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "quantity must be a non-negative integer"})
			}
			// Partial creation is retry-safe; tell the billing layer to
			// try again.
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "inventory reconcile failed"})
		}
		return c.JSON(http.StatusOK, echo.Map{"success": true, "seats_created": created})
	case SubscriptionDeleted:
		retired, err := h.Svc.RetireSeats(ctx, req.PurchaserUserID)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "retire failed"})
		}
		if retired > 0 {
			_ = queue_publisher.PublishLicenseEvent(ctx, queue.LicenseEvent{
				Type:        queue.EventSeatsRetired,
				PurchaserID: req.PurchaserUserID,
				Count:       retired,
				OccurredAt:  time.Now().UTC().Format(time.RFC3339),
			})
		}
		return c.JSON(http.StatusOK, echo.Map{"success": true, "seats_retired": retired})
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown event"})
	}
}
