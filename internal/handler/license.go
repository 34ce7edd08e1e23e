package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/protocollm/seat-licensing/internal/license"
	"github.com/protocollm/seat-licensing/internal/model"
	"github.com/protocollm/seat-licensing/internal/queue"
	queue_publisher "github.com/protocollm/seat-licensing/internal/service"
)

// LicenseHandler exposes the seat-licensing endpoints: invite claim for
// members, seat listing and revocation for purchasers.  JWT auth and
// role checks are applied by middleware; handlers translate the core's
// sentinel errors into HTTP responses and never let them escape as 500s
// unless they are genuine persistence failures.
type LicenseHandler struct {
	Svc *license.Service
}

// NewLicenseHandler constructs a LicenseHandler.
func NewLicenseHandler(svc *license.Service) *LicenseHandler {
	if svc == nil {
		panic("nil service passed to NewLicenseHandler")
	}
	return &LicenseHandler{Svc: svc}
}

type claimReq struct {
	InviteCode string `json:"invite_code"`
}

// seatView is the masked listing projection returned to the purchaser.
// Invite codes are shown in full because the owner must be able to
// share them; device fingerprints are masked to their tail.
type seatView struct {
	ID                uint64  `json:"id"`
	Status            string  `json:"status"`
	InviteCode        *string `json:"invite_code,omitempty"`
	ClaimerID         *uint64 `json:"claimer_user_id,omitempty"`
	DeviceFingerprint *string `json:"device_fingerprint,omitempty"`
	CreatedAt         string  `json:"created_at"`
	ClaimedAt         *string `json:"claimed_at,omitempty"`
	RevokedAt         *string `json:"revoked_at,omitempty"`
}

// ClaimInvite handles POST /v1/invites/claim.  The device fingerprint
// is derived server-side from the request's client IP and User-Agent;
// clients cannot supply their own.
func (h *LicenseHandler) ClaimInvite(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req claimReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	fingerprint := license.Fingerprint(c.RealIP(), c.Request().UserAgent())

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	res, err := h.Svc.ClaimSeat(ctx, req.InviteCode, userID, fingerprint)
	switch {
	case err == nil:
	case errors.Is(err, license.ErrValidation):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invite_code required"})
	case errors.Is(err, license.ErrInviteNotFound):
		// Unknown and long-dead codes look identical on purpose.
		return c.JSON(http.StatusNotFound, echo.Map{"error": "invalid invite code"})
	case errors.Is(err, license.ErrAlreadyClaimed):
		return c.JSON(http.StatusConflict, echo.Map{"error": "invite_already_used"})
	case errors.Is(err, license.ErrDeviceLimit):
		return c.JSON(http.StatusConflict, echo.Map{"error": "device_limit_exceeded"})
	case errors.Is(err, license.ErrSeatRetired):
		// The seat was retired underneath the claim (subscription
		// cancelled mid-flight).
		return c.JSON(http.StatusConflict, echo.Map{"error": "seat_retired"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "claim failed"})
	}

	// Best effort: a broker outage must not fail the claim.
	_ = queue_publisher.PublishLicenseEvent(ctx, queue.LicenseEvent{
		Type:              queue.EventSeatClaimed,
		SeatID:            res.SeatID,
		ClaimerID:         userID,
		FingerprintMasked: license.MaskFingerprint(res.DeviceFingerprint),
		OccurredAt:        time.Now().UTC().Format(time.RFC3339),
	})

	return c.JSON(http.StatusOK, echo.Map{
		"success":            true,
		"device_fingerprint": res.DeviceFingerprint,
	})
}

// ListSeats handles GET /v1/invites/list for the purchasing owner.
func (h *LicenseHandler) ListSeats(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	seats, err := h.Svc.ListSeats(ctx, userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "list failed"})
	}

	views := make([]seatView, 0, len(seats))
	for _, s := range seats {
		v := seatView{
			ID:        s.ID,
			Status:    string(s.Status),
			CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339),
		}
		state, err := s.State()
		if err != nil {
			// Hide the corrupt row's dynamic fields rather than guessing.
			log.Printf("[LICENSE] seat %d fails state projection: %v", s.ID, err)
			views = append(views, v)
			continue
		}
		switch st := state.(type) {
		case model.Unclaimed:
			code := st.InviteCode
			v.InviteCode = &code
		case model.Claimed:
			claimer := st.ClaimerID
			masked := license.MaskFingerprint(st.DeviceFingerprint)
			at := st.ClaimedAt.UTC().Format(time.RFC3339)
			v.ClaimerID = &claimer
			v.DeviceFingerprint = &masked
			v.ClaimedAt = &at
		case model.Retired:
			at := st.RevokedAt.UTC().Format(time.RFC3339)
			v.RevokedAt = &at
		}
		views = append(views, v)
	}
	return c.JSON(http.StatusOK, echo.Map{"seats": views})
}

type revokeReq struct {
	SeatID uint64 `json:"seat_id"`
}

// RevokeSeat handles POST /v1/invites/revoke.  Only the purchasing
// owner may revoke; the response carries the replacement invite code in
// full once, plus a masked form for UI confirmation.
func (h *LicenseHandler) RevokeSeat(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req revokeReq
	if err := c.Bind(&req); err != nil || req.SeatID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "seat_id required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	res, err := h.Svc.RevokeSeat(ctx, req.SeatID, userID)
	switch {
	case err == nil:
	case errors.Is(err, license.ErrValidation):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "seat_id required"})
	case errors.Is(err, license.ErrSeatNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "seat not found"})
	case errors.Is(err, license.ErrForbidden):
		// Generic authorization failure; nothing about the seat leaks.
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, license.ErrSeatRetired):
		return c.JSON(http.StatusConflict, echo.Map{"error": "seat_retired"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "revoke failed"})
	}

	if res.Rotated {
		_ = queue_publisher.PublishLicenseEvent(ctx, queue.LicenseEvent{
			Type:        queue.EventSeatRevoked,
			SeatID:      req.SeatID,
			PurchaserID: userID,
			OccurredAt:  time.Now().UTC().Format(time.RFC3339),
		})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success":           true,
		"invite_code":       res.InviteCode,
		"invite_code_last4": res.Last4,
	})
}
