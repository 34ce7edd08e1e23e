package handler

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/protocollm/seat-licensing/internal/license"
	"github.com/protocollm/seat-licensing/internal/model"
)

func postClaim(h *LicenseHandler, userID uint64, body string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/invites/claim", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("User-Agent", "Mozilla/5.0")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("user_id", userID)
	_ = h.ClaimInvite(c)
	return rec
}

func TestClaimInvite_retiredMidFlight(t *testing.T) {
	store := newStubSeatStore()
	code := "ax7k-Rm2f-9pQd"
	store.seats[7] = []model.Seat{
		{ID: 1, PurchaserID: 7, Status: model.SeatUnclaimed, InviteCode: &code, CreatedAt: time.Now().UTC()},
	}
	// The conditional claim write lands, but the subscription is
	// cancelled before the read-back.  That is a conflict, not a
	// persistence failure.
	store.claimErr = license.ErrSeatRetired
	h := NewLicenseHandler(license.NewService(store, license.Config{}))

	rec := postClaim(h, 42, `{"invite_code":"`+code+`"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409; body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "seat_retired") {
		t.Errorf("body = %s, want seat_retired", rec.Body.String())
	}
}

func getSeatList(h *LicenseHandler, userID uint64) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/invites/list", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("user_id", userID)
	_ = h.ListSeats(c)
	return rec
}

func TestListSeats_corruptRowHidden(t *testing.T) {
	store := newStubSeatStore()
	code := "ax7k-Rm2f-9pQd"
	// A CLAIMED row with no claimer violates the state invariants; the
	// listing must log it and hide its dynamic fields instead of
	// serving half a binding.
	store.seats[7] = []model.Seat{
		{ID: 1, PurchaserID: 7, Status: model.SeatUnclaimed, InviteCode: &code, CreatedAt: time.Now().UTC()},
		{ID: 2, PurchaserID: 7, Status: model.SeatClaimed, CreatedAt: time.Now().UTC()},
	}
	h := NewLicenseHandler(license.NewService(store, license.Config{}))

	var logged bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&logged)
	defer log.SetOutput(prev)

	rec := getSeatList(h, 7)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Seats []struct {
			ID         uint64  `json:"id"`
			Status     string  `json:"status"`
			InviteCode *string `json:"invite_code"`
			ClaimerID  *uint64 `json:"claimer_user_id"`
		} `json:"seats"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Seats) != 2 {
		t.Fatalf("got %d seats, want 2 (corrupt rows stay listed)", len(body.Seats))
	}
	for _, s := range body.Seats {
		if s.ID == 2 {
			if s.InviteCode != nil || s.ClaimerID != nil {
				t.Errorf("corrupt seat leaked dynamic fields: %+v", s)
			}
			if s.Status != string(model.SeatClaimed) {
				t.Errorf("corrupt seat status = %q, want raw %q", s.Status, model.SeatClaimed)
			}
		}
	}
	if !strings.Contains(logged.String(), "seat 2") {
		t.Errorf("corrupt row not logged; log output: %q", logged.String())
	}
}
