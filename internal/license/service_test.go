package license

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/protocollm/seat-licensing/internal/model"
)

func newTestService(t *testing.T, cfg Config) (*Service, *memStore) {
	t.Helper()
	store := newMemStore()
	return NewService(store, cfg), store
}

func mustEnsure(t *testing.T, svc *Service, purchaser uint64, qty int) {
	t.Helper()
	if _, err := svc.EnsureSeatInventory(context.Background(), purchaser, qty); err != nil {
		t.Fatalf("EnsureSeatInventory(%d, %d): %v", purchaser, qty, err)
	}
}

func TestEnsureSeatInventory_growsToQuantity(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	ctx := context.Background()

	created, err := svc.EnsureSeatInventory(ctx, 1, 2)
	if err != nil {
		t.Fatalf("EnsureSeatInventory: %v", err)
	}
	if created != 2 {
		t.Errorf("created = %d, want 2", created)
	}

	before, err := svc.ListSeats(ctx, 1)
	if err != nil {
		t.Fatalf("ListSeats: %v", err)
	}

	// Growing to 5 keeps the original seats untouched.
	created, err = svc.EnsureSeatInventory(ctx, 1, 5)
	if err != nil {
		t.Fatalf("EnsureSeatInventory: %v", err)
	}
	if created != 3 {
		t.Errorf("created = %d, want 3", created)
	}
	after, err := svc.ListSeats(ctx, 1)
	if err != nil {
		t.Fatalf("ListSeats: %v", err)
	}
	if len(after) != 5 {
		t.Fatalf("seat count = %d, want 5", len(after))
	}
	for _, orig := range before {
		found := false
		for _, s := range after {
			if s.ID == orig.ID {
				found = true
				if *s.InviteCode != *orig.InviteCode {
					t.Errorf("seat %d invite code changed on grow", s.ID)
				}
			}
		}
		if !found {
			t.Errorf("seat %d disappeared on grow", orig.ID)
		}
	}
}

func TestEnsureSeatInventory_neverShrinks(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	ctx := context.Background()
	mustEnsure(t, svc, 1, 5)

	// A downgrade reports a lower quantity; nothing is removed.
	created, err := svc.EnsureSeatInventory(ctx, 1, 2)
	if err != nil {
		t.Fatalf("EnsureSeatInventory: %v", err)
	}
	if created != 0 {
		t.Errorf("created = %d, want 0", created)
	}
	seats, _ := svc.ListSeats(ctx, 1)
	if len(seats) != 5 {
		t.Errorf("seat count = %d after downgrade, want 5", len(seats))
	}
}

func TestEnsureSeatInventory_zeroAndInvalid(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	ctx := context.Background()

	if created, err := svc.EnsureSeatInventory(ctx, 1, 0); err != nil || created != 0 {
		t.Errorf("quantity 0 should be a no-op, got (%d, %v)", created, err)
	}
	mustEnsure(t, svc, 1, 3)
	if created, err := svc.EnsureSeatInventory(ctx, 1, 0); err != nil || created != 0 {
		t.Errorf("quantity 0 with existing seats should be a no-op, got (%d, %v)", created, err)
	}

	if _, err := svc.EnsureSeatInventory(ctx, 1, -1); !errors.Is(err, ErrValidation) {
		t.Errorf("negative quantity should be ErrValidation, got %v", err)
	}
	if _, err := svc.EnsureSeatInventory(ctx, 0, 1); !errors.Is(err, ErrValidation) {
		t.Errorf("zero purchaser should be ErrValidation, got %v", err)
	}
}

func TestEnsureSeatInventory_idempotentRetry(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	ctx := context.Background()
	mustEnsure(t, svc, 1, 3)

	// A retry after a supposed mid-batch failure only tops up.
	for i := 0; i < 3; i++ {
		if _, err := svc.EnsureSeatInventory(ctx, 1, 3); err != nil {
			t.Fatalf("retry %d: %v", i, err)
		}
	}
	seats, _ := svc.ListSeats(ctx, 1)
	if len(seats) != 3 {
		t.Errorf("seat count = %d after retries, want 3", len(seats))
	}
}

func TestClaimSeat_basicFlow(t *testing.T) {
	svc, _ := newTestService(t, Config{DeviceLimitEnforced: true})
	ctx := context.Background()
	mustEnsure(t, svc, 1, 1)
	seats, _ := svc.ListSeats(ctx, 1)
	code := *seats[0].InviteCode

	fp := Fingerprint("203.0.113.7", "Mozilla/5.0")
	res, err := svc.ClaimSeat(ctx, code, 42, fp)
	if err != nil {
		t.Fatalf("ClaimSeat: %v", err)
	}
	if res.DeviceFingerprint != fp {
		t.Errorf("claim should return the bound fingerprint")
	}

	seats, _ = svc.ListSeats(ctx, 1)
	state, err := seats[0].State()
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	claimed, ok := state.(model.Claimed)
	if !ok {
		t.Fatalf("seat state = %T, want model.Claimed", state)
	}
	if claimed.ClaimerID != 42 || claimed.DeviceFingerprint != fp {
		t.Errorf("claimed binding wrong: %+v", claimed)
	}

	// The code is single use: replaying it reports AlreadyClaimed, not
	// success and not an enumeration-friendly not-found.
	if _, err := svc.ClaimSeat(ctx, code, 43, Fingerprint("198.51.100.2", "curl/8.0")); !errors.Is(err, ErrAlreadyClaimed) {
		t.Errorf("replayed code should be ErrAlreadyClaimed, got %v", err)
	}
}

func TestClaimSeat_validationAndUnknownCode(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	ctx := context.Background()
	fp := Fingerprint("203.0.113.7", "Mozilla/5.0")

	if _, err := svc.ClaimSeat(ctx, "", 42, fp); !errors.Is(err, ErrValidation) {
		t.Errorf("empty code should be ErrValidation, got %v", err)
	}
	if _, err := svc.ClaimSeat(ctx, "not a code!!", 42, fp); !errors.Is(err, ErrValidation) {
		t.Errorf("malformed code should be ErrValidation, got %v", err)
	}
	// Well-formed but unknown.
	if _, err := svc.ClaimSeat(ctx, "aaaa-bbbb-cccc", 42, fp); !errors.Is(err, ErrInviteNotFound) {
		t.Errorf("unknown code should be ErrInviteNotFound, got %v", err)
	}
	if _, err := svc.ClaimSeat(ctx, "aaaa-bbbb-cccc", 0, fp); !errors.Is(err, ErrValidation) {
		t.Errorf("zero claimer should be ErrValidation, got %v", err)
	}
}

func TestClaimSeat_deviceLimit(t *testing.T) {
	svc, _ := newTestService(t, Config{DeviceLimitEnforced: true})
	ctx := context.Background()
	mustEnsure(t, svc, 1, 2)
	seats, _ := svc.ListSeats(ctx, 1)
	fp := Fingerprint("203.0.113.7", "Mozilla/5.0")

	if _, err := svc.ClaimSeat(ctx, *seats[0].InviteCode, 42, fp); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	// Same device, second seat: rejected while the policy is on.
	if _, err := svc.ClaimSeat(ctx, *seats[1].InviteCode, 43, fp); !errors.Is(err, ErrDeviceLimit) {
		t.Errorf("second claim from same device should be ErrDeviceLimit, got %v", err)
	}

	// With the policy off the same sequence succeeds.
	svc2, _ := newTestService(t, Config{DeviceLimitEnforced: false})
	mustEnsure(t, svc2, 1, 2)
	seats2, _ := svc2.ListSeats(ctx, 1)
	if _, err := svc2.ClaimSeat(ctx, *seats2[0].InviteCode, 42, fp); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, err := svc2.ClaimSeat(ctx, *seats2[1].InviteCode, 43, fp); err != nil {
		t.Errorf("policy off: second claim should succeed, got %v", err)
	}
}

func TestClaimSeat_concurrentSingleWinner(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	ctx := context.Background()
	mustEnsure(t, svc, 1, 1)
	seats, _ := svc.ListSeats(ctx, 1)
	code := *seats[0].InviteCode

	const claimers = 32
	var wg sync.WaitGroup
	errs := make([]error, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.ClaimSeat(ctx, code, uint64(i+1), Fingerprint("203.0.113.7", string(rune('a'+i))))
			errs[i] = err
		}(i)
	}
	wg.Wait()

	wins := 0
	for i, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadyClaimed):
		default:
			t.Errorf("claimer %d: unexpected error %v", i, err)
		}
	}
	if wins != 1 {
		t.Errorf("exactly one concurrent claim must win, got %d", wins)
	}
}

func TestRevokeSeat_roundTrip(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	ctx := context.Background()
	mustEnsure(t, svc, 1, 1)
	seats, _ := svc.ListSeats(ctx, 1)
	seatID := seats[0].ID
	oldCode := *seats[0].InviteCode

	fp := Fingerprint("203.0.113.7", "Mozilla/5.0")
	if _, err := svc.ClaimSeat(ctx, oldCode, 42, fp); err != nil {
		t.Fatalf("claim: %v", err)
	}

	res, err := svc.RevokeSeat(ctx, seatID, 1)
	if err != nil {
		t.Fatalf("RevokeSeat: %v", err)
	}
	if !res.Rotated {
		t.Error("revoking a claimed seat should rotate the code")
	}
	if res.InviteCode == oldCode {
		t.Error("replacement code must differ from the redeemed one")
	}
	if res.Last4 != MaskInviteCode(res.InviteCode) {
		t.Errorf("Last4 = %q, want mask of %q", res.Last4, res.InviteCode)
	}

	// The pre-revocation code is dead forever.
	if _, err := svc.ClaimSeat(ctx, oldCode, 43, Fingerprint("198.51.100.2", "curl/8.0")); err == nil {
		t.Error("old code must never claim again")
	} else if !errors.Is(err, ErrAlreadyClaimed) && !errors.Is(err, ErrInviteNotFound) {
		t.Errorf("old code: got %v", err)
	}

	// The new code claims normally.
	if _, err := svc.ClaimSeat(ctx, res.InviteCode, 44, Fingerprint("198.51.100.3", "curl/8.0")); err != nil {
		t.Errorf("new code should claim: %v", err)
	}
}

func TestRevokeSeat_idempotentOnUnclaimed(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	ctx := context.Background()
	mustEnsure(t, svc, 1, 1)
	seats, _ := svc.ListSeats(ctx, 1)
	seatID := seats[0].ID

	first, err := svc.RevokeSeat(ctx, seatID, 1)
	if err != nil {
		t.Fatalf("revoke on unclaimed: %v", err)
	}
	second, err := svc.RevokeSeat(ctx, seatID, 1)
	if err != nil {
		t.Fatalf("second revoke on unclaimed: %v", err)
	}
	if first.Rotated || second.Rotated {
		t.Error("no-op revokes must not rotate the code")
	}
	if first.InviteCode != second.InviteCode {
		t.Error("no-op revokes must return the same code both times")
	}
	if first.InviteCode != *seats[0].InviteCode {
		t.Error("no-op revoke must keep the code the owner may have shared")
	}
}

func TestRevokeSeat_authorization(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	ctx := context.Background()
	mustEnsure(t, svc, 1, 1)
	seats, _ := svc.ListSeats(ctx, 1)

	if _, err := svc.RevokeSeat(ctx, seats[0].ID, 999); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-owner revoke should be ErrForbidden, got %v", err)
	}
	if _, err := svc.RevokeSeat(ctx, 12345, 1); !errors.Is(err, ErrSeatNotFound) {
		t.Errorf("unknown seat should be ErrSeatNotFound, got %v", err)
	}
	if _, err := svc.RevokeSeat(ctx, 0, 1); !errors.Is(err, ErrValidation) {
		t.Errorf("zero seat id should be ErrValidation, got %v", err)
	}
}

func TestRetireSeats(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	ctx := context.Background()
	mustEnsure(t, svc, 1, 3)
	seats, _ := svc.ListSeats(ctx, 1)
	code := *seats[0].InviteCode
	if _, err := svc.ClaimSeat(ctx, code, 42, Fingerprint("203.0.113.7", "Mozilla/5.0")); err != nil {
		t.Fatalf("claim: %v", err)
	}

	n, err := svc.RetireSeats(ctx, 1)
	if err != nil {
		t.Fatalf("RetireSeats: %v", err)
	}
	if n != 3 {
		t.Errorf("retired = %d, want 3", n)
	}

	// Retirement is terminal: codes are dead, revocation refuses, a
	// second retire is a no-op.
	seats, _ = svc.ListSeats(ctx, 1)
	for _, s := range seats {
		if s.Status != model.SeatRevoked {
			t.Errorf("seat %d status = %s, want REVOKED", s.ID, s.Status)
		}
		if _, err := s.State(); err != nil {
			t.Errorf("seat %d retired state invalid: %v", s.ID, err)
		}
	}
	if _, err := svc.ClaimSeat(ctx, code, 43, Fingerprint("198.51.100.2", "x")); err == nil {
		t.Error("claims against retired seats must fail")
	}
	if _, err := svc.RevokeSeat(ctx, seats[0].ID, 1); !errors.Is(err, ErrSeatRetired) {
		t.Errorf("revoking a retired seat should be ErrSeatRetired, got %v", err)
	}
	if n, err := svc.RetireSeats(ctx, 1); err != nil || n != 0 {
		t.Errorf("second retire should be a no-op, got (%d, %v)", n, err)
	}
}

func TestRetireSeats_thenResubscribe(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	ctx := context.Background()
	mustEnsure(t, svc, 1, 3)
	if _, err := svc.RetireSeats(ctx, 1); err != nil {
		t.Fatalf("RetireSeats: %v", err)
	}

	// Tombstones must not count against the new subscription: the
	// purchaser paid for 3 seats again and gets 3 claimable ones.
	created, err := svc.EnsureSeatInventory(ctx, 1, 3)
	if err != nil {
		t.Fatalf("EnsureSeatInventory after retire: %v", err)
	}
	if created != 3 {
		t.Fatalf("created = %d after re-subscribe, want 3", created)
	}

	seats, _ := svc.ListSeats(ctx, 1)
	unclaimed := 0
	for _, s := range seats {
		if s.Status == model.SeatUnclaimed {
			unclaimed++
		}
	}
	if unclaimed != 3 {
		t.Errorf("unclaimed = %d after re-subscribe, want 3 (retired rows stay terminal)", unclaimed)
	}
	if len(seats) != 6 {
		t.Errorf("total rows = %d, want 6 (3 retired + 3 fresh)", len(seats))
	}

	// And the fresh codes actually work.
	var code string
	for _, s := range seats {
		if s.InviteCode != nil {
			code = *s.InviteCode
			break
		}
	}
	if _, err := svc.ClaimSeat(ctx, code, 42, Fingerprint("203.0.113.7", "Mozilla/5.0")); err != nil {
		t.Errorf("claim on re-subscribed seat: %v", err)
	}
}

func TestListSeats_orderAndScenario(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	ctx := context.Background()

	// Purchaser buys 3 seats: A, B, C all UNCLAIMED with distinct codes.
	mustEnsure(t, svc, 7, 3)
	seats, err := svc.ListSeats(ctx, 7)
	if err != nil {
		t.Fatalf("ListSeats: %v", err)
	}
	if len(seats) != 3 {
		t.Fatalf("seat count = %d, want 3", len(seats))
	}
	for i := 1; i < len(seats); i++ {
		if seats[i-1].ID < seats[i].ID {
			t.Errorf("listing must be newest first: %d before %d", seats[i-1].ID, seats[i].ID)
		}
	}
	codes := map[string]bool{}
	for _, s := range seats {
		if s.Status != model.SeatUnclaimed {
			t.Errorf("fresh seat %d status = %s", s.ID, s.Status)
		}
		codes[*s.InviteCode] = true
	}
	if len(codes) != 3 {
		t.Errorf("invite codes must be distinct, got %d unique", len(codes))
	}

	// Claim seat A; B and C stay unclaimed.
	seatA := seats[len(seats)-1]
	origCode := *seatA.InviteCode
	if _, err := svc.ClaimSeat(ctx, origCode, 42, Fingerprint("203.0.113.7", "Mozilla/5.0")); err != nil {
		t.Fatalf("claim: %v", err)
	}
	seats, _ = svc.ListSeats(ctx, 7)
	unclaimed := 0
	for _, s := range seats {
		if s.ID == seatA.ID {
			if s.Status != model.SeatClaimed || s.ClaimerID == nil || *s.ClaimerID != 42 {
				t.Errorf("seat A should be CLAIMED by 42: %+v", s)
			}
		} else if s.Status == model.SeatUnclaimed {
			unclaimed++
		}
	}
	if unclaimed != 2 {
		t.Errorf("two seats should remain UNCLAIMED, got %d", unclaimed)
	}

	// Owner revokes A: back to UNCLAIMED with a brand-new code.
	res, err := svc.RevokeSeat(ctx, seatA.ID, 7)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if res.InviteCode == origCode {
		t.Error("revocation must mint a new code")
	}
	seats, _ = svc.ListSeats(ctx, 7)
	for _, s := range seats {
		if s.ID == seatA.ID {
			if s.Status != model.SeatUnclaimed || s.InviteCode == nil || *s.InviteCode == origCode {
				t.Errorf("seat A after revoke: %+v", s)
			}
		}
	}

	// Other purchasers see nothing of purchaser 7's seats.
	other, _ := svc.ListSeats(ctx, 8)
	if len(other) != 0 {
		t.Errorf("purchaser 8 should have no seats, got %d", len(other))
	}
}
