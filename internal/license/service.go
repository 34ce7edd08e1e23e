package license

import (
	"context"
	"fmt"

	"github.com/protocollm/seat-licensing/internal/model"
)

// SeatStore is the persistence contract for seat rows.  The production
// implementation lives in internal/repository and is backed by MySQL;
// tests use an in-memory store.  Implementations must make Claim and
// Release atomic conditional transitions: a plain read-then-write on
// those paths is a race and a correctness bug.
type SeatStore interface {
	// CountByPurchaser counts the purchaser's live seats, UNCLAIMED and
	// CLAIMED alike.  Retired seats are excluded so reconciliation after
	// a re-subscribe is not starved by tombstones.
	CountByPurchaser(ctx context.Context, purchaserID uint64) (int, error)
	// CreateUnclaimed inserts a new UNCLAIMED seat carrying the given
	// invite code.  Returns ErrDuplicateCode if the code collides with a
	// live one.
	CreateUnclaimed(ctx context.Context, purchaserID uint64, inviteCode string) (model.Seat, error)
	// GetByID loads a seat or returns ErrSeatNotFound.
	GetByID(ctx context.Context, seatID uint64) (model.Seat, error)
	// FindByInviteCode resolves a code against both live and spent
	// codes.  spent reports that the code was already redeemed on the
	// returned seat.  Returns ErrInviteNotFound for unknown codes.
	FindByInviteCode(ctx context.Context, code string) (seat model.Seat, spent bool, err error)
	// ListByPurchaser returns all of a purchaser's seats, most recently
	// created first.
	ListByPurchaser(ctx context.Context, purchaserID uint64) ([]model.Seat, error)
	// Claim performs the UNCLAIMED->CLAIMED transition as one atomic
	// conditional write keyed on the live invite code.  Exactly one of
	// any set of concurrent callers wins; losers receive
	// ErrAlreadyClaimed (code exists but is spent) or ErrInviteNotFound.
	Claim(ctx context.Context, inviteCode string, claimerID uint64, fingerprint string) (model.Seat, error)
	// Release performs the CLAIMED->UNCLAIMED transition, clearing the
	// binding and installing newCode.  Returns ErrSeatNotClaimed when
	// the seat was not CLAIMED at write time, ErrDuplicateCode when
	// newCode collides.
	Release(ctx context.Context, seatID uint64, newCode string) error
	// ClaimedCountByFingerprint counts active seats bound to a device.
	ClaimedCountByFingerprint(ctx context.Context, fingerprint string) (int, error)
	// RetireByPurchaser moves every non-retired seat of the purchaser to
	// REVOKED and reports how many rows changed.
	RetireByPurchaser(ctx context.Context, purchaserID uint64) (int, error)
}

// Config carries the policy knobs of the licensing service.
type Config struct {
	// DeviceLimitEnforced rejects a claim when the device fingerprint is
	// already bound to another active seat.
	DeviceLimitEnforced bool
	// CodeAttempts bounds invite-code regeneration on collision.
	CodeAttempts int
}

const defaultCodeAttempts = 5

// Service ties the seat state machine to a SeatStore.
type Service struct {
	store SeatStore
	cfg   Config
}

// NewService returns a Service over the given store.
func NewService(store SeatStore, cfg Config) *Service {
	if store == nil {
		panic("nil store passed to license.NewService")
	}
	if cfg.CodeAttempts <= 0 {
		cfg.CodeAttempts = defaultCodeAttempts
	}
	return &Service{store: store, cfg: cfg}
}

// EnsureSeatInventory reconciles the purchaser's seat rows against the
// subscription quantity reported by billing.  Missing seats are created
// one by one, each UNCLAIMED with a fresh invite code, so a failure
// mid-batch is safe to retry: the next invocation re-counts and only
// creates the remaining shortfall.  Inventory never shrinks here; a
// downgrade must not silently strand a claimed device, so shrinking is
// left to explicit revocation or retirement.  Returns the number of
// seats created.
func (s *Service) EnsureSeatInventory(ctx context.Context, purchaserID uint64, quantity int) (int, error) {
	if purchaserID == 0 || quantity < 0 {
		return 0, ErrValidation
	}
	existing, err := s.store.CountByPurchaser(ctx, purchaserID)
	if err != nil {
		return 0, fmt.Errorf("count seats: %w", err)
	}
	created := 0
	for existing+created < quantity {
		if _, err := s.createSeat(ctx, purchaserID); err != nil {
			// Partial creation is fine; the caller retries and the next
			// count picks up from here.
			return created, err
		}
		created++
	}
	return created, nil
}

// createSeat inserts one UNCLAIMED seat, regenerating the invite code
// on the (astronomically rare) collision with a live code.
func (s *Service) createSeat(ctx context.Context, purchaserID uint64) (model.Seat, error) {
	var lastErr error
	for i := 0; i < s.cfg.CodeAttempts; i++ {
		code, err := NewInviteCode()
		if err != nil {
			return model.Seat{}, err
		}
		seat, err := s.store.CreateUnclaimed(ctx, purchaserID, code)
		if err == nil {
			return seat, nil
		}
		if err != ErrDuplicateCode {
			return model.Seat{}, fmt.Errorf("create seat: %w", err)
		}
		lastErr = err
	}
	return model.Seat{}, fmt.Errorf("create seat: code space exhausted after %d attempts: %w", s.cfg.CodeAttempts, lastErr)
}

// ClaimResult confirms a successful claim to the caller.  Only the
// bound fingerprint is exposed; no other seat details leak to the
// claimer.
type ClaimResult struct {
	SeatID            uint64
	DeviceFingerprint string
}

// ClaimSeat redeems an invite code on behalf of claimerID from the
// device identified by fingerprint.  Validation is fail-fast in a fixed
// order: unknown code, spent code, device limit.  The transition itself
// is the store's atomic conditional write, so two simultaneous claims
// on one code produce exactly one winner.
func (s *Service) ClaimSeat(ctx context.Context, inviteCode string, claimerID uint64, fingerprint string) (ClaimResult, error) {
	if claimerID == 0 || fingerprint == "" {
		return ClaimResult{}, ErrValidation
	}
	code, err := NormalizeInviteCode(inviteCode)
	if err != nil {
		return ClaimResult{}, err
	}

	// Fail-fast reads before the write.  These only shape the error the
	// caller sees; correctness under races rests on the conditional
	// write below.
	seat, spent, err := s.store.FindByInviteCode(ctx, code)
	if err != nil {
		return ClaimResult{}, err
	}
	if spent || seat.Status != model.SeatUnclaimed {
		return ClaimResult{}, ErrAlreadyClaimed
	}
	if s.cfg.DeviceLimitEnforced {
		n, err := s.store.ClaimedCountByFingerprint(ctx, fingerprint)
		if err != nil {
			return ClaimResult{}, fmt.Errorf("device check: %w", err)
		}
		if n > 0 {
			return ClaimResult{}, ErrDeviceLimit
		}
	}

	claimed, err := s.store.Claim(ctx, code, claimerID, fingerprint)
	if err != nil {
		// A concurrent winner between our read and write surfaces here
		// as ErrAlreadyClaimed from the store.
		return ClaimResult{}, err
	}
	return ClaimResult{SeatID: claimed.ID, DeviceFingerprint: fingerprint}, nil
}

// RevokeResult reports the outcome of a revocation.  InviteCode is the
// code now live on the seat; Last4 is the masked display form for UI
// confirmation.  Rotated is false when the call was an idempotent no-op
// on an already-UNCLAIMED seat, in which case the existing code is
// returned untouched rather than silently invalidating a code the
// owner may have already shared.
type RevokeResult struct {
	InviteCode string
	Last4      string
	Rotated    bool
}

// RevokeSeat releases a claimed seat back to UNCLAIMED and mints a
// brand-new invite code; the redeemed code can never become valid
// again.  Only the purchasing owner may revoke.  Revoking an
// already-UNCLAIMED seat succeeds without rotating its code.
func (s *Service) RevokeSeat(ctx context.Context, seatID, requestingUserID uint64) (RevokeResult, error) {
	if seatID == 0 || requestingUserID == 0 {
		return RevokeResult{}, ErrValidation
	}
	seat, err := s.store.GetByID(ctx, seatID)
	if err != nil {
		return RevokeResult{}, err
	}
	if seat.PurchaserID != requestingUserID {
		return RevokeResult{}, ErrForbidden
	}

	switch seat.Status {
	case model.SeatRevoked:
		return RevokeResult{}, ErrSeatRetired
	case model.SeatUnclaimed:
		if seat.InviteCode == nil {
			return RevokeResult{}, model.ErrCorruptSeat
		}
		return RevokeResult{InviteCode: *seat.InviteCode, Last4: MaskInviteCode(*seat.InviteCode)}, nil
	}

	for i := 0; i < s.cfg.CodeAttempts; i++ {
		code, err := NewInviteCode()
		if err != nil {
			return RevokeResult{}, err
		}
		switch err := s.store.Release(ctx, seatID, code); err {
		case nil:
			return RevokeResult{InviteCode: code, Last4: MaskInviteCode(code), Rotated: true}, nil
		case ErrDuplicateCode:
			continue
		case ErrSeatNotClaimed:
			// Lost a race with another revoke (or a retire).  Re-read
			// and resolve idempotently.
			cur, err := s.store.GetByID(ctx, seatID)
			if err != nil {
				return RevokeResult{}, err
			}
			if cur.Status == model.SeatUnclaimed && cur.InviteCode != nil {
				return RevokeResult{InviteCode: *cur.InviteCode, Last4: MaskInviteCode(*cur.InviteCode)}, nil
			}
			return RevokeResult{}, ErrSeatRetired
		default:
			return RevokeResult{}, fmt.Errorf("release seat: %w", err)
		}
	}
	return RevokeResult{}, fmt.Errorf("release seat %d: code space exhausted", seatID)
}

// ListSeats returns the purchaser's seats, most recently created first.
// Masking for display is left to the HTTP layer, which knows who is
// looking.
func (s *Service) ListSeats(ctx context.Context, purchaserID uint64) ([]model.Seat, error) {
	if purchaserID == 0 {
		return nil, ErrValidation
	}
	return s.store.ListByPurchaser(ctx, purchaserID)
}

// RetireSeats marks every seat of the purchaser as REVOKED in response
// to a subscription cancellation.  Retired seats lose their invite
// codes and device bindings and can never be claimed again.  Returns
// the number of seats retired; calling it twice is a harmless no-op.
func (s *Service) RetireSeats(ctx context.Context, purchaserID uint64) (int, error) {
	if purchaserID == 0 {
		return 0, ErrValidation
	}
	n, err := s.store.RetireByPurchaser(ctx, purchaserID)
	if err != nil {
		return 0, fmt.Errorf("retire seats: %w", err)
	}
	return n, nil
}
