package model

import (
	"errors"
	"time"
)

// SeatStatus enumerates the lifecycle states of a licensed seat as
// stored in the `seats.status` column.
type SeatStatus string

const (
	// SeatUnclaimed means the seat is waiting for someone to redeem its
	// invite code.  An invite code is present only in this state.
	SeatUnclaimed SeatStatus = "UNCLAIMED"
	// SeatClaimed means an end user has redeemed the invite code and the
	// seat is bound to that user's device fingerprint.
	SeatClaimed SeatStatus = "CLAIMED"
	// SeatRevoked is terminal: the purchaser's subscription was cancelled
	// and the seat was retired.  Retired seats carry no invite code and
	// can never be claimed again.  Owner-initiated revocation of a single
	// claimed seat does NOT produce this state; it returns the seat to
	// UNCLAIMED with a fresh code.
	SeatRevoked SeatStatus = "REVOKED"
)

// Seat represents one licensed usage slot under a purchaser's
// subscription, mirroring the `seats` table.  Optional columns are
// pointers; use State() to obtain a view that enforces which fields may
// be present together.
//
// Fields:
//  ID                – primary key identifier.
//  PurchaserID       – user who owns the subscription this seat belongs to.
//  Status            – lifecycle state (UNCLAIMED, CLAIMED, REVOKED).
//  InviteCode        – single-use claim token; non-nil only while UNCLAIMED.
//  ClaimerID         – user occupying the seat; non-nil only while CLAIMED.
//  DeviceFingerprint – fingerprint of the claiming device; non-nil only while CLAIMED.
//  CreatedAt         – when the seat row was created.
//  ClaimedAt         – when the seat was last claimed (nullable).
//  RevokedAt         – when the seat was last revoked or retired (nullable).
type Seat struct {
	ID                uint64     // seats.id
	PurchaserID       uint64     // seats.purchaser_user_id
	Status            SeatStatus // seats.status
	InviteCode        *string    // seats.invite_code (nullable)
	ClaimerID         *uint64    // seats.claimer_user_id (nullable)
	DeviceFingerprint *string    // seats.device_fingerprint (nullable)
	CreatedAt         time.Time  // seats.created_at
	ClaimedAt         *time.Time // seats.claimed_at (nullable)
	RevokedAt         *time.Time // seats.revoked_at (nullable)
}

// ErrCorruptSeat is returned by State when a row violates the state
// invariants, e.g. a CLAIMED seat that still carries an invite code.
var ErrCorruptSeat = errors.New("seat row violates state invariants")

// SeatState is a tagged view of a seat's dynamic fields.  Exactly one of
// Unclaimed, Claimed or Retired is produced for a well-formed row, which
// makes the "invite code xor claimer binding" invariant structural
// instead of a matter of which pointers happen to be nil.
type SeatState interface{ seatState() }

// Unclaimed holds the invite code awaiting redemption.
type Unclaimed struct {
	InviteCode string
}

// Claimed holds the binding recorded when an invite code was redeemed.
type Claimed struct {
	ClaimerID         uint64
	DeviceFingerprint string
	ClaimedAt         time.Time
}

// Retired marks a seat whose subscription was cancelled.
type Retired struct {
	RevokedAt time.Time
}

func (Unclaimed) seatState() {}
func (Claimed) seatState()   {}
func (Retired) seatState()   {}

// State projects the row into its tagged variant.  A row whose optional
// columns disagree with its status is reported as ErrCorruptSeat rather
// than silently picking a side.
func (s Seat) State() (SeatState, error) {
	switch s.Status {
	case SeatUnclaimed:
		if s.InviteCode == nil || s.ClaimerID != nil || s.DeviceFingerprint != nil {
			return nil, ErrCorruptSeat
		}
		return Unclaimed{InviteCode: *s.InviteCode}, nil
	case SeatClaimed:
		if s.InviteCode != nil || s.ClaimerID == nil || s.DeviceFingerprint == nil || s.ClaimedAt == nil {
			return nil, ErrCorruptSeat
		}
		return Claimed{
			ClaimerID:         *s.ClaimerID,
			DeviceFingerprint: *s.DeviceFingerprint,
			ClaimedAt:         *s.ClaimedAt,
		}, nil
	case SeatRevoked:
		if s.InviteCode != nil || s.ClaimerID != nil || s.DeviceFingerprint != nil || s.RevokedAt == nil {
			return nil, ErrCorruptSeat
		}
		return Retired{RevokedAt: *s.RevokedAt}, nil
	}
	return nil, ErrCorruptSeat
}
