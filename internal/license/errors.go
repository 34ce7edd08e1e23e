// Package license implements the seat-licensing state machine: seat
// inventory reconciliation from billing quantity, invite-code issue,
// claim, revocation, retirement and listing.  All shared state lives in
// a SeatStore; the package itself keeps no mutable state so it can run
// across many stateless instances.
package license

import "errors"

// Sentinel errors form the error taxonomy of the licensing core.
// Handlers translate each into an HTTP status; nothing here is ever
// treated as fatal to the process.
var (
	// ErrValidation covers missing or malformed input (invite code,
	// seat id, quantity).  Surfaced verbatim as a 400.
	ErrValidation = errors.New("invalid input")

	// ErrInviteNotFound is returned for any code that does not map to a
	// claimable seat.  Deliberately indistinguishable between "never
	// existed" and "retired long ago" so codes cannot be enumerated.
	ErrInviteNotFound = errors.New("invalid invite code")

	// ErrAlreadyClaimed is returned when the presented code exists but
	// was already redeemed.  Distinguishable from ErrInviteNotFound
	// because the caller already possesses the code.
	ErrAlreadyClaimed = errors.New("invite code already used")

	// ErrDeviceLimit is returned when the claiming device is already
	// bound to another active seat.
	ErrDeviceLimit = errors.New("device already occupies a seat")

	// ErrForbidden is returned when a user attempts to manage a seat
	// they do not own.  No seat details are leaked alongside it.
	ErrForbidden = errors.New("forbidden")

	// ErrSeatNotFound is returned when a seat id does not exist.
	ErrSeatNotFound = errors.New("seat not found")

	// ErrSeatRetired is returned when an operation targets a seat whose
	// subscription has been cancelled.
	ErrSeatRetired = errors.New("seat retired")

	// ErrSeatNotClaimed is returned by stores when a conditional
	// CLAIMED->UNCLAIMED release matched no row.  The service treats it
	// as a signal to re-read and resolve idempotently.
	ErrSeatNotClaimed = errors.New("seat not claimed")

	// ErrDuplicateCode is returned by stores when a freshly minted
	// invite code collides with a live one.  Callers must retry with a
	// new code, never accept the collision.
	ErrDuplicateCode = errors.New("invite code collision")
)
