// Package queue defines message payloads exchanged over the message broker.
package queue

// Event type tags carried in LicenseEvent.Type.
const (
	EventSeatClaimed  = "seat.claimed"
	EventSeatRevoked  = "seat.revoked"
	EventSeatsRetired = "seats.retired"
)

// LicenseEvent is published whenever a seat changes hands: claimed by a
// member, revoked by its owner, or retired in bulk on subscription
// cancellation.  It carries enough for downstream audit logging and
// notifications without querying the primary database.  Secrets never
// ride on the bus: invite codes are absent and fingerprints masked.
type LicenseEvent struct {
	Type              string `json:"type"`
	SeatID            uint64 `json:"seat_id,omitempty"`
	PurchaserID       uint64 `json:"purchaser_user_id,omitempty"`
	ClaimerID         uint64 `json:"claimer_user_id,omitempty"`
	FingerprintMasked string `json:"fingerprint_masked,omitempty"`
	Count             int    `json:"count,omitempty"`
	OccurredAt        string `json:"occurred_at"`
}
