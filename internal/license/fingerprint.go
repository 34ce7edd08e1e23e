package license

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint derives a stable pseudo-identifier for the requesting
// device from its client IP and User-Agent header.  It is a weak
// de-duplication signal, not an identity: NAT and shared browsers
// collide, UA updates drift.  The inputs are normalized and hashed so
// the raw IP never reaches the database.
func Fingerprint(clientIP, userAgent string) string {
	ip := strings.TrimSpace(clientIP)
	ua := strings.TrimSpace(userAgent)
	sum := sha256.Sum256([]byte(ip + "\n" + ua))
	return hex.EncodeToString(sum[:])
}

// MaskFingerprint keeps the trailing hex characters of a fingerprint
// for owner-facing listings.  The full value is only ever returned to
// the claimer whose own device it describes.
func MaskFingerprint(fp string) string {
	const keep = 8
	if len(fp) <= keep {
		return fp
	}
	return "…" + fp[len(fp)-keep:]
}
