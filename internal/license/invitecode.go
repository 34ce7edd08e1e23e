package license

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// codeAlphabet is the character set for invite codes.  Visually
// ambiguous characters (0/O, 1/I/l, i, o) are excluded so codes survive
// being read over the phone or retyped from an email.
const codeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghjkmnpqrstuvwxyz"

// codeLength is the number of alphabet characters in a code, rendered
// in groups of four: xxxx-xxxx-xxxx.
const (
	codeLength    = 12
	codeGroupSize = 4
)

// NewInviteCode returns a fresh invite code such as "ax7k-Rm2f-9pQd".
// Randomness comes from crypto/rand; modulo bias is avoided by
// rejection sampling.  Uniqueness against live codes is enforced by the
// store, not here.
func NewInviteCode() (string, error) {
	// Largest multiple of len(codeAlphabet) that fits in a byte.
	max := byte(256 - 256%len(codeAlphabet))
	out := make([]byte, 0, codeLength+codeLength/codeGroupSize-1)
	buf := make([]byte, 1)
	for n := 0; n < codeLength; {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("invite code entropy: %w", err)
		}
		if buf[0] >= max {
			continue
		}
		if n > 0 && n%codeGroupSize == 0 {
			out = append(out, '-')
		}
		out = append(out, codeAlphabet[int(buf[0])%len(codeAlphabet)])
		n++
	}
	return string(out), nil
}

// NormalizeInviteCode strips whitespace and separators from user input
// and returns the canonical dashed form.  It returns ErrValidation when
// the remainder is not exactly codeLength characters of the alphabet.
func NormalizeInviteCode(raw string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r == '-' || r == ' ':
			// separators are ignored; users paste codes in both forms
		case strings.ContainsRune(codeAlphabet, r):
			b.WriteRune(r)
		default:
			return "", ErrValidation
		}
	}
	s := b.String()
	if len(s) != codeLength {
		return "", ErrValidation
	}
	var out strings.Builder
	for i := 0; i < codeLength; i += codeGroupSize {
		if i > 0 {
			out.WriteByte('-')
		}
		out.WriteString(s[i : i+codeGroupSize])
	}
	return out.String(), nil
}

// MaskInviteCode returns the trailing characters of a code for display
// in confirmations and logs without re-exposing the whole secret.
func MaskInviteCode(code string) string {
	const keep = 4
	if len(code) <= keep {
		return code
	}
	return code[len(code)-keep:]
}
