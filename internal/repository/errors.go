// Package repository implements the persistence layer over MySQL.
// Seat state-transition failures are reported with the sentinel values
// from internal/license so the service layer and handlers can branch on
// them without knowing about SQL.
package repository

import "strings"

// isDuplicateKey reports whether err is a MySQL duplicate-entry error
// (error number 1062).  Used to detect unique-index collisions on
// users.email and seats.invite_code.
func isDuplicateKey(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "1062")
}
