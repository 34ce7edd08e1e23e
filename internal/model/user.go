package model

import "time"

// Role names stored in the users.role column and embedded in JWT claims.
// OWNER is a purchaser who manages a subscription and its seats; MEMBER
// is an end user who redeems an invite code to occupy a seat.
const (
	RoleOwner  = "OWNER"
	RoleMember = "MEMBER"
)

// User represents an application account as stored in the `users`
// table.  The struct is used internally by the repository layer;
// handlers define their own response types with JSON tags.
//
// Fields:
//  ID           – primary key identifier of the user.
//  Email        – unique email address.
//  PasswordHash – bcrypt hashed password.
//  Role         – OWNER or MEMBER.
//  IsActive     – whether the account is active.
//  CreatedAt    – timestamp of creation.
//  UpdatedAt    – timestamp of last update.
type User struct {
	ID           uint64    // users.id
	Email        string    // users.email
	PasswordHash string    // users.password_hash
	Role         string    // users.role
	IsActive     bool      // users.is_active
	CreatedAt    time.Time // users.created_at
	UpdatedAt    time.Time // users.updated_at
}
