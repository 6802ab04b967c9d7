// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
)

const (
	MaxUserIDLen = 64
	MaxEmailLen  = 254
)

var (
	ErrUserIDEmpty   = errors.New("user id empty")
	ErrUserIDTooLong = errors.New("user id too long")
	ErrEmailTooLong  = errors.New("email too long")
)

type (
	UserID string
	Role   string
)

const (
	RoleStudent Role = "student"
	RoleTutor   Role = "tutor"
	RoleAdmin   Role = "admin"
)

// Identity is what the token verifier hands over at connect time.
// Read-only for the hub.
type Identity struct {
	ID    UserID `json:"id"`
	Role  Role   `json:"role"`
	Email string `json:"email,omitempty"`
}

// NewIdentity is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewIdentity(id string, role string, email string) (Identity, error) {
	if len(id) == 0 {
		return Identity{}, ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return Identity{}, ErrUserIDTooLong
	}
	if len(email) > MaxEmailLen {
		return Identity{}, ErrEmailTooLong
	}
	return Identity{ID: UserID(id), Role: Role(role), Email: email}, nil
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }
