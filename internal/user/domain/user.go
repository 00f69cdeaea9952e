package domain

import (
	"errors"
	"strings"
	"time"
)

// ErrInvalidPrincipal is returned when a principal has missing fields or an unknown role.
var ErrInvalidPrincipal = errors.New("invalid principal")

// Role is the coarse-grained permission level of a principal.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleManager Role = "MANAGER"
	RoleTenant  Role = "TENANT"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleTenant:
		return true
	default:
		return false
	}
}

// Principal is the authenticated subject carried inside access and refresh credentials.
// It is owned by the user directory and read-only to session code.
type Principal struct {
	ID    string
	Email string
	Role  Role
}

// Validate returns ErrInvalidPrincipal (wrapped) when ID or Email is empty or Role is unknown.
func (p Principal) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.Join(ErrInvalidPrincipal, errors.New("id is required"))
	}
	if strings.TrimSpace(p.Email) == "" {
		return errors.Join(ErrInvalidPrincipal, errors.New("email is required"))
	}
	if !p.Role.Valid() {
		return errors.Join(ErrInvalidPrincipal, errors.New("unknown role "+string(p.Role)))
	}
	return nil
}

// User is a directory entry with the credentials used for password login.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         Role
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.Email == "" {
		return errors.New("email is required")
	}
	if !u.Role.Valid() {
		return errors.New("role must be ADMIN, MANAGER or TENANT")
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	return nil
}

// Principal returns the subject view of u used in credentials.
func (u *User) Principal() Principal {
	return Principal{ID: u.ID, Email: u.Email, Role: u.Role}
}
