package service

import (
	"context"
	"errors"
	"strings"

	"propertyhub/backend/internal/audit"
	"propertyhub/backend/internal/logging"
	"propertyhub/backend/internal/security"
	userdomain "propertyhub/backend/internal/user/domain"
)

// ErrInvalidCredentials is returned for an unknown email, a disabled user or a wrong password.
// The cases are indistinguishable to the caller.
var ErrInvalidCredentials = errors.New("invalid credentials")

// UserDirectory is the read-only view of the user store needed for password login.
type UserDirectory interface {
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
}

// PasswordAuthenticator resolves an email and password to a Principal.
type PasswordAuthenticator struct {
	users  UserDirectory
	hasher *security.Hasher
	audit  audit.AuditLogger
	log    logging.Logger
}

// NewPasswordAuthenticator returns an authenticator over users. auditLogger and log may be nil.
func NewPasswordAuthenticator(users UserDirectory, hasher *security.Hasher, auditLogger audit.AuditLogger, log logging.Logger) *PasswordAuthenticator {
	if log == nil {
		log = logging.Nop()
	}
	return &PasswordAuthenticator{users: users, hasher: hasher, audit: auditLogger, log: log}
}

// Authenticate checks password against the stored bcrypt hash for email. Unknown emails cost
// the same bcrypt work as known ones.
func (a *PasswordAuthenticator) Authenticate(ctx context.Context, email, password string) (userdomain.Principal, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return userdomain.Principal{}, ErrInvalidCredentials
	}
	user, err := a.users.GetByEmail(ctx, email)
	if err != nil {
		return userdomain.Principal{}, err
	}
	if user == nil || user.PasswordHash == "" {
		_ = a.hasher.CompareMissing([]byte(password))
		a.failure(ctx, "", email, "unknown_user")
		return userdomain.Principal{}, ErrInvalidCredentials
	}
	if err := a.hasher.Compare(user.PasswordHash, []byte(password)); err != nil {
		a.failure(ctx, user.ID, email, "wrong_password")
		return userdomain.Principal{}, ErrInvalidCredentials
	}
	if user.Status != userdomain.UserStatusActive {
		a.failure(ctx, user.ID, email, "disabled")
		return userdomain.Principal{}, ErrInvalidCredentials
	}
	p := user.Principal()
	if err := p.Validate(); err != nil {
		return userdomain.Principal{}, err
	}
	return p, nil
}

func (a *PasswordAuthenticator) failure(ctx context.Context, userID, email, reason string) {
	a.log.Info(ctx, "password login rejected", "user_id", userID, "reason", reason)
	if a.audit != nil {
		a.audit.LogEvent(ctx, userID, audit.ActionLoginFailure, "user", map[string]any{"email": email, "reason": reason})
	}
}
