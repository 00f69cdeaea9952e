package repository

import (
	"context"
	"errors"

	"propertyhub/backend/internal/session/domain"
)

// ErrIntegrity is returned when a session would duplicate an existing token digest.
// It means nonce generation is broken and must never be ignored.
var ErrIntegrity = errors.New("refresh session integrity violation")

// Store persists refresh sessions. Implementations must be safe for concurrent callers
// in different processes and rely on the backing store for atomicity.
type Store interface {
	// Create inserts an active session and returns its ID.
	Create(ctx context.Context, s *domain.RefreshSession) (string, error)
	// FindByDigest returns the session with the digest, or nil if there is none.
	FindByDigest(ctx context.Context, digest string) (*domain.RefreshSession, error)
	// Rotate inserts next and retires the session with oldDigest in one atomic step,
	// only if that session is still active. It returns false, and leaves no trace of next,
	// when the old session is missing or already revoked.
	Rotate(ctx context.Context, oldDigest string, next *domain.RefreshSession) (bool, error)
	// RevokeAllForUser revokes every active session of the user and returns how many changed.
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
	// RevokeByDigest revokes the session if it is active and reports whether it changed.
	RevokeByDigest(ctx context.Context, digest string) (bool, error)
}
