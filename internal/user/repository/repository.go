package repository

import (
	"context"

	"propertyhub/backend/internal/user/domain"
)

// Repository is the read side of the user directory plus Create for seeding.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
}
