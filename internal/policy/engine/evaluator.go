package engine

import (
	"context"

	userdomain "propertyhub/backend/internal/user/domain"
)

// Authorizer decides whether a principal may call an operation restricted to some roles.
type Authorizer interface {
	// Allow reports whether p holds one of allowed. An empty allowed list denies everyone.
	Allow(ctx context.Context, p userdomain.Principal, allowed []userdomain.Role) (bool, error)
}
