package interceptors

import (
	"context"

	userdomain "propertyhub/backend/internal/user/domain"
)

type contextKey struct{ name string }

var principalKey = contextKey{"principal"}

// WithPrincipal returns a context carrying the authenticated principal.
// Handlers read it via PrincipalFrom.
func WithPrincipal(ctx context.Context, p userdomain.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the principal set by AuthUnary and true, or the zero value and false.
func PrincipalFrom(ctx context.Context) (userdomain.Principal, bool) {
	p, ok := ctx.Value(principalKey).(userdomain.Principal)
	return p, ok
}
