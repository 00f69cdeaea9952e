package interceptors

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"propertyhub/backend/internal/logging"
	policyengine "propertyhub/backend/internal/policy/engine"
	userdomain "propertyhub/backend/internal/user/domain"
)

// RequireRoles returns a unary server interceptor that restricts the methods in methodRoles
// to principals holding one of the listed roles. It must run after AuthUnary. Methods not in
// methodRoles pass through. A nil authz denies every restricted method.
func RequireRoles(authz policyengine.Authorizer, methodRoles map[string][]userdomain.Role, log logging.Logger) grpc.UnaryServerInterceptor {
	if log == nil {
		log = logging.Nop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		allowed, restricted := methodRoles[info.FullMethod]
		if !restricted {
			return handler(ctx, req)
		}
		p, ok := PrincipalFrom(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}
		if authz == nil {
			return nil, status.Error(codes.PermissionDenied, "forbidden")
		}
		ok, err := authz.Allow(ctx, p, allowed)
		if err != nil {
			log.Error(ctx, "authz evaluation failed", "method", info.FullMethod, "err", err)
			return nil, status.Error(codes.Internal, "authorization unavailable")
		}
		if !ok {
			return nil, status.Error(codes.PermissionDenied, "forbidden")
		}
		return handler(ctx, req)
	}
}
