// Package server assembles the gRPC server: interceptor chain, OTel stats handler, session
// service and the standard health service.
package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"propertyhub/backend/internal/logging"
	policyengine "propertyhub/backend/internal/policy/engine"
	"propertyhub/backend/internal/server/interceptors"
	_ "propertyhub/backend/internal/server/jsoncodec"
	sessionhandler "propertyhub/backend/internal/session/handler"
	userdomain "propertyhub/backend/internal/user/domain"
)

const healthCheckMethod = "/grpc.health.v1.Health/Check"

// Engine is what the server needs from the session engine.
type Engine interface {
	sessionhandler.SessionEngine
	interceptors.AccessVerifier
}

// Deps holds service dependencies for gRPC handlers.
type Deps struct {
	Engine        Engine
	Authenticator sessionhandler.Authenticator
	Authorizer    policyengine.Authorizer
	// Health receives readiness updates from health.Checker. If nil, a fresh server reporting
	// SERVING is used.
	Health *health.Server
	Log    logging.Logger
}

// PublicMethods returns the full method names that do not require a Bearer token.
func PublicMethods() map[string]bool {
	return map[string]bool{
		sessionhandler.LoginMethod:   true,
		sessionhandler.RefreshMethod: true,
		sessionhandler.LogoutMethod:  true,
		healthCheckMethod:            true,
	}
}

// MethodRoles returns the role restrictions enforced by the role interceptor.
func MethodRoles() map[string][]userdomain.Role {
	return map[string][]userdomain.Role{
		sessionhandler.RevokeUserSessionsMethod: {userdomain.RoleAdmin},
	}
}

// NewGRPCServer returns a *grpc.Server with interceptors and services registered.
// Additional server options (e.g. credentials) are appended.
func NewGRPCServer(deps Deps, opts ...grpc.ServerOption) *grpc.Server {
	log := deps.Log
	if log == nil {
		log = logging.Nop()
	}
	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.LoggingUnary(log, map[string]bool{healthCheckMethod: true}),
			interceptors.AuthUnary(deps.Engine, PublicMethods()),
			interceptors.RequireRoles(deps.Authorizer, MethodRoles(), log),
		),
	}
	s := grpc.NewServer(append(base, opts...)...)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers the session and health services with s.
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	sessionhandler.RegisterSessionServiceServer(s, sessionhandler.NewServer(deps.Engine, deps.Authenticator, deps.Log))
	hs := deps.Health
	if hs == nil {
		hs = health.NewServer()
	}
	healthpb.RegisterHealthServer(s, hs)
}
