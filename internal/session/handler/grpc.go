package handler

import (
	"context"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"propertyhub/backend/internal/logging"
	"propertyhub/backend/internal/server/interceptors"
	"propertyhub/backend/internal/session/domain"
	"propertyhub/backend/internal/session/service"
	userdomain "propertyhub/backend/internal/user/domain"
)

// Authenticator resolves a password login to a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (userdomain.Principal, error)
}

// SessionEngine is the subset of *service.Engine used by the handler.
type SessionEngine interface {
	Login(ctx context.Context, p userdomain.Principal, client domain.ClientContext) (*service.Tokens, error)
	Rotate(ctx context.Context, raw string, client domain.ClientContext) (*service.Tokens, error)
	Logout(ctx context.Context, raw string) error
	RevokeAllForUser(ctx context.Context, userID, reason string) (int64, error)
}

// Server implements SessionServiceServer on top of the rotation engine.
type Server struct {
	engine SessionEngine
	auth   Authenticator
	log    logging.Logger
}

var _ SessionServiceServer = (*Server)(nil)

// NewServer returns a SessionService server. If engine or auth is nil the affected RPCs
// return Unimplemented. log may be nil.
func NewServer(engine SessionEngine, auth Authenticator, log logging.Logger) *Server {
	if log == nil {
		log = logging.Nop()
	}
	return &Server{engine: engine, auth: auth, log: log}
}

// Login authenticates with email and password and opens a new session.
func (s *Server) Login(ctx context.Context, req *LoginRequest) (*TokenResponse, error) {
	if s.engine == nil || s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method Login not implemented")
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return nil, status.Error(codes.InvalidArgument, "email and password are required")
	}
	p, err := s.auth.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		return nil, s.status(ctx, "Login", err)
	}
	tokens, err := s.engine.Login(ctx, p, interceptors.ClientContextFrom(ctx))
	if err != nil {
		return nil, s.status(ctx, "Login", err)
	}
	return tokenResponse(tokens), nil
}

// Refresh rotates a refresh credential.
func (s *Server) Refresh(ctx context.Context, req *RefreshRequest) (*TokenResponse, error) {
	if s.engine == nil {
		return nil, status.Error(codes.Unimplemented, "method Refresh not implemented")
	}
	raw := refreshToken(ctx, req.RefreshToken)
	if raw == "" {
		return nil, status.Error(codes.Unauthenticated, "refresh credential required")
	}
	tokens, err := s.engine.Rotate(ctx, raw, interceptors.ClientContextFrom(ctx))
	if err != nil {
		return nil, s.status(ctx, "Refresh", err)
	}
	return tokenResponse(tokens), nil
}

// Logout revokes the session of a refresh credential. It succeeds for unknown credentials.
func (s *Server) Logout(ctx context.Context, req *LogoutRequest) (*LogoutResponse, error) {
	if s.engine == nil {
		return nil, status.Error(codes.Unimplemented, "method Logout not implemented")
	}
	if raw := refreshToken(ctx, req.RefreshToken); raw != "" {
		if err := s.engine.Logout(ctx, raw); err != nil {
			return nil, s.status(ctx, "Logout", err)
		}
	}
	return &LogoutResponse{}, nil
}

// WhoAmI returns the principal of the Bearer credential.
func (s *Server) WhoAmI(ctx context.Context, _ *WhoAmIRequest) (*WhoAmIResponse, error) {
	p, ok := interceptors.PrincipalFrom(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
	}
	return &WhoAmIResponse{UserID: p.ID, Email: p.Email, Role: string(p.Role)}, nil
}

// RevokeUserSessions revokes every active session of a user. Restricted to admins by the
// role interceptor.
func (s *Server) RevokeUserSessions(ctx context.Context, req *RevokeUserSessionsRequest) (*RevokeUserSessionsResponse, error) {
	if s.engine == nil {
		return nil, status.Error(codes.Unimplemented, "method RevokeUserSessions not implemented")
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id is required")
	}
	reason := req.Reason
	if p, ok := interceptors.PrincipalFrom(ctx); ok {
		reason = strings.TrimSpace(reason + " (by " + p.ID + ")")
	}
	n, err := s.engine.RevokeAllForUser(ctx, userID, reason)
	if err != nil {
		return nil, s.status(ctx, "RevokeUserSessions", err)
	}
	return &RevokeUserSessionsResponse{Revoked: n}, nil
}

func (s *Server) status(ctx context.Context, method string, err error) error {
	st := interceptors.StatusFromError(err)
	if status.Code(st) == codes.Internal {
		s.log.Error(ctx, "session rpc failed", "method", method, "err", err)
	}
	return st
}

func refreshToken(ctx context.Context, fromBody string) string {
	if v := strings.TrimSpace(fromBody); v != "" {
		return v
	}
	v, _ := interceptors.RefreshTokenFromContext(ctx)
	return v
}

func tokenResponse(t *service.Tokens) *TokenResponse {
	return &TokenResponse{
		AccessToken:      t.AccessToken,
		AccessExpiresAt:  t.AccessExpiresAt,
		RefreshToken:     t.RefreshToken,
		RefreshExpiresAt: t.RefreshExpiresAt,
		UserID:           t.Principal.ID,
		Role:             string(t.Principal.Role),
	}
}
