package interceptors

import (
	"context"
	"net"
	"strings"

	"google.golang.org/grpc/peer"

	sessiondomain "propertyhub/backend/internal/session/domain"
)

// RefreshTokenMetadataKey carries the refresh credential on Refresh and Logout calls.
const RefreshTokenMetadataKey = "x-refresh-token"

// ClientIP returns the client IP from gRPC metadata (x-forwarded-for, x-real-ip) or peer, or "unknown".
func ClientIP(ctx context.Context) string {
	if s := firstMetadata(ctx, "x-forwarded-for"); s != "" {
		if i := strings.Index(s, ","); i > 0 {
			s = strings.TrimSpace(s[:i])
		}
		return s
	}
	if s := firstMetadata(ctx, "x-real-ip"); s != "" {
		return s
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return "unknown"
}

// ClientContextFrom describes the calling client for session records and audit.
func ClientContextFrom(ctx context.Context) sessiondomain.ClientContext {
	return sessiondomain.ClientContext{
		UserAgent: firstMetadata(ctx, "user-agent"),
		IP:        ClientIP(ctx),
	}
}

// RefreshTokenFromContext returns the refresh credential from incoming metadata.
func RefreshTokenFromContext(ctx context.Context) (string, bool) {
	v := firstMetadata(ctx, RefreshTokenMetadataKey)
	return v, v != ""
}
