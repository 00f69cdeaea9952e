package interceptors

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	identityservice "propertyhub/backend/internal/identity/service"
	sessionservice "propertyhub/backend/internal/session/service"
)

// StatusFromError maps service errors to gRPC status errors. Messages for internal failures
// are generic; the cause belongs in the server log.
func StatusFromError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, identityservice.ErrInvalidCredentials):
		return status.Error(codes.Unauthenticated, "invalid credentials")
	case errors.Is(err, sessionservice.ErrReuseDetected):
		return status.Error(codes.Unauthenticated, "refresh credential reuse detected; all sessions revoked")
	case errors.Is(err, sessionservice.ErrInvalidCredential):
		return status.Error(codes.Unauthenticated, "invalid or expired credential")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
