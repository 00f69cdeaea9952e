package interceptors

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"propertyhub/backend/internal/logging"
)

// LoggingUnary returns a unary server interceptor that logs each RPC with its status code and
// duration. skipMethods is the set of full method names to not log (e.g. health checks).
func LoggingUnary(log logging.Logger, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if log == nil || skipMethods[info.FullMethod] {
			return resp, err
		}
		code := status.Code(err)
		args := []any{
			"method", info.FullMethod,
			"code", code.String(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", ClientIP(ctx),
		}
		switch code {
		case codes.OK:
			log.Info(ctx, "grpc request", args...)
		case codes.Internal, codes.Unknown, codes.DataLoss:
			log.Error(ctx, "grpc request", args...)
		default:
			log.Warn(ctx, "grpc request", args...)
		}
		return resp, err
	}
}
