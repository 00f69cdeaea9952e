// Package logging defines the context-aware structured logger used by services and stores.
package logging

import "context"

// Logger is a context-aware, structured logger. args are key-value pairs:
//
//	log.Warn(ctx, "refresh reuse detected", "user_id", id, "revoked", n)
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
	With(args ...any) Logger
}
