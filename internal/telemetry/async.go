package telemetry

import (
	"context"
	"time"

	"propertyhub/backend/internal/logging"
	"propertyhub/backend/internal/telemetry/domain"
)

// emitTimeout is the max time allowed for a single async emit. Used by EmitAsync and by ShutdownDrainDuration.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait after gRPC GracefulStop before shutting down OTel providers,
// so in-flight async emits have time to complete. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// EmitAsync runs Emit in a goroutine so the caller is not blocked. The emit keeps ctx's values
// but not its cancellation, and is bounded by emitTimeout. Failures go to log, which may be nil.
//
// emitter and event may be nil; EmitAsync then returns without starting a goroutine.
func EmitAsync(emitter EventEmitter, ctx context.Context, event *domain.SecurityEvent, log logging.Logger) {
	if emitter == nil || event == nil {
		return
	}
	if log == nil {
		log = logging.Nop()
	}
	go func() {
		emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, event); err != nil {
			log.Warn(emitCtx, "telemetry: async emit failed", "event_type", string(event.Type), "err", err)
		}
	}()
}
