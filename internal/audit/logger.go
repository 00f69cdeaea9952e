package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"propertyhub/backend/internal/audit/domain"
	auditrepo "propertyhub/backend/internal/audit/repository"
	"propertyhub/backend/internal/logging"
)

// Actions recorded for session lifecycle events.
const (
	ActionLogin                = "login"
	ActionLoginFailure         = "login_failure"
	ActionRefreshRotated       = "refresh_rotated"
	ActionRefreshReuseDetected = "refresh_reuse_detected"
	ActionLogout               = "logout"
	ActionSessionsRevoked      = "sessions_revoked"

	ResourceSession = "session"
)

// IPExtractor returns the client IP from the request context (e.g. gRPC metadata or peer).
type IPExtractor func(context.Context) string

// AuditLogger writes a single audit event. LogEvent is best-effort: failures are logged
// and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, userID, action, resource string, metadata map[string]any)
}

// Logger implements AuditLogger using the audit repository and an optional IP extractor.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
	log         logging.Logger
}

// NewLogger returns an AuditLogger that persists to repo and uses ipExtractor for client IP.
// ipExtractor may be nil; then IP is recorded as "unknown". log may be nil.
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor, log logging.Logger) *Logger {
	if log == nil {
		log = logging.Nop()
	}
	return &Logger{repo: repo, ipExtractor: ipExtractor, log: log}
}

// LogEvent writes one audit log entry. metadata is stored as JSON and may be nil.
func (l *Logger) LogEvent(ctx context.Context, userID, action, resource string, metadata map[string]any) {
	if l.repo == nil {
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		if v := l.ipExtractor(ctx); v != "" {
			ip = v
		}
	}
	var meta string
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			l.log.Warn(ctx, "audit: metadata not encodable", "action", action, "err", err)
		} else {
			meta = string(b)
		}
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		IP:        ip,
		Metadata:  meta,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		l.log.Error(ctx, "audit: failed to log event", "action", action, "resource", resource, "err", err)
	}
}
