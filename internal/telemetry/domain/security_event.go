package domain

import "time"

// EventType names a security-relevant session event.
type EventType string

const (
	// EventRefreshReuseDetected is raised when a retired refresh credential is presented again.
	EventRefreshReuseDetected EventType = "refresh_reuse_detected"
	// EventSessionsRevoked is raised when an operator revokes every session of a user.
	EventSessionsRevoked EventType = "sessions_revoked"
	// EventIntegrityViolation is raised when a refresh digest collides with an existing session.
	EventIntegrityViolation EventType = "session_integrity_violation"
)

// SecurityEvent is the payload shipped to OTel logs and Kafka.
type SecurityEvent struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"eventType"`
	UserID     string            `json:"userId,omitempty"`
	IP         string            `json:"ip,omitempty"`
	UserAgent  string            `json:"userAgent,omitempty"`
	Source     string            `json:"source"`
	Attributes map[string]string `json:"attributes,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}
