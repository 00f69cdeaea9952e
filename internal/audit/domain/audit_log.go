package domain

import "time"

// AuditLog is one persisted audit event.
type AuditLog struct {
	ID        string
	UserID    string // empty when the actor is unknown
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}
