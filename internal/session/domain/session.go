package domain

import "time"

// State is the lifecycle position of a refresh session. ROTATED and REVOKED are terminal.
type State string

const (
	StateActive  State = "ACTIVE"
	StateRotated State = "ROTATED"
	StateRevoked State = "REVOKED"
)

// ClientContext describes the client that presented a credential. Audit only.
type ClientContext struct {
	UserAgent string
	IP        string
}

// RefreshSession is the persisted record of one issued refresh credential.
type RefreshSession struct {
	ID           string
	UserID       string
	TokenDigest  string // hex SHA-256 of the raw refresh credential; unique
	SessionNonce string // jti embedded in the refresh credential
	IssuedAt     time.Time
	ExpiresAt    time.Time
	RevokedAt    *time.Time // nil while active
	ReplacedBy   *string    // digest of the successor; set only by rotation
	Client       ClientContext
}

// State derives the lifecycle state from RevokedAt and ReplacedBy.
func (s *RefreshSession) State() State {
	switch {
	case s.RevokedAt == nil:
		return StateActive
	case s.ReplacedBy != nil:
		return StateRotated
	default:
		return StateRevoked
	}
}

// Active reports whether the session has not been revoked. Expiry is not considered;
// the token codec is authoritative for that.
func (s *RefreshSession) Active() bool {
	return s.RevokedAt == nil
}
