package security

import "time"

// Test secrets for unit tests only. Do not use in production.
const (
	testAccessSecret  = "test-access-secret-0123456789abcdef"
	testRefreshSecret = "test-refresh-secret-fedcba9876543210"
)

// NewTestTokenCodec returns a TokenCodec with fixed test secrets, 15m access and 24h refresh
// lifetimes. now may be nil. For unit tests only.
func NewTestTokenCodec(now func() time.Time) *TokenCodec {
	c, err := NewTokenCodec(CodecConfig{
		AccessSecret:  []byte(testAccessSecret),
		RefreshSecret: []byte(testRefreshSecret),
		Issuer:        "test-issuer",
		Audience:      "test-audience",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
		Now:           now,
	})
	if err != nil {
		panic(err)
	}
	return c
}
