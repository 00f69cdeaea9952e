package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Digest returns the hex-encoded SHA-256 of a raw refresh token. Only the digest is
// persisted, never the raw token.
func Digest(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// DigestEqual reports in constant time whether the digest of providedToken equals storedDigest.
func DigestEqual(providedToken, storedDigest string) bool {
	return subtle.ConstantTimeCompare([]byte(Digest(providedToken)), []byte(storedDigest)) == 1
}
