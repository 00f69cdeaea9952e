package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	"propertyhub/backend/internal/user/domain"
)

var (
	// ErrInvalidToken is the parent of every credential-level failure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrMalformedCredential is returned when a token cannot be parsed or carries an invalid principal.
	ErrMalformedCredential = fmt.Errorf("%w: malformed credential", ErrInvalidToken)
	// ErrInvalidSignature is returned when a token was tampered with or signed by another key.
	ErrInvalidSignature = fmt.Errorf("%w: invalid signature", ErrInvalidToken)
	// ErrInvalidClaims is returned when a correctly signed token was minted for another issuer,
	// audience or token type. It is treated as a signature failure by callers.
	ErrInvalidClaims = fmt.Errorf("%w: claims rejected", ErrInvalidSignature)
	// ErrExpiredCredential is returned at or after the token's expiry.
	ErrExpiredCredential = fmt.Errorf("%w: credential expired", ErrInvalidToken)
)

// ErrCodecConfig is returned by NewTokenCodec for unusable secrets or lifetimes.
var ErrCodecConfig = errors.New("invalid token codec config")

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// principalClaims is the fixed claim set shared by access and refresh tokens.
type principalClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
	Type  string `json:"typ"`
}

func (c *principalClaims) principal() domain.Principal {
	return domain.Principal{ID: c.Subject, Email: c.Email, Role: domain.Role(c.Role)}
}

// CodecConfig holds the signing material and lifetimes for a TokenCodec.
type CodecConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	Issuer        string
	Audience      string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// RefreshCredential is a freshly signed refresh token and the values the store needs to track it.
type RefreshCredential struct {
	Token     string
	Nonce     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RefreshClaims is the verified content of a refresh token.
type RefreshClaims struct {
	Principal domain.Principal
	Nonce     string
	ExpiresAt time.Time
}

// TokenCodec signs and verifies HS256 access and refresh tokens. Access and refresh tokens
// use distinct secrets. A TokenCodec is immutable and safe for concurrent use.
type TokenCodec struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	audience      string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
	accessParser  *jwt.Parser
	refreshParser *jwt.Parser
}

// NewTokenCodec validates cfg and returns a TokenCodec. Empty or identical secrets and
// non-positive lifetimes are rejected.
func NewTokenCodec(cfg CodecConfig) (*TokenCodec, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, fmt.Errorf("%w: access and refresh secrets are required", ErrCodecConfig)
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, fmt.Errorf("%w: access and refresh secrets must differ", ErrCodecConfig)
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, fmt.Errorf("%w: token lifetimes must be positive", ErrCodecConfig)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	c := &TokenCodec{
		accessSecret:  append([]byte(nil), cfg.AccessSecret...),
		refreshSecret: append([]byte(nil), cfg.RefreshSecret...),
		issuer:        cfg.Issuer,
		audience:      cfg.Audience,
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		now:           now,
	}
	c.accessParser = c.newParser()
	c.refreshParser = c.newParser()
	return c, nil
}

func (c *TokenCodec) newParser() *jwt.Parser {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	if c.audience != "" {
		opts = append(opts, jwt.WithAudience(c.audience))
	}
	return jwt.NewParser(opts...)
}

// AccessTTL returns the configured access token lifetime.
func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (c *TokenCodec) RefreshTTL() time.Duration { return c.refreshTTL }

// SignAccess issues a short-lived access token for p.
func (c *TokenCodec) SignAccess(p domain.Principal) (token string, expiresAt time.Time, err error) {
	if err := p.Validate(); err != nil {
		return "", time.Time{}, err
	}
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	claims := c.claims(p, jti, tokenTypeAccess, c.accessTTL)
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.accessSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, claims.ExpiresAt.Time, nil
}

// SignRefresh issues a long-lived refresh token for p with a fresh session nonce.
func (c *TokenCodec) SignRefresh(p domain.Principal) (RefreshCredential, error) {
	if err := p.Validate(); err != nil {
		return RefreshCredential{}, err
	}
	now := c.now()
	nonce, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return RefreshCredential{}, err
	}
	claims := c.claims(p, nonce.String(), tokenTypeRefresh, c.refreshTTL)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.refreshSecret)
	if err != nil {
		return RefreshCredential{}, err
	}
	return RefreshCredential{
		Token:     token,
		Nonce:     claims.ID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (c *TokenCodec) claims(p domain.Principal, jti, typ string, ttl time.Duration) *principalClaims {
	now := c.now().UTC()
	rc := jwt.RegisteredClaims{
		ID:        jti,
		Subject:   p.ID,
		Issuer:    c.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if c.audience != "" {
		rc.Audience = jwt.ClaimStrings{c.audience}
	}
	return &principalClaims{RegisteredClaims: rc, Email: p.Email, Role: string(p.Role), Type: typ}
}

// VerifyAccess validates an access token and returns its principal.
func (c *TokenCodec) VerifyAccess(raw string) (domain.Principal, error) {
	claims, err := c.verify(raw, c.accessParser, c.accessSecret, tokenTypeAccess)
	if err != nil {
		return domain.Principal{}, err
	}
	return claims.principal(), nil
}

// VerifyRefresh validates a refresh token. When the only failure is expiry, the verified
// claims are returned alongside ErrExpiredCredential so callers can still locate the session.
func (c *TokenCodec) VerifyRefresh(raw string) (RefreshClaims, error) {
	claims, err := c.verify(raw, c.refreshParser, c.refreshSecret, tokenTypeRefresh)
	if claims == nil {
		return RefreshClaims{}, err
	}
	return RefreshClaims{
		Principal: claims.principal(),
		Nonce:     claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, err
}

// verify returns non-nil claims on success, and also for an expired token whose signature
// and principal are otherwise valid.
func (c *TokenCodec) verify(raw string, parser *jwt.Parser, secret []byte, typ string) (*principalClaims, error) {
	if raw == "" {
		return nil, ErrMalformedCredential
	}
	claims := &principalClaims{}
	_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenMalformed):
		return nil, ErrMalformedCredential
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return nil, ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenInvalidIssuer), errors.Is(err, jwt.ErrTokenInvalidAudience):
		return nil, ErrInvalidClaims
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return nil, ErrMalformedCredential
	case errors.Is(err, jwt.ErrTokenExpired):
		if claims.Type != typ || claims.principal().Validate() != nil || claims.ExpiresAt == nil {
			return nil, ErrExpiredCredential
		}
		return claims, ErrExpiredCredential
	default:
		return nil, ErrInvalidClaims
	}
	if claims.Type != typ {
		return nil, ErrInvalidClaims
	}
	if err := claims.principal().Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedCredential, err)
	}
	if claims.ID == "" {
		return nil, ErrMalformedCredential
	}
	return claims, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
