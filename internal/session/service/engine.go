// Package service implements the refresh-session state machine: login issuance, rotation,
// reuse detection and logout.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"propertyhub/backend/internal/audit"
	"propertyhub/backend/internal/logging"
	"propertyhub/backend/internal/security"
	"propertyhub/backend/internal/session/domain"
	"propertyhub/backend/internal/session/repository"
	"propertyhub/backend/internal/telemetry"
	teldomain "propertyhub/backend/internal/telemetry/domain"
	userdomain "propertyhub/backend/internal/user/domain"
)

var (
	// ErrInvalidCredential is returned when a presented credential fails verification. It wraps
	// the codec error, so errors.Is also matches security.ErrExpiredCredential and friends.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrReuseDetected is returned when a refresh credential is presented after its session was
	// retired. Every active session of the user has been revoked by the time it is returned,
	// unless the error also wraps the store failure that prevented it.
	ErrReuseDetected = errors.New("refresh credential reuse detected")
	// ErrIntegrity is returned when a refresh digest collides with an existing session or a
	// stored session disagrees with its credential.
	ErrIntegrity = repository.ErrIntegrity
)

const (
	reasonSessionAbsent  = "session_absent"
	reasonSessionRetired = "session_retired"
	reasonLostRace       = "rotation_lost_race"

	eventSource = "session"
)

// Codec signs and verifies access and refresh credentials.
type Codec interface {
	SignAccess(p userdomain.Principal) (string, time.Time, error)
	SignRefresh(p userdomain.Principal) (security.RefreshCredential, error)
	VerifyAccess(raw string) (userdomain.Principal, error)
	VerifyRefresh(raw string) (security.RefreshClaims, error)
}

// Tokens is the credential pair handed to the client after login or rotation.
type Tokens struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	Principal        userdomain.Principal
}

// Engine runs the refresh-session protocol. It holds no mutable state of its own; atomicity
// comes from the Store.
type Engine struct {
	codec   Codec
	store   repository.Store
	log     logging.Logger
	audit   audit.AuditLogger
	events  telemetry.EventEmitter
	tracer  trace.Tracer
	metrics engineMetrics
}

type engineMetrics struct {
	logins        metric.Int64Counter
	rotations     metric.Int64Counter
	reuseDetected metric.Int64Counter
	revoked       metric.Int64Counter
}

type options struct {
	log    logging.Logger
	audit  audit.AuditLogger
	events telemetry.EventEmitter
	meters metric.MeterProvider
	traces trace.TracerProvider
}

// Option configures an Engine.
type Option func(*options)

// WithLogger sets the structured logger.
func WithLogger(l logging.Logger) Option { return func(o *options) { o.log = l } }

// WithAuditLogger sets where login, rotation, reuse and logout records are written.
func WithAuditLogger(a audit.AuditLogger) Option { return func(o *options) { o.audit = a } }

// WithEventEmitter sets where reuse and integrity incidents are reported.
func WithEventEmitter(e telemetry.EventEmitter) Option { return func(o *options) { o.events = e } }

// WithMeterProvider sets the provider of the session counters.
func WithMeterProvider(mp metric.MeterProvider) Option { return func(o *options) { o.meters = mp } }

// WithTracerProvider sets the provider of the per-operation spans.
func WithTracerProvider(tp trace.TracerProvider) Option { return func(o *options) { o.traces = tp } }

// New returns an Engine over codec and store.
func New(codec Codec, store repository.Store, opts ...Option) (*Engine, error) {
	o := options{
		log:    logging.Nop(),
		meters: metricnoop.NewMeterProvider(),
		traces: tracenoop.NewTracerProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	e := &Engine{
		codec:  codec,
		store:  store,
		log:    o.log.With("component", "session"),
		audit:  o.audit,
		events: o.events,
		tracer: o.traces.Tracer("propertyhub/backend/internal/session"),
	}
	meter := o.meters.Meter("propertyhub/backend/internal/session")
	var err error
	if e.metrics.logins, err = meter.Int64Counter("session.logins", metric.WithDescription("Refresh sessions created by login")); err != nil {
		return nil, err
	}
	if e.metrics.rotations, err = meter.Int64Counter("session.rotations", metric.WithDescription("Successful refresh rotations")); err != nil {
		return nil, err
	}
	if e.metrics.reuseDetected, err = meter.Int64Counter("session.reuse_detected", metric.WithDescription("Refresh credentials presented after retirement")); err != nil {
		return nil, err
	}
	if e.metrics.revoked, err = meter.Int64Counter("session.revoked", metric.WithDescription("Sessions revoked by logout, reuse response or operator")); err != nil {
		return nil, err
	}
	return e, nil
}

// Login issues an access credential and a refresh credential for p and records one new
// active session.
func (e *Engine) Login(ctx context.Context, p userdomain.Principal, client domain.ClientContext) (*Tokens, error) {
	ctx, span := e.tracer.Start(ctx, "session.Login", trace.WithAttributes(attribute.String("user.id", p.ID)))
	defer span.End()

	tokens, next, err := e.issue(p, client)
	if err != nil {
		return nil, e.fail(span, err)
	}
	if _, err := e.store.Create(ctx, next); err != nil {
		if errors.Is(err, ErrIntegrity) {
			e.integrityViolation(ctx, p.ID, client, err)
		}
		return nil, e.fail(span, fmt.Errorf("create session: %w", err))
	}
	e.metrics.logins.Add(ctx, 1)
	e.logAudit(ctx, p.ID, audit.ActionLogin, map[string]any{"session_id": next.ID})
	return tokens, nil
}

// Rotate exchanges a refresh credential for a new pair. A credential whose session is absent,
// already retired, or retired concurrently by another caller is treated as stolen: all of the
// user's sessions are revoked and ErrReuseDetected is returned.
func (e *Engine) Rotate(ctx context.Context, raw string, client domain.ClientContext) (*Tokens, error) {
	ctx, span := e.tracer.Start(ctx, "session.Rotate")
	defer span.End()

	claims, err := e.codec.VerifyRefresh(raw)
	if err != nil {
		return nil, e.fail(span, fmt.Errorf("%w: %w", ErrInvalidCredential, err))
	}
	userID := claims.Principal.ID
	span.SetAttributes(attribute.String("user.id", userID))

	digest := security.Digest(raw)
	current, err := e.store.FindByDigest(ctx, digest)
	if err != nil {
		return nil, e.fail(span, fmt.Errorf("find session: %w", err))
	}
	if current == nil {
		return nil, e.fail(span, e.reuse(ctx, userID, client, reasonSessionAbsent))
	}
	if current.UserID != userID || current.SessionNonce != claims.Nonce || !security.DigestEqual(raw, current.TokenDigest) {
		err := fmt.Errorf("%w: session %s does not match its credential", ErrIntegrity, current.ID)
		e.integrityViolation(ctx, userID, client, err)
		return nil, e.fail(span, err)
	}
	if !current.Active() {
		return nil, e.fail(span, e.reuse(ctx, current.UserID, client, reasonSessionRetired))
	}

	tokens, next, err := e.issue(claims.Principal, client)
	if err != nil {
		return nil, e.fail(span, err)
	}
	rotated, err := e.store.Rotate(ctx, digest, next)
	if err != nil {
		if errors.Is(err, ErrIntegrity) {
			e.integrityViolation(ctx, userID, client, err)
		}
		return nil, e.fail(span, fmt.Errorf("rotate session: %w", err))
	}
	if !rotated {
		return nil, e.fail(span, e.reuse(ctx, current.UserID, client, reasonLostRace))
	}

	e.metrics.rotations.Add(ctx, 1)
	e.logAudit(ctx, userID, audit.ActionRefreshRotated, map[string]any{
		"session_id":  current.ID,
		"replaced_by": next.ID,
	})
	return tokens, nil
}

// Logout revokes the session of a refresh credential. Unparsable credentials and unknown or
// already revoked sessions are not errors. Expired credentials are still revoked.
func (e *Engine) Logout(ctx context.Context, raw string) error {
	ctx, span := e.tracer.Start(ctx, "session.Logout")
	defer span.End()

	claims, err := e.codec.VerifyRefresh(raw)
	if err != nil && !errors.Is(err, security.ErrExpiredCredential) {
		e.log.Debug(ctx, "logout with unusable credential", "err", err)
		return nil
	}
	revoked, err := e.store.RevokeByDigest(ctx, security.Digest(raw))
	if err != nil {
		return e.fail(span, fmt.Errorf("revoke session: %w", err))
	}
	if revoked {
		e.metrics.revoked.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", "logout")))
		e.logAudit(ctx, claims.Principal.ID, audit.ActionLogout, nil)
	}
	return nil
}

// VerifyAccess authenticates an access credential without touching the store.
func (e *Engine) VerifyAccess(raw string) (userdomain.Principal, error) {
	p, err := e.codec.VerifyAccess(raw)
	if err != nil {
		return userdomain.Principal{}, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}
	return p, nil
}

// RevokeAllForUser revokes every active session of userID on operator request and returns
// how many sessions changed.
func (e *Engine) RevokeAllForUser(ctx context.Context, userID, reason string) (int64, error) {
	ctx, span := e.tracer.Start(ctx, "session.RevokeAllForUser", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	n, err := e.store.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, e.fail(span, fmt.Errorf("revoke sessions: %w", err))
	}
	e.metrics.revoked.Add(ctx, n, metric.WithAttributes(attribute.String("cause", "operator")))
	e.log.Info(ctx, "sessions revoked by operator", "user_id", userID, "revoked", n, "reason", reason)
	e.logAudit(ctx, userID, audit.ActionSessionsRevoked, map[string]any{"revoked": n, "reason": reason})
	e.emit(ctx, teldomain.EventSessionsRevoked, userID, domain.ClientContext{}, map[string]string{
		"revoked": strconv.FormatInt(n, 10),
		"reason":  reason,
	})
	return n, nil
}

// Lookup returns the stored session of a refresh credential without verifying it, or nil.
func (e *Engine) Lookup(ctx context.Context, raw string) (*domain.RefreshSession, error) {
	return e.store.FindByDigest(ctx, security.Digest(raw))
}

// issue signs a fresh credential pair for p and builds the session that tracks the refresh half.
func (e *Engine) issue(p userdomain.Principal, client domain.ClientContext) (*Tokens, *domain.RefreshSession, error) {
	cred, err := e.codec.SignRefresh(p)
	if err != nil {
		return nil, nil, fmt.Errorf("sign refresh credential: %w", err)
	}
	access, accessExp, err := e.codec.SignAccess(p)
	if err != nil {
		return nil, nil, fmt.Errorf("sign access credential: %w", err)
	}
	next := &domain.RefreshSession{
		ID:           uuid.New().String(),
		UserID:       p.ID,
		TokenDigest:  security.Digest(cred.Token),
		SessionNonce: cred.Nonce,
		IssuedAt:     cred.IssuedAt,
		ExpiresAt:    cred.ExpiresAt,
		Client:       client,
	}
	return &Tokens{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     cred.Token,
		RefreshExpiresAt: cred.ExpiresAt,
		Principal:        p,
	}, next, nil
}

// reuse revokes every active session of userID and returns the error the caller must surface.
// The revocation is detached from ctx so a disconnecting client cannot cut it short.
func (e *Engine) reuse(ctx context.Context, userID string, client domain.ClientContext, reason string) error {
	e.metrics.reuseDetected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))

	n, err := e.store.RevokeAllForUser(context.WithoutCancel(ctx), userID)
	if err != nil {
		e.log.Error(ctx, "refresh reuse detected but revocation failed",
			"user_id", userID, "reason", reason, "client_ip", client.IP, "err", err)
	} else {
		e.metrics.revoked.Add(ctx, n, metric.WithAttributes(attribute.String("cause", "reuse")))
		e.log.Warn(ctx, "refresh reuse detected, sessions revoked",
			"user_id", userID, "reason", reason, "revoked", n, "client_ip", client.IP)
	}

	e.logAudit(ctx, userID, audit.ActionRefreshReuseDetected, map[string]any{
		"reason":     reason,
		"revoked":    n,
		"user_agent": client.UserAgent,
	})
	e.emit(ctx, teldomain.EventRefreshReuseDetected, userID, client, map[string]string{
		"reason":  reason,
		"revoked": strconv.FormatInt(n, 10),
	})

	if err != nil {
		return fmt.Errorf("%w: revoke sessions for user %s: %w", ErrReuseDetected, userID, err)
	}
	return ErrReuseDetected
}

func (e *Engine) integrityViolation(ctx context.Context, userID string, client domain.ClientContext, err error) {
	e.log.Error(ctx, "refresh session integrity violation", "user_id", userID, "err", err)
	e.emit(ctx, teldomain.EventIntegrityViolation, userID, client, map[string]string{"error": err.Error()})
}

func (e *Engine) emit(ctx context.Context, typ teldomain.EventType, userID string, client domain.ClientContext, attrs map[string]string) {
	telemetry.EmitAsync(e.events, ctx, &teldomain.SecurityEvent{
		ID:         uuid.New().String(),
		Type:       typ,
		UserID:     userID,
		IP:         client.IP,
		UserAgent:  client.UserAgent,
		Source:     eventSource,
		Attributes: attrs,
		CreatedAt:  time.Now().UTC(),
	}, e.log)
}

func (e *Engine) logAudit(ctx context.Context, userID, action string, metadata map[string]any) {
	if e.audit == nil {
		return
	}
	e.audit.LogEvent(ctx, userID, action, audit.ResourceSession, metadata)
}

func (e *Engine) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
