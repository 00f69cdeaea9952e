package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"propertyhub/backend/internal/audit"
	"propertyhub/backend/internal/security"
	"propertyhub/backend/internal/session/domain"
	"propertyhub/backend/internal/session/repository"
	teldomain "propertyhub/backend/internal/telemetry/domain"
	userdomain "propertyhub/backend/internal/user/domain"
)

var (
	alice = userdomain.Principal{ID: "user-alice", Email: "alice@example.com", Role: userdomain.RoleTenant}
	bob   = userdomain.Principal{ID: "user-bob", Email: "bob@example.com", Role: userdomain.RoleManager}

	laptop = domain.ClientContext{UserAgent: "laptop/1.0", IP: "10.0.0.1"}
	phone  = domain.ClientContext{UserAgent: "phone/2.0", IP: "10.0.0.2"}
)

type harness struct {
	engine *Engine
	codec  *security.TokenCodec
	store  *memStore
	clock  *testClock
	audit  *fakeAudit
	events *chanEmitter
	reader *sdkmetric.ManualReader
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := newTestClock()
	h := &harness{
		codec:  security.NewTestTokenCodec(clock.Now),
		store:  newMemStore(clock.Now),
		clock:  clock,
		audit:  &fakeAudit{},
		events: newChanEmitter(),
		reader: sdkmetric.NewManualReader(),
	}
	engine, err := New(h.codec, h.store,
		WithAuditLogger(h.audit),
		WithEventEmitter(h.events),
		WithMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(h.reader))),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.engine = engine
	return h
}

func (h *harness) counter(t *testing.T, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s: unexpected data %T", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func (h *harness) waitEvent(t *testing.T, typ teldomain.EventType) *teldomain.SecurityEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-h.events.events:
			if e.Type == typ {
				return e
			}
		case <-deadline:
			t.Fatalf("no %s event emitted", typ)
			return nil
		}
	}
}

func sessionByDigest(t *testing.T, s repository.Store, raw string) *domain.RefreshSession {
	t.Helper()
	got, err := s.FindByDigest(context.Background(), security.Digest(raw))
	if err != nil {
		t.Fatalf("FindByDigest: %v", err)
	}
	return got
}

func TestLogin_CreatesActiveSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tokens, err := h.engine.Login(ctx, alice, laptop)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if tokens.Principal != alice {
		t.Errorf("principal = %+v", tokens.Principal)
	}
	if !tokens.AccessExpiresAt.Equal(h.clock.Now().Add(15 * time.Minute)) {
		t.Errorf("access expiry = %v", tokens.AccessExpiresAt)
	}
	if !tokens.RefreshExpiresAt.Equal(h.clock.Now().Add(24 * time.Hour)) {
		t.Errorf("refresh expiry = %v", tokens.RefreshExpiresAt)
	}

	p, err := h.engine.VerifyAccess(tokens.AccessToken)
	if err != nil || p != alice {
		t.Fatalf("VerifyAccess = %+v, %v", p, err)
	}

	s := sessionByDigest(t, h.store, tokens.RefreshToken)
	if s == nil {
		t.Fatal("session not stored")
	}
	if s.State() != domain.StateActive || s.UserID != alice.ID || s.Client != laptop {
		t.Errorf("session = %+v", s)
	}
	claims, err := h.codec.VerifyRefresh(tokens.RefreshToken)
	if err != nil {
		t.Fatalf("VerifyRefresh: %v", err)
	}
	if s.SessionNonce != claims.Nonce {
		t.Errorf("nonce = %q, credential nonce %q", s.SessionNonce, claims.Nonce)
	}
	if got := h.counter(t, "session.logins"); got != 1 {
		t.Errorf("session.logins = %d", got)
	}
	require.Equal(t, []string{audit.ActionLogin}, h.audit.actions())
}

func TestLogin_IndependentSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.engine.Login(ctx, alice, laptop)
	require.NoError(t, err)
	b, err := h.engine.Login(ctx, alice, phone)
	require.NoError(t, err)
	require.NotEqual(t, a.RefreshToken, b.RefreshToken)
	require.Len(t, h.store.sessionsOf(alice.ID), 2)
}

func TestLogin_InvalidPrincipal(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Login(context.Background(), userdomain.Principal{ID: "u1", Email: "x@example.com", Role: "ROOT"}, laptop)
	if !errors.Is(err, userdomain.ErrInvalidPrincipal) {
		t.Fatalf("Login: want ErrInvalidPrincipal, got %v", err)
	}
	require.Empty(t, h.store.sessionsOf("u1"))
}

func TestRotate_RetiresPredecessor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first, err := h.engine.Login(ctx, alice, laptop)
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	second, err := h.engine.Rotate(ctx, first.RefreshToken, phone)
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)
	require.Equal(t, alice, second.Principal)
	require.True(t, second.RefreshExpiresAt.Equal(h.clock.Now().Add(24*time.Hour)))

	old := sessionByDigest(t, h.store, first.RefreshToken)
	require.Equal(t, domain.StateRotated, old.State())
	require.NotNil(t, old.ReplacedBy)
	require.Equal(t, security.Digest(second.RefreshToken), *old.ReplacedBy)

	next := sessionByDigest(t, h.store, second.RefreshToken)
	require.Equal(t, domain.StateActive, next.State())
	require.Equal(t, phone, next.Client)

	require.EqualValues(t, 1, h.counter(t, "session.rotations"))
	require.Equal(t, []string{audit.ActionLogin, audit.ActionRefreshRotated}, h.audit.actions())
}

func TestRotate_ReuseRevokesAllUserSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.engine.Login(ctx, alice, laptop)
	require.NoError(t, err)
	other, err := h.engine.Login(ctx, alice, phone)
	require.NoError(t, err)
	bobs, err := h.engine.Login(ctx, bob, laptop)
	require.NoError(t, err)
	second, err := h.engine.Rotate(ctx, first.RefreshToken, laptop)
	require.NoError(t, err)

	_, err = h.engine.Rotate(ctx, first.RefreshToken, domain.ClientContext{IP: "203.0.113.9"})
	if !errors.Is(err, ErrReuseDetected) {
		t.Fatalf("replay: want ErrReuseDetected, got %v", err)
	}

	for _, raw := range []string{second.RefreshToken, other.RefreshToken} {
		if s := sessionByDigest(t, h.store, raw); s.Active() {
			t.Errorf("session %s still active after reuse", s.ID)
		}
	}
	if s := sessionByDigest(t, h.store, bobs.RefreshToken); !s.Active() {
		t.Error("another user's session was revoked")
	}
	ev := h.waitEvent(t, teldomain.EventRefreshReuseDetected)
	require.Equal(t, alice.ID, ev.UserID)
	require.Equal(t, "203.0.113.9", ev.IP)
	require.Equal(t, reasonSessionRetired, ev.Attributes["reason"])
	require.Equal(t, "2", ev.Attributes["revoked"])

	_, err = h.engine.Rotate(ctx, second.RefreshToken, laptop)
	require.ErrorIs(t, err, ErrReuseDetected)
	require.EqualValues(t, 2, h.counter(t, "session.reuse_detected"))
	require.Contains(t, h.audit.actions(), audit.ActionRefreshReuseDetected)
}

func TestRotate_RevokedSessionIsReuse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tokens, err := h.engine.Login(ctx, alice, laptop)
	require.NoError(t, err)
	require.NoError(t, h.engine.Logout(ctx, tokens.RefreshToken))

	_, err = h.engine.Rotate(ctx, tokens.RefreshToken, laptop)
	require.ErrorIs(t, err, ErrReuseDetected)
}

func TestRotate_AbsentSessionRevokesClaimedUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	live, err := h.engine.Login(ctx, alice, laptop)
	require.NoError(t, err)

	// Correctly signed but never recorded.
	orphan, err := h.codec.SignRefresh(alice)
	require.NoError(t, err)

	_, err = h.engine.Rotate(ctx, orphan.Token, laptop)
	require.ErrorIs(t, err, ErrReuseDetected)
	require.False(t, sessionByDigest(t, h.store, live.RefreshToken).Active())

	ev := h.waitEvent(t, teldomain.EventRefreshReuseDetected)
	require.Equal(t, reasonSessionAbsent, ev.Attributes["reason"])
}

func TestRotate_ExpiredCredentialLeavesStoreUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tokens, err := h.engine.Login(ctx, alice, laptop)
	require.NoError(t, err)

	h.clock.Advance(24 * time.Hour)
	_, err = h.engine.Rotate(ctx, tokens.RefreshToken, laptop)
	require.ErrorIs(t, err, ErrInvalidCredential)
	require.ErrorIs(t, err, security.ErrExpiredCredential)
	require.NotErrorIs(t, err, ErrReuseDetected)
	require.True(t, sessionByDigest(t, h.store, tokens.RefreshToken).Active())
}

func TestRotate_ForgedCredentialLeavesStoreUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tokens, err := h.engine.Login(ctx, alice, laptop)
	require.NoError(t, err)
	donor, err := h.codec.SignRefresh(bob)
	require.NoError(t, err)

	parts := strings.Split(tokens.RefreshToken, ".")
	parts[2] = strings.Split(donor.Token, ".")[2]
	forged := strings.Join(parts, ".")

	_, err = h.engine.Rotate(ctx, forged, laptop)
	require.ErrorIs(t, err, ErrInvalidCredential)
	require.ErrorIs(t, err, security.ErrInvalidSignature)
	require.True(t, sessionByDigest(t, h.store, tokens.RefreshToken).Active())

	_, err = h.engine.Rotate(ctx, tokens.AccessToken, laptop)
	require.ErrorIs(t, err, security.ErrInvalidSignature, "access credential must not rotate")

	_, err = h.engine.Rotate(ctx, "not-a-token", laptop)
	require.ErrorIs(t, err, security.ErrMalformedCredential)
}

func TestRotate_ConcurrentPresentationsHaveOneWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tokens, err := h.engine.Login(ctx, alice, laptop)
	require.NoError(t, err)

	const workers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  []*Tokens
		reuseErr int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			got, err := h.engine.Rotate(ctx, tokens.RefreshToken, laptop)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, got)
			case errors.Is(err, ErrReuseDetected):
				reuseErr++
			default:
				t.Errorf("Rotate: unexpected error %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(winners) != 1 || reuseErr != workers-1 {
		t.Fatalf("winners = %d, reuse = %d", len(winners), reuseErr)
	}
	// Losers revoked everything, including the winner's fresh session.
	for _, s := range h.store.sessionsOf(alice.ID) {
		if s.Active() {
			t.Errorf("session %s still active", s.ID)
		}
	}
	if s := sessionByDigest(t, h.store, winners[0].RefreshToken); s == nil || s.State() != domain.StateRevoked {
		t.Errorf("winner session = %+v", s)
	}
}

func TestRotate_RevocationFailureIsReported(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first, err := h.engine.Login(ctx, alice, laptop)
	require.NoError(t, err)
	_, err = h.engine.Rotate(ctx, first.RefreshToken, laptop)
	require.NoError(t, err)

	h.store.revokeAllErr = errStoreDown
	_, err = h.engine.Rotate(ctx, first.RefreshToken, laptop)
	require.ErrorIs(t, err, ErrReuseDetected)
	require.ErrorIs(t, err, errStoreDown)
}

func TestRotate_StoreFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tokens, err := h.engine.Login(ctx, alice, laptop)
	require.NoError(t, err)

	h.store.findErr = errStoreDown
	_, err = h.engine.Rotate(ctx, tokens.RefreshToken, laptop)
	require.ErrorIs(t, err, errStoreDown)
	require.NotErrorIs(t, err, ErrReuseDetected)
}

func TestRotate_MismatchedSessionIsIntegrityError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tokens, err := h.engine.Login(ctx, alice, laptop)
	require.NoError(t, err)

	h.store.mu.Lock()
	h.store.byDigest[security.Digest(tokens.RefreshToken)].SessionNonce = "someone-else"
	h.store.mu.Unlock()

	_, err = h.engine.Rotate(ctx, tokens.RefreshToken, laptop)
	require.ErrorIs(t, err, ErrIntegrity)
	ev := h.waitEvent(t, teldomain.EventIntegrityViolation)
	require.Equal(t, alice.ID, ev.UserID)

	// A stored digest that does not hash from the presented credential.
	other, err := h.engine.Login(ctx, alice, laptop)
	require.NoError(t, err)
	h.store.mu.Lock()
	h.store.byDigest[security.Digest(other.RefreshToken)].TokenDigest = security.Digest("another-credential")
	h.store.mu.Unlock()

	_, err = h.engine.Rotate(ctx, other.RefreshToken, laptop)
	require.ErrorIs(t, err, ErrIntegrity)
	require.NotErrorIs(t, err, ErrReuseDetected)
	require.True(t, sessionByDigest(t, h.store, other.RefreshToken).Active(), "integrity failure must not retire the session")
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tokens, err := h.engine.Login(ctx, alice, laptop)
	require.NoError(t, err)

	require.NoError(t, h.engine.Logout(ctx, tokens.RefreshToken))
	s := sessionByDigest(t, h.store, tokens.RefreshToken)
	require.Equal(t, domain.StateRevoked, s.State())
	require.Nil(t, s.ReplacedBy)

	require.NoError(t, h.engine.Logout(ctx, tokens.RefreshToken), "second logout")
	require.NoError(t, h.engine.Logout(ctx, "garbage"))
	require.NoError(t, h.engine.Logout(ctx, ""))
	require.EqualValues(t, 1, h.counter(t, "session.revoked"))
	require.Equal(t, []string{audit.ActionLogin, audit.ActionLogout}, h.audit.actions())
}

func TestLogout_ExpiredCredentialStillRevokes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tokens, err := h.engine.Login(ctx, alice, laptop)
	require.NoError(t, err)

	h.clock.Advance(48 * time.Hour)
	require.NoError(t, h.engine.Logout(ctx, tokens.RefreshToken))
	require.False(t, sessionByDigest(t, h.store, tokens.RefreshToken).Active())
}

func TestVerifyAccess(t *testing.T) {
	h := newHarness(t)
	tokens, err := h.engine.Login(context.Background(), bob, laptop)
	require.NoError(t, err)

	_, err = h.engine.VerifyAccess(tokens.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidCredential)

	h.clock.Advance(15 * time.Minute)
	_, err = h.engine.VerifyAccess(tokens.AccessToken)
	require.ErrorIs(t, err, security.ErrExpiredCredential)
}

func TestRevokeAllForUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := h.engine.Login(ctx, alice, laptop)
		require.NoError(t, err)
	}

	n, err := h.engine.RevokeAllForUser(ctx, alice.ID, "password reset")
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
	ev := h.waitEvent(t, teldomain.EventSessionsRevoked)
	require.Equal(t, "3", ev.Attributes["revoked"])

	n, err = h.engine.RevokeAllForUser(ctx, alice.ID, "again")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestLookup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tokens, err := h.engine.Login(ctx, alice, laptop)
	require.NoError(t, err)

	s, err := h.engine.Lookup(ctx, tokens.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, alice.ID, s.UserID)

	s, err = h.engine.Lookup(ctx, "unknown")
	require.NoError(t, err)
	require.Nil(t, s)
}

// TestSessionLifecycle_Redis walks the login, rotate, replay and logout story against the
// Redis store.
func TestSessionLifecycle_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := newTestClock()
	store := repository.NewRedisRepository(client, "lifecycle", time.Second)
	engine, err := New(security.NewTestTokenCodec(clock.Now), store)
	require.NoError(t, err)
	ctx := context.Background()

	t1, err := engine.Login(ctx, alice, laptop)
	require.NoError(t, err)
	tb, err := engine.Login(ctx, bob, phone)
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	t2, err := engine.Rotate(ctx, t1.RefreshToken, laptop)
	require.NoError(t, err)
	clock.Advance(10 * time.Minute)
	t3, err := engine.Rotate(ctx, t2.RefreshToken, laptop)
	require.NoError(t, err)

	// An attacker replays the first credential.
	_, err = engine.Rotate(ctx, t1.RefreshToken, domain.ClientContext{IP: "198.51.100.7"})
	require.ErrorIs(t, err, ErrReuseDetected)

	s3 := sessionByDigest(t, store, t3.RefreshToken)
	require.Equal(t, domain.StateRevoked, s3.State())
	_, err = engine.Rotate(ctx, t3.RefreshToken, laptop)
	require.ErrorIs(t, err, ErrReuseDetected)

	require.True(t, sessionByDigest(t, store, tb.RefreshToken).Active())
	require.NoError(t, engine.Logout(ctx, tb.RefreshToken))
	require.False(t, sessionByDigest(t, store, tb.RefreshToken).Active())
}
