package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"propertyhub/backend/internal/session/domain"
	"propertyhub/backend/internal/session/repository"
	teldomain "propertyhub/backend/internal/telemetry/domain"
)

// memStore is an in-memory repository.Store. The mutex stands in for the database's
// row-level atomicity.
type memStore struct {
	mu       sync.Mutex
	byDigest map[string]*domain.RefreshSession
	now      func() time.Time

	revokeAllErr error
	findErr      error
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{byDigest: map[string]*domain.RefreshSession{}, now: now}
}

func (m *memStore) Create(_ context.Context, s *domain.RefreshSession) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byDigest[s.TokenDigest]; ok {
		return "", repository.ErrIntegrity
	}
	cp := *s
	m.byDigest[s.TokenDigest] = &cp
	return s.ID, nil
}

func (m *memStore) FindByDigest(_ context.Context, digest string) (*domain.RefreshSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	s, ok := m.byDigest[digest]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) Rotate(_ context.Context, oldDigest string, next *domain.RefreshSession) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.byDigest[oldDigest]
	if !ok || old.RevokedAt != nil {
		return false, nil
	}
	if _, dup := m.byDigest[next.TokenDigest]; dup {
		return false, repository.ErrIntegrity
	}
	now := m.now()
	replacedBy := next.TokenDigest
	old.RevokedAt = &now
	old.ReplacedBy = &replacedBy
	cp := *next
	m.byDigest[next.TokenDigest] = &cp
	return true, nil
}

func (m *memStore) RevokeAllForUser(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.revokeAllErr != nil {
		return 0, m.revokeAllErr
	}
	now := m.now()
	var n int64
	for _, s := range m.byDigest {
		if s.UserID == userID && s.RevokedAt == nil {
			s.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

func (m *memStore) RevokeByDigest(_ context.Context, digest string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byDigest[digest]
	if !ok || s.RevokedAt != nil {
		return false, nil
	}
	now := m.now()
	s.RevokedAt = &now
	return true, nil
}

func (m *memStore) sessionsOf(userID string) []domain.RefreshSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.RefreshSession
	for _, s := range m.byDigest {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type auditEntry struct {
	userID   string
	action   string
	metadata map[string]any
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (f *fakeAudit) LogEvent(_ context.Context, userID, action, _ string, metadata map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, auditEntry{userID: userID, action: action, metadata: metadata})
}

func (f *fakeAudit) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.action)
	}
	return out
}

type chanEmitter struct {
	events chan *teldomain.SecurityEvent
}

func newChanEmitter() *chanEmitter {
	return &chanEmitter{events: make(chan *teldomain.SecurityEvent, 64)}
}

func (c *chanEmitter) Emit(_ context.Context, e *teldomain.SecurityEvent) error {
	c.events <- e
	return nil
}

var errStoreDown = errors.New("store unavailable")
