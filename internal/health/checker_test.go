package health

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	policyengine "propertyhub/backend/internal/policy/engine"
)

// mockPinger implements Pinger for tests.
type mockPinger struct {
	pingErr error
}

func (m *mockPinger) PingContext(context.Context) error {
	return m.pingErr
}

func servingStatus(t *testing.T, srv *health.Server) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := srv.Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	return resp.GetStatus()
}

func TestChecker_AllHealthy(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	authz, err := policyengine.NewRoleAuthorizer(context.Background(), "")
	if err != nil {
		t.Fatalf("NewRoleAuthorizer: %v", err)
	}

	c := NewChecker(nil,
		PingCheck("postgres", &mockPinger{}),
		RedisCheck("redis", client),
		PolicyCheck(authz),
	)
	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}

	srv := health.NewServer()
	srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	c.Update(context.Background(), srv)
	if got := servingStatus(t, srv); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", got)
	}
}

func TestChecker_FailureNamesProbe(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	pingErr := errors.New("connection refused")
	c := NewChecker(nil,
		PingCheck("postgres", &mockPinger{pingErr: pingErr}),
		RedisCheck("redis", client),
	)
	err = c.Check(context.Background())
	if !errors.Is(err, pingErr) {
		t.Fatalf("want ping error, got %v", err)
	}
	if !strings.Contains(err.Error(), "postgres:") || !strings.Contains(err.Error(), "redis:") {
		t.Errorf("error should name both probes: %v", err)
	}

	srv := health.NewServer()
	c.Update(context.Background(), srv)
	if got := servingStatus(t, srv); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status = %v, want NOT_SERVING", got)
	}
}

func TestChecker_WatchStopsWithContext(t *testing.T) {
	pinger := &mockPinger{}
	c := NewChecker(nil, PingCheck("db", pinger))
	srv := health.NewServer()
	srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Watch(ctx, srv, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for servingStatus(t, srv) != healthpb.HealthCheckResponse_SERVING {
		if time.Now().After(deadline) {
			t.Fatal("Watch never reported SERVING")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
