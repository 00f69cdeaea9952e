// Package health reports readiness of the server's dependencies through the standard gRPC
// health service.
package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"propertyhub/backend/internal/logging"
)

const defaultCheckTimeout = 2 * time.Second

// Pinger is implemented by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker is implemented by the OPA role authorizer.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Check is one named readiness probe.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// PingCheck adapts a Pinger (e.g. *sql.DB) to a Check.
func PingCheck(name string, p Pinger) Check {
	return Check{Name: name, Fn: p.PingContext}
}

// RedisCheck pings a Redis client.
func RedisCheck(name string, c redis.UniversalClient) Check {
	return Check{Name: name, Fn: func(ctx context.Context) error { return c.Ping(ctx).Err() }}
}

// PolicyCheck adapts a PolicyChecker to a Check.
func PolicyCheck(p PolicyChecker) Check {
	return Check{Name: "policy", Fn: p.HealthCheck}
}

// Checker runs readiness probes and publishes the result to a gRPC health server.
type Checker struct {
	checks  []Check
	timeout time.Duration
	log     logging.Logger
}

// NewChecker returns a Checker over checks. log may be nil.
func NewChecker(log logging.Logger, checks ...Check) *Checker {
	if log == nil {
		log = logging.Nop()
	}
	return &Checker{checks: checks, timeout: defaultCheckTimeout, log: log}
}

// Check runs every probe with a per-probe timeout and joins the failures.
func (c *Checker) Check(ctx context.Context) error {
	var errs []error
	for _, check := range c.checks {
		checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := check.Fn(checkCtx)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", check.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Update runs the probes once and sets the overall ("") serving status of srv.
func (c *Checker) Update(ctx context.Context, srv *health.Server) {
	if err := c.Check(ctx); err != nil {
		c.log.Warn(ctx, "readiness check failed", "err", err)
		srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
}

// Watch calls Update immediately and then every interval until ctx is done.
func (c *Checker) Watch(ctx context.Context, srv *health.Server, interval time.Duration) {
	c.Update(ctx, srv)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Update(ctx, srv)
		}
	}
}
