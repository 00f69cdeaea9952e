package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	identityservice "propertyhub/backend/internal/identity/service"
	policyengine "propertyhub/backend/internal/policy/engine"
	"propertyhub/backend/internal/security"
	"propertyhub/backend/internal/server/interceptors"
	sessionhandler "propertyhub/backend/internal/session/handler"
	sessionrepo "propertyhub/backend/internal/session/repository"
	sessionservice "propertyhub/backend/internal/session/service"
	userdomain "propertyhub/backend/internal/user/domain"
)

// mockServiceRegistrar implements grpc.ServiceRegistrar for testing.
type mockServiceRegistrar struct {
	services []string
}

func (m *mockServiceRegistrar) RegisterService(desc *grpc.ServiceDesc, impl any) {
	m.services = append(m.services, desc.ServiceName)
}

func TestRegisterServices(t *testing.T) {
	reg := &mockServiceRegistrar{}
	RegisterServices(reg, Deps{})
	require.Equal(t, []string{sessionhandler.ServiceName, "grpc.health.v1.Health"}, reg.services)
}

type staticDirectory map[string]*userdomain.User

func (d staticDirectory) GetByEmail(_ context.Context, email string) (*userdomain.User, error) {
	return d[email], nil
}

func startServer(t *testing.T) *grpc.ClientConn {
	t.Helper()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	engine, err := sessionservice.New(security.NewTestTokenCodec(nil), sessionrepo.NewRedisRepository(rdb, "srv", time.Second))
	require.NoError(t, err)

	hasher := security.NewHasher(bcrypt.MinCost)
	hash, err := hasher.Hash([]byte("s3cret-pass"))
	require.NoError(t, err)
	users := staticDirectory{
		"admin@example.com":  {ID: "u-admin", Email: "admin@example.com", PasswordHash: hash, Role: userdomain.RoleAdmin, Status: userdomain.UserStatusActive},
		"tenant@example.com": {ID: "u-tenant", Email: "tenant@example.com", PasswordHash: hash, Role: userdomain.RoleTenant, Status: userdomain.UserStatusActive},
	}
	authz, err := policyengine.NewRoleAuthorizer(ctx, "")
	require.NoError(t, err)

	srv := NewGRPCServer(Deps{
		Engine:        engine,
		Authenticator: identityservice.NewPasswordAuthenticator(users, hasher, nil, nil),
		Authorizer:    authz,
	})
	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func withBearer(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}

func TestSessionService_EndToEnd(t *testing.T) {
	conn := startServer(t)
	client := sessionhandler.NewClient(conn)
	ctx := context.Background()

	_, err := client.Login(ctx, &sessionhandler.LoginRequest{Email: "tenant@example.com", Password: "wrong"})
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	first, err := client.Login(ctx, &sessionhandler.LoginRequest{Email: "tenant@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)
	require.Equal(t, "u-tenant", first.UserID)
	require.Equal(t, "TENANT", first.Role)

	me, err := client.WhoAmI(withBearer(ctx, first.AccessToken), &sessionhandler.WhoAmIRequest{})
	require.NoError(t, err)
	require.Equal(t, "tenant@example.com", me.Email)

	_, err = client.WhoAmI(ctx, &sessionhandler.WhoAmIRequest{})
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	// Refresh credential in metadata rather than the body.
	second, err := client.Refresh(metadata.AppendToOutgoingContext(ctx, interceptors.RefreshTokenMetadataKey, first.RefreshToken), &sessionhandler.RefreshRequest{})
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = client.Refresh(ctx, &sessionhandler.RefreshRequest{RefreshToken: first.RefreshToken})
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	// Reuse revoked the successor too.
	_, err = client.Refresh(ctx, &sessionhandler.RefreshRequest{RefreshToken: second.RefreshToken})
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = client.Logout(ctx, &sessionhandler.LogoutRequest{RefreshToken: "garbage"})
	require.NoError(t, err)
}

func TestSessionService_RevokeUserSessionsRequiresAdmin(t *testing.T) {
	conn := startServer(t)
	client := sessionhandler.NewClient(conn)
	ctx := context.Background()

	tenant, err := client.Login(ctx, &sessionhandler.LoginRequest{Email: "tenant@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)
	admin, err := client.Login(ctx, &sessionhandler.LoginRequest{Email: "admin@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)

	req := &sessionhandler.RevokeUserSessionsRequest{UserID: "u-tenant", Reason: "lost phone"}
	_, err = client.RevokeUserSessions(withBearer(ctx, tenant.AccessToken), req)
	require.Equal(t, codes.PermissionDenied, status.Code(err))

	resp, err := client.RevokeUserSessions(withBearer(ctx, admin.AccessToken), req)
	require.NoError(t, err)
	require.EqualValues(t, 1, resp.Revoked)

	_, err = client.Refresh(ctx, &sessionhandler.RefreshRequest{RefreshToken: tenant.RefreshToken})
	require.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestHealthService(t *testing.T) {
	conn := startServer(t)
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
