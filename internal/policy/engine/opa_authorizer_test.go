package engine

import (
	"context"
	"testing"

	userdomain "propertyhub/backend/internal/user/domain"
)

func TestRoleAuthorizer_HealthCheck(t *testing.T) {
	ctx := context.Background()
	a, err := NewRoleAuthorizer(ctx, "")
	if err != nil {
		t.Fatalf("NewRoleAuthorizer: %v", err)
	}
	if err := a.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestRoleAuthorizer_DefaultPolicy(t *testing.T) {
	ctx := context.Background()
	a, err := NewRoleAuthorizer(ctx, "")
	if err != nil {
		t.Fatalf("NewRoleAuthorizer: %v", err)
	}
	staff := []userdomain.Role{userdomain.RoleAdmin, userdomain.RoleManager}
	testCases := []struct {
		name    string
		role    userdomain.Role
		allowed []userdomain.Role
		want    bool
	}{
		{"admin in staff", userdomain.RoleAdmin, staff, true},
		{"manager in staff", userdomain.RoleManager, staff, true},
		{"tenant not in staff", userdomain.RoleTenant, staff, false},
		{"tenant only", userdomain.RoleTenant, []userdomain.Role{userdomain.RoleTenant}, true},
		{"empty allowed list", userdomain.RoleAdmin, nil, false},
		{"unknown role", "OWNER", staff, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := userdomain.Principal{ID: "u1", Email: "u1@example.com", Role: tc.role}
			got, err := a.Allow(ctx, p, tc.allowed)
			if err != nil {
				t.Fatalf("Allow: %v", err)
			}
			if got != tc.want {
				t.Errorf("Allow = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRoleAuthorizer_CustomPolicy(t *testing.T) {
	ctx := context.Background()
	// Admins pass every role check.
	policy := `package propertyhub.authz

default allow := false

allow if input.principal.role == "ADMIN"

allow if {
	input.principal.role in input.allowed_roles
}
`
	a, err := NewRoleAuthorizer(ctx, policy)
	if err != nil {
		t.Fatalf("NewRoleAuthorizer: %v", err)
	}
	admin := userdomain.Principal{ID: "a", Email: "a@example.com", Role: userdomain.RoleAdmin}
	ok, err := a.Allow(ctx, admin, []userdomain.Role{userdomain.RoleTenant})
	if err != nil || !ok {
		t.Fatalf("Allow(admin) = %v, %v", ok, err)
	}
}

func TestRoleAuthorizer_InvalidPolicy(t *testing.T) {
	if _, err := NewRoleAuthorizer(context.Background(), "package broken\nallow if {"); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestRoleAuthorizer_HealthCheckRejectsNonBoolean(t *testing.T) {
	ctx := context.Background()
	a, err := NewRoleAuthorizer(ctx, "package propertyhub.authz\n\nallow := \"yes\"\n")
	if err != nil {
		t.Fatalf("NewRoleAuthorizer: %v", err)
	}
	if err := a.HealthCheck(ctx); err == nil {
		t.Fatal("expected HealthCheck error for non-boolean allow")
	}
}
