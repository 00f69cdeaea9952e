package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"

	userdomain "propertyhub/backend/internal/user/domain"
)

const authzQuery = "data.propertyhub.authz.allow"

// DefaultRolePolicy allows a principal whose role is in the operation's allowed roles.
const DefaultRolePolicy = `package propertyhub.authz

default allow := false

allow if {
	input.principal.role in input.allowed_roles
}
`

// RoleAuthorizer evaluates role checks with an OPA Rego policy prepared once at construction.
type RoleAuthorizer struct {
	query rego.PreparedEvalQuery
}

var _ Authorizer = (*RoleAuthorizer)(nil)

// NewRoleAuthorizer compiles policy, or DefaultRolePolicy when policy is empty. The policy must
// define data.propertyhub.authz.allow.
func NewRoleAuthorizer(ctx context.Context, policy string) (*RoleAuthorizer, error) {
	if policy == "" {
		policy = DefaultRolePolicy
	}
	q, err := rego.New(
		rego.Query(authzQuery),
		rego.Module("authz.rego", policy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile authz policy: %w", err)
	}
	return &RoleAuthorizer{query: q}, nil
}

// Allow evaluates the policy for p and allowed. An undefined result denies.
func (a *RoleAuthorizer) Allow(ctx context.Context, p userdomain.Principal, allowed []userdomain.Role) (bool, error) {
	roles := make([]any, 0, len(allowed))
	for _, r := range allowed {
		roles = append(roles, string(r))
	}
	input := map[string]any{
		"principal": map[string]any{
			"id":   p.ID,
			"role": string(p.Role),
		},
		"allowed_roles": roles,
	}
	rs, err := a.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("eval authz policy: %w", err)
	}
	return rs.Allowed(), nil
}

// HealthCheck verifies that the prepared policy evaluates to a boolean.
func (a *RoleAuthorizer) HealthCheck(ctx context.Context) error {
	rs, err := a.query.Eval(ctx, rego.EvalInput(map[string]any{
		"principal":     map[string]any{"id": "", "role": ""},
		"allowed_roles": []any{},
	}))
	if err != nil {
		return fmt.Errorf("eval authz policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return errors.New("authz policy returned no result")
	}
	if _, ok := rs[0].Expressions[0].Value.(bool); !ok {
		return fmt.Errorf("authz policy returned %T, want bool", rs[0].Expressions[0].Value)
	}
	return nil
}
