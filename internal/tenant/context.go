// Package tenant carries the tenant scope of an operation through its call
// chain. Every tenant-scoped store method takes a Scope explicitly; the
// context carriage here exists so transport layers can establish the scope
// once per inbound operation.
package tenant

import (
	"context"

	apperrors "ticketflow/internal/errors"
)

// Role is the caller role attached to a scope.
type Role string

const (
	RoleSystem     Role = "system"
	RoleAgent      Role = "agent"
	RoleSuperAdmin Role = "super"
)

// Scope identifies the tenant and role a single operation runs under.
type Scope struct {
	TenantID int64
	Role     Role
}

// IsSuperAdmin reports whether the scope bypasses tenant isolation.
func (s Scope) IsSuperAdmin() bool {
	return s.Role == RoleSuperAdmin
}

// Validate fails when a tenant-scoped operation has no resolvable tenant.
func (s Scope) Validate() error {
	if s.IsSuperAdmin() {
		return nil
	}
	if s.TenantID <= 0 {
		return apperrors.New(apperrors.ErrCodeTenantContextRequired, "operation requires a tenant scope")
	}
	return nil
}

// System returns a scope for internal processing on behalf of one tenant.
func System(tenantID int64) Scope {
	return Scope{TenantID: tenantID, Role: RoleSystem}
}

// Super returns the distinguished scope that bypasses tenant isolation.
// Only internal processes (event ingestion fan-out, the SLA sweep) use it.
func Super() Scope {
	return Scope{Role: RoleSuperAdmin}
}

type contextKey struct{}

// WithScope attaches the scope to the context for the current operation.
func WithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, contextKey{}, scope)
}

// FromContext returns the scope established for the current operation.
func FromContext(ctx context.Context) (Scope, bool) {
	scope, ok := ctx.Value(contextKey{}).(Scope)
	return scope, ok
}
