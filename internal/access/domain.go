// Package access resolves the authenticated principal for a request and gates
// the administrative area.
package access

import (
	"context"
	"errors"
)

// ErrUnknownPrincipal is returned by loaders when the session user no longer exists.
var ErrUnknownPrincipal = errors.New("access: unknown principal")

// Principal describes the actor behind a request.
type Principal struct {
	ID          int64
	Username    string
	DisplayName string
	IsStaff     bool
	IsSuperuser bool
	IsActive    bool
}

// Authenticated reports whether the principal is a signed-in, active user.
func (p Principal) Authenticated() bool {
	return p.ID > 0 && p.IsActive
}

// Privileged reports whether the principal may use the administrative area.
func (p Principal) Privileged() bool {
	return p.Authenticated() && (p.IsStaff || p.IsSuperuser)
}

// PrincipalLoader resolves a principal by user id.
type PrincipalLoader interface {
	LoadPrincipal(ctx context.Context, id int64) (Principal, error)
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext returns the request principal; anonymous when absent.
func PrincipalFromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(principalContextKey{}).(Principal)
	return p
}
