package metadata

import (
	"context"
	"errors"
)

// UserContext represents the authenticated caller, set by auth middleware.
type UserContext struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenantId"`
	Roles    []string `json:"roles"`
}

// HasRole checks whether the user has a specific role.
func (u *UserContext) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type userKey struct{}

var ErrNoTenant = errors.New("no tenant in request context")

// WithUser stores the caller in ctx.
func WithUser(ctx context.Context, u *UserContext) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFrom returns the caller stored in ctx, or nil.
func UserFrom(ctx context.Context) *UserContext {
	u, _ := ctx.Value(userKey{}).(*UserContext)
	return u
}

// TenantFrom returns the caller's tenant. A missing tenant is an error so
// every tenant-scoped lookup fails closed.
func TenantFrom(ctx context.Context) (string, error) {
	u := UserFrom(ctx)
	if u == nil || u.TenantID == "" {
		return "", ErrNoTenant
	}
	return u.TenantID, nil
}
