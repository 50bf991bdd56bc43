package auth

import (
	"context"

	"github.com/aurelia-erp/be-approvals/internal/common/errors"
)

// UserContext carries the authenticated caller identity. Session resolution
// happens upstream (API gateway); this service trusts the forwarded headers.
type UserContext struct {
	UserID   string
	TenantID string
}

type contextKey struct{}

// WithUserContext attaches a caller identity to the context.
func WithUserContext(ctx context.Context, uc UserContext) context.Context {
	return context.WithValue(ctx, contextKey{}, uc)
}

// GetUserContext returns the caller identity, or an Unauthorized error when
// the request carried no identity.
func GetUserContext(ctx context.Context) (UserContext, error) {
	uc, ok := ctx.Value(contextKey{}).(UserContext)
	if !ok || uc.UserID == "" || uc.TenantID == "" {
		return UserContext{}, errors.Unauthorized("missing caller identity")
	}
	return uc, nil
}
