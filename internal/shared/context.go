package shared

import "context"

// Principal is an already-authenticated actor bound to a company for one request.
type Principal struct {
	UserID    int64
	CompanyID int64
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context. Only the HTTP boundary reads it back;
// services receive the principal explicitly.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok && p.UserID != 0
}
