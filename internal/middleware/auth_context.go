package middleware

import "context"

type contextKey string

const authContextKey contextKey = "auth_context"

// AuthContext holds the identity carried by a validated bearer token.
// Full RBAC is out of scope (§1 Non-goals) — this is only the tenant/
// subject boundary the inbound API surface needs.
type AuthContext struct {
	TenantID string
	UserID   string
	TokenID  string // jti
}

// GetAuthContext retrieves the AuthContext from the context.
func GetAuthContext(ctx context.Context) (*AuthContext, bool) {
	val, ok := ctx.Value(authContextKey).(*AuthContext)
	return val, ok
}

// WithAuthContext attaches the AuthContext to the context.
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, ac)
}
