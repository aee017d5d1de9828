package middleware

import (
	"net/http"
	"strings"

	"github.com/technosupport/intellioptics/internal/tokens"
)

// TokenValidator is the boundary the inbound API surface needs from a
// token issuer. Issuance, rotation, and revocation are out of scope
// (§1 Non-goals) — JWTAuth only verifies shape and signature.
type TokenValidator interface {
	ValidateToken(tokenString string) (*tokens.Claims, error)
}

// JWTAuth is a thin pass-through bearer-token check: it does not
// consult a permission store or blacklist, it only verifies the token
// and injects the tenant/subject it names into the request context.
type JWTAuth struct {
	tokens TokenValidator
}

func NewJWTAuth(t TokenValidator) *JWTAuth {
	return &JWTAuth{tokens: t}
}

func (m *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := m.tokens.ValidateToken(parts[1])
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if claims.TokenType != tokens.Access {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ac := &AuthContext{TenantID: claims.TenantID, UserID: claims.UserID, TokenID: claims.ID}
		next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), ac)))
	})
}
