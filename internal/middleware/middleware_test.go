package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/technosupport/intellioptics/internal/middleware"
	"github.com/technosupport/intellioptics/internal/tokens"
)

type mockTokenValidator struct{}

func (m mockTokenValidator) ValidateToken(token string) (*tokens.Claims, error) {
	if token == "valid-access" {
		return &tokens.Claims{TenantID: "tenant-1", UserID: "admin-user", TokenType: tokens.Access}, nil
	}
	return nil, tokens.ErrInvalidToken
}

func TestJWTAuthMiddleware_Success(t *testing.T) {
	mw := middleware.NewJWTAuth(mockTokenValidator{})

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer valid-access")
	w := httptest.NewRecorder()

	mw.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, ok := middleware.GetAuthContext(r.Context())
		if !ok || ac.UserID != "admin-user" {
			t.Errorf("AuthContext missing or invalid")
		}
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestJWTAuthMiddleware_MissingHeader(t *testing.T) {
	mw := middleware.NewJWTAuth(mockTokenValidator{})
	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()

	mw.Middleware(nil).ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func TestJWTAuthMiddleware_InvalidToken(t *testing.T) {
	mw := middleware.NewJWTAuth(mockTokenValidator{})
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w := httptest.NewRecorder()

	mw.Middleware(nil).ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}
