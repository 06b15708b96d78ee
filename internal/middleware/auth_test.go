package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/DukeRupert/brandedflow/internal/auth"
	"github.com/DukeRupert/brandedflow/internal/domain"
	"github.com/DukeRupert/brandedflow/internal/service"
	"github.com/DukeRupert/brandedflow/internal/session"
)

// =============================================================================
// Mock IdentityService Implementation
// =============================================================================

// mockIdentityService implements the session lookup of service.IdentityService.
// Calling any other method panics.
type mockIdentityService struct {
	service.IdentityService
	GetBySessionTokenFunc func(ctx context.Context, token string) (*domain.User, error)
}

func (m *mockIdentityService) GetBySessionToken(ctx context.Context, token string) (*domain.User, error) {
	if m.GetBySessionTokenFunc != nil {
		return m.GetBySessionTokenFunc(ctx, token)
	}
	return nil, errors.New("not implemented")
}

// =============================================================================
// Test Helpers
// =============================================================================

const testLoginURL = "https://example.com/member-login"

// newTestLogger creates a logger that discards output for testing.
func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only show errors in tests
	}))
}

// newTestAuthMiddleware creates an AuthMiddleware with mock service for testing.
func newTestAuthMiddleware(mock *mockIdentityService) *AuthMiddleware {
	return NewAuthMiddleware(mock, testLoginURL, newTestLogger(), false)
}

func sessionCookieCleared(rec *httptest.ResponseRecorder) bool {
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == session.CookieName && cookie.MaxAge == -1 {
			return true
		}
	}
	return false
}

// =============================================================================
// WithUser Middleware Tests
// =============================================================================

func TestWithUser_NoCookie_ContinuesWithoutUser(t *testing.T) {
	mw := newTestAuthMiddleware(&mockIdentityService{})

	handlerCalled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		if user := GetUser(r.Context()); user != nil {
			t.Errorf("expected nil user, got %+v", user)
		}
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/member-login", nil)
	rec := httptest.NewRecorder()
	mw.WithUser(handler).ServeHTTP(rec, req)

	if !handlerCalled {
		t.Error("handler was not called")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestWithUser_ValidCookie_SetsUserInContext(t *testing.T) {
	expectedUser := &domain.User{
		ID:    uuid.New(),
		Email: "test@example.com",
		Role:  domain.RoleSubscriber,
	}

	mock := &mockIdentityService{
		GetBySessionTokenFunc: func(ctx context.Context, token string) (*domain.User, error) {
			if token != "valid-token-123" {
				t.Errorf("GetBySessionToken called with token = %q, want %q", token, "valid-token-123")
			}
			return expectedUser, nil
		},
	}
	mw := newTestAuthMiddleware(mock)

	var capturedUser *domain.User
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedUser = auth.GetUser(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/member-account", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: "valid-token-123"})
	rec := httptest.NewRecorder()
	mw.WithUser(handler).ServeHTTP(rec, req)

	if capturedUser == nil {
		t.Fatal("user not set in context")
	}
	if capturedUser.ID != expectedUser.ID {
		t.Errorf("user.ID = %v, want %v", capturedUser.ID, expectedUser.ID)
	}
}

func TestWithUser_InvalidCookie_ClearsAndContinues(t *testing.T) {
	mock := &mockIdentityService{
		GetBySessionTokenFunc: func(ctx context.Context, token string) (*domain.User, error) {
			return nil, domain.Unauthorized("test", "invalid session")
		},
	}
	mw := newTestAuthMiddleware(mock)

	handlerCalled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		if user := GetUser(r.Context()); user != nil {
			t.Errorf("expected nil user, got %+v", user)
		}
	})

	req := httptest.NewRequest("GET", "/member-login", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: "invalid-token"})
	rec := httptest.NewRecorder()
	mw.WithUser(handler).ServeHTTP(rec, req)

	if !handlerCalled {
		t.Error("handler was not called")
	}
	if !sessionCookieCleared(rec) {
		t.Error("invalid session cookie was not cleared")
	}
}

func TestWithUser_StoreFailure_KeepsCookie(t *testing.T) {
	mock := &mockIdentityService{
		GetBySessionTokenFunc: func(ctx context.Context, token string) (*domain.User, error) {
			return nil, domain.Internal(errors.New("db down"), "test", "lookup failed")
		},
	}
	mw := newTestAuthMiddleware(mock)

	req := httptest.NewRequest("GET", "/member-login", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: "maybe-valid"})
	rec := httptest.NewRecorder()
	mw.WithUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)

	if sessionCookieCleared(rec) {
		t.Error("session cookie cleared on a transient store failure")
	}
}

// =============================================================================
// RequireUser Middleware Tests
// =============================================================================

func TestRequireUser_WithUser_ContinuesToHandler(t *testing.T) {
	mw := newTestAuthMiddleware(&mockIdentityService{})

	handlerCalled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("POST", "/member-account", nil)
	req = req.WithContext(auth.SetUser(req.Context(), &domain.User{ID: uuid.New()}))
	rec := httptest.NewRecorder()
	mw.RequireUser(handler).ServeHTTP(rec, req)

	if !handlerCalled {
		t.Error("handler was not called for authenticated user")
	}
}

func TestRequireUser_NoUser_HTMLRequest_Redirects(t *testing.T) {
	mw := newTestAuthMiddleware(&mockIdentityService{})

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called without a user")
	})

	req := httptest.NewRequest("GET", "/member-account?tab=profile", nil)
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()
	mw.RequireUser(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status code = %d, want %d", rec.Code, http.StatusSeeOther)
	}

	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("invalid Location: %v", err)
	}
	if loc.Path != "/member-login" {
		t.Errorf("Location path = %q, want /member-login", loc.Path)
	}
	if got := loc.Query().Get("redirect_to"); got != "/member-account?tab=profile" {
		t.Errorf("redirect_to = %q, want %q", got, "/member-account?tab=profile")
	}
}

func TestRequireUser_NoUser_APIRequest_Returns401(t *testing.T) {
	mw := newTestAuthMiddleware(&mockIdentityService{})

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called without a user")
	})

	req := httptest.NewRequest("GET", "/api/me", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	mw.RequireUser(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status code = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

// =============================================================================
// Stack Tests
// =============================================================================

func TestStack_OrderIsOutermostFirst(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Stack(mark("a"), mark("b"), mark("c"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	want := []string{"a", "b", "c", "handler"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}
