// Package middleware wraps the service mux: session resolution, request
// logging, security headers and /metrics authentication. Each middleware is
// a func(http.Handler) http.Handler composed with Stack.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/DukeRupert/brandedflow/internal/auth"
	"github.com/DukeRupert/brandedflow/internal/domain"
	"github.com/DukeRupert/brandedflow/internal/flow"
	"github.com/DukeRupert/brandedflow/internal/handler"
	"github.com/DukeRupert/brandedflow/internal/service"
	"github.com/DukeRupert/brandedflow/internal/session"
)

// GetUser returns the principal WithUser stored, or nil.
func GetUser(ctx context.Context) *domain.User {
	return auth.GetUser(ctx)
}

// AuthMiddleware resolves the session cookie to a principal.
type AuthMiddleware struct {
	identity service.IdentityService
	loginURL string
	logger   *slog.Logger
	isSecure bool
}

// NewAuthMiddleware creates the middleware. loginURL is the branded login
// page RequireUser sends anonymous visitors to.
func NewAuthMiddleware(identity service.IdentityService, loginURL string, logger *slog.Logger, isSecure bool) *AuthMiddleware {
	return &AuthMiddleware{
		identity: identity,
		loginURL: loginURL,
		logger:   logger,
		isSecure: isSecure,
	}
}

// WithUser loads the principal for the session cookie, if any, and always
// continues. A rejected token clears the cookie; a store outage leaves it
// alone so a transient failure does not sign anyone out.
func (m *AuthMiddleware) WithUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(session.CookieName)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}

		user, err := m.identity.GetBySessionToken(r.Context(), cookie.Value)
		if err != nil {
			if domain.ErrorCode(err) == domain.EINTERNAL {
				m.logger.Error("session lookup failed", "error", err)
			} else {
				clearSessionCookie(w, m.isSecure)
			}
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.SetUser(r.Context(), user)))
	})
}

// RequireUser admits only signed-in principals. It must run inside WithUser.
// Anonymous browsers go to the login page with redirect_to set to the
// current URL; API clients get a 401.
func (m *AuthMiddleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUser(r.Context()) != nil {
			next.ServeHTTP(w, r)
			return
		}

		if isAPIRequest(r) {
			handler.UnauthorizedResponse(w, r, m.logger)
			return
		}

		returnTo := r.URL.Path
		if r.URL.RawQuery != "" {
			returnTo += "?" + r.URL.RawQuery
		}
		target := flow.AddQuery(m.loginURL, url.Values{flow.KeyRedirectTo: {returnTo}})
		http.Redirect(w, r, target, http.StatusSeeOther)
	})
}

// clearSessionCookie expires the session cookie.
func clearSessionCookie(w http.ResponseWriter, isSecure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     session.CookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   isSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// isAPIRequest reports whether the client wants JSON rather than a redirect.
func isAPIRequest(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "application/json") {
		return true
	}

	contentType := r.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		return true
	}

	return strings.HasPrefix(r.URL.Path, "/api/")
}

// Stack composes middleware. The first argument is the outermost.
//
//	handler := Stack(metricsMw.Handler, loggingMw.Handler, authMw.WithUser)(mux)
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// Ensure middleware functions have correct signature
var (
	_ func(http.Handler) http.Handler = (&AuthMiddleware{}).WithUser
	_ func(http.Handler) http.Handler = (&AuthMiddleware{}).RequireUser
)
