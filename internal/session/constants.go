// Package session holds the session cookie contract shared by the platform
// auth endpoint, which sets the cookie, and the middleware that reads it.
package session

const (
	// CookieName is the name of the cookie that stores the raw session token.
	CookieName = "brandedflow_session"

	// CookiePath scopes the cookie to the whole site so branded pages and
	// the auth endpoint both see it.
	CookiePath = "/"

	// CookieMaxAge is the fallback cookie lifetime in seconds (24 hours)
	// when no session duration is configured. It matches
	// service.DefaultSessionDuration.
	CookieMaxAge = 24 * 60 * 60
)
