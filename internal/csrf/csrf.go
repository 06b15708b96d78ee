// Package csrf protects the auth form posts with a double-submit cookie.
//
// Every rendered form carries the value of the csrf_token cookie in a hidden
// field. A cross-site attacker can make the browser send the cookie but
// cannot read it, so it cannot put the matching value into the form body.
package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
)

const (
	// CookieName is the name of the CSRF token cookie.
	CookieName = "csrf_token"

	// FormFieldName is the name of the hidden form field.
	FormFieldName = "csrf_token"

	// TokenLength is the number of random bytes for the token (32 bytes = 256 bits).
	TokenLength = 32

	// CookieMaxAge is the lifetime of the CSRF cookie (2 hours). A form
	// left open longer than this fails with the csrf code and is re-rendered
	// with a fresh token.
	CookieMaxAge = 2 * 60 * 60
)

// GenerateToken returns 32 random bytes, base64 URL-encoded (43 characters).
func GenerateToken() (string, error) {
	b := make([]byte, TokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ValidateToken compares the cookie token with the form token in constant time.
func ValidateToken(cookieToken, formToken string) bool {
	if cookieToken == "" || formToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookieToken), []byte(formToken)) == 1
}

// ValidateRequest reports whether the posted csrf_token field matches the
// cookie. ParseForm must have been called. Only the request body is
// consulted; a token in the query string is ignored.
func ValidateRequest(r *http.Request) bool {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return false
	}
	return ValidateToken(cookie.Value, r.PostFormValue(FormFieldName))
}

// ValidateQuery reports whether the csrf_token query parameter matches the
// cookie. It guards the few GET endpoints that change state, such as a
// sign-out link.
func ValidateQuery(r *http.Request) bool {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return false
	}
	return ValidateToken(cookie.Value, r.URL.Query().Get(FormFieldName))
}

// SetCookie sets the CSRF token cookie on the response.
//
// SameSite is Lax rather than Strict: visitors reach the reset form from a
// link in an email, and a Strict cookie would be withheld on that first
// navigation.
func SetCookie(w http.ResponseWriter, token string, isSecure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   CookieMaxAge,
		HttpOnly: true, // the token reaches the form server-side
		Secure:   isSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// EnsureToken returns the request's CSRF token, issuing a new cookie when
// the request has none. Page handlers call it on every GET that renders a
// form.
func EnsureToken(w http.ResponseWriter, r *http.Request, isSecure bool) string {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	token, err := GenerateToken()
	if err != nil {
		// crypto/rand does not fail on supported platforms
		panic("csrf: failed to generate token: " + err.Error())
	}
	SetCookie(w, token, isSecure)
	return token
}
