// Package flow holds the redirect protocol shared by every account flow:
// the query-string codec, the message catalog, the reset key gate, the
// post-login destination router and the branded page resolver.
//
// Nothing in this package keeps state between requests. Everything a later
// request needs to know about an earlier one travels in the redirect URL and
// is re-validated when it comes back.
package flow

import (
	"errors"
	"net/url"
	"strings"
)

// Query keys recognized by the redirect protocol.
const (
	KeyRedirectTo     = "redirect_to"
	KeyAction         = "action"
	KeyLoginErrors    = "login" // login page: failure codes
	KeyResetLogin     = "login" // reset page: the login the key is bound to
	KeyRegisterErrors = "register-errors"
	KeyLostErrors     = "errors"
	KeyResetErrors    = "error"
	KeyRegistered     = "registered"
	KeyCheckEmail     = "checkemail"
	KeyLoggedOut      = "logged_out"
	KeyPassword       = "password"
	KeyKey            = "key"
	KeyRPKey          = "rp_key"
	KeyRPLogin        = "rp_login"
	KeyUpdated        = "updated"
)

// Confirmation values.
const (
	CheckEmailConfirm = "confirm"
	LoggedOutTrue     = "true"
	PasswordChanged   = "changed"
	UpdatedTrue       = "true"
)

// Delimiter separates codes inside a single query value.
const Delimiter = ","

// ErrCodeDelimiter is returned when a code contains the delimiter and so
// could not survive a decode unchanged.
var ErrCodeDelimiter = errors.New("flow: code contains delimiter")

// Encode stores codes under key in q, joined by Delimiter. Empty codes are
// skipped and an empty result removes key. If any code contains the
// delimiter q is not modified.
func Encode(q url.Values, key string, codes []string) error {
	kept := make([]string, 0, len(codes))
	for _, c := range codes {
		if strings.Contains(c, Delimiter) {
			return ErrCodeDelimiter
		}
		if c != "" {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		q.Del(key)
		return nil
	}
	q.Set(key, strings.Join(kept, Delimiter))
	return nil
}

// Decode reads the codes stored under key. Order and duplicates are kept;
// empty segments are dropped. An absent key yields nil.
func Decode(q url.Values, key string) []string {
	raw := q.Get(key)
	if raw == "" {
		return nil
	}
	var codes []string
	for _, c := range strings.Split(raw, Delimiter) {
		if c != "" {
			codes = append(codes, c)
		}
	}
	return codes
}

// AddQuery returns base with params merged into its query string. Values
// already on base are replaced by params with the same key.
func AddQuery(base string, params url.Values) string {
	if len(params) == 0 {
		return base
	}
	u, err := url.Parse(base)
	if err != nil {
		sep := "?"
		if strings.Contains(base, "?") {
			sep = "&"
		}
		return base + sep + params.Encode()
	}
	q := u.Query()
	for k, vs := range params {
		q.Del(k)
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// RedirectMessage is one hop of the protocol: codes under Key plus any
// echoed fields, to be attached to a destination URL.
type RedirectMessage struct {
	Key    string
	Codes  []string
	Fields url.Values
}

// Message starts a RedirectMessage carrying codes under key.
func Message(key string, codes ...string) *RedirectMessage {
	return &RedirectMessage{Key: key, Codes: codes, Fields: url.Values{}}
}

// With echoes a field. Empty values are skipped.
func (m *RedirectMessage) With(key, value string) *RedirectMessage {
	if m.Fields == nil {
		m.Fields = url.Values{}
	}
	if value != "" {
		m.Fields.Set(key, value)
	}
	return m
}

// URL serializes the message onto base. A code that cannot be encoded is
// replaced by the unknown code so the redirect still reports a failure.
func (m *RedirectMessage) URL(base string) string {
	params := url.Values{}
	for k, vs := range m.Fields {
		params[k] = append([]string(nil), vs...)
	}
	if m.Key != "" && len(m.Codes) > 0 {
		if err := Encode(params, m.Key, m.Codes); err != nil {
			params.Set(m.Key, "unknown")
		}
	}
	return AddQuery(base, params)
}
