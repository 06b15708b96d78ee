package flow

import (
	"net/url"
	"strings"
)

// Destination is a logical branded page.
type Destination string

const (
	DestLogin         Destination = "login"
	DestRegister      Destination = "register"
	DestLostPassword  Destination = "lostpassword"
	DestResetPassword Destination = "resetpass"
	DestAccount       Destination = "account"
)

// Page describes a branded page and its defaults.
type Page struct {
	Destination Destination
	Slug        string
	Title       string
	Form        string // template form name rendered on the page
}

// DefaultPages lists the branded pages in the order they are created.
func DefaultPages() []Page {
	return []Page{
		{DestLogin, "member-login", "Sign In", "login_form"},
		{DestAccount, "member-account", "Your Account", "account_form"},
		{DestRegister, "member-register", "Register", "register_form"},
		{DestLostPassword, "member-password-lost", "Forgot Your Password?", "lostpassword_form"},
		{DestResetPassword, "member-password-reset", "Pick a New Password", "resetpass_form"},
	}
}

// PageFor returns the default page for dest.
func PageFor(dest Destination) (Page, bool) {
	for _, p := range DefaultPages() {
		if p.Destination == dest {
			return p, true
		}
	}
	return Page{}, false
}

// PageResolver maps a destination to the URL of its branded page.
type PageResolver interface {
	URL(dest Destination) string
}

// SlugResolver resolves destinations to "<site>/<slug>" and lets any single
// destination be pointed elsewhere.
type SlugResolver struct {
	site      string
	slugs     map[Destination]string
	overrides map[Destination]string
}

// NewSlugResolver builds a resolver rooted at siteURL. siteURL may be empty
// for site-relative URLs.
func NewSlugResolver(siteURL string) *SlugResolver {
	r := &SlugResolver{
		site:      strings.TrimSuffix(siteURL, "/"),
		slugs:     make(map[Destination]string),
		overrides: make(map[Destination]string),
	}
	for _, p := range DefaultPages() {
		r.slugs[p.Destination] = p.Slug
	}
	return r
}

// Override points dest at rawURL. An empty rawURL restores the default.
func (r *SlugResolver) Override(dest Destination, rawURL string) *SlugResolver {
	if rawURL == "" {
		delete(r.overrides, dest)
		return r
	}
	r.overrides[dest] = rawURL
	return r
}

// URL implements PageResolver.
func (r *SlugResolver) URL(dest Destination) string {
	if u, ok := r.overrides[dest]; ok {
		return u
	}
	slug, ok := r.slugs[dest]
	if !ok {
		return r.site + "/"
	}
	return r.site + "/" + slug
}

// Path returns the path component of dest's URL, for mounting handlers.
func (r *SlugResolver) Path(dest Destination) string {
	u, err := url.Parse(r.URL(dest))
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

// Actions accepted on the platform auth endpoint.
const (
	ActionLogin        = "login"
	ActionLogout       = "logout"
	ActionRegister     = "register"
	ActionLostPassword = "lostpassword"
	ActionRP           = "rp"
	ActionResetPass    = "resetpass"
)

// ActionURL returns the platform auth endpoint for action with params
// attached. An empty action means login.
func ActionURL(authURL, action string, params url.Values) string {
	q := url.Values{}
	for k, vs := range params {
		q[k] = append([]string(nil), vs...)
	}
	if action != "" && action != ActionLogin {
		q.Set(KeyAction, action)
	}
	return AddQuery(authURL, q)
}

// ResetLink is the link mailed to a user: the platform endpoint with the rp
// action, the key and the login it is bound to.
func ResetLink(authURL, key, login string) string {
	return ActionURL(authURL, ActionRP, url.Values{
		KeyKey:        {key},
		KeyResetLogin: {login},
	})
}

// Actions lists every action the platform auth endpoint accepts.
func Actions() []string {
	return []string{ActionLogin, ActionLogout, ActionRegister, ActionLostPassword, ActionRP, ActionResetPass}
}
