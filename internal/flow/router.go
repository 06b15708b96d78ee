package flow

import (
	"net/url"
	"strings"

	"github.com/DukeRupert/brandedflow/internal/domain"
)

// DestinationResolver decides where an authenticated principal goes.
type DestinationResolver interface {
	DestinationFor(user *domain.User, requested string) string
}

// RoleRouter sends elevated principals to a requested same-site URL or the
// admin home, and everyone else to the branded account page.
type RoleRouter struct {
	pages    PageResolver
	siteURL  string
	adminURL string
}

// NewRoleRouter creates a router. siteURL is the site home and the host
// reference for redirect checks; adminURL is the elevated landing page.
func NewRoleRouter(pages PageResolver, siteURL, adminURL string) *RoleRouter {
	if siteURL == "" {
		siteURL = "/"
	}
	if adminURL == "" {
		adminURL = strings.TrimSuffix(siteURL, "/") + "/admin/"
	}
	return &RoleRouter{pages: pages, siteURL: siteURL, adminURL: adminURL}
}

// DestinationFor implements DestinationResolver. A nil user goes to the site
// home. Standard users never get their requested URL honored.
func (r *RoleRouter) DestinationFor(user *domain.User, requested string) string {
	if user == nil {
		return r.siteURL
	}
	if !user.IsElevated() {
		return r.pages.URL(DestAccount)
	}
	if requested != "" && IsSafeRedirect(requested, r.siteURL) {
		return requested
	}
	return r.adminURL
}

// Home returns the site home URL.
func (r *RoleRouter) Home() string {
	return r.siteURL
}

// IsSafeRedirect reports whether target stays on the site. Site-relative
// paths are safe unless protocol-relative; absolute http(s) URLs are safe
// only when their host matches siteURL's host.
func IsSafeRedirect(target, siteURL string) bool {
	if target == "" {
		return false
	}
	// Browsers treat backslashes like slashes, so "/\evil.com" is protocol-relative.
	if strings.ContainsAny(target, "\\\r\n\t") {
		return false
	}

	if strings.HasPrefix(target, "/") {
		if strings.HasPrefix(target, "//") {
			return false
		}
		parsed, err := url.Parse(target)
		if err != nil {
			return false
		}
		return parsed.Scheme == "" && parsed.Host == ""
	}

	parsed, err := url.Parse(target)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	site, err := url.Parse(siteURL)
	if err != nil || site.Host == "" {
		return false
	}
	return strings.EqualFold(parsed.Host, site.Host)
}

// ValidateRedirect returns target if it is safe, otherwise fallback.
func ValidateRedirect(target, fallback, siteURL string) string {
	if IsSafeRedirect(target, siteURL) {
		return target
	}
	return fallback
}
