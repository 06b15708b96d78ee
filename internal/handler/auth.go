// Package handler contains the HTTP handlers for the branded account flows.
//
// This file implements the platform auth endpoint: the guard that moves GET
// requests onto the branded pages, and the POST handlers for login,
// registration, lost password, reset completion and logout. Every outcome is
// a redirect whose query string carries the result to the next page.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/brandedflow/internal/auth"
	"github.com/DukeRupert/brandedflow/internal/csrf"
	"github.com/DukeRupert/brandedflow/internal/domain"
	"github.com/DukeRupert/brandedflow/internal/flow"
	"github.com/DukeRupert/brandedflow/internal/metrics"
	"github.com/DukeRupert/brandedflow/internal/service"
	"github.com/DukeRupert/brandedflow/internal/session"
)

// =============================================================================
// Handler Configuration
// =============================================================================

// AuthConfig holds the switches of the platform auth endpoint.
type AuthConfig struct {
	// RegistrationOpen allows new accounts to be created.
	RegistrationOpen bool

	// IsSecure sets the Secure flag on cookies (true in production).
	IsSecure bool

	// SessionMaxAge is the session cookie lifetime in seconds. Zero uses
	// session.CookieMaxAge.
	SessionMaxAge int
}

// AuthHandler serves the platform auth endpoint.
//
// Dependencies:
// - identity: the identity store (credentials, sessions, accounts, reset keys)
// - notifier: announces newly created accounts
// - validator: checks registration input
// - gate: turns reset key checks into flow codes
// - router: picks where a signed-in principal goes
// - pages: resolves branded page URLs
// - events: after-register callbacks
//
// Actions handled (query parameter "action", default login):
// - login        GET guard, POST sign in
// - register     GET guard, POST create account
// - lostpassword GET guard, POST mail reset link
// - rp/resetpass GET guard, POST set new password
// - logout       POST, or GET carrying csrf_token in the query
type AuthHandler struct {
	identity  service.IdentityService
	notifier  service.AccountNotifier
	validator *domain.RegistrationValidator
	gate      *flow.TokenGate
	router    flow.DestinationResolver
	pages     flow.PageResolver
	events    *Events
	logger    *slog.Logger
	cfg       AuthConfig

	table map[RouteKey]http.HandlerFunc
}

// NewAuthHandler creates a new AuthHandler with the required dependencies.
//
// Example usage in main.go:
//
//	authHandler := handler.NewAuthHandler(identity, notifier, validator, gate, router, pages, events, logger, handler.AuthConfig{...})
func NewAuthHandler(
	identity service.IdentityService,
	notifier service.AccountNotifier,
	validator *domain.RegistrationValidator,
	gate *flow.TokenGate,
	router flow.DestinationResolver,
	pages flow.PageResolver,
	events *Events,
	logger *slog.Logger,
	cfg AuthConfig,
) *AuthHandler {
	if validator == nil {
		validator = domain.NewRegistrationValidator(nil)
	}
	h := &AuthHandler{
		identity:  identity,
		notifier:  notifier,
		validator: validator,
		gate:      gate,
		router:    router,
		pages:     pages,
		events:    events,
		logger:    logger,
		cfg:       cfg,
	}
	h.table = h.routes()
	return h
}

// =============================================================================
// Guard (GET)
// =============================================================================

// GuardLogin handles GET action=login.
//
// A signed-in principal is sent to its destination, honoring redirect_to for
// elevated users. Everyone else goes to the branded login page with
// redirect_to carried along.
func (h *AuthHandler) GuardLogin(w http.ResponseWriter, r *http.Request) {
	redirectTo := r.URL.Query().Get(flow.KeyRedirectTo)

	if user := auth.GetUser(r.Context()); user != nil {
		http.Redirect(w, r, h.router.DestinationFor(user, redirectTo), http.StatusSeeOther)
		return
	}

	target := flow.Message("").With(flow.KeyRedirectTo, redirectTo).URL(h.pages.URL(flow.DestLogin))
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// GuardRegister handles GET action=register.
func (h *AuthHandler) GuardRegister(w http.ResponseWriter, r *http.Request) {
	h.guardPage(w, r, flow.DestRegister)
}

// GuardLostPassword handles GET action=lostpassword.
func (h *AuthHandler) GuardLostPassword(w http.ResponseWriter, r *http.Request) {
	h.guardPage(w, r, flow.DestLostPassword)
}

// GuardResetPassword handles GET action=rp and action=resetpass, the target
// of the emailed link. The key is checked here so a dead link never reaches
// the reset form.
func (h *AuthHandler) GuardResetPassword(w http.ResponseWriter, r *http.Request) {
	if user := auth.GetUser(r.Context()); user != nil {
		http.Redirect(w, r, h.router.DestinationFor(user, ""), http.StatusSeeOther)
		return
	}

	q := r.URL.Query()
	key := q.Get(flow.KeyKey)
	login := q.Get(flow.KeyResetLogin)

	if _, err := h.gate.Validate(r.Context(), key, login); err != nil {
		codes := domain.FlowCodes(err)
		h.logger.Info("reset link rejected", "login", login, "codes", codes)
		metrics.FlowFailed(flow.ActionRP, codes)
		http.Redirect(w, r, flow.Message(flow.KeyLoginErrors, codes...).URL(h.pages.URL(flow.DestLogin)), http.StatusSeeOther)
		return
	}

	target := flow.Message("").
		With(flow.KeyResetLogin, login).
		With(flow.KeyKey, key).
		URL(h.pages.URL(flow.DestResetPassword))
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *AuthHandler) guardPage(w http.ResponseWriter, r *http.Request, dest flow.Destination) {
	if user := auth.GetUser(r.Context()); user != nil {
		http.Redirect(w, r, h.router.DestinationFor(user, ""), http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, h.pages.URL(dest), http.StatusSeeOther)
}

// =============================================================================
// POST Handlers
// =============================================================================

// Login handles POST action=login.
//
// Form fields: log, pwd, redirect_to.
//
// On failure every code goes back to the login page under "login". On
// success the session cookie is set before the redirect is chosen.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	redirectTo := r.PostFormValue(flow.KeyRedirectTo)
	loginURL := h.pages.URL(flow.DestLogin)

	user, err := h.identity.VerifyCredentials(ctx, r.PostFormValue("log"), r.PostFormValue("pwd"))
	if err != nil {
		h.fail(w, r, flow.ActionLogin, err, func(codes []string) string {
			return flow.Message(flow.KeyLoginErrors, codes...).URL(loginURL)
		})
		return
	}

	token, err := h.identity.StartSession(ctx, user.ID)
	if err != nil {
		h.fail(w, r, flow.ActionLogin, err, func(codes []string) string {
			return flow.Message(flow.KeyLoginErrors, codes...).URL(loginURL)
		})
		return
	}

	h.setSessionCookie(w, token)
	metrics.FlowSucceeded(flow.ActionLogin)

	h.logger.Info("user logged in", "user_id", user.ID, "role", user.Role)
	http.Redirect(w, r, h.router.DestinationFor(user, redirectTo), http.StatusSeeOther)
}

// Register handles POST action=register.
//
// Form fields: email, first_name, last_name and the hidden honeypot foobar.
//
// Checks run in a fixed order and the first failure wins: honeypot, closed
// registration, email syntax, existing account. The account uses the email
// as its login. After-register hooks see every attempt past the honeypot,
// with either the new user or the failure.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	registerURL := h.pages.URL(flow.DestRegister)
	toRegister := func(codes []string) string {
		return flow.Message(flow.KeyRegisterErrors, codes...).URL(registerURL)
	}
	reject := func(err error) {
		h.events.fireAfterRegister(ctx, r.PostForm, nil, err)
		h.fail(w, r, flow.ActionRegister, err, toRegister)
	}

	pending := domain.PendingRegistration{
		Email:     r.PostFormValue("email"),
		FirstName: r.PostFormValue("first_name"),
		LastName:  r.PostFormValue("last_name"),
		Honeypot:  r.PostFormValue("foobar"),
	}.Normalize()

	if pending.IsBot() {
		metrics.HoneypotTripped()
		h.logger.Info("registration honeypot tripped")
		http.Redirect(w, r, h.pages.URL(flow.DestLogin), http.StatusSeeOther)
		return
	}

	if !h.cfg.RegistrationOpen {
		reject(domain.Fail("AuthHandler.Register", domain.CodeClosed))
		return
	}

	if err := h.validator.Validate(pending); err != nil {
		reject(err)
		return
	}

	exists, err := h.identity.EmailExists(ctx, pending.Email)
	if err != nil {
		reject(err)
		return
	}
	if exists {
		reject(domain.Fail("AuthHandler.Register", domain.CodeEmailExists))
		return
	}

	user, err := h.identity.CreateAccount(ctx, domain.NewAccountParams{
		Login:     pending.Email,
		Email:     pending.Email,
		FirstName: pending.FirstName,
		LastName:  pending.LastName,
	})
	if err != nil {
		reject(err)
		return
	}

	if err := h.notifier.NotifyAccountCreated(ctx, user); err != nil {
		h.logger.Error("account created but notification failed", "user_id", user.ID, "error", err)
	}
	h.events.fireAfterRegister(ctx, r.PostForm, user, nil)
	metrics.FlowSucceeded(flow.ActionRegister)

	h.logger.Info("user registered", "user_id", user.ID)
	target := flow.Message("").With(flow.KeyRegistered, pending.Email).URL(h.pages.URL(flow.DestLogin))
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// LostPassword handles POST action=lostpassword.
//
// Form field: user_login (a login or an email address).
func (h *AuthHandler) LostPassword(w http.ResponseWriter, r *http.Request) {
	identifier := r.PostFormValue("user_login")

	if err := h.identity.IssueResetToken(r.Context(), identifier); err != nil {
		lostURL := h.pages.URL(flow.DestLostPassword)
		h.fail(w, r, flow.ActionLostPassword, err, func(codes []string) string {
			return flow.Message(flow.KeyLostErrors, codes...).URL(lostURL)
		})
		return
	}

	metrics.FlowSucceeded(flow.ActionLostPassword)
	target := flow.Message("").With(flow.KeyCheckEmail, flow.CheckEmailConfirm).URL(h.pages.URL(flow.DestLogin))
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// ResetPassword handles POST action=resetpass (and rp).
//
// Form fields: rp_key, rp_login, pass1, pass2.
//
// The key is checked again before anything else. Form problems return to the
// reset page with key and login so the user can retry; key problems return
// to the login page.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := r.PostFormValue(flow.KeyRPKey)
	login := r.PostFormValue(flow.KeyRPLogin)

	toLogin := func(codes []string) string {
		return flow.Message(flow.KeyLoginErrors, codes...).URL(h.pages.URL(flow.DestLogin))
	}
	toReset := func(codes []string) string {
		return flow.Message(flow.KeyResetErrors, codes...).
			With(flow.KeyKey, key).
			With(flow.KeyResetLogin, login).
			URL(h.pages.URL(flow.DestResetPassword))
	}

	if _, err := h.gate.Validate(ctx, key, login); err != nil {
		h.fail(w, r, flow.ActionResetPass, err, toLogin)
		return
	}

	if _, ok := r.PostForm["pass1"]; !ok {
		BadRequestResponse(w, r, h.logger, "Invalid request.")
		return
	}

	pass1 := r.PostFormValue("pass1")
	pass2 := r.PostFormValue("pass2")

	if pass1 != pass2 {
		h.fail(w, r, flow.ActionResetPass, domain.Fail("AuthHandler.ResetPassword", domain.CodePasswordResetMismatch), toReset)
		return
	}
	if pass1 == "" {
		h.fail(w, r, flow.ActionResetPass, domain.Fail("AuthHandler.ResetPassword", domain.CodePasswordResetEmpty), toReset)
		return
	}

	if err := h.identity.CommitNewPassword(ctx, key, login, pass1); err != nil {
		if domain.HasFlowCode(err, domain.CodeExpiredKey) || domain.HasFlowCode(err, domain.CodeInvalidKey) {
			h.fail(w, r, flow.ActionResetPass, err, toLogin)
			return
		}
		h.fail(w, r, flow.ActionResetPass, err, toReset)
		return
	}

	metrics.FlowSucceeded(flow.ActionResetPass)
	h.logger.Info("password reset completed", "login", login)
	target := flow.Message("").With(flow.KeyPassword, flow.PasswordChanged).URL(h.pages.URL(flow.DestLogin))
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// LogoutLink handles GET action=logout. The link must carry the CSRF token
// in its query, or a cross-site image could sign the user out. Without it
// nobody is signed out: a principal is sent to the account page, which has
// a sign-out button, and anyone else to the login page.
func (h *AuthHandler) LogoutLink(w http.ResponseWriter, r *http.Request) {
	if csrf.ValidateQuery(r) {
		h.Logout(w, r)
		return
	}

	h.logger.Warn("logout link without valid csrf token", "path", r.URL.Path)
	metrics.FlowFailed(flow.ActionLogout, []string{domain.CodeCSRF})
	if auth.GetUser(r.Context()) != nil {
		http.Redirect(w, r, h.pages.URL(flow.DestAccount), http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, h.pages.URL(flow.DestLogin), http.StatusSeeOther)
}

// Logout handles POST action=logout, and GET once LogoutLink accepted the
// token.
//
// The session is invalidated server-side, the cookie is cleared and the user
// lands on the login page with the signed-out notice.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(session.CookieName); err == nil && cookie.Value != "" {
		if err := h.identity.Logout(r.Context(), cookie.Value); err != nil {
			h.logger.Warn("logout failed", "error", err)
		}
	}

	h.clearSessionCookie(w)
	metrics.FlowSucceeded(flow.ActionLogout)

	target := flow.Message("").With(flow.KeyLoggedOut, flow.LoggedOutTrue).URL(h.pages.URL(flow.DestLogin))
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// =============================================================================
// Helper Functions
// =============================================================================

// fail logs and counts a flow failure, then redirects to the URL built from
// its codes. Errors that carry no flow code are internal and are reported to
// the user as the generic unknown code.
func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request, action string, err error, target func(codes []string) string) {
	codes := domain.FlowCodes(err)
	if domain.HasFlowCode(err, domain.CodeUnknown) {
		h.logger.Error("flow failed", "action", action, "error", err)
	} else {
		h.logger.Info("flow rejected", "action", action, "codes", codes)
	}
	metrics.FlowFailed(action, codes)
	http.Redirect(w, r, target(codes), http.StatusSeeOther)
}

// protect parses the form and checks the CSRF token before next runs. A bad
// token sends the user back to the page the form came from.
func (h *AuthHandler) protect(action string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			BadRequestResponse(w, r, h.logger, "Invalid request.")
			return
		}

		if !csrf.ValidateRequest(r) {
			h.logger.Warn("csrf validation failed", "action", action, "path", r.URL.Path)
			metrics.FlowFailed(action, []string{domain.CodeCSRF})
			http.Redirect(w, r, h.csrfFailureURL(action, r), http.StatusSeeOther)
			return
		}

		next(w, r)
	}
}

func (h *AuthHandler) csrfFailureURL(action string, r *http.Request) string {
	switch action {
	case flow.ActionRegister:
		return flow.Message(flow.KeyRegisterErrors, domain.CodeCSRF).URL(h.pages.URL(flow.DestRegister))
	case flow.ActionLostPassword:
		return flow.Message(flow.KeyLostErrors, domain.CodeCSRF).URL(h.pages.URL(flow.DestLostPassword))
	case flow.ActionRP, flow.ActionResetPass:
		return flow.Message(flow.KeyResetErrors, domain.CodeCSRF).
			With(flow.KeyKey, r.PostFormValue(flow.KeyRPKey)).
			With(flow.KeyResetLogin, r.PostFormValue(flow.KeyRPLogin)).
			URL(h.pages.URL(flow.DestResetPassword))
	default:
		return flow.Message(flow.KeyLoginErrors, domain.CodeCSRF).URL(h.pages.URL(flow.DestLogin))
	}
}

// setSessionCookie sets the session cookie with secure settings.
//
// Cookie settings:
// - HttpOnly: true - Prevents JavaScript access (XSS protection)
// - Secure: configurable - true in production (HTTPS only)
// - SameSite: Lax - Allows the cookie on top-level navigations from email links
// - Path: / - Cookie is sent with all requests
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string) {
	maxAge := h.cfg.SessionMaxAge
	if maxAge <= 0 {
		maxAge = session.CookieMaxAge
	}
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    token,
		Path:     session.CookiePath,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cfg.IsSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie removes the session cookie by setting MaxAge to -1.
func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     session.CookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.IsSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
