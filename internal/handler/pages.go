package handler

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/DukeRupert/brandedflow/internal/auth"
	"github.com/DukeRupert/brandedflow/internal/csrf"
	"github.com/DukeRupert/brandedflow/internal/domain"
	"github.com/DukeRupert/brandedflow/internal/flow"
	"github.com/DukeRupert/brandedflow/internal/metrics"
	"github.com/DukeRupert/brandedflow/internal/service"
)

// Messages shown instead of a form.
const (
	MsgAlreadySignedIn    = "You are already signed in."
	MsgRegistrationClosed = "Registering new users is currently not allowed."
	MsgInvalidResetLink   = "Invalid password reset link."
	MsgMustBeSignedIn     = "You must be logged in to view this page."
)

// messageForm is the form name of the message-only template.
const messageForm = "message"

// TemplateRenderer is the interface for rendering HTML templates.
// This interface allows for mocking in tests.
type TemplateRenderer interface {
	RenderHTTP(w http.ResponseWriter, name string, data interface{})
}

// TemplateResolver maps a form name such as "login_form" to the name of the
// template that renders it.
type TemplateResolver interface {
	Template(form string) string
}

// TemplateResolverFunc adapts a function to TemplateResolver.
type TemplateResolverFunc func(form string) string

// Template implements TemplateResolver.
func (f TemplateResolverFunc) Template(form string) string {
	return f(form)
}

// DefaultTemplates resolves form to "auth/<form>".
var DefaultTemplates TemplateResolver = TemplateResolverFunc(func(form string) string {
	return "auth/" + form
})

// =============================================================================
// Template Data Types
// =============================================================================

// FormAttributes is everything a branded form reads from the request.
type FormAttributes struct {
	Errors           []template.HTML // resolved from codes; already escaped
	Redirect         string          // safe redirect_to, login form only
	Registered       bool
	RegisteredEmail  string // display only, never trusted
	LostPasswordSent bool
	LoggedOut        bool
	PasswordUpdated  bool
	Updated          bool // account form saved
	Login            string
	Key              string
	User             *domain.User
	ActionURL        string
	LostPasswordURL  string
	LogoutURL        string
}

// PageData is passed to every branded page template.
type PageData struct {
	Title     string
	ShowTitle bool
	Message   string // set when a message replaces the form
	CSRFToken string
	Attrs     FormAttributes
	Before    template.HTML // before-render hook output
	After     template.HTML // after-render hook output
}

// =============================================================================
// Handler
// =============================================================================

// PagesConfig holds the presentation switches.
type PagesConfig struct {
	AuthURL          string // platform auth endpoint, the action of every flow form
	SiteURL          string // reference host for redirect_to checks
	RegistrationOpen bool
	ShowTitles       bool
	IsSecure         bool
}

// PageHandler renders the branded pages. It never changes state except for
// the account form POST.
type PageHandler struct {
	identity  service.IdentityService
	renderer  TemplateRenderer
	templates TemplateResolver
	pages     flow.PageResolver
	catalog   *flow.Catalog
	events    *Events
	logger    *slog.Logger
	cfg       PagesConfig
}

// NewPageHandler creates a PageHandler. A nil templates resolver uses
// DefaultTemplates.
func NewPageHandler(
	identity service.IdentityService,
	renderer TemplateRenderer,
	templates TemplateResolver,
	pages flow.PageResolver,
	catalog *flow.Catalog,
	events *Events,
	logger *slog.Logger,
	cfg PagesConfig,
) *PageHandler {
	if templates == nil {
		templates = DefaultTemplates
	}
	return &PageHandler{
		identity:  identity,
		renderer:  renderer,
		templates: templates,
		pages:     pages,
		catalog:   catalog,
		events:    events,
		logger:    logger,
		cfg:       cfg,
	}
}

// ShowLogin renders the login page.
//
// Query parameters: login (error codes), redirect_to, registered, checkemail,
// logged_out, password.
func (h *PageHandler) ShowLogin(w http.ResponseWriter, r *http.Request) {
	if auth.GetUser(r.Context()) != nil {
		h.renderMessage(w, r, flow.DestLogin, MsgAlreadySignedIn)
		return
	}

	q := r.URL.Query()
	_, registered := q[flow.KeyRegistered]

	attrs := FormAttributes{
		Errors:           h.catalog.Messages(flow.Decode(q, flow.KeyLoginErrors)),
		Redirect:         flow.ValidateRedirect(q.Get(flow.KeyRedirectTo), "", h.cfg.SiteURL),
		Registered:       registered,
		RegisteredEmail:  q.Get(flow.KeyRegistered),
		LostPasswordSent: q.Get(flow.KeyCheckEmail) == flow.CheckEmailConfirm,
		LoggedOut:        q.Get(flow.KeyLoggedOut) == flow.LoggedOutTrue,
		PasswordUpdated:  q.Get(flow.KeyPassword) == flow.PasswordChanged,
		ActionURL:        flow.ActionURL(h.cfg.AuthURL, flow.ActionLogin, nil),
		LostPasswordURL:  h.pages.URL(flow.DestLostPassword),
	}
	h.renderForm(w, r, flow.DestLogin, attrs)
}

// ShowRegister renders the registration page.
func (h *PageHandler) ShowRegister(w http.ResponseWriter, r *http.Request) {
	if auth.GetUser(r.Context()) != nil {
		h.renderMessage(w, r, flow.DestRegister, MsgAlreadySignedIn)
		return
	}
	if !h.cfg.RegistrationOpen {
		h.renderMessage(w, r, flow.DestRegister, MsgRegistrationClosed)
		return
	}

	attrs := FormAttributes{
		Errors:    h.catalog.Messages(flow.Decode(r.URL.Query(), flow.KeyRegisterErrors)),
		ActionURL: flow.ActionURL(h.cfg.AuthURL, flow.ActionRegister, nil),
	}
	h.renderForm(w, r, flow.DestRegister, attrs)
}

// ShowLostPassword renders the lost password page.
func (h *PageHandler) ShowLostPassword(w http.ResponseWriter, r *http.Request) {
	if auth.GetUser(r.Context()) != nil {
		h.renderMessage(w, r, flow.DestLostPassword, MsgAlreadySignedIn)
		return
	}

	attrs := FormAttributes{
		Errors:    h.catalog.Messages(flow.Decode(r.URL.Query(), flow.KeyLostErrors)),
		ActionURL: flow.ActionURL(h.cfg.AuthURL, flow.ActionLostPassword, nil),
	}
	h.renderForm(w, r, flow.DestLostPassword, attrs)
}

// ShowResetPassword renders the reset form for the login and key in the
// query. The key itself is only checked when the form is posted.
func (h *PageHandler) ShowResetPassword(w http.ResponseWriter, r *http.Request) {
	if auth.GetUser(r.Context()) != nil {
		h.renderMessage(w, r, flow.DestResetPassword, MsgAlreadySignedIn)
		return
	}

	q := r.URL.Query()
	login := q.Get(flow.KeyResetLogin)
	key := q.Get(flow.KeyKey)
	if login == "" || key == "" {
		h.renderMessage(w, r, flow.DestResetPassword, MsgInvalidResetLink)
		return
	}

	attrs := FormAttributes{
		Errors:    h.catalog.Messages(flow.Decode(q, flow.KeyResetErrors)),
		Login:     login,
		Key:       key,
		ActionURL: flow.ActionURL(h.cfg.AuthURL, flow.ActionResetPass, nil),
	}
	h.renderForm(w, r, flow.DestResetPassword, attrs)
}

// ShowAccount renders the signed-in principal's account page.
func (h *PageHandler) ShowAccount(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		h.renderMessage(w, r, flow.DestAccount, MsgMustBeSignedIn)
		return
	}

	q := r.URL.Query()
	attrs := FormAttributes{
		Errors:    h.catalog.Messages(flow.Decode(q, flow.KeyLostErrors)),
		Updated:   q.Get(flow.KeyUpdated) == flow.UpdatedTrue,
		User:      user,
		ActionURL: h.pages.URL(flow.DestAccount),
		LogoutURL: flow.ActionURL(h.cfg.AuthURL, flow.ActionLogout, nil),
	}
	h.renderForm(w, r, flow.DestAccount, attrs)
}

// UpdateAccount handles POST to the account page.
//
// Form fields: first_name, last_name.
func (h *PageHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	const op = "PageHandler.UpdateAccount"

	user := auth.GetUser(r.Context())
	if user == nil {
		http.Redirect(w, r, h.pages.URL(flow.DestLogin), http.StatusSeeOther)
		return
	}

	accountURL := h.pages.URL(flow.DestAccount)

	if err := r.ParseForm(); err != nil {
		BadRequestResponse(w, r, h.logger, "Invalid request.")
		return
	}
	if !csrf.ValidateRequest(r) {
		h.logger.Warn("csrf validation failed", "path", r.URL.Path, "user_id", user.ID)
		metrics.FlowFailed("account", []string{domain.CodeCSRF})
		http.Redirect(w, r, flow.Message(flow.KeyLostErrors, domain.CodeCSRF).URL(accountURL), http.StatusSeeOther)
		return
	}

	updated, err := h.identity.UpdateProfile(r.Context(), domain.ProfileUpdateParams{
		UserID:    user.ID,
		FirstName: r.PostFormValue("first_name"),
		LastName:  r.PostFormValue("last_name"),
	})
	if err != nil {
		h.logger.Error("profile update failed", "op", op, "user_id", user.ID, "error", err)
		metrics.FlowFailed("account", []string{domain.CodeUnknown})
		http.Redirect(w, r, flow.Message(flow.KeyLostErrors, domain.CodeUnknown).URL(accountURL), http.StatusSeeOther)
		return
	}

	h.events.fireAfterUpdate(r.Context(), r.PostForm, updated.ID)
	metrics.FlowSucceeded("account")

	target := flow.AddQuery(accountURL, url.Values{flow.KeyUpdated: {flow.UpdatedTrue}})
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// =============================================================================
// Rendering
// =============================================================================

func (h *PageHandler) pageData(w http.ResponseWriter, r *http.Request, dest flow.Destination) PageData {
	page, _ := flow.PageFor(dest)
	return PageData{
		Title:     page.Title,
		ShowTitle: h.cfg.ShowTitles,
		CSRFToken: csrf.EnsureToken(w, r, h.cfg.IsSecure),
	}
}

// renderForm renders dest's form with the before and after render hooks
// wrapped around it.
func (h *PageHandler) renderForm(w http.ResponseWriter, r *http.Request, dest flow.Destination, attrs FormAttributes) {
	page, _ := flow.PageFor(dest)
	data := h.pageData(w, r, dest)
	data.Attrs = attrs

	var before, after bytes.Buffer
	h.events.fireBeforeRender(&before, page.Form)
	h.events.fireAfterRender(&after, page.Form)
	data.Before = template.HTML(before.String())
	data.After = template.HTML(after.String())

	h.renderer.RenderHTTP(w, h.templates.Template(page.Form), data)
}

func (h *PageHandler) renderMessage(w http.ResponseWriter, r *http.Request, dest flow.Destination, message string) {
	data := h.pageData(w, r, dest)
	data.Message = message
	h.renderer.RenderHTTP(w, h.templates.Template(messageForm), data)
}
