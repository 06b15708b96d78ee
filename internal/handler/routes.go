package handler

import (
	"net/http"
	"net/url"
	"sort"

	"github.com/DukeRupert/brandedflow/internal/flow"
)

// RouteKey selects a handler on the platform auth endpoint.
type RouteKey struct {
	Flow   string // value of the action parameter
	Method string
}

// routes is the full routing table of the platform auth endpoint. Every
// POST goes through the CSRF check; GET logout checks a token in the query.
func (h *AuthHandler) routes() map[RouteKey]http.HandlerFunc {
	return map[RouteKey]http.HandlerFunc{
		{flow.ActionLogin, http.MethodGet}:         h.GuardLogin,
		{flow.ActionLogin, http.MethodPost}:        h.protect(flow.ActionLogin, h.Login),
		{flow.ActionRegister, http.MethodGet}:      h.GuardRegister,
		{flow.ActionRegister, http.MethodPost}:     h.protect(flow.ActionRegister, h.Register),
		{flow.ActionLostPassword, http.MethodGet}:  h.GuardLostPassword,
		{flow.ActionLostPassword, http.MethodPost}: h.protect(flow.ActionLostPassword, h.LostPassword),
		{flow.ActionRP, http.MethodGet}:            h.GuardResetPassword,
		{flow.ActionRP, http.MethodPost}:           h.protect(flow.ActionRP, h.ResetPassword),
		{flow.ActionResetPass, http.MethodGet}:     h.GuardResetPassword,
		{flow.ActionResetPass, http.MethodPost}:    h.protect(flow.ActionResetPass, h.ResetPassword),
		{flow.ActionLogout, http.MethodGet}:        h.LogoutLink,
		{flow.ActionLogout, http.MethodPost}:       h.protect(flow.ActionLogout, h.Logout),
	}
}

// ServeHTTP dispatches on the action parameter, defaulting to login. An
// unknown action is a 404; a known action with the wrong method is a 405.
func (h *AuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get(flow.KeyAction)
	if action == "" {
		action = flow.ActionLogin
	}

	method := r.Method
	if method == http.MethodHead {
		method = http.MethodGet
	}

	if handler, ok := h.table[RouteKey{Flow: action, Method: method}]; ok {
		handler(w, r)
		return
	}

	allowed := h.allowedMethods(action)
	if len(allowed) == 0 {
		NotFoundResponse(w, r, h.logger)
		return
	}
	MethodNotAllowedResponse(w, r, h.logger, allowed)
}

func (h *AuthHandler) allowedMethods(action string) []string {
	var allowed []string
	for key := range h.table {
		if key.Flow == action {
			allowed = append(allowed, key.Method)
		}
	}
	sort.Strings(allowed)
	return allowed
}

// RegisterRoutes mounts the platform auth endpoint at path.
func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux, path string) {
	mux.Handle(path, h)
}

// RegisterRoutes mounts the branded pages at the paths the page resolver
// gives them. Only the account page accepts POST; requireUser, when not
// nil, wraps that route.
func (h *PageHandler) RegisterRoutes(mux *http.ServeMux, requireUser func(http.Handler) http.Handler) {
	mux.HandleFunc("GET "+pagePath(h.pages, flow.DestLogin), h.ShowLogin)
	mux.HandleFunc("GET "+pagePath(h.pages, flow.DestRegister), h.ShowRegister)
	mux.HandleFunc("GET "+pagePath(h.pages, flow.DestLostPassword), h.ShowLostPassword)
	mux.HandleFunc("GET "+pagePath(h.pages, flow.DestResetPassword), h.ShowResetPassword)
	mux.HandleFunc("GET "+pagePath(h.pages, flow.DestAccount), h.ShowAccount)

	var update http.Handler = http.HandlerFunc(h.UpdateAccount)
	if requireUser != nil {
		update = requireUser(update)
	}
	mux.Handle("POST "+pagePath(h.pages, flow.DestAccount), update)
}

// pagePath is the path component of a destination URL. A page pointed at
// another host still mounts locally under its path.
func pagePath(pages flow.PageResolver, dest flow.Destination) string {
	u, err := url.Parse(pages.URL(dest))
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}
