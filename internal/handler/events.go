package handler

import (
	"context"
	"io"
	"net/url"
	"sync"

	"github.com/google/uuid"

	"github.com/DukeRupert/brandedflow/internal/domain"
)

// RenderHook writes markup around a branded form. form is the form name,
// e.g. "login_form".
type RenderHook func(w io.Writer, form string)

// RegisterHook runs after a registration attempt that got past the honeypot.
// Exactly one of user and err is non-nil.
type RegisterHook func(ctx context.Context, form url.Values, user *domain.User, err error)

// UpdateHook runs after the account form saved a profile.
type UpdateHook func(ctx context.Context, form url.Values, userID uuid.UUID)

// Events holds the callbacks that extend the branded flows. Hooks run in the
// order they were added. A nil *Events has no hooks.
type Events struct {
	mu            sync.RWMutex
	beforeRender  []RenderHook
	afterRender   []RenderHook
	afterRegister []RegisterHook
	afterUpdate   []UpdateHook
}

// NewEvents returns an empty set of hooks.
func NewEvents() *Events {
	return &Events{}
}

// OnBeforeRender adds a hook whose output is placed before the form.
func (e *Events) OnBeforeRender(h RenderHook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.beforeRender = append(e.beforeRender, h)
}

// OnAfterRender adds a hook whose output is placed after the form.
func (e *Events) OnAfterRender(h RenderHook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.afterRender = append(e.afterRender, h)
}

// OnAfterRegister adds a hook fired after each registration attempt.
func (e *Events) OnAfterRegister(h RegisterHook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.afterRegister = append(e.afterRegister, h)
}

// OnAfterUpdate adds a hook fired once a profile update succeeded.
func (e *Events) OnAfterUpdate(h UpdateHook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.afterUpdate = append(e.afterUpdate, h)
}

func (e *Events) fireBeforeRender(w io.Writer, form string) {
	if e == nil {
		return
	}
	e.mu.RLock()
	hooks := e.beforeRender
	e.mu.RUnlock()
	for _, h := range hooks {
		h(w, form)
	}
}

func (e *Events) fireAfterRender(w io.Writer, form string) {
	if e == nil {
		return
	}
	e.mu.RLock()
	hooks := e.afterRender
	e.mu.RUnlock()
	for _, h := range hooks {
		h(w, form)
	}
}

func (e *Events) fireAfterRegister(ctx context.Context, form url.Values, user *domain.User, err error) {
	if e == nil {
		return
	}
	e.mu.RLock()
	hooks := e.afterRegister
	e.mu.RUnlock()
	for _, h := range hooks {
		h(ctx, form, user, err)
	}
}

func (e *Events) fireAfterUpdate(ctx context.Context, form url.Values, userID uuid.UUID) {
	if e == nil {
		return
	}
	e.mu.RLock()
	hooks := e.afterUpdate
	e.mu.RUnlock()
	for _, h := range hooks {
		h(ctx, form, userID)
	}
}
