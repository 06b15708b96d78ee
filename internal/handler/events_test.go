package handler

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"testing"

	"github.com/google/uuid"

	"github.com/DukeRupert/brandedflow/internal/domain"
)

func TestEvents_RunInRegistrationOrder(t *testing.T) {
	e := NewEvents()
	var order []string

	e.OnAfterRegister(func(ctx context.Context, form url.Values, user *domain.User, err error) {
		order = append(order, "first")
	})
	e.OnAfterRegister(func(ctx context.Context, form url.Values, user *domain.User, err error) {
		order = append(order, "second")
	})
	e.OnAfterUpdate(func(ctx context.Context, form url.Values, id uuid.UUID) { order = append(order, "update") })

	e.fireAfterRegister(context.Background(), url.Values{}, &domain.User{}, nil)
	e.fireAfterUpdate(context.Background(), url.Values{}, uuid.New())

	want := []string{"first", "second", "update"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestEvents_RenderHooksReceiveFormName(t *testing.T) {
	e := NewEvents()
	e.OnBeforeRender(func(w io.Writer, form string) { io.WriteString(w, "["+form+"]") })

	var buf bytes.Buffer
	e.fireBeforeRender(&buf, "register_form")
	e.fireAfterRender(&buf, "register_form")

	if buf.String() != "[register_form]" {
		t.Errorf("output = %q", buf.String())
	}
}

func TestEvents_NilIsSafe(t *testing.T) {
	var e *Events
	var buf bytes.Buffer

	e.fireBeforeRender(&buf, "login_form")
	e.fireAfterRender(&buf, "login_form")
	e.fireAfterRegister(context.Background(), nil, nil, nil)
	e.fireAfterUpdate(context.Background(), nil, uuid.Nil)

	if buf.Len() != 0 {
		t.Errorf("nil events wrote %q", buf.String())
	}
}
