package flow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/DukeRupert/brandedflow/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockKeyValidator struct {
	ValidateResetKeyFunc func(ctx context.Context, key, login string) (*domain.User, error)
	calls                int
}

func (m *mockKeyValidator) ValidateResetKey(ctx context.Context, key, login string) (*domain.User, error) {
	m.calls++
	if m.ValidateResetKeyFunc != nil {
		return m.ValidateResetKeyFunc(ctx, key, login)
	}
	return nil, errors.New("ValidateResetKeyFunc not implemented")
}

func TestTokenGate_Valid(t *testing.T) {
	user := &domain.User{ID: uuid.New(), Login: "a@b.com"}
	gate := NewTokenGate(&mockKeyValidator{
		ValidateResetKeyFunc: func(ctx context.Context, key, login string) (*domain.User, error) {
			return user, nil
		},
	})

	token, err := gate.Validate(context.Background(), "key", "a@b.com")
	require.NoError(t, err)
	assert.True(t, token.IsValid())
	assert.Equal(t, user, token.User)
	assert.Equal(t, "a@b.com", token.Login)
}

func TestTokenGate_FailureCodes(t *testing.T) {
	tests := []struct {
		name      string
		storeErr  error
		wantCode  string
		wantState domain.ResetKeyState
	}{
		{"expired", domain.ErrResetKeyExpired, domain.CodeExpiredKey, domain.ResetKeyExpired},
		{"wrapped expired", fmt.Errorf("store: %w", domain.ErrResetKeyExpired), domain.CodeExpiredKey, domain.ResetKeyExpired},
		{"wrong key", domain.ErrResetKeyInvalid, domain.CodeInvalidKey, domain.ResetKeyInvalid},
		{"unknown login", domain.NotFound("op", "user", "x"), domain.CodeInvalidKey, domain.ResetKeyInvalid},
		{"store outage", errors.New("redis: connection refused"), domain.CodeInvalidKey, domain.ResetKeyInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := NewTokenGate(&mockKeyValidator{
				ValidateResetKeyFunc: func(ctx context.Context, key, login string) (*domain.User, error) {
					return nil, tt.storeErr
				},
			})

			token, err := gate.Validate(context.Background(), "key", "a@b.com")
			require.Error(t, err)
			assert.Equal(t, []string{tt.wantCode}, domain.FlowCodes(err))
			assert.Equal(t, tt.wantState, token.State)
			assert.False(t, token.IsValid())
		})
	}
}

func TestTokenGate_EmptyInputNeverReachesStore(t *testing.T) {
	store := &mockKeyValidator{}
	gate := NewTokenGate(store)

	for _, in := range [][2]string{{"", "a@b.com"}, {"key", ""}, {" ", " "}} {
		_, err := gate.Validate(context.Background(), in[0], in[1])
		assert.Equal(t, []string{domain.CodeInvalidKey}, domain.FlowCodes(err))
	}
	assert.Equal(t, 0, store.calls)
}

func TestTokenGate_NilUserIsInvalid(t *testing.T) {
	gate := NewTokenGate(&mockKeyValidator{
		ValidateResetKeyFunc: func(ctx context.Context, key, login string) (*domain.User, error) {
			return nil, nil
		},
	})

	_, err := gate.Validate(context.Background(), "key", "a@b.com")
	assert.Equal(t, []string{domain.CodeInvalidKey}, domain.FlowCodes(err))
}
