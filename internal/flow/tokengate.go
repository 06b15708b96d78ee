package flow

import (
	"context"
	"errors"
	"strings"

	"github.com/DukeRupert/brandedflow/internal/domain"
)

// ResetKeyValidator checks a reset key against the identity store. It
// returns domain.ErrResetKeyExpired for a key that was genuine but has run
// out, and any other error for everything else.
type ResetKeyValidator interface {
	ValidateResetKey(ctx context.Context, key, login string) (*domain.User, error)
}

// TokenGate owns the policy of turning a reset key check into a flow code.
type TokenGate struct {
	store ResetKeyValidator
}

// NewTokenGate creates a gate over store.
func NewTokenGate(store ResetKeyValidator) *TokenGate {
	return &TokenGate{store: store}
}

// Validate checks key and login. On success the returned token is valid and
// carries the user. On failure the error is a *domain.FlowError holding
// exactly one code: expiredkey when the store says the key expired,
// invalidkey for anything else. The token is still returned so callers can
// log its state.
func (g *TokenGate) Validate(ctx context.Context, key, login string) (*domain.ResetToken, error) {
	const op = "TokenGate.Validate"

	token := &domain.ResetToken{Key: key, Login: login, State: domain.ResetKeyInvalid}

	if strings.TrimSpace(key) == "" || strings.TrimSpace(login) == "" {
		return token, domain.FailWith(domain.ErrResetKeyInvalid, op, domain.CodeInvalidKey)
	}

	user, err := g.store.ValidateResetKey(ctx, key, login)
	switch {
	case err == nil && user != nil:
		token.State = domain.ResetKeyValid
		token.User = user
		return token, nil
	case errors.Is(err, domain.ErrResetKeyExpired):
		token.State = domain.ResetKeyExpired
		return token, domain.FailWith(err, op, domain.CodeExpiredKey)
	case err == nil:
		return token, domain.FailWith(domain.ErrResetKeyInvalid, op, domain.CodeInvalidKey)
	default:
		return token, domain.FailWith(err, op, domain.CodeInvalidKey)
	}
}
