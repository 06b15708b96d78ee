// Package auth carries the signed-in principal through request contexts.
//
// Both middleware and handler import it, so it must not import either.
package auth

import (
	"context"

	"github.com/DukeRupert/brandedflow/internal/domain"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const userContextKey contextKey = "user"

// GetUser returns the principal resolved from the session cookie, or nil
// for an anonymous visitor.
//
//	if user := auth.GetUser(r.Context()); user != nil {
//	    // signed in
//	}
func GetUser(ctx context.Context) *domain.User {
	user, ok := ctx.Value(userContextKey).(*domain.User)
	if !ok {
		return nil
	}
	return user
}

// SetUser stores a user in the context.
func SetUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}
