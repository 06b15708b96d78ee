// Package domain contains core business types and interfaces.
//
// This file defines the password reset key types.
package domain

import (
	"errors"
	"time"
)

// =============================================================================
// Token Configuration Constants
// =============================================================================

const (
	// PasswordResetKeyDuration is how long a reset key stays usable.
	PasswordResetKeyDuration = 24 * time.Hour

	// ExpiredKeyRetention is how long an expired key record is kept so a late
	// click can still be told "expired" rather than "invalid".
	ExpiredKeyRetention = 7 * 24 * time.Hour

	// TokenBytes is the number of random bytes for keys and session tokens.
	// The value is hex-encoded to 64 characters for URL safety.
	TokenBytes = 32
)

// Reset key failures reported by the identity store. The token gate maps
// ErrResetKeyExpired to the expiredkey code and everything else to invalidkey.
var (
	ErrResetKeyExpired = errors.New("password reset key expired")
	ErrResetKeyInvalid = errors.New("password reset key invalid")
)

// =============================================================================
// Password Reset Key
// =============================================================================

// ResetKeyState is the validity of a reset key at the moment it is checked.
type ResetKeyState string

const (
	ResetKeyValid   ResetKeyState = "valid"
	ResetKeyExpired ResetKeyState = "expired"
	ResetKeyInvalid ResetKeyState = "invalid"
)

// ResetToken is an opaque key bound to one login.
//
// Keys are issued by the identity store and are single-use: committing a new
// password consumes the key. The flow code only validates and forwards them.
type ResetToken struct {
	Key   string
	Login string
	State ResetKeyState
	User  *User // set when State is ResetKeyValid
}

// IsValid returns true if the key passed validation.
func (t *ResetToken) IsValid() bool {
	return t != nil && t.State == ResetKeyValid
}

// ResetKeyRecord is the stored form of an issued key. Only the SHA-256 hash
// of the key is kept.
type ResetKeyRecord struct {
	UserID    string    `json:"user_id"`
	Login     string    `json:"login"`
	KeyHash   string    `json:"key_hash"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// IsExpired returns true if the key is past its lifetime.
func (r *ResetKeyRecord) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// ResetKeyResult is returned when a key is issued.
type ResetKeyResult struct {
	Key       string // Raw key to put in the emailed link (NOT the hash)
	Login     string
	ExpiresAt time.Time
}
