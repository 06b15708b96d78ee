// Package domain contains core business types and interfaces.
//
// This file defines the User (the authenticated principal) and the session
// and profile types the identity store works with. These types are separate
// from the repository rows so the flow code never sees sql.Null* values.
package domain

import (
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the capability level of an account.
type Role string

const (
	// RoleSubscriber is a standard account. Standard principals always land
	// on the branded account page after sign-in.
	RoleSubscriber Role = "subscriber"

	// RoleAdministrator is an elevated account. Elevated principals may be
	// sent to a requested same-site URL or the admin home.
	RoleAdministrator Role = "administrator"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleSubscriber || r == RoleAdministrator
}

// User is an account owned by the identity store.
//
// Login and Email are separate columns even though registration stores the
// email in both, so uniqueness is enforced against either one.
type User struct {
	ID           uuid.UUID
	Login        string
	Email        string
	PasswordHash string // Never rendered
	FirstName    string
	LastName     string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsElevated returns true if the user has administrative capability.
func (u *User) IsElevated() bool {
	return u != nil && u.Role == RoleAdministrator
}

// DisplayName returns "First Last", or the email if both names are empty.
func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	return u.Email
}

// NewAccountParams contains the values for account creation.
type NewAccountParams struct {
	Login     string
	Email     string
	Password  string // Empty means generate a random one; the user sets theirs via the emailed link
	FirstName string
	LastName  string
}

// ProfileUpdateParams contains the editable account fields.
type ProfileUpdateParams struct {
	UserID    uuid.UUID
	FirstName string
	LastName  string
}

// =============================================================================
// Conversion helpers from repository types
// =============================================================================

// NullStringValue safely extracts a string from sql.NullString.
func NullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// ToNullString converts a string to sql.NullString.
func ToNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
