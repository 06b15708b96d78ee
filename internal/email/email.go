// Package email delivers the transactional mail of the account flows:
// reset links, new-account notices and the administrator's registration
// notice. Callers build every link; this package only renders and sends.
package email

import "context"

// EmailService is what the identity service needs from a mailer.
type EmailService interface {
	SendPasswordResetEmail(ctx context.Context, to, name, resetURL string) error

	// SendAccountCreatedEmail links a new user to the page where they pick
	// their first password.
	SendAccountCreatedEmail(ctx context.Context, to, name, login, setPasswordURL string) error

	SendAdminNewUserEmail(ctx context.Context, to, newLogin, newEmail string) error
}

// Email is one rendered message.
type Email struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
}

// SMTPConfig is the relay connection. Leave Username empty for Mailhog.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

const (
	DefaultFromEmail = "noreply@example.com"
	DefaultFromName  = "Members"
)
