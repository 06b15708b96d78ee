package flow

import (
	"fmt"
	"html"
	"html/template"

	"github.com/DukeRupert/brandedflow/internal/domain"
)

// FallbackMessage is shown for any code the catalog does not know.
const FallbackMessage = "An unknown error occurred. Please try again later."

var messages = map[string]string{
	// Login
	domain.CodeEmptyUsername:   "Email was blank",
	domain.CodeEmptyPassword:   "Password was blank",
	domain.CodeInvalidUsername: "We don't have any users with that email address. Maybe you used a different one when signing up?",

	// Registration
	domain.CodeEmail:       "The email address you entered is not valid.",
	domain.CodeEmailExists: "An account exists with this email address.",
	domain.CodeClosed:      "Registering new users is currently not allowed.",

	// Lost password. invalid_email and invalidcombo share one message on purpose.
	domain.CodeInvalidEmail: "There are no users registered with this email address.",
	domain.CodeInvalidCombo: "There are no users registered with this email address.",

	// Reset password
	domain.CodeExpiredKey:            "The password reset link you used is not valid anymore.",
	domain.CodeInvalidKey:            "The password reset link you used is not valid anymore.",
	domain.CodePasswordResetMismatch: "The two passwords you entered don't match.",
	domain.CodePasswordResetEmpty:    "Sorry, we don't accept empty passwords.",

	domain.CodeCSRF: "Your session expired before the form was sent. Please try again.",
}

// Catalog resolves flow codes to user-facing messages. Its output is trusted
// markup: every message is a fixed string and the only interpolated value,
// the lost-password URL, is escaped.
type Catalog struct {
	lostPasswordURL string
}

// NewCatalog builds a catalog whose incorrect_password message links to the
// lost-password page.
func NewCatalog(pages PageResolver) *Catalog {
	c := &Catalog{}
	if pages != nil {
		c.lostPasswordURL = pages.URL(DestLostPassword)
	}
	return c
}

// Lookup returns the message for code, or FallbackMessage.
func (c *Catalog) Lookup(code string) string {
	if code == domain.CodeIncorrectPassword {
		return fmt.Sprintf(
			"The password you entered wasn't quite right. <a href='%s'>Did you forget your password</a>?",
			html.EscapeString(c.lostPasswordURL),
		)
	}
	if msg, ok := messages[code]; ok {
		return msg
	}
	return FallbackMessage
}

// Known reports whether code has its own message.
func (c *Catalog) Known(code string) bool {
	if code == domain.CodeIncorrectPassword {
		return true
	}
	_, ok := messages[code]
	return ok
}

// Messages resolves each code independently, keeping order. Several login
// failures can therefore be shown at once.
func (c *Catalog) Messages(codes []string) []template.HTML {
	if len(codes) == 0 {
		return nil
	}
	out := make([]template.HTML, 0, len(codes))
	for _, code := range codes {
		out = append(out, template.HTML(c.Lookup(code)))
	}
	return out
}
