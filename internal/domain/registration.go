package domain

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// PendingRegistration is the registration form as submitted. It lives for a
// single POST and is never persisted as-is.
type PendingRegistration struct {
	Email     string `validate:"required,email,max=254"`
	FirstName string
	LastName  string
	Honeypot  string // the hidden "foobar" field; real users leave it empty
}

// IsBot reports whether the hidden honeypot field was filled in.
func (p PendingRegistration) IsBot() bool {
	return p.Honeypot != ""
}

// MaxNameLength caps first and last names, in characters.
const MaxNameLength = 100

// TruncateName trims whitespace and cuts name to MaxNameLength characters.
func TruncateName(name string) string {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) <= MaxNameLength {
		return name
	}
	return strings.TrimSpace(string([]rune(name)[:MaxNameLength]))
}

// Normalize trims surrounding whitespace from the form values and cuts
// over-long names to MaxNameLength.
func (p PendingRegistration) Normalize() PendingRegistration {
	p.Email = strings.TrimSpace(p.Email)
	p.FirstName = TruncateName(p.FirstName)
	p.LastName = TruncateName(p.LastName)
	return p
}

// RegistrationValidator checks a PendingRegistration.
type RegistrationValidator struct {
	validate *validator.Validate
}

// NewRegistrationValidator wraps v. A nil v gets a fresh validator.
func NewRegistrationValidator(v *validator.Validate) *RegistrationValidator {
	if v == nil {
		v = validator.New()
	}
	return &RegistrationValidator{validate: v}
}

// Validate returns a FlowError with CodeEmail when the email is missing or
// malformed. Names are not checked; Normalize bounds their length.
func (rv *RegistrationValidator) Validate(p PendingRegistration) error {
	const op = "PendingRegistration.Validate"

	err := rv.validate.Struct(p)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return FailWith(err, op, CodeEmail)
	}
	return FailWith(err, op, CodeUnknown)
}
