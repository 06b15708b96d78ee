package domain

// Flow codes. These are the short identifiers carried in redirect query
// strings; the flow catalog maps each to a user-facing message.
const (
	// Login
	CodeEmptyUsername     = "empty_username"
	CodeEmptyPassword     = "empty_password"
	CodeInvalidUsername   = "invalid_username"
	CodeIncorrectPassword = "incorrect_password"

	// Registration
	CodeEmail       = "email"
	CodeEmailExists = "email_exists"
	CodeClosed      = "closed"

	// Lost password
	CodeInvalidEmail         = "invalid_email"
	CodeInvalidCombo         = "invalidcombo"
	CodeResetEmailFailure    = "retrieve_password_email_failure"
	CodeResetKeyIssueFailure = "no_password_key_update"

	// Reset password
	CodeExpiredKey            = "expiredkey"
	CodeInvalidKey            = "invalidkey"
	CodePasswordResetMismatch = "password_reset_mismatch"
	CodePasswordResetEmpty    = "password_reset_empty"

	// Any form
	CodeCSRF = "csrf"
)
