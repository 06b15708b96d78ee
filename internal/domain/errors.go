package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Application error codes
const (
	EINVALID      = "invalid"      // Invalid input or validation failure
	EUNAUTHORIZED = "unauthorized" // Authentication required or credentials rejected
	EFORBIDDEN    = "forbidden"    // Permission denied
	ENOTFOUND     = "not_found"    // Resource not found
	ECONFLICT     = "conflict"     // Resource conflict (e.g., duplicate email)
	EGONE         = "gone"         // Resource no longer available (e.g., expired reset key)
	EINTERNAL     = "internal"     // Internal server error
)

// Error represents an application error with structured information.
type Error struct {
	Code    string // Machine-readable error code
	Op      string // Operation that failed (e.g., "IdentityService.CreateAccount")
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates a new Error with the given code, operation, and formatted message.
func Errorf(code, op, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// ErrorCode returns the code of the root error, or EINTERNAL if none.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return EINTERNAL
}

// ErrorMessage returns the human-readable message of the error.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Code == EINTERNAL {
			return "An internal error occurred. Please try again later."
		}
		return e.Message
	}
	return "An internal error occurred. Please try again later."
}

// ErrorOp returns the operation of the root error, if any.
func ErrorOp(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// NotFound creates a not found error.
func NotFound(op, resource, id string) *Error {
	return &Error{
		Code:    ENOTFOUND,
		Op:      op,
		Message: fmt.Sprintf("%s %q not found", resource, id),
	}
}

// Invalid creates a validation error.
func Invalid(op, message string) *Error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: message,
	}
}

// Unauthorized creates an authentication error.
func Unauthorized(op, message string) *Error {
	return &Error{
		Code:    EUNAUTHORIZED,
		Op:      op,
		Message: message,
	}
}

// Conflict creates a conflict error.
func Conflict(op, message string) *Error {
	return &Error{
		Code:    ECONFLICT,
		Op:      op,
		Message: message,
	}
}

// Internal creates an internal error, wrapping the underlying error.
func Internal(err error, op, message string) *Error {
	return &Error{
		Code:    EINTERNAL,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// =============================================================================
// Flow Errors
// =============================================================================

// CodeUnknown is used when a flow failure carries no usable code. It has no
// catalog entry, so it always renders as the generic fallback message.
const CodeUnknown = "unknown"

// FlowError is the failing side of a flow outcome: one or more short codes
// that travel through a redirect URL and are resolved to messages on the
// next request. A nil error is the success side.
type FlowError struct {
	Op    string
	Codes []string
	Err   error // optional cause, never shown to the user
}

func (e *FlowError) Error() string {
	msg := strings.Join(e.Codes, ",")
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// Fail builds a FlowError. Empty codes are dropped; if none remain the error
// carries CodeUnknown so a failure is never mistaken for success.
func Fail(op string, codes ...string) *FlowError {
	kept := make([]string, 0, len(codes))
	for _, c := range codes {
		if c != "" {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		kept = append(kept, CodeUnknown)
	}
	return &FlowError{Op: op, Codes: kept}
}

// FailWith is Fail with an underlying cause attached.
func FailWith(err error, op string, codes ...string) *FlowError {
	fe := Fail(op, codes...)
	fe.Err = err
	return fe
}

// FlowCodes extracts the failure codes from err. Errors that are not flow
// errors yield CodeUnknown; a nil error yields nil.
func FlowCodes(err error) []string {
	if err == nil {
		return nil
	}
	var fe *FlowError
	if errors.As(err, &fe) && len(fe.Codes) > 0 {
		return fe.Codes
	}
	return []string{CodeUnknown}
}

// HasFlowCode reports whether err carries the given flow code.
func HasFlowCode(err error, code string) bool {
	for _, c := range FlowCodes(err) {
		if c == code {
			return true
		}
	}
	return false
}
