package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/DukeRupert/brandedflow/internal/domain"
)

// Flow failures never reach these helpers: they become redirects carrying
// flow codes. What is left are requests no page can answer, such as an
// unknown action, a wrong method or a malformed post.

// ErrorResponse writes err as an HTTP error. The status comes from the
// domain error code; the body is the error's user-facing message, as JSON
// for API clients and plain text otherwise.
func ErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	writeError(w, r, logger, err, ErrorCodeToHTTPStatus(domain.ErrorCode(err)))
}

func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, status int) {
	code := domain.ErrorCode(err)
	attrs := []slog.Attr{
		slog.String("error", err.Error()),
		slog.String("code", code),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("action", r.URL.Query().Get("action")),
		slog.Int("status", status),
	}
	if op := domain.ErrorOp(err); op != "" {
		attrs = append(attrs, slog.String("op", op))
	}
	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logger.LogAttrs(r.Context(), level, "request failed", attrs...)

	message := domain.ErrorMessage(err)
	if wantsJSON(r) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]map[string]string{
			"error": {"code": code, "message": message},
		})
		return
	}
	http.Error(w, message, status)
}

// ErrorCodeToHTTPStatus maps domain error codes to HTTP status codes.
// Unknown codes are treated as internal errors.
func ErrorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized
	case domain.EFORBIDDEN:
		return http.StatusForbidden
	case domain.ENOTFOUND:
		return http.StatusNotFound
	case domain.ECONFLICT:
		return http.StatusConflict
	case domain.EGONE:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// BadRequestResponse writes a 400 with a fixed message. The flow handlers
// use it for malformed form posts that cannot be redirected anywhere useful.
func BadRequestResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, message string) {
	ErrorResponse(w, r, logger, domain.Errorf(domain.EINVALID, "", "%s", message))
}

// MethodNotAllowedResponse writes a 405 listing the allowed methods.
func MethodNotAllowedResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, allowed []string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, logger, domain.Errorf(domain.EINVALID, "", "Method not allowed"), http.StatusMethodNotAllowed)
}

// NotFoundResponse answers an auth endpoint action nobody handles.
func NotFoundResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger) {
	ErrorResponse(w, r, logger, domain.Errorf(domain.ENOTFOUND, "", "The requested page was not found"))
}

// UnauthorizedResponse is the API-client answer to a missing session.
func UnauthorizedResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger) {
	ErrorResponse(w, r, logger, domain.Errorf(domain.EUNAUTHORIZED, "", "Authentication required"))
}

// InternalErrorResponse logs err and answers with a generic 500 that hides
// its details.
func InternalErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	ErrorResponse(w, r, logger, domain.Internal(err, "", "An unexpected error occurred"))
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.Contains(r.Header.Get("Content-Type"), "application/json")
}
