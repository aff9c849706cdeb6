// Package apierror defines the stable error-code taxonomy of spec §7 and
// the HTTP status each code maps to. Handlers in package server build one
// of these instead of returning a bare error, so the wire body shape stays
// uniform regardless of which layer detected the failure.
package apierror

import "net/http"

// Code is one of the small stable integers from spec §7. Clients key off
// these, not the message text, so the set must never be renumbered.
type Code int

const (
	CodeInvalidProtocol      Code = 1
	CodeInvalidID            Code = 2
	CodeInvalidUser          Code = 3
	CodeOverQuota            Code = 4
	CodeBodyParse            Code = 5
	CodeInvalidBSO           Code = 6
	CodeNoWritePermission    Code = 7
	CodeInvalidConfiguration Code = 8
)

// Error is the uniform error type every pipeline stage returns. Status is
// the HTTP status to send; Code is the stable wire code; Message is a
// human-readable string included in the body when non-empty. Internal
// backend failures are never surfaced through Message (spec §7
// "Propagation policy") — they're logged/reported and a generic message
// is substituted.
type Error struct {
	Status  int
	Code    Code
	Message string

	// cause is the underlying error, kept for logging/reporting but never
	// rendered onto the wire.
	cause error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return http.StatusText(e.Status)
}

// Unwrap exposes the wrapped cause to errors.Is/As and to the sentry
// reporter in report.go.
func (e *Error) Unwrap() error { return e.cause }

// New builds an Error with no underlying cause.
func New(status int, code Code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// Wrap builds an Error that carries cause for logging/reporting purposes
// but keeps the wire-visible message generic.
func Wrap(cause error, status int, code Code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message, cause: cause}
}

var (
	ErrInvalidProtocol    = New(http.StatusBadRequest, CodeInvalidProtocol, "invalid protocol")
	ErrInvalidID          = New(http.StatusBadRequest, CodeInvalidID, "invalid id")
	ErrInvalidUser        = New(http.StatusUnauthorized, CodeInvalidUser, "invalid user")
	ErrOverQuota          = New(http.StatusForbidden, CodeOverQuota, "over quota")
	ErrBodyParse          = New(http.StatusBadRequest, CodeBodyParse, "malformed request body")
	ErrInvalidBSO         = New(http.StatusBadRequest, CodeInvalidBSO, "invalid bso")
	ErrNoWritePermission  = New(http.StatusForbidden, CodeNoWritePermission, "no write permission")
	ErrInvalidConfig      = New(http.StatusBadRequest, CodeInvalidConfiguration, "invalid configuration")
	ErrNotFound           = New(http.StatusNotFound, CodeInvalidID, "not found")
	ErrPreconditionFailed = New(http.StatusPreconditionFailed, CodeInvalidProtocol, "")
	ErrNotModified        = New(http.StatusNotModified, CodeInvalidProtocol, "")
	ErrTooLarge           = New(http.StatusRequestEntityTooLarge, CodeInvalidBSO, "request too large")
	ErrBusy               = New(http.StatusServiceUnavailable, CodeInvalidProtocol, "server busy")
	ErrConflict           = New(http.StatusConflict, CodeInvalidProtocol, "lock contention")
	ErrForbiddenDelete    = New(http.StatusBadRequest, CodeInvalidProtocol, "must confirm user delete")
)
