// Package apperr implements the error taxonomy spec.md §7 describes:
// Conflict, NotFound, Validation, and Judge kinds, mapped onto HTTP
// status codes at the router edge rather than threaded through every
// handler as a status code directly.
package apperr

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind classifies an Error for HTTP-status mapping. Judge-kind errors
// never reach the HTTP layer — they're delivered over the room's
// WebSocket as a SetTestResponse(Error{...}) frame instead — but the
// kind is still named here so the taxonomy is complete.
type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
	KindJudge      Kind = "judge"
	KindInternal   Kind = "internal"
)

// Error is an apperr-classified error, wrapping an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Validation builds a validation-kind error (bad request body/path).
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// Conflict builds a conflict-kind error (duplicate name, already connected).
func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// NotFound builds a not-found-kind error (unknown room, missing problem).
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// Wrap classifies an existing error under kind, preserving it as the cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// StatusCode maps an error to the HTTP status its kind corresponds to.
// Errors that aren't an *Error are treated as internal (500).
func StatusCode(err error) int {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError
	}
	switch appErr.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Respond writes err to the gin context at its mapped status code, as a
// {"error": message} body. The router edge's one place to turn a
// classified error into an HTTP response.
func Respond(c *gin.Context, err error) {
	c.JSON(StatusCode(err), gin.H{"error": err.Error()})
}
