// Package apperr carries HTTP-facing failures from services to the API layer.
// Handlers render an *Error as {"detail": "..."} with its status code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a failure that already knows how it should look on the wire.
type Error struct {
	Status  int
	Detail  string
	Headers map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Status, e.Detail, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error with the given status and detail.
func New(status int, detail string) *Error {
	return &Error{Status: status, Detail: detail}
}

// Wrap returns an Error that keeps cause for logging.
func Wrap(status int, detail string, cause error) *Error {
	return &Error{Status: status, Detail: detail, Err: cause}
}

// Unauthorized returns a 401 carrying the Bearer challenge header.
func Unauthorized(detail string) *Error {
	return &Error{
		Status:  http.StatusUnauthorized,
		Detail:  detail,
		Headers: map[string]string{"WWW-Authenticate": "Bearer"},
	}
}

func NotFound(detail string) *Error      { return New(http.StatusNotFound, detail) }
func Conflict(detail string) *Error      { return New(http.StatusConflict, detail) }
func Unprocessable(detail string) *Error { return New(http.StatusUnprocessableEntity, detail) }
func BadGateway(detail string) *Error    { return New(http.StatusBadGateway, detail) }
func Internal(detail string) *Error      { return New(http.StatusInternalServerError, detail) }

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StatusOf returns the HTTP status carried by err, or 500.
func StatusOf(err error) int {
	if e, ok := As(err); ok {
		return e.Status
	}
	return http.StatusInternalServerError
}
