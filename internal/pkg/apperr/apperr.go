// Package apperr carries the error taxonomy shared by services and HTTP
// handlers: expected rejections are typed and mapped to a status code plus a
// stable reason string, so controllers never guess from error text.
package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	KindInternal   Kind = iota
	KindValidation      // malformed input, unknown plan/status
	KindAuth            // bad signature or internal token
	KindNotFound        // order/token/session absent
	KindConflict        // token not issued, OTP exhausted, rate limit
	KindUpstream        // provider or relay call failed
)

// Error is an expected, classified failure. Message is user-facing.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, status int, msg string) *Error {
	return &Error{Kind: kind, Status: status, Message: msg}
}

func Validation(msg string) *Error { return newError(KindValidation, http.StatusBadRequest, msg) }
func Auth(msg string) *Error       { return newError(KindAuth, http.StatusUnauthorized, msg) }
func NotFound(msg string) *Error   { return newError(KindNotFound, http.StatusNotFound, msg) }
func Conflict(msg string) *Error   { return newError(KindConflict, http.StatusBadRequest, msg) }
func Upstream(msg string) *Error   { return newError(KindUpstream, http.StatusBadGateway, msg) }

// RateLimited is a Conflict variant carrying 429.
func RateLimited(msg string) *Error {
	return newError(KindConflict, http.StatusTooManyRequests, msg)
}

// WithErr attaches a cause for logging; the user-facing message is unchanged.
func (e *Error) WithErr(err error) *Error {
	clone := *e
	clone.Err = err
	return &clone
}

// StatusOf maps any error to an HTTP status. Unclassified errors are 500.
func StatusOf(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Status
	}
	return http.StatusInternalServerError
}

// KindOf classifies any error; unclassified errors are KindInternal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// MessageOf returns the user-facing reason string for an error.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "internal server error"
}

// IsExpected reports whether an error is a classified rejection rather than a
// failure of the system itself. Expected errors are not logged as errors.
func IsExpected(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind != KindInternal
}
