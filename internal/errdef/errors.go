// Package errdef defines the coded error type shared by the relay, the
// console and the stores. The code decides the HTTP status and the
// operator-visible failure class; the message is what callers see.
package errdef

import (
	"errors"
	"fmt"
)

// Code classifies an error.
type Code string

const (
	CodeInvalidMethod    Code = "INVALID_METHOD"
	CodeInvalidURL       Code = "INVALID_URL"
	CodeHostNotAllowed   Code = "HOST_NOT_ALLOWED"
	CodeBodyTooLarge     Code = "BODY_TOO_LARGE"
	CodeInvalidJSON      Code = "INVALID_JSON"
	CodeInvalidInput     Code = "INVALID_INPUT"
	CodeUpstream         Code = "UPSTREAM"
	CodeResponseTooLarge Code = "RESPONSE_TOO_LARGE"
	CodeNotFound         Code = "NOT_FOUND"
	CodeInvalidUser      Code = "INVALID_USER"
	CodeStorage          Code = "STORAGE"
	CodeConfig           Code = "CONFIG"
	CodeUnauthorized     Code = "UNAUTHORIZED"
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeInternal         Code = "INTERNAL"
)

// Error carries a code, a message and an optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap returns nil when err is nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// CodeOf returns the code of the outermost *Error in the chain, or
// CodeInternal when there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MessageOf returns the user-facing message of the outermost *Error,
// falling back to err.Error().
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// HasCode reports whether err carries code.
func HasCode(err error, code Code) bool {
	return errors.Is(err, New(code, ""))
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound       = New(CodeNotFound, "not found")
	ErrInvalidUser    = New(CodeInvalidUser, "invalid user id")
	ErrHostNotAllowed = New(CodeHostNotAllowed, "Host not allowed")
)
