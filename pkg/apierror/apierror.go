// Package apierror defines the typed errors shared by the NLQ core and the
// HTTP layer. Errors compare by code, so errors.Is(err, apierror.ErrTimeout)
// holds for any timeout regardless of its message.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

type Code string

const (
	CodeBadRequest         Code = "BAD_REQUEST"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeNotFound           Code = "NOT_FOUND"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeValidationFailed   Code = "VALIDATION_FAILED"
	CodeInternal           Code = "INTERNAL_ERROR"
	CodeDatabase           Code = "DATABASE_ERROR"
	CodeAIService          Code = "AI_SERVICE_ERROR"
	CodeTimeout            Code = "TIMEOUT"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
)

var statusByCode = map[Code]int{
	CodeBadRequest:         http.StatusBadRequest,
	CodeUnauthorized:       http.StatusUnauthorized,
	CodeForbidden:          http.StatusForbidden,
	CodeNotFound:           http.StatusNotFound,
	CodeRateLimited:        http.StatusTooManyRequests,
	CodeValidationFailed:   http.StatusUnprocessableEntity,
	CodeInternal:           http.StatusInternalServerError,
	CodeDatabase:           http.StatusInternalServerError,
	CodeAIService:          http.StatusServiceUnavailable,
	CodeTimeout:            http.StatusGatewayTimeout,
	CodeServiceUnavailable: http.StatusServiceUnavailable,
}

// Sentinels for errors.Is.
var (
	ErrRateLimited = &Error{Code: CodeRateLimited}
	ErrTimeout     = &Error{Code: CodeTimeout}
	ErrAIService   = &Error{Code: CodeAIService}
	ErrDatabase    = &Error{Code: CodeDatabase}
	ErrValidation  = &Error{Code: CodeValidationFailed}
)

type Error struct {
	Code        Code
	Message     string
	Status      int
	Recoverable bool
	RetryAfter  time.Duration
	Err         error
}

type Option func(*Error)

func WithStatus(status int) Option {
	return func(e *Error) { e.Status = status }
}

func Recoverable() Option {
	return func(e *Error) { e.Recoverable = true }
}

func WithRetryAfter(d time.Duration) Option {
	return func(e *Error) { e.RetryAfter = d }
}

func WithCause(err error) Option {
	return func(e *Error) { e.Err = err }
}

func New(code Code, message string, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Message: message,
		Status:  StatusFor(code),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// StatusFor maps a code to its HTTP status, defaulting to 500.
func StatusFor(code Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

func IsRecoverable(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Recoverable
}

// Message extracts a caller-safe message from any error.
func Message(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
