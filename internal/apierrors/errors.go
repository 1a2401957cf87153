// Package apierrors implements the error taxonomy and its Protocol-A
// rendering: a single normalized error kind crosses every component
// boundary and serializes identically whether the request ended unary or
// mid-stream.
package apierrors

import (
	"errors"
	"fmt"

	"github.com/opencc/proxy/internal/protocola"
)

// Kind is one of the taxonomy's normalized error categories.
type Kind string

const (
	KindInvalidRequest Kind = "invalid_request_error"
	KindAuthentication Kind = "authentication_error"
	KindRateLimit      Kind = "rate_limit_error"
	KindNotSupported   Kind = "not_supported_error"
	KindTimeout        Kind = "timeout_error"
	KindAPI            Kind = "api_error"
	KindInternal       Kind = "internal_error"
	KindProviderInit   Kind = "provider_init_error"
	KindStream         Kind = "stream_error"
)

// HTTPStatus maps a Kind to its HTTP status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidRequest:
		return 400
	case KindAuthentication:
		return 401
	case KindRateLimit:
		return 429
	case KindNotSupported:
		return 400
	case KindTimeout:
		return 408
	default:
		return 500
	}
}

// Error is the normalized error type that crosses every component
// boundary. It implements the standard error interface and supports
// errors.As/Is via Unwrap.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int // upstream HTTP status, when this wraps a provider response
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind around a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// As reports whether err is (or wraps) an *Error, returning it if so.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// ToBody renders err as the Protocol-A error envelope. Any error that isn't
// already a tagged *Error is normalized to KindInternal, so the edge never
// leaks an untyped error to a client.
func ToBody(err error) protocola.ErrorBody {
	if e, ok := As(err); ok {
		return protocola.NewErrorBody(string(e.Kind), e.Message)
	}
	return protocola.NewErrorBody(string(KindInternal), err.Error())
}

// StatusFor returns the HTTP status that should accompany err.
func StatusFor(err error) int {
	if e, ok := As(err); ok {
		return e.Kind.HTTPStatus()
	}
	return KindInternal.HTTPStatus()
}
