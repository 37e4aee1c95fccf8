// Package service implements the session registry, the file catalog, and
// the request-line transfer protocol on top of the leased key-value store.
// Every operation here is driven either by an HTTP handler or by a channel
// frame; the store is the only state the package touches.
package service

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/wyrmhole/backend/internal/identity"
	"github.com/wyrmhole/backend/internal/kv"
)

// Kind classifies a failed operation the way the HTTP surface reports it.
// Channel commands carry the same kinds but only into the log.
type Kind int

const (
	KindBadRequest Kind = iota + 1
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindTooMany
	KindInternal
)

// HTTPStatus returns the response status for the kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTooMany:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTooMany:
		return "too_many"
	default:
		return "internal"
	}
}

// Error is a classified operation failure. Message is client-facing and
// stable; callers branch on Kind, never on the text.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// AsError unwraps err to a classified *Error if it carries one.
func AsError(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func badRequest(format string, args ...interface{}) *Error {
	return &Error{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

func unauthorized(format string, args ...interface{}) *Error {
	return &Error{Kind: KindUnauthorized, Message: fmt.Sprintf(format, args...)}
}

func forbidden(format string, args ...interface{}) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func conflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func tooMany(format string, args ...interface{}) *Error {
	return &Error{Kind: KindTooMany, Message: fmt.Sprintf(format, args...)}
}

// wrap classifies an infrastructure error. Store transport failures become
// Internal with the canonical database message; token failures keep the
// status the identity package implies; a classified error passes through
// untouched.
func wrap(err error) *Error {
	if err == nil {
		return nil
	}
	if se, ok := AsError(err); ok {
		return se
	}
	switch {
	case errors.Is(err, kv.ErrUnavailable):
		return &Error{Kind: KindInternal, Message: kv.ErrUnavailable.Error()}
	case errors.Is(err, identity.ErrNoAuthHeader):
		return &Error{Kind: KindBadRequest, Message: identity.ErrNoAuthHeader.Error()}
	case errors.Is(err, identity.ErrTokenExpired):
		return &Error{Kind: KindUnauthorized, Message: identity.ErrTokenExpired.Error()}
	case errors.Is(err, identity.ErrTokenInvalid):
		return &Error{Kind: KindUnauthorized, Message: identity.ErrTokenInvalid.Error()}
	case errors.Is(err, identity.ErrWrongSession):
		return &Error{Kind: KindUnauthorized, Message: identity.ErrWrongSession.Error()}
	case errors.Is(err, identity.ErrNotHost):
		return &Error{Kind: KindUnauthorized, Message: identity.ErrNotHost.Error()}
	case errors.Is(err, identity.ErrNoSecret):
		return &Error{Kind: KindInternal, Message: identity.ErrNoSecret.Error()}
	default:
		return &Error{Kind: KindInternal, Message: err.Error()}
	}
}
