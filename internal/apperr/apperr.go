// Package apperr defines the closed set of error kinds raised by the auth
// core. The HTTP boundary switches over Kind; anything that is not an *Error
// is treated as KindInternal.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindLoginFailed
	KindAccountLocked
	KindTokenInvalid
	KindInvalidRefreshToken
	KindEmailExists
	KindBadRequest
	KindNotFound
	KindUnavailable
	KindConfiguration
)

// Kinds lists every Kind, in declaration order.
var Kinds = []Kind{
	KindInternal,
	KindLoginFailed,
	KindAccountLocked,
	KindTokenInvalid,
	KindInvalidRefreshToken,
	KindEmailExists,
	KindBadRequest,
	KindNotFound,
	KindUnavailable,
	KindConfiguration,
}

func (k Kind) String() string {
	switch k {
	case KindLoginFailed:
		return "login_failed"
	case KindAccountLocked:
		return "account_locked"
	case KindTokenInvalid:
		return "token_invalid"
	case KindInvalidRefreshToken:
		return "invalid_refresh_token"
	case KindEmailExists:
		return "email_exists"
	case KindBadRequest:
		return "bad_request"
	case KindNotFound:
		return "not_found"
	case KindUnavailable:
		return "unavailable"
	case KindConfiguration:
		return "configuration"
	default:
		return "internal"
	}
}

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches cause to a new error of the given kind.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so sentinels compare by kind
// regardless of the wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Unavailable wraps an infrastructure failure (timeout, connection refused)
// as a retryable error.
func Unavailable(component string, cause error) *Error {
	return Wrap(KindUnavailable, component+" unavailable", cause)
}
