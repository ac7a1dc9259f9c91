package service

import "github.com/sandeepkv93/finance-tracker-auth/internal/apperr"

// Sentinels compare by kind, so errors.Is(err, ErrBadRequest) holds for any
// bad-request error regardless of its message.
var (
	ErrLoginFailed         = apperr.New(apperr.KindLoginFailed, "invalid email or password")
	ErrAccountLocked       = apperr.New(apperr.KindAccountLocked, "account is locked; reset the password to unlock it")
	ErrTokenInvalid        = apperr.New(apperr.KindTokenInvalid, "token is invalid or expired")
	ErrInvalidRefreshToken = apperr.New(apperr.KindInvalidRefreshToken, "invalid refresh token")
	ErrEmailExists         = apperr.New(apperr.KindEmailExists, "email is already registered")
	ErrBadRequest          = apperr.New(apperr.KindBadRequest, "bad request")
	ErrNotFound            = apperr.New(apperr.KindNotFound, "not found")
)

func badRequest(message string) error {
	return apperr.New(apperr.KindBadRequest, message)
}
