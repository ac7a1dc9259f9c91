package response

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/sandeepkv93/finance-tracker-auth/internal/apperr"
)

type errorMapping struct {
	status int
	code   string
}

// Mapping returns the HTTP status and wire code for kind.
func Mapping(kind apperr.Kind) (int, string) {
	m := mappingFor(kind)
	return m.status, m.code
}

func mappingFor(kind apperr.Kind) errorMapping {
	switch kind {
	case apperr.KindLoginFailed:
		return errorMapping{http.StatusUnauthorized, "LOGIN_FAILED"}
	case apperr.KindAccountLocked:
		return errorMapping{http.StatusForbidden, "ACCOUNT_LOCKED"}
	case apperr.KindTokenInvalid:
		return errorMapping{http.StatusUnauthorized, "TOKEN_INVALID"}
	case apperr.KindInvalidRefreshToken:
		return errorMapping{http.StatusUnauthorized, "INVALID_REFRESH_TOKEN"}
	case apperr.KindEmailExists:
		return errorMapping{http.StatusConflict, "EMAIL_EXISTS"}
	case apperr.KindBadRequest:
		return errorMapping{http.StatusBadRequest, "BAD_REQUEST"}
	case apperr.KindNotFound:
		return errorMapping{http.StatusNotFound, "NOT_FOUND"}
	case apperr.KindUnavailable:
		return errorMapping{http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"}
	case apperr.KindConfiguration, apperr.KindInternal:
		return errorMapping{http.StatusInternalServerError, "INTERNAL_ERROR"}
	default:
		return errorMapping{http.StatusInternalServerError, "INTERNAL_ERROR"}
	}
}

// FromError writes err using the status table above. Client-facing kinds
// expose their message; server-side kinds are logged and answered with a
// generic body.
func FromError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := apperr.KindOf(err)
	m := mappingFor(kind)
	switch m.status {
	case http.StatusInternalServerError:
		if logger != nil {
			logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "kind", kind.String(), "error", err)
		}
		Error(w, r, m.status, m.code, "internal server error", nil)
	case http.StatusServiceUnavailable:
		if logger != nil {
			logger.WarnContext(r.Context(), "dependency unavailable", "path", r.URL.Path, "error", err)
		}
		w.Header().Set("Retry-After", "1")
		Error(w, r, m.status, m.code, "service temporarily unavailable", nil)
	default:
		Error(w, r, m.status, m.code, publicMessage(err), nil)
	}
}

func publicMessage(err error) string {
	var e *apperr.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "request failed"
}
