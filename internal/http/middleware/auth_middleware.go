package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sandeepkv93/finance-tracker-auth/internal/apperr"
	"github.com/sandeepkv93/finance-tracker-auth/internal/http/response"
	"github.com/sandeepkv93/finance-tracker-auth/internal/observability"
	"github.com/sandeepkv93/finance-tracker-auth/internal/security"
)

type contextKey string

const identityContextKey contextKey = "identity"

// Identity is the authenticated caller of a request.
type Identity struct {
	TenantID  uint
	Subject   string
	TokenID   string
	ExpiresAt time.Time
}

type SubjectResolver interface {
	ResolveSubject(ctx context.Context, subject string) (uint, error)
}

type AccessLiveness interface {
	IsAccessLive(ctx context.Context, jti string) (bool, error)
}

// Authenticate attaches an Identity to requests carrying a live access
// token. Token problems leave the request anonymous; only dependency
// failures end it early.
func Authenticate(codec *security.TokenCodec, resolver SubjectResolver, store AccessLiveness, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			raw, ok := BearerToken(r)
			if !ok {
				observability.RecordAccessTokenValidation(ctx, "missing", "none")
				next.ServeHTTP(w, r)
				return
			}
			claims, err := codec.Decode(raw, security.AccessToken)
			if err != nil {
				observability.RecordAccessTokenValidation(ctx, "invalid", "bearer")
				next.ServeHTTP(w, r)
				return
			}
			tenantID, err := resolver.ResolveSubject(ctx, claims.Subject)
			if err != nil {
				if apperr.KindOf(err) == apperr.KindTokenInvalid {
					observability.RecordAccessTokenValidation(ctx, "unknown_subject", "bearer")
					next.ServeHTTP(w, r)
					return
				}
				observability.RecordAccessTokenValidation(ctx, "error", "bearer")
				response.FromError(w, r, logger, err)
				return
			}
			live, err := store.IsAccessLive(ctx, claims.ID)
			if err != nil {
				observability.RecordAccessTokenValidation(ctx, "error", "bearer")
				var appErr *apperr.Error
				if !errors.As(err, &appErr) {
					err = apperr.Unavailable("revocation store", err)
				}
				response.FromError(w, r, logger, err)
				return
			}
			if !live {
				observability.RecordAccessTokenValidation(ctx, "revoked", "bearer")
				next.ServeHTTP(w, r)
				return
			}
			observability.RecordAccessTokenValidation(ctx, "valid", "bearer")
			id := Identity{
				TenantID:  tenantID,
				Subject:   claims.Subject,
				TokenID:   claims.ID,
				ExpiresAt: claims.ExpiresAt.Time,
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, identityContextKey, id)))
		})
	}
}

// RequireIdentity rejects anonymous requests.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFromContext(r.Context()); !ok {
			response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(Identity)
	return id, ok
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if len(auth) < 7 || !strings.EqualFold(auth[:7], "bearer ") {
		return "", false
	}
	raw := strings.TrimSpace(auth[7:])
	return raw, raw != ""
}
