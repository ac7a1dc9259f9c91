package middleware

import (
	"log/slog"
	"net/http"

	"github.com/sandeepkv93/finance-tracker-auth/internal/http/response"
	"github.com/sandeepkv93/finance-tracker-auth/internal/tenancy"
)

// TenantScope opens a tenant scope for authenticated requests and releases
// it when the handler returns. Anonymous requests pass through unscoped.
func TenantScope(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			ctx, release, err := tenancy.Acquire(r.Context(), id.TenantID)
			if err != nil {
				if logger != nil {
					logger.ErrorContext(r.Context(), "tenant scope acquire failed", "tenant_id", id.TenantID, "error", err)
				}
				response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", nil)
				return
			}
			defer release()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
