package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sandeepkv93/finance-tracker-auth/internal/http/handler"
	"github.com/sandeepkv93/finance-tracker-auth/internal/http/middleware"
	"github.com/sandeepkv93/finance-tracker-auth/internal/http/response"
	"github.com/sandeepkv93/finance-tracker-auth/internal/security"
)

const maxBodyBytes = 1 << 20

type Dependencies struct {
	AuthHandler     *handler.AuthHandler
	AccountHandler  *handler.AccountHandler
	Codec           *security.TokenCodec
	SubjectResolver middleware.SubjectResolver
	AccessLiveness  middleware.AccessLiveness
	Logger          *slog.Logger
	// AuthRateLimiter and APIRateLimiter default to per-IP in-process
	// limiters of AuthRateLimitRPM and APIRateLimitRPM.
	AuthRateLimiter  func(http.Handler) http.Handler
	APIRateLimiter   func(http.Handler) http.Handler
	AuthRateLimitRPM int
	APIRateLimitRPM  int
	Readiness        []ReadinessCheck
	EnableOTelHTTP   bool
}

func NewRouter(dep Dependencies) http.Handler {
	logger := dep.Logger
	if logger == nil {
		logger = slog.Default()
	}
	authLimiter := dep.AuthRateLimiter
	if authLimiter == nil {
		authLimiter = middleware.NewRateLimiter("auth", dep.AuthRateLimitRPM, time.Minute).Middleware()
	}
	apiLimiter := dep.APIRateLimiter
	if apiLimiter == nil {
		apiLimiter = middleware.NewRateLimiter("api", dep.APIRateLimitRPM, time.Minute).Middleware()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.BodyLimit(maxBodyBytes))

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", readinessHandler(dep.Readiness))

	authenticate := middleware.Authenticate(dep.Codec, dep.SubjectResolver, dep.AccessLiveness, logger)

	r.Route("/auth", func(r chi.Router) {
		r.Use(authLimiter)
		r.Post("/register", dep.AuthHandler.Register)
		r.Post("/verify", dep.AuthHandler.Verify)
		r.Post("/login", dep.AuthHandler.Login)
		r.Post("/forgot-password", dep.AuthHandler.ForgotPassword)
		r.Post("/reset-password", dep.AuthHandler.ResetPassword)
		r.Post("/refresh", dep.AuthHandler.Refresh)
		r.With(authenticate).Post("/logout", dep.AuthHandler.Logout)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apiLimiter)
		r.Use(authenticate)
		r.Use(middleware.RequireIdentity)
		r.Use(middleware.TenantScope(logger))
		r.Get("/accounts", dep.AccountHandler.List)
		r.Post("/accounts", dep.AccountHandler.Create)
		r.Get("/accounts/{id}", dep.AccountHandler.Get)
		r.Get("/accounts/{id}/transactions", dep.AccountHandler.ListTransactions)
		r.Post("/accounts/{id}/transactions", dep.AccountHandler.CreateTransaction)
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
