// Package di assembles the server from configuration.
package di

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/sandeepkv93/finance-tracker-auth/internal/app"
	"github.com/sandeepkv93/finance-tracker-auth/internal/config"
	"github.com/sandeepkv93/finance-tracker-auth/internal/database"
	"github.com/sandeepkv93/finance-tracker-auth/internal/email"
	"github.com/sandeepkv93/finance-tracker-auth/internal/http/handler"
	"github.com/sandeepkv93/finance-tracker-auth/internal/http/middleware"
	"github.com/sandeepkv93/finance-tracker-auth/internal/http/router"
	"github.com/sandeepkv93/finance-tracker-auth/internal/observability"
	"github.com/sandeepkv93/finance-tracker-auth/internal/repository"
	"github.com/sandeepkv93/finance-tracker-auth/internal/security"
	"github.com/sandeepkv93/finance-tracker-auth/internal/service"
)

// ProviderSet is everything InitializeApp needs beyond its arguments.
var ProviderSet = wire.NewSet(
	InfraSet,
	RepositorySet,
	ServiceSet,
	HTTPSet,
	ProvideApp,
)

var InfraSet = wire.NewSet(
	ProvideDB,
	ProvideRedis,
)

var RepositorySet = wire.NewSet(
	ProvideUserRepository,
	ProvideVerificationTokenRepository,
	ProvideAccountRepository,
	ProvideTransactionRepository,
	wire.Bind(new(repository.UserRepository), new(*repository.GormUserRepository)),
	wire.Bind(new(repository.VerificationTokenRepository), new(*repository.GormVerificationTokenRepository)),
	wire.Bind(new(repository.AccountRepository), new(*repository.GormAccountRepository)),
	wire.Bind(new(repository.TransactionRepository), new(*repository.GormTransactionRepository)),
)

var ServiceSet = wire.NewSet(
	ProvideTokenCodec,
	ProvidePasswordHasher,
	wire.Bind(new(service.PasswordHasher), new(*security.PasswordHasher)),
	ProvideRevocationStore,
	ProvideNegativeLookupCache,
	ProvideTokenService,
	ProvideNotifier,
	ProvideAuthService,
	ProvideSubjectResolver,
)

var HTTPSet = wire.NewSet(
	handler.NewAuthHandler,
	handler.NewAccountHandler,
	ProvideRouter,
	ProvideHTTPServer,
)

// ProvideDB opens and migrates the database.
func ProvideDB(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*gorm.DB, func(), error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		_ = database.Close(db)
		return nil, nil, err
	}
	cleanup := func() {
		if err := database.Close(db); err != nil {
			logger.Error("close database", "error", err)
		}
	}
	return db, cleanup, nil
}

func ProvideRedis(cfg *config.Config, logger *slog.Logger) (redis.UniversalClient, func()) {
	client := database.OpenRedis(cfg, logger)
	return client, func() {
		if err := client.Close(); err != nil {
			logger.Error("close redis", "error", err)
		}
	}
}

func ProvideUserRepository(db *gorm.DB, cfg *config.Config) *repository.GormUserRepository {
	return repository.NewUserRepository(db, cfg.DBTimeout)
}

func ProvideVerificationTokenRepository(db *gorm.DB, cfg *config.Config) *repository.GormVerificationTokenRepository {
	return repository.NewVerificationTokenRepository(db, cfg.DBTimeout)
}

func ProvideAccountRepository(db *gorm.DB, cfg *config.Config) *repository.GormAccountRepository {
	return repository.NewAccountRepository(db, cfg.DBTimeout)
}

func ProvideTransactionRepository(db *gorm.DB, cfg *config.Config) *repository.GormTransactionRepository {
	return repository.NewTransactionRepository(db, cfg.DBTimeout)
}

// ProvideTokenCodec fails on a missing or weak JWT_SECRET, which stops the
// process at boot.
func ProvideTokenCodec(cfg *config.Config) (*security.TokenCodec, error) {
	return security.NewTokenCodec(security.TokenCodecConfig{
		Secret:    cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		KeyID:     cfg.JWTKeyID,
		ClockSkew: cfg.ClockSkew(),
	})
}

func ProvidePasswordHasher(cfg *config.Config) *security.PasswordHasher {
	return security.NewPasswordHasher(cfg.BcryptCost)
}

func ProvideRevocationStore(cfg *config.Config, client redis.UniversalClient, logger *slog.Logger) service.RevocationStore {
	if cfg.RevocationBackend == "memory" {
		logger.Warn("using in-memory revocation store; sessions are not shared between replicas")
		return service.NewInMemoryRevocationStore()
	}
	return service.NewRedisRevocationStore(client, "", cfg.StoreTimeout)
}

func ProvideNegativeLookupCache(cfg *config.Config, client redis.UniversalClient) service.NegativeLookupCache {
	if cfg.RevocationBackend == "memory" {
		return service.NewInMemoryNegativeLookupCache()
	}
	return service.NewRedisNegativeLookupCache(client, "")
}

func ProvideTokenService(cfg *config.Config, codec *security.TokenCodec, store service.RevocationStore) *service.TokenService {
	return service.NewTokenService(codec, store, cfg.AccessTTL(), cfg.RefreshTTL())
}

// ProvideNotifier sends mail when SMTP_HOST is set and logs otherwise.
func ProvideNotifier(cfg *config.Config, logger *slog.Logger) service.VerificationNotifier {
	if cfg.SMTPHost == "" {
		return email.NewLogNotifier(logger)
	}
	sender := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.SMTPUsername, cfg.SMTPPassword, logger)
	return email.NewSMTPNotifier(sender, cfg.AppBaseURL)
}

func ProvideAuthService(
	cfg *config.Config,
	users repository.UserRepository,
	tokens repository.VerificationTokenRepository,
	hasher service.PasswordHasher,
	sessions *service.TokenService,
	notifier service.VerificationNotifier,
	logger *slog.Logger,
) *service.AuthService {
	return service.NewAuthService(users, tokens, hasher, sessions, notifier, logger, service.AuthServiceConfig{
		VerificationTTL: cfg.VerificationTTL,
		NotifyTimeout:   cfg.NotifyTimeout,
	})
}

func ProvideSubjectResolver(users repository.UserRepository, missing service.NegativeLookupCache, logger *slog.Logger) *service.SubjectResolver {
	return service.NewSubjectResolver(users, missing, service.DefaultUnknownSubjectTTL, logger)
}

func ProvideRouter(
	cfg *config.Config,
	logger *slog.Logger,
	authHandler *handler.AuthHandler,
	accountHandler *handler.AccountHandler,
	codec *security.TokenCodec,
	resolver *service.SubjectResolver,
	store service.RevocationStore,
	db *gorm.DB,
	client redis.UniversalClient,
) http.Handler {
	dep := router.Dependencies{
		AuthHandler:      authHandler,
		AccountHandler:   accountHandler,
		Codec:            codec,
		SubjectResolver:  resolver,
		AccessLiveness:   store,
		Logger:           logger,
		AuthRateLimitRPM: cfg.AuthRateLimitPerMinute,
		APIRateLimitRPM:  cfg.APIRateLimitPerMinute,
		EnableOTelHTTP:   cfg.OTELTracingEnabled || cfg.OTELMetricsEnabled,
		Readiness: []router.ReadinessCheck{
			{Name: "database", Check: func(ctx context.Context) error { return database.Ping(ctx, db) }},
		},
	}
	usesRedis := cfg.RevocationBackend == "redis" || cfg.RateLimitBackend == "redis"
	if usesRedis {
		dep.Readiness = append(dep.Readiness, router.ReadinessCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
	}
	if cfg.RateLimitBackend == "redis" {
		limiter := middleware.NewRedisFixedWindowLimiter(client, "")
		dep.AuthRateLimiter = middleware.NewDistributedRateLimiter(limiter, "auth", cfg.AuthRateLimitPerMinute, time.Minute, middleware.FailClosed, logger).Middleware()
		dep.APIRateLimiter = middleware.NewDistributedRateLimiter(limiter, "api", cfg.APIRateLimitPerMinute, time.Minute, middleware.FailOpen, logger).Middleware()
	}
	return router.NewRouter(dep)
}

func ProvideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// ProvideApp drains pending verification mail on shutdown.
func ProvideApp(cfg *config.Config, logger *slog.Logger, server *http.Server, runtime *observability.Runtime, auth *service.AuthService) *app.App {
	return app.New(cfg, logger, server, runtime, auth)
}
