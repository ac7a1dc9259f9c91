// Package database opens the relational store and the Redis client used by
// the session layer.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/finance-tracker-auth/internal/config"
	"github.com/sandeepkv93/finance-tracker-auth/internal/domain"
	"github.com/sandeepkv93/finance-tracker-auth/internal/tenancy"
)

// Models lists every table managed by Migrate.
var Models = []any{
	&domain.User{},
	&domain.VerificationToken{},
	&domain.Account{},
	&domain.Transaction{},
}

// Open connects with the configured driver and installs the tenant row
// filter. It does not migrate.
func Open(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DatabaseDriver {
	case "postgres":
		dialector = postgres.Open(cfg.DatabaseURL)
	case "sqlite":
		dialector = sqlite.Open(cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DatabaseDriver, err)
	}
	if cfg.DatabaseDriver == "sqlite" {
		// sqlite allows a single writer.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.Use(tenancy.Plugin{}); err != nil {
		return nil, fmt.Errorf("install tenancy plugin: %w", err)
	}
	return db, nil
}

func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(Models...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// OpenRedis returns a client for REDIS_ADDR. The connection is lazy; callers
// that need it at boot should Ping.
func OpenRedis(cfg *config.Config, logger *slog.Logger) redis.UniversalClient {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  cfg.StoreTimeout,
		ReadTimeout:  cfg.StoreTimeout,
		WriteTimeout: cfg.StoreTimeout,
	})
	logger.Info("redis client configured", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
	return client
}
