//go:build wireinject
// +build wireinject

package di

import (
	"context"
	"log/slog"

	"github.com/google/wire"

	"github.com/sandeepkv93/finance-tracker-auth/internal/app"
	"github.com/sandeepkv93/finance-tracker-auth/internal/config"
	"github.com/sandeepkv93/finance-tracker-auth/internal/observability"
)

func InitializeApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, runtime *observability.Runtime) (*app.App, func(), error) {
	panic(wire.Build(ProviderSet))
}
