// Package app owns the process lifecycle: serve until the context ends, then
// drain in dependency order.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sandeepkv93/finance-tracker-auth/internal/config"
	"github.com/sandeepkv93/finance-tracker-auth/internal/observability"
)

// Drainer stops and waits for background work started by request handlers.
type Drainer interface {
	DrainNotifications(ctx context.Context) error
}

type App struct {
	Config          *config.Config
	Logger          *slog.Logger
	Server          *http.Server
	Observability   *observability.Runtime
	Background      Drainer
	ShutdownTimeout time.Duration

	closers []func() error
}

func New(cfg *config.Config, logger *slog.Logger, server *http.Server, runtime *observability.Runtime, background Drainer) *App {
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &App{
		Config:          cfg,
		Logger:          logger,
		Server:          server,
		Observability:   runtime,
		Background:      background,
		ShutdownTimeout: timeout,
	}
}

// OnClose registers fn to run after the server and background work have
// stopped. Closers run in reverse registration order.
func (a *App) OnClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Run serves until ctx is cancelled or the listener fails, then shuts down.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", ln.Addr().String())
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown(context.WithoutCancel(ctx))
	})
	return g.Wait()
}

// Shutdown drains HTTP, then background notifications, then telemetry and
// the registered closers, all within ShutdownTimeout.
func (a *App) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.ShutdownTimeout)
	defer cancel()
	a.Logger.Info("shutting down", "timeout", a.ShutdownTimeout.String())

	var errs []error
	if err := a.Server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if a.Background != nil {
		if err := a.Background.DrainNotifications(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain notifications: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.Observability.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("observability shutdown: %w", err))
	}
	err := errors.Join(errs...)
	if err != nil {
		a.Logger.Error("shutdown finished with errors", "error", err)
	} else {
		a.Logger.Info("shutdown complete")
	}
	return err
}
