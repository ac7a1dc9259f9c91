package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/sandeepkv93/finance-tracker-auth/internal/config"
	"github.com/sandeepkv93/finance-tracker-auth/internal/database"
	"github.com/sandeepkv93/finance-tracker-auth/internal/di"
	"github.com/sandeepkv93/finance-tracker-auth/internal/observability"
	"github.com/sandeepkv93/finance-tracker-auth/internal/security"
	"github.com/sandeepkv93/finance-tracker-auth/internal/tools/common"
	"github.com/sandeepkv93/finance-tracker-auth/internal/tools/loadgen"
	"github.com/sandeepkv93/finance-tracker-auth/internal/tools/smoke"
	"github.com/sandeepkv93/finance-tracker-auth/internal/tools/ui"
)

func newRootCommand() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:           "authd",
		Short:         "Finance tracker authentication and session service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envFile == "" {
				return nil
			}
			return common.LoadEnvFile(envFile)
		},
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "extra env file loaded before configuration")
	cmd.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newKeygenCommand(),
		newInspectCommand(),
		newLoadgenCommand(),
		smoke.NewRootCommand(),
	)
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger, lp, err := observability.InitLogging(ctx, os.Stdout, cfg)
			if err != nil {
				return err
			}
			runtime, err := observability.InitRuntime(ctx, cfg, logger, lp)
			if err != nil {
				if lp != nil {
					_ = lp.Shutdown(context.Background())
				}
				return err
			}
			a, cleanup, err := di.InitializeApp(ctx, cfg, logger, runtime)
			if err != nil {
				_ = runtime.Shutdown(context.Background())
				return err
			}
			a.OnClose(func() error {
				cleanup()
				return nil
			})
			logger.Info("starting", "env", cfg.Env, "revocation_backend", cfg.RevocationBackend, "rate_limit_backend", cfg.RateLimitBackend)
			return a.Run(ctx)
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := database.Open(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = database.Close(db) }()
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			if err := database.Migrate(ctx, db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.Success("schema up to date")+" "+cfg.DatabaseDriver)
			return nil
		},
	}
}

func newKeygenCommand() *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Print a random Base64 JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := generateSecret(rand.Reader, size)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), secret)
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "bytes", security.MinSigningKeyBytes, "key size in bytes")
	return cmd
}

func generateSecret(r io.Reader, size int) (string, error) {
	if size < security.MinSigningKeyBytes {
		return "", fmt.Errorf("key size must be at least %d bytes", security.MinSigningKeyBytes)
	}
	key := make([]byte, size)
	if _, err := io.ReadFull(r, key); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	secret := base64.StdEncoding.EncodeToString(key)
	if _, err := security.DecodeSigningKey(secret); err != nil {
		return "", err
	}
	return secret, nil
}

func newInspectCommand() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "inspect TOKEN",
		Short: "Verify a token against JWT_SECRET and print its claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			codec, err := security.NewTokenCodec(security.TokenCodecConfig{
				Secret:    cfg.JWTSecret,
				Issuer:    cfg.JWTIssuer,
				KeyID:     cfg.JWTKeyID,
				ClockSkew: cfg.ClockSkew(),
			})
			if err != nil {
				return err
			}
			out, err := inspectToken(codec, strings.TrimSpace(args[0]), security.TokenKind(kind), time.Now())
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(security.AccessToken), "expected token type: access or refresh")
	return cmd
}

var errTokenRejected = errors.New("token rejected")

// inspectToken renders verified claims, or the unverified ones alongside the
// rejection reason.
func inspectToken(codec *security.TokenCodec, raw string, kind security.TokenKind, now time.Time) (string, error) {
	claims, err := codec.Decode(raw, kind)
	if err == nil {
		return ui.Table(ui.Success("valid "+string(kind)+" token"), claimRows(claims, now)), nil
	}
	unverified := &security.Claims{}
	if _, _, perr := jwt.NewParser().ParseUnverified(raw, unverified); perr != nil {
		return ui.Failure("not a JWT: " + perr.Error()), errTokenRejected
	}
	rows := append(claimRows(unverified, now), ui.Row{Key: "error", Value: err.Error()})
	return ui.Table(ui.Failure("rejected"), rows), errTokenRejected
}

func claimRows(c *security.Claims, now time.Time) []ui.Row {
	rows := []ui.Row{
		{Key: "sub", Value: c.Subject},
		{Key: "jti", Value: c.ID},
		{Key: "token_type", Value: c.TokenType},
	}
	if c.Issuer != "" {
		rows = append(rows, ui.Row{Key: "iss", Value: c.Issuer})
	}
	if c.IssuedAt != nil {
		rows = append(rows, ui.Row{Key: "iat", Value: c.IssuedAt.UTC().Format(time.RFC3339)})
	}
	if c.ExpiresAt != nil {
		rows = append(rows,
			ui.Row{Key: "exp", Value: c.ExpiresAt.UTC().Format(time.RFC3339)},
			ui.Row{Key: "remaining", Value: c.RemainingLifetime(now).Round(time.Second).String()},
		)
	}
	return rows
}

func newLoadgenCommand() *cobra.Command {
	cfg := loadgen.Config{}
	var ci bool
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Drive synthetic traffic at a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			fn := func(ctx context.Context) ([]string, error) {
				res, err := loadgen.Run(ctx, cfg)
				if err != nil {
					return nil, err
				}
				details := []string{fmt.Sprintf("total=%d failures=%d rate_limited=%d", res.TotalRequests, res.Failures, res.RateLimited)}
				for class, n := range res.StatusClasses {
					details = append(details, fmt.Sprintf("%s=%d", class, n))
				}
				if res.Failures > 0 {
					return details, fmt.Errorf("%d requests failed", res.Failures)
				}
				return details, nil
			}
			if ci {
				details, err := fn(cmd.Context())
				common.PrintCIResult(err == nil, "loadgen", details, err)
				return err
			}
			_, err := ui.Run("loadgen "+cfg.Profile, fn)
			return err
		},
	}
	cmd.Flags().StringVar(&cfg.BaseURL, "base-url", "http://localhost:8080", "API base URL")
	cmd.Flags().StringVar(&cfg.Profile, "profile", "mixed", "traffic profile: health, auth, api or mixed")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", 10*time.Second, "how long to send traffic")
	cmd.Flags().IntVar(&cfg.RPS, "rps", 20, "requests per second")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", 4, "in-flight request limit")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", 42, "request selection seed")
	cmd.Flags().BoolVar(&ci, "ci", false, "non-interactive machine-readable output")
	return cmd
}
