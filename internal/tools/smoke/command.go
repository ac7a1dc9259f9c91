// Package smoke verifies a running deployment end to end from the outside.
package smoke

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/finance-tracker-auth/internal/tools/common"
	"github.com/sandeepkv93/finance-tracker-auth/internal/tools/loadgen"
	"github.com/sandeepkv93/finance-tracker-auth/internal/tools/ui"
)

type options struct {
	baseURL          string
	ci               bool
	burst            time.Duration
	burstRPS         int
	expectRateLimits bool
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{Use: "smoke", Short: "Check health, auth rejection and rate limiting of a running server"}
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "http://localhost:8080", "API base URL")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.PersistentFlags().DurationVar(&opts.burst, "burst", 3*time.Second, "duration of the auth traffic burst")
	cmd.PersistentFlags().IntVar(&opts.burstRPS, "burst-rps", 40, "requests per second during the burst")
	cmd.PersistentFlags().BoolVar(&opts.expectRateLimits, "expect-rate-limit", true, "fail unless the burst sees 429 responses")
	cmd.AddCommand(newRunCommand(opts))
	return cmd
}

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run every smoke check once",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := run(opts, "smoke run", func(ctx context.Context) ([]string, error) {
				return Check(ctx, *opts, &http.Client{Timeout: 10 * time.Second})
			})
			if opts.ci {
				common.PrintCIResult(err == nil, "smoke run", details, err)
			}
			if err != nil {
				os.Exit(4)
			}
			return nil
		},
	}
}

func run(opts *options, title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()
		return fn(ctx)
	}
	return ui.Run(title, fn)
}

// Check runs the checks in order and stops at the first failure.
func Check(ctx context.Context, opts options, client *http.Client) ([]string, error) {
	var details []string

	if err := expectStatus(ctx, client, opts.baseURL, http.MethodGet, "/health/live", "", http.StatusOK, ""); err != nil {
		return details, fmt.Errorf("liveness: %w", err)
	}
	details = append(details, "liveness: ok")

	if err := expectStatus(ctx, client, opts.baseURL, http.MethodGet, "/health/ready", "", http.StatusOK, ""); err != nil {
		return details, fmt.Errorf("readiness: %w", err)
	}
	details = append(details, "readiness: ok")

	if err := expectStatus(ctx, client, opts.baseURL, http.MethodGet, "/api/v1/accounts", "", http.StatusUnauthorized, "UNAUTHORIZED"); err != nil {
		return details, fmt.Errorf("anonymous api request: %w", err)
	}
	details = append(details, "anonymous api request rejected: ok")

	login := `{"email":"smoke-check@example.invalid","password":"definitely-wrong"}`
	if err := expectStatus(ctx, client, opts.baseURL, http.MethodPost, "/auth/login", login, http.StatusUnauthorized, "LOGIN_FAILED"); err != nil {
		return details, fmt.Errorf("unknown login: %w", err)
	}
	details = append(details, "unknown login rejected generically: ok")

	if opts.burst <= 0 {
		return details, nil
	}
	res, err := loadgen.Run(ctx, loadgen.Config{
		BaseURL:     opts.baseURL,
		Profile:     "auth",
		Duration:    opts.burst,
		RPS:         opts.burstRPS,
		Concurrency: 4,
		Seed:        42,
		Client:      client,
	})
	if err != nil {
		return details, err
	}
	details = append(details, fmt.Sprintf("auth burst total=%d rate_limited=%d failures=%d", res.TotalRequests, res.RateLimited, res.Failures))
	if res.Failures > 0 {
		return details, fmt.Errorf("auth burst saw %d server failures", res.Failures)
	}
	if opts.expectRateLimits && res.RateLimited == 0 {
		return details, fmt.Errorf("auth burst was never rate limited")
	}
	return details, nil
}

func expectStatus(ctx context.Context, client *http.Client, baseURL, method, path, body string, want int, wantCode string) error {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + path)
	if err != nil {
		return err
	}
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != want {
		return fmt.Errorf("status %d, want %d", resp.StatusCode, want)
	}
	if wantCode == "" {
		return nil
	}
	var env struct {
		Error *struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if env.Error == nil || env.Error.Code != wantCode {
		return fmt.Errorf("error code mismatch, want %s", wantCode)
	}
	return nil
}
