// Package loadgen drives synthetic traffic at a running server to exercise
// its rate limiters, authenticator and telemetry.
package loadgen

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Config struct {
	BaseURL     string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        int64
	Client      *http.Client
}

type Result struct {
	TotalRequests int
	Failures      int
	RateLimited   int
	StatusClasses map[string]int
}

type request struct {
	method string
	path   string
	body   string
}

// Run issues requests at cfg.RPS until cfg.Duration elapses or ctx ends.
// A failure is a transport error or a 5xx response.
func Run(ctx context.Context, cfg Config) (Result, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return Result{}, fmt.Errorf("base url is required")
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	profile := normalizeProfile(cfg.Profile)
	if _, ok := profiles[profile]; !ok {
		return Result{}, fmt.Errorf("unknown profile %q", cfg.Profile)
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	rng := rand.New(rand.NewSource(cfg.Seed))

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	var (
		mu  sync.Mutex
		res = Result{StatusClasses: map[string]int{}}
	)
	record := func(status int, err error) {
		mu.Lock()
		defer mu.Unlock()
		res.TotalRequests++
		if err != nil {
			res.Failures++
			res.StatusClasses["error"]++
			return
		}
		res.StatusClasses[classifyStatusClass(status)]++
		if status == http.StatusTooManyRequests {
			res.RateLimited++
		}
		if status >= 500 {
			res.Failures++
		}
	}

	ticker := time.NewTicker(time.Second / time.Duration(cfg.RPS))
	defer ticker.Stop()
	g := new(errgroup.Group)
	g.SetLimit(cfg.Concurrency)
	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return res, nil
		case <-ticker.C:
			req := pick(profile, rng)
			g.Go(func() error {
				status, err := send(ctx, client, base, req)
				if ctx.Err() != nil {
					return nil
				}
				record(status, err)
				return nil
			})
		}
	}
}

var profiles = map[string][]request{
	"health": {
		{method: http.MethodGet, path: "/health/live"},
		{method: http.MethodGet, path: "/health/ready"},
	},
	"auth": {
		{method: http.MethodPost, path: "/auth/login", body: `{"email":"loadgen@example.com","password":"not-the-password"}`},
		{method: http.MethodPost, path: "/auth/forgot-password", body: `{"email":"loadgen@example.com"}`},
		{method: http.MethodPost, path: "/auth/refresh", body: `{"refresh_token":"invalid"}`},
	},
	"api": {
		{method: http.MethodGet, path: "/api/v1/accounts"},
		{method: http.MethodGet, path: "/api/v1/accounts/1/transactions"},
	},
}

func pick(profile string, rng *rand.Rand) request {
	if profile == "mixed" {
		names := []string{"health", "auth", "api"}
		profile = names[rng.Intn(len(names))]
	}
	set := profiles[profile]
	return set[rng.Intn(len(set))]
}

func send(ctx context.Context, client *http.Client, base string, r request) (int, error) {
	var body io.Reader
	if r.body != "" {
		body = bytes.NewBufferString(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, base+r.path, body)
	if err != nil {
		return 0, err
	}
	if r.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

func normalizeProfile(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return "mixed"
	}
	return p
}
