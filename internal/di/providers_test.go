package di

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sandeepkv93/finance-tracker-auth/internal/apperr"
	"github.com/sandeepkv93/finance-tracker-auth/internal/config"
	"github.com/sandeepkv93/finance-tracker-auth/internal/email"
	"github.com/sandeepkv93/finance-tracker-auth/internal/service"
)

func testConfig(name string) *config.Config {
	return &config.Config{
		HTTPAddr:               "127.0.0.1:0",
		Env:                    "test",
		DatabaseDriver:         "sqlite",
		DatabaseURL:            "file:" + name + "?mode=memory&cache=shared",
		DBTimeout:              time.Second,
		RedisAddr:              "127.0.0.1:1",
		RevocationBackend:      "memory",
		StoreTimeout:           100 * time.Millisecond,
		JWTSecret:              base64.StdEncoding.EncodeToString(bytes.Repeat([]byte("s"), 32)),
		JWTAccessTTL:           "15m",
		JWTRefreshTTL:          "7d",
		VerificationTTL:        15 * time.Minute,
		BcryptCost:             4,
		AppBaseURL:             "http://localhost:8080",
		NotifyTimeout:          time.Second,
		AuthRateLimitPerMinute: 30,
		APIRateLimitPerMinute:  600,
		RateLimitBackend:       "local",
		ShutdownTimeout:        time.Second,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProvideNotifierFallsBackToLog(t *testing.T) {
	cfg := testConfig("di_notifier")
	if _, ok := ProvideNotifier(cfg, discardLogger()).(*email.LogNotifier); !ok {
		t.Fatal("expected log notifier without SMTP_HOST")
	}
	cfg.SMTPHost = "smtp.example.com"
	if _, ok := ProvideNotifier(cfg, discardLogger()).(*email.SMTPNotifier); !ok {
		t.Fatal("expected smtp notifier with SMTP_HOST")
	}
}

func TestProvideRevocationStoreMemory(t *testing.T) {
	cfg := testConfig("di_store")
	if _, ok := ProvideRevocationStore(cfg, nil, discardLogger()).(*service.InMemoryRevocationStore); !ok {
		t.Fatal("expected in-memory store for memory backend")
	}
}

func TestProvideTokenCodecRejectsWeakSecret(t *testing.T) {
	cfg := testConfig("di_codec")
	cfg.JWTSecret = base64.StdEncoding.EncodeToString([]byte("short"))
	_, err := ProvideTokenCodec(cfg)
	if apperr.KindOf(err) != apperr.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestInitializeAppServesHealth(t *testing.T) {
	cfg := testConfig("di_app")
	a, cleanup, err := InitializeApp(context.Background(), cfg, discardLogger(), nil)
	if err != nil {
		t.Fatalf("initialize app: %v", err)
	}
	defer cleanup()

	srv := httptest.NewServer(a.Server.Handler)
	defer srv.Close()

	for _, path := range []string{"/health/live", "/health/ready"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status=%d", path, resp.StatusCode)
		}
	}
}

func TestInitializeAppFailsOnMissingSecret(t *testing.T) {
	cfg := testConfig("di_nosecret")
	cfg.JWTSecret = ""
	if _, _, err := InitializeApp(context.Background(), cfg, discardLogger(), nil); err == nil {
		t.Fatal("expected boot failure without JWT_SECRET")
	}
}
