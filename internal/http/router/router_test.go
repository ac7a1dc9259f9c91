package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/sandeepkv93/finance-tracker-auth/internal/config"
	"github.com/sandeepkv93/finance-tracker-auth/internal/database"
	"github.com/sandeepkv93/finance-tracker-auth/internal/http/handler"
	"github.com/sandeepkv93/finance-tracker-auth/internal/repository"
	"github.com/sandeepkv93/finance-tracker-auth/internal/security"
	"github.com/sandeepkv93/finance-tracker-auth/internal/service"
)

const testSecret = "YWJjZGVmZ2hpamtsbW5vcHFyc3R1dnd4eXoxMjM0NTY="

type capturingNotifier struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (n *capturingNotifier) NotifyVerification(_ context.Context, msg service.VerificationMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tokens[string(msg.Purpose)+":"+msg.Email] = msg.Token
	return nil
}

type testServer struct {
	handler  http.Handler
	auth     *service.AuthService
	notifier *capturingNotifier
	redis    *miniredis.Miniredis
}

func newTestServer(t *testing.T, readiness ...ReadinessCheck) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := database.Open(&config.Config{
		DatabaseDriver: "sqlite",
		DatabaseURL:    fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_")),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })
	if err := database.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	codec, err := security.NewTokenCodec(security.TokenCodecConfig{Secret: testSecret, Issuer: "finance-tracker"})
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	store := service.NewRedisRevocationStore(client, "", 200*time.Millisecond)
	users := repository.NewUserRepository(db, time.Second)
	notifier := &capturingNotifier{tokens: map[string]string{}}
	auth := service.NewAuthService(
		users,
		repository.NewVerificationTokenRepository(db, time.Second),
		security.NewPasswordHasher(bcrypt.MinCost),
		service.NewTokenService(codec, store, 30*time.Minute, 7*24*time.Hour),
		notifier,
		logger,
		service.AuthServiceConfig{},
	)

	h := NewRouter(Dependencies{
		AuthHandler:      handler.NewAuthHandler(auth, logger),
		AccountHandler:   handler.NewAccountHandler(repository.NewAccountRepository(db, time.Second), repository.NewTransactionRepository(db, time.Second), logger),
		Codec:            codec,
		SubjectResolver:  service.NewSubjectResolver(users, service.NewInMemoryNegativeLookupCache(), time.Minute, logger),
		AccessLiveness:   store,
		Logger:           logger,
		AuthRateLimitRPM: 1000,
		APIRateLimitRPM:  1000,
		Readiness:        readiness,
	})
	return &testServer{handler: h, auth: auth, notifier: notifier, redis: mr}
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func (s *testServer) do(t *testing.T, method, target, bearer, body string) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = "10.10.10.10:1234"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	var env apiResponse
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, target, rr.Body.String(), err)
		}
	}
	return rr, env
}

func (s *testServer) expect(t *testing.T, method, target, bearer, body string, status int) apiResponse {
	t.Helper()
	rr, env := s.do(t, method, target, bearer, body)
	if rr.Code != status {
		t.Fatalf("%s %s: expected %d, got %d: %s", method, target, status, rr.Code, rr.Body.String())
	}
	return env
}

func (s *testServer) token(t *testing.T, purpose service.NotificationPurpose, email string) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.auth.WaitForNotifications(ctx); err != nil {
		t.Fatalf("wait notifications: %v", err)
	}
	s.notifier.mu.Lock()
	defer s.notifier.mu.Unlock()
	tok, ok := s.notifier.tokens[string(purpose)+":"+email]
	if !ok {
		t.Fatalf("no %s token for %s", purpose, email)
	}
	return tok
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func decodeData[T any](t *testing.T, env apiResponse) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode data %s: %v", env.Data, err)
	}
	return v
}

// signUp registers, verifies and logs in email.
func (s *testServer) signUp(t *testing.T, email, password string) tokenPair {
	t.Helper()
	creds := fmt.Sprintf(`{"email":%q,"password":%q}`, email, password)
	s.expect(t, http.MethodPost, "/auth/register", "", creds, http.StatusCreated)
	verify := fmt.Sprintf(`{"token":%q}`, s.token(t, service.PurposeVerifyEmail, email))
	s.expect(t, http.MethodPost, "/auth/verify", "", verify, http.StatusOK)
	return decodeData[tokenPair](t, s.expect(t, http.MethodPost, "/auth/login", "", creds, http.StatusOK))
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t,
		ReadinessCheck{Name: "db", Check: func(context.Context) error { return nil }},
	)
	s.expect(t, http.MethodGet, "/health/live", "", "", http.StatusOK)
	s.expect(t, http.MethodGet, "/health/ready", "", "", http.StatusOK)

	down := newTestServer(t,
		ReadinessCheck{Name: "db", Check: func(context.Context) error { return nil }},
		ReadinessCheck{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }},
	)
	env := down.expect(t, http.MethodGet, "/health/ready", "", "", http.StatusServiceUnavailable)
	if env.Error == nil || env.Error.Code != "DEPENDENCY_UNREADY" {
		t.Fatalf("unexpected readiness body: %+v", env)
	}
}

func TestSessionLifecycleScenario(t *testing.T) {
	s := newTestServer(t)
	pair := s.signUp(t, "a@x.com", "correct horse")
	if pair.TokenType != "Bearer" || pair.ExpiresIn <= 0 || pair.ExpiresIn > 1800 {
		t.Fatalf("unexpected token pair: %+v", pair)
	}

	s.expect(t, http.MethodGet, "/api/v1/accounts", pair.AccessToken, "", http.StatusOK)
	s.expect(t, http.MethodPost, "/api/v1/accounts", pair.AccessToken, `{"name":"Checking","currency":"USD"}`, http.StatusCreated)

	s.expect(t, http.MethodPost, "/auth/logout", pair.AccessToken, "", http.StatusNoContent)
	env := s.expect(t, http.MethodGet, "/api/v1/accounts", pair.AccessToken, "", http.StatusUnauthorized)
	if env.Error == nil || env.Error.Code != "UNAUTHORIZED" {
		t.Fatalf("unexpected body after logout: %+v", env)
	}
	s.expect(t, http.MethodPost, "/auth/logout", pair.AccessToken, "", http.StatusNoContent)
	s.expect(t, http.MethodPost, "/auth/refresh", pair.RefreshToken, "", http.StatusUnauthorized)
}

func TestRefreshRotationOverHTTP(t *testing.T) {
	s := newTestServer(t)
	first := s.signUp(t, "r@x.com", "pw")

	second := decodeData[tokenPair](t, s.expect(t, http.MethodPost, "/auth/refresh", first.RefreshToken, "", http.StatusOK))
	env := s.expect(t, http.MethodPost, "/auth/refresh", first.RefreshToken, "", http.StatusUnauthorized)
	if env.Error == nil || env.Error.Code != "INVALID_REFRESH_TOKEN" {
		t.Fatalf("unexpected body for reused refresh: %+v", env)
	}
	s.expect(t, http.MethodGet, "/api/v1/accounts", first.AccessToken, "", http.StatusUnauthorized)
	s.expect(t, http.MethodGet, "/api/v1/accounts", second.AccessToken, "", http.StatusOK)
	s.expect(t, http.MethodPost, "/auth/refresh", "", "", http.StatusUnauthorized)
}

func TestLockoutOverHTTP(t *testing.T) {
	s := newTestServer(t)
	s.signUp(t, "b@x.com", "right")

	for i := 0; i < service.MaxFailedAttempts; i++ {
		env := s.expect(t, http.MethodPost, "/auth/login", "", `{"email":"b@x.com","password":"wrong"}`, http.StatusUnauthorized)
		if env.Error == nil || env.Error.Code != "LOGIN_FAILED" {
			t.Fatalf("attempt %d: unexpected body %+v", i+1, env)
		}
	}
	env := s.expect(t, http.MethodPost, "/auth/login", "", `{"email":"b@x.com","password":"right"}`, http.StatusForbidden)
	if env.Error == nil || env.Error.Code != "ACCOUNT_LOCKED" {
		t.Fatalf("unexpected body for locked account: %+v", env)
	}

	s.expect(t, http.MethodPost, "/auth/forgot-password", "", `{"email":"b@x.com"}`, http.StatusAccepted)
	reset := s.token(t, service.PurposeResetPassword, "b@x.com")
	s.expect(t, http.MethodPost, "/auth/reset-password", "", fmt.Sprintf(`{"token":%q,"password":"new","reenter_password":"other"}`, reset), http.StatusBadRequest)
	s.expect(t, http.MethodPost, "/auth/reset-password", "", fmt.Sprintf(`{"token":%q,"password":"new","reenter_password":"new"}`, reset), http.StatusOK)
	s.expect(t, http.MethodPost, "/auth/login", "", `{"email":"b@x.com","password":"new"}`, http.StatusOK)
}

func TestRegisterErrorsOverHTTP(t *testing.T) {
	s := newTestServer(t)
	s.expect(t, http.MethodPost, "/auth/register", "", `{"email":"c@x.com","password":"pw"}`, http.StatusCreated)
	env := s.expect(t, http.MethodPost, "/auth/register", "", `{"email":"C@x.com","password":"pw"}`, http.StatusConflict)
	if env.Error == nil || env.Error.Code != "EMAIL_EXISTS" {
		t.Fatalf("unexpected body: %+v", env)
	}
	s.expect(t, http.MethodPost, "/auth/register", "", `{"email":"d@x.com"`, http.StatusBadRequest)
	env = s.expect(t, http.MethodPost, "/auth/verify", "", `{"token":"nope"}`, http.StatusUnauthorized)
	if env.Error == nil || env.Error.Code != "TOKEN_INVALID" {
		t.Fatalf("unexpected verify body: %+v", env)
	}
	s.expect(t, http.MethodPost, "/auth/forgot-password", "", `{"email":"ghost@x.com"}`, http.StatusAccepted)
}

func TestTenantIsolationOverHTTP(t *testing.T) {
	s := newTestServer(t)
	alice := s.signUp(t, "alice@x.com", "pw")
	bob := s.signUp(t, "bob@x.com", "pw")

	type account struct {
		ID uint `json:"id"`
	}
	created := decodeData[account](t, s.expect(t, http.MethodPost, "/api/v1/accounts", alice.AccessToken, `{"name":"Alice main","currency":"EUR"}`, http.StatusCreated))
	s.expect(t, http.MethodPost, fmt.Sprintf("/api/v1/accounts/%d/transactions", created.ID), alice.AccessToken, `{"amount_minor":-1250,"description":"coffee"}`, http.StatusCreated)

	type page struct {
		Items []json.RawMessage `json:"items"`
		Total int64             `json:"total"`
	}
	if p := decodeData[page](t, s.expect(t, http.MethodGet, "/api/v1/accounts", bob.AccessToken, "", http.StatusOK)); p.Total != 0 || len(p.Items) != 0 {
		t.Fatalf("bob sees foreign accounts: %+v", p)
	}
	target := fmt.Sprintf("/api/v1/accounts/%d", created.ID)
	s.expect(t, http.MethodGet, target, bob.AccessToken, "", http.StatusNotFound)
	s.expect(t, http.MethodGet, target+"/transactions", bob.AccessToken, "", http.StatusNotFound)
	s.expect(t, http.MethodPost, target+"/transactions", bob.AccessToken, `{"amount_minor":100}`, http.StatusNotFound)

	if p := decodeData[page](t, s.expect(t, http.MethodGet, target+"/transactions", alice.AccessToken, "", http.StatusOK)); p.Total != 1 {
		t.Fatalf("alice should see her transaction: %+v", p)
	}
	if p := decodeData[page](t, s.expect(t, http.MethodGet, "/api/v1/accounts", alice.AccessToken, "", http.StatusOK)); p.Total != 1 {
		t.Fatalf("alice should see her account: %+v", p)
	}
}

func TestProtectedRouteRejectsAnonymous(t *testing.T) {
	s := newTestServer(t)
	s.expect(t, http.MethodGet, "/api/v1/accounts", "", "", http.StatusUnauthorized)
	s.expect(t, http.MethodGet, "/api/v1/accounts", "garbage", "", http.StatusUnauthorized)
	s.expect(t, http.MethodPost, "/auth/logout", "", "", http.StatusNoContent)
}

func TestRevocationStoreOutageIsServiceUnavailable(t *testing.T) {
	s := newTestServer(t)
	pair := s.signUp(t, "o@x.com", "pw")
	s.redis.Close()

	rr, env := s.do(t, http.MethodGet, "/api/v1/accounts", pair.AccessToken, "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if env.Error == nil || env.Error.Code != "SERVICE_UNAVAILABLE" || rr.Header().Get("Retry-After") != "1" {
		t.Fatalf("unexpected outage response: %+v headers=%v", env, rr.Header())
	}
	s.expect(t, http.MethodPost, "/auth/login", "", `{"email":"o@x.com","password":"pw"}`, http.StatusServiceUnavailable)
}
