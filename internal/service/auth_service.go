package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sandeepkv93/finance-tracker-auth/internal/apperr"
	"github.com/sandeepkv93/finance-tracker-auth/internal/domain"
	"github.com/sandeepkv93/finance-tracker-auth/internal/observability"
	"github.com/sandeepkv93/finance-tracker-auth/internal/repository"
)

const (
	DefaultVerificationTTL = 900 * time.Second
	DefaultNotifyTimeout   = 10 * time.Second
	// bcrypt ignores input past 72 bytes.
	maxPasswordBytes = 72
)

var tracer = otel.Tracer("finance-tracker-auth/service")

type NotificationPurpose string

const (
	PurposeVerifyEmail   NotificationPurpose = "verify_email"
	PurposeResetPassword NotificationPurpose = "reset_password"
)

type VerificationMessage struct {
	Email     string
	Token     string
	ExpiresAt time.Time
	Purpose   NotificationPurpose
}

// VerificationNotifier delivers verification and reset tokens. Delivery is
// fire-and-forget: failures are logged, never returned to the caller.
type VerificationNotifier interface {
	NotifyVerification(ctx context.Context, msg VerificationMessage) error
}

type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(plain, digest string) bool
	VerifyDummy(plain string) bool
}

type AuthServiceConfig struct {
	VerificationTTL time.Duration
	NotifyTimeout   time.Duration
	Now             func() time.Time
}

type AuthService struct {
	users    repository.UserRepository
	tokens   repository.VerificationTokenRepository
	hasher   PasswordHasher
	guard    *LoginGuard
	sessions *TokenService
	notifier VerificationNotifier
	logger   *slog.Logger
	cfg      AuthServiceConfig

	notifyMu      sync.Mutex
	draining      bool
	notifications sync.WaitGroup
}

func NewAuthService(
	users repository.UserRepository,
	tokens repository.VerificationTokenRepository,
	hasher PasswordHasher,
	sessions *TokenService,
	notifier VerificationNotifier,
	logger *slog.Logger,
	cfg AuthServiceConfig,
) *AuthService {
	if cfg.VerificationTTL <= 0 {
		cfg.VerificationTTL = DefaultVerificationTTL
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = DefaultNotifyTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &AuthService{
		users:    users,
		tokens:   tokens,
		hasher:   hasher,
		guard:    NewLoginGuard(users),
		sessions: sessions,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
	}
}

type RegisterResult struct {
	UserID                uint
	Email                 string
	VerificationExpiresAt time.Time
}

// Register creates an unverified user and sends a verification token.
func (s *AuthService) Register(ctx context.Context, email, password string) (*RegisterResult, error) {
	ctx, span := tracer.Start(ctx, "auth.register")
	res, err := s.register(ctx, email, password)
	endSpan(span, err)
	observability.RecordAuthRegister(ctx, statusOf(err))
	return res, err
}

func (s *AuthService) register(ctx context.Context, email, password string) (*RegisterResult, error) {
	email = repository.NormalizeEmail(email)
	if err := validateCredentials(email, password); err != nil {
		return nil, err
	}
	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return nil, ErrEmailExists
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}
	digest, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	user := &domain.User{Email: email, PasswordHash: digest}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrEmailExists
		}
		return nil, err
	}
	vt, err := s.issueVerificationToken(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, VerificationMessage{Email: user.Email, Token: vt.Token, ExpiresAt: vt.ExpiresAt, Purpose: PurposeVerifyEmail})
	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID)
	return &RegisterResult{UserID: user.ID, Email: user.Email, VerificationExpiresAt: vt.ExpiresAt}, nil
}

// Verify consumes an unexpired verification token and activates its user.
func (s *AuthService) Verify(ctx context.Context, token string) error {
	ctx, span := tracer.Start(ctx, "auth.verify")
	err := s.verify(ctx, token)
	endSpan(span, err)
	observability.RecordAuthVerify(ctx, statusOf(err))
	return err
}

func (s *AuthService) verify(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrTokenInvalid
	}
	vt, err := s.tokens.FindUsable(ctx, token, s.now())
	if err != nil {
		return tokenLookupError(err)
	}
	if err := s.tokens.CompleteVerification(ctx, vt); err != nil {
		return tokenLookupError(err)
	}
	s.logger.InfoContext(ctx, "email verified", "user_id", vt.UserID)
	return nil
}

// Login checks credentials and starts the tenant's only session. Any
// previous session of the tenant stops working.
func (s *AuthService) Login(ctx context.Context, email, password string) (TokenPair, uint, error) {
	ctx, span := tracer.Start(ctx, "auth.login")
	pair, userID, err := s.login(ctx, email, password)
	if userID != 0 {
		span.SetAttributes(attribute.Int64("user.id", int64(userID)))
	}
	endSpan(span, err)
	observability.RecordAuthLogin(ctx, statusOf(err))
	return pair, userID, err
}

func (s *AuthService) login(ctx context.Context, email, password string) (TokenPair, uint, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrUserNotFound) {
		s.hasher.VerifyDummy(password)
		return TokenPair{}, 0, ErrLoginFailed
	}
	if err != nil {
		return TokenPair{}, 0, err
	}
	if !user.EmailVerified {
		s.hasher.VerifyDummy(password)
		return TokenPair{}, 0, ErrLoginFailed
	}
	if err := s.guard.CheckLocked(user); err != nil {
		return TokenPair{}, user.ID, err
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		if err := s.guard.RegisterFailure(ctx, user); err != nil {
			return TokenPair{}, user.ID, err
		}
		if user.Locked {
			s.logger.WarnContext(ctx, "account locked after failed logins", "user_id", user.ID, "failed_attempts", user.FailedAttempts)
		}
		return TokenPair{}, user.ID, ErrLoginFailed
	}
	if err := s.guard.RegisterSuccess(ctx, user); err != nil {
		return TokenPair{}, user.ID, err
	}
	pair, err := s.sessions.Issue(ctx, user)
	if err != nil {
		return TokenPair{}, user.ID, err
	}
	return pair, user.ID, nil
}

// Refresh rotates the tenant's session. The presented refresh token must be
// the tenant's current one.
func (s *AuthService) Refresh(ctx context.Context, rawRefresh string) (TokenPair, uint, error) {
	ctx, span := tracer.Start(ctx, "auth.refresh")
	pair, userID, err := s.refresh(ctx, rawRefresh)
	endSpan(span, err)
	observability.RecordAuthRefresh(ctx, statusOf(err))
	return pair, userID, err
}

func (s *AuthService) refresh(ctx context.Context, rawRefresh string) (TokenPair, uint, error) {
	email, err := s.sessions.ParseRefresh(rawRefresh)
	if err != nil {
		return TokenPair{}, 0, err
	}
	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrUserNotFound) {
		return TokenPair{}, 0, ErrInvalidRefreshToken
	}
	if err != nil {
		return TokenPair{}, 0, err
	}
	if err := s.guard.CheckLocked(user); err != nil {
		return TokenPair{}, user.ID, err
	}
	pair, err := s.sessions.Rotate(ctx, user, rawRefresh)
	if err != nil {
		return TokenPair{}, user.ID, err
	}
	return pair, user.ID, nil
}

// Logout ends the tenant's session. It is idempotent.
func (s *AuthService) Logout(ctx context.Context, tenantID uint, jti string) error {
	ctx, span := tracer.Start(ctx, "auth.logout")
	err := s.sessions.Revoke(ctx, tenantID, jti)
	endSpan(span, err)
	observability.RecordAuthLogout(ctx, statusOf(err))
	return err
}

// ForgotPassword sends a fresh reset token to a registered email. Unknown
// emails succeed silently.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	ctx, span := tracer.Start(ctx, "auth.forgot_password")
	err := s.forgotPassword(ctx, email)
	endSpan(span, err)
	observability.RecordPasswordReset(ctx, "request", statusOf(err))
	return err
}

func (s *AuthService) forgotPassword(ctx context.Context, email string) error {
	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	vt, err := s.issueVerificationToken(ctx, user.ID)
	if err != nil {
		return err
	}
	s.notify(ctx, VerificationMessage{Email: user.Email, Token: vt.Token, ExpiresAt: vt.ExpiresAt, Purpose: PurposeResetPassword})
	return nil
}

// ResetPassword installs a new password, unlocks the account and ends any
// live session of the tenant.
func (s *AuthService) ResetPassword(ctx context.Context, token, password, reenterPassword string) error {
	ctx, span := tracer.Start(ctx, "auth.reset_password")
	err := s.resetPassword(ctx, token, password, reenterPassword)
	endSpan(span, err)
	observability.RecordPasswordReset(ctx, "complete", statusOf(err))
	return err
}

func (s *AuthService) resetPassword(ctx context.Context, token, password, reenterPassword string) error {
	if password != reenterPassword {
		return badRequest("passwords do not match")
	}
	if err := validatePassword(password); err != nil {
		return err
	}
	vt, err := s.tokens.FindUsable(ctx, strings.TrimSpace(token), s.now())
	if err != nil {
		return tokenLookupError(err)
	}
	digest, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	if err := s.tokens.CompleteReset(ctx, vt, digest); err != nil {
		return tokenLookupError(err)
	}
	if err := s.sessions.RevokeTenant(ctx, vt.UserID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "password reset", "user_id", vt.UserID)
	return nil
}

// DrainNotifications stops accepting notifications and waits for the
// in-flight ones. Notifications requested afterwards are dropped.
func (s *AuthService) DrainNotifications(ctx context.Context) error {
	s.notifyMu.Lock()
	s.draining = true
	s.notifyMu.Unlock()
	return s.WaitForNotifications(ctx)
}

// WaitForNotifications blocks until in-flight notifications finish or ctx
// ends.
func (s *AuthService) WaitForNotifications(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.notifications.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *AuthService) issueVerificationToken(ctx context.Context, userID uint) (*domain.VerificationToken, error) {
	vt := &domain.VerificationToken{
		UserID:    userID,
		Token:     uuid.NewString(),
		ExpiresAt: s.now().Add(s.cfg.VerificationTTL),
	}
	if err := s.tokens.Replace(ctx, vt); err != nil {
		return nil, err
	}
	return vt, nil
}

// notify hands msg to the notifier on its own goroutine. The request context
// is detached so delivery survives the response being written.
func (s *AuthService) notify(ctx context.Context, msg VerificationMessage) {
	if s.notifier == nil {
		return
	}
	s.notifyMu.Lock()
	if s.draining {
		s.notifyMu.Unlock()
		s.logger.WarnContext(ctx, "verification notification dropped during shutdown", "purpose", string(msg.Purpose))
		return
	}
	s.notifications.Add(1)
	s.notifyMu.Unlock()
	detached := context.WithoutCancel(ctx)
	go func() {
		defer s.notifications.Done()
		ctx, cancel := context.WithTimeout(detached, s.cfg.NotifyTimeout)
		defer cancel()
		if err := s.notifier.NotifyVerification(ctx, msg); err != nil {
			s.logger.ErrorContext(ctx, "verification notification failed", "purpose", string(msg.Purpose), "error", err)
		}
	}()
}

func (s *AuthService) now() time.Time {
	return s.cfg.Now().UTC()
}

func validateCredentials(email, password string) error {
	if email == "" || !strings.Contains(email, "@") {
		return badRequest("a valid email is required")
	}
	return validatePassword(password)
}

func validatePassword(password string) error {
	if password == "" {
		return badRequest("password is required")
	}
	if len(password) > maxPasswordBytes {
		return badRequest("password must be at most 72 bytes")
	}
	return nil
}

func tokenLookupError(err error) error {
	if errors.Is(err, repository.ErrVerificationTokenNotFound) {
		return ErrTokenInvalid
	}
	return err
}

func statusOf(err error) string {
	if err == nil {
		return "success"
	}
	return apperr.KindOf(err).String()
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.KindOf(err).String())
	}
	span.End()
}
