package service

import (
	"context"
	"time"

	"github.com/sandeepkv93/finance-tracker-auth/internal/domain"
	"github.com/sandeepkv93/finance-tracker-auth/internal/repository"
	"github.com/sandeepkv93/finance-tracker-auth/internal/security"
)

// TokenPair is what a client receives after login or refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessTokenID    string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// TokenService mints token pairs and records them in the RevocationStore.
type TokenService struct {
	codec      *security.TokenCodec
	store      RevocationStore
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenService(codec *security.TokenCodec, store RevocationStore, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{codec: codec, store: store, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

// Issue mints a pair whose subject is the user's email and makes it the
// user's only live session.
func (s *TokenService) Issue(ctx context.Context, user *domain.User) (TokenPair, error) {
	pair, err := s.mintTokenPair(user.Email)
	if err != nil {
		return TokenPair{}, err
	}
	err = s.store.StartSession(ctx, user.ID, SessionTokens{
		AccessID:   pair.AccessTokenID,
		AccessTTL:  s.accessTTL,
		Refresh:    pair.RefreshToken,
		RefreshTTL: s.refreshTTL,
	})
	if err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

// ParseRefresh decodes a refresh token and returns its subject email. Any
// decode problem is ErrInvalidRefreshToken.
func (s *TokenService) ParseRefresh(raw string) (string, error) {
	claims, err := s.codec.Decode(raw, security.RefreshToken)
	if err != nil {
		return "", ErrInvalidRefreshToken
	}
	email := repository.NormalizeEmail(claims.Subject)
	if email == "" {
		return "", ErrInvalidRefreshToken
	}
	return email, nil
}

// Rotate replaces the user's session when raw is its current refresh
// token. The presented token is unusable afterwards.
func (s *TokenService) Rotate(ctx context.Context, user *domain.User, raw string) (TokenPair, error) {
	ok, err := s.store.ValidateRefreshSession(ctx, raw, user.ID)
	if err != nil {
		return TokenPair{}, err
	}
	if !ok {
		return TokenPair{}, ErrInvalidRefreshToken
	}
	return s.Issue(ctx, user)
}

// Revoke ends the session the access token jti belongs to.
func (s *TokenService) Revoke(ctx context.Context, tenantID uint, jti string) error {
	if jti != "" {
		if err := s.store.RevokeAccess(ctx, jti); err != nil {
			return err
		}
	}
	return s.store.RevokeTenantSession(ctx, tenantID)
}

func (s *TokenService) RevokeTenant(ctx context.Context, tenantID uint) error {
	return s.store.RevokeTenantSession(ctx, tenantID)
}

func (s *TokenService) mintTokenPair(email string) (TokenPair, error) {
	subject := repository.NormalizeEmail(email)
	access, err := s.codec.Issue(subject, s.accessTTL, security.AccessToken)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.codec.Issue(subject, s.refreshTTL, security.RefreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access.Raw,
		RefreshToken:     refresh.Raw,
		AccessTokenID:    access.ID,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}
