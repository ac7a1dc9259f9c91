package security

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/sandeepkv93/finance-tracker-auth/internal/apperr"
)

// MinSigningKeyBytes is the minimum decoded size of the HMAC secret (256 bits).
const MinSigningKeyBytes = 32

const DefaultClockSkew = 30 * time.Second

var (
	ErrSigningKeyMissing   = errors.New("signing secret is not configured")
	ErrSigningKeyMalformed = errors.New("signing secret is not valid base64")
	ErrSigningKeyTooWeak   = fmt.Errorf("signing secret must decode to at least %d bytes", MinSigningKeyBytes)
	ErrTokenDecode         = errors.New("token decode failed")
)

type TokenKind string

const (
	AccessToken  TokenKind = "access"
	RefreshToken TokenKind = "refresh"
)

type Claims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// IssuedToken is a freshly signed token together with the claims that were
// signed into it.
type IssuedToken struct {
	Raw       string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type TokenCodecConfig struct {
	// Secret is the Base64 encoded HMAC key.
	Secret    string
	Issuer    string
	KeyID     string
	ClockSkew time.Duration
	Now       func() time.Time
}

// TokenCodec signs and verifies HS256 tokens. It performs no I/O; token
// liveness is checked separately by the caller.
type TokenCodec struct {
	key    []byte
	issuer string
	keyID  string
	skew   time.Duration
	now    func() time.Time
}

// NewTokenCodec derives the signing key once. Secret problems are
// configuration errors and are meant to stop the process at boot.
func NewTokenCodec(cfg TokenCodecConfig) (*TokenCodec, error) {
	key, err := DecodeSigningKey(cfg.Secret)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfiguration, "invalid token signing configuration", err)
	}
	skew := cfg.ClockSkew
	if skew < 0 {
		skew = 0
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &TokenCodec{
		key:    key,
		issuer: strings.TrimSpace(cfg.Issuer),
		keyID:  strings.TrimSpace(cfg.KeyID),
		skew:   skew,
		now:    now,
	}, nil
}

// DecodeSigningKey accepts standard or URL-safe Base64, padded or not.
func DecodeSigningKey(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrSigningKeyMissing
	}
	var key []byte
	var err error
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		key, err = enc.DecodeString(secret)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, ErrSigningKeyMalformed
	}
	if len(key) < MinSigningKeyBytes {
		return nil, ErrSigningKeyTooWeak
	}
	return key, nil
}

func (c *TokenCodec) Issue(subject string, ttl time.Duration, kind TokenKind) (IssuedToken, error) {
	if subject == "" {
		return IssuedToken{}, errors.New("token subject is required")
	}
	if ttl <= 0 {
		return IssuedToken{}, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	now := c.now().UTC().Truncate(time.Second)
	exp := now.Add(ttl)
	jti := uuid.NewString()
	claims := Claims{
		TokenType: string(kind),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        jti,
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if c.keyID != "" {
		tok.Header["kid"] = c.keyID
	}
	raw, err := tok.SignedString(c.key)
	if err != nil {
		return IssuedToken{}, err
	}
	return IssuedToken{Raw: raw, ID: jti, IssuedAt: now, ExpiresAt: exp}, nil
}

// Decode verifies signature, issuer (when configured) and expiry within the
// configured clock skew. Every failure is reported as ErrTokenDecode.
func (c *TokenCodec) Decode(raw string, kind TokenKind) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(c.skew),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return c.key, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenDecode, err)
	}
	if !tok.Valid {
		return nil, ErrTokenDecode
	}
	if claims.TokenType != string(kind) {
		return nil, fmt.Errorf("%w: unexpected token type %q", ErrTokenDecode, claims.TokenType)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing sub or jti", ErrTokenDecode)
	}
	return claims, nil
}

// KeyID returns the kid header value written into issued tokens.
func (c *TokenCodec) KeyID() string { return c.keyID }

// RemainingLifetime is the time left until exp, never negative.
func (c *Claims) RemainingLifetime(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	d := c.ExpiresAt.Time.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
