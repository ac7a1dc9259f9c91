package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// HashRefreshToken returns the URL-safe SHA-256 digest used to key refresh
// sessions. The raw token is never stored.
func HashRefreshToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(h[:])
}

// RefreshTokenHashEqual compares the digest of providedToken with storedHash
// in constant time.
func RefreshTokenHashEqual(providedToken, storedHash string) bool {
	providedHash := HashRefreshToken(providedToken)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}
