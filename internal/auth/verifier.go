// Package auth verifies session tokens issued by the external credential
// service. The relay never mints credentials for clients; it only checks
// that a presented token resolves to a handle.
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier resolves a session token to the account handle it was issued for.
// Implementations must treat any failure as "invalid": the caller drops the
// join attempt silently and never leaks whether the account exists.
type Verifier interface {
	Verify(token string) (string, error)
}

// Claims is the JWT payload shape shared with the credential service.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWT verifies HMAC-SHA256 session tokens against a shared secret.
type JWT struct {
	secret []byte
}

// NewJWT returns a verifier for tokens signed with secret.
func NewJWT(secret string) *JWT {
	return &JWT{secret: []byte(secret)}
}

// Verify parses and validates the token and returns the handle, lowercased.
func (j *JWT) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("auth: parse token: %w", err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return "", jwt.ErrSignatureInvalid
	}
	handle := strings.ToLower(strings.TrimSpace(claims.Username))
	if handle == "" {
		return "", fmt.Errorf("auth: token carries no handle")
	}
	return handle, nil
}

// Issue signs a token for handle, valid for ttl (no expiry when ttl is zero).
// The credential service is the production issuer; this exists for tooling
// and tests.
func (j *JWT) Issue(handle string, ttl time.Duration) (string, error) {
	claims := Claims{
		Username: handle,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}
