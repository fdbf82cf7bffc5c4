// Package jwtx signs and verifies the gateway's access tokens. Tokens are
// JWTs carrying the authorized subject, the client they were issued to, and
// the granted scopes. Opaque refresh tokens never pass through this package.
package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default token TTLs. Access tokens stay short-lived; refresh tokens carry
// the long-lived session and rotate on every use.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// Claims are the access-token claims. Changes must stay additive so resource
// services with older parsers keep working.
type Claims struct {
	jwt.RegisteredClaims

	// ClientID identifies the OAuth client the token was issued to.
	ClientID string `json:"cid,omitempty"`

	// Scopes are the granted permission scopes, e.g. ["mcp:search"].
	Scopes []string `json:"scp,omitempty"`
}

// NewAccessClaims builds minimally-correct claims for an access token.
func NewAccessClaims(
	subject, clientID string,
	scopes []string,
	ttl time.Duration,
	issuer string,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{clientID},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		ClientID: clientID,
		Scopes:   scopes,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim. The jti
// is what the revocation list keys on, so it must be unguessable.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ValidateIssuer checks the issuer claim against the expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}
	if c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// ValidateExpiry ensures the token hasn't expired (exp) and isn't used
// before it becomes valid (nbf).
func (c *Claims) ValidateExpiry() error {
	now := time.Now().UTC()

	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Time) {
		return ErrExpired
	}
	if c.NotBefore != nil && now.Before(c.NotBefore.Time) {
		return ErrNotYetValid
	}
	return nil
}
