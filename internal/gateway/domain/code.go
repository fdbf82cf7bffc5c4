package domain

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"time"
)

// PKCE code challenge methods.
const (
	CodeChallengeS256  = "S256"
	CodeChallengePlain = "plain"
)

// AuthorizationCode is a single-use grant minted by the authorize endpoint.
// The code value itself is never stored; only its SHA-256 fingerprint.
type AuthorizationCode struct {
	ID       string
	CodeHash string

	ClientID  string
	SubjectID string

	// RedirectURI is the exact URI the code was issued for. The token
	// exchange must present the same value.
	RedirectURI string

	Scopes []string

	CodeChallenge       string
	CodeChallengeMethod string

	ExpiresAt time.Time

	// UsedAt is set atomically when the code is consumed. A second
	// consumption attempt finds it non-nil and fails.
	UsedAt *time.Time

	CreatedAt time.Time
}

// Expired reports whether the code's lifetime has passed.
func (c *AuthorizationCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// VerifyPKCE checks a code_verifier against the stored challenge. Codes
// issued without a challenge accept any verifier only when none is given.
func (c *AuthorizationCode) VerifyPKCE(verifier string) bool {
	if c.CodeChallenge == "" {
		return verifier == ""
	}
	if verifier == "" {
		return false
	}

	switch c.CodeChallengeMethod {
	case CodeChallengeS256:
		sum := sha256.Sum256([]byte(verifier))
		derived := base64.RawURLEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(derived), []byte(c.CodeChallenge)) == 1
	case CodeChallengePlain, "":
		return subtle.ConstantTimeCompare([]byte(verifier), []byte(c.CodeChallenge)) == 1
	default:
		return false
	}
}
