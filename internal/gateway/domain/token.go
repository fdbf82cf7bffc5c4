package domain

import "time"

// RefreshToken is one generation in a rotating token family. Presenting a
// generation that has already been superseded is treated as theft and
// revokes the whole family.
type RefreshToken struct {
	ID        string
	TokenHash string

	ClientID  string
	SubjectID string

	// FamilyID ties every rotation of one grant together. It is assigned
	// at the initial authorization-code exchange and never changes.
	FamilyID string

	// Generation increments by one on every rotation.
	Generation int64

	Scopes []string

	ExpiresAt time.Time
	Revoked   bool

	// SupersededAt marks the moment a newer generation replaced this one.
	SupersededAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether the refresh token's lifetime has passed.
func (t *RefreshToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Usable reports whether the token may be presented for rotation: not
// revoked, not superseded, not expired.
func (t *RefreshToken) Usable(now time.Time) bool {
	return !t.Revoked && t.SupersededAt == nil && !t.Expired(now)
}

// TokenPair is the token endpoint's successful result.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
	Scopes       []string
}

// RevokedAccessToken records the jti of an access token revoked before its
// natural expiry. Rows become garbage once expires_at passes.
type RevokedAccessToken struct {
	JTI       string
	ExpiresAt time.Time
	RevokedAt time.Time
}
