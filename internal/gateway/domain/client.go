// Package domain holds the gateway's core entities. These structs mirror
// storage rows one-to-one; business rules live in the service layer, with
// small intrinsic predicates kept here.
package domain

import (
	"slices"
	"time"
)

// ClientType distinguishes clients that can keep a secret from those that
// cannot.
type ClientType string

const (
	// ClientTypePublic clients (CLIs, SPAs, agents on user machines) hold
	// no secret and must use PKCE.
	ClientTypePublic ClientType = "public"

	// ClientTypeConfidential clients authenticate with a client secret.
	ClientTypeConfidential ClientType = "confidential"
)

// Client is a registered OAuth client application.
type Client struct {
	ID   string
	Name string

	// SecretHash is the argon2id hash of the client secret. Empty for
	// public clients; the plaintext is shown once at registration and
	// never stored.
	SecretHash string

	Type         ClientType
	RedirectURIs []string

	// Scopes is the registered allow-list. Authorization requests may
	// only ask for a subset of these.
	Scopes []string

	// RequiresApproval forces every sensitive tool call from this client
	// through the approval flow regardless of per-tool defaults.
	RequiresApproval bool

	ClientURI string
	LogoURI   string

	// Active is cleared instead of deleting the row, so issued tokens
	// can still be traced back to their client.
	Active bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsPublic reports whether the client is a public (secretless) client.
func (c *Client) IsPublic() bool {
	return c.Type == ClientTypePublic
}

// RedirectURIAllowed checks the redirect URI against the registered list.
// Comparison is exact string match; no wildcard or prefix matching.
func (c *Client) RedirectURIAllowed(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// ScopesAllowed reports whether every requested scope is in the client's
// registered scope list.
func (c *Client) ScopesAllowed(requested []string) bool {
	for _, s := range requested {
		if !slices.Contains(c.Scopes, s) {
			return false
		}
	}
	return true
}
