// Package store defines the gateway's data access interfaces. Concrete
// drivers live under drivers/; services depend only on these interfaces.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/asoos/integration-gateway/internal/gateway/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. It exposes sub-repositories to
// keep concerns tidy and testable, and to make nested transactions an
// obvious mistake rather than an accident.
type Store interface {
	Clients() Clients
	AuthorizationCodes() AuthorizationCodes
	RefreshTokens() RefreshTokens
	RevokedAccessTokens() RevokedAccessTokens
	Consents() Consents
	Approvals() Approvals

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction, committing on nil and
	// rolling back on error. Prefer this over Tx directly.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds
// Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Clients interface {
	// GetClientByID fetches a client regardless of active flag; callers
	// decide whether inactive clients may proceed.
	GetClientByID(ctx context.Context, id string) (domain.Client, error)

	// ListClients returns all clients, newest first.
	ListClients(ctx context.Context) ([]domain.Client, error)

	// CreateClient inserts a new client. The id is assigned by the
	// service; secret_hash is empty for public clients.
	CreateClient(ctx context.Context, c domain.Client) error

	UpdateClientSecretHash(ctx context.Context, clientID, secretHash string) error
	UpdateClientScopes(ctx context.Context, clientID string, scopes []string) error
	UpdateClientName(ctx context.Context, clientID, name string) error
	UpdateClientRedirectURIs(ctx context.Context, clientID string, uris []string) error
	UpdateClientRequiresApproval(ctx context.Context, clientID string, required bool) error

	// DeactivateClient clears the active flag. Rows are never deleted so
	// issued tokens keep a traceable client.
	DeactivateClient(ctx context.Context, clientID string) error
}

type AuthorizationCodes interface {
	// CreateAuthorizationCode stores a freshly minted code by fingerprint.
	CreateAuthorizationCode(ctx context.Context, c domain.AuthorizationCode) error

	// ConsumeAuthorizationCode atomically marks an unused, unexpired code
	// as used and returns it. Exactly one concurrent caller succeeds;
	// the rest get ErrNotFound. Expired or unknown fingerprints are
	// indistinguishable from already-used ones.
	ConsumeAuthorizationCode(ctx context.Context, codeHash string, now time.Time) (domain.AuthorizationCode, error)

	// DeleteExpiredCodes removes codes past their expiry, returning the
	// number removed.
	DeleteExpiredCodes(ctx context.Context, now time.Time) (int64, error)
}

type RefreshTokens interface {
	CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error

	// GetRefreshTokenByHash looks a token up by its SHA-256 fingerprint.
	GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error)

	// SupersedeRefreshToken atomically marks a live token as replaced by
	// a newer generation. Returns ErrNotFound when the token was already
	// superseded or revoked, which the caller treats as reuse.
	SupersedeRefreshToken(ctx context.Context, id string, now time.Time) error

	// RevokeFamily revokes every generation in a token family.
	RevokeFamily(ctx context.Context, familyID string) error

	// DeleteExpiredTokens removes tokens past their expiry, returning the
	// number removed.
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

type RevokedAccessTokens interface {
	// RevokeAccessToken records a jti as revoked until the token's own
	// expiry. Recording the same jti twice is not an error.
	RevokeAccessToken(ctx context.Context, t domain.RevokedAccessToken) error

	// IsAccessTokenRevoked reports whether the jti is on the revocation
	// list.
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	// ListActiveRevocations returns revocations whose tokens have not
	// yet expired, for warming the in-process cache at startup.
	ListActiveRevocations(ctx context.Context, now time.Time) ([]domain.RevokedAccessToken, error)

	// DeleteExpiredRevocations drops revocation rows whose tokens have
	// expired anyway.
	DeleteExpiredRevocations(ctx context.Context, now time.Time) (int64, error)
}

type Consents interface {
	// GetConsent returns the consent a subject granted to a client.
	GetConsent(ctx context.Context, subjectID, clientID string) (domain.Consent, error)

	// UpsertConsent creates or replaces the consent row with the given
	// scope set.
	UpsertConsent(ctx context.Context, c domain.Consent) error

	// DeleteConsent withdraws a subject's consent for a client.
	DeleteConsent(ctx context.Context, subjectID, clientID string) error
}

type Approvals interface {
	CreateApproval(ctx context.Context, a domain.ApprovalRequest) error

	GetApprovalByID(ctx context.Context, id string) (domain.ApprovalRequest, error)

	// ListApprovalsBySubject returns a subject's requests, newest first.
	ListApprovalsBySubject(ctx context.Context, subjectID string, limit int) ([]domain.ApprovalRequest, error)

	// ResolveApproval atomically moves a pending request to the given
	// terminal status. Exactly one concurrent resolver succeeds; the
	// rest get ErrNotFound and should re-read the row.
	ResolveApproval(ctx context.Context, id string, status domain.ApprovalStatus, resolverID string, now time.Time) error

	// UpdateApprovalResult records the tool output (or rejection note)
	// after resolution.
	UpdateApprovalResult(ctx context.Context, id string, result []byte) error

	// ListOverdueApprovals returns ids of pending requests past their
	// deadline, for the sweeper.
	ListOverdueApprovals(ctx context.Context, now time.Time, limit int) ([]string, error)

	// ExpireApproval moves a pending request to expired. ErrNotFound
	// means someone resolved it first, which the sweeper ignores.
	ExpireApproval(ctx context.Context, id string, now time.Time) error

	// DeleteResolvedBefore prunes resolved requests older than the
	// cutoff, returning the number removed.
	DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
