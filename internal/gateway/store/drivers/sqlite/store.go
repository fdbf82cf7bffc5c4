// Package sqlite implements store.Store over a single sqlite database via
// the pure-Go modernc.org driver. All token-like values are stored by
// SHA-256 fingerprint; plaintext never touches the database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/asoos/integration-gateway/internal/gateway/store"
	_ "modernc.org/sqlite"
)

// dbtx is the slice of *sql.DB / *sql.Tx the repos need. Repos take it
// instead of the concrete type so the same code serves both paths.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db  *sql.DB
	dsn string
}

func NewStore(dsn string) (*Store, error) {
	// PRAGMAs ride the DSN so every connection database/sql pools gets
	// them; a one-off Exec configures a single connection and leaves the
	// rest without FK enforcement or a busy timeout. _txlock=immediate
	// takes the write lock at BEGIN, so concurrent writers queue on
	// busy_timeout instead of failing a deferred upgrade with SQLITE_BUSY.
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_txlock=immediate" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, dsn: dsn}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Tx starts a read/write transaction and returns a Tx-scoped Store.
func (s *Store) Tx(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return newTx(tx), nil
}

// WithTx executes fn within a transaction, automatically handling
// commit/rollback.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.Tx(ctx)
	if err != nil {
		return err
	}

	// Rollback is safe to call after commit; it covers early returns
	// and panics.
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Clients() store.Clients                         { return &clientsRepo{db: s.db} }
func (s *Store) AuthorizationCodes() store.AuthorizationCodes   { return &codesRepo{db: s.db} }
func (s *Store) RefreshTokens() store.RefreshTokens             { return &refreshTokensRepo{db: s.db} }
func (s *Store) RevokedAccessTokens() store.RevokedAccessTokens { return &revocationsRepo{db: s.db} }
func (s *Store) Consents() store.Consents                       { return &consentsRepo{db: s.db} }
func (s *Store) Approvals() store.Approvals                     { return &approvalsRepo{db: s.db} }

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func mapConflict(err error) error {
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return store.ErrAlreadyExists
	}
	return err
}

// joinScopes and splitScopes store scope lists as a single space-delimited
// column, mirroring the OAuth wire format.
func joinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

func splitScopes(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Fields(s)
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		if _, ok := seen[part]; ok {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	return out
}

func joinURIs(uris []string) string {
	return strings.Join(uris, " ")
}

func splitURIs(s string) []string {
	return splitScopes(s)
}

func mapNullString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func mapStringNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func mapNullTimePtr(nt sql.NullTime) *time.Time {
	if nt.Valid {
		val := nt.Time
		return &val
	}
	return nil
}

func mapOptionalTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
