package sqlite

import (
	"context"
	"database/sql"

	"github.com/asoos/integration-gateway/internal/gateway/store"
)

type txStore struct {
	tx *sql.Tx
}

func newTx(tx *sql.Tx) *txStore {
	return &txStore{tx: tx}
}

func (t *txStore) Commit() error   { return t.tx.Commit() }
func (t *txStore) Rollback() error { return t.tx.Rollback() }

// Close is a no-op; the caller commits or rolls back and the outer DB stays
// open.
func (t *txStore) Close() error { return nil }

// Ping is a no-op for transactions; the connection already exists.
func (t *txStore) Ping(context.Context) error { return nil }

// Nested transactions are not supported; SAVEPOINTs could emulate them if
// ever needed.
func (t *txStore) Tx(context.Context) (store.Tx, error) {
	return nil, sql.ErrTxDone
}

func (t *txStore) WithTx(context.Context, func(tx store.Tx) error) error {
	return sql.ErrTxDone
}

// ApplyMigrations is a no-op; migrations run before any transaction starts.
func (t *txStore) ApplyMigrations() error { return nil }

func (t *txStore) Clients() store.Clients                         { return &clientsRepo{db: t.tx} }
func (t *txStore) AuthorizationCodes() store.AuthorizationCodes   { return &codesRepo{db: t.tx} }
func (t *txStore) RefreshTokens() store.RefreshTokens             { return &refreshTokensRepo{db: t.tx} }
func (t *txStore) RevokedAccessTokens() store.RevokedAccessTokens { return &revocationsRepo{db: t.tx} }
func (t *txStore) Consents() store.Consents                       { return &consentsRepo{db: t.tx} }
func (t *txStore) Approvals() store.Approvals                     { return &approvalsRepo{db: t.tx} }
