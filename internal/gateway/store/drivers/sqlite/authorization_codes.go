package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/asoos/integration-gateway/internal/gateway/domain"
	"github.com/asoos/integration-gateway/internal/gateway/store"
)

type codesRepo struct {
	db dbtx
}

const codeColumns = `id, code_hash, client_id, subject_id, redirect_uri,
	scopes, code_challenge, code_challenge_method, expires_at, used_at, created_at`

func (r *codesRepo) CreateAuthorizationCode(ctx context.Context, c domain.AuthorizationCode) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO authorization_codes (`+codeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.CodeHash, c.ClientID, c.SubjectID, c.RedirectURI,
		joinScopes(c.Scopes), c.CodeChallenge, c.CodeChallengeMethod,
		c.ExpiresAt, mapOptionalTime(c.UsedAt), c.CreatedAt,
	)
	return mapConflict(err)
}

// ConsumeAuthorizationCode flips used_at in a single conditional UPDATE, so
// exactly one of N concurrent exchanges wins. Unknown, expired, and
// already-used codes all surface as ErrNotFound.
func (r *codesRepo) ConsumeAuthorizationCode(ctx context.Context, codeHash string, now time.Time) (domain.AuthorizationCode, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE authorization_codes
		SET used_at = ?
		WHERE code_hash = ? AND used_at IS NULL AND expires_at > ?`,
		now, codeHash, now,
	)
	if err != nil {
		return domain.AuthorizationCode{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.AuthorizationCode{}, err
	}
	if n == 0 {
		return domain.AuthorizationCode{}, store.ErrNotFound
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT `+codeColumns+` FROM authorization_codes WHERE code_hash = ?`, codeHash)
	return scanCode(row)
}

func (r *codesRepo) DeleteExpiredCodes(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM authorization_codes WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanCode(row rowScanner) (domain.AuthorizationCode, error) {
	var (
		c      domain.AuthorizationCode
		scopes string
		usedAt sql.NullTime
	)
	err := row.Scan(
		&c.ID, &c.CodeHash, &c.ClientID, &c.SubjectID, &c.RedirectURI,
		&scopes, &c.CodeChallenge, &c.CodeChallengeMethod,
		&c.ExpiresAt, &usedAt, &c.CreatedAt,
	)
	if err != nil {
		return domain.AuthorizationCode{}, mapNotFound(err)
	}
	c.Scopes = splitScopes(scopes)
	c.UsedAt = mapNullTimePtr(usedAt)
	return c, nil
}
