package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/asoos/integration-gateway/internal/gateway/domain"
	"github.com/asoos/integration-gateway/internal/gateway/store"
)

type refreshTokensRepo struct {
	db dbtx
}

const refreshTokenColumns = `id, token_hash, client_id, subject_id, family_id,
	generation, scopes, expires_at, revoked, superseded_at, created_at, updated_at`

func (r *refreshTokensRepo) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (`+refreshTokenColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TokenHash, t.ClientID, t.SubjectID, t.FamilyID,
		t.Generation, joinScopes(t.Scopes), t.ExpiresAt, t.Revoked,
		mapOptionalTime(t.SupersededAt), t.CreatedAt, t.UpdatedAt,
	)
	return mapConflict(err)
}

func (r *refreshTokensRepo) GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+refreshTokenColumns+` FROM refresh_tokens WHERE token_hash = ?`, hash)
	return scanRefreshToken(row)
}

// SupersedeRefreshToken wins only against a live row; a zero-row update
// means another rotation (or a revocation) got there first.
func (r *refreshTokensRepo) SupersedeRefreshToken(ctx context.Context, id string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET superseded_at = ?, updated_at = ?
		WHERE id = ? AND superseded_at IS NULL AND revoked = 0`,
		now, now, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *refreshTokensRepo) RevokeFamily(ctx context.Context, familyID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked = 1, updated_at = ?
		WHERE family_id = ? AND revoked = 0`,
		time.Now().UTC(), familyID,
	)
	return err
}

func (r *refreshTokensRepo) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanRefreshToken(row rowScanner) (domain.RefreshToken, error) {
	var (
		t            domain.RefreshToken
		scopes       string
		supersededAt sql.NullTime
	)
	err := row.Scan(
		&t.ID, &t.TokenHash, &t.ClientID, &t.SubjectID, &t.FamilyID,
		&t.Generation, &scopes, &t.ExpiresAt, &t.Revoked,
		&supersededAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}
	t.Scopes = splitScopes(scopes)
	t.SupersededAt = mapNullTimePtr(supersededAt)
	return t, nil
}
