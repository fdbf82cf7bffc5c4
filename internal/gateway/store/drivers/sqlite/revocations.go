package sqlite

import (
	"context"
	"time"

	"github.com/asoos/integration-gateway/internal/gateway/domain"
)

type revocationsRepo struct {
	db dbtx
}

func (r *revocationsRepo) RevokeAccessToken(ctx context.Context, t domain.RevokedAccessToken) error {
	// Idempotent: revoking the same jti twice keeps the first row.
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at, revoked_at)
		VALUES (?, ?, ?)
		ON CONFLICT (jti) DO NOTHING`,
		t.JTI, t.ExpiresAt, t.RevokedAt,
	)
	return err
}

func (r *revocationsRepo) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM revoked_access_tokens WHERE jti = ?`, jti).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *revocationsRepo) ListActiveRevocations(ctx context.Context, now time.Time) ([]domain.RevokedAccessToken, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT jti, expires_at, revoked_at
		FROM revoked_access_tokens WHERE expires_at > ?`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.RevokedAccessToken
	for rows.Next() {
		var rec domain.RevokedAccessToken
		if err := rows.Scan(&rec.JTI, &rec.ExpiresAt, &rec.RevokedAt); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (r *revocationsRepo) DeleteExpiredRevocations(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM revoked_access_tokens WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
