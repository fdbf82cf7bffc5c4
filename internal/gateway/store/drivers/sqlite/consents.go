package sqlite

import (
	"context"

	"github.com/asoos/integration-gateway/internal/gateway/domain"
	"github.com/asoos/integration-gateway/internal/gateway/store"
)

type consentsRepo struct {
	db dbtx
}

func (r *consentsRepo) GetConsent(ctx context.Context, subjectID, clientID string) (domain.Consent, error) {
	var (
		c      domain.Consent
		scopes string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT subject_id, client_id, scopes, granted_at, updated_at
		FROM consents WHERE subject_id = ? AND client_id = ?`,
		subjectID, clientID,
	).Scan(&c.SubjectID, &c.ClientID, &scopes, &c.GrantedAt, &c.UpdatedAt)
	if err != nil {
		return domain.Consent{}, mapNotFound(err)
	}
	c.Scopes = splitScopes(scopes)
	return c, nil
}

func (r *consentsRepo) UpsertConsent(ctx context.Context, c domain.Consent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO consents (subject_id, client_id, scopes, granted_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (subject_id, client_id)
		DO UPDATE SET scopes = excluded.scopes, updated_at = excluded.updated_at`,
		c.SubjectID, c.ClientID, joinScopes(c.Scopes), c.GrantedAt, c.UpdatedAt,
	)
	return err
}

func (r *consentsRepo) DeleteConsent(ctx context.Context, subjectID, clientID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM consents WHERE subject_id = ? AND client_id = ?`,
		subjectID, clientID)
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
