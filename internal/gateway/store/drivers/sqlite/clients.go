package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/asoos/integration-gateway/internal/gateway/domain"
	"github.com/asoos/integration-gateway/internal/gateway/store"
)

type clientsRepo struct {
	db dbtx
}

const clientColumns = `id, name, secret_hash, type, redirect_uris, scopes,
	requires_approval, client_uri, logo_uri, active, created_at, updated_at`

func (r *clientsRepo) GetClientByID(ctx context.Context, id string) (domain.Client, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = ?`, id)
	return scanClient(row)
}

func (r *clientsRepo) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+clientColumns+` FROM clients ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []domain.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

func (r *clientsRepo) CreateClient(ctx context.Context, c domain.Client) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO clients (`+clientColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, mapStringNull(c.SecretHash), string(c.Type),
		joinURIs(c.RedirectURIs), joinScopes(c.Scopes), c.RequiresApproval,
		mapStringNull(c.ClientURI), mapStringNull(c.LogoURI), c.Active,
		c.CreatedAt, c.UpdatedAt,
	)
	return mapConflict(err)
}

func (r *clientsRepo) UpdateClientSecretHash(ctx context.Context, clientID, secretHash string) error {
	return r.updateClient(ctx, clientID, `secret_hash = ?`, secretHash)
}

func (r *clientsRepo) UpdateClientScopes(ctx context.Context, clientID string, scopes []string) error {
	return r.updateClient(ctx, clientID, `scopes = ?`, joinScopes(scopes))
}

func (r *clientsRepo) UpdateClientName(ctx context.Context, clientID, name string) error {
	return r.updateClient(ctx, clientID, `name = ?`, name)
}

func (r *clientsRepo) UpdateClientRedirectURIs(ctx context.Context, clientID string, uris []string) error {
	return r.updateClient(ctx, clientID, `redirect_uris = ?`, joinURIs(uris))
}

func (r *clientsRepo) UpdateClientRequiresApproval(ctx context.Context, clientID string, required bool) error {
	return r.updateClient(ctx, clientID, `requires_approval = ?`, required)
}

func (r *clientsRepo) DeactivateClient(ctx context.Context, clientID string) error {
	return r.updateClient(ctx, clientID, `active = ?`, false)
}

func (r *clientsRepo) updateClient(ctx context.Context, clientID, setClause string, value any) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE clients SET `+setClause+`, updated_at = ? WHERE id = ?`,
		value, time.Now().UTC(), clientID,
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(row rowScanner) (domain.Client, error) {
	var (
		c                             domain.Client
		secretHash, clientURI, logoURI sql.NullString
		clientType, redirectURIs, scopes string
	)
	err := row.Scan(
		&c.ID, &c.Name, &secretHash, &clientType, &redirectURIs, &scopes,
		&c.RequiresApproval, &clientURI, &logoURI, &c.Active,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return domain.Client{}, mapNotFound(err)
	}

	c.SecretHash = mapNullString(secretHash)
	c.Type = domain.ClientType(clientType)
	c.RedirectURIs = splitURIs(redirectURIs)
	c.Scopes = splitScopes(scopes)
	c.ClientURI = mapNullString(clientURI)
	c.LogoURI = mapNullString(logoURI)
	return c, nil
}
