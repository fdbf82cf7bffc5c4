package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/asoos/integration-gateway/internal/gateway/domain"
	"github.com/asoos/integration-gateway/internal/gateway/store"
)

type approvalsRepo struct {
	db dbtx
}

const approvalColumns = `id, tool_name, arguments, arguments_digest, client_id,
	subject_id, scopes, previous_response_id, status, result, resolver_id,
	created_at, expires_at, resolved_at`

func (r *approvalsRepo) CreateApproval(ctx context.Context, a domain.ApprovalRequest) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO approval_requests (`+approvalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ToolName, []byte(a.Arguments), a.ArgumentsDigest, a.ClientID,
		a.SubjectID, joinScopes(a.Scopes), a.PreviousResponseID,
		string(a.Status), []byte(a.Result), a.ResolverID,
		a.CreatedAt, a.ExpiresAt, mapOptionalTime(a.ResolvedAt),
	)
	return mapConflict(err)
}

func (r *approvalsRepo) GetApprovalByID(ctx context.Context, id string) (domain.ApprovalRequest, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+approvalColumns+` FROM approval_requests WHERE id = ?`, id)
	return scanApproval(row)
}

func (r *approvalsRepo) ListApprovalsBySubject(ctx context.Context, subjectID string, limit int) ([]domain.ApprovalRequest, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+approvalColumns+` FROM approval_requests
		WHERE subject_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		subjectID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var approvals []domain.ApprovalRequest
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

// ResolveApproval only wins against a still-pending row; concurrent
// resolvers and the sweeper race through this single UPDATE.
func (r *approvalsRepo) ResolveApproval(ctx context.Context, id string, status domain.ApprovalStatus, resolverID string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE approval_requests
		SET status = ?, resolver_id = ?, resolved_at = ?
		WHERE id = ? AND status = 'pending'`,
		string(status), resolverID, now, id,
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

func (r *approvalsRepo) UpdateApprovalResult(ctx context.Context, id string, result []byte) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE approval_requests SET result = ? WHERE id = ?`, result, id)
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

func (r *approvalsRepo) ListOverdueApprovals(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM approval_requests
		WHERE status = 'pending' AND expires_at <= ?
		ORDER BY expires_at
		LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *approvalsRepo) ExpireApproval(ctx context.Context, id string, now time.Time) error {
	return r.ResolveApproval(ctx, id, domain.ApprovalExpired, "", now)
}

func (r *approvalsRepo) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM approval_requests
		WHERE status != 'pending' AND resolved_at IS NOT NULL AND resolved_at < ?`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanApproval(row rowScanner) (domain.ApprovalRequest, error) {
	var (
		a          domain.ApprovalRequest
		scopes     string
		status     string
		arguments  []byte
		result     []byte
		resolvedAt sql.NullTime
	)
	err := row.Scan(
		&a.ID, &a.ToolName, &arguments, &a.ArgumentsDigest, &a.ClientID,
		&a.SubjectID, &scopes, &a.PreviousResponseID, &status, &result,
		&a.ResolverID, &a.CreatedAt, &a.ExpiresAt, &resolvedAt,
	)
	if err != nil {
		return domain.ApprovalRequest{}, mapNotFound(err)
	}
	a.Arguments = arguments
	a.Result = result
	a.Scopes = splitScopes(scopes)
	a.Status = domain.ApprovalStatus(status)
	a.ResolvedAt = mapNullTimePtr(resolvedAt)
	return a, nil
}
