package store

import (
	"context"
	"database/sql"
	"fmt"
)

const shareColumns = `token, code_hash, customer_id, agent_id, recipient_name, recipient_name_normalized,
	sections, snapshot, editable, status, pending_status, COALESCE(pending_edits, ''), pending_at,
	last_accessed_at, created_at`

func scanShare(scanner interface{ Scan(...any) error }) (ProfileShare, error) {
	var share ProfileShare
	err := scanner.Scan(
		&share.Token,
		&share.CodeHash,
		&share.CustomerID,
		&share.AgentID,
		&share.RecipientName,
		&share.RecipientNameNormalized,
		&share.Sections,
		&share.Snapshot,
		&share.Editable,
		&share.Status,
		&share.PendingStatus,
		&share.PendingEdits,
		&share.PendingAt,
		&share.LastAccessedAt,
		&share.CreatedAt,
	)
	return share, err
}

func (s *PostgresStore) CreateShare(ctx context.Context, share ProfileShare) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profile_shares (
			token, code_hash, customer_id, agent_id, recipient_name, recipient_name_normalized,
			sections, snapshot, editable, status, pending_status, last_accessed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
	`, share.Token, share.CodeHash, share.CustomerID, share.AgentID, share.RecipientName,
		share.RecipientNameNormalized, share.Sections, share.Snapshot, share.Editable,
		share.Status, share.PendingStatus)
	if err != nil {
		return fmt.Errorf("insert share: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetShareByToken(ctx context.Context, token string) (ProfileShare, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+shareColumns+` FROM profile_shares WHERE token=$1`, token)
	return scanShare(row)
}

// MutateShare runs fn over the share row while holding a row lock, then
// persists whatever fn left in the struct. Concurrent transitions on the same
// share serialize here; fn returning an error rolls everything back.
func (s *PostgresStore) MutateShare(ctx context.Context, token string, fn func(*ProfileShare) error) (ProfileShare, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ProfileShare{}, fmt.Errorf("begin share tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+shareColumns+` FROM profile_shares WHERE token=$1 FOR UPDATE`, token)
	share, err := scanShare(row)
	if err != nil {
		return ProfileShare{}, err
	}

	if err := fn(&share); err != nil {
		return ProfileShare{}, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE profile_shares
		SET snapshot=$2, status=$3, pending_status=$4, pending_edits=NULLIF($5, ''),
			pending_at=$6, last_accessed_at=$7
		WHERE token=$1
	`, share.Token, share.Snapshot, share.Status, share.PendingStatus, share.PendingEdits,
		share.PendingAt, share.LastAccessedAt)
	if err != nil {
		return ProfileShare{}, fmt.Errorf("update share: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ProfileShare{}, fmt.Errorf("commit share tx: %w", err)
	}
	return share, nil
}

func (s *PostgresStore) ListSharesByCustomer(ctx context.Context, customerID string) ([]ProfileShare, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+shareColumns+` FROM profile_shares WHERE customer_id=$1 ORDER BY created_at DESC
	`, customerID)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	defer rows.Close()
	return collectShares(rows)
}

func (s *PostgresStore) ListPendingSharesByCustomer(ctx context.Context, customerID string) ([]ProfileShare, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+shareColumns+` FROM profile_shares
		WHERE customer_id=$1 AND status='active' AND pending_status='pending'
		ORDER BY pending_at
	`, customerID)
	if err != nil {
		return nil, fmt.Errorf("list pending shares: %w", err)
	}
	defer rows.Close()
	return collectShares(rows)
}

func collectShares(rows *sql.Rows) ([]ProfileShare, error) {
	items := make([]ProfileShare, 0)
	for rows.Next() {
		share, err := scanShare(rows)
		if err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		items = append(items, share)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shares: %w", err)
	}
	return items, nil
}
