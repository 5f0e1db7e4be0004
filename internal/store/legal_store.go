package store

import (
	"context"
	"database/sql"
	"fmt"
)

func (s *PostgresStore) InsertLegalDocument(ctx context.Context, doc LegalDocument) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO legal_documents (type, version, content, content_hash, published_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, doc.Type, doc.Version, doc.Content, doc.ContentHash)
	if err != nil {
		return fmt.Errorf("insert legal document: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestLegalDocument(ctx context.Context, docType string) (LegalDocument, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, version, content, content_hash, published_at
		FROM legal_documents
		WHERE type=$1
		ORDER BY string_to_array(version, '.')::int[] DESC
		LIMIT 1
	`, docType)
	var doc LegalDocument
	err := row.Scan(&doc.ID, &doc.Type, &doc.Version, &doc.Content, &doc.ContentHash, &doc.PublishedAt)
	if err != nil {
		return LegalDocument{}, err
	}
	return doc, nil
}

// LatestLegalDocuments returns the newest version of each requested type.
// Types with no published document are absent from the result.
func (s *PostgresStore) LatestLegalDocuments(ctx context.Context, docTypes []string) (map[string]LegalDocument, error) {
	out := make(map[string]LegalDocument, len(docTypes))
	for _, docType := range docTypes {
		doc, err := s.LatestLegalDocument(ctx, docType)
		if err != nil {
			if isNoRows(err) {
				continue
			}
			return nil, fmt.Errorf("latest legal document %s: %w", docType, err)
		}
		out[docType] = doc
	}
	return out, nil
}

func (s *PostgresStore) InsertConsent(ctx context.Context, consent UserConsent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_consents (user_id, role, document_type, version, ip_address, user_agent, consent_items)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, consent.UserID, consent.Role, consent.DocumentType, consent.Version, consent.IPAddress, consent.UserAgent, consent.ConsentItems)
	if err != nil {
		return fmt.Errorf("insert consent: %w", err)
	}
	return nil
}

// InsertConsents records the batch in one transaction; either every consent
// lands or none do.
func (s *PostgresStore) InsertConsents(ctx context.Context, consents []UserConsent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin consent tx: %w", err)
	}
	defer tx.Rollback()

	for _, consent := range consents {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO user_consents (user_id, role, document_type, version, ip_address, user_agent, consent_items)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, consent.UserID, consent.Role, consent.DocumentType, consent.Version, consent.IPAddress, consent.UserAgent, consent.ConsentItems)
		if err != nil {
			return fmt.Errorf("insert consent %s: %w", consent.DocumentType, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit consent tx: %w", err)
	}
	return nil
}

// LatestConsentVersions returns the newest consented version per document
// type for one user.
func (s *PostgresStore) LatestConsentVersions(ctx context.Context, userID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (document_type) document_type, version
		FROM user_consents
		WHERE user_id=$1
		ORDER BY document_type, string_to_array(version, '.')::int[] DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("latest consents: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var docType, version string
		if err := rows.Scan(&docType, &version); err != nil {
			return nil, fmt.Errorf("scan consent: %w", err)
		}
		out[docType] = version
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consents: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListConsentsByUser(ctx context.Context, userID string) ([]UserConsent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, role, document_type, version, ip_address, user_agent, COALESCE(consent_items, ''), consented_at
		FROM user_consents
		WHERE user_id=$1
		ORDER BY consented_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list consents: %w", err)
	}
	defer rows.Close()
	return collectConsents(rows)
}

func (s *PostgresStore) ListRecentConsents(ctx context.Context, limit int) ([]UserConsent, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, role, document_type, version, ip_address, user_agent, COALESCE(consent_items, ''), consented_at
		FROM user_consents
		ORDER BY consented_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent consents: %w", err)
	}
	defer rows.Close()
	return collectConsents(rows)
}

func collectConsents(rows *sql.Rows) ([]UserConsent, error) {
	items := make([]UserConsent, 0)
	for rows.Next() {
		var consent UserConsent
		if err := rows.Scan(&consent.ID, &consent.UserID, &consent.Role, &consent.DocumentType, &consent.Version,
			&consent.IPAddress, &consent.UserAgent, &consent.ConsentItems, &consent.ConsentedAt); err != nil {
			return nil, fmt.Errorf("scan consent: %w", err)
		}
		items = append(items, consent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consents: %w", err)
	}
	return items, nil
}
