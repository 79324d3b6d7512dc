// Package attachments provides the PostgreSQL-backed attachment metadata store.
package attachments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/webmail/internal/common"
	"github.com/dmitrijs2005/webmail/internal/dbx"
	"github.com/dmitrijs2005/webmail/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, att *models.Attachment) error {
	query := `
		INSERT INTO attachments (id, message_id, filename, content_type, size, storage_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		att.ID, att.MessageID, att.Filename, att.ContentType, att.Size, att.StorageKey, att.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Attachment, error) {
	query := `
		SELECT id, message_id, filename, content_type, size, storage_key, created_at
		FROM attachments
		WHERE id = $1
	`
	att := &models.Attachment{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&att.ID, &att.MessageID, &att.Filename, &att.ContentType, &att.Size, &att.StorageKey, &att.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return att, nil
}

func (r *PostgresRepository) ListByMessage(ctx context.Context, messageID string) ([]*models.Attachment, error) {
	query := `
		SELECT id, message_id, filename, content_type, size, storage_key, created_at
		FROM attachments
		WHERE message_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Attachment
	for rows.Next() {
		att := &models.Attachment{}
		if err := rows.Scan(
			&att.ID, &att.MessageID, &att.Filename, &att.ContentType, &att.Size, &att.StorageKey, &att.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, att)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM attachments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// HasAttachments is a batch existence check used by folder listings so the
// caller never walks messages one by one. Every requested ID is present in
// the result, defaulting to false.
func (r *PostgresRepository) HasAttachments(ctx context.Context, messageIDs []string) (map[string]bool, error) {
	result := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		result[id] = false
	}
	if len(messageIDs) == 0 {
		return result, nil
	}

	query := `
		SELECT DISTINCT message_id FROM attachments
		WHERE message_id = ANY($1)
	`
	rows, err := r.db.QueryContext(ctx, query, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) CountByStorageKey(ctx context.Context, storageKey string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attachments WHERE storage_key = $1`, storageKey).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
