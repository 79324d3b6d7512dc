// Package messages provides the PostgreSQL-backed message store and the
// folder queries behind Inbox, Sent, Drafts, and Trash.
package messages

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

// selectMessage is the shared projection for single reads and folder pages:
// message columns, both parties, and attachment presence in one query.
const selectMessage = `
	SELECT m.id, m.sender_id, m.recipient_id, m.subject, m.content, m.created_at,
	       m.is_draft, m.is_sent, m.is_read, m.is_starred, m.is_trash,
	       s.email, s.first_name, s.last_name,
	       r.email, r.first_name, r.last_name,
	       EXISTS (SELECT 1 FROM attachments a WHERE a.message_id = m.id) AS has_attachments
	FROM messages m
	JOIN users s ON s.id = m.sender_id
	JOIN users r ON r.id = m.recipient_id
`

func (r *PostgresRepository) Create(ctx context.Context, msg *models.Message) error {
	query := `
		INSERT INTO messages (id, sender_id, recipient_id, subject, content, created_at,
			is_read, is_sent, is_draft, is_trash, is_starred)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	draft, sent := msg.Phase.Flags()
	_, err := r.db.ExecContext(ctx, query,
		msg.ID, msg.SenderID, msg.RecipientID, msg.Subject, msg.Content, msg.CreatedAt,
		msg.Read, sent, draft, msg.Trashed, msg.Starred)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Message, error) {
	row := r.db.QueryRowContext(ctx, selectMessage+` WHERE m.id = $1`, id)

	msg, err := scanMessage(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return msg, nil
}

func (r *PostgresRepository) Update(ctx context.Context, msg *models.Message) error {
	query := `
		UPDATE messages
		SET recipient_id = $2, subject = $3, content = $4,
			is_read = $5, is_sent = $6, is_draft = $7, is_trash = $8, is_starred = $9
		WHERE id = $1
	`
	draft, sent := msg.Phase.Flags()
	res, err := r.db.ExecContext(ctx, query,
		msg.ID, msg.RecipientID, msg.Subject, msg.Content,
		msg.Read, sent, draft, msg.Trashed, msg.Starred)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return oneRowAffected(res)
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return oneRowAffected(res)
}

func (r *PostgresRepository) SetTrashed(ctx context.Context, id string, trashed bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET is_trash = $2 WHERE id = $1`, id, trashed)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return oneRowAffected(res)
}

func (r *PostgresRepository) SetRead(ctx context.Context, id string, read bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET is_read = $2 WHERE id = $1`, id, read)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return oneRowAffected(res)
}

func (r *PostgresRepository) ToggleStar(ctx context.Context, id string) (bool, error) {
	query := `UPDATE messages SET is_starred = NOT is_starred WHERE id = $1 RETURNING is_starred`

	var starred bool
	err := r.db.QueryRowContext(ctx, query, id).Scan(&starred)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, common.ErrorNotFound
		}
		return false, fmt.Errorf("db error: %w", err)
	}
	return starred, nil
}

// Inbox excludes drafts: an unsent draft addressed to a real user (or
// carrying the sender as placeholder recipient) must never surface in
// anyone's inbox.
func (r *PostgresRepository) Inbox(ctx context.Context, userID string, page, pageSize int) (*models.MessagePage, error) {
	return r.selectPage(ctx,
		` WHERE m.recipient_id = $1 AND m.is_sent = true AND m.is_trash = false`,
		userID, page, pageSize)
}

func (r *PostgresRepository) Sent(ctx context.Context, userID string, page, pageSize int) (*models.MessagePage, error) {
	return r.selectPage(ctx,
		` WHERE m.sender_id = $1 AND m.is_sent = true AND m.is_trash = false`,
		userID, page, pageSize)
}

func (r *PostgresRepository) Drafts(ctx context.Context, userID string, page, pageSize int) (*models.MessagePage, error) {
	return r.selectPage(ctx,
		` WHERE m.sender_id = $1 AND m.is_draft = true AND m.is_trash = false`,
		userID, page, pageSize)
}

func (r *PostgresRepository) Trash(ctx context.Context, userID string, page, pageSize int) (*models.MessagePage, error) {
	return r.selectPage(ctx,
		` WHERE m.is_trash = true AND (m.sender_id = $1 OR m.recipient_id = $1)`,
		userID, page, pageSize)
}

func (r *PostgresRepository) CountUnread(ctx context.Context, userID string) (int64, error) {
	query := `
		SELECT COUNT(*) FROM messages
		WHERE recipient_id = $1 AND is_sent = true AND is_read = false AND is_trash = false
	`
	var n int64
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) TrashIDs(ctx context.Context, userID string) ([]string, error) {
	query := `
		SELECT id FROM messages
		WHERE is_trash = true AND (sender_id = $1 OR recipient_id = $1)
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// selectPageMessage adds a window count to the shared projection so a page
// and its total come back in one query.
const selectPageMessage = `
	SELECT m.id, m.sender_id, m.recipient_id, m.subject, m.content, m.created_at,
	       m.is_draft, m.is_sent, m.is_read, m.is_starred, m.is_trash,
	       s.email, s.first_name, s.last_name,
	       r.email, r.first_name, r.last_name,
	       EXISTS (SELECT 1 FROM attachments a WHERE a.message_id = m.id) AS has_attachments,
	       COUNT(*) OVER () AS total_count
	FROM messages m
	JOIN users s ON s.id = m.sender_id
	JOIN users r ON r.id = m.recipient_id
`

func (r *PostgresRepository) selectPage(ctx context.Context, where, userID string, page, pageSize int) (*models.MessagePage, error) {
	query := selectPageMessage + where + `
		ORDER BY m.created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, userID, pageSize, page*pageSize)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := &models.MessagePage{Page: page, PageSize: pageSize}
	for rows.Next() {
		var total int64
		msg, err := scanMessage(func(dest ...any) error {
			return rows.Scan(append(dest, &total)...)
		})
		if err != nil {
			return nil, err
		}
		result.TotalCount = total
		result.Items = append(result.Items, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// scanMessage reads one row of the shared projection. scan receives the
// destinations in projection order so both *sql.Row and *sql.Rows fit.
func scanMessage(scan func(dest ...any) error) (*models.Message, error) {
	var (
		msg         models.Message
		sender      models.Party
		recipient   models.Party
		draft, sent bool
	)

	err := scan(
		&msg.ID, &msg.SenderID, &msg.RecipientID, &msg.Subject, &msg.Content, &msg.CreatedAt,
		&draft, &sent, &msg.Read, &msg.Starred, &msg.Trashed,
		&sender.Email, &sender.FirstName, &sender.LastName,
		&recipient.Email, &recipient.FirstName, &recipient.LastName,
		&msg.HasAttachments,
	)
	if err != nil {
		return nil, err
	}

	phase, err := models.PhaseFromFlags(draft, sent)
	if err != nil {
		return nil, err
	}
	msg.Phase = phase

	sender.ID = msg.SenderID
	recipient.ID = msg.RecipientID
	msg.Sender = &sender
	msg.Recipient = &recipient
	return &msg, nil
}

func oneRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
