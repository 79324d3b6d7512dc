package attachments

import (
	"context"

	"github.com/dmitrijs2005/webmail/internal/server/models"
)

// Repository persists attachment metadata. Payload bytes live in the blob
// store; CountByStorageKey lets callers find out when a shared blob has no
// remaining references and can be removed.
type Repository interface {
	Create(ctx context.Context, att *models.Attachment) error
	GetByID(ctx context.Context, id string) (*models.Attachment, error)
	ListByMessage(ctx context.Context, messageID string) ([]*models.Attachment, error)
	Delete(ctx context.Context, id string) error
	HasAttachments(ctx context.Context, messageIDs []string) (map[string]bool, error)
	CountByStorageKey(ctx context.Context, storageKey string) (int64, error)
}
