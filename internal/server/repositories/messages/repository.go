package messages

import (
	"context"

	"github.com/dmitrijs2005/webmail/internal/server/models"
)

// Repository persists messages and answers folder queries. Folder listings
// come back fully populated (sender, recipient, attachment presence) in a
// single round trip, newest first.
type Repository interface {
	Create(ctx context.Context, msg *models.Message) error
	Get(ctx context.Context, id string) (*models.Message, error)
	Update(ctx context.Context, msg *models.Message) error
	Delete(ctx context.Context, id string) error

	SetTrashed(ctx context.Context, id string, trashed bool) error
	SetRead(ctx context.Context, id string, read bool) error
	ToggleStar(ctx context.Context, id string) (bool, error)

	Inbox(ctx context.Context, userID string, page, pageSize int) (*models.MessagePage, error)
	Sent(ctx context.Context, userID string, page, pageSize int) (*models.MessagePage, error)
	Drafts(ctx context.Context, userID string, page, pageSize int) (*models.MessagePage, error)
	Trash(ctx context.Context, userID string, page, pageSize int) (*models.MessagePage, error)

	CountUnread(ctx context.Context, userID string) (int64, error)
	TrashIDs(ctx context.Context, userID string) ([]string, error)
}
