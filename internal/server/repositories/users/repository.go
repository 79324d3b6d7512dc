package users

import (
	"context"

	"github.com/dmitrijs2005/webmail/internal/server/models"
)

// Repository is the user directory: lookups by ID and address plus the
// writes the account flows need.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Update(ctx context.Context, user *models.User) error
}
