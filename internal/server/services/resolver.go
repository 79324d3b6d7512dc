package services

import (
	"context"
	"errors"
	"strings"

	"github.com/dmitrijs2005/webmail/internal/common"
	"github.com/dmitrijs2005/webmail/internal/dbx"
	"github.com/dmitrijs2005/webmail/internal/server/models"
	"github.com/dmitrijs2005/webmail/internal/server/repositories/repomanager"
)

// Resolver translates a recipient address into a user record. The match is
// an exact lookup against the directory; no normalization is applied.
type Resolver struct {
	repos repomanager.RepositoryManager
}

func NewResolver(repos repomanager.RepositoryManager) *Resolver {
	return &Resolver{repos: repos}
}

// Resolve returns the user registered under address, or
// common.ErrorRecipientNotFound when no such user exists.
func (r *Resolver) Resolve(ctx context.Context, db dbx.DBTX, address string) (*models.User, error) {
	user, err := r.repos.Users(db).GetByEmail(ctx, address)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorRecipientNotFound
		}
		return nil, err
	}
	return user, nil
}

// SplitAddresses splits a comma-separated recipient list, trims whitespace,
// and discards empty tokens.
func SplitAddresses(recipients string) []string {
	parts := strings.Split(recipients, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
