package messaging

import (
	"context"
	"errors"
	"strings"

	"globetales-service/internal/apperr"
	"globetales-service/internal/models"
	"globetales-service/internal/repositories"
)

const SearchLimit = 20

// Directory is the read side of the user accounts: lookups for profiles and
// people search.
type Directory struct {
	users repositories.UserRepository
}

func NewDirectory(users repositories.UserRepository) *Directory {
	return &Directory{users: users}
}

func (d *Directory) Profile(ctx context.Context, userID string) (models.User, error) {
	user, err := d.users.GetUser(ctx, strings.TrimSpace(userID))
	if errors.Is(err, repositories.ErrUserNotFound) {
		return models.User{}, apperr.NotFound("User not found")
	}
	if err != nil {
		return models.User{}, apperr.Internal("failed to load user", err)
	}
	return user, nil
}

// Search matches query against usernames and emails, case-insensitively.
func (d *Directory) Search(ctx context.Context, query string) ([]models.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.Validation("Search query is required")
	}
	users, err := d.users.SearchUsers(ctx, query, SearchLimit)
	if err != nil {
		return nil, apperr.Internal("failed to search users", err)
	}
	return users, nil
}
