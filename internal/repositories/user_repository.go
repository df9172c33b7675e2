package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"globetales-service/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository reads the account directory owned by the auth service.
type UserRepository interface {
	GetUser(ctx context.Context, userID string) (models.User, error)
	BulkUsers(ctx context.Context, ids []string) ([]models.User, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]models.User, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

const userColumns = `id, username, email, COALESCE(profile_picture, '') AS profile_picture, COALESCE(bio, '') AS bio, created_at`

// GetUser fetches a single user.
func (r *UserRepo) GetUser(ctx context.Context, userID string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// BulkUsers fetches the users with the given ids; unknown ids are skipped.
func (r *UserRepo) BulkUsers(ctx context.Context, ids []string) ([]models.User, error) {
	users := []models.User{}
	if len(ids) == 0 {
		return users, nil
	}
	err := r.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users WHERE id = ANY($1)`, pq.Array(ids))
	return users, err
}

// SearchUsers matches query case-insensitively against username and email.
func (r *UserRepo) SearchUsers(ctx context.Context, query string, limit int) ([]models.User, error) {
	users := []models.User{}
	pattern := "%" + escapeLike(query) + "%"
	err := r.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users WHERE username ILIKE $1 OR email ILIKE $1 ORDER BY username ASC LIMIT $2`, pattern, limit)
	return users, err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
