package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"globetales-service/internal/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	// ErrInvalidID is returned when an id cannot be represented by the store.
	ErrInvalidID = errors.New("invalid id")
)

// ListOptions narrows a conversation history. The zero value selects everything.
type ListOptions struct {
	Before time.Time
	Limit  int
}

// Paged reports whether a cursor was requested.
func (o ListOptions) Paged() bool {
	return o.Limit > 0
}

// MessageRepository defines interactions for direct messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	// ListBetween returns the messages of the pair {userA, userB}, oldest first.
	ListBetween(ctx context.Context, userA, userB string, opts ListOptions) ([]models.Message, error)
	// ListInvolving returns every message sent or received by userID, newest first.
	ListInvolving(ctx context.Context, userID string) ([]models.Message, error)
	// MarkRead flips unread messages from senderID to readerID and returns how many changed.
	MarkRead(ctx context.Context, readerID, senderID string) (int64, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, sender_id, receiver_id, content, is_read, created_at`

// CreateMessage stores a direct message, assigning an id when missing.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	var stored models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (`+messageColumns+`) VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+messageColumns,
		msg.ID, msg.SenderID, msg.ReceiverID, msg.Content, msg.IsRead, msg.CreatedAt).StructScan(&stored)
	return stored, err
}

// ListBetween returns the pair's history ordered by creation.
func (r *MessageRepo) ListBetween(ctx context.Context, userA, userB string, opts ListOptions) ([]models.Message, error) {
	pair := `((sender_id=$1 AND receiver_id=$2) OR (sender_id=$2 AND receiver_id=$1))`
	msgs := []models.Message{}
	if !opts.Paged() {
		err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages WHERE `+pair+` ORDER BY created_at ASC`, userA, userB)
		return msgs, err
	}

	var err error
	if opts.Before.IsZero() {
		err = r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages WHERE `+pair+` ORDER BY created_at DESC LIMIT $3`,
			userA, userB, opts.Limit)
	} else {
		err = r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages WHERE `+pair+` AND created_at < $3 ORDER BY created_at DESC LIMIT $4`,
			userA, userB, opts.Before, opts.Limit)
	}
	if err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

// ListInvolving returns all messages touching userID, newest first.
func (r *MessageRepo) ListInvolving(ctx context.Context, userID string) ([]models.Message, error) {
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages WHERE sender_id=$1 OR receiver_id=$1 ORDER BY created_at DESC`, userID)
	return msgs, err
}

// MarkRead marks the sender's unread messages to the reader as read.
func (r *MessageRepo) MarkRead(ctx context.Context, readerID, senderID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET is_read = TRUE WHERE sender_id=$1 AND receiver_id=$2 AND is_read = FALSE`, senderID, readerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func reverse(msgs []models.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
