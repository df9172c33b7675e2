package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"globetales-service/internal/models"
)

// MemoryStore keeps messages and users in process. It backs local runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	messages []models.Message
	users    map[string]models.User
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]models.User)}
}

// LoadUsersFile seeds the directory from a JSON array of users.
func (s *MemoryStore) LoadUsersFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read users seed: %w", err)
	}
	var users []models.User
	if err := json.Unmarshal(raw, &users); err != nil {
		return fmt.Errorf("decode users seed: %w", err)
	}
	for _, u := range users {
		s.PutUser(u)
	}
	return nil
}

// PutUser adds or replaces a user.
func (s *MemoryStore) PutUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// Messages returns a copy of every stored message in insertion order.
func (s *MemoryStore) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// CreateMessage appends msg, assigning an id when missing.
func (s *MemoryStore) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return msg, nil
}

// ListBetween returns the pair's history ordered by creation.
func (s *MemoryStore) ListBetween(ctx context.Context, userA, userB string, opts ListOptions) ([]models.Message, error) {
	s.mu.RLock()
	out := []models.Message{}
	for _, m := range s.messages {
		if !m.Involves(userA, userB) {
			continue
		}
		if opts.Paged() && !opts.Before.IsZero() && !m.CreatedAt.Before(opts.Before) {
			continue
		}
		out = append(out, m)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if opts.Paged() && len(out) > opts.Limit {
		out = out[len(out)-opts.Limit:]
	}
	return out, nil
}

// ListInvolving returns all messages touching userID, newest first.
func (s *MemoryStore) ListInvolving(ctx context.Context, userID string) ([]models.Message, error) {
	s.mu.RLock()
	out := []models.Message{}
	for _, m := range s.messages {
		if m.SenderID == userID || m.ReceiverID == userID {
			out = append(out, m)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// MarkRead marks the sender's unread messages to the reader as read.
func (s *MemoryStore) MarkRead(ctx context.Context, readerID, senderID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.messages {
		m := &s.messages[i]
		if m.SenderID == senderID && m.ReceiverID == readerID && !m.IsRead {
			m.IsRead = true
			n++
		}
	}
	return n, nil
}

// GetUser fetches a single user.
func (s *MemoryStore) GetUser(ctx context.Context, userID string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return u, nil
}

// BulkUsers fetches the users with the given ids; unknown ids are skipped.
func (s *MemoryStore) BulkUsers(ctx context.Context, ids []string) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]models.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}

// SearchUsers matches query case-insensitively against username and email.
func (s *MemoryStore) SearchUsers(ctx context.Context, query string, limit int) ([]models.User, error) {
	q := strings.ToLower(query)
	s.mu.RLock()
	users := []models.User{}
	for _, u := range s.users {
		if strings.Contains(strings.ToLower(u.Username), q) || strings.Contains(strings.ToLower(u.Email), q) {
			users = append(users, u)
		}
	}
	s.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	if len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

var (
	_ MessageRepository = (*MemoryStore)(nil)
	_ UserRepository    = (*MemoryStore)(nil)
	_ MessageRepository = (*MessageRepo)(nil)
	_ UserRepository    = (*UserRepo)(nil)
	_ MessageRepository = (*MongoMessageRepo)(nil)
	_ UserRepository    = (*MongoUserRepo)(nil)
)
