package repositories

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"globetales-service/internal/models"
)

func TestMemoryStoreListBetweenIsSymmetric(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	_, _ = store.CreateMessage(ctx, models.Message{SenderID: "a", ReceiverID: "b", Content: "1", CreatedAt: base})
	_, _ = store.CreateMessage(ctx, models.Message{SenderID: "b", ReceiverID: "a", Content: "2", CreatedAt: base.Add(time.Second)})
	_, _ = store.CreateMessage(ctx, models.Message{SenderID: "a", ReceiverID: "c", Content: "other", CreatedAt: base.Add(2 * time.Second)})

	ab, err := store.ListBetween(ctx, "a", "b", ListOptions{})
	require.NoError(t, err)
	ba, err := store.ListBetween(ctx, "b", "a", ListOptions{})
	require.NoError(t, err)

	require.Len(t, ab, 2)
	assert.Equal(t, ab, ba)
	assert.Equal(t, "a", ab[0].SenderID)
	assert.Equal(t, "b", ab[1].SenderID)
}

func TestMemoryStoreListBetweenPaged(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, _ = store.CreateMessage(ctx, models.Message{SenderID: "a", ReceiverID: "b", Content: string(rune('0' + i)), CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}

	page, err := store.ListBetween(ctx, "a", "b", ListOptions{Before: base.Add(4 * time.Minute), Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "2", page[0].Content)
	assert.Equal(t, "3", page[1].Content)
}

func TestMemoryStoreMarkReadIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	_, _ = store.CreateMessage(ctx, models.Message{SenderID: "b", ReceiverID: "a", Content: "1", CreatedAt: now})
	_, _ = store.CreateMessage(ctx, models.Message{SenderID: "b", ReceiverID: "a", Content: "2", CreatedAt: now})
	_, _ = store.CreateMessage(ctx, models.Message{SenderID: "a", ReceiverID: "b", Content: "3", CreatedAt: now})

	n, err := store.MarkRead(ctx, "a", "b")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = store.MarkRead(ctx, "a", "b")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	for _, m := range store.Messages() {
		assert.Equal(t, m.SenderID == "b", m.IsRead)
	}
}

func TestMemoryStoreConcurrentMarkReadCountsEachRowOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		_, _ = store.CreateMessage(ctx, models.Message{SenderID: "b", ReceiverID: "a", Content: "x", CreatedAt: time.Now()})
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int64
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := store.MarkRead(ctx, "a", "b")
			assert.NoError(t, err)
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 50, total)
}

func TestMemoryStoreSearchUsers(t *testing.T) {
	store := NewMemoryStore()
	store.PutUser(models.User{ID: "1", Username: "Alice", Email: "alice@example.com"})
	store.PutUser(models.User{ID: "2", Username: "bob", Email: "bob@ALICE.org"})
	store.PutUser(models.User{ID: "3", Username: "carol", Email: "carol@example.com"})

	users, err := store.SearchUsers(context.Background(), "alice", 20)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "Alice", users[0].Username)

	users, err = store.SearchUsers(context.Background(), "example", 1)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestMemoryStoreLoadUsersFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"_id":"u1","username":"alice","profilePicture":"a.png"}]`), 0o600))

	store := NewMemoryStore()
	require.NoError(t, store.LoadUsersFile(path))

	user, err := store.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "a.png", user.ProfilePicture)

	_, err = store.GetUser(context.Background(), "u2")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
