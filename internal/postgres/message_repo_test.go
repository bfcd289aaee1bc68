package postgres

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cwrk-planet/chat-relay/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Интеграционные тесты: нужен живой Postgres в CHAT_TEST_POSTGRES_DSN.
func openTestRepo(t *testing.T) *MessageRepository {
	t.Helper()
	dsn := os.Getenv("CHAT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CHAT_TEST_POSTGRES_DSN is not set")
	}
	db, err := New(context.Background(), Config{DSN: dsn, ApplicationName: "chat-relay-test"})
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return NewMessageRepository(db.Pool)
}

func testRoom() string { return "test-" + uuid.NewString() }

func TestMessageRepository_RoundTrip(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	room := testRoom()
	t.Cleanup(func() { _, _ = repo.DeleteAll(context.Background(), room) })

	created := time.Now().UTC().Truncate(time.Millisecond)
	var ids []domain.MessageID
	for _, text := range []string{"a", "b", "c"} {
		id, err := repo.Insert(ctx, domain.Message{Room: room, Username: "amy", Content: text, CreatedAt: created})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	assert.Less(t, ids[0], ids[1])
	assert.Less(t, ids[1], ids[2])

	got, err := repo.QueryDescending(ctx, room, 0, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].Content)
	assert.True(t, created.Equal(got[0].CreatedAt))

	older, err := repo.QueryDescending(ctx, room, got[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, older, 1)
	assert.Equal(t, "a", older[0].Content)

	n, err := repo.DeleteAll(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestMessageRepository_ConcurrentInsertsUnique(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	room := testRoom()
	t.Cleanup(func() { _, _ = repo.DeleteAll(context.Background(), room) })

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[domain.MessageID]bool{}
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := repo.Insert(ctx, domain.Message{Room: room, Username: "u", Content: "x", CreatedAt: time.Now()})
			if assert.NoError(t, err) {
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 20)
}

func TestMessageRepository_CheckViolation(t *testing.T) {
	repo := openTestRepo(t)
	_, err := repo.Insert(context.Background(), domain.Message{Room: testRoom(), Username: "u", Content: "  ", CreatedAt: time.Now()})
	assert.ErrorIs(t, err, ErrCheckViolation)
}
