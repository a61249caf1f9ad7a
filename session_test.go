package auth_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	auth "github.com/gymstack/gym-auth"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisSessionStore(t *testing.T, ttl time.Duration) (*auth.RedisSessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return auth.NewRedisSessionStore(client, ttl), mr
}

// sessionStoreContract runs the behaviour every SessionStore shares
func sessionStoreContract(t *testing.T, store auth.SessionStore) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, auth.ErrSessionNotFound)

	entry := auth.NewSessionEntry("key-1", testMember(), now)
	require.NoError(t, store.Set(ctx, entry))

	got, err := store.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, entry.UserID, got.UserID)
	assert.Equal(t, entry.Email, got.Email)
	assert.Equal(t, entry.Role, got.Role)
	assert.True(t, entry.CreatedAt.Equal(got.CreatedAt))

	require.NoError(t, store.Delete(ctx, "key-1"))
	_, err = store.Get(ctx, "key-1")
	assert.ErrorIs(t, err, auth.ErrSessionNotFound)

	require.NoError(t, store.Delete(ctx, "never-existed"))

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Set(ctx, auth.NewSessionEntry(fmt.Sprintf("bulk-%d", i), testMember(), now)))
	}
	require.NoError(t, store.Clear(ctx))
	for i := 0; i < 5; i++ {
		_, err := store.Get(ctx, fmt.Sprintf("bulk-%d", i))
		assert.ErrorIs(t, err, auth.ErrSessionNotFound)
	}

	err = store.Set(ctx, &auth.SessionEntry{})
	assert.ErrorIs(t, err, auth.ErrValidation)
}

func TestMemorySessionStore(t *testing.T) {
	sessionStoreContract(t, auth.NewMemorySessionStore(0))
}

func TestRedisSessionStore(t *testing.T) {
	store, _ := newRedisSessionStore(t, time.Hour)
	sessionStoreContract(t, store)
}

func TestMemorySessionStore_TTL(t *testing.T) {
	clock := newTestClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := auth.NewMemorySessionStore(time.Hour).WithClock(clock.Now)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, auth.NewSessionEntry("k", testMember(), clock.Now())))

	clock.Advance(59 * time.Minute)
	_, err := store.Get(ctx, "k")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, auth.ErrSessionNotFound)
	assert.Equal(t, 0, store.Len())
}

func TestMemorySessionStore_Sweep(t *testing.T) {
	clock := newTestClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := auth.NewMemorySessionStore(time.Hour).WithClock(clock.Now)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, store.Set(ctx, auth.NewSessionEntry(fmt.Sprintf("old-%d", i), testMember(), clock.Now())))
	}
	assert.Equal(t, 10, store.Len())

	clock.Advance(30 * time.Minute)
	assert.Equal(t, 0, store.Sweep())

	clock.Advance(time.Hour)
	require.NoError(t, store.Set(ctx, auth.NewSessionEntry("fresh", testMember(), clock.Now())))
	assert.Equal(t, 1, store.Len(), "set evicts entries past their ttl")

	clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, store.Sweep())
	assert.Equal(t, 0, store.Len())
}

func TestMemorySessionStore_ConcurrentAccess(t *testing.T) {
	store := auth.NewMemorySessionStore(0)
	ctx := context.Background()
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k-%d", i%4)
			_ = store.Set(ctx, auth.NewSessionEntry(key, testMember(), now))
			_, _ = store.Get(ctx, key)
			if i%8 == 0 {
				_ = store.Clear(ctx)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, store.Len(), 4)
}

func TestRedisSessionStore_TTLAndPrefix(t *testing.T) {
	store, mr := newRedisSessionStore(t, 30*time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, auth.NewSessionEntry("abc", testMember(), time.Now())))
	assert.True(t, mr.Exists(auth.DefaultSessionKeyPrefix+"abc"))
	assert.Equal(t, 30*time.Minute, mr.TTL(auth.DefaultSessionKeyPrefix+"abc"))

	mr.FastForward(31 * time.Minute)
	_, err := store.Get(ctx, "abc")
	assert.ErrorIs(t, err, auth.ErrSessionNotFound)
}

func TestRedisSessionStore_ClearKeepsForeignKeys(t *testing.T) {
	store, mr := newRedisSessionStore(t, 0)
	ctx := context.Background()

	require.NoError(t, mr.Set("unrelated", "keep"))
	for i := 0; i < 250; i++ {
		require.NoError(t, store.Set(ctx, auth.NewSessionEntry(fmt.Sprintf("s%d", i), testMember(), time.Now())))
	}

	require.NoError(t, store.Clear(ctx))
	assert.True(t, mr.Exists("unrelated"))
	assert.Len(t, mr.Keys(), 1)
}

func TestRedisSessionStore_CorruptPayloadIsMiss(t *testing.T) {
	store, mr := newRedisSessionStore(t, 0)
	require.NoError(t, mr.Set(auth.DefaultSessionKeyPrefix+"bad", "{not json"))

	_, err := store.Get(context.Background(), "bad")
	assert.ErrorIs(t, err, auth.ErrSessionNotFound)
	assert.False(t, mr.Exists(auth.DefaultSessionKeyPrefix+"bad"))
}

func TestRedisSessionStore_Unavailable(t *testing.T) {
	store, mr := newRedisSessionStore(t, 0)
	mr.Close()

	_, err := store.Get(context.Background(), "abc")
	assert.ErrorIs(t, err, auth.ErrStoreUnavailable)
}
