package usercache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyhub/internal/presence"
)

type countingLookup struct {
	mu    sync.Mutex
	users map[string]presence.User
	err   error
	calls int
}

func (l *countingLookup) GetUserByID(_ context.Context, id string) (*presence.User, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	u, ok := l.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })
	return s, client
}

func TestCacheServesRepeatLookups(t *testing.T) {
	_, client := setupTestRedis(t)
	next := &countingLookup{users: map[string]presence.User{"u1": {ID: "u1", Name: "Ann"}}}
	cache := New(client, next, time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		user, err := cache.GetUserByID(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, "Ann", user.Name)
	}
	assert.Equal(t, 1, next.calls)
}

func TestCacheDoesNotStoreUnknownUsers(t *testing.T) {
	s, client := setupTestRedis(t)
	next := &countingLookup{users: map[string]presence.User{}}
	cache := New(client, next, time.Minute, nil)

	user, err := cache.GetUserByID(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, user)
	assert.False(t, s.Exists(keyPrefix+"ghost"))

	_, _ = cache.GetUserByID(context.Background(), "ghost")
	assert.Equal(t, 2, next.calls)
}

func TestCacheEntriesExpire(t *testing.T) {
	s, client := setupTestRedis(t)
	next := &countingLookup{users: map[string]presence.User{"u1": {ID: "u1"}}}
	cache := New(client, next, time.Minute, nil)
	ctx := context.Background()

	_, err := cache.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	s.FastForward(2 * time.Minute)
	_, err = cache.GetUserByID(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, 2, next.calls)
}

func TestCachePropagatesLookupErrors(t *testing.T) {
	_, client := setupTestRedis(t)
	next := &countingLookup{err: errors.New("db down")}
	cache := New(client, next, time.Minute, nil)

	user, err := cache.GetUserByID(context.Background(), "u1")
	assert.Error(t, err)
	assert.Nil(t, user)
}

func TestCacheFallsThroughWhenRedisIsDown(t *testing.T) {
	s, client := setupTestRedis(t)
	next := &countingLookup{users: map[string]presence.User{"u1": {ID: "u1", Name: "Ann"}}}
	cache := New(client, next, time.Minute, nil)
	s.Close()

	user, err := cache.GetUserByID(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "Ann", user.Name)
}

func TestCorruptEntryIsReplaced(t *testing.T) {
	s, client := setupTestRedis(t)
	next := &countingLookup{users: map[string]presence.User{"u1": {ID: "u1", Name: "Ann"}}}
	cache := New(client, next, time.Minute, nil)
	require.NoError(t, s.Set(keyPrefix+"u1", "{not json"))

	user, err := cache.GetUserByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ann", user.Name)
	assert.Equal(t, 1, next.calls)

	require.NoError(t, cache.Invalidate(context.Background(), "u1"))
	assert.False(t, s.Exists(keyPrefix+"u1"))
}
