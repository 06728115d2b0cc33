package storage

import (
	"context"
	"testing"
	"time"

	"eino_flow/src/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) (*RedisStorage, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStorage(client, "test"), mr
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), model.RedisConfig{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = NewRedisClient(context.Background(), model.RedisConfig{})
	assert.Error(t, err)

	_, err = NewRedisClient(context.Background(), model.RedisConfig{URL: "://bad"})
	assert.Error(t, err)
}

func TestRedisStorage_Key(t *testing.T) {
	s, _ := newTestStorage(t)
	assert.Equal(t, "test:doc:1", s.Key("doc", "1"))
	assert.Equal(t, "doc", NewRedisStorage(nil, "").Key("doc"))
}

func TestRedisStorage_Hash(t *testing.T) {
	s, mr := newTestStorage(t)
	ctx := context.Background()
	key := s.Key("vars")

	require.NoError(t, s.HashSet(ctx, key, map[string]any{
		"name":  "ada",
		"items": []any{"x", 2},
	}, time.Hour))

	got, err := s.HashGetAll(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "ada", got["name"])
	assert.Len(t, got["items"], 2)
	assert.Equal(t, time.Hour, mr.TTL(key))

	empty, err := s.HashGetAll(ctx, s.Key("missing"))
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, s.Delete(ctx))
	assert.True(t, mr.Exists(key))
	require.NoError(t, s.Delete(ctx, key))
	assert.False(t, mr.Exists(key))
}
