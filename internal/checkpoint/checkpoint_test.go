package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/highlight-run/passwordreplacer/internal/config"
)

func TestNewDisabledIsNoop(t *testing.T) {
	store, err := New(config.CheckpointConfig{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "b", "p", "tok"))

	token, ok, err := store.Load(ctx, "b", "p")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, token)
	assert.NoError(t, store.Clear(ctx, "b", "p"))
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisStoreSaveLoadClear(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedis(client, 6*time.Hour)
	ctx := context.Background()

	token, ok, err := store.Load(ctx, "highlight-session-data", "12/")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, token)

	require.NoError(t, store.Save(ctx, "highlight-session-data", "12/", "tok-1"))
	require.NoError(t, store.Save(ctx, "highlight-session-data", "12/", "tok-2"))

	token, ok, err = store.Load(ctx, "highlight-session-data", "12/")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok-2", token)

	key := buildKey("highlight-session-data", "12/")
	assert.Equal(t, 6*time.Hour, mr.TTL(key))

	_, ok, err = store.Load(ctx, "highlight-session-data", "13/")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Clear(ctx, "highlight-session-data", "12/"))
	assert.False(t, mr.Exists(key))

	token, ok, err = store.Load(ctx, "highlight-session-data", "12/")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, token)
}

func TestRedisStoreDefaultTTL(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedis(client, 0)

	require.NoError(t, store.Save(context.Background(), "b", "p", "tok"))
	assert.Equal(t, defaultTTL, mr.TTL(buildKey("b", "p")))
}

func TestRedisStoreExpires(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedis(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "b", "p", "tok"))
	mr.FastForward(2 * time.Minute)

	_, ok, err := store.Load(ctx, "b", "p")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStoreErrors(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedis(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, client.Ping(ctx).Err())
	mr.SetError("ERR injected failure")

	_, _, err := store.Load(ctx, "b", "p")
	assert.Error(t, err)
	assert.Error(t, store.Save(ctx, "b", "p", "tok"))
	assert.Error(t, store.Clear(ctx, "b", "p"))
}

func TestNewEnabledConnects(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := New(config.CheckpointConfig{Enabled: true, RedisURL: "redis://" + mr.Addr() + "/0", TTLHours: 1})
	require.NoError(t, err)

	require.NoError(t, store.Save(context.Background(), "b", "p", "tok"))
	assert.Equal(t, time.Hour, mr.TTL(buildKey("b", "p")))
}

func TestNewEnabledFailsWithoutRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := New(config.CheckpointConfig{Enabled: true, RedisURL: "redis://" + addr + "/0"})
	assert.Error(t, err)
}

func TestBuildKey(t *testing.T) {
	assert.Equal(t, "passwordreplacer:checkpoint:highlight-session-data:12/", buildKey("highlight-session-data", "12/"))
}

func TestBuildRedisOptions(t *testing.T) {
	opts, err := buildRedisOptions(config.CheckpointConfig{RedisHost: "cache", RedisPort: "6380", RedisDB: 2, RedisPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, "pw", opts.Password)

	opts, err = buildRedisOptions(config.CheckpointConfig{})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6379", opts.Addr)

	opts, err = buildRedisOptions(config.CheckpointConfig{RedisURL: "redis://:secret@redis.internal:6379/3"})
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6379", opts.Addr)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, "secret", opts.Password)

	_, err = buildRedisOptions(config.CheckpointConfig{RedisURL: "http://nope"})
	assert.Error(t, err)
}
