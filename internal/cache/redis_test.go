package cache

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	rdb, err := DialRedis(ctx, fmt.Sprintf("%s:%s", host, port.Port()), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisCache(t *testing.T) {
	rdb := startRedis(t)
	ctx := context.Background()
	c := NewRedis(rdb, time.Hour, nil)

	t.Run("store and lookup", func(t *testing.T) {
		require.NoError(t, c.Store(ctx, "seg-1", "fp-1", sampleRecord("It is sunny.")))

		rec, hit, err := c.Lookup(ctx, "seg-1", "fp-1")
		require.NoError(t, err)
		assert.True(t, hit)
		assert.Equal(t, "It is sunny.", rec.Translation)
		require.Len(t, rec.Vocabulary, 1)
		assert.Equal(t, "はれ", *rec.Vocabulary[0].Reading)

		ttl, err := rdb.TTL(ctx, redisKey("seg-1")).Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, 59*time.Minute)
	})

	t.Run("fingerprint mismatch", func(t *testing.T) {
		_, hit, err := c.Lookup(ctx, "seg-1", "other")
		require.NoError(t, err)
		assert.False(t, hit)
	})

	t.Run("corrupt entry is dropped", func(t *testing.T) {
		require.NoError(t, rdb.Set(ctx, redisKey("seg-bad"), "{not json", 0).Err())

		_, hit, err := c.Lookup(ctx, "seg-bad", "fp")
		require.NoError(t, err)
		assert.False(t, hit)

		n, err := rdb.Exists(ctx, redisKey("seg-bad")).Result()
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, c.Delete(ctx, "seg-1"))
		_, hit, err := c.Lookup(ctx, "seg-1", "fp-1")
		require.NoError(t, err)
		assert.False(t, hit)
	})
}
