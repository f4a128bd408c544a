package database

import (
	"context"
	"testing"
	"time"

	"ephemeral_chat_service/pkg/logger"
	testtool "ephemeral_chat_service/pkg/test_tool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 需要 Docker, go test -short 時略過
func TestRedisStorage(t *testing.T) {
	if testing.Short() {
		t.Skip("skip redis container test in short mode")
	}
	logger.SetNewNop()
	ctx := context.Background()

	container, addr, err := testtool.SetupRedis(ctx)
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	defer func() { _ = container.Terminate(ctx) }()

	client, err := NewRedisClient(RedisConnection{Addr: addr, RetryCount: 3, RetryInterval: time.Second})
	require.NoError(t, err)

	storage := NewRedisStorage(client, "test:")
	defer storage.Close()

	t.Run("missing key", func(t *testing.T) {
		val, err := storage.Get("nope")
		assert.NoError(t, err)
		assert.Nil(t, val)
	})

	t.Run("set get delete", func(t *testing.T) {
		require.NoError(t, storage.Set("1.2.3.4", []byte("7"), time.Minute))
		val, err := storage.Get("1.2.3.4")
		require.NoError(t, err)
		assert.Equal(t, []byte("7"), val)

		require.NoError(t, storage.Delete("1.2.3.4"))
		val, err = storage.Get("1.2.3.4")
		assert.NoError(t, err)
		assert.Nil(t, val)
	})

	t.Run("expire", func(t *testing.T) {
		require.NoError(t, storage.Set("short", []byte("1"), time.Second))
		time.Sleep(1500 * time.Millisecond)
		val, err := storage.Get("short")
		assert.NoError(t, err)
		assert.Nil(t, val)
	})

	t.Run("reset only prefix", func(t *testing.T) {
		require.NoError(t, storage.Set("a", []byte("1"), 0))
		require.NoError(t, client.Set(ctx, "other:a", "1", 0).Err())

		require.NoError(t, storage.Reset())

		val, _ := storage.Get("a")
		assert.Nil(t, val)
		assert.Equal(t, "1", client.Get(ctx, "other:a").Val())
	})
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	logger.SetNewNop()

	start := time.Now()
	_, err := NewRedisClient(RedisConnection{Addr: "127.0.0.1:1", RetryCount: 2, RetryInterval: 10 * time.Millisecond})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
	assert.Less(t, time.Since(start), 5*time.Second)
}
