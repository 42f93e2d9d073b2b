package redis

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dropwin/backend/internal/config"
	"dropwin/backend/internal/storage"
)

// 需要真实的 Redis 实例，通过 DROPWIN_TEST_REDIS_ADDRESS 指定
func TestClient_Integration(t *testing.T) {
	addr := os.Getenv("DROPWIN_TEST_REDIS_ADDRESS")
	if addr == "" {
		t.Skip("DROPWIN_TEST_REDIS_ADDRESS not set")
	}

	client, err := New(config.RedisConfig{Address: addr, DB: 15}, nil)
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	key := "dropwin:test:mailboxes"
	require.NoError(t, client.rdb.Del(ctx, key).Err())

	_, err = client.Get(ctx, key)
	assert.ErrorIs(t, err, storage.ErrBlobNotFound)

	require.NoError(t, client.Put(ctx, key, []byte(`[]`)))
	got, err := client.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte(`[]`), got)

	assert.NoError(t, client.Health(ctx))
}
