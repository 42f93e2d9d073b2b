package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// newTestCache 创建可控制时间的缓存
func newTestCache(maxSize int, ttl time.Duration) (*LocalCache, *time.Time) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLocalCache(maxSize, ttl)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestLocalCache_SetGet(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)
	defer c.Stop()

	c.Set("a", 1, 0)
	value, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, value)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	c.Delete("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestLocalCache_Expiry(t *testing.T) {
	c, now := newTestCache(10, time.Minute)
	defer c.Stop()

	c.Set("short", "x", time.Second)
	c.Set("default", "y", 0)

	*now = now.Add(2 * time.Second)
	_, ok := c.Get("short")
	assert.False(t, ok, "过期条目不应返回")
	_, ok = c.Get("default")
	assert.True(t, ok)

	*now = now.Add(time.Minute)
	c.removeExpired()
	assert.Equal(t, 0, c.Len())
}

func TestLocalCache_MaxSize(t *testing.T) {
	c, _ := newTestCache(2, time.Minute)
	defer c.Stop()

	c.Set("first", 1, time.Second)
	c.Set("second", 2, time.Hour)
	c.Set("third", 3, time.Hour)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("first")
	assert.False(t, ok, "最早过期的条目应被淘汰")
	_, ok = c.Get("third")
	assert.True(t, ok)

	// 覆盖已有键不触发淘汰
	c.Set("third", 33, time.Hour)
	assert.Equal(t, 2, c.Len())
}

func TestLocalCache_StopIsIdempotent(t *testing.T) {
	c := NewLocalCache(1, time.Minute)
	c.Stop()
	c.Stop()
	c.Clear()
	assert.Equal(t, 0, c.Len())
}
