package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// This test requires a running memcached instance
// If memcached is not available, the test will be skipped
func TestMemcacheService(t *testing.T) {
	mc := NewMemcacheService("localhost:11211", "snipedeal_test:")

	if err := mc.Ping(); err != nil {
		t.Skip("Memcached is not available, skipping test")
	}

	err := mc.Set("fetch_blocked:www.subito.it", []byte("300"), 2*time.Second)
	assert.NoError(t, err)

	value, err := mc.Get("fetch_blocked:www.subito.it")
	assert.NoError(t, err)
	assert.Equal(t, "300", string(value))

	assert.NoError(t, mc.Delete("fetch_blocked:www.subito.it"))
	assert.NoError(t, mc.Delete("fetch_blocked:www.subito.it"))

	_, err = mc.Get("fetch_blocked:www.subito.it")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemcacheKeySanitized(t *testing.T) {
	mc := NewMemcacheService("localhost:11211", "p:")

	assert.Equal(t, "p:a_b_c", mc.key("a b\nc"))
	assert.Len(t, mc.key(strings.Repeat("x", 400)), 250)
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	assert.NoError(t, c.Set("k", []byte("v"), time.Minute))
	v, err := c.Get("k")
	assert.NoError(t, err)
	assert.Equal(t, "v", string(v))

	now = now.Add(time.Minute)
	_, err = c.Get("k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	assert.NoError(t, c.Set("forever", []byte("1"), 0))
	now = now.Add(24 * time.Hour)
	_, err = c.Get("forever")
	assert.NoError(t, err)

	assert.NoError(t, c.Delete("forever"))
	_, err = c.Get("forever")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
