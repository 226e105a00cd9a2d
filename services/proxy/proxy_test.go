package proxy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerRoundRobin(t *testing.T) {
	m, err := NewManager([]string{"http://a:8080", "socks5://b:1080", " ", "http://a:8080"}, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, "a:8080", m.Next().Host)
	assert.Equal(t, "b:1080", m.Next().Host)
	assert.Equal(t, "a:8080", m.Next().Host)
}

func TestManagerSkipsFailedUntilCooldown(t *testing.T) {
	m, err := NewManager([]string{"http://a:8080", "http://b:8080"}, time.Minute)
	require.NoError(t, err)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	a := m.Next()
	m.MarkFailed(a)

	assert.Equal(t, "b:8080", m.Next().Host)
	assert.Equal(t, "b:8080", m.Next().Host)

	stats := m.Stats()
	require.Len(t, stats, 2)
	assert.False(t, stats[0].Working)
	assert.Equal(t, 1, stats[0].Failures)

	now = now.Add(time.Minute)
	hosts := []string{m.Next().Host, m.Next().Host}
	assert.Contains(t, hosts, "a:8080")
}

func TestManagerAllCoolingFallsBackToOldest(t *testing.T) {
	m, err := NewManager([]string{"http://a:8080", "http://b:8080"}, time.Hour)
	require.NoError(t, err)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.MarkFailed(m.proxies[0].url)
	now = now.Add(time.Second)
	m.MarkFailed(m.proxies[1].url)

	assert.Equal(t, "a:8080", m.Next().Host)
}

func TestManagerEmptyAndInvalid(t *testing.T) {
	m, err := NewManager(nil, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, m.Next())
	m.MarkFailed(nil)

	_, err = NewManager([]string{"ftp://x:21"}, time.Minute)
	assert.Error(t, err)
	_, err = NewManager([]string{"not a url"}, time.Minute)
	assert.Error(t, err)
}
