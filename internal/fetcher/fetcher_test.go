package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dealmungchi/snipedeal/logger"
	apperrors "github.com/dealmungchi/snipedeal/pkg/errors"
	"github.com/dealmungchi/snipedeal/services/cache"
	"github.com/dealmungchi/snipedeal/services/proxy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		Timeout:     2 * time.Second,
		BlockTime:   time.Minute,
	}
}

func TestFetchSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		assert.Equal(t, "ps5", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body>annunci</body></html>"))
	}))
	defer server.Close()

	var snap []byte
	f := New(testConfig(), WithLogger(logger.Nop()), WithSnapshot(func(url string, body []byte) {
		snap = body
	}))

	resp, err := f.Fetch(context.Background(), server.URL+"/?q=ps5&o=1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(resp.Body), "annunci")
	assert.Equal(t, resp.Body, snap)
}

func TestFetchRetriesTransientStatus(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	f := New(testConfig(), WithLogger(logger.Nop()))
	resp, err := f.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
}

func TestFetchNonRetryableStatusSurfacesImmediately(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := New(testConfig(), WithLogger(logger.Nop()))
	_, err := f.Fetch(context.Background(), server.URL)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
	assert.Equal(t, 1, fe.Attempts)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestFetchExhaustsRetries(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	f := New(testConfig(), WithLogger(logger.Nop()))
	_, err := f.Fetch(context.Background(), server.URL)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "retries exhausted", fe.Reason)
	assert.Equal(t, http.StatusBadGateway, fe.StatusCode)
	assert.Equal(t, 3, fe.Attempts)
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNetwork))
}

func TestFetchRateLimitBlocksHost(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := cache.NewMemoryCache()
	f := New(testConfig(), WithLogger(logger.Nop()), WithCache(c))

	_, err := f.Fetch(context.Background(), server.URL+"/?o=1")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeRateLimit))
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))

	_, err = f.Fetch(context.Background(), server.URL+"/?o=2")
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "rate limited", fe.Reason)
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits), "blocked host must not be contacted")
}

func TestFetchConnectionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	f := New(testConfig(), WithLogger(logger.Nop()))
	_, err := f.Fetch(context.Background(), addr)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 3, fe.Attempts)
	assert.Equal(t, 0, fe.StatusCode)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNetwork))
}

func TestFetchInvalidURLIsNotRetried(t *testing.T) {
	f := New(testConfig(), WithLogger(logger.Nop()))
	_, err := f.Fetch(context.Background(), "http://[::1/search?q=ps5")

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 1, fe.Attempts)
	assert.Equal(t, "invalid request", fe.Reason)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
	assert.False(t, apperrors.IsType(err, apperrors.ErrorTypeNetwork))
}

func TestFetchCancelledDuringDelay(t *testing.T) {
	cfg := testConfig()
	cfg.MinDelay = time.Hour
	cfg.MaxDelay = time.Hour
	f := New(cfg, WithLogger(logger.Nop()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Fetch(ctx, "http://127.0.0.1:1/")
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "cancelled", fe.Reason)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetchThroughProxy(t *testing.T) {
	var proxied int32
	proxyServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&proxied, 1)
		assert.Equal(t, "listings.example", r.URL.Host)
		w.Write([]byte("via proxy"))
	}))
	defer proxyServer.Close()

	pm, err := proxy.NewManager([]string{proxyServer.URL}, time.Minute)
	require.NoError(t, err)

	f := New(testConfig(), WithLogger(logger.Nop()), WithProxy(pm))
	resp, err := f.Fetch(context.Background(), "http://listings.example/search?q=ps5")
	require.NoError(t, err)
	assert.Equal(t, "via proxy", string(resp.Body))
	assert.EqualValues(t, 1, atomic.LoadInt32(&proxied))
}

func TestFetchMarksBrokenProxy(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	pm, err := proxy.NewManager([]string{deadURL}, time.Minute)
	require.NoError(t, err)

	f := New(testConfig(), WithLogger(logger.Nop()), WithProxy(pm))
	_, err = f.Fetch(context.Background(), "http://listings.example/")
	require.Error(t, err)

	stats := pm.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, 3, stats[0].Failures)
	assert.False(t, stats[0].Working)
}

func TestJitterWithinBounds(t *testing.T) {
	cfg := testConfig()
	cfg.MinDelay = time.Second
	cfg.MaxDelay = 5 * time.Second
	f := New(cfg, WithLogger(logger.Nop()))

	for i := 0; i < 100; i++ {
		d := f.jitter()
		assert.True(t, d >= time.Second && d < 5*time.Second, "jitter %v out of range", d)
	}
}
