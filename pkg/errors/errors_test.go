package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	err := NewPersistence("storage", "save listings", stderrors.New("conn reset"))
	assert.Equal(t, "[persistence] storage: save listings - conn reset", err.Error())

	err = NewRateLimit("fetcher", 5*time.Minute)
	assert.Equal(t, "[rate_limit] fetcher: rate limited for 5m0s", err.Error())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, NewNetwork("fetcher", "timeout", nil).IsRetryable())
	assert.True(t, NewPersistence("storage", "down", nil).IsRetryable())
	assert.True(t, NewNotification("notifier", "403", nil).IsRetryable())
	assert.False(t, NewRateLimit("fetcher", time.Second).IsRetryable())
	assert.False(t, NewConfiguration("missing token", nil).IsRetryable())
	assert.False(t, NewValidation("config", "bad", nil).IsRetryable())

	wrapped := fmt.Errorf("cycle: %w", NewConfiguration("missing chat id", nil))
	assert.False(t, IsRetryable(wrapped))
	assert.True(t, IsRetryable(stderrors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestIsType(t *testing.T) {
	base := stderrors.New("boom")
	err := fmt.Errorf("persist: %w", NewPersistence("storage", "insert", base))

	assert.True(t, IsType(err, ErrorTypePersistence))
	assert.False(t, IsType(err, ErrorTypeNetwork))
	assert.True(t, stderrors.Is(err, base))
	assert.False(t, IsType(base, ErrorTypePersistence))
}
