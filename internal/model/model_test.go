package model

import (
	"testing"

	"github.com/dealmungchi/snipedeal/internal/price"
	"github.com/stretchr/testify/assert"
)

func ptr(v float64) *float64 { return &v }

func TestWithinBound(t *testing.T) {
	bounded := Campaign{MinPrice: ptr(50), MaxPrice: ptr(300)}

	assert.True(t, bounded.WithinBound(price.Of(50)))
	assert.True(t, bounded.WithinBound(price.Of(300)))
	assert.False(t, bounded.WithinBound(price.Of(310)))
	assert.False(t, bounded.WithinBound(price.Of(49.99)))
	assert.False(t, bounded.WithinBound(price.Unavailable))
	assert.False(t, bounded.WithinBound(price.Of(0)))

	maxOnly := Campaign{MaxPrice: ptr(600)}
	assert.True(t, maxOnly.WithinBound(price.Of(1)))
	assert.False(t, maxOnly.WithinBound(price.Of(0)))

	unbounded := Campaign{}
	assert.False(t, unbounded.HasPriceBound())
	assert.True(t, unbounded.WithinBound(price.Unavailable))
	assert.True(t, unbounded.WithinBound(price.Of(0)))
}
