package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	assert.Nil(t, New(0, 0, 0, 0))

	_, ok := New(5, 2, 0, 0).(*TokenBucketRateLimiter)
	assert.True(t, ok)

	adaptive, ok := New(0, 0, time.Second, 0).(*AdaptiveRateLimiter)
	require.True(t, ok)
	min, max := adaptive.Delays()
	assert.Equal(t, time.Second, min)
	assert.Equal(t, time.Second, max, "max is raised to min")
}

func TestSimpleRateLimiterHonorsContext(t *testing.T) {
	limiter := NewSimpleRateLimiter(time.Hour, time.Hour)
	require.NoError(t, limiter.Wait(context.Background()), "first call does not wait")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := limiter.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAdaptiveRateLimiterBacksOff(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(time.Second, 2*time.Second)

	for i := 0; i < 3; i++ {
		limiter.RecordError()
	}

	min, max := limiter.Delays()
	assert.Equal(t, 1500*time.Millisecond, min)
	assert.Equal(t, 3*time.Second, max)

	for i := 0; i < 6; i++ {
		limiter.RecordSuccess()
	}

	min, _ = limiter.Delays()
	assert.Equal(t, 1350*time.Millisecond, min)

	for j := 0; j < 10; j++ {
		for i := 0; i < 6; i++ {
			limiter.RecordSuccess()
		}
	}
	min, _ = limiter.Delays()
	assert.Equal(t, time.Second, min, "never drops below the configured minimum")
}

func TestTokenBucketRateLimiter(t *testing.T) {
	limiter := NewTokenBucketRateLimiter(1, 2)

	ctx := context.Background()
	require.NoError(t, limiter.Wait(ctx))
	require.NoError(t, limiter.Wait(ctx))

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.Error(t, limiter.Wait(short), "bucket is empty")

	limiter.SetDelay(0, 0)
	assert.NoError(t, limiter.Wait(ctx))
}
