package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBucket(t *testing.T, capacity int, refill float64) *TokenBucket {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewTokenBucket(client, "test:ratelimit:forecast", capacity, refill, time.Minute)
}

func TestTokenBucket_Capacity(t *testing.T) {
	ctx := context.Background()
	bucket := newBucket(t, 2, 0.001)

	allowed, _, err := bucket.Allow(ctx)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, _, err = bucket.Allow(ctx)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, _, err = bucket.Allow(ctx)
	require.NoError(t, err)
	assert.False(t, allowed, "third token should be rejected")
}

func TestTokenBucket_WaitHonorsContext(t *testing.T) {
	bucket := newBucket(t, 1, 0.001)
	require.NoError(t, bucket.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := bucket.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTokenBucket_WaitRefills(t *testing.T) {
	bucket := newBucket(t, 1, 50)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, bucket.Wait(ctx))
	start := time.Now()
	require.NoError(t, bucket.Wait(ctx))
	assert.Less(t, time.Since(start), time.Second)
}
