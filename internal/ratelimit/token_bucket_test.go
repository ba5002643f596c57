package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketCapacity(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer func() {
		if err := client.Close(); err != nil {
			t.Logf("error closing redis client: %v", err)
		}
	}()

	bucket := NewTokenBucket(client, 2, 1, time.Minute)
	key := OwnerKey(uuid.New())

	allowed, _, err := bucket.Allow(ctx, key)
	require.NoError(t, err)
	assert.True(t, allowed, "first token should be allowed")

	allowed, tokens, err := bucket.Allow(ctx, key)
	require.NoError(t, err)
	assert.True(t, allowed, "second token should be allowed")
	assert.InDelta(t, 0, tokens, 0.01)

	allowed, _, err = bucket.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, allowed, "third token should be rejected")

	// Other keys have their own bucket
	allowed, _, err = bucket.Allow(ctx, OwnerKey(uuid.New()))
	require.NoError(t, err)
	assert.True(t, allowed)

	// Note: Cannot test refill with miniredis.FastForward() because the Lua
	// script receives time from Go's time.Now(), not Redis's internal clock.
}

func TestLocalLimiterCapacity(t *testing.T) {
	ctx := context.Background()
	limiter := NewLocalLimiter(2, 0.001)
	key := OwnerKey(uuid.New())

	allowed, _, err := limiter.Allow(ctx, key)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, _, err = limiter.Allow(ctx, key)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, _, err = limiter.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, allowed, "burst exhausted")

	allowed, _, err = limiter.Allow(ctx, OwnerKey(uuid.New()))
	require.NoError(t, err)
	assert.True(t, allowed, "keys are limited independently")
}
