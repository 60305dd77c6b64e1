package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, limit int, window time.Duration) (*StartLimiter, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	now := time.Unix(1_700_000_000, 0)
	l := NewStartLimiter(rdb, "test:starts", limit, window)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestStartLimiterAdmitsUpToLimit(t *testing.T) {
	l, _ := newTestLimiter(t, 5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, wait, err := l.Allow(ctx)
		require.NoError(t, err)
		assert.True(t, ok, "start %d", i+1)
		assert.Zero(t, wait)
	}

	ok, wait, err := l.Allow(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Minute, wait)
}

func TestStartLimiterWindowSlides(t *testing.T) {
	l, now := newTestLimiter(t, 2, time.Minute)
	ctx := context.Background()

	ok, _, err := l.Allow(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	*now = now.Add(20 * time.Second)
	ok, _, err = l.Allow(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	*now = now.Add(10 * time.Second)
	ok, wait, err := l.Allow(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 30*time.Second, wait)

	// The first start has left the window.
	*now = now.Add(31 * time.Second)
	ok, _, err = l.Allow(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStartLimiterRejectedStartsAreNotRecorded(t *testing.T) {
	l, now := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	ok, _, _ := l.Allow(ctx)
	require.True(t, ok)
	for i := 0; i < 3; i++ {
		ok, _, err := l.Allow(ctx)
		require.NoError(t, err)
		require.False(t, ok)
	}

	*now = now.Add(time.Minute + time.Millisecond)
	ok, _, err := l.Allow(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateLimitError(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &RateLimitError{RetryIn: 3 * time.Second})
	assert.True(t, IsRateLimitError(err))
	assert.False(t, IsRateLimitError(fmt.Errorf("boom")))
	assert.Contains(t, (&RateLimitError{RetryIn: time.Second}).Error(), "1s")
}
