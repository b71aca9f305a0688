package github

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repoharvest/logger"
)

func init() {
	// Initialize logger for tests
	_ = logger.Initialize("debug")
}

func TestNewPool(t *testing.T) {
	t.Run("with tokens", func(t *testing.T) {
		pool := NewPool([]string{"tok-a", "tok-b"})
		assert.Equal(t, 2, pool.Size())
		for _, c := range pool.creds {
			assert.Equal(t, DefaultQuota, c.Remaining)
			assert.False(t, c.Anonymous())
		}
	})

	t.Run("with no tokens degrades to anonymous", func(t *testing.T) {
		pool := NewPool(nil)
		require.Equal(t, 1, pool.Size())
		assert.True(t, pool.creds[0].Anonymous())
		assert.Equal(t, AnonymousQuota, pool.creds[0].Remaining)
	})
}

func TestPoolSelect(t *testing.T) {
	t.Run("returns highest remaining among non-exhausted", func(t *testing.T) {
		pool := NewPool([]string{"tok-a", "tok-b", "tok-c"})
		pool.Update("tok-a", 10, time.Now().Add(time.Hour))
		pool.Update("tok-b", 0, time.Now().Add(5*time.Second)) // exhausted
		pool.Update("tok-c", 50, time.Now().Add(time.Hour))

		cred, err := pool.Select(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok-c", cred.Token)
		assert.Equal(t, 50, cred.Remaining)
	})

	t.Run("ignores exhausted credential whose window has passed", func(t *testing.T) {
		pool := NewPool([]string{"tok-a", "tok-b"})
		pool.Update("tok-a", 0, time.Now().Add(-time.Minute)) // reset already due
		pool.Update("tok-b", 0, time.Now().Add(time.Hour))

		cred, err := pool.Select(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok-a", cred.Token)
	})

	t.Run("blocks until soonest reset when all exhausted", func(t *testing.T) {
		pool := NewPool([]string{"tok-a", "tok-b"})
		soonest := time.Now().Add(10 * time.Second)
		pool.Update("tok-a", 0, time.Now().Add(time.Hour))
		pool.Update("tok-b", 0, soonest)

		var slept time.Duration
		pool.sleep = func(ctx context.Context, d time.Duration) error {
			slept = d
			return nil
		}

		cred, err := pool.Select(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok-b", cred.Token)
		// wait covers at least the time until reset plus the safety margin
		assert.Greater(t, slept, 9*time.Second)
		// quota restored optimistically to the default ceiling
		assert.Equal(t, DefaultQuota, cred.Remaining)
	})

	t.Run("wait is cancellable", func(t *testing.T) {
		pool := NewPool([]string{"tok-a"})
		pool.Update("tok-a", 0, time.Now().Add(time.Hour))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := pool.Select(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestPoolUpdate(t *testing.T) {
	pool := NewPool([]string{"tok-a"})
	reset := time.Now().Add(30 * time.Minute)

	pool.Update("tok-a", 42, reset)

	assert.Equal(t, 42, pool.creds[0].Remaining)
	assert.Equal(t, reset, pool.creds[0].ResetAt)

	// unknown tokens are ignored
	pool.Update("tok-x", 7, reset)
	assert.Equal(t, 42, pool.creds[0].Remaining)
}

func TestPoolMarkExhausted(t *testing.T) {
	pool := NewPool([]string{"tok-a", "tok-b"})
	pool.Update("tok-a", 500, time.Now().Add(time.Hour))

	pool.MarkExhausted("tok-a")

	assert.Equal(t, 0, pool.creds[0].Remaining)
	now := time.Now()
	assert.True(t, pool.creds[0].ResetAt.After(now.Add(-time.Second)))

	cred, err := pool.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-b", cred.Token)
}
