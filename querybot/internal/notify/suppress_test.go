package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestSuppressorDropsDuplicatesWithinWindow(t *testing.T) {
	mr, client := setupTestRedis(t)
	next := &stubNotifier{}
	s := NewSuppressor(client, time.Minute, next, nil)
	ctx := context.Background()

	require.True(t, s.IsEnabled())
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Notify(ctx, sample()))
	}
	assert.Equal(t, 1, next.calls)

	state, err := s.State(ctx, "orders.create", 500)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, 2, state.Suppressed)

	other := sample()
	other.Status = 502
	require.NoError(t, s.Notify(ctx, other))
	assert.Equal(t, 2, next.calls)

	mr.FastForward(2 * time.Minute)
	require.NoError(t, s.Notify(ctx, sample()))
	assert.Equal(t, 3, next.calls)
}

func TestSuppressorWindowDoesNotSlide(t *testing.T) {
	mr, client := setupTestRedis(t)
	next := &stubNotifier{}
	s := NewSuppressor(client, time.Minute, next, nil)
	ctx := context.Background()

	require.NoError(t, s.Notify(ctx, sample()))
	mr.FastForward(40 * time.Second)
	require.NoError(t, s.Notify(ctx, sample()))
	mr.FastForward(30 * time.Second)
	require.NoError(t, s.Notify(ctx, sample()))

	assert.Equal(t, 2, next.calls)
}

func TestSuppressorDisabled(t *testing.T) {
	next := &stubNotifier{}
	s := NewSuppressor(nil, time.Minute, next, nil)

	assert.False(t, s.IsEnabled())
	for i := 0; i < 2; i++ {
		require.NoError(t, s.Notify(context.Background(), sample()))
	}
	assert.Equal(t, 2, next.calls)

	state, err := s.State(context.Background(), "orders.create", 500)
	assert.NoError(t, err)
	assert.Nil(t, state)
}

func TestSuppressorRedisDownStillDelivers(t *testing.T) {
	mr, client := setupTestRedis(t)
	next := &stubNotifier{}
	s := NewSuppressor(client, time.Minute, next, nil)
	mr.Close()

	require.NoError(t, s.Notify(context.Background(), sample()))
	assert.Equal(t, 1, next.calls)
}

func TestSuppressionKeyIsStable(t *testing.T) {
	assert.Equal(t, suppressionKey("a", 500), suppressionKey("a", 500))
	assert.NotEqual(t, suppressionKey("a", 500), suppressionKey("a", 502))
	assert.Contains(t, suppressionKey("a", 500), "querybot:suppress:")
}

func TestSuppressorUnreadableStateStillDelivers(t *testing.T) {
	t.Run("corrupt value", func(t *testing.T) {
		mr, client := setupTestRedis(t)
		next := &stubNotifier{}
		s := NewSuppressor(client, time.Minute, next, nil)
		ctx := context.Background()

		key := suppressionKey("orders.create", 500)
		require.NoError(t, mr.Set(key, "{not json"))
		mr.SetTTL(key, time.Minute)

		require.NoError(t, s.Notify(ctx, sample()))
		assert.Equal(t, 1, next.calls)

		state, err := s.State(ctx, "orders.create", 500)
		require.NoError(t, err)
		require.NotNil(t, state)
		assert.Zero(t, state.Suppressed)
		assert.Positive(t, mr.TTL(key))

		require.NoError(t, s.Notify(ctx, sample()))
		assert.Equal(t, 1, next.calls)
	})

	t.Run("wrong type", func(t *testing.T) {
		mr, client := setupTestRedis(t)
		next := &stubNotifier{}
		s := NewSuppressor(client, time.Minute, next, nil)

		_, err := mr.Lpush(suppressionKey("orders.create", 500), "x")
		require.NoError(t, err)

		require.NoError(t, s.Notify(context.Background(), sample()))
		assert.Equal(t, 1, next.calls)
	})
}
