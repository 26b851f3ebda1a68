package cache

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zizouhuweidi/ilm/internal/domain"
	"github.com/zizouhuweidi/ilm/internal/logger"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestDecodeEvent(t *testing.T) {
	event, err := decodeEvent("events:leaderboard", `{"type":"leaderboard_updated","data":{"reason":"submit"}}`)
	require.NoError(t, err)
	assert.Equal(t, domain.TopicLeaderboard, event.Topic)
	assert.Equal(t, domain.EventLeaderboardUpdated, event.Type)
	assert.Equal(t, map[string]any{"reason": "submit"}, event.Data)

	event, err = decodeEvent("events:other", `{"topic":"leaderboard","type":"x"}`)
	require.NoError(t, err)
	assert.Equal(t, "leaderboard", event.Topic)

	_, err = decodeEvent("events:leaderboard", "{")
	assert.Error(t, err)
}

func TestLeaderboardCache(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	c := NewLeaderboardCache(client, time.Minute)
	require.NoError(t, c.Invalidate(ctx))

	_, ok, err := c.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	entries := []domain.LeaderboardEntry{
		{Rank: 1, StudentID: "s1", Name: "Amina", TotalScore: 40, CurrentLevel: "level_1", LastActivity: &at},
		{Rank: 2, StudentID: "s2", Name: "Bilal", TotalScore: 12, CurrentLevel: "level_1"},
	}
	require.NoError(t, c.Set(ctx, entries))

	got, ok, err := c.Get(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 2)
	assert.Equal(t, "s1", got[0].StudentID)
	assert.True(t, got[0].LastActivity.Equal(at))
	assert.Nil(t, got[1].LastActivity)

	ttl, err := client.TTL(ctx, leaderboardKey).Result()
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Minute)

	require.NoError(t, c.Set(ctx, nil))
	got, ok, err = c.Get(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "an empty ranking is still a hit")
	assert.Empty(t, got)

	require.NoError(t, c.Invalidate(ctx))
	_, ok, err = c.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRateLimiter(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	l := NewRateLimiter(client, 3, time.Minute)
	key := "redeem:" + uuid.NewString()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, "call %d", i+1)
	}
	ok, err := l.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Allow(ctx, "redeem:"+uuid.NewString())
	require.NoError(t, err)
	assert.True(t, ok, "keys are counted separately")

	ttl, err := client.TTL(ctx, rateLimitPrefix+key).Result()
	require.NoError(t, err)
	assert.True(t, ttl > 0)

	unlimited := NewRateLimiter(client, 0, 0)
	for i := 0; i < 5; i++ {
		ok, err := unlimited.Allow(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestBusRelay(t *testing.T) {
	client := testClient(t)
	bus := NewBus(client, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []domain.Event
	done := make(chan error, 1)
	go func() {
		done <- bus.Relay(ctx, func(_ context.Context, e domain.Event) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, e)
			return nil
		})
	}()

	// keep publishing until the subscription is live
	assert.Eventually(t, func() bool {
		require.NoError(t, bus.Publish(context.Background(), domain.Event{
			Topic: domain.TopicLeaderboard, Type: domain.EventLeaderboardUpdated,
		}))
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 5*time.Second, 50*time.Millisecond)

	mu.Lock()
	assert.Equal(t, domain.TopicLeaderboard, got[0].Topic)
	assert.Equal(t, domain.EventLeaderboardUpdated, got[0].Type)
	mu.Unlock()

	assert.Error(t, bus.Publish(context.Background(), domain.Event{Type: "no topic"}))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop")
	}
}
