package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/zizouhuweidi/ilm/internal/domain"
	"github.com/zizouhuweidi/ilm/internal/logger"
)

const (
	// Redis key prefixes
	leaderboardKey  = "leaderboard:top"
	rateLimitPrefix = "ratelimit:"
	eventPrefix     = "events:"

	// DefaultLeaderboardTTL bounds how stale a cached ranking may get
	DefaultLeaderboardTTL = 30 * time.Second

	// DefaultRateWindow is the fixed window used by the rate limiter
	DefaultRateWindow = time.Minute
)

// LeaderboardCache stores the computed top list in Redis
type LeaderboardCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewLeaderboardCache creates a leaderboard cache; a non-positive ttl falls back to DefaultLeaderboardTTL
func NewLeaderboardCache(client *redis.Client, ttl time.Duration) *LeaderboardCache {
	if ttl <= 0 {
		ttl = DefaultLeaderboardTTL
	}
	return &LeaderboardCache{redis: client, ttl: ttl}
}

// Get returns the cached ranking; ok is false on a miss
func (c *LeaderboardCache) Get(ctx context.Context) ([]domain.LeaderboardEntry, bool, error) {
	data, err := c.redis.Get(ctx, leaderboardKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "get leaderboard")
	}

	var entries []domain.LeaderboardEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, false, errors.Wrap(err, "unmarshal leaderboard")
	}
	return entries, true, nil
}

// Set stores the ranking for the configured ttl
func (c *LeaderboardCache) Set(ctx context.Context, entries []domain.LeaderboardEntry) error {
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return errors.Wrap(err, "marshal leaderboard")
	}
	return errors.Wrap(c.redis.Set(ctx, leaderboardKey, data, c.ttl).Err(), "set leaderboard")
}

// Invalidate drops the cached ranking
func (c *LeaderboardCache) Invalidate(ctx context.Context) error {
	return errors.Wrap(c.redis.Del(ctx, leaderboardKey).Err(), "delete leaderboard")
}

// RateLimiter is a fixed window counter keyed by caller supplied keys
type RateLimiter struct {
	redis  *redis.Client
	limit  int
	window time.Duration
}

// NewRateLimiter allows limit calls per window for every key
func NewRateLimiter(client *redis.Client, limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &RateLimiter{redis: client, limit: limit, window: window}
}

// Allow counts one call against key and reports whether it is within the limit.
// A non-positive limit disables limiting.
func (l *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}
	k := rateLimitPrefix + key

	count, err := l.redis.Incr(ctx, k).Result()
	if err != nil {
		return false, errors.Wrap(err, "increment rate limit")
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, k, l.window).Err(); err != nil {
			return false, errors.Wrap(err, "expire rate limit")
		}
	}
	return count <= int64(l.limit), nil
}

// Bus fans domain events out to every instance through Redis pub/sub
type Bus struct {
	redis *redis.Client
	log   *logger.Logger
}

// NewBus creates an event bus on the given client
func NewBus(client *redis.Client, log *logger.Logger) *Bus {
	return &Bus{redis: client, log: log.With("component", "EventBus")}
}

func channelFor(topic string) string { return eventPrefix + topic }

func topicOf(channel string) string { return strings.TrimPrefix(channel, eventPrefix) }

// Publish sends the event on the topic channel
func (b *Bus) Publish(ctx context.Context, event domain.Event) error {
	if event.Topic == "" {
		return errors.New("event topic is required")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	return errors.Wrap(b.redis.Publish(ctx, channelFor(event.Topic), data).Err(), "publish event")
}

// Relay subscribes to every event channel and hands received events to deliver until ctx is done
func (b *Bus) Relay(ctx context.Context, deliver func(context.Context, domain.Event) error) error {
	ps := b.redis.PSubscribe(ctx, eventPrefix+"*")
	defer ps.Close()

	// wait for the subscription confirmation so publishes after Relay starts are not lost
	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.Wrap(err, "subscribe events")
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			event, err := decodeEvent(msg.Channel, msg.Payload)
			if err != nil {
				b.log.Warn("dropping malformed event", "channel", msg.Channel, "error", err)
				continue
			}
			if err := deliver(ctx, event); err != nil {
				b.log.Warn("event delivery failed", "topic", event.Topic, "error", err)
			}
		}
	}
}

func decodeEvent(channel, payload string) (domain.Event, error) {
	var event domain.Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return event, errors.Wrap(err, "unmarshal event")
	}
	if event.Topic == "" {
		event.Topic = topicOf(channel)
	}
	return event, nil
}
