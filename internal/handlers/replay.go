package handlers

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/savagegamesllc-ui/chat-factions-sub001/pkg/logging"
)

// replayTTL bounds how long a message id is remembered. The provider
// retries failed deliveries within minutes, so ten covers every duplicate
// we would realistically see.
const replayTTL = 10 * time.Minute

// ReplayCache remembers webhook message ids to suppress duplicate
// deliveries and replay attempts.
type ReplayCache interface {
	// Seen marks the message id and reports whether it was already marked.
	Seen(ctx context.Context, messageID string) bool
}

// RedisReplayCache backs the replay check with Redis so all workers of a
// deployment share one memory.
type RedisReplayCache struct {
	client *redis.Client
	logger logging.Logger
}

// NewRedisReplayCache creates a replay cache over an existing Redis client
func NewRedisReplayCache(client *redis.Client, logger logging.Logger) *RedisReplayCache {
	return &RedisReplayCache{client: client, logger: logger}
}

// Seen uses SET NX so the check-and-mark is a single atomic round trip.
// A Redis failure reports "not seen": dropping real events is worse than
// processing the odd duplicate, and duplicates only nudge a meter twice.
func (c *RedisReplayCache) Seen(ctx context.Context, messageID string) bool {
	ok, err := c.client.SetNX(ctx, "eventsub:msg:"+messageID, 1, replayTTL).Result()
	if err != nil {
		c.logger.WithError(err).Warn("Replay cache unavailable; accepting message")
		return false
	}
	return !ok
}

// NoopReplayCache accepts everything; used when Redis is not configured
type NoopReplayCache struct{}

// Seen always reports unseen
func (NoopReplayCache) Seen(context.Context, string) bool { return false }
