// Package cache holds the Redis-backed webhook delivery dedupe.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect initializes a Redis client from URL or host:port input.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

const DefaultDedupeTTL = 24 * time.Hour

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// DeliveryDedupe short-circuits repeated webhook deliveries before they reach
// Postgres. The webhook_events unique key stays authoritative; a Redis miss or
// outage only costs an extra insert attempt.
type DeliveryDedupe struct {
	client redisClient
	ttl    time.Duration
}

func NewDeliveryDedupe(client *redis.Client, ttl time.Duration) *DeliveryDedupe {
	return newDeliveryDedupe(client, ttl)
}

func newDeliveryDedupe(client redisClient, ttl time.Duration) *DeliveryDedupe {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &DeliveryDedupe{client: client, ttl: ttl}
}

func dedupeKey(provider, eventID string) string {
	return "webhook:seen:" + provider + ":" + eventID
}

// Claim marks the delivery as in flight. first is false when another delivery
// of the same event already claimed it within the TTL.
func (d *DeliveryDedupe) Claim(ctx context.Context, provider, eventID string) (first bool, err error) {
	return d.client.SetNX(ctx, dedupeKey(provider, eventID), time.Now().UTC().Unix(), d.ttl).Result()
}

// Release drops a claim so a provider retry is not swallowed after a failed intake.
func (d *DeliveryDedupe) Release(ctx context.Context, provider, eventID string) error {
	return d.client.Del(ctx, dedupeKey(provider, eventID)).Err()
}
