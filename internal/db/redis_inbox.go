package db

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const inboxKeyPrefix = "music:inbox:"

type redisCmdable interface {
	Ping(context.Context) *redis.StatusCmd
	SetNX(context.Context, string, any, time.Duration) *redis.BoolCmd
	Del(context.Context, ...string) *redis.IntCmd
}

// RedisInboxRepository keeps the dedup ledger in Redis. Keys never expire.
type RedisInboxRepository struct {
	client redisCmdable
}

func NewRedisInboxRepository(client redisCmdable) *RedisInboxRepository {
	return &RedisInboxRepository{client: client}
}

// NewRedisClient parses a redis:// URL and verifies connectivity
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func inboxKey(id string) string {
	return inboxKeyPrefix + id
}

// InsertIfAbsent claims the id with SETNX. The stored value records routing key and claim time.
func (r *RedisInboxRepository) InsertIfAbsent(ctx context.Context, id, routingKey string, processedAt time.Time) (bool, error) {
	value := routingKey + "|" + processedAt.UTC().Format(time.RFC3339Nano)

	set, err := r.client.SetNX(ctx, inboxKey(id), value, 0).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim inbox event %s: %w", id, err)
	}
	return set, nil
}

func (r *RedisInboxRepository) Release(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, inboxKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to release inbox event %s: %w", id, err)
	}
	return nil
}
