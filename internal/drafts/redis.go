package drafts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps drafts as JSON values that expire after TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an existing client. Keys are stored under prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "trialconsent:draft:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Connect creates a client for addr and checks it with PING.
func Connect(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("drafts.Connect: connected to redis", "addr", addr)
	return client, nil
}

func (r *RedisStore) Load(ctx context.Context, owner string) (Draft, bool, error) {
	key, err := ownerKey(owner)
	if err != nil {
		return Draft{}, false, err
	}
	v, err := r.client.Get(ctx, r.prefix+key).Result()
	if err == redis.Nil {
		return Draft{}, false, nil
	}
	if err != nil {
		return Draft{}, false, fmt.Errorf("load draft: %w", err)
	}

	var d Draft
	if err := json.Unmarshal([]byte(v), &d); err != nil {
		return Draft{}, false, fmt.Errorf("decode draft: %w", err)
	}
	return d, true, nil
}

func (r *RedisStore) Save(ctx context.Context, owner string, d Draft) error {
	key, err := ownerKey(owner)
	if err != nil {
		return err
	}
	b, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+key, b, TTL).Err(); err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, owner string) error {
	key, err := ownerKey(owner)
	if err != nil {
		return err
	}
	return r.client.Del(ctx, r.prefix+key).Err()
}
