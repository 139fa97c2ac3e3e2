package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/jrsteele09/go-auth-gateway/internal/errors"
	backend "github.com/redis/go-redis/v9"
)

var _ Repo = (*RedisRepo)(nil)

// RedisRepo stores session values as plain redis strings under a key prefix, which lets
// several clients on different hosts share one login.
type RedisRepo struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type RedisOption func(*RedisRepo)

// WithKeyPrefix sets the prefix prepended to every session key.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *RedisRepo) {
		r.prefix = prefix
	}
}

// WithTTL sets an expiry on every write. Zero keeps values until deleted.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *RedisRepo) {
		r.ttl = ttl
	}
}

func NewRedisRepo(address, password string, db int, opts ...RedisOption) *RedisRepo {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewRedisRepoFromClient(client, opts...)
}

func NewRedisRepoFromClient(client *backend.Client, opts ...RedisOption) *RedisRepo {
	r := &RedisRepo{
		client: client,
		prefix: "crashapi:session:",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisRepo) key(k string) string {
	return r.prefix + k
}

func (r *RedisRepo) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if err == backend.Nil {
		return "", errors.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s from redis: %w", key, err)
	}
	return v, nil
}

func (r *RedisRepo) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.key(key), value, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write %s to redis: %w", key, err)
	}
	return nil
}

func (r *RedisRepo) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete %s from redis: %w", key, err)
	}
	return nil
}

func (r *RedisRepo) Close() error {
	return r.client.Close()
}
