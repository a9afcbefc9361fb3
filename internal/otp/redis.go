package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/frahmantamala/service-marketplace/internal"
	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore shares codes between API instances. Each subject uses two keys,
// the code hash and its attempt counter, both expiring with the code.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(ctx context.Context, config RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", config.Addr, err)
	}

	return NewRedisStoreFromClient(client), nil
}

func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "otp:"}
}

func (s *RedisStore) codeKey(key string) string     { return s.prefix + key + ":code" }
func (s *RedisStore) attemptsKey(key string) string { return s.prefix + key + ":attempts" }

func (s *RedisStore) Put(ctx context.Context, key, hash string, ttl time.Duration) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.codeKey(key), hash, ttl)
	pipe.Del(ctx, s.attemptsKey(key))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store code: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	hash, err := s.client.Get(ctx, s.codeKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", internal.ErrOTPExpired
	}
	if err != nil {
		return "", fmt.Errorf("load code: %w", err)
	}
	return hash, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.codeKey(key), s.attemptsKey(key)).Err(); err != nil {
		return fmt.Errorf("delete code: %w", err)
	}
	return nil
}

func (s *RedisStore) IncrAttempts(ctx context.Context, key string) (int, error) {
	ttl, err := s.client.PTTL(ctx, s.codeKey(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("read code ttl: %w", err)
	}
	// -2 means missing, -1 means no expiry; neither is a live code.
	if ttl <= 0 {
		return 0, internal.ErrOTPExpired
	}

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, s.attemptsKey(key))
	pipe.PExpire(ctx, s.attemptsKey(key), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("count attempt: %w", err)
	}
	return int(incr.Val()), nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
