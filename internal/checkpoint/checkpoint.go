package checkpoint

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/highlight-run/passwordreplacer/internal/config"
)

const (
	keyPrefix  = "passwordreplacer:checkpoint"
	defaultTTL = 72 * time.Hour
)

// Store remembers the last fully dispatched continuation token per
// bucket and prefix.
type Store interface {
	Load(ctx context.Context, bucket, prefix string) (string, bool, error)
	Save(ctx context.Context, bucket, prefix, token string) error
	Clear(ctx context.Context, bucket, prefix string) error
}

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

type noopStore struct{}

// New returns a Redis-backed Store, or a no-op one when checkpoints are
// disabled.
func New(cfg config.CheckpointConfig) (Store, error) {
	if !cfg.Enabled {
		return NewNoop(), nil
	}

	opts, err := buildRedisOptions(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedis(client, time.Duration(cfg.TTLHours)*time.Hour), nil
}

// NewRedis wraps an existing client. A non-positive ttl uses the default.
func NewRedis(client *redis.Client, ttl time.Duration) Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisStore{client: client, ttl: ttl}
}

func NewNoop() Store {
	return &noopStore{}
}

func (s *redisStore) Load(ctx context.Context, bucket, prefix string) (string, bool, error) {
	token, err := s.client.Get(ctx, buildKey(bucket, prefix)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get failed: %w", err)
	}
	return token, true, nil
}

func (s *redisStore) Save(ctx context.Context, bucket, prefix, token string) error {
	if err := s.client.Set(ctx, buildKey(bucket, prefix), token, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *redisStore) Clear(ctx context.Context, bucket, prefix string) error {
	if err := s.client.Del(ctx, buildKey(bucket, prefix)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (noopStore) Load(context.Context, string, string) (string, bool, error) {
	return "", false, nil
}

func (noopStore) Save(context.Context, string, string, string) error {
	return nil
}

func (noopStore) Clear(context.Context, string, string) error {
	return nil
}

func buildKey(bucket, prefix string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, bucket, prefix)
}

func buildRedisOptions(cfg config.CheckpointConfig) (*redis.Options, error) {
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		return opt, nil
	}

	host := cfg.RedisHost
	if host == "" {
		host = "127.0.0.1"
	}

	port := cfg.RedisPort
	if port == "" {
		port = "6379"
	}

	return &redis.Options{
		Addr:     net.JoinHostPort(host, port),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, nil
}
