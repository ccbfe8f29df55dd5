package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mentorline/pkg/interfaces"
)

// RedisOptions configures RedisStore
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration // 0 keeps keys forever
}

// RedisStore keeps last-active timestamps in Redis
// ARCHITECTURAL DISCOVERY: Presence is the only hot write on every connect and
// disconnect, so it can move off the SQLite writer without touching chat data
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ interfaces.LastActiveStore = (*RedisStore)(nil)

// NewRedisStore connects and pings the server
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return NewRedisStoreWithClient(client, opts.KeyPrefix, opts.TTL), nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(identity string) string {
	return s.prefix + identity
}

// SetLastActive stores at as RFC3339Nano
func (s *RedisStore) SetLastActive(ctx context.Context, identity string, at time.Time) error {
	if err := s.client.Set(ctx, s.key(identity), at.UTC().Format(time.RFC3339Nano), s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set last active: %w", err)
	}
	return nil
}

// GetLastActive returns nil when the identity was never seen or its key expired
func (s *RedisStore) GetLastActive(ctx context.Context, identity string) (*time.Time, error) {
	raw, err := s.client.Get(ctx, s.key(identity)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get last active: %w", err)
	}
	return parseLastActive(raw)
}

// HealthCheck reports whether Redis is reachable
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client's connections
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func parseLastActive(raw string) (*time.Time, error) {
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("malformed last active %q: %w", raw, err)
	}
	at = at.UTC()
	return &at, nil
}
