package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const stateKeyPrefix = "cshub:oauth_state:"

var _ StateStore = (*RedisStateStore)(nil)

// RedisStateStore keeps CSRF state in redis so any instance can complete
// an installation another one started.
type RedisStateStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStateStore constructs a redis-backed state store.
func NewRedisStateStore(client redis.UniversalClient, ttl time.Duration) *RedisStateStore {
	return &RedisStateStore{client: client, ttl: ttl}
}

func (s *RedisStateStore) Create(ctx context.Context) (string, error) {
	token, err := generateStateToken()
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, stateKeyPrefix+token, time.Now().UTC().Format(time.RFC3339), s.ttl).Err(); err != nil {
		return "", fmt.Errorf("persist state: %w", err)
	}
	return token, nil
}

// Consume uses GETDEL so a state can be redeemed once across instances.
func (s *RedisStateStore) Consume(ctx context.Context, state string) (bool, error) {
	if state == "" {
		return false, nil
	}
	err := s.client.GetDel(ctx, stateKeyPrefix+state).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("consume state: %w", err)
	}
	return true, nil
}
