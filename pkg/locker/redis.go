package locker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when the caller still owns it, so an
// expired lock taken over by another worker is never released from under it.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// RedisLocker implements Locker on Redis using SET NX with a TTL.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker builds a locker from a Redis URL.
func NewRedisLocker(redisURL string) (*RedisLocker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	return &RedisLocker{
		client: redis.NewClient(opts),
		prefix: "sagaflow:lock:",
	}, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, workflowID string, ttl time.Duration) (Lock, error) {
	token := uuid.New().String()
	key := l.prefix + workflowID

	acquired, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock for workflow %s: %w", workflowID, err)
	}

	if !acquired {
		return nil, ErrAlreadyLocked
	}

	return &redisLock{client: l.client, key: key, token: token}, nil
}

// Close releases the underlying Redis connection.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

type redisLock struct {
	client *redis.Client
	key    string
	token  string
}

func (l *redisLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}

	return nil
}
