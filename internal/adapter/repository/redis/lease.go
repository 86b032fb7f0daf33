package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const leaseKeyPrefix = "shadowai:enrich:lease:"

// releaseScript deletes the key only if it still holds the caller's token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// LeaseLocker implements domain.Locker with SET NX PX leases so that two
// orchestrators sharing a store do not attempt the same event concurrently.
type LeaseLocker struct {
	client *redis.Client
	script *redis.Script
	logger *slog.Logger
}

// NewLeaseLocker creates a new Redis-backed lease locker.
func NewLeaseLocker(client *redis.Client, logger *slog.Logger) *LeaseLocker {
	return &LeaseLocker{
		client: client,
		script: redis.NewScript(releaseScript),
		logger: logger.With("component", "redis_lease"),
	}
}

// TryLock takes the lease for key. ok is false when another holder has it.
func (l *LeaseLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if key == "" {
		return "", false, errors.New("lease key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lease ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, leaseKeyPrefix+key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Release drops the lease if token still owns it. Expired leases are a no-op.
func (l *LeaseLocker) Release(ctx context.Context, key, token string) error {
	if key == "" || token == "" {
		return nil
	}
	released, err := l.script.Run(ctx, l.client, []string{leaseKeyPrefix + key}, token).Int()
	if err != nil {
		return err
	}
	if released == 0 {
		l.logger.Debug("lease already expired or taken over", "key", key)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (l *LeaseLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
