package pinarchive

import (
	"context"
	"errors"
	"fmt"
	"github.com/bsm/redislock"
	"github.com/go-redis/redis/v8"
	"github.com/lmittmann/tint"
	"log/slog"
	"time"
)

const archiveLockKeyPrefix = "pin-archive:archive:"

// archiveLocker keeps two bot instances from archiving the same pinned
// message. A successful TryLock holds the message until the TTL expires,
// or until the returned release func is called.
type archiveLocker interface {
	TryLock(ctx context.Context, messageID string) (release func(context.Context), ok bool)
}

func noRelease(context.Context) {}

// noopLocker is used when no redis address is configured
type noopLocker struct{}

func (noopLocker) TryLock(context.Context, string) (func(context.Context), bool) {
	return noRelease, true
}

type redisLocker struct {
	locker *redislock.Client
	ttl    time.Duration
	logger *slog.Logger
}

func newRedisLocker(client *redis.Client, ttl time.Duration, logger *slog.Logger) *redisLocker {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisLocker{
		locker: redislock.New(client),
		ttl:    ttl,
		logger: logger.With(loggerNameKey, "archive_lock"),
	}
}

func archiveLockKey(messageID string) string {
	return archiveLockKeyPrefix + messageID
}

// TryLock returns false if another instance holds the lock for the
// message. Redis errors are logged and the lock is treated as obtained.
func (l *redisLocker) TryLock(ctx context.Context, messageID string) (func(context.Context), bool) {
	lock, err := l.locker.Obtain(ctx, archiveLockKey(messageID), l.ttl, nil)
	switch {
	case err == nil:
		return func(ctx context.Context) {
			if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				l.logger.ErrorContext(
					ctx,
					"error releasing archive lock",
					"message_id", messageID,
					tint.Err(err),
				)
			}
		}, true
	case errors.Is(err, redislock.ErrNotObtained):
		l.logger.InfoContext(ctx, "archive lock held elsewhere", "message_id", messageID)
		return noRelease, false
	default:
		l.logger.ErrorContext(ctx, "error obtaining archive lock", "message_id", messageID, tint.Err(err))
		return noRelease, true
	}
}

// newArchiveLocker returns a redis-backed locker when an address is
// configured, and a no-op locker otherwise
func newArchiveLocker(
	ctx context.Context,
	config *RedisConfig,
	logger *slog.Logger,
) (archiveLocker, *redis.Client, error) {
	if config == nil || config.Addr == "" {
		return noopLocker{}, nil, nil
	}
	client := redis.NewClient(
		&redis.Options{
			Addr:     config.Addr,
			Username: config.Username,
			Password: config.Password,
			DB:       config.DB,
		},
	)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("error connecting to redis at %s: %w", config.Addr, err)
	}
	ttl := config.LockTTL
	if ttl <= 0 {
		ttl = DefaultRedisLockTTL
	}
	return newRedisLocker(client, ttl, logger), client, nil
}
