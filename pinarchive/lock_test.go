package pinarchive

import (
	"context"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"testing"
	"time"
)

func TestArchiveLocker_NoAddr(t *testing.T) {
	t.Parallel()
	locker, client, err := newArchiveLocker(context.Background(), &RedisConfig{}, slog.Default())
	require.NoError(t, err)
	assert.Nil(t, client)
	assert.IsType(t, noopLocker{}, locker)
	_, ok := locker.TryLock(context.Background(), "1")
	assert.True(t, ok)
	_, ok = locker.TryLock(context.Background(), "1")
	assert.True(t, ok)
}

func TestArchiveLocker_Redis(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr := miniredis.RunT(t)

	cfg := &RedisConfig{Addr: mr.Addr(), LockTTL: time.Minute}
	locker, client, err := newArchiveLocker(ctx, cfg, slog.Default())
	require.NoError(t, err)
	require.NotNil(t, client)
	t.Cleanup(func() { _ = client.Close() })

	// a second instance sharing the same redis
	other, otherClient, err := newArchiveLocker(ctx, cfg, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = otherClient.Close() })

	tryLock := func(l archiveLocker, messageID string) bool {
		_, ok := l.TryLock(ctx, messageID)
		return ok
	}
	assert.True(t, tryLock(locker, "100"))
	assert.False(t, tryLock(other, "100"))
	assert.False(t, tryLock(locker, "100"))
	assert.True(t, tryLock(other, "200"))
	assert.True(t, mr.Exists(archiveLockKey("100")))

	mr.FastForward(2 * time.Minute)
	assert.True(t, tryLock(other, "100"))
}

func TestArchiveLocker_Release(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr := miniredis.RunT(t)

	cfg := &RedisConfig{Addr: mr.Addr(), LockTTL: time.Hour}
	locker, client, err := newArchiveLocker(ctx, cfg, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	other, otherClient, err := newArchiveLocker(ctx, cfg, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = otherClient.Close() })

	release, ok := locker.TryLock(ctx, "100")
	require.True(t, ok)
	_, ok = other.TryLock(ctx, "100")
	require.False(t, ok)

	release(ctx)
	assert.False(t, mr.Exists(archiveLockKey("100")))
	otherRelease, ok := other.TryLock(ctx, "100")
	assert.True(t, ok)

	// releasing twice is harmless
	otherRelease(ctx)
	otherRelease(ctx)
}

func TestArchiveLocker_RedisDown(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr := miniredis.RunT(t)

	locker, client, err := newArchiveLocker(ctx, &RedisConfig{Addr: mr.Addr(), LockTTL: time.Minute}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	mr.Close()
	release, ok := locker.TryLock(ctx, "100")
	assert.True(t, ok)
	release(ctx)
}

func TestArchiveLocker_Unreachable(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	_, _, err := newArchiveLocker(ctx, &RedisConfig{Addr: addr}, nil)
	require.Error(t, err)
}
