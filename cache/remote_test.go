package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestRemoteTierRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	remote, err := NewRemote("redis://" + mr.Addr())
	require.NoError(t, err)
	defer remote.Close()

	ctx := context.Background()
	require.NoError(t, remote.Set(ctx, "k", []byte("v"), 0))

	v, ok, err := remote.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), v)

	_, ok, err = remote.Get(ctx, "absent")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCacheSharedTierServesAcrossInstances(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	log := logrus.New()
	redisURL := "redis://" + mr.Addr()

	writer, err := New(Config{MemBudgetBytes: 1 << 20, DiskBudgetBytes: 1 << 20, DiskDir: t.TempDir(), RedisURL: redisURL}, log)
	require.NoError(t, err)
	writer.Set("shared-key", []byte("shared-value"), nil)

	reader, err := New(Config{MemBudgetBytes: 1 << 20, DiskBudgetBytes: 1 << 20, DiskDir: t.TempDir(), RedisURL: redisURL}, log)
	require.NoError(t, err)

	v, ok := reader.Get("shared-key")
	require.True(t, ok)
	require.Equal(t, []byte("shared-value"), v)
}

func TestCacheStatusDegradedWhenRemoteUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	remote, err := NewRemote("redis://" + mr.Addr())
	require.NoError(t, err)
	c := &Cache{log: logrus.New(), remote: remote}

	require.NoError(t, c.Status(context.Background()))

	mr.Close()
	require.Error(t, c.Status(context.Background()))
}
