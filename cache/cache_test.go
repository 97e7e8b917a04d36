package cache

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, memBudget int64) *Cache {
	t.Helper()
	dir := t.TempDir()
	c, err := New(Config{MemBudgetBytes: memBudget, DiskBudgetBytes: 1 << 20, DiskDir: dir}, logrus.New())
	require.NoError(t, err)
	require.NoError(t, c.Initialize(context.Background()))
	return c
}

func TestSetGetRoundTrip(t *testing.T) {
	c := newTestCache(t, 1<<20)
	c.Set("k", []byte("v"), nil)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)
	assert.EqualValues(t, 1, c.Stats().Hits)
}

func TestGetMissIncrementsMisses(t *testing.T) {
	c := newTestCache(t, 1<<20)
	_, ok := c.Get("absent")
	assert.False(t, ok)
	assert.EqualValues(t, 1, c.Stats().Misses)
}

func TestLargeEntrySpillsToDisk(t *testing.T) {
	c := newTestCache(t, 4)
	c.Set("big", []byte("this value exceeds the tiny memory budget"), nil)
	v, ok := c.Get("big")
	require.True(t, ok)
	assert.Equal(t, "this value exceeds the tiny memory budget", string(v))
}

func TestInvalidateRemovesFromBothTiers(t *testing.T) {
	c := newTestCache(t, 4)
	c.Set("k", []byte("spills to disk because budget is tiny"), nil)
	c.Invalidate("k")
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestTTLExpiryInMemory(t *testing.T) {
	c := newTestCache(t, 1<<20)
	ttl := -1 * time.Second
	c.Set("k", []byte("v"), &ttl)
	_, ok := c.Get("k")
	assert.False(t, ok, "already-expired TTL must not be returned")
}
