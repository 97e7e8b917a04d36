// Package cache implements C4, a two-tier cache: an in-process LRU memory
// tier backed by github.com/hashicorp/golang-lru/v2, and a content-addressed
// on-disk tier sharded the way the on-disk layout in §6 specifies
// (<cache_dir>/<hh>/<hash>.bin). An optional distributed tier can be layered
// in front via a Redis-backed Remote, grounded on the example pack's
// lock/cache Redis repository.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"codeintel.dev/codeerr"
)

// Stats mirrors §4.4's contract.
type Stats struct {
	Hits          int64
	Misses        int64
	Evictions     int64
	ResidentBytes int64
}

type memEntry struct {
	value     []byte
	expiresAt *time.Time
	size      int64
}

// Cache is C4. Readers are non-blocking; each key hashes to one of
// numStripes mutexes so writers to different keys never contend.
type Cache struct {
	log *logrus.Logger

	memBudget  int64
	diskBudget int64
	diskDir    string
	remote     *Remote // nil unless a shared Redis tier was configured

	lru *lru.Cache[string, memEntry]

	stripes   []sync.Mutex
	residentB int64 // atomic-ish, guarded by statsMu

	statsMu sync.Mutex
	stats   Stats
}

const numStripes = 64

// Config configures a new Cache.
type Config struct {
	MemBudgetBytes  int64
	DiskBudgetBytes int64
	DiskDir         string
	RedisURL        string // optional; "" keeps the cache local to this process
}

// New constructs a Cache. The in-memory LRU is sized generously (capacity in
// entry count, not bytes — golang-lru/v2 evicts by count) and resident byte
// accounting is tracked separately against MemBudgetBytes so Set can decide
// whether an entry belongs in memory or should spill to disk.
func New(cfg Config, log *logrus.Logger) (*Cache, error) {
	// A generous fixed entry cap; byte-budget enforcement happens in Set via
	// evictUntilWithinBudget, not via the LRU's own count-based eviction.
	l, err := lru.New[string, memEntry](1 << 20)
	if err != nil {
		return nil, err
	}
	c := &Cache{
		log:        log,
		memBudget:  cfg.MemBudgetBytes,
		diskBudget: cfg.DiskBudgetBytes,
		diskDir:    cfg.DiskDir,
		lru:        l,
		stripes:    make([]sync.Mutex, numStripes),
	}
	if cfg.RedisURL != "" {
		remote, err := NewRemote(cfg.RedisURL)
		if err != nil {
			log.WithError(err).Warn("cache: shared Redis tier unavailable, falling back to local tiers only")
		} else {
			c.remote = remote
		}
	}
	return c, nil
}

func stripeFor(key string) int {
	h := sha256.Sum256([]byte(key))
	return int(h[0]) % numStripes
}

func hashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

func (c *Cache) diskPath(key string) string {
	h := hashKey(key)
	return filepath.Join(c.diskDir, h[:2], h+".bin")
}

// Get checks memory, then the shared Redis tier (if configured), then disk,
// promoting remote and disk hits to memory.
func (c *Cache) Get(key string) ([]byte, bool) {
	if e, ok := c.lru.Get(key); ok {
		if expired(e) {
			c.lru.Remove(key)
			c.recordMiss()
			return nil, false
		}
		c.recordHit()
		return e.value, true
	}

	if c.remote != nil {
		if data, ok, err := c.remote.Get(context.Background(), key); err == nil && ok {
			c.recordHit()
			c.promoteToMemory(key, data, nil)
			return data, true
		}
	}

	idx := stripeFor(key)
	c.stripes[idx].Lock()
	defer c.stripes[idx].Unlock()

	path := c.diskPath(key)
	data, err := os.ReadFile(path)
	if err != nil {
		c.recordMiss()
		return nil, false
	}
	now := time.Now()
	_ = os.Chtimes(path, now, now)
	c.recordHit()
	c.promoteToMemory(key, data, nil)
	return data, true
}

// Set writes key/value to memory, spilling to disk if the entry would blow
// the memory budget. Disk write failures are logged, never propagated — the
// cache is never the source of truth. They are not counted in Stats.
func (c *Cache) Set(key string, value []byte, ttl *time.Duration) {
	var expiresAt *time.Time
	if ttl != nil {
		t := time.Now().Add(*ttl)
		expiresAt = &t
	}

	if c.remote != nil {
		var remoteTTL time.Duration
		if ttl != nil {
			remoteTTL = *ttl
		}
		if err := c.remote.Set(context.Background(), key, value, remoteTTL); err != nil {
			c.log.WithError(err).Warn("cache: failed writing shared Redis tier")
		}
	}

	size := int64(len(value))
	if size <= c.memBudget {
		c.promoteToMemory(key, value, expiresAt)
		c.evictUntilWithinBudget()
		return
	}

	idx := stripeFor(key)
	c.stripes[idx].Lock()
	defer c.stripes[idx].Unlock()
	c.writeDiskLocked(key, value)
}

func (c *Cache) promoteToMemory(key string, value []byte, expiresAt *time.Time) {
	c.lru.Add(key, memEntry{value: value, expiresAt: expiresAt, size: int64(len(value))})
	c.statsMu.Lock()
	c.residentB += int64(len(value))
	c.statsMu.Unlock()
}

func (c *Cache) evictUntilWithinBudget() {
	c.statsMu.Lock()
	over := c.residentB > c.memBudget
	c.statsMu.Unlock()
	for over {
		_, e, ok := c.lru.RemoveOldest()
		if !ok {
			return
		}
		c.statsMu.Lock()
		c.residentB -= e.size
		c.stats.Evictions++
		over = c.residentB > c.memBudget
		c.statsMu.Unlock()
	}
}

func (c *Cache) writeDiskLocked(key string, value []byte) {
	path := c.diskPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		c.log.WithError(err).Warn("cache: failed to create disk shard directory")
		c.recordDiskFailure()
		return
	}
	if err := os.WriteFile(path, value, 0o644); err != nil {
		c.log.WithError(err).Warn("cache: failed to write disk tier entry")
		c.recordDiskFailure()
		return
	}
	c.enforceDiskBudget()
}

// enforceDiskBudget evicts the least-recently-accessed disk entries (by
// mtime) until total usage is back under the configured budget. Best
// effort; failures are logged only.
func (c *Cache) enforceDiskBudget() {
	var total int64
	type fileInfo struct {
		path    string
		modTime time.Time
		size    int64
	}
	var files []fileInfo
	_ = filepath.Walk(c.diskDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		total += info.Size()
		files = append(files, fileInfo{path: path, modTime: info.ModTime(), size: info.Size()})
		return nil
	})
	if total <= c.diskBudget {
		return
	}
	for i := 0; i < len(files); i++ {
		for j := i + 1; j < len(files); j++ {
			if files[j].modTime.Before(files[i].modTime) {
				files[i], files[j] = files[j], files[i]
			}
		}
	}
	for _, f := range files {
		if total <= c.diskBudget {
			break
		}
		if err := os.Remove(f.path); err == nil {
			total -= f.size
			c.statsMu.Lock()
			c.stats.Evictions++
			c.statsMu.Unlock()
		}
	}
}

func (c *Cache) recordDiskFailure() {
	// Disk-tier failures are non-propagating (cache-degraded); logged only.
}

// Invalidate removes key from every tier.
func (c *Cache) Invalidate(key string) {
	c.lru.Remove(key)
	idx := stripeFor(key)
	c.stripes[idx].Lock()
	defer c.stripes[idx].Unlock()
	_ = os.Remove(c.diskPath(key))
	if c.remote != nil {
		_ = c.remote.Invalidate(context.Background(), key)
	}
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	s := c.stats
	s.ResidentBytes = c.residentB
	return s
}

func (c *Cache) recordHit() {
	c.statsMu.Lock()
	c.stats.Hits++
	c.statsMu.Unlock()
}

func (c *Cache) recordMiss() {
	c.statsMu.Lock()
	c.stats.Misses++
	c.statsMu.Unlock()
}

func expired(e memEntry) bool {
	return e.expiresAt != nil && time.Now().After(*e.expiresAt)
}

// Initialize ensures the disk tier directory exists.
func (c *Cache) Initialize(ctx context.Context) error {
	return os.MkdirAll(c.diskDir, 0o755)
}

// Cleanup closes the shared Redis connection, if one was opened; the local
// tiers need no flushing since the cache is never the source of truth.
func (c *Cache) Cleanup(ctx context.Context) error {
	if c.remote != nil {
		return c.remote.Close()
	}
	return nil
}

// Status reports cache-degraded if a configured shared tier has gone
// unreachable; local-only caches always report healthy.
func (c *Cache) Status(ctx context.Context) error {
	if c.remote == nil {
		return nil
	}
	if _, _, err := c.remote.Get(ctx, "__health_probe__"); err != nil {
		return codeerr.Wrap(codeerr.CacheDegraded, "shared redis tier unreachable", err)
	}
	return nil
}
