package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	cogitoerrors "github.com/cogitohq/cogito/pkg/errors"

	"github.com/cogitohq/cogito/internal/metrics"
)

// TTLTable resolves the TTL for a cache type.
type TTLTable func(cacheType string) time.Duration

// Cache is the two-tier artifact cache. Safe for concurrent use; writers
// to the same key on the persistent tier are serialized, readers are
// concurrent.
type Cache struct {
	memory     *memoryTier
	persistent Tier

	ttlFor       TTLTable
	policy       EvictionPolicy
	maxEntrySize int64
	logger       *slog.Logger

	// Persistent-tier failure degrades the cache to memory-only for the
	// rest of the session, with a single warning.
	degraded atomic.Bool

	// Per-key write serialization for the persistent tier.
	keyLocks sync.Map // composite key -> *sync.Mutex

	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	evictions atomic.Int64

	typeMu    sync.Mutex
	typeStats map[string]*TypeStats
}

// Options configures the cache.
type Options struct {
	MaxEntries   int
	MaxBytes     int64
	MaxEntrySize int64
	Policy       EvictionPolicy
	TTLFor       TTLTable
	Persistent   Tier
	Logger       *slog.Logger
}

// New creates a cache with a memory tier in front of the given persistent
// tier. A nil persistent tier means memory-only operation.
func New(opts Options) *Cache {
	if opts.MaxEntrySize <= 0 {
		opts.MaxEntrySize = 4 << 20
	}
	if opts.Policy == "" {
		opts.Policy = EvictLRU
	}
	if opts.TTLFor == nil {
		opts.TTLFor = func(string) time.Duration { return 24 * time.Hour }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Cache{
		memory:       newMemoryTier(opts.MaxEntries, opts.MaxBytes),
		persistent:   opts.Persistent,
		ttlFor:       opts.TTLFor,
		policy:       opts.Policy,
		maxEntrySize: opts.MaxEntrySize,
		logger:       opts.Logger,
		typeStats:    make(map[string]*TypeStats),
	}
}

// NewWithDisk creates a cache backed by the disk tier rooted at dir.
func NewWithDisk(dir string, opts Options) *Cache {
	opts.Persistent = newDiskTier(dir)
	return New(opts)
}

func compositeKey(cacheType, hashedKey string) string {
	return cacheType + ":" + hashedKey
}

// Get looks up a value. The memory tier is consulted first; on miss the
// persistent tier is read, TTL-checked, and promoted into memory. Expired
// entries are deleted from both tiers.
func (c *Cache) Get(ctx context.Context, cacheType, key string) ([]byte, bool) {
	hashed := hashKey(key)
	ck := compositeKey(cacheType, hashed)
	now := time.Now()

	if entry := c.memory.get(ck, now); entry != nil {
		c.recordHit(cacheType)
		return entry.Value, true
	}

	if c.persistent != nil && !c.degraded.Load() {
		entry, err := c.persistent.Get(ctx, cacheType, hashed)
		if err != nil {
			c.logger.Debug("persistent cache read failed", "type", cacheType, "error", err)
		} else if entry != nil {
			if entry.Live(now) {
				entry.LastAccessed = now
				entry.Hits++
				c.admit(ck, cacheType, entry)
				c.recordHit(cacheType)
				return entry.Value, true
			}
			// Expired on the persistent tier: delete the file.
			_ = c.persistent.Delete(ctx, cacheType, hashed)
		}
	}

	c.recordMiss(cacheType)
	return nil, false
}

// Set stores a value with the type's TTL (or the explicit override when
// ttl > 0). Entries larger than the per-entry limit are rejected.
func (c *Cache) Set(ctx context.Context, cacheType, key string, value []byte, ttl time.Duration) error {
	if int64(len(value)) > c.maxEntrySize {
		return &cogitoerrors.ProviderError{
			Message: fmt.Sprintf("cache entry of %d bytes exceeds limit of %d", len(value), c.maxEntrySize),
			Type:    cogitoerrors.TypeCacheFull,
		}
	}
	if ttl <= 0 {
		ttl = c.ttlFor(cacheType)
	}

	now := time.Now()
	entry := &Entry{
		Key:          key,
		Value:        value,
		CreatedAt:    now,
		TTL:          ttl,
		LastAccessed: now,
		Size:         int64(len(value)),
	}

	hashed := hashKey(key)
	ck := compositeKey(cacheType, hashed)

	c.admit(ck, cacheType, entry)
	c.sets.Add(1)
	metrics.CacheOperations.WithLabelValues(cacheType, "set").Inc()

	if c.persistent != nil && !c.degraded.Load() {
		lock := c.lockFor(ck)
		lock.Lock()
		err := c.persistent.Set(ctx, cacheType, hashed, entry)
		lock.Unlock()
		if err != nil {
			c.degrade(err)
		}
	}

	metrics.CacheBytes.Set(float64(c.memory.bytes()))
	return nil
}

// admit inserts into the memory tier, evicting per policy until it fits.
func (c *Cache) admit(ck, cacheType string, entry *Entry) {
	for c.memory.wouldOverflow(ck, entry.Size) {
		evictedType, ok := c.memory.evictOne(c.policy)
		if !ok {
			break
		}
		c.evictions.Add(1)
		metrics.CacheOperations.WithLabelValues(evictedType, "evict").Inc()
	}
	c.memory.set(ck, cacheType, entry)
}

// Delete removes the key from both tiers.
func (c *Cache) Delete(ctx context.Context, cacheType, key string) error {
	hashed := hashKey(key)
	c.memory.delete(compositeKey(cacheType, hashed))
	if c.persistent != nil && !c.degraded.Load() {
		return c.persistent.Delete(ctx, cacheType, hashed)
	}
	return nil
}

// Clear removes everything from both tiers.
func (c *Cache) Clear(ctx context.Context) error {
	c.memory.clear()
	metrics.CacheBytes.Set(0)
	if c.persistent != nil && !c.degraded.Load() {
		return c.persistent.Clear(ctx)
	}
	return nil
}

// Maintenance clears the memory tier and sweeps the persistent tier,
// removing expired and corrupt entries. Returns the number removed.
func (c *Cache) Maintenance(ctx context.Context) (int, error) {
	c.memory.clear()
	metrics.CacheBytes.Set(0)
	if c.persistent == nil || c.degraded.Load() {
		return 0, nil
	}
	return c.persistent.Maintenance(ctx)
}

// Stats returns a statistics snapshot.
func (c *Cache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	s := Stats{
		Hits:       hits,
		Misses:     misses,
		Sets:       c.sets.Load(),
		Evictions:  c.evictions.Load(),
		Entries:    c.memory.len(),
		TotalBytes: c.memory.bytes(),
		PerType:    c.memory.snapshotPerType(),
	}
	if total > 0 {
		s.HitRate = float64(hits) / float64(total)
		s.MissRate = float64(misses) / float64(total)
	}

	c.typeMu.Lock()
	for name, ts := range c.typeStats {
		agg := s.PerType[name]
		agg.Hits = ts.Hits
		agg.Misses = ts.Misses
		s.PerType[name] = agg
	}
	c.typeMu.Unlock()
	return s
}

// HitRate returns the overall hit rate in [0,1].
func (c *Cache) HitRate() float64 {
	hits := c.hits.Load()
	total := hits + c.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// TypeStatsFor returns the statistics breakdown for one cache type.
func (c *Cache) TypeStatsFor(cacheType string) TypeStats {
	return c.Stats().PerType[cacheType]
}

// Close releases the persistent tier.
func (c *Cache) Close() error {
	if c.persistent != nil {
		return c.persistent.Close()
	}
	return nil
}

func (c *Cache) lockFor(ck string) *sync.Mutex {
	actual, _ := c.keyLocks.LoadOrStore(ck, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

func (c *Cache) recordHit(cacheType string) {
	c.hits.Add(1)
	metrics.CacheOperations.WithLabelValues(cacheType, "hit").Inc()
	c.typeMu.Lock()
	ts := c.ensureTypeStats(cacheType)
	ts.Hits++
	c.typeMu.Unlock()
}

func (c *Cache) recordMiss(cacheType string) {
	c.misses.Add(1)
	metrics.CacheOperations.WithLabelValues(cacheType, "miss").Inc()
	c.typeMu.Lock()
	ts := c.ensureTypeStats(cacheType)
	ts.Misses++
	c.typeMu.Unlock()
}

func (c *Cache) ensureTypeStats(cacheType string) *TypeStats {
	ts, ok := c.typeStats[cacheType]
	if !ok {
		ts = &TypeStats{}
		c.typeStats[cacheType] = ts
	}
	return ts
}

func (c *Cache) degrade(err error) {
	if c.degraded.CompareAndSwap(false, true) {
		c.logger.Warn("persistent cache tier disabled for this session", "error", err)
	}
}
