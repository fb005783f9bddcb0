package cache

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cogitoerrors "github.com/cogitohq/cogito/pkg/errors"
)

func newTestCache(t *testing.T, opts Options) *Cache {
	t.Helper()
	c := NewWithDisk(t.TempDir(), opts)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCacheStoreAndRetrieve(t *testing.T) {
	c := newTestCache(t, Options{})
	ctx := context.Background()

	payload := []byte(`{"answer":42,"text":"cached artifact"}`)
	require.NoError(t, c.Set(ctx, "reasoning", "problem-1", payload, 0))

	got, ok := c.Get(ctx, "reasoning", "problem-1")
	require.True(t, ok)
	assert.Equal(t, payload, got)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(0), stats.Misses)
	assert.Equal(t, 1.0, stats.HitRate)
}

func TestCacheMiss(t *testing.T) {
	c := newTestCache(t, Options{})

	_, ok := c.Get(context.Background(), "reasoning", "never-stored")
	require.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1.0, stats.MissRate)
}

func TestCacheTTLExpiry(t *testing.T) {
	dir := t.TempDir()
	c := New(Options{Persistent: newDiskTier(dir)})
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "thinking", "short-lived", []byte("v"), 50*time.Millisecond))

	got, ok := c.Get(ctx, "thinking", "short-lived")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	time.Sleep(60 * time.Millisecond)

	_, ok = c.Get(ctx, "thinking", "short-lived")
	require.False(t, ok)

	// The expired entry's file is removed on access.
	_, err := os.Stat(filepath.Join(dir, "thinking", hashKey("short-lived")))
	assert.True(t, os.IsNotExist(err))
}

func TestCacheTTLTable(t *testing.T) {
	c := newTestCache(t, Options{
		TTLFor: func(cacheType string) time.Duration {
			if cacheType == "generation" {
				return 7 * 24 * time.Hour
			}
			return 24 * time.Hour
		},
	})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "generation", "k", []byte("v"), 0))
	_, ok := c.Get(ctx, "generation", "k")
	assert.True(t, ok)
}

func TestCacheEvictsExactlyOnePerOverflow(t *testing.T) {
	c := New(Options{MaxEntries: 2})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "reasoning", "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "reasoning", "b", []byte("2"), 0))
	require.NoError(t, c.Set(ctx, "reasoning", "c", []byte("3"), 0))

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Equal(t, 2, stats.Entries)

	// LRU: "a" is the least recently used and should be gone.
	_, ok := c.Get(ctx, "reasoning", "a")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "reasoning", "c")
	assert.True(t, ok)
}

func TestCacheOverwriteAtCapacityDoesNotEvict(t *testing.T) {
	c := New(Options{MaxEntries: 2})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "reasoning", "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "reasoning", "b", []byte("2"), 0))

	// Rewriting an existing key reuses its slot; neither entry is a victim.
	require.NoError(t, c.Set(ctx, "reasoning", "b", []byte("2b"), 0))

	stats := c.Stats()
	assert.Equal(t, int64(0), stats.Evictions)
	assert.Equal(t, 2, stats.Entries)

	got, ok := c.Get(ctx, "reasoning", "a")
	require.True(t, ok)
	assert.Equal(t, []byte("1"), got)
	got, ok = c.Get(ctx, "reasoning", "b")
	require.True(t, ok)
	assert.Equal(t, []byte("2b"), got)
}

func TestCacheEvictLargest(t *testing.T) {
	c := New(Options{MaxEntries: 2, Policy: EvictLargest})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "reasoning", "small", []byte("x"), 0))
	require.NoError(t, c.Set(ctx, "reasoning", "big", bytes.Repeat([]byte("y"), 100), 0))
	require.NoError(t, c.Set(ctx, "reasoning", "third", []byte("z"), 0))

	_, ok := c.Get(ctx, "reasoning", "big")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "reasoning", "small")
	assert.True(t, ok)
}

func TestCacheRejectsOversizeEntry(t *testing.T) {
	c := New(Options{MaxEntrySize: 16})

	err := c.Set(context.Background(), "reasoning", "huge", bytes.Repeat([]byte("a"), 17), 0)
	require.Error(t, err)
	assert.Equal(t, cogitoerrors.TypeCacheFull, cogitoerrors.ErrorType(err))
}

func TestCachePromotesDiskHitToMemory(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	writer := New(Options{Persistent: newDiskTier(dir)})
	require.NoError(t, writer.Set(ctx, "reasoning", "shared", []byte("persisted"), 0))
	require.NoError(t, writer.Close())

	// A fresh cache has an empty memory tier; the hit comes from disk.
	reader := New(Options{Persistent: newDiskTier(dir)})
	t.Cleanup(func() { _ = reader.Close() })

	got, ok := reader.Get(ctx, "reasoning", "shared")
	require.True(t, ok)
	assert.Equal(t, []byte("persisted"), got)
	assert.Equal(t, 1, reader.Stats().Entries)
}

func TestCacheMaintenanceRemovesExpiredAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	c := New(Options{Persistent: newDiskTier(dir)})
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "reasoning", "expired", []byte("v"), 10*time.Millisecond))
	require.NoError(t, c.Set(ctx, "reasoning", "live", []byte("v"), time.Hour))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "reasoning", "corrupt"), []byte("not json"), 0o644))

	time.Sleep(20 * time.Millisecond)

	removed, err := c.Maintenance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	// The live entry survives on disk and is re-promoted.
	got, ok := c.Get(ctx, "reasoning", "live")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)
}

func TestCacheClear(t *testing.T) {
	c := newTestCache(t, Options{})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "reasoning", "k", []byte("v"), 0))
	require.NoError(t, c.Clear(ctx))

	_, ok := c.Get(ctx, "reasoning", "k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestDiskTierCompressionRoundTrip(t *testing.T) {
	d := newDiskTier(t.TempDir())
	ctx := context.Background()

	large := bytes.Repeat([]byte("abcdefgh"), 2048) // 16 KiB, over the threshold
	entry := &Entry{
		Key:       "large",
		Value:     large,
		CreatedAt: time.Now(),
		TTL:       time.Hour,
		Size:      int64(len(large)),
	}
	require.NoError(t, d.Set(ctx, "generation", hashKey("large"), entry))

	// The file on disk is the compressed envelope, smaller than the value.
	raw, err := os.ReadFile(d.path("generation", hashKey("large")))
	require.NoError(t, err)
	assert.Less(t, len(raw), len(large))
	assert.Contains(t, string(raw), `"compressed":true`)

	got, err := d.Get(ctx, "generation", hashKey("large"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, large, got.Value)
}

func TestDiskTierSmallValueStoredPlain(t *testing.T) {
	d := newDiskTier(t.TempDir())
	ctx := context.Background()

	entry := &Entry{Key: "small", Value: []byte("tiny"), CreatedAt: time.Now(), TTL: time.Hour, Size: 4}
	require.NoError(t, d.Set(ctx, "reasoning", hashKey("small"), entry))

	raw, err := os.ReadFile(d.path("reasoning", hashKey("small")))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"compressed":true`)
}

func TestFingerprintKeyIgnoresPropertyOrder(t *testing.T) {
	a, err := FingerprintKey(map[string]any{"model": "m1", "prompt": "p", "temperature": 0.5})
	require.NoError(t, err)
	b, err := FingerprintKey(map[string]any{"temperature": 0.5, "prompt": "p", "model": "m1"})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := FingerprintKey(map[string]any{"model": "m2", "prompt": "p", "temperature": 0.5})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestCanonicalJSONIntegralFloats(t *testing.T) {
	got, err := CanonicalJSON(map[string]any{"n": 1.0, "m": 2.5})
	require.NoError(t, err)
	assert.Equal(t, `{"m":2.5,"n":1}`, got)
}

func TestRedisTierRoundTrip(t *testing.T) {
	srv := miniredis.RunT(t)
	tier := NewRedisTier(RedisTierConfig{Addr: srv.Addr()})
	t.Cleanup(func() { _ = tier.Close() })
	ctx := context.Background()

	entry := &Entry{
		Key:       "remote",
		Value:     []byte("shared across processes"),
		CreatedAt: time.Now(),
		TTL:       time.Hour,
		Size:      23,
	}
	require.NoError(t, tier.Set(ctx, "reasoning", hashKey("remote"), entry))

	got, err := tier.Get(ctx, "reasoning", hashKey("remote"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entry.Value, got.Value)

	require.NoError(t, tier.Delete(ctx, "reasoning", hashKey("remote")))
	got, err = tier.Get(ctx, "reasoning", hashKey("remote"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisTierExpiry(t *testing.T) {
	srv := miniredis.RunT(t)
	tier := NewRedisTier(RedisTierConfig{Addr: srv.Addr()})
	t.Cleanup(func() { _ = tier.Close() })
	ctx := context.Background()

	entry := &Entry{Key: "k", Value: []byte("v"), CreatedAt: time.Now(), TTL: time.Second, Size: 1}
	require.NoError(t, tier.Set(ctx, "reasoning", hashKey("k"), entry))

	srv.FastForward(2 * time.Second)

	got, err := tier.Get(ctx, "reasoning", hashKey("k"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisBackedCache(t *testing.T) {
	srv := miniredis.RunT(t)
	c := New(Options{Persistent: NewRedisTier(RedisTierConfig{Addr: srv.Addr()})})
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "thinking", "shared", []byte("payload"), 0))
	got, ok := c.Get(ctx, "thinking", "shared")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), got)
}
