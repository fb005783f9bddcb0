// Package cache implements the two-tier artifact cache: an in-process LRU
// memory tier in front of a persistent tier (disk by default, redis when
// configured). Entries carry a TTL from a per-type table and large values
// are stored compressed on the persistent tier.
package cache

import (
	"context"
	"time"
)

// Entry is a single cached artifact with its bookkeeping metadata.
type Entry struct {
	Key          string        `json:"key"`
	Value        []byte        `json:"value"`
	CreatedAt    time.Time     `json:"created_at"`
	TTL          time.Duration `json:"ttl"`
	Hits         int64         `json:"hits"`
	LastAccessed time.Time     `json:"last_accessed"`
	Size         int64         `json:"size"`
}

// Live reports whether the entry is still within its TTL at the given time.
func (e *Entry) Live(now time.Time) bool {
	return !now.After(e.CreatedAt.Add(e.TTL))
}

// ExpiresAt returns the entry expiry instant.
func (e *Entry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

// Tier is the persistent tier behind the memory tier.
type Tier interface {
	// Get returns the stored entry or nil on miss.
	Get(ctx context.Context, cacheType, hashedKey string) (*Entry, error)

	// Set stores an entry.
	Set(ctx context.Context, cacheType, hashedKey string, entry *Entry) error

	// Delete removes an entry. Missing entries are not an error.
	Delete(ctx context.Context, cacheType, hashedKey string) error

	// Clear removes all entries.
	Clear(ctx context.Context) error

	// Maintenance removes expired and corrupt entries, returning the
	// number removed.
	Maintenance(ctx context.Context) (int, error)

	// Close releases tier resources.
	Close() error
}

// EvictionPolicy selects the victim when the memory tier is over capacity.
type EvictionPolicy string

const (
	EvictLRU     EvictionPolicy = "lru"
	EvictTTL     EvictionPolicy = "ttl"
	EvictLargest EvictionPolicy = "largest"
)

// TypeStats is the per-cache-type statistics breakdown.
type TypeStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
}

// Stats is the aggregate cache statistics snapshot.
type Stats struct {
	Hits       int64                `json:"hits"`
	Misses     int64                `json:"misses"`
	Sets       int64                `json:"sets"`
	Evictions  int64                `json:"evictions"`
	HitRate    float64              `json:"hit_rate"`
	MissRate   float64              `json:"miss_rate"`
	Entries    int                  `json:"entries"`
	TotalBytes int64                `json:"total_bytes"`
	PerType    map[string]TypeStats `json:"per_type"`
}
