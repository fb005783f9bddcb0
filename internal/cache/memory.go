package cache

import (
	"container/list"
	"sync"
	"time"
)

// memoryTier is the in-process LRU tier. Bounded by entry count and total
// byte size; access order is maintained on a doubly linked list with the
// most recently used entry at the front.
type memoryTier struct {
	mu sync.Mutex

	entries map[string]*list.Element // composite key -> element holding *memoryEntry
	order   *list.List

	maxEntries int
	maxBytes   int64
	totalBytes int64
}

type memoryEntry struct {
	compositeKey string
	cacheType    string
	entry        *Entry
}

func newMemoryTier(maxEntries int, maxBytes int64) *memoryTier {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	return &memoryTier{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
	}
}

// get returns the live entry for the key, updating LRU order and hit
// accounting. Expired entries are removed and reported as misses.
func (m *memoryTier) get(compositeKey string, now time.Time) *Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.entries[compositeKey]
	if !ok {
		return nil
	}
	me := elem.Value.(*memoryEntry)
	if !me.entry.Live(now) {
		m.removeLocked(elem)
		return nil
	}

	m.order.MoveToFront(elem)
	me.entry.Hits++
	me.entry.LastAccessed = now
	return me.entry
}

// set inserts or replaces an entry. The caller is responsible for eviction
// via evictUntilFits before calling set.
func (m *memoryTier) set(compositeKey, cacheType string, entry *Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.entries[compositeKey]; ok {
		m.removeLocked(elem)
	}

	me := &memoryEntry{compositeKey: compositeKey, cacheType: cacheType, entry: entry}
	elem := m.order.PushFront(me)
	m.entries[compositeKey] = elem
	m.totalBytes += entry.Size
}

// wouldOverflow reports whether inserting size bytes under compositeKey would
// exceed a bound. Replacing an existing key frees its slot and bytes first.
func (m *memoryTier) wouldOverflow(compositeKey string, size int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := len(m.entries) + 1
	bytes := m.totalBytes + size
	if elem, ok := m.entries[compositeKey]; ok {
		count--
		bytes -= elem.Value.(*memoryEntry).entry.Size
	}
	return count > m.maxEntries || bytes > m.maxBytes
}

// evictOne removes a single victim chosen by the policy. Returns the evicted
// entry's cache type and false when the tier is empty.
func (m *memoryTier) evictOne(policy EvictionPolicy) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.order.Len() == 0 {
		return "", false
	}

	var victim *list.Element
	switch policy {
	case EvictTTL:
		for elem := m.order.Front(); elem != nil; elem = elem.Next() {
			if victim == nil ||
				elem.Value.(*memoryEntry).entry.ExpiresAt().Before(victim.Value.(*memoryEntry).entry.ExpiresAt()) {
				victim = elem
			}
		}
	case EvictLargest:
		for elem := m.order.Front(); elem != nil; elem = elem.Next() {
			if victim == nil ||
				elem.Value.(*memoryEntry).entry.Size > victim.Value.(*memoryEntry).entry.Size {
				victim = elem
			}
		}
	default: // LRU
		victim = m.order.Back()
	}

	cacheType := victim.Value.(*memoryEntry).cacheType
	m.removeLocked(victim)
	return cacheType, true
}

func (m *memoryTier) delete(compositeKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if elem, ok := m.entries[compositeKey]; ok {
		m.removeLocked(elem)
	}
}

func (m *memoryTier) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*list.Element)
	m.order.Init()
	m.totalBytes = 0
}

func (m *memoryTier) removeLocked(elem *list.Element) {
	me := elem.Value.(*memoryEntry)
	m.order.Remove(elem)
	delete(m.entries, me.compositeKey)
	m.totalBytes -= me.entry.Size
}

func (m *memoryTier) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *memoryTier) bytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalBytes
}

// snapshotPerType aggregates entry counts and bytes per cache type.
func (m *memoryTier) snapshotPerType() map[string]TypeStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]TypeStats)
	for elem := m.order.Front(); elem != nil; elem = elem.Next() {
		me := elem.Value.(*memoryEntry)
		ts := out[me.cacheType]
		ts.Entries++
		ts.Bytes += me.entry.Size
		out[me.cacheType] = ts
	}
	return out
}
