package memory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/cogitohq/cogito/internal/metrics"
)

// Store holds typed memory items and their vector companions. All items are
// kept resident; persistence mirrors them to per-item files plus atomically
// rewritten master files.
type Store struct {
	mu       sync.RWMutex
	items    map[string]*Item
	vectors  map[string]*Vector
	embedder Embedder
	dataDir  string // empty means in-memory only
	logger   *slog.Logger
}

// Options configures the store.
type Options struct {
	DataDir  string
	Embedder Embedder
	Logger   *slog.Logger
}

// NewStore creates a store and loads any previously persisted state from the
// data directory. An empty DataDir disables persistence.
func NewStore(opts Options) (*Store, error) {
	if opts.Embedder == nil {
		opts.Embedder = NewHashEmbedder(DefaultDimensions)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Store{
		items:    make(map[string]*Item),
		vectors:  make(map[string]*Vector),
		embedder: opts.Embedder,
		dataDir:  opts.DataDir,
		logger:   opts.Logger,
	}

	if s.dataDir != "" {
		if err := os.MkdirAll(filepath.Join(s.dataDir, "memory"), 0o755); err != nil {
			return nil, fmt.Errorf("create memory dir: %w", err)
		}
		if err := os.MkdirAll(filepath.Join(s.dataDir, "vectors"), 0o755); err != nil {
			return nil, fmt.Errorf("create vectors dir: %w", err)
		}
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	s.publishGauges()
	return s, nil
}

// Store validates the item, assigns it a fresh id and timestamp, computes
// its vector and persists both. Returns the assigned id.
func (s *Store) Store(ctx context.Context, item *Item) (string, error) {
	if err := item.Validate(); err != nil {
		return "", err
	}

	vec, err := s.embedder.Embed(ctx, item.Content)
	if err != nil {
		return "", fmt.Errorf("embed content: %w", err)
	}

	stored := *item
	stored.ID = uuid.NewString()
	stored.CreatedAt = time.Now()
	vector := &Vector{ItemID: stored.ID, Vector: vec, CreatedAt: stored.CreatedAt}

	s.mu.Lock()
	// Connections may only reference items that already exist.
	stored.Connections = s.filterExistingLocked(stored.Connections)
	s.items[stored.ID] = &stored
	s.vectors[stored.ID] = vector
	err = s.persistLocked(stored.ID)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	s.publishGauges()
	return stored.ID, nil
}

// GetByID returns a copy of the item, or nil when absent.
func (s *Store) GetByID(id string) *Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil
	}
	cp := *item
	cp.Connections = append([]string(nil), item.Connections...)
	return &cp
}

// GetAll returns all items sorted newest first.
func (s *Store) GetAll() []*Item {
	s.mu.RLock()
	out := make([]*Item, 0, len(s.items))
	for _, item := range s.items {
		cp := *item
		out = append(out, &cp)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// GetByType returns items of one type, newest first.
func (s *Store) GetByType(t ItemType) []*Item {
	all := s.GetAll()
	out := all[:0]
	for _, item := range all {
		if item.Type == t {
			out = append(out, item)
		}
	}
	return out
}

// UpdateConnections replaces the item's connection set, dropping references
// to nonexistent ids.
func (s *Store) UpdateConnections(id string, connections []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return fmt.Errorf("memory item %s not found", id)
	}
	item.Connections = s.filterExistingLocked(connections)
	return s.persistLocked(id)
}

// GetConnected resolves the item's connections to items.
func (s *Store) GetConnected(id string) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("memory item %s not found", id)
	}
	out := make([]*Item, 0, len(item.Connections))
	for _, cid := range item.Connections {
		if connected, ok := s.items[cid]; ok {
			cp := *connected
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Delete removes the item, its vector, and their files. Other items keep any
// connection to the deleted id until maintenance prunes it.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return fmt.Errorf("memory item %s not found", id)
	}
	delete(s.items, id)
	delete(s.vectors, id)

	if s.dataDir != "" {
		_ = os.Remove(filepath.Join(s.dataDir, "memory", id))
		_ = os.Remove(filepath.Join(s.dataDir, "vectors", id))
		if err := s.rewriteMastersLocked(); err != nil {
			return err
		}
	}
	s.publishGaugesLocked()
	return nil
}

// Retrieve ranks all items against the query by the hybrid score and returns
// the top limit.
func (s *Store) Retrieve(ctx context.Context, query string, limit int) ([]ScoredItem, error) {
	if limit <= 0 {
		limit = 5
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	queryTokens := tokenize(query)
	now := time.Now()

	s.mu.RLock()
	scored := make([]ScoredItem, 0, len(s.items))
	for id, item := range s.items {
		var itemVec []float64
		if v, ok := s.vectors[id]; ok {
			itemVec = v.Vector
		}
		cp := *item
		scored = append(scored, ScoredItem{
			Item:  &cp,
			Score: scoreItem(item, itemVec, queryVec, queryTokens, now),
		})
	}
	s.mu.RUnlock()

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// Stats returns a snapshot of store contents.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		TotalItems: len(s.items),
		ByType:     make(map[ItemType]int),
		Vectors:    len(s.vectors),
	}
	for _, item := range s.items {
		stats.ByType[item.Type]++
		stats.Connections += len(item.Connections)
	}
	return stats
}

// Maintenance prunes connections to missing items, deletes vector entries
// and files with no owning item, and rewrites the master files. Returns the
// number of pruned references.
func (s *Store) Maintenance(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for _, item := range s.items {
		kept := s.filterExistingLocked(item.Connections)
		pruned += len(item.Connections) - len(kept)
		item.Connections = kept
	}

	for id := range s.vectors {
		if _, ok := s.items[id]; !ok {
			delete(s.vectors, id)
			if s.dataDir != "" {
				_ = os.Remove(filepath.Join(s.dataDir, "vectors", id))
			}
		}
	}

	if s.dataDir != "" {
		// Vector files whose item vanished in an earlier session.
		if entries, err := os.ReadDir(filepath.Join(s.dataDir, "vectors")); err == nil {
			for _, e := range entries {
				if ctx.Err() != nil {
					return pruned, ctx.Err()
				}
				if e.Name() == "vectors.json" {
					continue
				}
				if _, ok := s.items[e.Name()]; !ok {
					_ = os.Remove(filepath.Join(s.dataDir, "vectors", e.Name()))
				}
			}
		}
		if err := s.rewriteMastersLocked(); err != nil {
			return pruned, err
		}
	}
	return pruned, nil
}

func (s *Store) filterExistingLocked(ids []string) []string {
	kept := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := s.items[id]; ok {
			kept = append(kept, id)
		}
	}
	return kept
}

func (s *Store) publishGauges() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.publishGaugesLocked()
}

func (s *Store) publishGaugesLocked() {
	counts := map[ItemType]int{}
	for _, item := range s.items {
		counts[item.Type]++
	}
	for _, t := range []ItemType{TypeWorking, TypeEpisodic, TypeSemantic, TypeProcedural} {
		metrics.MemoryItems.WithLabelValues(string(t)).Set(float64(counts[t]))
	}
}

// persistLocked writes the item and vector files plus both masters.
func (s *Store) persistLocked(id string) error {
	if s.dataDir == "" {
		return nil
	}

	item := s.items[id]
	if err := writeJSON(filepath.Join(s.dataDir, "memory", id), item); err != nil {
		return fmt.Errorf("persist memory item: %w", err)
	}
	if vec, ok := s.vectors[id]; ok {
		if err := writeJSON(filepath.Join(s.dataDir, "vectors", id), vec); err != nil {
			return fmt.Errorf("persist memory vector: %w", err)
		}
	}
	return s.rewriteMastersLocked()
}

// rewriteMastersLocked rewrites memory.json and vectors/vectors.json via
// temp file plus rename.
func (s *Store) rewriteMastersLocked() error {
	items := make([]*Item, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	vectors := make([]*Vector, 0, len(s.vectors))
	for _, v := range s.vectors {
		vectors = append(vectors, v)
	}
	sort.Slice(vectors, func(i, j int) bool { return vectors[i].ItemID < vectors[j].ItemID })

	if err := writeJSONAtomic(filepath.Join(s.dataDir, "memory.json"), items); err != nil {
		return fmt.Errorf("rewrite memory master: %w", err)
	}
	if err := writeJSONAtomic(filepath.Join(s.dataDir, "vectors", "vectors.json"), vectors); err != nil {
		return fmt.Errorf("rewrite vectors master: %w", err)
	}
	return nil
}

// load reads the master files; per-item files exist for external consumers
// and crash recovery but the masters are authoritative.
func (s *Store) load() error {
	var items []*Item
	if err := readJSON(filepath.Join(s.dataDir, "memory.json"), &items); err != nil {
		return fmt.Errorf("load memory master: %w", err)
	}
	for _, item := range items {
		s.items[item.ID] = item
	}

	var vectors []*Vector
	if err := readJSON(filepath.Join(s.dataDir, "vectors", "vectors.json"), &vectors); err != nil {
		return fmt.Errorf("load vectors master: %w", err)
	}
	for _, v := range vectors {
		if _, ok := s.items[v.ItemID]; ok {
			s.vectors[v.ItemID] = v
		}
	}

	s.logger.Info("memory store loaded", "items", len(s.items), "vectors", len(s.vectors))
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, v)
}
