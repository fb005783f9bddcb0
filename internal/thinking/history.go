package thinking

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/cogitohq/cogito/pkg/types"
)

// History persists finished process records, one file per process under
// <dataDir>/thinking/<processId>, with a resident index for listings.
type History struct {
	mu      sync.RWMutex
	dir     string // empty means in-memory only
	records map[string]*types.ThinkingProcess
}

// NewHistory creates a history store and loads existing records.
func NewHistory(dataDir string) (*History, error) {
	h := &History{records: make(map[string]*types.ThinkingProcess)}
	if dataDir == "" {
		return h, nil
	}

	h.dir = filepath.Join(dataDir, "thinking")
	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create thinking dir: %w", err)
	}

	entries, err := os.ReadDir(h.dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(h.dir, e.Name()))
		if err != nil {
			continue
		}
		var proc types.ThinkingProcess
		if err := json.Unmarshal(data, &proc); err != nil || proc.ProcessID == "" {
			continue
		}
		h.records[proc.ProcessID] = &proc
	}
	return h, nil
}

// Save stores a finished record.
func (h *History) Save(proc *types.ThinkingProcess) error {
	h.mu.Lock()
	h.records[proc.ProcessID] = proc
	h.mu.Unlock()

	if h.dir == "" {
		return nil
	}
	data, err := json.Marshal(proc)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(h.dir, proc.ProcessID), data, 0o644)
}

// Prune drops the oldest records beyond limit, removing their files.
// Returns the number removed.
func (h *History) Prune(limit int) int {
	if limit <= 0 {
		return 0
	}
	ordered := h.List(0)
	if len(ordered) <= limit {
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	removed := 0
	for _, proc := range ordered[limit:] {
		delete(h.records, proc.ProcessID)
		if h.dir != "" {
			_ = os.Remove(filepath.Join(h.dir, proc.ProcessID))
		}
		removed++
	}
	return removed
}

// Get returns one record by process id.
func (h *History) Get(processID string) (*types.ThinkingProcess, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	proc, ok := h.records[processID]
	return proc, ok
}

// List returns records newest first, capped at limit (0 means all).
func (h *History) List(limit int) []*types.ThinkingProcess {
	h.mu.RLock()
	out := make([]*types.ThinkingProcess, 0, len(h.records))
	for _, proc := range h.records {
		out = append(out, proc)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
