// Package token implements token estimation, model tier selection, and
// estimate-vs-actual accuracy tracking.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gocache "github.com/patrickmn/go-cache"
)

const historyDirName = "token_history"

// Optimizer estimates token usage and selects model tiers. Safe for
// concurrent use.
type Optimizer struct {
	mu sync.Mutex

	charsPerToken  float64
	wordMultiplier float64
	tiers          []Tier
	historyLimit   int

	dataDir   string
	degraded  bool // disk writes failed once; stay in-memory
	hot       *gocache.Cache
	patterns  map[string]*PatternStats
	logger    *slog.Logger
	estimates int64
	records   int64
}

// Tier maps a token budget to a model.
type Tier struct {
	Name      string
	Model     string
	MaxTokens int
}

// PatternStats accumulates estimate-vs-actual accuracy for one
// model/prompt-pattern pair.
type PatternStats struct {
	Model          string    `json:"model"`
	PatternHash    string    `json:"pattern_hash"`
	Samples        int       `json:"samples"`
	TotalEstimated int64     `json:"total_estimated"`
	TotalActual    int64     `json:"total_actual"`
	AbsErrorSum    int64     `json:"abs_error_sum"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Optimization is the result of a model selection.
type Optimization struct {
	SelectedModel   string `json:"selected_model"`
	EstimatedTokens int    `json:"estimated_tokens"`
	Strategy        string `json:"strategy"`
}

// Config controls the optimizer.
type Config struct {
	CharsPerToken  float64
	WordMultiplier float64
	Tiers          []Tier
	HistoryLimit   int
	DataDir        string
	Logger         *slog.Logger
}

// NewOptimizer creates an optimizer and loads persisted pattern history.
func NewOptimizer(cfg Config) *Optimizer {
	if cfg.CharsPerToken <= 0 {
		cfg.CharsPerToken = 4
	}
	if cfg.WordMultiplier <= 0 {
		cfg.WordMultiplier = 1.3
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 1000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	o := &Optimizer{
		charsPerToken:  cfg.CharsPerToken,
		wordMultiplier: cfg.WordMultiplier,
		tiers:          cfg.Tiers,
		historyLimit:   cfg.HistoryLimit,
		dataDir:        cfg.DataDir,
		hot:            gocache.New(time.Hour, 10*time.Minute),
		patterns:       make(map[string]*PatternStats),
		logger:         cfg.Logger,
	}
	o.loadHistory()
	return o
}

// Estimate returns a heuristic token count for the given text. It blends a
// character-based estimate with a whitespace-word estimate and takes the
// larger of the two, which tracks real tokenizers closely enough for
// budgeting decisions.
func (o *Optimizer) Estimate(text string) int {
	if text == "" {
		return 0
	}
	o.mu.Lock()
	o.estimates++
	o.mu.Unlock()

	byChars := float64(len(text)) / o.charsPerToken
	byWords := float64(len(strings.Fields(text))) * o.wordMultiplier
	est := byChars
	if byWords > est {
		est = byWords
	}
	return int(est + 0.5)
}

// Optimize selects a model tier for the prompt. A caller-preferred model is
// honored when given; otherwise the cheapest tier whose budget covers the
// estimate (scaled by the model multiplier) wins.
func (o *Optimizer) Optimize(prompt, preferredModel string, multiplier float64) Optimization {
	if multiplier <= 0 {
		multiplier = 1.0
	}
	estimated := int(float64(o.Estimate(prompt)) * multiplier)

	if preferredModel != "" {
		return Optimization{
			SelectedModel:   preferredModel,
			EstimatedTokens: estimated,
			Strategy:        "user_selected",
		}
	}

	for _, tier := range o.tiers {
		if estimated <= tier.MaxTokens {
			return Optimization{
				SelectedModel:   tier.Model,
				EstimatedTokens: estimated,
				Strategy:        tier.Name,
			}
		}
	}

	// Beyond every tier budget: take the largest tier.
	if len(o.tiers) > 0 {
		last := o.tiers[len(o.tiers)-1]
		return Optimization{
			SelectedModel:   last.Model,
			EstimatedTokens: estimated,
			Strategy:        last.Name,
		}
	}
	return Optimization{EstimatedTokens: estimated, Strategy: "default"}
}

// RecordActual accumulates an estimate-vs-actual observation for the given
// problem pattern and model.
func (o *Optimizer) RecordActual(problemID string, estimated, actual int, model string) {
	key := o.patternKey(model, problemID)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.records++

	stats, ok := o.patterns[key]
	if !ok {
		stats = &PatternStats{Model: model, PatternHash: patternHash(problemID)}
		o.patterns[key] = stats
	}
	stats.Samples++
	stats.TotalEstimated += int64(estimated)
	stats.TotalActual += int64(actual)
	diff := int64(estimated - actual)
	if diff < 0 {
		diff = -diff
	}
	stats.AbsErrorSum += diff
	stats.UpdatedAt = time.Now()

	o.hot.Set(key, *stats, gocache.DefaultExpiration)
	o.persistPattern(key, stats)
}

// PatternStatsFor returns the accumulated accuracy for one model/problem
// pattern. Recently recorded patterns are served from the hot cache without
// taking the optimizer lock.
func (o *Optimizer) PatternStatsFor(model, problemID string) (PatternStats, bool) {
	key := o.patternKey(model, problemID)

	if v, ok := o.hot.Get(key); ok {
		if stats, ok := v.(PatternStats); ok {
			return stats, true
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	stats, ok := o.patterns[key]
	if !ok {
		return PatternStats{}, false
	}
	o.hot.Set(key, *stats, gocache.DefaultExpiration)
	return *stats, true
}

// Stats reports aggregate estimation accuracy.
type Stats struct {
	Estimates      int64   `json:"estimates"`
	Records        int64   `json:"records"`
	Patterns       int     `json:"patterns"`
	MeanAbsError   float64 `json:"mean_abs_error"`
	EstimatedTotal int64   `json:"estimated_total"`
	ActualTotal    int64   `json:"actual_total"`
}

// Stats returns aggregate accuracy statistics.
func (o *Optimizer) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Stats{
		Estimates: o.estimates,
		Records:   o.records,
		Patterns:  len(o.patterns),
	}
	var samples int64
	for _, p := range o.patterns {
		s.EstimatedTotal += p.TotalEstimated
		s.ActualTotal += p.TotalActual
		s.MeanAbsError += float64(p.AbsErrorSum)
		samples += int64(p.Samples)
	}
	if samples > 0 {
		s.MeanAbsError /= float64(samples)
	}
	return s
}

// Maintenance compacts pattern history down to the configured limit,
// dropping the least recently updated patterns first. Returns the number
// of patterns removed.
func (o *Optimizer) Maintenance() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.patterns) <= o.historyLimit {
		return 0
	}

	type aged struct {
		key string
		at  time.Time
	}
	all := make([]aged, 0, len(o.patterns))
	for k, p := range o.patterns {
		all = append(all, aged{key: k, at: p.UpdatedAt})
	}
	// Oldest first.
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j].at.Before(all[j-1].at); j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}

	removed := 0
	for _, a := range all {
		if len(o.patterns) <= o.historyLimit {
			break
		}
		delete(o.patterns, a.key)
		o.hot.Delete(a.key)
		o.removePatternFile(a.key)
		removed++
	}
	return removed
}

func (o *Optimizer) patternKey(model, problemID string) string {
	return fmt.Sprintf("%s:%s", model, patternHash(problemID))
}

func patternHash(problemID string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(problemID))))
	return hex.EncodeToString(sum[:8])
}

func (o *Optimizer) historyDir() string {
	return filepath.Join(o.dataDir, historyDirName)
}

func (o *Optimizer) loadHistory() {
	if o.dataDir == "" {
		return
	}
	entries, err := os.ReadDir(o.historyDir())
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(o.historyDir(), entry.Name()))
		if err != nil {
			continue
		}
		var stats PatternStats
		if err := json.Unmarshal(data, &stats); err != nil {
			// Corrupt history files are removed on sight.
			_ = os.Remove(filepath.Join(o.historyDir(), entry.Name()))
			continue
		}
		o.patterns[entry.Name()] = &stats
	}
}

func (o *Optimizer) persistPattern(key string, stats *PatternStats) {
	if o.dataDir == "" || o.degraded {
		return
	}
	if err := os.MkdirAll(o.historyDir(), 0o755); err != nil {
		o.degrade(err)
		return
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(o.historyDir(), key), data, 0o644); err != nil {
		o.degrade(err)
	}
}

func (o *Optimizer) removePatternFile(key string) {
	if o.dataDir == "" || o.degraded {
		return
	}
	_ = os.Remove(filepath.Join(o.historyDir(), key))
}

// degrade switches to in-memory-only mode with a single warning.
func (o *Optimizer) degrade(err error) {
	if !o.degraded {
		o.degraded = true
		o.logger.Warn("token history persistence disabled for this session", "error", err)
	}
}
