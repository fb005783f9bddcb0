package token

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTiers() []Tier {
	return []Tier{
		{Name: "fast", Model: "gpt-4o-mini", MaxTokens: 100},
		{Name: "balanced", Model: "gpt-4o", MaxTokens: 1000},
		{Name: "deep", Model: "o1", MaxTokens: 10000},
	}
}

func TestEstimate(t *testing.T) {
	o := NewOptimizer(Config{})

	assert.Equal(t, 0, o.Estimate(""))

	// 40 chars of prose: chars/4 = 10, words*1.3 is lower.
	est := o.Estimate(strings.Repeat("abcdefghij", 4))
	assert.Equal(t, 10, est)

	// Many short words: word-based estimate dominates.
	est = o.Estimate(strings.TrimSpace(strings.Repeat("a ", 100)))
	assert.InDelta(t, 130, est, 1)
}

func TestOptimize_TierSelection(t *testing.T) {
	o := NewOptimizer(Config{Tiers: testTiers()})

	short := o.Optimize("tiny", "", 1.0)
	assert.Equal(t, "gpt-4o-mini", short.SelectedModel)
	assert.Equal(t, "fast", short.Strategy)

	long := o.Optimize(strings.Repeat("word ", 500), "", 1.0)
	assert.Equal(t, "gpt-4o", long.SelectedModel)

	huge := o.Optimize(strings.Repeat("word ", 50000), "", 1.0)
	assert.Equal(t, "o1", huge.SelectedModel)
}

func TestOptimize_UserSelectedWins(t *testing.T) {
	o := NewOptimizer(Config{Tiers: testTiers()})

	opt := o.Optimize("whatever", "claude-sonnet", 1.0)
	assert.Equal(t, "claude-sonnet", opt.SelectedModel)
	assert.Equal(t, "user_selected", opt.Strategy)
}

func TestOptimize_MultiplierScalesEstimate(t *testing.T) {
	o := NewOptimizer(Config{Tiers: testTiers()})

	plain := o.Optimize("some prompt text here", "", 1.0)
	scaled := o.Optimize("some prompt text here", "", 2.0)
	assert.Equal(t, plain.EstimatedTokens*2, scaled.EstimatedTokens)
}

func TestRecordActualAndStats(t *testing.T) {
	o := NewOptimizer(Config{DataDir: t.TempDir()})

	o.RecordActual("problem-1", 100, 110, "gpt-4o")
	o.RecordActual("problem-1", 100, 90, "gpt-4o")
	o.RecordActual("problem-2", 50, 50, "gpt-4o")

	s := o.Stats()
	assert.Equal(t, int64(3), s.Records)
	assert.Equal(t, 2, s.Patterns)
	assert.Equal(t, int64(250), s.EstimatedTotal)
	assert.Equal(t, int64(250), s.ActualTotal)
	assert.InDelta(t, 20.0/3.0, s.MeanAbsError, 0.01)
}

func TestPatternStatsFor(t *testing.T) {
	o := NewOptimizer(Config{DataDir: t.TempDir()})

	_, ok := o.PatternStatsFor("gpt-4o", "problem-1")
	assert.False(t, ok)

	o.RecordActual("problem-1", 100, 110, "gpt-4o")
	o.RecordActual("problem-1", 100, 90, "gpt-4o")

	stats, ok := o.PatternStatsFor("gpt-4o", "problem-1")
	require.True(t, ok)
	assert.Equal(t, 2, stats.Samples)
	assert.Equal(t, int64(200), stats.TotalEstimated)
	assert.Equal(t, int64(20), stats.AbsErrorSum)

	// The returned value is a snapshot; mutating it must not leak back.
	stats.Samples = 99
	again, ok := o.PatternStatsFor("gpt-4o", "problem-1")
	require.True(t, ok)
	assert.Equal(t, 2, again.Samples)

	_, ok = o.PatternStatsFor("other-model", "problem-1")
	assert.False(t, ok)
}

func TestPatternStatsForSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	o1 := NewOptimizer(Config{DataDir: dir})
	o1.RecordActual("problem-1", 100, 120, "gpt-4o")

	// A fresh optimizer starts with a cold hot-cache and reads from the
	// loaded pattern table.
	o2 := NewOptimizer(Config{DataDir: dir})
	stats, ok := o2.PatternStatsFor("gpt-4o", "problem-1")
	require.True(t, ok)
	assert.Equal(t, 1, stats.Samples)
	assert.Equal(t, int64(20), stats.AbsErrorSum)
}

func TestHistoryPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	o1 := NewOptimizer(Config{DataDir: dir})
	o1.RecordActual("problem-1", 100, 120, "gpt-4o")

	o2 := NewOptimizer(Config{DataDir: dir})
	s := o2.Stats()
	assert.Equal(t, 1, s.Patterns)
	assert.Equal(t, int64(100), s.EstimatedTotal)
}

func TestMaintenanceCompacts(t *testing.T) {
	o := NewOptimizer(Config{DataDir: t.TempDir(), HistoryLimit: 2})

	o.RecordActual("p1", 10, 10, "m")
	o.RecordActual("p2", 10, 10, "m")
	o.RecordActual("p3", 10, 10, "m")

	removed := o.Maintenance()
	require.Equal(t, 1, removed)
	assert.Equal(t, 2, o.Stats().Patterns)

	assert.Equal(t, 0, o.Maintenance())
}
