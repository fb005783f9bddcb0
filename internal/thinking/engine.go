package thinking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/cogitohq/cogito/internal/cache"
	"github.com/cogitohq/cogito/internal/config"
	"github.com/cogitohq/cogito/internal/metrics"
	"github.com/cogitohq/cogito/pkg/types"
)

const cacheTypeThinking = "thinking"

// Dispatcher resolves a request to a response across providers.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *types.LLMRequest) (*types.LLMResponse, error)
}

// stepCacheRecord is the cached result of one resolved step.
type stepCacheRecord struct {
	Reasoning string `json:"reasoning"`
	Tokens    int    `json:"tokens"`
}

// ProcessOptions tunes one Process call.
type ProcessOptions struct {
	MaxSteps  int
	Visualize bool
}

// Engine drives thinking processes. One goroutine per outstanding process;
// processes share no mutable state beyond the engine's collaborators.
type Engine struct {
	dispatcher Dispatcher
	cache      *cache.Cache
	history    *History
	cfg        config.ThinkingConfig
	logger     *slog.Logger

	mu     sync.RWMutex
	active map[string]*types.ThinkingProcess
}

// Options configures the engine.
type Options struct {
	Dispatcher Dispatcher
	Cache      *cache.Cache
	History    *History
	Config     config.ThinkingConfig
	Logger     *slog.Logger
}

// NewEngine creates a thinking engine.
func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Config.MaxSteps <= 0 {
		opts.Config.MaxSteps = 10
	}
	return &Engine{
		dispatcher: opts.Dispatcher,
		cache:      opts.Cache,
		history:    opts.History,
		cfg:        opts.Config,
		logger:     opts.Logger,
		active:     make(map[string]*types.ThinkingProcess),
	}
}

// UpdateConfig swaps the model table and step cap. In-flight processes keep
// the configuration they started with.
func (e *Engine) UpdateConfig(cfg config.ThinkingConfig) {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 10
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

func (e *Engine) snapshotConfig() config.ThinkingConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// resolveStrategy maps a requested model name to its profile and strategy.
// Unknown names fall back to the configured default; a profile without a
// pinned strategy auto-selects from the problem.
func (e *Engine) resolveStrategy(cfg config.ThinkingConfig, modelName, problem string) (string, Strategy, error) {
	profile, ok := cfg.ModelProfileFor(modelName)
	if !ok {
		if modelName != "" && modelName != cfg.DefaultModel {
			e.logger.Warn("unknown thinking model, using default",
				"requested", modelName, "default", cfg.DefaultModel)
		}
		profile, ok = cfg.ModelProfileFor(cfg.DefaultModel)
		if !ok {
			profile = config.ModelProfile{Name: cfg.DefaultModel}
		}
	}

	strategyName := profile.Strategy
	if strategyName == "" {
		strategyName = SelectStrategy(problem)
	}
	strategy, err := strategyByName(strategyName)
	if err != nil {
		return "", nil, err
	}
	return profile.Name, strategy, nil
}

// Process runs a full thinking process for the problem and returns the
// finished record. The returned process is terminal: completed or error.
func (e *Engine) Process(ctx context.Context, problem, modelName string, opts ProcessOptions) (*types.ThinkingProcess, error) {
	if strings.TrimSpace(problem) == "" {
		return nil, fmt.Errorf("problem must not be empty")
	}

	cfg := e.snapshotConfig()
	resolvedModel, strategy, err := e.resolveStrategy(cfg, modelName, problem)
	if err != nil {
		return nil, err
	}

	maxSteps := opts.MaxSteps
	if maxSteps <= 0 || maxSteps > cfg.MaxSteps {
		maxSteps = cfg.MaxSteps
	}

	proc := &types.ThinkingProcess{
		ProcessID: uuid.NewString(),
		Problem:   problem,
		ModelName: resolvedModel,
		StartedAt: time.Now(),
		Status:    types.ProcessInProgress,
	}
	e.track(proc)
	defer e.untrack(proc.ProcessID)

	plan := strategy.Plan(problem)
	if len(plan) > maxSteps {
		plan = plan[:maxSteps]
	}

	for i, stepPlan := range plan {
		if err := ctx.Err(); err != nil {
			e.finish(proc, types.ProcessError, fmt.Sprintf("canceled: %v", err))
			return proc, nil
		}

		step := types.ThinkingStep{
			ID:          i + 1,
			Description: stepPlan.Description,
			Status:      types.StepRunning,
			CreatedAt:   time.Now(),
		}
		prompt := strategy.BuildPrompt(problem, stepPlan, proc.Steps)

		reasoning, tokens, cached, err := e.resolveStep(ctx, strategy.SystemPrompt(), prompt, resolvedModel)
		if err != nil {
			step.Status = types.StepError
			proc.Steps = append(proc.Steps, step)
			e.finish(proc, types.ProcessError, err.Error())
			return proc, nil
		}

		step.Reasoning = reasoning
		step.Tokens = tokens
		step.Cached = cached
		step.Status = types.StepCompleted
		proc.Steps = append(proc.Steps, step)
	}

	if opts.Visualize {
		proc.Visualization = strategy.Visualize(proc.Steps)
	}
	e.finish(proc, types.ProcessCompleted, "")
	return proc, nil
}

// resolveStep serves a step from the cache or dispatches it.
func (e *Engine) resolveStep(ctx context.Context, systemPrompt, prompt, model string) (string, int, bool, error) {
	key := stepCacheKey(model, systemPrompt, prompt)

	if e.cache != nil {
		if raw, ok := e.cache.Get(ctx, cacheTypeThinking, key); ok {
			var rec stepCacheRecord
			if err := json.Unmarshal(raw, &rec); err == nil && rec.Reasoning != "" {
				return rec.Reasoning, rec.Tokens, true, nil
			}
		}
	}

	resp, err := e.dispatcher.Dispatch(ctx, &types.LLMRequest{
		Prompt:       prompt,
		SystemPrompt: systemPrompt,
	})
	if err != nil {
		return "", 0, false, err
	}

	if e.cache != nil {
		raw, err := json.Marshal(stepCacheRecord{Reasoning: resp.Text, Tokens: resp.Usage.TotalTokens})
		if err == nil {
			if err := e.cache.Set(ctx, cacheTypeThinking, key, raw, 0); err != nil {
				e.logger.Debug("step cache write failed", "error", err)
			}
		}
	}
	return resp.Text, resp.Usage.TotalTokens, false, nil
}

// stepCacheKey hashes the prompts so the key stays bounded regardless of
// problem size.
func stepCacheKey(model, systemPrompt, prompt string) string {
	sys := sha256.Sum256([]byte(systemPrompt))
	usr := sha256.Sum256([]byte(prompt))
	return fmt.Sprintf("%s:%s:%s", model, hex.EncodeToString(sys[:]), hex.EncodeToString(usr[:]))
}

// finish applies a one-shot terminal transition and persists the record.
func (e *Engine) finish(proc *types.ThinkingProcess, status types.ProcessStatus, errMsg string) {
	if proc.Status != types.ProcessInProgress {
		return
	}
	proc.Status = status
	proc.Error = errMsg
	end := time.Now()
	if status == types.ProcessCompleted && len(proc.Steps) > 0 {
		end = proc.Steps[len(proc.Steps)-1].CreatedAt
	}
	proc.DurationMs = end.Sub(proc.StartedAt).Milliseconds()

	metrics.ThinkingProcesses.WithLabelValues(string(status)).Inc()

	if e.history != nil {
		if err := e.history.Save(proc); err != nil {
			e.logger.Warn("failed to persist thinking process",
				"process_id", proc.ProcessID, "error", err)
		}
	}
	e.logger.Info("thinking process finished",
		"process_id", proc.ProcessID,
		"status", status,
		"steps", len(proc.Steps),
		"duration_ms", proc.DurationMs)
}

func (e *Engine) track(proc *types.ThinkingProcess) {
	e.mu.Lock()
	e.active[proc.ProcessID] = proc
	e.mu.Unlock()
}

func (e *Engine) untrack(id string) {
	e.mu.Lock()
	delete(e.active, id)
	e.mu.Unlock()
}

// PruneHistory compacts persisted history down to limit records.
func (e *Engine) PruneHistory(limit int) int {
	if e.history == nil {
		return 0
	}
	return e.history.Prune(limit)
}

// ActiveCount reports the number of processes currently running.
func (e *Engine) ActiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.active)
}
