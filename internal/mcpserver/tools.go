package mcpserver

import (
	"context"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/cogitohq/cogito/internal/cache"
	"github.com/cogitohq/cogito/internal/memory"
	"github.com/cogitohq/cogito/internal/thinking"
	"github.com/cogitohq/cogito/internal/token"
	cogitoerrors "github.com/cogitohq/cogito/pkg/errors"
	"github.com/cogitohq/cogito/pkg/types"
)

const (
	cacheTypeGeneration  = "generation_cache"
	defaultRetrieveLimit = 5
)

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("thinking_process",
		mcp.WithDescription("Run a structured multi-step reasoning process over a problem statement."),
		mcp.WithString("problem", mcp.Required(), mcp.Description("The problem to reason about.")),
		mcp.WithString("thinking_model", mcp.Description("Thinking model profile name; unknown names fall back to the default.")),
		mcp.WithBoolean("include_visualization", mcp.Description("Attach a node/edge visualization of the step graph.")),
		mcp.WithBoolean("optimize_tokens", mcp.Description("Attach token optimization metadata and record actual usage.")),
		mcp.WithNumber("max_steps", mcp.Description("Cap on reasoning steps for this call.")),
	), s.handleThinkingProcess)

	s.mcp.AddTool(mcp.NewTool("generate_with_mcp",
		mcp.WithDescription("Generate a completion through the provider fallback chain, with caching and model tier selection."),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("The generation prompt.")),
		mcp.WithString("model", mcp.Description("Preferred model; overrides tier selection.")),
		mcp.WithNumber("max_tokens", mcp.Description("Completion token limit.")),
		mcp.WithBoolean("optimize_tokens", mcp.Description("Select a model tier from the token estimate (default true).")),
	), s.handleGenerate)

	s.mcp.AddTool(mcp.NewTool("run_reasoning_pipeline",
		mcp.WithDescription("Run a configured multi-stage reasoning system over a query."),
		mcp.WithString("system", mcp.Required(), mcp.Description("Reasoning system name from the settings file.")),
		mcp.WithString("query", mcp.Required(), mcp.Description("The query to analyze.")),
	), s.handleRunPipeline)

	s.mcp.AddTool(mcp.NewTool("store_memory",
		mcp.WithDescription("Store a typed memory item with optional connections to existing items."),
		mcp.WithString("type", mcp.Required(), mcp.Description("One of working, episodic, semantic, procedural.")),
		mcp.WithString("content", mcp.Required(), mcp.Description("The content to remember.")),
		mcp.WithNumber("importance", mcp.Description("Importance in [0,1]; defaults from settings.")),
		mcp.WithArray("connections", mcp.Description("Ids of related items."), mcp.Items(map[string]any{"type": "string"})),
	), s.handleStoreMemory)

	s.mcp.AddTool(mcp.NewTool("retrieve_memory",
		mcp.WithDescription("Retrieve memory items ranked by hybrid semantic and lexical relevance."),
		mcp.WithString("query", mcp.Required(), mcp.Description("The retrieval query.")),
		mcp.WithNumber("limit", mcp.Description("Maximum items to return.")),
		mcp.WithString("type", mcp.Description("Restrict results to one memory type.")),
	), s.handleRetrieveMemory)

	s.mcp.AddTool(mcp.NewTool("check_cache",
		mcp.WithDescription("Look up a cached value by key or canonical fingerprint."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Cache type, e.g. reasoning_cache.")),
		mcp.WithString("key", mcp.Description("Exact cache key.")),
		mcp.WithString("fingerprint", mcp.Description("JSON object fingerprinted to a deterministic key.")),
	), s.handleCheckCache)

	s.mcp.AddTool(mcp.NewTool("store_cache",
		mcp.WithDescription("Store a value under a key or canonical fingerprint."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Cache type, e.g. reasoning_cache.")),
		mcp.WithString("key", mcp.Description("Exact cache key.")),
		mcp.WithString("fingerprint", mcp.Description("JSON object fingerprinted to a deterministic key.")),
		mcp.WithString("value", mcp.Required(), mcp.Description("The value to cache.")),
		mcp.WithNumber("ttl_seconds", mcp.Description("TTL override; 0 uses the type's configured TTL.")),
	), s.handleStoreCache)

	s.mcp.AddTool(mcp.NewTool("perform_maintenance",
		mcp.WithDescription("Run maintenance on the selected subsystems and report cleaned counts."),
		mcp.WithArray("systems", mcp.Required(),
			mcp.Description("Any of cache, memory, thinking, optimization, all."),
			mcp.Items(map[string]any{"type": "string"})),
	), s.handleMaintenance)

	s.mcp.AddTool(mcp.NewTool("estimate_token_count",
		mcp.WithDescription("Estimate the token count of a text."),
		mcp.WithString("text", mcp.Required(), mcp.Description("The text to estimate.")),
	), s.handleEstimateTokens)

	s.mcp.AddTool(mcp.NewTool("update_token_metrics",
		mcp.WithDescription("Record an estimate-vs-actual token observation for a problem pattern."),
		mcp.WithString("problem_id", mcp.Required(), mcp.Description("Stable identifier of the problem pattern.")),
		mcp.WithNumber("estimated", mcp.Required(), mcp.Description("Estimated token count.")),
		mcp.WithNumber("actual", mcp.Required(), mcp.Description("Actual token count reported by the provider.")),
		mcp.WithString("model", mcp.Required(), mcp.Description("Model the observation belongs to.")),
	), s.handleUpdateTokenMetrics)

	s.mcp.AddTool(mcp.NewTool("get_token_optimization_stats",
		mcp.WithDescription("Report aggregate token estimation accuracy statistics."),
	), s.handleTokenStats)
}

func (s *Server) handleThinkingProcess(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	problem, err := req.RequireString("problem")
	if err != nil || strings.TrimSpace(problem) == "" {
		return errorResult(cogitoerrors.TypeInvalidRequest, "problem must be a non-empty string",
			"pass the problem statement in the \"problem\" argument"), nil
	}
	modelName := req.GetString("thinking_model", "")
	optimize := req.GetBool("optimize_tokens", false)

	proc, err := s.engine.Process(ctx, problem, modelName, thinking.ProcessOptions{
		MaxSteps:  req.GetInt("max_steps", 0),
		Visualize: req.GetBool("include_visualization", false),
	})
	if err != nil {
		return failureResult(err), nil
	}

	if !optimize {
		return jsonResult(proc), nil
	}

	multiplier := 1.0
	if profile, ok := s.cfg.Thinking.ModelProfileFor(proc.ModelName); ok && profile.TokenMultiplier > 0 {
		multiplier = profile.TokenMultiplier
	}
	opt := s.optimizer.Optimize(problem, "", multiplier)

	actual := 0
	for _, step := range proc.Steps {
		actual += step.Tokens
	}
	s.optimizer.RecordActual(problem, opt.EstimatedTokens, actual, proc.ModelName)

	return jsonResult(map[string]any{
		"process": proc,
		"optimization": map[string]any{
			"selected_model":   opt.SelectedModel,
			"estimated_tokens": opt.EstimatedTokens,
			"actual_tokens":    actual,
			"strategy":         opt.Strategy,
		},
	}), nil
}

// generationRecord is the cached shape of one completed generation.
type generationRecord struct {
	Text  string           `json:"text"`
	Model string           `json:"model"`
	Usage types.TokenUsage `json:"usage"`
}

func (s *Server) handleGenerate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt, err := req.RequireString("prompt")
	if err != nil || strings.TrimSpace(prompt) == "" {
		return errorResult(cogitoerrors.TypeInvalidRequest, "prompt must be a non-empty string",
			"pass the generation prompt in the \"prompt\" argument"), nil
	}
	model := req.GetString("model", "")
	maxTokens := req.GetInt("max_tokens", 0)
	optimize := req.GetBool("optimize_tokens", true)

	var opt token.Optimization
	if optimize {
		opt = s.optimizer.Optimize(prompt, model, 1.0)
		model = opt.SelectedModel
	}

	key, err := cache.FingerprintKey(map[string]any{
		"prompt":     prompt,
		"model":      model,
		"max_tokens": maxTokens,
	})
	if err != nil {
		return errorResult(cogitoerrors.TypeInternal, "fingerprint generation request: "+err.Error()), nil
	}

	if s.cache != nil {
		if raw, ok := s.cache.Get(ctx, cacheTypeGeneration, key); ok {
			var rec generationRecord
			if err := json.Unmarshal(raw, &rec); err == nil && rec.Text != "" {
				return jsonResult(s.generationResult(rec, true, 0, optimize, opt)), nil
			}
		}
	}

	start := time.Now()
	resp, err := s.dispatcher.Dispatch(ctx, &types.LLMRequest{
		Prompt:    prompt,
		Model:     model,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return failureResult(err), nil
	}
	latency := time.Since(start).Milliseconds()

	rec := generationRecord{Text: resp.Text, Model: resp.Model, Usage: resp.Usage}
	if s.cache != nil {
		if raw, err := json.Marshal(rec); err == nil {
			if err := s.cache.Set(ctx, cacheTypeGeneration, key, raw, 0); err != nil {
				s.logger.Debug("generation cache write failed", "error", err)
			}
		}
	}
	if optimize {
		s.optimizer.RecordActual(prompt, opt.EstimatedTokens, resp.Usage.TotalTokens, rec.Model)
	}
	return jsonResult(s.generationResult(rec, false, latency, optimize, opt)), nil
}

func (s *Server) generationResult(rec generationRecord, cached bool, latencyMs int64, optimized bool, opt token.Optimization) map[string]any {
	out := map[string]any{
		"text":       rec.Text,
		"model":      rec.Model,
		"usage":      rec.Usage,
		"cached":     cached,
		"latency_ms": latencyMs,
	}
	if optimized {
		out["optimization"] = map[string]any{
			"selected_model":   opt.SelectedModel,
			"estimated_tokens": opt.EstimatedTokens,
			"strategy":         opt.Strategy,
		}
	}
	return out
}

func (s *Server) handleRunPipeline(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	system, err := req.RequireString("system")
	if err != nil || strings.TrimSpace(system) == "" {
		return errorResult(cogitoerrors.TypeInvalidRequest, "system must be a non-empty string",
			"read mcp://config/reasoning-systems for the configured systems"), nil
	}
	query, err := req.RequireString("query")
	if err != nil || strings.TrimSpace(query) == "" {
		return errorResult(cogitoerrors.TypeInvalidRequest, "query must be a non-empty string"), nil
	}
	if _, ok := s.orchestrator.StagesFor(system); !ok {
		return errorResult(cogitoerrors.TypeInvalidRequest, "unknown reasoning system "+system,
			"read mcp://config/reasoning-systems for the configured systems"), nil
	}

	result, err := s.orchestrator.Run(ctx, system, query)
	if err != nil {
		return failureResult(err), nil
	}
	return jsonResult(result), nil
}

func (s *Server) handleStoreMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	itemType, err := req.RequireString("type")
	if err != nil || !memory.ValidType(memory.ItemType(itemType)) {
		return errorResult(cogitoerrors.TypeInvalidRequest, "type must be one of working, episodic, semantic, procedural"), nil
	}
	content, err := req.RequireString("content")
	if err != nil || content == "" {
		return errorResult(cogitoerrors.TypeInvalidRequest, "content must be a non-empty string"), nil
	}

	importance := req.GetFloat("importance", s.cfg.Memory.DefaultImportance)
	if importance < 0 || importance > 1 {
		return errorResult(cogitoerrors.TypeInvalidRequest, "importance must be within [0,1]"), nil
	}

	item := &memory.Item{
		Type:        memory.ItemType(itemType),
		Content:     content,
		Importance:  importance,
		Connections: req.GetStringSlice("connections", nil),
	}
	id, err := s.store.Store(ctx, item)
	if err != nil {
		return failureResult(err), nil
	}
	return jsonResult(map[string]any{"id": id, "type": itemType, "importance": importance}), nil
}

func (s *Server) handleRetrieveMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil || strings.TrimSpace(query) == "" {
		return errorResult(cogitoerrors.TypeInvalidRequest, "query must be a non-empty string"), nil
	}
	typeFilter := req.GetString("type", "")
	if typeFilter != "" && !memory.ValidType(memory.ItemType(typeFilter)) {
		return errorResult(cogitoerrors.TypeInvalidRequest, "type must be one of working, episodic, semantic, procedural"), nil
	}

	limit := req.GetInt("limit", s.cfg.Memory.RetrieveLimit)
	if limit <= 0 {
		limit = defaultRetrieveLimit
	}
	// Over-fetch when filtering so the filter does not starve the result.
	fetch := limit
	if typeFilter != "" {
		fetch = limit * 4
	}
	scored, err := s.store.Retrieve(ctx, query, fetch)
	if err != nil {
		return failureResult(err), nil
	}

	if typeFilter != "" {
		kept := scored[:0]
		for _, si := range scored {
			if si.Item.Type == memory.ItemType(typeFilter) {
				kept = append(kept, si)
			}
		}
		scored = kept
		if len(scored) > limit {
			scored = scored[:limit]
		}
	}
	return jsonResult(map[string]any{"query": query, "results": scored}), nil
}

// cacheKeyFromRequest resolves the key argument pair: an exact key or a
// fingerprint object rendered to a canonical hash.
func cacheKeyFromRequest(req mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	if key := req.GetString("key", ""); key != "" {
		return key, nil
	}
	raw := req.GetString("fingerprint", "")
	if raw == "" {
		return "", errorResult(cogitoerrors.TypeInvalidRequest, "either key or fingerprint is required")
	}
	var obj any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return "", errorResult(cogitoerrors.TypeInvalidRequest, "fingerprint must be valid JSON")
	}
	key, err := cache.FingerprintKey(obj)
	if err != nil {
		return "", errorResult(cogitoerrors.TypeInvalidRequest, "fingerprint could not be canonicalized: "+err.Error())
	}
	return key, nil
}

func (s *Server) handleCheckCache(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cacheType, err := req.RequireString("type")
	if err != nil || cacheType == "" {
		return errorResult(cogitoerrors.TypeInvalidRequest, "type must be a non-empty string"), nil
	}
	key, errRes := cacheKeyFromRequest(req)
	if errRes != nil {
		return errRes, nil
	}

	value, ok := s.cache.Get(ctx, cacheType, key)
	if !ok {
		return jsonResult(map[string]any{"hit": false}), nil
	}
	return jsonResult(map[string]any{"hit": true, "value": string(value)}), nil
}

func (s *Server) handleStoreCache(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cacheType, err := req.RequireString("type")
	if err != nil || cacheType == "" {
		return errorResult(cogitoerrors.TypeInvalidRequest, "type must be a non-empty string"), nil
	}
	value, err := req.RequireString("value")
	if err != nil {
		return errorResult(cogitoerrors.TypeInvalidRequest, "value must be a string"), nil
	}
	key, errRes := cacheKeyFromRequest(req)
	if errRes != nil {
		return errRes, nil
	}

	ttl := time.Duration(req.GetInt("ttl_seconds", 0)) * time.Second
	if err := s.cache.Set(ctx, cacheType, key, []byte(value), ttl); err != nil {
		return failureResult(err), nil
	}
	return jsonResult(map[string]any{"stored": true, "type": cacheType}), nil
}

// historyPruneLimit caps thinking history growth; maintenance drops the
// oldest records beyond it.
const historyPruneLimit = 1000

func (s *Server) handleMaintenance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	systems := req.GetStringSlice("systems", nil)
	if len(systems) == 0 {
		return errorResult(cogitoerrors.TypeInvalidRequest, "systems must list at least one subsystem",
			"pass [\"all\"] to run maintenance everywhere"), nil
	}

	want := make(map[string]bool, len(systems))
	for _, sys := range systems {
		switch sys {
		case "all":
			want["cache"], want["memory"], want["thinking"], want["optimization"] = true, true, true, true
		case "cache", "memory", "thinking", "optimization":
			want[sys] = true
		default:
			return errorResult(cogitoerrors.TypeInvalidRequest, "unknown subsystem "+sys,
				"valid subsystems are cache, memory, thinking, optimization, all"), nil
		}
	}

	cleaned := make(map[string]int, len(want))
	if want["cache"] {
		n, err := s.cache.Maintenance(ctx)
		if err != nil {
			return failureResult(err), nil
		}
		cleaned["cache"] = n
	}
	if want["memory"] {
		n, err := s.store.Maintenance(ctx)
		if err != nil {
			return failureResult(err), nil
		}
		cleaned["memory"] = n
	}
	if want["thinking"] {
		cleaned["thinking"] = s.engine.PruneHistory(historyPruneLimit)
	}
	if want["optimization"] {
		cleaned["optimization"] = s.optimizer.Maintenance()
	}
	return jsonResult(cleaned), nil
}

func (s *Server) handleEstimateTokens(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return errorResult(cogitoerrors.TypeInvalidRequest, "text must be a string"), nil
	}
	return jsonResult(map[string]any{
		"estimated_tokens": s.optimizer.Estimate(text),
		"characters":       len(text),
		"words":            len(strings.Fields(text)),
	}), nil
}

func (s *Server) handleUpdateTokenMetrics(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	problemID, err := req.RequireString("problem_id")
	if err != nil || problemID == "" {
		return errorResult(cogitoerrors.TypeInvalidRequest, "problem_id must be a non-empty string"), nil
	}
	model, err := req.RequireString("model")
	if err != nil || model == "" {
		return errorResult(cogitoerrors.TypeInvalidRequest, "model must be a non-empty string"), nil
	}
	estimated, err := req.RequireInt("estimated")
	if err != nil || estimated < 0 {
		return errorResult(cogitoerrors.TypeInvalidRequest, "estimated must be a non-negative integer"), nil
	}
	actual, err := req.RequireInt("actual")
	if err != nil || actual < 0 {
		return errorResult(cogitoerrors.TypeInvalidRequest, "actual must be a non-negative integer"), nil
	}

	s.optimizer.RecordActual(problemID, estimated, actual, model)

	out := map[string]any{"recorded": true}
	if stats, ok := s.optimizer.PatternStatsFor(model, problemID); ok {
		out["samples"] = stats.Samples
		out["mean_abs_error"] = float64(stats.AbsErrorSum) / float64(stats.Samples)
	}
	return jsonResult(out), nil
}

func (s *Server) handleTokenStats(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.optimizer.Stats()), nil
}
