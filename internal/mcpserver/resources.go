package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/cogitohq/cogito/internal/memory"
)

func (s *Server) registerResources() {
	s.mcp.AddResource(mcp.NewResource("mcp://config/thinking-models", "Thinking models",
		mcp.WithResourceDescription("Configured thinking model profiles and their token multipliers."),
		mcp.WithMIMEType("application/json"),
	), s.readThinkingModels)

	s.mcp.AddResource(mcp.NewResource("mcp://config/reasoning-systems", "Reasoning systems",
		mcp.WithResourceDescription("Configured multi-stage reasoning systems and their stages."),
		mcp.WithMIMEType("application/json"),
	), s.readReasoningSystems)

	s.mcp.AddResource(mcp.NewResource("mcp://memory/stats", "Memory statistics",
		mcp.WithResourceDescription("Item counts by type, connection and vector totals."),
		mcp.WithMIMEType("application/json"),
	), s.readMemoryStats)

	s.mcp.AddResourceTemplate(mcp.NewResourceTemplate("mcp://memory/{type}", "Memory items by type",
		mcp.WithTemplateDescription("All memory items of one type, newest first."),
		mcp.WithTemplateMIMEType("application/json"),
	), s.readMemoryByType)

	s.mcp.AddResourceTemplate(mcp.NewResourceTemplate("mcp://memory/item/{id}", "Memory item",
		mcp.WithTemplateDescription("A single memory item with its connections resolved."),
		mcp.WithTemplateMIMEType("application/json"),
	), s.readMemoryItem)

	s.mcp.AddResource(mcp.NewResource("mcp://cache/stats", "Cache statistics",
		mcp.WithResourceDescription("Hit and miss rates, entry counts, byte totals, per-type breakdown."),
		mcp.WithMIMEType("application/json"),
	), s.readCacheStats)

	s.mcp.AddResourceTemplate(mcp.NewResourceTemplate("mcp://cache/stats/{type}", "Cache statistics by type",
		mcp.WithTemplateDescription("The statistics breakdown for one cache type."),
		mcp.WithTemplateMIMEType("application/json"),
	), s.readCacheStatsByType)

	s.mcp.AddResource(mcp.NewResource("mcp://health/status", "Health status",
		mcp.WithResourceDescription("Per-service health and the overall verdict."),
		mcp.WithMIMEType("application/json"),
	), s.readHealthStatus)
}

// jsonContents renders v as the resource's JSON payload.
func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode resource %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: uri, MIMEType: "application/json", Text: string(data)},
	}, nil
}

func (s *Server) readThinkingModels(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonContents(req.Params.URI, map[string]any{
		"default_model": s.cfg.Thinking.DefaultModel,
		"max_steps":     s.cfg.Thinking.MaxSteps,
		"models":        s.cfg.Thinking.Models,
	})
}

func (s *Server) readReasoningSystems(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	systems := make(map[string]any)
	for _, name := range s.orchestrator.Systems() {
		stages, _ := s.orchestrator.StagesFor(name)
		systems[name] = stages
	}
	return jsonContents(req.Params.URI, map[string]any{"systems": systems})
}

func (s *Server) readMemoryStats(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonContents(req.Params.URI, s.store.Stats())
}

func (s *Server) readMemoryByType(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	itemType := strings.TrimPrefix(req.Params.URI, "mcp://memory/")
	if !memory.ValidType(memory.ItemType(itemType)) {
		return nil, fmt.Errorf("unknown memory type %q", itemType)
	}
	items := s.store.GetByType(memory.ItemType(itemType))
	return jsonContents(req.Params.URI, map[string]any{"type": itemType, "items": items})
}

func (s *Server) readMemoryItem(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	id := strings.TrimPrefix(req.Params.URI, "mcp://memory/item/")
	item := s.store.GetByID(id)
	if item == nil {
		return nil, fmt.Errorf("memory item %s not found", id)
	}
	connected, err := s.store.GetConnected(id)
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, map[string]any{"item": item, "connected": connected})
}

func (s *Server) readCacheStats(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonContents(req.Params.URI, s.cache.Stats())
}

func (s *Server) readCacheStatsByType(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	cacheType := strings.TrimPrefix(req.Params.URI, "mcp://cache/stats/")
	if cacheType == "" {
		return nil, fmt.Errorf("cache type is required")
	}
	return jsonContents(req.Params.URI, map[string]any{
		"type":  cacheType,
		"stats": s.cache.TypeStatsFor(cacheType),
	})
}

func (s *Server) readHealthStatus(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonContents(req.Params.URI, s.monitor.Snapshot())
}
