// Package main is the entry point for the cogito MCP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/robfig/cron/v3"

	"github.com/cogitohq/cogito/internal/cache"
	"github.com/cogitohq/cogito/internal/config"
	"github.com/cogitohq/cogito/internal/dispatch"
	"github.com/cogitohq/cogito/internal/events"
	"github.com/cogitohq/cogito/internal/health"
	"github.com/cogitohq/cogito/internal/mcpserver"
	"github.com/cogitohq/cogito/internal/memory"
	"github.com/cogitohq/cogito/internal/pipeline"
	providerclient "github.com/cogitohq/cogito/internal/provider"
	"github.com/cogitohq/cogito/internal/queue"
	"github.com/cogitohq/cogito/internal/registry"
	"github.com/cogitohq/cogito/internal/thinking"
	"github.com/cogitohq/cogito/internal/token"
	"github.com/cogitohq/cogito/pkg/provider"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "path to settings file (falls back to CONFIG_PATH)")
	flag.Parse()

	// Stdout carries the JSON-RPC stream; all logging goes to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfgManager, err := config.NewManager(configPath, logger)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	cfg := cfgManager.Get()

	logger = buildLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("starting cogito", "version", version,
		"data_dir", cfg.DataDir, "in_memory_only", cfg.InMemoryOnly)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New(logger)
	defer reg.Shutdown()
	reg.Register("config", cfgManager)

	bus := events.NewBus()
	reg.Register("events", bus)

	// TTLs read through the manager so a config reload applies immediately.
	cacheOpts := cache.Options{
		MaxEntries:   cfg.Cache.MaxEntries,
		MaxBytes:     cfg.Cache.MaxBytes,
		MaxEntrySize: cfg.Cache.MaxEntrySize,
		Policy:       cache.EvictionPolicy(cfg.Cache.EvictionPolicy),
		TTLFor: func(cacheType string) time.Duration {
			return cfgManager.Get().Cache.TTLFor(cacheType)
		},
		Logger: logger,
	}
	var artifactCache *cache.Cache
	if cfg.Cache.Redis.Enabled {
		cacheOpts.Persistent = cache.NewRedisTier(cache.RedisTierConfig{
			Addr:      cfg.Cache.Redis.Addr,
			Password:  cfg.Cache.Redis.Password,
			DB:        cfg.Cache.Redis.DB,
			Namespace: cfg.Cache.Redis.Namespace,
		})
		artifactCache = cache.New(cacheOpts)
	} else {
		artifactCache = cache.NewWithDisk(filepath.Join(cfg.DataDir, "cache"), cacheOpts)
	}
	reg.Register("cache", artifactCache)

	store, err := memory.NewStore(memory.Options{
		DataDir:  cfg.DataDir,
		Embedder: memory.NewHashEmbedder(cfg.Memory.VectorDim),
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}
	reg.Register("memory", store)

	tiers := make([]token.Tier, 0, len(cfg.Optimization.Tiers))
	for _, t := range cfg.Optimization.Tiers {
		tiers = append(tiers, token.Tier{Name: t.Name, Model: t.Model, MaxTokens: t.MaxTokens})
	}
	optimizer := token.NewOptimizer(token.Config{
		CharsPerToken:  cfg.Optimization.CharsPerToken,
		WordMultiplier: cfg.Optimization.WordMultiplier,
		Tiers:          tiers,
		HistoryLimit:   cfg.Optimization.HistoryLimit,
		DataDir:        cfg.DataDir,
		Logger:         logger,
	})
	reg.Register("optimizer", optimizer)

	monitor := health.New(health.Options{Bus: bus, Cache: artifactCache, Logger: logger})
	reg.Register("health", monitor)

	dispatcher := dispatch.New(dispatch.Options{
		MaxRetries: cfg.Dispatch.MaxRetries,
		Bus:        bus,
		Logger:     logger,
	})
	reg.Register("dispatcher", dispatcher)

	requestQueue := queue.New(queue.Options{
		MaxConcurrent:   cfg.Queue.MaxConcurrent,
		RateLimitDelay:  cfg.Queue.RateLimitDelay,
		RequestTimeout:  cfg.Queue.RequestTimeout,
		MaxRetries:      cfg.Queue.MaxRetries,
		MaxQueueSize:    cfg.Queue.HighWater,
		JanitorInterval: cfg.Queue.JanitorPeriod,
		Logger:          logger,
	})
	reg.Register("queue", requestQueue)

	if err := registerProviders(cfg, dispatcher, requestQueue, optimizer, monitor, logger); err != nil {
		return err
	}
	dispatcher.StartHealthChecks(ctx, cfg.Dispatch.HealthCheckInterval)

	history, err := thinking.NewHistory(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open thinking history: %w", err)
	}
	engine := thinking.NewEngine(thinking.Options{
		Dispatcher: dispatcher,
		Cache:      artifactCache,
		History:    history,
		Config:     cfg.Thinking,
		Logger:     logger,
	})
	reg.Register("thinking", engine)

	orchestrator := pipeline.New(pipeline.Options{
		Dispatcher: dispatcher,
		Config:     cfg.Pipeline,
		Logger:     logger,
	})
	reg.Register("pipeline", orchestrator)

	if cfg.Maintenance.Enabled {
		scheduler, err := startMaintenance(ctx, cfg, artifactCache, store, engine, optimizer, monitor, logger)
		if err != nil {
			return err
		}
		reg.Register("maintenance", scheduler)
	}

	cfgManager.OnChange(func(next *config.Config) {
		engine.UpdateConfig(next.Thinking)
		logger.Info("applied reloaded configuration",
			"thinking_models", len(next.Thinking.Models))
	})
	if err := cfgManager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	srv := mcpserver.New(mcpserver.Options{
		Engine:       engine,
		Orchestrator: orchestrator,
		Dispatcher:   dispatcher,
		Store:        store,
		Cache:        artifactCache,
		Optimizer:    optimizer,
		Monitor:      monitor,
		Config:       cfg,
		Logger:       logger,
	})
	reg.Register("mcp", srv)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ServeStdio()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			logger.Error("stdio server stopped", "error", err)
		} else {
			logger.Info("stdio stream closed, shutting down")
		}
	}
	return nil
}

// registerProviders builds a queued client per configured provider and hands
// it to the dispatcher. Missing credentials skip the provider with a warning
// rather than failing startup.
func registerProviders(cfg *config.Config, dispatcher *dispatch.Dispatcher, requestQueue *queue.Queue,
	optimizer *token.Optimizer, monitor *health.Monitor, logger *slog.Logger) error {

	factories := providerclient.NewRegistry()
	deps := providerclient.Deps{Estimator: optimizer, Observer: monitor}

	registered := 0
	for _, pc := range cfg.Providers {
		apiKey := os.Getenv(pc.APIKeyEnv)
		if apiKey == "" {
			logger.Warn("provider skipped, credential env is empty",
				"provider", pc.Name, "env", pc.APIKeyEnv)
			continue
		}

		client, err := factories.Create(provider.Config{
			Name:    pc.Name,
			Type:    pc.Type,
			APIKey:  apiKey,
			BaseURL: pc.BaseURL,
			Model:   pc.Model,
			Timeout: pc.Timeout,
		}, deps)
		if err != nil {
			return err
		}

		dispatcher.Register(provider.Descriptor{
			Name:       pc.Name,
			Priority:   pc.Priority,
			Weight:     pc.Weight,
			MaxTimeout: pc.Timeout,
			Client:     requestQueue.Wrap(client),
		})
		registered++
		logger.Info("provider registered",
			"provider", pc.Name, "type", pc.Type, "model", pc.Model, "priority", pc.Priority)
	}

	if len(cfg.Providers) > 0 && registered == 0 {
		return fmt.Errorf("no provider could be registered; check credential environment variables")
	}
	return nil
}

// cronCloser adapts the scheduler to the registry's shutdown protocol.
type cronCloser struct {
	c *cron.Cron
}

func (cc cronCloser) Close() error {
	ctx := cc.c.Stop()
	<-ctx.Done()
	return nil
}

// startMaintenance schedules periodic cleanup of every subsystem and a
// metrics snapshot write.
func startMaintenance(ctx context.Context, cfg *config.Config, artifactCache *cache.Cache,
	store *memory.Store, engine *thinking.Engine, optimizer *token.Optimizer,
	monitor *health.Monitor, logger *slog.Logger) (cronCloser, error) {

	const historyLimit = 1000
	metricsPath := filepath.Join(cfg.DataDir, "metrics", "system_metrics.json")

	scheduler := cron.New()
	_, err := scheduler.AddFunc(cfg.Maintenance.Schedule, func() {
		cacheCleaned, err := artifactCache.Maintenance(ctx)
		if err != nil {
			logger.Warn("cache maintenance failed", "error", err)
		}
		memoryCleaned, err := store.Maintenance(ctx)
		if err != nil {
			logger.Warn("memory maintenance failed", "error", err)
		}
		thinkingCleaned := engine.PruneHistory(historyLimit)
		tokenCleaned := optimizer.Maintenance()

		logger.Info("maintenance completed",
			"cache", cacheCleaned,
			"memory", memoryCleaned,
			"thinking", thinkingCleaned,
			"optimization", tokenCleaned)

		if err := writeMetricsSnapshot(metricsPath, monitor); err != nil {
			logger.Warn("metrics snapshot write failed", "error", err)
		}
	})
	if err != nil {
		return cronCloser{}, fmt.Errorf("invalid maintenance schedule %q: %w", cfg.Maintenance.Schedule, err)
	}

	scheduler.Start()
	logger.Info("maintenance scheduled", "schedule", cfg.Maintenance.Schedule)
	return cronCloser{c: scheduler}, nil
}

func writeMetricsSnapshot(path string, monitor *health.Monitor) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(monitor.Snapshot())
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// buildLogger derives the process logger from the logging settings.
func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
