// Package mcpserver exposes the cognitive middleware over the Model Context
// Protocol: a stdio JSON-RPC server with tools for thinking, generation,
// memory, cache, and token optimization, plus read-only resources.
package mcpserver

import (
	"context"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cogitohq/cogito/internal/cache"
	"github.com/cogitohq/cogito/internal/config"
	"github.com/cogitohq/cogito/internal/health"
	"github.com/cogitohq/cogito/internal/memory"
	"github.com/cogitohq/cogito/internal/pipeline"
	"github.com/cogitohq/cogito/internal/thinking"
	"github.com/cogitohq/cogito/internal/token"
	cogitoerrors "github.com/cogitohq/cogito/pkg/errors"
	"github.com/cogitohq/cogito/pkg/types"
)

const (
	serverName    = "cogito"
	serverVersion = "1.0.0"
)

// Dispatcher resolves generation requests.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *types.LLMRequest) (*types.LLMResponse, error)
}

// Server wires the middleware components behind the MCP surface.
type Server struct {
	mcp *server.MCPServer

	engine       *thinking.Engine
	orchestrator *pipeline.Orchestrator
	dispatcher   Dispatcher
	store        *memory.Store
	cache        *cache.Cache
	optimizer    *token.Optimizer
	monitor      *health.Monitor
	cfg          *config.Config
	logger       *slog.Logger
}

// Options carries the collaborators for the server.
type Options struct {
	Engine       *thinking.Engine
	Orchestrator *pipeline.Orchestrator
	Dispatcher   Dispatcher
	Store        *memory.Store
	Cache        *cache.Cache
	Optimizer    *token.Optimizer
	Monitor      *health.Monitor
	Config       *config.Config
	Logger       *slog.Logger
}

// New builds the MCP server and registers every tool and resource.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		engine:       opts.Engine,
		orchestrator: opts.Orchestrator,
		dispatcher:   opts.Dispatcher,
		store:        opts.Store,
		cache:        opts.Cache,
		optimizer:    opts.Optimizer,
		monitor:      opts.Monitor,
		cfg:          opts.Config,
		logger:       opts.Logger,
	}

	s.mcp = server.NewMCPServer(serverName, serverVersion,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, true),
		server.WithRecovery(),
	)
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio blocks serving line-delimited JSON-RPC on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// toolErrorPayload is the structured error object returned at the tool
// boundary.
type toolErrorPayload struct {
	Message     string   `json:"message"`
	Type        string   `json:"type"`
	Timestamp   string   `json:"timestamp"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// errorResult renders a typed failure with at most three suggestions.
func errorResult(errType, message string, suggestions ...string) *mcp.CallToolResult {
	if len(suggestions) > 3 {
		suggestions = suggestions[:3]
	}
	payload := toolErrorPayload{
		Message:     message,
		Type:        errType,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Suggestions: suggestions,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return mcp.NewToolResultError(message)
	}
	return mcp.NewToolResultError(string(data))
}

// failureResult maps an operational error to the tool boundary shape.
func failureResult(err error) *mcp.CallToolResult {
	errType := cogitoerrors.ErrorType(err)
	var suggestions []string
	switch errType {
	case cogitoerrors.TypeAuthentication:
		suggestions = []string{"verify the provider API key environment variables"}
	case cogitoerrors.TypeRateLimit:
		suggestions = []string{"retry after a short delay", "reduce request concurrency"}
	case cogitoerrors.TypeTimeout:
		suggestions = []string{"retry the request", "increase the provider timeout in the settings file"}
	case cogitoerrors.TypeQueueFull:
		suggestions = []string{"retry after in-flight requests drain"}
	case "all_providers_failed":
		suggestions = []string{"check provider health", "verify network connectivity", "review provider credentials"}
	}
	return errorResult(errType, err.Error(), suggestions...)
}

// jsonResult marshals v as the tool's text content.
func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult(cogitoerrors.TypeInternal, "failed to encode result: "+err.Error())
	}
	return mcp.NewToolResultText(string(data))
}
