package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bibliomcp/bibliomcp/internal/config"
	"github.com/bibliomcp/bibliomcp/internal/search"
	"github.com/bibliomcp/bibliomcp/internal/telemetry"
	"github.com/bibliomcp/bibliomcp/pkg/version"
)

// Server bridges MCP clients with the search orchestrator.
type Server struct {
	mcp    *mcp.Server
	orch   *search.Orchestrator
	config *config.Config
	logger *slog.Logger

	// Query telemetry (optional, set via SetMetrics).
	metrics *telemetry.QueryMetrics

	mu sync.RWMutex
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// NewServer creates an MCP server over the orchestrator.
func NewServer(orch *search.Orchestrator, cfg *config.Config) (*Server, error) {
	if orch == nil {
		return nil, errors.New("orchestrator is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		orch:   orch,
		config: cfg,
		logger: slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "BiblioMCP",
			Version: version.Version,
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

// SetMetrics sets the query metrics collector backing the search_metrics
// tool.
func (s *Server) SetMetrics(m *telemetry.QueryMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return "BiblioMCP", version.Version
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return []ToolInfo{
		{
			Name:        "unified_search",
			Description: unifiedSearchDescription,
		},
		{
			Name:        "refine_search",
			Description: refineSearchDescription,
		},
		{
			Name:        "decompose_search",
			Description: decomposeSearchDescription,
		},
		{
			Name:        "search_metrics",
			Description: searchMetricsDescription,
		},
	}
}

const (
	unifiedSearchDescription = "Search the document library across all backends in one round. " +
		"Results are merged into a single ranking with a quality report telling you how much to trust them. " +
		"Use this for straightforward lookups."

	refineSearchDescription = "Search with automatic iterative refinement. When the first result set is weak, " +
		"the query is broadened or narrowed and retried within a bounded attempt budget. " +
		"Use this when a plain search came back low-confidence or empty."

	decomposeSearchDescription = "Search a compound question by splitting it into sub-queries " +
		"(e.g. 'memory consolidation AND aging' searches both topics) and rewarding items relevant to several parts. " +
		"Use this for multi-topic questions."

	searchMetricsDescription = "Report local query telemetry: operation counts, confidence distribution, " +
		"zero-result queries, and latency buckets. Data never leaves this machine."
)

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	s.logger.Debug("Registering MCP tools")

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "unified_search",
		Description: unifiedSearchDescription,
	}, s.mcpUnifiedSearchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "refine_search",
		Description: refineSearchDescription,
	}, s.mcpRefineSearchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "decompose_search",
		Description: decomposeSearchDescription,
	}, s.mcpDecomposeSearchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_metrics",
		Description: searchMetricsDescription,
	}, s.mcpSearchMetricsHandler)

	s.logger.Info("MCP tools registered", slog.Int("count", 4))
}

// mcpUnifiedSearchHandler is the MCP SDK handler for unified_search.
func (s *Server) mcpUnifiedSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	return s.runSearch(ctx, "unified_search", input, s.orch.UnifiedSearch)
}

// mcpRefineSearchHandler is the MCP SDK handler for refine_search.
func (s *Server) mcpRefineSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	return s.runSearch(ctx, "refine_search", input, s.orch.RefineSearch)
}

// mcpDecomposeSearchHandler is the MCP SDK handler for decompose_search.
func (s *Server) mcpDecomposeSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	return s.runSearch(ctx, "decompose_search", input, s.orch.DecomposeSearch)
}

// runSearch executes one search tool invocation end to end.
func (s *Server) runSearch(
	ctx context.Context,
	tool string,
	input SearchInput,
	op func(context.Context, search.Query) (*search.Response, error),
) (*mcp.CallToolResult, SearchOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	q, err := s.buildQuery(input)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	s.logger.Info(tool+" started",
		slog.String("request_id", requestID),
		slog.String("query", q.Text),
		slog.Int("limit", q.Limit))

	resp, err := op(ctx, q)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error(tool+" failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return nil, SearchOutput{}, MapError(err)
	}

	s.logger.Info(tool+" completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(resp.Results)),
		slog.String("confidence", string(resp.Quality.Confidence)))

	return nil, ToSearchOutput(resp), nil
}

// buildQuery validates and converts tool input into an orchestrator query.
func (s *Server) buildQuery(input SearchInput) (search.Query, error) {
	if strings.TrimSpace(input.Query) == "" {
		return search.Query{}, NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}

	limit := input.Limit
	if limit <= 0 {
		limit = s.config.Search.DefaultLimit
	}
	if limit <= 0 {
		limit = 10
	}

	q := search.Query{
		Text:        input.Query,
		Limit:       limit,
		MaxAttempts: input.MaxAttempts,
	}
	q.Filters.Collection = input.Collection
	q.Filters.ItemType = input.ItemType

	if input.After != "" {
		t, err := parseDate(input.After)
		if err != nil {
			return search.Query{}, NewInvalidParamsError(fmt.Sprintf("invalid 'after' date: %v", err))
		}
		q.Filters.After = t
	}
	if input.Before != "" {
		t, err := parseDate(input.Before)
		if err != nil {
			return search.Query{}, NewInvalidParamsError(fmt.Sprintf("invalid 'before' date: %v", err))
		}
		q.Filters.Before = t
	}
	if input.TimeoutMS > 0 {
		q.Deadline = time.Duration(input.TimeoutMS) * time.Millisecond
	}
	return q, nil
}

// parseDate accepts RFC 3339 timestamps and bare dates.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// mcpSearchMetricsHandler is the MCP SDK handler for search_metrics.
func (s *Server) mcpSearchMetricsHandler(_ context.Context, _ *mcp.CallToolRequest, _ MetricsInput) (
	*mcp.CallToolResult,
	*telemetry.Snapshot,
	error,
) {
	s.mu.RLock()
	m := s.metrics
	s.mu.RUnlock()

	if m == nil {
		return nil, &telemetry.Snapshot{}, nil
	}
	return nil, m.Snapshot(), nil
}

// Serve starts the server with the specified transport.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("Starting MCP server",
		slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && err != context.Canceled {
			s.logger.Error("MCP server stopped with error",
				slog.String("error", err.Error()))
		} else {
			s.logger.Info("MCP server stopped gracefully")
			err = nil
		}
		return err
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// Close releases server resources.
func (s *Server) Close() error {
	return s.orch.Close()
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
