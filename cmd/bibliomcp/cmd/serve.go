package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bibliomcp/bibliomcp/internal/backend"
	"github.com/bibliomcp/bibliomcp/internal/config"
	"github.com/bibliomcp/bibliomcp/internal/embed"
	"github.com/bibliomcp/bibliomcp/internal/logging"
	"github.com/bibliomcp/bibliomcp/internal/mcp"
	"github.com/bibliomcp/bibliomcp/internal/search"
	"github.com/bibliomcp/bibliomcp/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	var transport string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP search server",
		Long: `Start the MCP server exposing unified_search, refine_search,
decompose_search, and search_metrics as tools over stdio.

Backends are built from configuration; any subset of the keyword,
metadata, vector, and graph backends may be enabled. A backend that
fails to initialize is skipped with a warning rather than aborting
startup.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), transport)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport type (stdio)")

	return cmd
}

// runServe builds the backend registry from config and serves MCP.
// The MCP protocol requires stdout to carry JSON-RPC exclusively, so all
// status output goes to the log file.
func runServe(ctx context.Context, transport string) error {
	cfg, err := config.Load(".")
	if err != nil {
		return err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Server.LogLevel
	if debugMode {
		logCfg.Level = "debug"
	}
	logCfg.WriteToStderr = false
	if logger, cleanup, lerr := logging.Setup(logCfg); lerr == nil {
		defer cleanup()
		slog.SetDefault(logger)
	}

	adapters, embedder, err := buildAdapters(ctx, cfg)
	if err != nil {
		return err
	}
	if embedder != nil {
		defer func() { _ = embedder.Close() }()
	}
	if len(adapters) == 0 {
		return fmt.Errorf("no search backends enabled, check backend configuration")
	}

	metrics := telemetry.NewQueryMetrics()
	defer metrics.Close()

	orch := search.NewOrchestrator(adapters, cfg.ToSearchConfig(), search.WithMetrics(metrics))

	srv, err := mcp.NewServer(orch, cfg)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	srv.SetMetrics(metrics)
	defer func() { _ = srv.Close() }()

	slog.Info("Backends registered",
		slog.Any("backends", orch.Backends()))

	return srv.Serve(ctx, transport)
}

// buildAdapters constructs the enabled backend adapters. The returned
// embedder, when non-nil, outlives the vector backend and must be closed by
// the caller.
func buildAdapters(ctx context.Context, cfg *config.Config) ([]backend.Adapter, embed.Embedder, error) {
	var adapters []backend.Adapter

	if cfg.Backends.Keyword.Enabled {
		kw, err := backend.NewKeywordBackend(cfg.Backends.Keyword.Path)
		if err != nil {
			slog.Warn("Keyword backend unavailable", slog.String("error", err.Error()))
		} else {
			adapters = append(adapters, kw)
		}
	}

	if cfg.Backends.Metadata.Enabled {
		md, err := backend.NewMetadataBackend(cfg.Backends.Metadata.Path)
		if err != nil {
			slog.Warn("Metadata backend unavailable", slog.String("error", err.Error()))
		} else {
			adapters = append(adapters, md)
		}
	}

	var embedder embed.Embedder
	if cfg.Backends.Vector.Enabled {
		embedder = newEmbedder(ctx, cfg)
		vec, err := backend.NewVectorBackend(embedder)
		if err != nil {
			slog.Warn("Vector backend unavailable", slog.String("error", err.Error()))
			_ = embedder.Close()
			embedder = nil
		} else {
			adapters = append(adapters, vec)
		}
	}

	if cfg.Backends.Graph.Enabled {
		gb, err := backend.NewGraphBackend(backend.GraphConfig{
			BaseURL: cfg.Backends.Graph.BaseURL,
			Timeout: cfg.GraphTimeout(),
			APIKey:  cfg.Backends.Graph.APIKey,
		})
		if err != nil {
			slog.Warn("Graph backend unavailable", slog.String("error", err.Error()))
		} else {
			adapters = append(adapters, gb)
		}
	}

	return adapters, embedder, nil
}

// newEmbedder selects the embedding provider. Empty provider auto-detects:
// Ollama when reachable, static hashing embedder otherwise.
func newEmbedder(ctx context.Context, cfg *config.Config) embed.Embedder {
	provider := strings.ToLower(cfg.Embeddings.Provider)

	if provider == "static" {
		return embed.NewStaticEmbedder()
	}

	ollama, err := embed.NewOllamaEmbedder(ctx, embed.OllamaConfig{
		Host:       cfg.Embeddings.OllamaHost,
		Model:      cfg.Embeddings.Model,
		Dimensions: cfg.Embeddings.Dimensions,
		BatchSize:  cfg.Embeddings.BatchSize,
	})
	if err != nil {
		if provider == "ollama" {
			slog.Warn("Ollama embedder unavailable, falling back to static embeddings",
				slog.String("error", err.Error()))
		} else {
			slog.Debug("Ollama not reachable, using static embeddings",
				slog.String("error", err.Error()))
		}
		return embed.NewStaticEmbedder()
	}

	slog.Info("Using Ollama embeddings",
		slog.String("model", ollama.ModelName()),
		slog.Int("dimensions", ollama.Dimensions()))
	return ollama
}
