package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bibliomcp/bibliomcp/internal/config"
	"github.com/bibliomcp/bibliomcp/internal/logging"
	"github.com/bibliomcp/bibliomcp/internal/mcp"
	"github.com/bibliomcp/bibliomcp/internal/output"
	"github.com/bibliomcp/bibliomcp/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	mode       string // "unified", "refine", "decompose"
	limit      int
	deadline   time.Duration
	collection string
	itemType   string
	after      string
	before     string
	format     string // "text", "json"
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a one-shot search against the configured backends",
		Long: `Run one search from the command line without starting the server.

Modes:
  unified    one fan-out round, fused ranking (default)
  refine     iterative refinement when the first round is weak
  decompose  split compound queries and reward cross-topic agreement

Examples:
  bibliomcp search "sleep spindles"
  bibliomcp search "memory consolidation AND aging" --mode decompose
  bibliomcp search "attention" --collection neuroscience --limit 5
  bibliomcp search "working memory" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearchCmd(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "unified", "Search mode: unified, refine, decompose")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (0 = config default)")
	cmd.Flags().DurationVar(&opts.deadline, "deadline", 0, "Per-call budget (e.g. 2s, 0 = config default)")
	cmd.Flags().StringVarP(&opts.collection, "collection", "c", "", "Restrict to one collection")
	cmd.Flags().StringVarP(&opts.itemType, "type", "t", "", "Restrict to one item type (e.g. article, book)")
	cmd.Flags().StringVar(&opts.after, "after", "", "Only items added at or after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.before, "before", "", "Only items added before this date (YYYY-MM-DD)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearchCmd(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	// Keep stdout clean for results; CLI observability goes to the log file.
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if debugMode {
		logCfg.Level = "debug"
	}
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		defer cleanup()
		slog.SetDefault(logger)
	}

	out := output.New(cmd.OutOrStdout())

	cfg, err := config.Load(".")
	if err != nil {
		return err
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

	orch := search.NewOrchestrator(adapters, cfg.ToSearchConfig())
	defer func() { _ = orch.Close() }()

	q, err := buildCLIQuery(query, cfg, opts)
	if err != nil {
		return err
	}

	slog.Info("search_started",
		slog.String("mode", opts.mode),
		slog.String("query", query),
		slog.Int("limit", q.Limit))

	var resp *search.Response
	switch opts.mode {
	case "unified":
		resp, err = orch.UnifiedSearch(ctx, q)
	case "refine":
		resp, err = orch.RefineSearch(ctx, q)
	case "decompose":
		resp, err = orch.DecomposeSearch(ctx, q)
	default:
		return fmt.Errorf("unknown mode %q (expected unified, refine, or decompose)", opts.mode)
	}
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	slog.Info("search_complete",
		slog.String("mode", opts.mode),
		slog.Int("results", len(resp.Results)),
		slog.String("confidence", string(resp.Quality.Confidence)))

	switch opts.format {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(mcp.ToSearchOutput(resp))
	default:
		out.Results(query, resp)
		return nil
	}
}

// buildCLIQuery converts flags into an orchestrator query.
func buildCLIQuery(text string, cfg *config.Config, opts searchOptions) (search.Query, error) {
	limit := opts.limit
	if limit <= 0 {
		limit = cfg.Search.DefaultLimit
	}

	q := search.Query{
		Text:     text,
		Limit:    limit,
		Deadline: opts.deadline,
	}
	q.Filters.Collection = opts.collection
	q.Filters.ItemType = opts.itemType

	if opts.after != "" {
		t, err := time.Parse("2006-01-02", opts.after)
		if err != nil {
			return search.Query{}, fmt.Errorf("invalid --after date: %w", err)
		}
		q.Filters.After = t
	}
	if opts.before != "" {
		t, err := time.Parse("2006-01-02", opts.before)
		if err != nil {
			return search.Query{}, fmt.Errorf("invalid --before date: %w", err)
		}
		q.Filters.Before = t
	}
	return q, nil
}
