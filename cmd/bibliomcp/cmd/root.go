// Package cmd provides the CLI commands for BiblioMCP.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bibliomcp/bibliomcp/pkg/version"
)

// Debug logging flag, shared across subcommands.
var debugMode bool

// NewRootCmd creates the root command for the bibliomcp CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bibliomcp",
		Short: "Multi-backend search middleware for research libraries",
		Long: `BiblioMCP sits between AI research assistants and a document library,
fanning queries out to keyword, metadata, vector, and citation-graph
backends and fusing the rankings into one answer with a quality report.

Run 'bibliomcp' with no arguments to start the MCP server on stdio.`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return cmd.Help()
			}
			// MCP protocol owns stdout, so the default action starts the
			// server directly with all status output going to the log file.
			return runServe(cmd.Context(), "stdio")
		},
	}

	cmd.SetVersionTemplate("bibliomcp version {{.Version}}\n")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.bibliomcp/logs/")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
