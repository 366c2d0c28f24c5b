package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/rulesmith/internal/logging"
	"github.com/fyrsmithlabs/rulesmith/internal/mcp"
)

var mcpProvider string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP tools on stdio",
	Long: `Start a Model Context Protocol server on stdin/stdout.

Tools:
  generate_rules      run a document through the pipeline and return the rules
  describe_pipeline   report stage order, fallback policy and limits

Logs are written to stderr; stdout carries the protocol.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpProvider, "provider", "", "override inference.provider (anthropic, openai, stub)")
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(mcpProvider)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, appOptions{logOutput: logging.OutputStderr})
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	srv, err := mcp.NewServer(&mcp.Config{
		Name:    "rulesmith",
		Version: version,
		Logger:  a.logger.Underlying().Named("mcp"),
	}, a.registry)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
