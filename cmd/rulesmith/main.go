// Rulesmith turns regulatory documents into structured compliance rules.
//
// Every command loads configuration from ~/.config/rulesmith/config.yaml (or
// --config) and RULESMITH_* environment variables. See internal/config.
//
// Usage:
//
//	# Generate rules for one document
//	rulesmith run regulation.txt --out rules.json
//
//	# Serve the HTTP API
//	rulesmith serve
//
//	# Serve MCP tools on stdio
//	rulesmith mcp
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/rulesmith/internal/config"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rulesmith",
	Short: "Generate structured compliance rules from regulatory documents",
	Long: `rulesmith runs a regulatory document through five stages (analyze, extract,
classify, validate, synthesize) and produces structured compliance rules.

A failed intermediate stage degrades instead of failing the run, and a failed
synthesis falls back to a single-shot generation.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/rulesmith/config.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads configuration and applies a provider override.
func loadConfig(provider string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.SetProvider(provider); err != nil {
		return nil, fmt.Errorf("invalid provider: %w", err)
	}
	return cfg, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "rulesmith by Fyrsmith Labs\n")
		fmt.Fprintf(out, "Version:    %s\n", version)
		fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
		fmt.Fprintf(out, "Build Date: %s\n", buildDate)
	},
}
