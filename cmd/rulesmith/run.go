package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rulesmith/internal/events"
	"github.com/fyrsmithlabs/rulesmith/internal/logging"
	"github.com/fyrsmithlabs/rulesmith/internal/orchestrator"
	"github.com/fyrsmithlabs/rulesmith/internal/service"
)

// runOptions holds the run command flags.
type runOptions struct {
	json       bool
	out        string
	provider   string
	title      string
	documentID string
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Generate rules for one document",
	Long: `Run a document through the pipeline and write the generated rules.

Progress is printed to stderr. Rules are written as a JSON array to --out, or to
stdout when --out is not set. With --json every event is written to stdout as
NDJSON instead; the final pipeline_completed event carries the rules.

Use "-" to read the document from stdin.

Examples:
  # Generate rules into a file
  rulesmith run regulation.txt --out rules.json

  # Stream events for another tool
  cat regulation.txt | rulesmith run - --json

  # Try the pipeline without a model
  rulesmith run regulation.txt --provider stub`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.BoolVar(&runOpts.json, "json", false, "write events to stdout as NDJSON")
	f.StringVarP(&runOpts.out, "out", "o", "", "write the rules JSON array to this file")
	f.StringVar(&runOpts.provider, "provider", "", "override inference.provider (anthropic, openai, stub)")
	f.StringVar(&runOpts.title, "title", "", "document title (default: file name)")
	f.StringVar(&runOpts.documentID, "id", "", "document identifier (default: generated)")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	text, err := readDocument(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig(runOpts.provider)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, appOptions{logOutput: logging.OutputStderr})
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	title := runOpts.title
	if title == "" && args[0] != "-" {
		title = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	}
	doc := orchestrator.NewDocument(runOpts.documentID, title, text)

	result, err := generate(ctx, a.registry.Pipeline(), doc, runOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if result != nil {
		a.logger.Underlying().Debug("run finished",
			zap.String("run.id", result.RunID),
			zap.String("state", string(result.State)),
			zap.Int64("events_dropped", result.EventsDropped),
		)
	}
	return err
}

// generate runs doc, reports progress and writes the rules.
func generate(ctx context.Context, pipeline *service.Service, doc orchestrator.Document, opts runOptions, stdout, stderr io.Writer) (*orchestrator.Result, error) {
	run, err := pipeline.Start(ctx, doc, "")
	if err != nil {
		return nil, err
	}

	if opts.json {
		if err := events.Stream(ctx, run.Events(), events.NewNDJSONWriter(stdout), 0); err != nil {
			fmt.Fprintf(stderr, "event stream stopped: %v\n", err)
		}
	} else {
		for e := range run.Events() {
			if line := renderEvent(e); line != "" {
				fmt.Fprintln(stderr, line)
			}
		}
	}

	result, err := run.Wait()
	if err != nil {
		return result, err
	}

	data, err := result.RulesJSON()
	if err != nil {
		return result, fmt.Errorf("encoding rules: %w", err)
	}
	switch {
	case opts.out != "":
		if err := os.WriteFile(opts.out, append(data, '\n'), 0o644); err != nil {
			return result, fmt.Errorf("writing rules to %s: %w", opts.out, err)
		}
		fmt.Fprintln(stderr, dimStyle.Render("rules written to "+opts.out))
	case !opts.json:
		if _, err := fmt.Fprintln(stdout, string(data)); err != nil {
			return result, err
		}
	}
	return result, nil
}

// readDocument reads path, or stdin when path is "-".
func readDocument(stdin io.Reader, path string) (string, error) {
	var (
		content []byte
		err     error
	)
	if path == "-" {
		content, err = io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		content, err = os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read file %s: %w", path, err)
		}
	}
	if strings.TrimSpace(string(content)) == "" {
		return "", fmt.Errorf("no document text to process")
	}
	return string(content), nil
}
