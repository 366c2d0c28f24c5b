package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rulesmith/internal/orchestrator"
	"github.com/fyrsmithlabs/rulesmith/internal/rules"
)

const (
	toolGenerateRules    = "generate_rules"
	toolDescribePipeline = "describe_pipeline"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() error {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolGenerateRules,
		Description: "Generate structured compliance rules from a regulatory document. Runs analyze, extract, classify, validate and synthesize in order; failed intermediate stages degrade instead of failing the run, and a failed synthesis falls back to a single-shot generation.",
	}, s.handleGenerateRules)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolDescribePipeline,
		Description: "Describe the rule pipeline: stage order, the fallback action for each stage, and the retry and timeout limits applied to every stage.",
	}, s.handleDescribePipeline)

	return nil
}

// ===== GENERATE RULES =====

type generateRulesInput struct {
	Document   string `json:"document" jsonschema:"Full text of the regulatory document"`
	DocumentID string `json:"document_id,omitempty" jsonschema:"Document identifier (generated if omitted)"`
	Title      string `json:"title,omitempty" jsonschema:"Document title"`
}

type stageOutcome struct {
	Stage    string `json:"stage" jsonschema:"Stage name"`
	Outcome  string `json:"outcome" jsonschema:"success, degraded or fatal"`
	Attempts int    `json:"attempts" jsonschema:"Invocations made, including retries"`
	Action   string `json:"action,omitempty" jsonschema:"Fallback action taken for a failed stage"`
	Reason   string `json:"reason,omitempty" jsonschema:"Failure reason"`
}

type generateRulesOutput struct {
	RunID          string         `json:"run_id" jsonschema:"Run identifier"`
	DocumentID     string         `json:"document_id" jsonschema:"Document identifier"`
	State          string         `json:"state" jsonschema:"Terminal run state"`
	Rules          []rules.Rule   `json:"rules" jsonschema:"Generated compliance rules"`
	DegradedStages []string       `json:"degraded_stages" jsonschema:"Stages that fell back to substitute output"`
	Fallback       bool           `json:"fallback" jsonschema:"True when rules came from the single-shot fallback"`
	Stages         []stageOutcome `json:"stages" jsonschema:"Per-stage outcomes in execution order"`
	Summary        map[string]any `json:"summary,omitempty" jsonschema:"Counts reported by the final stage"`
}

func (s *Server) handleGenerateRules(ctx context.Context, req *mcp.CallToolRequest, args generateRulesInput) (*mcp.CallToolResult, generateRulesOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, toolGenerateRules)
	defer s.metrics.DecrementActive(ctx, toolGenerateRules)

	out, err := s.generateRules(ctx, args)
	s.metrics.RecordInvocation(ctx, toolGenerateRules, time.Since(start), err)
	if err != nil {
		return nil, generateRulesOutput{}, err
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: generateMessage(out)}},
	}, out, nil
}

func (s *Server) generateRules(ctx context.Context, args generateRulesInput) (generateRulesOutput, error) {
	if strings.TrimSpace(args.Document) == "" {
		return generateRulesOutput{}, fmt.Errorf("document is required")
	}

	doc := orchestrator.NewDocument(args.DocumentID, args.Title, args.Document)
	result, err := s.registry.Pipeline().Generate(ctx, doc, nil)
	if result == nil {
		return generateRulesOutput{}, fmt.Errorf("generate rules: %w", err)
	}

	logger := s.logger.With(
		zap.String("run.id", result.RunID),
		zap.String("document.id", result.DocumentID),
	)
	if err != nil {
		logger.Warn("rule generation aborted",
			zap.String("stage", string(result.FailedStage)),
			zap.Error(err),
		)
		return generateRulesOutput{}, fmt.Errorf("rule generation aborted at %s: %s", result.FailedStage, result.FailureMessage)
	}

	s.metrics.RecordRules(ctx, result)
	logger.Info("rules generated",
		zap.Int("rules", len(result.Rules)),
		zap.Bool("fallback", result.Fallback),
	)
	return toOutput(result), nil
}

func toOutput(result *orchestrator.Result) generateRulesOutput {
	out := generateRulesOutput{
		RunID:          result.RunID,
		DocumentID:     result.DocumentID,
		State:          string(result.State),
		Rules:          result.Rules,
		DegradedStages: make([]string, 0, len(result.Degraded)),
		Fallback:       result.Fallback,
		Stages:         make([]stageOutcome, 0, len(result.Stages)),
		Summary:        result.Summary,
	}
	if out.Rules == nil {
		out.Rules = []rules.Rule{}
	}
	for _, stage := range result.Degraded {
		out.DegradedStages = append(out.DegradedStages, string(stage))
	}
	for _, sr := range result.Stages {
		out.Stages = append(out.Stages, stageOutcome{
			Stage:    string(sr.Stage),
			Outcome:  string(sr.Outcome),
			Attempts: sr.Attempts,
			Action:   string(sr.Action),
			Reason:   sr.Reason,
		})
	}
	return out
}

func generateMessage(out generateRulesOutput) string {
	msg := fmt.Sprintf("Generated %d rule(s) for document %s", len(out.Rules), out.DocumentID)
	if len(out.DegradedStages) > 0 {
		msg += fmt.Sprintf("; degraded stages: %s", strings.Join(out.DegradedStages, ", "))
	}
	if out.Fallback {
		msg += "; rules came from the single-shot fallback"
	}
	return msg
}

// ===== DESCRIBE PIPELINE =====

type describePipelineInput struct{}

type stageInfo struct {
	Name          string `json:"name" jsonschema:"Stage name"`
	Position      int    `json:"position" jsonschema:"Zero-based execution order"`
	Required      bool   `json:"required" jsonschema:"True when the run cannot complete without this stage's own output"`
	OnTransient   string `json:"on_transient" jsonschema:"Action after retries are exhausted on timeouts or invalid output"`
	OnUnavailable string `json:"on_unavailable" jsonschema:"Action when the inference capability is unavailable"`
}

type describePipelineOutput struct {
	Stages              []stageInfo `json:"stages" jsonschema:"Stages in execution order"`
	StageTimeoutSeconds float64     `json:"stage_timeout_seconds" jsonschema:"Per-attempt timeout"`
	MaxRetries          int         `json:"max_retries" jsonschema:"Attempts after the first"`
	RetryBackoffSeconds float64     `json:"retry_backoff_seconds" jsonschema:"Base delay between attempts, doubled per retry"`
	MaxInFlight         int64       `json:"max_in_flight" jsonschema:"Concurrent stage invocations across all runs"`
	EventRelay          bool        `json:"event_relay" jsonschema:"True when run events are published to NATS"`
}

func (s *Server) handleDescribePipeline(ctx context.Context, req *mcp.CallToolRequest, args describePipelineInput) (*mcp.CallToolResult, describePipelineOutput, error) {
	start := time.Now()
	out := s.describePipeline()
	s.metrics.RecordInvocation(ctx, toolDescribePipeline, time.Since(start), nil)

	names := make([]string, 0, len(out.Stages))
	for _, st := range out.Stages {
		names = append(names, st.Name)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{
			Text: fmt.Sprintf("Pipeline: %s (timeout %.0fs, %d retries)", strings.Join(names, " -> "), out.StageTimeoutSeconds, out.MaxRetries),
		}},
	}, out, nil
}

func (s *Server) describePipeline() describePipelineOutput {
	cfg := s.registry.Pipeline().Config()
	policy := orchestrator.Policy{}

	out := describePipelineOutput{
		StageTimeoutSeconds: cfg.Runner.Timeout.Seconds(),
		MaxRetries:          cfg.Runner.MaxRetries,
		RetryBackoffSeconds: cfg.Runner.Backoff.Seconds(),
		MaxInFlight:         cfg.MaxInFlight,
		EventRelay:          s.registry.NATS() != nil,
	}
	for i, name := range orchestrator.AllStages() {
		out.Stages = append(out.Stages, stageInfo{
			Name:          string(name),
			Position:      i,
			Required:      name.Required(),
			OnTransient:   string(policy.Resolve(name, orchestrator.FailureTransient)),
			OnUnavailable: string(policy.Resolve(name, orchestrator.FailureUnavailable)),
		})
	}
	return out
}
