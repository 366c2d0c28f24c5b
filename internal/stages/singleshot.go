package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/rulesmith/internal/orchestrator"
	"github.com/fyrsmithlabs/rulesmith/internal/rules"
)

// severityPriority maps single-shot severities to implementation priorities.
var severityPriority = map[string]string{
	rules.RiskCritical: rules.PriorityP1,
	rules.RiskHigh:     rules.PriorityP2,
	rules.RiskMedium:   rules.PriorityP3,
	rules.RiskLow:      rules.PriorityP4,
}

// SingleShot generates rules with one call over the original document. It is
// the fallback when synthesis fails.
type SingleShot struct {
	deps Deps
}

// NewSingleShot creates the single-shot generator.
func NewSingleShot(d Deps) *SingleShot {
	return &SingleShot{deps: d.withDefaults()}
}

type criterion struct {
	TriggerPhrase       string  `json:"trigger_phrase"`
	ContextRequired     string  `json:"context_required"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	Description         string  `json:"description"`
}

type singleShotRule struct {
	Name                string      `json:"name"`
	Description         string      `json:"description"`
	Category            string      `json:"category"`
	DetectionCriteria   []criterion `json:"detection_criteria"`
	RedFlags            []string    `json:"red_flags"`
	ViolationIndicators []string    `json:"violation_indicators"`
	ViolationMessage    string      `json:"violation_message"`
	Severity            string      `json:"severity"`
	RegulatoryReference string      `json:"regulatory_reference"`
	RecommendedAction   string      `json:"recommended_action"`
}

type singleShotResponse struct {
	Rules *[]singleShotRule `json:"rules"`
}

// Generate implements orchestrator.SingleShot.
func (s *SingleShot) Generate(ctx context.Context, doc orchestrator.Document) (orchestrator.RuleSource, error) {
	var resp singleShotResponse
	if err := infer(ctx, s.deps.Client, singleShotRequest(doc.Title, doc.Text), &resp); err != nil {
		return nil, err
	}
	if resp.Rules == nil {
		return nil, invalid("single-shot response missing rules")
	}

	out := make([]rules.Rule, 0, len(*resp.Rules))
	for i, sr := range *resp.Rules {
		if strings.TrimSpace(sr.Name) == "" || strings.TrimSpace(sr.Description) == "" {
			return nil, invalid("single-shot rule %d missing name or description", i+1)
		}
		r := sr.toRule(rules.FormatID(i + 1))
		r.Normalize()
		if err := r.Validate(); err != nil {
			return nil, invalid("%v", err)
		}
		out = append(out, r)
	}

	return &Synthesis{
		Rules:    out,
		Report:   rules.Summarize(out, len(out)),
		Fallback: true,
	}, nil
}

func (sr singleShotRule) toRule(id string) rules.Rule {
	severity := lower(sr.Severity)
	priority, ok := severityPriority[severity]
	if !ok {
		severity, priority = rules.RiskMedium, rules.PriorityP3
	}

	criteria := make([]string, 0, len(sr.DetectionCriteria))
	for _, c := range sr.DetectionCriteria {
		switch {
		case c.TriggerPhrase != "" && c.ContextRequired != "":
			criteria = append(criteria, fmt.Sprintf("%s (%s)", c.TriggerPhrase, c.ContextRequired))
		case c.TriggerPhrase != "":
			criteria = append(criteria, c.TriggerPhrase)
		case c.Description != "":
			criteria = append(criteria, c.Description)
		}
	}

	r := rules.Rule{
		ID:                     id,
		Title:                  sr.Name,
		Description:            sr.Description,
		ComplianceTheme:        orDefault(lower(sr.Category), "general"),
		RequirementType:        rules.RequirementMandatory,
		RiskLevel:              severity,
		ImplementationPriority: priority,
		ViolationDetection: rules.ViolationDetection{
			DetectionCriteria:  criteria,
			RedFlags:           sr.RedFlags,
			EscalationTriggers: sr.ViolationIndicators,
		},
		SourceInformation: rules.SourceInformation{
			RegulationSource:    sr.RegulatoryReference,
			Version:             SynthesisVersion,
			DocumentType:        "unknown",
			RegulatoryAuthority: "unknown",
		},
		SynthesisMetadata: rules.SynthesisMetadata{
			CreatedBy:        CreatedBy,
			SynthesisVersion: SynthesisVersion,
			QualityAssurance: "single-shot",
			Fallback:         true,
		},
	}
	if sr.RecommendedAction != "" {
		r.KeyObligations = []string{sr.RecommendedAction}
		r.PenaltiesAndConsequences.RemediationRequirements = []string{sr.RecommendedAction}
	}
	if sr.ViolationMessage != "" {
		r.MonitoringRequirements.ReportingRequirements = []string{sr.ViolationMessage}
	}
	return r
}

var _ orchestrator.SingleShot = (*SingleShot)(nil)
