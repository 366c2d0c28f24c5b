package stages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fyrsmithlabs/rulesmith/internal/inference"
	"github.com/fyrsmithlabs/rulesmith/internal/rules"
)

// Offline scripts s with deterministic, schema-valid responses for every
// template, so the pipeline can run without a model. Responses depend only on
// the request input.
func Offline(s *inference.Stub) *inference.Stub {
	return s.
		On(TemplateAnalyzeStructure, jsonResponder(func(inference.Request) any {
			return Structure{
				DocumentType: "regulation",
				MainSections: []Section{
					{Title: "Scope", Summary: "Entities covered by the regulation", ComplianceRelevance: "high"},
				},
				KeyDefinitions:      []Definition{},
				RegulatoryAuthority: "offline review",
				Scope:               "regulated entities",
			}
		})).
		On(TemplateAnalyzeThemes, jsonResponder(func(inference.Request) any {
			return map[string]any{"themes": []Theme{
				{Theme: "disclosure", Description: "Client disclosures", Importance: "high", Keywords: []string{"disclose"}, TypicalViolations: []string{"undisclosed fees"}},
				{Theme: "suitability", Description: "Suitability of recommendations", Importance: "high", Keywords: []string{"suitable"}, TypicalViolations: []string{"unsuitable product"}},
			}}
		})).
		On(TemplateExtractTheme, jsonResponder(func(req inference.Request) any {
			theme := inputString(req, "theme")
			return map[string]any{"rules": []RawRule{offlineRawRule(theme)}}
		})).
		On(TemplateExtractGeneral, jsonResponder(func(inference.Request) any {
			return map[string]any{"rules": []RawRule{offlineRawRule("general")}}
		})).
		On(TemplateClassifyBatch, jsonResponder(func(req inference.Request) any {
			n, _ := req.Input["batch_size"].(int)
			entries := make([]map[string]any, n)
			for i := range entries {
				entries[i] = map[string]any{"classification": Classification{
					RiskLevel:              rules.RiskHigh,
					Urgency:                "high",
					Complexity:             "medium",
					BusinessImpact:         "high",
					MonitoringFrequency:    "monthly",
					ComplianceType:         "regulatory",
					StakeholderGroups:      []string{"legal", "operations"},
					ImplementationPriority: rules.PriorityP2,
					EstimatedEffort:        "medium",
				}}
			}
			return map[string]any{"classified_rules": entries}
		})).
		On(TemplateValidateRule, jsonResponder(func(inference.Request) any {
			return map[string]any{"validation_result": "pass", "issues": []Issue{}, "actionability_score": 8, "clarity_score": 8}
		})).
		On(TemplateValidateCross, jsonResponder(func(inference.Request) any {
			return map[string]any{"cross_validation_issues": []Issue{}, "overall_coherence": "high"}
		})).
		On(TemplateSynthesizeRule, jsonResponder(func(req inference.Request) any {
			return offlineFinalRule(inputString(req, "theme"), inputString(req, "priority"))
		})).
		On(TemplateSingleShot, jsonResponder(func(inference.Request) any {
			return map[string]any{"rules": []singleShotRule{{
				Name:                "Manual review required",
				Description:         "Conversations covered by this regulation require manual compliance review",
				Category:            "inadequate_documentation",
				DetectionCriteria:   []criterion{{TriggerPhrase: "requires manual review", ContextRequired: "client conversation", ConfidenceThreshold: 0.5}},
				RedFlags:            []string{"missing records"},
				ViolationIndicators: []string{"no documented review"},
				ViolationMessage:    "This conversation requires manual review",
				Severity:            "medium",
				RegulatoryReference: "document",
				RecommendedAction:   "Perform a manual compliance review",
			}}}
		}))
}

func jsonResponder(build func(inference.Request) any) inference.Responder {
	return func(_ context.Context, req inference.Request) (*inference.Response, error) {
		data, err := json.Marshal(build(req))
		if err != nil {
			return nil, err
		}
		return &inference.Response{Text: string(data), Model: inference.ProviderStub}, nil
	}
}

func inputString(req inference.Request, key string) string {
	s, _ := req.Input[key].(string)
	return s
}

func offlineRawRule(theme string) RawRule {
	return RawRule{
		Title:                 fmt.Sprintf("Maintain %s controls", theme),
		Description:           fmt.Sprintf("Firms must document and operate controls covering %s obligations for every client.", theme),
		ComplianceTheme:       theme,
		RequirementType:       rules.RequirementMandatory,
		TargetEntities:        []string{"registered firms"},
		KeyObligations:        []string{fmt.Sprintf("document %s procedures", theme)},
		Deadlines:             []string{},
		Penalties:             []string{"regulatory fine"},
		Exceptions:            []string{},
		DocumentationRequired: []string{"written procedures"},
		MonitoringRequired:    true,
		SourceSection:         "Section 1",
		LegalBasis:            "offline",
	}
}

func offlineFinalRule(theme, priority string) rules.Rule {
	return rules.Rule{
		Title:                  fmt.Sprintf("Operate %s controls", theme),
		Description:            fmt.Sprintf("Establish, document and monitor controls for %s obligations.", theme),
		ComplianceTheme:        theme,
		RequirementType:        rules.RequirementMandatory,
		RiskLevel:              rules.RiskHigh,
		ImplementationPriority: orDefault(priority, rules.PriorityP4),
		TargetEntities:         []string{"registered firms"},
		KeyObligations:         []string{fmt.Sprintf("document %s procedures", theme)},
		ImplementationGuidance: rules.ImplementationGuidance{
			Steps:             []string{"assign an owner", "write procedures", "train staff"},
			EstimatedTimeline: "90 days",
		},
		MonitoringRequirements: rules.MonitoringRequirements{
			Frequency: "monthly",
			Methods:   []string{"sample review"},
		},
		ViolationDetection: rules.ViolationDetection{
			DetectionCriteria: []string{"procedure not followed"},
		},
		ComplianceEvidence: rules.ComplianceEvidence{
			RequiredDocumentation: []string{"review log"},
			RecordRetention:       "5 years",
		},
		StakeholderResponsibilities: rules.StakeholderResponsibilities{
			PrimaryOwner:    "compliance",
			SupportingRoles: []string{"operations"},
		},
		TechnologyRequirements: rules.TechnologyRequirements{
			AutomationOpportunities: []string{"automated sampling"},
		},
		SourceInformation: rules.SourceInformation{Version: SynthesisVersion},
	}
}
