package stages

import (
	"github.com/fyrsmithlabs/rulesmith/internal/orchestrator"
	"github.com/fyrsmithlabs/rulesmith/internal/rules"
)

// Section is one main section of the analyzed document.
type Section struct {
	Title               string `json:"title"`
	Summary             string `json:"summary"`
	ComplianceRelevance string `json:"compliance_relevance"`
}

// Definition is a defined term.
type Definition struct {
	Term       string `json:"term"`
	Definition string `json:"definition"`
}

// Structure is the model's reading of the document layout.
type Structure struct {
	DocumentType        string       `json:"document_type"`
	MainSections        []Section    `json:"main_sections"`
	KeyDefinitions      []Definition `json:"key_definitions"`
	RegulatoryAuthority string       `json:"regulatory_authority"`
	EffectiveDate       string       `json:"effective_date"`
	Scope               string       `json:"scope"`
}

// Theme is a compliance area that needs its own rules.
type Theme struct {
	Theme             string   `json:"theme"`
	Description       string   `json:"description"`
	Importance        string   `json:"importance"`
	Keywords          []string `json:"keywords"`
	TypicalViolations []string `json:"typical_violations"`
}

// Analysis is the analyze stage fragment.
type Analysis struct {
	Stats     DocumentStats `json:"document_stats"`
	Structure Structure     `json:"structure_analysis"`
	Themes    []Theme       `json:"compliance_themes"`
	Fallback  bool          `json:"substituted,omitempty"`
}

// Summary implements orchestrator.Fragment.
func (a *Analysis) Summary() orchestrator.Summary {
	names := make([]string, 0, len(a.Themes))
	for _, t := range a.Themes {
		names = append(names, t.Theme)
	}
	return orchestrator.Summary{
		"word_count":           a.Stats.WordCount,
		"section_count":        a.Stats.SectionCount,
		"document_type":        a.Structure.DocumentType,
		"regulatory_authority": a.Structure.RegulatoryAuthority,
		"themes_identified":    len(a.Themes),
		"themes":               names,
	}
}

// Substituted reports whether the fragment stands in for a failed stage.
func (a *Analysis) Substituted() bool { return a.Fallback }

// DocumentType returns the analyzed document type, "unknown" when not determined.
func (a *Analysis) DocumentType() string {
	if a == nil {
		return "unknown"
	}
	return orDefault(a.Structure.DocumentType, "unknown")
}

// Authority returns the issuing authority, "unknown" when not determined.
func (a *Analysis) Authority() string {
	if a == nil {
		return "unknown"
	}
	return orDefault(a.Structure.RegulatoryAuthority, "unknown")
}

// RawRule is a requirement as extracted from the document text.
type RawRule struct {
	Title                 string   `json:"rule_title"`
	Description           string   `json:"rule_description"`
	ComplianceTheme       string   `json:"compliance_theme"`
	RequirementType       string   `json:"requirement_type"`
	TargetEntities        []string `json:"target_entities"`
	KeyObligations        []string `json:"key_obligations"`
	Deadlines             []string `json:"deadlines"`
	Penalties             []string `json:"penalties"`
	Exceptions            []string `json:"exceptions"`
	DocumentationRequired []string `json:"documentation_required"`
	MonitoringRequired    bool     `json:"monitoring_required"`
	SourceSection         string   `json:"source_section"`
	LegalBasis            string   `json:"legal_basis"`

	// Set by content validation corrections.
	DetectionCriteria []string `json:"detection_criteria,omitempty"`
	RedFlags          []string `json:"red_flags,omitempty"`
}

// Extraction is the extract stage fragment.
type Extraction struct {
	Rules               []RawRule `json:"extracted_rules"`
	ThemesProcessed     int       `json:"themes_processed"`
	GeneralRequirements int       `json:"general_requirements"`
	Fallback            bool      `json:"substituted,omitempty"`
}

// Summary implements orchestrator.Fragment.
func (e *Extraction) Summary() orchestrator.Summary {
	return orchestrator.Summary{
		"total_rules":          len(e.Rules),
		"themes_processed":     e.ThemesProcessed,
		"general_requirements": e.GeneralRequirements,
	}
}

// Substituted reports whether the fragment stands in for a failed stage.
func (e *Extraction) Substituted() bool { return e.Fallback }

// DetectionProfile describes how violations of a rule surface.
type DetectionProfile struct {
	DetectionMethod     string   `json:"detection_method"`
	DetectionIndicators []string `json:"detection_indicators"`
	RedFlags            []string `json:"red_flags"`
}

// Classification holds the dimensions assigned to one rule.
type Classification struct {
	RiskLevel                string           `json:"risk_level"`
	Urgency                  string           `json:"urgency"`
	Complexity               string           `json:"complexity"`
	BusinessImpact           string           `json:"business_impact"`
	ImplementationDifficulty string           `json:"implementation_difficulty"`
	MonitoringFrequency      string           `json:"monitoring_frequency"`
	OrganizationalScope      string           `json:"organizational_scope"`
	ComplianceType           string           `json:"compliance_type"`
	AutomationPotential      string           `json:"automation_potential"`
	StakeholderGroups        []string         `json:"stakeholder_groups"`
	GeographicScope          string           `json:"geographic_scope"`
	IndustrySpecificity      string           `json:"industry_specificity"`
	ViolationDetection       DetectionProfile `json:"violation_detection"`
	ImplementationPriority   string           `json:"implementation_priority"`
	EstimatedEffort          string           `json:"estimated_effort"`
}

func (c *Classification) normalize() {
	c.RiskLevel = lower(c.RiskLevel)
	c.Urgency = lower(c.Urgency)
	c.Complexity = lower(c.Complexity)
	c.ImplementationPriority = lower(c.ImplementationPriority)
}

// ClassifiedRule pairs an extracted rule with its classification.
type ClassifiedRule struct {
	Rule           RawRule        `json:"original_rule"`
	Classification Classification `json:"classification"`
}

// Classified is the classify stage fragment.
type Classified struct {
	Rules    []ClassifiedRule `json:"classified_rules"`
	Fallback bool             `json:"substituted,omitempty"`
}

// Summary implements orchestrator.Fragment.
func (c *Classified) Summary() orchestrator.Summary {
	risk := map[string]int{rules.RiskCritical: 0, rules.RiskHigh: 0, rules.RiskMedium: 0, rules.RiskLow: 0}
	urgency := map[string]int{"immediate": 0, "high": 0, "medium": 0, "low": 0}
	priority := map[string]int{rules.PriorityP1: 0, rules.PriorityP2: 0, rules.PriorityP3: 0, rules.PriorityP4: 0}
	types := map[string]int{}

	for _, r := range c.Rules {
		cl := r.Classification
		if _, ok := risk[cl.RiskLevel]; ok {
			risk[cl.RiskLevel]++
		}
		if _, ok := urgency[cl.Urgency]; ok {
			urgency[cl.Urgency]++
		}
		if _, ok := priority[cl.ImplementationPriority]; ok {
			priority[cl.ImplementationPriority]++
		}
		types[orDefault(cl.ComplianceType, "unknown")]++
	}

	return orchestrator.Summary{
		"total_rules":                  len(c.Rules),
		"risk_distribution":            risk,
		"urgency_distribution":         urgency,
		"priority_distribution":        priority,
		"compliance_type_distribution": types,
		"high_priority_count":          risk[rules.RiskCritical] + risk[rules.RiskHigh],
		"immediate_action_count":       urgency["immediate"] + urgency["high"],
	}
}

// Substituted reports whether the fragment stands in for a failed stage.
func (c *Classified) Substituted() bool { return c.Fallback }

// Issue severities.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Issue is a validation finding.
type Issue struct {
	Type          string `json:"type"`
	Severity      string `json:"severity"`
	RuleNumber    int    `json:"rule_number,omitempty"`
	Field         string `json:"field,omitempty"`
	Message       string `json:"message"`
	Suggestion    string `json:"suggestion,omitempty"`
	AffectedRules []int  `json:"affected_rules,omitempty"`
}

// Validation statuses.
const (
	StatusPassed      = "passed"
	StatusFailed      = "failed"
	StatusUnvalidated = "unvalidated"
)

// ValidatedRule is a classified rule with its validation outcome.
type ValidatedRule struct {
	Rule           RawRule        `json:"original_rule"`
	Classification Classification `json:"classification"`
	Status         string         `json:"validation_status"`
	Issues         []Issue        `json:"validation_issues"`
	Actionability  int            `json:"actionability_score,omitempty"`
	Clarity        int            `json:"clarity_score,omitempty"`
}

// Report aggregates validation results.
type Report struct {
	TotalRules     int            `json:"total_rules_processed"`
	Passed         int            `json:"rules_passed_validation"`
	Failed         int            `json:"rules_failed_validation"`
	SuccessRate    float64        `json:"validation_success_rate"`
	TotalIssues    int            `json:"total_issues"`
	CriticalIssues int            `json:"critical_issues"`
	WarningIssues  int            `json:"warning_issues"`
	InfoIssues     int            `json:"info_issues"`
	IssueBreakdown map[string]int `json:"issue_breakdown"`
	QualityScore   float64        `json:"quality_score"`
}

// Validation is the validate stage fragment. Rules holds only the rules that passed.
type Validation struct {
	Rules    []ValidatedRule `json:"validated_rules"`
	Issues   []Issue         `json:"validation_issues"`
	Report   Report          `json:"validation_report"`
	Fallback bool            `json:"substituted,omitempty"`
}

// Summary implements orchestrator.Fragment.
func (v *Validation) Summary() orchestrator.Summary {
	r := v.Report
	return orchestrator.Summary{
		"total_rules_processed":   r.TotalRules,
		"rules_passed_validation": r.Passed,
		"rules_failed_validation": r.Failed,
		"validation_success_rate": r.SuccessRate,
		"total_issues":            r.TotalIssues,
		"critical_issues":         r.CriticalIssues,
		"warning_issues":          r.WarningIssues,
		"info_issues":             r.InfoIssues,
		"issue_breakdown":         r.IssueBreakdown,
		"quality_score":           r.QualityScore,
	}
}

// Substituted reports whether the fragment stands in for a failed stage.
func (v *Validation) Substituted() bool { return v.Fallback }

// Synthesis is the synthesize stage fragment, and also the result of single-shot generation.
type Synthesis struct {
	Rules    []rules.Rule  `json:"final_rules"`
	Report   rules.Summary `json:"synthesis_summary"`
	Fallback bool          `json:"fallback,omitempty"`
}

// FinalRules implements orchestrator.RuleSource.
func (s *Synthesis) FinalRules() []rules.Rule {
	return s.Rules
}

// Summary implements orchestrator.Fragment.
func (s *Synthesis) Summary() orchestrator.Summary {
	r := s.Report
	return orchestrator.Summary{
		"total_final_rules":               r.TotalRules,
		"original_rules_processed":        r.SourceRules,
		"average_rule_completeness":       r.AverageCompleteness,
		"risk_levels":                     r.RiskLevels,
		"implementation_priorities":       r.Priorities,
		"compliance_themes":               r.Themes,
		"high_priority_rules":             r.HighPriorityRules,
		"critical_risk_rules":             r.CriticalRiskRules,
		"estimated_implementation_phases": r.ImplementationPhases,
		"key_stakeholder_groups":          r.KeyStakeholders,
		"fallback":                        s.Fallback,
	}
}

var (
	_ orchestrator.Fragment   = (*Analysis)(nil)
	_ orchestrator.Fragment   = (*Extraction)(nil)
	_ orchestrator.Fragment   = (*Classified)(nil)
	_ orchestrator.Fragment   = (*Validation)(nil)
	_ orchestrator.RuleSource = (*Synthesis)(nil)
)
