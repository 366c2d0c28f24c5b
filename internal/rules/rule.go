// Package rules defines the compliance rule schema returned to callers.
//
// Every top-level field is always present in the encoded form and every list encodes as
// an array, never null. Call Normalize before handing a Rule to a consumer.
package rules

import (
	"fmt"
	"strings"
)

// Requirement types.
const (
	RequirementMandatory   = "mandatory"
	RequirementRecommended = "recommended"
	RequirementProhibited  = "prohibited"
)

// Risk levels. RiskUnclassified marks rules whose classification was substituted.
const (
	RiskCritical     = "critical"
	RiskHigh         = "high"
	RiskMedium       = "medium"
	RiskLow          = "low"
	RiskUnclassified = "unclassified"
)

// Implementation priorities, p1 highest.
const (
	PriorityP1 = "p1"
	PriorityP2 = "p2"
	PriorityP3 = "p3"
	PriorityP4 = "p4"
)

// RiskLevels returns the classified risk levels from most to least severe.
func RiskLevels() []string {
	return []string{RiskCritical, RiskHigh, RiskMedium, RiskLow}
}

// Priorities returns the implementation priorities in order.
func Priorities() []string {
	return []string{PriorityP1, PriorityP2, PriorityP3, PriorityP4}
}

// Rule is a synthesized compliance rule.
type Rule struct {
	ID                     string   `json:"rule_id"`
	Title                  string   `json:"rule_title"`
	Description            string   `json:"rule_description"`
	ComplianceTheme        string   `json:"compliance_theme"`
	RequirementType        string   `json:"requirement_type"`
	RiskLevel              string   `json:"risk_level"`
	ImplementationPriority string   `json:"implementation_priority"`
	TargetEntities         []string `json:"target_entities"`
	KeyObligations         []string `json:"key_obligations"`

	ImplementationGuidance      ImplementationGuidance      `json:"implementation_guidance"`
	MonitoringRequirements      MonitoringRequirements      `json:"monitoring_requirements"`
	ViolationDetection          ViolationDetection          `json:"violation_detection"`
	ComplianceEvidence          ComplianceEvidence          `json:"compliance_evidence"`
	PenaltiesAndConsequences    PenaltiesAndConsequences    `json:"penalties_and_consequences"`
	StakeholderResponsibilities StakeholderResponsibilities `json:"stakeholder_responsibilities"`
	TechnologyRequirements      TechnologyRequirements      `json:"technology_requirements"`
	SourceInformation           SourceInformation           `json:"source_information"`
	SynthesisMetadata           SynthesisMetadata           `json:"synthesis_metadata"`
}

// ImplementationGuidance describes how to put a rule into practice.
type ImplementationGuidance struct {
	Steps             []string `json:"steps"`
	RequiredResources []string `json:"required_resources"`
	EstimatedTimeline string   `json:"estimated_timeline"`
	SuccessCriteria   []string `json:"success_criteria"`
}

// MonitoringRequirements describes ongoing oversight.
type MonitoringRequirements struct {
	Frequency             string   `json:"frequency"`
	Methods               []string `json:"methods"`
	Metrics               []string `json:"metrics"`
	ReportingRequirements []string `json:"reporting_requirements"`
}

// ViolationDetection lists the signals of non-compliance.
type ViolationDetection struct {
	DetectionCriteria  []string `json:"detection_criteria"`
	RedFlags           []string `json:"red_flags"`
	DetectionMethods   []string `json:"detection_methods"`
	EscalationTriggers []string `json:"escalation_triggers"`
}

// ComplianceEvidence lists what must be kept to demonstrate compliance.
type ComplianceEvidence struct {
	RequiredDocumentation  []string `json:"required_documentation"`
	AuditTrailRequirements []string `json:"audit_trail_requirements"`
	RecordRetention        string   `json:"record_retention"`
	DocumentationStandards []string `json:"documentation_standards"`
}

// PenaltiesAndConsequences lists the cost of violations.
type PenaltiesAndConsequences struct {
	RegulatoryPenalties     []string `json:"regulatory_penalties"`
	BusinessConsequences    []string `json:"business_consequences"`
	RemediationRequirements []string `json:"remediation_requirements"`
}

// StakeholderResponsibilities assigns ownership.
type StakeholderResponsibilities struct {
	PrimaryOwner         string   `json:"primary_owner"`
	SupportingRoles      []string `json:"supporting_roles"`
	EscalationPath       []string `json:"escalation_path"`
	TrainingRequirements []string `json:"training_requirements"`
}

// TechnologyRequirements lists system support for the rule.
type TechnologyRequirements struct {
	AutomationOpportunities []string `json:"automation_opportunities"`
	SystemRequirements      []string `json:"system_requirements"`
	IntegrationPoints       []string `json:"integration_points"`
	DataRequirements        []string `json:"data_requirements"`
}

// SourceInformation records provenance.
type SourceInformation struct {
	RegulationSource    string `json:"regulation_source"`
	LegalBasis          string `json:"legal_basis"`
	LastUpdated         string `json:"last_updated"`
	Version             string `json:"version"`
	DocumentType        string `json:"document_type"`
	RegulatoryAuthority string `json:"regulatory_authority"`
}

// SynthesisMetadata records how the rule was produced.
type SynthesisMetadata struct {
	CreatedBy        string   `json:"created_by"`
	SynthesisVersion string   `json:"synthesis_version"`
	QualityAssurance string   `json:"quality_assurance"`
	Fallback         bool     `json:"fallback"`
	DegradedInputs   []string `json:"degraded_inputs"`
}

// Normalize replaces nil lists with empty ones and trims identifier fields.
func (r *Rule) Normalize() {
	r.ID = strings.TrimSpace(r.ID)
	r.RequirementType = strings.ToLower(strings.TrimSpace(r.RequirementType))
	r.RiskLevel = strings.ToLower(strings.TrimSpace(r.RiskLevel))
	r.ImplementationPriority = strings.ToLower(strings.TrimSpace(r.ImplementationPriority))

	nonNil(&r.TargetEntities)
	nonNil(&r.KeyObligations)

	g := &r.ImplementationGuidance
	nonNil(&g.Steps)
	nonNil(&g.RequiredResources)
	nonNil(&g.SuccessCriteria)

	m := &r.MonitoringRequirements
	nonNil(&m.Methods)
	nonNil(&m.Metrics)
	nonNil(&m.ReportingRequirements)

	v := &r.ViolationDetection
	nonNil(&v.DetectionCriteria)
	nonNil(&v.RedFlags)
	nonNil(&v.DetectionMethods)
	nonNil(&v.EscalationTriggers)

	e := &r.ComplianceEvidence
	nonNil(&e.RequiredDocumentation)
	nonNil(&e.AuditTrailRequirements)
	nonNil(&e.DocumentationStandards)

	p := &r.PenaltiesAndConsequences
	nonNil(&p.RegulatoryPenalties)
	nonNil(&p.BusinessConsequences)
	nonNil(&p.RemediationRequirements)

	s := &r.StakeholderResponsibilities
	nonNil(&s.SupportingRoles)
	nonNil(&s.EscalationPath)
	nonNil(&s.TrainingRequirements)

	t := &r.TechnologyRequirements
	nonNil(&t.AutomationOpportunities)
	nonNil(&t.SystemRequirements)
	nonNil(&t.IntegrationPoints)
	nonNil(&t.DataRequirements)

	nonNil(&r.SynthesisMetadata.DegradedInputs)
}

// Validate checks that the identifying fields of a rule are populated.
func (r *Rule) Validate() error {
	var missing []string
	if r.ID == "" {
		missing = append(missing, "rule_id")
	}
	if strings.TrimSpace(r.Title) == "" {
		missing = append(missing, "rule_title")
	}
	if strings.TrimSpace(r.Description) == "" {
		missing = append(missing, "rule_description")
	}
	if r.ComplianceTheme == "" {
		missing = append(missing, "compliance_theme")
	}
	if r.RiskLevel == "" {
		missing = append(missing, "risk_level")
	}
	if r.ImplementationPriority == "" {
		missing = append(missing, "implementation_priority")
	}
	if len(missing) > 0 {
		return fmt.Errorf("rule %q missing fields: %s", r.ID, strings.Join(missing, ", "))
	}
	return nil
}

// FormatID returns the canonical identifier for the n-th rule (1-based).
func FormatID(n int) string {
	return fmt.Sprintf("RULE_%03d", n)
}

// NormalizeAll normalizes every rule in place and returns the slice, never nil.
func NormalizeAll(rs []Rule) []Rule {
	if rs == nil {
		return []Rule{}
	}
	for i := range rs {
		rs[i].Normalize()
	}
	return rs
}

func nonNil(s *[]string) {
	if *s == nil {
		*s = []string{}
	}
}
