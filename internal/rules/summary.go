package rules

import (
	"math"
	"sort"
)

// Summary describes a final rule set.
type Summary struct {
	TotalRules            int            `json:"total_final_rules"`
	SourceRules           int            `json:"original_rules_processed"`
	AverageCompleteness   float64        `json:"average_rule_completeness"`
	RiskLevels            map[string]int `json:"risk_levels"`
	Priorities            map[string]int `json:"implementation_priorities"`
	Themes                map[string]int `json:"compliance_themes"`
	HighPriorityRules     int            `json:"high_priority_rules"`
	CriticalRiskRules     int            `json:"critical_risk_rules"`
	ImplementationPhases  map[string]int `json:"estimated_implementation_phases"`
	KeyStakeholders       []string       `json:"key_stakeholder_groups"`
	RulesWithMonitoring   int            `json:"rules_with_monitoring"`
	RulesWithAutomation   int            `json:"rules_with_automation"`
	RulesWithFullGuidance int            `json:"rules_with_complete_guidance"`
}

// Summarize computes distribution and quality figures for rs.
// sourceRules is the number of validated rules the set was built from.
func Summarize(rs []Rule, sourceRules int) Summary {
	s := Summary{
		TotalRules:      len(rs),
		SourceRules:     sourceRules,
		RiskLevels:      map[string]int{},
		Priorities:      map[string]int{},
		Themes:          map[string]int{},
		KeyStakeholders: []string{},
		ImplementationPhases: map[string]int{
			"phase_1_immediate":   0,
			"phase_2_short_term":  0,
			"phase_3_medium_term": 0,
			"phase_4_long_term":   0,
		},
	}

	stakeholders := map[string]bool{}
	for i := range rs {
		r := &rs[i]
		s.RiskLevels[orUnknown(r.RiskLevel)]++
		s.Priorities[orUnknown(r.ImplementationPriority)]++
		s.Themes[orUnknown(r.ComplianceTheme)]++

		switch r.ImplementationPriority {
		case PriorityP1:
			s.ImplementationPhases["phase_1_immediate"]++
		case PriorityP2:
			s.ImplementationPhases["phase_2_short_term"]++
		case PriorityP3:
			s.ImplementationPhases["phase_3_medium_term"]++
		default:
			s.ImplementationPhases["phase_4_long_term"]++
		}
		if r.ImplementationPriority == PriorityP1 || r.ImplementationPriority == PriorityP2 {
			s.HighPriorityRules++
		}
		if r.RiskLevel == RiskCritical {
			s.CriticalRiskRules++
		}

		if r.MonitoringRequirements.present() {
			s.RulesWithMonitoring++
		}
		if len(r.TechnologyRequirements.AutomationOpportunities) > 0 {
			s.RulesWithAutomation++
		}
		if len(r.ImplementationGuidance.Steps) > 0 {
			s.RulesWithFullGuidance++
		}

		if owner := r.StakeholderResponsibilities.PrimaryOwner; owner != "" {
			stakeholders[owner] = true
		}
		for _, role := range r.StakeholderResponsibilities.SupportingRoles {
			if role != "" {
				stakeholders[role] = true
			}
		}
	}

	for name := range stakeholders {
		s.KeyStakeholders = append(s.KeyStakeholders, name)
	}
	sort.Strings(s.KeyStakeholders)

	s.AverageCompleteness = Completeness(rs)
	return s
}

// Completeness returns the average share (0-100, two decimals) of the five core sections
// that are populated: implementation guidance, monitoring, violation detection, evidence
// and stakeholder responsibilities.
func Completeness(rs []Rule) float64 {
	if len(rs) == 0 {
		return 0
	}
	const sections = 5
	var total float64
	for i := range rs {
		r := &rs[i]
		present := 0
		for _, ok := range []bool{
			r.ImplementationGuidance.present(),
			r.MonitoringRequirements.present(),
			r.ViolationDetection.present(),
			r.ComplianceEvidence.present(),
			r.StakeholderResponsibilities.present(),
		} {
			if ok {
				present++
			}
		}
		total += float64(present) / sections * 100
	}
	return math.Round(total/float64(len(rs))*100) / 100
}

func (g ImplementationGuidance) present() bool {
	return len(g.Steps) > 0 || len(g.RequiredResources) > 0 || g.EstimatedTimeline != "" || len(g.SuccessCriteria) > 0
}

func (m MonitoringRequirements) present() bool {
	return m.Frequency != "" || len(m.Methods) > 0 || len(m.Metrics) > 0 || len(m.ReportingRequirements) > 0
}

func (v ViolationDetection) present() bool {
	return len(v.DetectionCriteria) > 0 || len(v.RedFlags) > 0 || len(v.DetectionMethods) > 0 || len(v.EscalationTriggers) > 0
}

func (e ComplianceEvidence) present() bool {
	return len(e.RequiredDocumentation) > 0 || len(e.AuditTrailRequirements) > 0 || e.RecordRetention != "" || len(e.DocumentationStandards) > 0
}

func (s StakeholderResponsibilities) present() bool {
	return s.PrimaryOwner != "" || len(s.SupportingRoles) > 0 || len(s.EscalationPath) > 0 || len(s.TrainingRequirements) > 0
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
