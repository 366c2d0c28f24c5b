package stages

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/rulesmith/internal/inference"
)

// Template IDs sent with every inference request.
const (
	TemplateAnalyzeStructure = "analyze.structure"
	TemplateAnalyzeThemes    = "analyze.themes"
	TemplateExtractTheme     = "extract.theme"
	TemplateExtractGeneral   = "extract.general"
	TemplateClassifyBatch    = "classify.batch"
	TemplateValidateRule     = "validate.rule"
	TemplateValidateCross    = "validate.cross"
	TemplateSynthesizeRule   = "synthesize.rule"
	TemplateSingleShot       = "rules.single_shot"
)

// Prompt input limits, in bytes of document text.
const (
	analyzeTextLimit = 4000
	extractTextLimit = 6000
)

const rawRuleSchema = `{
  "rules": [
    {
      "rule_title": "descriptive title for the rule",
      "rule_description": "detailed description of what must be done",
      "compliance_theme": "%s",
      "requirement_type": "mandatory|recommended|prohibited",
      "target_entities": ["who this applies to"],
      "key_obligations": ["specific obligation 1", "specific obligation 2"],
      "deadlines": ["any time requirements or deadlines"],
      "penalties": ["consequences for non-compliance"],
      "exceptions": ["any exceptions or exemptions"],
      "documentation_required": ["what documentation is needed"],
      "monitoring_required": true,
      "source_section": "which section of the regulation this comes from",
      "legal_basis": "the specific legal authority or requirement"
    }
  ]
}`

func structureRequest(text string) inference.Request {
	prompt := `Analyze the structure of this regulatory document and respond with JSON of this shape:

{
  "document_type": "regulation|policy|guideline|standard|other",
  "main_sections": [
    {"title": "section title", "summary": "brief summary", "compliance_relevance": "high|medium|low"}
  ],
  "key_definitions": [{"term": "defined term", "definition": "definition text"}],
  "regulatory_authority": "name of issuing authority",
  "effective_date": "date if mentioned",
  "scope": "what entities or activities this applies to"
}

Document text:
` + truncate(text, analyzeTextLimit)

	return inference.Request{
		TemplateID: TemplateAnalyzeStructure,
		System:     "You are an expert regulatory analyst. Identify document structure, key sections and compliance relevance. Always respond with valid JSON.",
		Prompt:     prompt,
		Input:      map[string]any{"text_bytes": min(len(text), analyzeTextLimit)},
	}
}

func themesRequest(text string) inference.Request {
	prompt := `Identify the major compliance themes in this regulatory document and respond with JSON of this shape:

{
  "themes": [
    {
      "theme": "theme name, e.g. data protection or financial reporting",
      "description": "description of this compliance area",
      "importance": "high|medium|low",
      "keywords": ["keyword1", "keyword2"],
      "typical_violations": ["common violation 1", "common violation 2"]
    }
  ]
}

Focus on themes that need specific compliance rules or monitoring.

Document text:
` + truncate(text, analyzeTextLimit)

	return inference.Request{
		TemplateID: TemplateAnalyzeThemes,
		System:     "You are a compliance expert. Identify themes organizations must monitor and write rules for. Always respond with valid JSON.",
		Prompt:     prompt,
		Input:      map[string]any{"text_bytes": min(len(text), analyzeTextLimit)},
	}
}

func themeRulesRequest(text string, theme Theme) inference.Request {
	var b strings.Builder
	fmt.Fprintf(&b, "Extract specific compliance rules related to the theme %q from this regulatory document.\n\n", theme.Theme)
	fmt.Fprintf(&b, "Theme description: %s\n", theme.Description)
	fmt.Fprintf(&b, "Key terms to look for: %s\n\n", strings.Join(theme.Keywords, ", "))
	b.WriteString("Respond with JSON of this shape:\n\n")
	fmt.Fprintf(&b, rawRuleSchema, theme.Theme)
	b.WriteString("\n\nInclude only actionable requirements, not background or general principles.\n\nDocument text:\n")
	b.WriteString(truncate(text, extractTextLimit))

	return inference.Request{
		TemplateID: TemplateExtractTheme,
		System: fmt.Sprintf("You are a compliance expert specializing in %s. Extract only specific, actionable, measurable "+
			"rules that organizations must follow. Always respond with valid JSON.", theme.Theme),
		Prompt: b.String(),
		Input:  map[string]any{"theme": theme.Theme, "keywords": theme.Keywords},
	}
}

func generalRulesRequest(text string) inference.Request {
	var b strings.Builder
	b.WriteString("Extract general compliance requirements from this regulatory document that apply across the organization.\n\n")
	b.WriteString("Look for record keeping, reporting, notification, training, audit and governance requirements.\n\n")
	b.WriteString("Respond with JSON of this shape:\n\n")
	fmt.Fprintf(&b, rawRuleSchema, "general")
	b.WriteString("\n\nDocument text:\n")
	b.WriteString(truncate(text, extractTextLimit))

	return inference.Request{
		TemplateID: TemplateExtractGeneral,
		System: "You are a regulatory compliance expert. Extract operational requirements such as reporting, " +
			"record-keeping and governance. Always respond with valid JSON.",
		Prompt: b.String(),
		Input:  map[string]any{"theme": "general"},
	}
}

func classifyRequest(batch []RawRule) inference.Request {
	var rulesText strings.Builder
	for i, r := range batch {
		fmt.Fprintf(&rulesText, "Rule %d:\n", i+1)
		fmt.Fprintf(&rulesText, "Title: %s\n", orDefault(r.Title, "No title"))
		fmt.Fprintf(&rulesText, "Description: %s\n", orDefault(r.Description, "No description"))
		fmt.Fprintf(&rulesText, "Type: %s\n", orDefault(r.RequirementType, "Unknown"))
		fmt.Fprintf(&rulesText, "Obligations: %s\n", strings.Join(r.KeyObligations, "; "))
		fmt.Fprintf(&rulesText, "Penalties: %s\n\n", strings.Join(r.Penalties, "; "))
	}

	prompt := fmt.Sprintf(`Classify these %d compliance rules. Return exactly one entry per rule, in the same order, as JSON of this shape:

{
  "classified_rules": [
    {
      "classification": {
        "risk_level": "critical|high|medium|low",
        "urgency": "immediate|high|medium|low",
        "complexity": "high|medium|low",
        "business_impact": "high|medium|low",
        "implementation_difficulty": "hard|medium|easy",
        "monitoring_frequency": "continuous|daily|weekly|monthly|quarterly|annual",
        "organizational_scope": "enterprise-wide|departmental|role-specific",
        "compliance_type": "regulatory|operational|governance|reporting|data|financial|safety|environmental",
        "automation_potential": "high|medium|low|none",
        "stakeholder_groups": ["legal", "it", "hr", "finance", "operations", "management"],
        "geographic_scope": "global|regional|country-specific|local",
        "industry_specificity": "general|industry-specific",
        "violation_detection": {
          "detection_method": "automated|manual|hybrid",
          "detection_indicators": ["indicator1"],
          "red_flags": ["flag1"]
        },
        "implementation_priority": "p1|p2|p3|p4",
        "estimated_effort": "low|medium|high|very-high"
      }
    }
  ]
}

Guidelines:
- Risk level: critical (severe legal or financial consequences), high, medium, low (minimal impact)
- Urgency: immediate (now), high (30 days), medium (90 days), low (1 year)
- Implementation priority: p1 critical, p2 high, p3 medium, p4 low

Rules to classify:
%s`, len(batch), rulesText.String())

	return inference.Request{
		TemplateID: TemplateClassifyBatch,
		System: "You are a compliance risk assessment expert. Classify rules across all dimensions considering legal " +
			"consequences, business impact and implementation complexity. Always respond with valid JSON.",
		Prompt: prompt,
		Input:  map[string]any{"batch_size": len(batch)},
	}
}

func validateRuleRequest(r RawRule, c Classification, number int) inference.Request {
	var b strings.Builder
	b.WriteString("Validate this compliance rule for accuracy, completeness and actionability.\n\nRule to validate:\n")
	fmt.Fprintf(&b, "Title: %s\n", orDefault(r.Title, "N/A"))
	fmt.Fprintf(&b, "Description: %s\n", orDefault(r.Description, "N/A"))
	fmt.Fprintf(&b, "Type: %s\n", orDefault(r.RequirementType, "N/A"))
	fmt.Fprintf(&b, "Obligations: %s\n", strings.Join(r.KeyObligations, "; "))
	fmt.Fprintf(&b, "Target Entities: %s\n", strings.Join(r.TargetEntities, "; "))
	fmt.Fprintf(&b, "Penalties: %s\n", strings.Join(r.Penalties, "; "))
	fmt.Fprintf(&b, "Documentation Required: %s\n\n", strings.Join(r.DocumentationRequired, "; "))
	b.WriteString("Classification:\n")
	fmt.Fprintf(&b, "Risk Level: %s\nUrgency: %s\nComplexity: %s\n\n", orDefault(c.RiskLevel, "N/A"), orDefault(c.Urgency, "N/A"), orDefault(c.Complexity, "N/A"))
	b.WriteString(`Respond with JSON of this shape:

{
  "validation_result": "pass|fail",
  "issues": [
    {
      "type": "accuracy|completeness|actionability|clarity|classification_mismatch",
      "severity": "critical|warning|info",
      "field": "field_name",
      "message": "description of the issue",
      "suggestion": "suggested improvement"
    }
  ],
  "corrected_rule": {
    "rule_title": "improved title if needed",
    "rule_description": "improved description if needed",
    "key_obligations": ["improved obligations if needed"],
    "detection_criteria": ["specific criteria for detecting violations"],
    "red_flags": ["warning signs of potential violations"]
  },
  "actionability_score": 7,
  "clarity_score": 7
}

Check that the rule is specific and measurable, that an organization can implement it, that the obligations
are clear, and that the classification matches the content.`)

	return inference.Request{
		TemplateID: TemplateValidateRule,
		System:     "You are a compliance validation expert. Ensure rules are specific, measurable and actionable. Always respond with valid JSON.",
		Prompt:     b.String(),
		Input:      map[string]any{"rule_number": number},
	}
}

func crossValidateRequest(rs []ValidatedRule) inference.Request {
	var summary strings.Builder
	for i, r := range rs {
		fmt.Fprintf(&summary, "Rule %d: %s - %s\n", i+1, orDefault(r.Rule.Title, "No title"), orDefault(r.Rule.ComplianceTheme, "No theme"))
	}

	prompt := `Analyze these compliance rules for conflicts, overlaps or gaps that could cause problems during implementation.

Rules to analyze:
` + summary.String() + `
Respond with JSON of this shape:

{
  "cross_validation_issues": [
    {
      "type": "conflict|overlap|gap|inconsistency",
      "severity": "critical|warning|info",
      "affected_rules": [1, 2],
      "message": "description of the issue",
      "recommendation": "suggested resolution"
    }
  ],
  "overall_coherence": "high|medium|low",
  "recommendations": ["general recommendation"]
}`

	return inference.Request{
		TemplateID: TemplateValidateCross,
		System:     "You are a compliance systems expert. Identify conflicts, overlaps and gaps between rules. Always respond with valid JSON.",
		Prompt:     prompt,
		Input:      map[string]any{"rules": len(rs)},
	}
}

func synthesizeRequest(v ValidatedRule) inference.Request {
	r, c := v.Rule, v.Classification

	var b strings.Builder
	b.WriteString("Turn this validated compliance rule into a comprehensive, actionable final rule.\n\nOriginal Rule:\n")
	fmt.Fprintf(&b, "Title: %s\n", r.Title)
	fmt.Fprintf(&b, "Description: %s\n", r.Description)
	fmt.Fprintf(&b, "Type: %s\n", r.RequirementType)
	fmt.Fprintf(&b, "Obligations: %s\n", strings.Join(r.KeyObligations, "; "))
	fmt.Fprintf(&b, "Target Entities: %s\n", strings.Join(r.TargetEntities, "; "))
	fmt.Fprintf(&b, "Penalties: %s\n\n", strings.Join(r.Penalties, "; "))
	b.WriteString("Classification:\n")
	fmt.Fprintf(&b, "Risk Level: %s\nPriority: %s\nComplexity: %s\n\n", c.RiskLevel, c.ImplementationPriority, c.Complexity)
	b.WriteString(`Respond with JSON of this shape:

{
  "rule_title": "clear, actionable title",
  "rule_description": "comprehensive description",
  "compliance_theme": "theme category",
  "requirement_type": "mandatory|recommended|prohibited",
  "risk_level": "critical|high|medium|low",
  "implementation_priority": "p1|p2|p3|p4",
  "target_entities": ["specific entities this applies to"],
  "key_obligations": ["specific, measurable obligations"],
  "implementation_guidance": {
    "steps": ["step 1", "step 2"],
    "required_resources": ["resource 1"],
    "estimated_timeline": "time estimate",
    "success_criteria": ["criteria 1"]
  },
  "monitoring_requirements": {
    "frequency": "continuous|daily|weekly|monthly|quarterly|annual",
    "methods": ["method 1"],
    "metrics": ["metric 1"],
    "reporting_requirements": ["report 1"]
  },
  "violation_detection": {
    "detection_criteria": ["criteria 1"],
    "red_flags": ["warning sign 1"],
    "detection_methods": ["method 1"],
    "escalation_triggers": ["trigger 1"]
  },
  "compliance_evidence": {
    "required_documentation": ["doc 1"],
    "audit_trail_requirements": ["requirement 1"],
    "record_retention": "retention period",
    "documentation_standards": ["standard 1"]
  },
  "penalties_and_consequences": {
    "regulatory_penalties": ["penalty 1"],
    "business_consequences": ["consequence 1"],
    "remediation_requirements": ["requirement 1"]
  },
  "stakeholder_responsibilities": {
    "primary_owner": "role or department",
    "supporting_roles": ["role 1"],
    "escalation_path": ["level 1", "level 2"],
    "training_requirements": ["training 1"]
  },
  "technology_requirements": {
    "automation_opportunities": ["opportunity 1"],
    "system_requirements": ["system 1"],
    "integration_points": ["integration 1"],
    "data_requirements": ["data 1"]
  },
  "source_information": {
    "regulation_source": "`)
	b.WriteString(r.SourceSection)
	b.WriteString(`",
    "legal_basis": "`)
	b.WriteString(r.LegalBasis)
	b.WriteString(`",
    "last_updated": "date",
    "version": "1.0"
  }
}`)

	return inference.Request{
		TemplateID: TemplateSynthesizeRule,
		System: "You are a compliance implementation expert. Create comprehensive rules organizations can implement " +
			"and monitor directly. Always respond with valid JSON.",
		Prompt: b.String(),
		Input:  map[string]any{"theme": r.ComplianceTheme, "priority": c.ImplementationPriority},
	}
}

func singleShotRequest(title, text string) inference.Request {
	prompt := `Document Content:
` + text + `

Based ONLY on the document content above, generate violation detection rules for monitoring conversations
covered by this regulation. Extract specific requirements, prohibitions and standards from the text.

Return ONLY valid JSON in this exact format:

{
  "rules": [
    {
      "name": "rule name",
      "description": "what the rule checks",
      "category": "suitability_violation|disclosure_failure|conflict_of_interest|elderly_abuse|unauthorized_trading|misrepresentation|churning|best_interest_violation|unsuitable_recommendation|inadequate_documentation",
      "detection_criteria": [
        {
          "trigger_phrase": "phrase that signals a possible violation",
          "context_required": "context in which the phrase matters",
          "confidence_threshold": 0.7,
          "description": "what the criterion detects"
        }
      ],
      "red_flags": ["flag"],
      "violation_indicators": ["indicator"],
      "violation_message": "message shown when the rule fires",
      "severity": "low|medium|high|critical",
      "regulatory_reference": "section or citation",
      "recommended_action": "what to do when the rule fires"
    }
  ]
}`

	return inference.Request{
		TemplateID: TemplateSingleShot,
		System:     "You are a compliance expert. Always respond with valid JSON.",
		Prompt:     prompt,
		Input:      map[string]any{"document": title},
		MaxTokens:  8192,
	}
}
