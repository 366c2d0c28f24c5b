package stages

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/rulesmith/internal/orchestrator"
)

const (
	minTitleLength       = 10
	minDescriptionLength = 50
	crossValidationLimit = 20
)

var classificationValues = map[string][]string{
	"risk_level":              {"critical", "high", "medium", "low"},
	"urgency":                 {"immediate", "high", "medium", "low"},
	"complexity":              {"high", "medium", "low"},
	"implementation_priority": {"p1", "p2", "p3", "p4"},
}

// Validate checks classified rules for structure, classification values and
// content quality, keeping only rules without critical issues.
type Validate struct {
	deps Deps
}

// NewValidate creates the validate stage.
func NewValidate(d Deps) *Validate {
	return &Validate{deps: d.withDefaults()}
}

// Name implements orchestrator.Stage.
func (v *Validate) Name() orchestrator.StageName { return orchestrator.StageValidate }

type contentResponse struct {
	Result        string  `json:"validation_result"`
	Issues        []Issue `json:"issues"`
	CorrectedRule *struct {
		Title             string   `json:"rule_title"`
		Description       string   `json:"rule_description"`
		KeyObligations    []string `json:"key_obligations"`
		DetectionCriteria []string `json:"detection_criteria"`
		RedFlags          []string `json:"red_flags"`
	} `json:"corrected_rule"`
	Actionability int `json:"actionability_score"`
	Clarity       int `json:"clarity_score"`
}

type crossResponse struct {
	Issues []Issue `json:"cross_validation_issues"`
}

// Run implements orchestrator.Stage.
func (v *Validate) Run(ctx context.Context, rc *orchestrator.RunContext) (orchestrator.Fragment, error) {
	classified, unclassified := classifiedRules(rc)
	checked := make([]ValidatedRule, len(classified))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.deps.Parallelism)
	for i, cr := range classified {
		number := i + 1
		g.Go(func() error {
			issues := structureIssues(cr.Rule, number)
			if unclassified {
				issues = append(issues, Issue{
					Type:       "unclassified",
					Severity:   SeverityInfo,
					RuleNumber: number,
					Message:    "Classification was not available for this rule",
				})
			} else {
				issues = append(issues, classificationIssues(cr.Classification, number)...)
			}

			var resp contentResponse
			if err := infer(gctx, v.deps.Client, validateRuleRequest(cr.Rule, cr.Classification, number), &resp); err != nil {
				return err
			}
			for _, is := range resp.Issues {
				is.RuleNumber = number
				is.Severity = lower(is.Severity)
				issues = append(issues, is)
			}

			rule := cr.Rule
			if c := resp.CorrectedRule; c != nil {
				rule.Title = orDefault(c.Title, rule.Title)
				rule.Description = orDefault(c.Description, rule.Description)
				if len(c.KeyObligations) > 0 {
					rule.KeyObligations = c.KeyObligations
				}
				if len(c.DetectionCriteria) > 0 {
					rule.DetectionCriteria = c.DetectionCriteria
				}
				if len(c.RedFlags) > 0 {
					rule.RedFlags = c.RedFlags
				}
			}

			status := StatusPassed
			if hasCritical(issues) {
				status = StatusFailed
			}
			checked[i] = ValidatedRule{
				Rule:           rule,
				Classification: cr.Classification,
				Status:         status,
				Issues:         issues,
				Actionability:  resp.Actionability,
				Clarity:        resp.Clarity,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Validation{Rules: []ValidatedRule{}, Issues: []Issue{}}
	for _, r := range checked {
		out.Issues = append(out.Issues, r.Issues...)
		if r.Status == StatusPassed {
			out.Rules = append(out.Rules, r)
		}
	}

	out.Issues = append(out.Issues, v.crossValidate(ctx, out.Rules)...)
	out.Report = buildReport(len(classified), len(out.Rules), out.Issues)
	return out, nil
}

// crossValidate looks for conflicts between passed rules. It is advisory: a failed
// call is logged and yields no issues.
func (v *Validate) crossValidate(ctx context.Context, passed []ValidatedRule) []Issue {
	if len(passed) < 2 {
		return nil
	}
	sample := passed[:min(len(passed), crossValidationLimit)]

	var resp crossResponse
	if err := infer(ctx, v.deps.Client, crossValidateRequest(sample), &resp); err != nil {
		v.deps.Logger.Warn("cross-validation failed", zap.Error(err))
		return nil
	}
	for i := range resp.Issues {
		resp.Issues[i].Severity = lower(resp.Issues[i].Severity)
	}
	return resp.Issues
}

// Default passes every classified rule through unvalidated.
func (v *Validate) Default(rc *orchestrator.RunContext) orchestrator.Fragment {
	classified, _ := classifiedRules(rc)
	out := &Validation{
		Rules:    make([]ValidatedRule, 0, len(classified)),
		Issues:   []Issue{},
		Fallback: true,
	}
	for _, cr := range classified {
		out.Rules = append(out.Rules, ValidatedRule{
			Rule:           cr.Rule,
			Classification: cr.Classification,
			Status:         StatusUnvalidated,
			Issues:         []Issue{},
		})
	}
	out.Report = buildReport(len(classified), len(classified), nil)
	return out
}

func classifiedRules(rc *orchestrator.RunContext) ([]ClassifiedRule, bool) {
	if c := upstream[*Classified](rc, orchestrator.StageClassify); c != nil {
		return c.Rules, c.Fallback
	}
	return nil, false
}

func structureIssues(r RawRule, number int) []Issue {
	var issues []Issue
	missing := func(field string, empty bool) {
		if empty {
			issues = append(issues, Issue{
				Type:       "missing_field",
				Severity:   SeverityCritical,
				RuleNumber: number,
				Field:      field,
				Message:    fmt.Sprintf("Required field '%s' is missing or empty", field),
			})
		}
	}
	missing("rule_title", strings.TrimSpace(r.Title) == "")
	missing("rule_description", strings.TrimSpace(r.Description) == "")
	missing("requirement_type", strings.TrimSpace(r.RequirementType) == "")
	missing("key_obligations", len(r.KeyObligations) == 0)
	missing("target_entities", len(r.TargetEntities) == 0)

	if n := utf8.RuneCountInString(r.Title); n > 0 && n < minTitleLength {
		issues = append(issues, Issue{
			Type:       "content_quality",
			Severity:   SeverityWarning,
			RuleNumber: number,
			Field:      "rule_title",
			Message:    fmt.Sprintf("Rule title is too short (less than %d characters)", minTitleLength),
		})
	}
	if n := utf8.RuneCountInString(r.Description); n > 0 && n < minDescriptionLength {
		issues = append(issues, Issue{
			Type:       "content_quality",
			Severity:   SeverityWarning,
			RuleNumber: number,
			Field:      "rule_description",
			Message:    fmt.Sprintf("Rule description is too brief (less than %d characters)", minDescriptionLength),
		})
	}
	return issues
}

func classificationIssues(c Classification, number int) []Issue {
	values := map[string]string{
		"risk_level":              c.RiskLevel,
		"urgency":                 c.Urgency,
		"complexity":              c.Complexity,
		"implementation_priority": c.ImplementationPriority,
	}

	var issues []Issue
	for _, field := range []string{"risk_level", "urgency", "complexity", "implementation_priority"} {
		value := lower(values[field])
		switch {
		case value == "":
			issues = append(issues, Issue{
				Type:       "missing_classification",
				Severity:   SeverityCritical,
				RuleNumber: number,
				Field:      field,
				Message:    fmt.Sprintf("Classification field '%s' is missing", field),
			})
		case !slices.Contains(classificationValues[field], value):
			issues = append(issues, Issue{
				Type:       "invalid_classification",
				Severity:   SeverityCritical,
				RuleNumber: number,
				Field:      field,
				Message: fmt.Sprintf("Invalid value '%s' for %s. Valid values: %s",
					value, field, strings.Join(classificationValues[field], ", ")),
			})
		}
	}
	return issues
}

func hasCritical(issues []Issue) bool {
	for _, is := range issues {
		if is.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

func buildReport(total, passed int, issues []Issue) Report {
	r := Report{
		TotalRules:     total,
		Passed:         passed,
		Failed:         total - passed,
		TotalIssues:    len(issues),
		IssueBreakdown: map[string]int{},
	}
	for _, is := range issues {
		switch is.Severity {
		case SeverityCritical:
			r.CriticalIssues++
		case SeverityWarning:
			r.WarningIssues++
		case SeverityInfo:
			r.InfoIssues++
		}
		r.IssueBreakdown[orDefault(is.Type, "unknown")]++
	}
	if total > 0 {
		r.SuccessRate = round2(float64(passed) / float64(total) * 100)
	}
	r.QualityScore = QualityScore(passed, total, r.CriticalIssues, r.WarningIssues)
	return r
}

// QualityScore is the pass rate in percent minus 5 points per critical issue and
// 2 per warning, floored at zero and rounded to two decimals.
func QualityScore(passed, total, critical, warnings int) float64 {
	if total == 0 {
		return 0
	}
	score := float64(passed)/float64(total)*100 - float64(5*critical) - float64(2*warnings)
	return round2(math.Max(0, score))
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
