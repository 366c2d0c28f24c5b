package stages

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/rulesmith/internal/inference"
	"github.com/fyrsmithlabs/rulesmith/internal/orchestrator"
	"github.com/fyrsmithlabs/rulesmith/internal/rules"
)

const advisoryRegulation = `FINANCIAL ADVISORY CONDUCT REGULATION

Section 1. Scope
This regulation applies to all registered investment advisers and their representatives.

Section 2. Disclosure
Advisers must disclose all fees, commissions and conflicts of interest to clients in writing
before making any recommendation.

Section 3. Suitability
Advisers shall not recommend a product unless it is suitable for the client's stated objectives,
risk tolerance and financial situation.

Article 4 Record Keeping
Records of every recommendation must be retained for five years.

Part IV Penalties
Violations may result in fines and suspension of registration.
`

func newDeps(client inference.Client) Deps {
	return Deps{Client: client, Parallelism: 2}
}

// runAll drives the stages in order the way the orchestrator does, failing on any error.
func runAll(t *testing.T, client inference.Client, doc orchestrator.Document) *orchestrator.RunContext {
	t.Helper()
	rc := orchestrator.NewRunContext(doc)
	for _, st := range All(newDeps(client)) {
		f, err := st.Run(context.Background(), rc)
		require.NoError(t, err, "stage %s", st.Name())
		rc, err = rc.Append(st.Name(), f)
		require.NoError(t, err)
	}
	return rc
}

func TestComputeStats(t *testing.T) {
	stats := ComputeStats(advisoryRegulation)

	assert.Equal(t, 6, stats.SectionCount, "title, 3 sections, article, part")
	assert.Greater(t, stats.WordCount, 50)
	assert.Equal(t, len([]rune(advisoryRegulation)), stats.CharacterCount)
	assert.Equal(t, 19, stats.LineCount)
}

func TestComputeStats_MinimumOneSection(t *testing.T) {
	stats := ComputeStats("no headers here")
	assert.Equal(t, 1, stats.SectionCount)
	assert.Equal(t, 3, stats.WordCount)
	assert.Equal(t, 1, stats.LineCount)
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    string
		wantErr bool
	}{
		{name: "bare object", text: `{"a":"x"}`, want: "x"},
		{name: "code fence", text: "```json\n{\"a\":\"y\"}\n```", want: "y"},
		{name: "surrounding prose", text: `Here you go: {"a":"z"} hope this helps`, want: "z"},
		{name: "no object", text: "I cannot help with that", wantErr: true},
		{name: "malformed", text: `{"a": }`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out struct {
				A string `json:"a"`
			}
			err := decodeJSON(tt.text, &out)
			if tt.wantErr {
				assert.ErrorIs(t, err, orchestrator.ErrInvalidOutput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.A)
		})
	}
}

func TestTruncate_RespectsRuneBoundary(t *testing.T) {
	s := "abécd" // é is two bytes at offset 2
	assert.Equal(t, "ab", truncate(s, 3))
	assert.Equal(t, s, truncate(s, 100))
}

func TestStages_OfflinePipeline(t *testing.T) {
	stub := Offline(inference.NewStub())
	rc := runAll(t, stub, orchestrator.NewDocument("doc-1", "Advisory", advisoryRegulation))

	require.Equal(t, 5, rc.Len())

	analysis, ok := orchestrator.FragmentAs[*Analysis](rc, orchestrator.StageAnalyze)
	require.True(t, ok)
	assert.Equal(t, "regulation", analysis.Structure.DocumentType)
	assert.Len(t, analysis.Themes, 2)

	extraction, ok := orchestrator.FragmentAs[*Extraction](rc, orchestrator.StageExtract)
	require.True(t, ok)
	assert.Len(t, extraction.Rules, 3)
	assert.Equal(t, 2, extraction.ThemesProcessed)
	assert.Equal(t, 1, extraction.GeneralRequirements)

	synthesis, ok := orchestrator.FragmentAs[*Synthesis](rc, orchestrator.StageSynthesize)
	require.True(t, ok)
	final := synthesis.FinalRules()
	require.Len(t, final, 3)

	// groups are ordered by theme_priority key
	assert.Equal(t, "RULE_001", final[0].ID)
	assert.Equal(t, "disclosure", final[0].ComplianceTheme)
	assert.Equal(t, "general", final[1].ComplianceTheme)
	assert.Equal(t, "RULE_003", final[2].ID)
	assert.Equal(t, "suitability", final[2].ComplianceTheme)

	for _, r := range final {
		assert.Equal(t, "regulation", r.SourceInformation.DocumentType)
		assert.Equal(t, "offline review", r.SourceInformation.RegulatoryAuthority)
		assert.Equal(t, CreatedBy, r.SynthesisMetadata.CreatedBy)
		assert.Empty(t, r.SynthesisMetadata.DegradedInputs)
		assert.NotNil(t, r.ViolationDetection.RedFlags)
	}

	assert.Equal(t, 3, synthesis.Report.TotalRules)
	assert.Equal(t, 3, synthesis.Report.HighPriorityRules)
	assert.Equal(t, 1, stub.Calls(TemplateClassifyBatch))
	assert.Equal(t, 3, stub.Calls(TemplateSynthesizeRule))
	assert.Equal(t, 1, stub.Calls(TemplateValidateCross))
}

func TestStages_UnavailableTranslated(t *testing.T) {
	stub := inference.NewStub().Otherwise(inference.Fail(inference.ErrUnavailable))
	rc := orchestrator.NewRunContext(orchestrator.NewDocument("", "", advisoryRegulation))

	_, err := NewAnalyze(newDeps(stub)).Run(context.Background(), rc)
	require.Error(t, err)
	assert.ErrorIs(t, err, orchestrator.ErrUnavailable)
	assert.Equal(t, orchestrator.FailureUnavailable, orchestrator.ClassifyError(err))
}

func TestStages_RequestErrorStaysTransient(t *testing.T) {
	stub := inference.NewStub().Otherwise(inference.Fail(errors.New("generate content: API returned unexpected status code: 400: maximum context length exceeded")))
	rc := orchestrator.NewRunContext(orchestrator.NewDocument("", "", advisoryRegulation))

	_, err := NewAnalyze(newDeps(stub)).Run(context.Background(), rc)
	require.Error(t, err)
	assert.NotErrorIs(t, err, orchestrator.ErrUnavailable)
	assert.Equal(t, orchestrator.FailureTransient, orchestrator.ClassifyError(err))
	assert.Equal(t, orchestrator.ActionSubstitute, orchestrator.Policy{}.Resolve(orchestrator.StageAnalyze, orchestrator.ClassifyError(err)))
}

func TestAnalyze_MissingDocumentTypeInvalid(t *testing.T) {
	stub := Offline(inference.NewStub()).
		On(TemplateAnalyzeStructure, inference.Text(`{"main_sections": []}`))
	rc := orchestrator.NewRunContext(orchestrator.NewDocument("", "", advisoryRegulation))

	_, err := NewAnalyze(newDeps(stub)).Run(context.Background(), rc)
	assert.ErrorIs(t, err, orchestrator.ErrInvalidOutput)
}

func TestAnalyze_Default(t *testing.T) {
	rc := orchestrator.NewRunContext(orchestrator.NewDocument("", "", advisoryRegulation))
	f := NewAnalyze(newDeps(inference.NewStub())).Default(rc)

	a, ok := f.(*Analysis)
	require.True(t, ok)
	assert.True(t, a.Substituted())
	assert.Equal(t, "unknown", a.DocumentType())
	assert.Empty(t, a.Themes)
	assert.Equal(t, 6, a.Stats.SectionCount)
}

func TestClassify_BatchesOfFive(t *testing.T) {
	stub := Offline(inference.NewStub())
	rc := orchestrator.NewRunContext(orchestrator.NewDocument("", "", advisoryRegulation))
	rc = mustAppend(t, rc, orchestrator.StageAnalyze, &Analysis{})

	raw := make([]RawRule, 12)
	for i := range raw {
		raw[i] = offlineRawRule("general")
	}
	rc = mustAppend(t, rc, orchestrator.StageExtract, &Extraction{Rules: raw})

	f, err := NewClassify(newDeps(stub)).Run(context.Background(), rc)
	require.NoError(t, err)

	c := f.(*Classified)
	assert.Len(t, c.Rules, 12)
	assert.Equal(t, 3, stub.Calls(TemplateClassifyBatch))
	for _, r := range c.Rules {
		assert.Equal(t, rules.RiskHigh, r.Classification.RiskLevel)
	}
	assert.Equal(t, 12, c.Summary()["high_priority_count"])
}

func TestClassify_EntryCountMismatchInvalid(t *testing.T) {
	stub := inference.NewStub().On(TemplateClassifyBatch, inference.Text(`{"classified_rules": []}`))
	rc := orchestrator.NewRunContext(orchestrator.NewDocument("", "", advisoryRegulation))
	rc = mustAppend(t, rc, orchestrator.StageAnalyze, &Analysis{})
	rc = mustAppend(t, rc, orchestrator.StageExtract, &Extraction{Rules: []RawRule{offlineRawRule("general")}})

	_, err := NewClassify(newDeps(stub)).Run(context.Background(), rc)
	assert.ErrorIs(t, err, orchestrator.ErrInvalidOutput)
}

func TestClassify_Default(t *testing.T) {
	rc := orchestrator.NewRunContext(orchestrator.NewDocument("", "", advisoryRegulation))
	rc = mustAppend(t, rc, orchestrator.StageAnalyze, &Analysis{})
	rc = mustAppend(t, rc, orchestrator.StageExtract, &Extraction{Rules: []RawRule{offlineRawRule("a"), offlineRawRule("b")}})

	c := NewClassify(newDeps(nil)).Default(rc).(*Classified)
	require.Len(t, c.Rules, 2)
	assert.True(t, c.Substituted())
	for _, r := range c.Rules {
		assert.Equal(t, rules.RiskUnclassified, r.Classification.RiskLevel)
		assert.Equal(t, rules.PriorityP4, r.Classification.ImplementationPriority)
	}
}

func TestValidate_Issues(t *testing.T) {
	stub := Offline(inference.NewStub())

	good := ClassifiedRule{Rule: offlineRawRule("disclosure"), Classification: Classification{
		RiskLevel: "high", Urgency: "medium", Complexity: "low", ImplementationPriority: "p2",
	}}
	short := good
	short.Rule.Title = "Short"
	broken := good
	broken.Rule.KeyObligations = nil
	broken.Classification.RiskLevel = "severe"

	rc := classifiedContext(t, []ClassifiedRule{good, short, broken}, false)
	f, err := NewValidate(newDeps(stub)).Run(context.Background(), rc)
	require.NoError(t, err)

	v := f.(*Validation)
	require.Len(t, v.Rules, 2)
	assert.Equal(t, StatusPassed, v.Rules[0].Status)
	assert.Equal(t, "Short", v.Rules[1].Rule.Title)

	r := v.Report
	assert.Equal(t, 3, r.TotalRules)
	assert.Equal(t, 2, r.Passed)
	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, 2, r.CriticalIssues, "missing obligations and invalid risk level")
	assert.Equal(t, 1, r.WarningIssues)
	assert.Equal(t, 1, r.IssueBreakdown["missing_field"])
	assert.Equal(t, 1, r.IssueBreakdown["invalid_classification"])
	assert.Equal(t, 66.67, r.SuccessRate)
	assert.Equal(t, 54.67, r.QualityScore)
	assert.Equal(t, 1, stub.Calls(TemplateValidateCross))
}

func TestValidate_CorrectionsMerged(t *testing.T) {
	stub := Offline(inference.NewStub()).On(TemplateValidateRule, inference.Text(`{
		"validation_result": "pass",
		"issues": [{"type": "clarity", "severity": "INFO", "message": "could be clearer"}],
		"corrected_rule": {"rule_title": "Disclose every fee in writing", "red_flags": ["verbal-only disclosure"]}
	}`))

	cr := ClassifiedRule{Rule: offlineRawRule("disclosure"), Classification: Classification{
		RiskLevel: "high", Urgency: "high", Complexity: "low", ImplementationPriority: "p1",
	}}
	rc := classifiedContext(t, []ClassifiedRule{cr}, false)

	f, err := NewValidate(newDeps(stub)).Run(context.Background(), rc)
	require.NoError(t, err)

	v := f.(*Validation)
	require.Len(t, v.Rules, 1)
	assert.Equal(t, "Disclose every fee in writing", v.Rules[0].Rule.Title)
	assert.Equal(t, []string{"verbal-only disclosure"}, v.Rules[0].Rule.RedFlags)
	assert.Equal(t, cr.Rule.Description, v.Rules[0].Rule.Description)
	assert.Equal(t, 1, v.Report.InfoIssues)
	assert.Equal(t, 0, stub.Calls(TemplateValidateCross), "cross check needs two rules")
}

func TestValidate_CrossFailureIgnored(t *testing.T) {
	stub := Offline(inference.NewStub()).On(TemplateValidateCross, inference.Fail(errors.New("boom")))

	cr := ClassifiedRule{Rule: offlineRawRule("disclosure"), Classification: Classification{
		RiskLevel: "low", Urgency: "low", Complexity: "low", ImplementationPriority: "p4",
	}}
	rc := classifiedContext(t, []ClassifiedRule{cr, cr}, false)

	f, err := NewValidate(newDeps(stub)).Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Len(t, f.(*Validation).Rules, 2)
}

func TestValidate_UnclassifiedInputsSkipValueChecks(t *testing.T) {
	stub := Offline(inference.NewStub())
	cr := ClassifiedRule{Rule: offlineRawRule("disclosure"), Classification: Classification{
		RiskLevel: rules.RiskUnclassified, ImplementationPriority: rules.PriorityP4,
	}}
	rc := classifiedContext(t, []ClassifiedRule{cr}, true)

	f, err := NewValidate(newDeps(stub)).Run(context.Background(), rc)
	require.NoError(t, err)

	v := f.(*Validation)
	require.Len(t, v.Rules, 1)
	assert.Equal(t, 0, v.Report.CriticalIssues)
	assert.Equal(t, 1, v.Report.IssueBreakdown["unclassified"])
}

func TestValidate_Default(t *testing.T) {
	cr := ClassifiedRule{Rule: offlineRawRule("x")}
	rc := classifiedContext(t, []ClassifiedRule{cr, cr}, false)

	v := NewValidate(newDeps(nil)).Default(rc).(*Validation)
	require.Len(t, v.Rules, 2)
	assert.True(t, v.Substituted())
	assert.Equal(t, StatusUnvalidated, v.Rules[0].Status)
	assert.Equal(t, 100.0, v.Report.QualityScore)
}

func TestQualityScore(t *testing.T) {
	tests := []struct {
		passed, total, critical, warnings int
		want                              float64
	}{
		{0, 0, 0, 0, 0},
		{10, 10, 0, 0, 100},
		{9, 10, 1, 2, 81},
		{1, 3, 0, 0, 33.33},
		{1, 10, 5, 0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, QualityScore(tt.passed, tt.total, tt.critical, tt.warnings))
	}
}

func TestSynthesize_RecordsDegradedInputs(t *testing.T) {
	stub := Offline(inference.NewStub())
	deps := newDeps(stub)

	rc := orchestrator.NewRunContext(orchestrator.NewDocument("", "", advisoryRegulation))
	rc = mustAppend(t, rc, orchestrator.StageAnalyze, NewAnalyze(deps).Default(rc))
	rc = mustAppend(t, rc, orchestrator.StageExtract, &Extraction{Rules: []RawRule{offlineRawRule("general")}})
	rc = mustAppend(t, rc, orchestrator.StageClassify, NewClassify(deps).Default(rc))
	rc = mustAppend(t, rc, orchestrator.StageValidate, NewValidate(deps).Default(rc))

	f, err := NewSynthesize(deps).Run(context.Background(), rc)
	require.NoError(t, err)

	final := f.(*Synthesis).FinalRules()
	require.Len(t, final, 1)
	assert.Equal(t, []string{"analyze", "classify", "validate"}, final[0].SynthesisMetadata.DegradedInputs)
	assert.Equal(t, "unknown", final[0].SourceInformation.DocumentType)
}

func TestSynthesize_NoDefault(t *testing.T) {
	assert.Nil(t, NewSynthesize(newDeps(nil)).Default(nil))
}

func TestSynthesize_InvalidRule(t *testing.T) {
	stub := Offline(inference.NewStub()).On(TemplateSynthesizeRule, inference.Text(`not json`))
	cr := ClassifiedRule{Rule: offlineRawRule("general")}
	rc := classifiedContext(t, []ClassifiedRule{cr}, false)
	rc = mustAppend(t, rc, orchestrator.StageValidate, NewValidate(newDeps(stub)).Default(rc))

	_, err := NewSynthesize(newDeps(stub)).Run(context.Background(), rc)
	assert.ErrorIs(t, err, orchestrator.ErrInvalidOutput)
}

func TestGroupForSynthesis(t *testing.T) {
	mk := func(theme, priority string) ValidatedRule {
		return ValidatedRule{Rule: RawRule{Title: theme + priority, ComplianceTheme: theme}, Classification: Classification{ImplementationPriority: priority}}
	}
	got := groupForSynthesis([]ValidatedRule{mk("b", "p1"), mk("a", "p2"), mk("b", "p1"), mk("a", "p1"), mk("", "")})

	var titles []string
	for _, r := range got {
		titles = append(titles, r.Rule.Title)
	}
	assert.Equal(t, []string{"ap1", "ap2", "bp1", "bp1", ""}, titles)
}

func TestSingleShot_Generate(t *testing.T) {
	stub := Offline(inference.NewStub())
	src, err := NewSingleShot(newDeps(stub)).Generate(context.Background(), orchestrator.NewDocument("d", "Advisory", advisoryRegulation))
	require.NoError(t, err)

	final := src.FinalRules()
	require.Len(t, final, 1)
	r := final[0]
	assert.Equal(t, "RULE_001", r.ID)
	assert.Equal(t, rules.RiskMedium, r.RiskLevel)
	assert.Equal(t, rules.PriorityP3, r.ImplementationPriority)
	assert.Equal(t, "inadequate_documentation", r.ComplianceTheme)
	assert.True(t, r.SynthesisMetadata.Fallback)
	assert.Equal(t, []string{"requires manual review (client conversation)"}, r.ViolationDetection.DetectionCriteria)
	assert.Equal(t, true, src.Summary()["fallback"])

	reqs := stub.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Prompt, "Part IV Penalties", "the whole document is sent")
}

func TestSingleShot_MissingRulesInvalid(t *testing.T) {
	stub := inference.NewStub().On(TemplateSingleShot, inference.Text(`{"items": []}`))
	_, err := NewSingleShot(newDeps(stub)).Generate(context.Background(), orchestrator.NewDocument("", "", "x"))
	assert.ErrorIs(t, err, orchestrator.ErrInvalidOutput)
}

func mustAppend(t *testing.T, rc *orchestrator.RunContext, stage orchestrator.StageName, f orchestrator.Fragment) *orchestrator.RunContext {
	t.Helper()
	next, err := rc.Append(stage, f)
	require.NoError(t, err)
	return next
}

func classifiedContext(t *testing.T, crs []ClassifiedRule, substituted bool) *orchestrator.RunContext {
	t.Helper()
	rc := orchestrator.NewRunContext(orchestrator.NewDocument("", "", advisoryRegulation))
	rc = mustAppend(t, rc, orchestrator.StageAnalyze, &Analysis{Structure: Structure{DocumentType: "regulation"}})
	raw := make([]RawRule, len(crs))
	for i, cr := range crs {
		raw[i] = cr.Rule
	}
	rc = mustAppend(t, rc, orchestrator.StageExtract, &Extraction{Rules: raw})
	return mustAppend(t, rc, orchestrator.StageClassify, &Classified{Rules: crs, Fallback: substituted})
}
