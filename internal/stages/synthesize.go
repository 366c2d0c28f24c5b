package stages

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/rulesmith/internal/orchestrator"
	"github.com/fyrsmithlabs/rulesmith/internal/rules"
)

// Synthesis metadata stamped on every final rule.
const (
	CreatedBy        = "rulesmith"
	SynthesisVersion = "1.0"
)

// Synthesize turns validated rules into final rules with implementation,
// monitoring and evidence detail. It has no substitute output.
type Synthesize struct {
	deps Deps
}

// NewSynthesize creates the synthesize stage.
func NewSynthesize(d Deps) *Synthesize {
	return &Synthesize{deps: d.withDefaults()}
}

// Name implements orchestrator.Stage.
func (s *Synthesize) Name() orchestrator.StageName { return orchestrator.StageSynthesize }

// Run implements orchestrator.Stage.
func (s *Synthesize) Run(ctx context.Context, rc *orchestrator.RunContext) (orchestrator.Fragment, error) {
	var validated []ValidatedRule
	if v := upstream[*Validation](rc, orchestrator.StageValidate); v != nil {
		validated = v.Rules
	}

	ordered := groupForSynthesis(validated)
	final := make([]rules.Rule, len(ordered))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.deps.Parallelism)
	for i, vr := range ordered {
		g.Go(func() error {
			var r rules.Rule
			if err := infer(gctx, s.deps.Client, synthesizeRequest(vr), &r); err != nil {
				return err
			}
			final[i] = fillFromSource(r, vr)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	analysis := upstream[*Analysis](rc, orchestrator.StageAnalyze)
	degraded := substitutedStages(rc)
	for i := range final {
		r := &final[i]
		r.ID = rules.FormatID(i + 1)
		r.SourceInformation.DocumentType = analysis.DocumentType()
		r.SourceInformation.RegulatoryAuthority = analysis.Authority()
		r.SynthesisMetadata = rules.SynthesisMetadata{
			CreatedBy:        CreatedBy,
			SynthesisVersion: SynthesisVersion,
			QualityAssurance: "multi-stage-validated",
			DegradedInputs:   degraded,
		}
		r.Normalize()
		if err := r.Validate(); err != nil {
			return nil, invalid("%v", err)
		}
	}

	s.deps.Logger.Debug("synthesized rules",
		zap.Int("validated", len(validated)),
		zap.Int("final", len(final)))

	return &Synthesis{Rules: final, Report: rules.Summarize(final, len(validated))}, nil
}

// Default returns nil: there is no acceptable substitute for the final rules.
func (s *Synthesize) Default(*orchestrator.RunContext) orchestrator.Fragment {
	return nil
}

// groupForSynthesis orders rules by their theme_priority group key, keeping the
// original order within a group.
func groupForSynthesis(validated []ValidatedRule) []ValidatedRule {
	groups := make(map[string][]ValidatedRule)
	for _, vr := range validated {
		key := orDefault(vr.Rule.ComplianceTheme, "general") + "_" + orDefault(vr.Classification.ImplementationPriority, rules.PriorityP4)
		groups[key] = append(groups[key], vr)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]ValidatedRule, 0, len(validated))
	for _, k := range keys {
		out = append(out, groups[k]...)
	}
	return out
}

// fillFromSource backfills fields the model left empty from the validated rule.
func fillFromSource(r rules.Rule, vr ValidatedRule) rules.Rule {
	src, cl := vr.Rule, vr.Classification

	r.Title = orDefault(r.Title, src.Title)
	r.Description = orDefault(r.Description, src.Description)
	r.ComplianceTheme = orDefault(r.ComplianceTheme, orDefault(src.ComplianceTheme, "general"))
	r.RequirementType = orDefault(r.RequirementType, src.RequirementType)
	r.RiskLevel = orDefault(r.RiskLevel, orDefault(cl.RiskLevel, rules.RiskUnclassified))
	r.ImplementationPriority = orDefault(r.ImplementationPriority, orDefault(cl.ImplementationPriority, rules.PriorityP4))
	if len(r.TargetEntities) == 0 {
		r.TargetEntities = src.TargetEntities
	}
	if len(r.KeyObligations) == 0 {
		r.KeyObligations = src.KeyObligations
	}
	if len(r.ViolationDetection.DetectionCriteria) == 0 {
		r.ViolationDetection.DetectionCriteria = src.DetectionCriteria
	}
	if len(r.ViolationDetection.RedFlags) == 0 {
		r.ViolationDetection.RedFlags = src.RedFlags
	}
	if len(r.PenaltiesAndConsequences.RegulatoryPenalties) == 0 {
		r.PenaltiesAndConsequences.RegulatoryPenalties = src.Penalties
	}
	if len(r.ComplianceEvidence.RequiredDocumentation) == 0 {
		r.ComplianceEvidence.RequiredDocumentation = src.DocumentationRequired
	}
	r.SourceInformation.RegulationSource = orDefault(r.SourceInformation.RegulationSource, src.SourceSection)
	r.SourceInformation.LegalBasis = orDefault(r.SourceInformation.LegalBasis, src.LegalBasis)
	r.SourceInformation.Version = orDefault(r.SourceInformation.Version, SynthesisVersion)
	return r
}

// substitutedStages lists the stages whose fragment is a substitute, in pipeline order.
func substitutedStages(rc *orchestrator.RunContext) []string {
	out := []string{}
	for _, name := range rc.Stages() {
		f, _ := rc.Get(name)
		if s, ok := f.(substituted); ok && s.Substituted() {
			out = append(out, string(name))
		}
	}
	return out
}
