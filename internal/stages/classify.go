package stages

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/rulesmith/internal/orchestrator"
	"github.com/fyrsmithlabs/rulesmith/internal/rules"
)

// ClassifyBatchSize is the number of rules sent per classification call.
const ClassifyBatchSize = 5

// Classify assigns risk, urgency, priority and the other classification
// dimensions to each extracted rule.
type Classify struct {
	deps Deps
}

// NewClassify creates the classify stage.
func NewClassify(d Deps) *Classify {
	return &Classify{deps: d.withDefaults()}
}

// Name implements orchestrator.Stage.
func (c *Classify) Name() orchestrator.StageName { return orchestrator.StageClassify }

type classifyResponse struct {
	Rules []struct {
		Classification Classification `json:"classification"`
	} `json:"classified_rules"`
}

// Run implements orchestrator.Stage.
func (c *Classify) Run(ctx context.Context, rc *orchestrator.RunContext) (orchestrator.Fragment, error) {
	extracted := extractedRules(rc)
	out := &Classified{Rules: make([]ClassifiedRule, len(extracted))}
	if len(extracted) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.deps.Parallelism)
	for start := 0; start < len(extracted); start += ClassifyBatchSize {
		batch := extracted[start:min(start+ClassifyBatchSize, len(extracted))]
		g.Go(func() error {
			var resp classifyResponse
			if err := infer(gctx, c.deps.Client, classifyRequest(batch), &resp); err != nil {
				return err
			}
			if len(resp.Rules) != len(batch) {
				return invalid("classification returned %d entries for %d rules", len(resp.Rules), len(batch))
			}
			for i, r := range resp.Rules {
				cl := r.Classification
				cl.normalize()
				out.Rules[start+i] = ClassifiedRule{Rule: batch[i], Classification: cl}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Default passes every extracted rule through as unclassified with the lowest priority.
func (c *Classify) Default(rc *orchestrator.RunContext) orchestrator.Fragment {
	extracted := extractedRules(rc)
	out := &Classified{Rules: make([]ClassifiedRule, 0, len(extracted)), Fallback: true}
	for _, r := range extracted {
		out.Rules = append(out.Rules, ClassifiedRule{
			Rule: r,
			Classification: Classification{
				RiskLevel:              rules.RiskUnclassified,
				ImplementationPriority: rules.PriorityP4,
			},
		})
	}
	return out
}

func extractedRules(rc *orchestrator.RunContext) []RawRule {
	if e := upstream[*Extraction](rc, orchestrator.StageExtract); e != nil {
		return e.Rules
	}
	return nil
}
