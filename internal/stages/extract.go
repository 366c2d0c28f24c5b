package stages

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/rulesmith/internal/orchestrator"
)

// Extract pulls raw requirements out of the document, one call per theme plus
// one for organization-wide requirements.
type Extract struct {
	deps Deps
}

// NewExtract creates the extract stage.
func NewExtract(d Deps) *Extract {
	return &Extract{deps: d.withDefaults()}
}

// Name implements orchestrator.Stage.
func (e *Extract) Name() orchestrator.StageName { return orchestrator.StageExtract }

type extractResponse struct {
	Rules []RawRule `json:"rules"`
}

// Run implements orchestrator.Stage.
func (e *Extract) Run(ctx context.Context, rc *orchestrator.RunContext) (orchestrator.Fragment, error) {
	text := rc.Document().Text

	var themes []Theme
	if a := upstream[*Analysis](rc, orchestrator.StageAnalyze); a != nil {
		themes = a.Themes
	}

	// index len(themes) holds the general requirements
	results := make([][]RawRule, len(themes)+1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.deps.Parallelism)
	for i, theme := range themes {
		g.Go(func() error {
			var resp extractResponse
			if err := infer(gctx, e.deps.Client, themeRulesRequest(text, theme), &resp); err != nil {
				return err
			}
			for j := range resp.Rules {
				if resp.Rules[j].ComplianceTheme == "" {
					resp.Rules[j].ComplianceTheme = theme.Theme
				}
			}
			results[i] = resp.Rules
			return nil
		})
	}
	g.Go(func() error {
		var resp extractResponse
		if err := infer(gctx, e.deps.Client, generalRulesRequest(text), &resp); err != nil {
			return err
		}
		for j := range resp.Rules {
			resp.Rules[j].ComplianceTheme = orDefault(resp.Rules[j].ComplianceTheme, "general")
		}
		results[len(themes)] = resp.Rules
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Extraction{
		Rules:               []RawRule{},
		ThemesProcessed:     len(themes),
		GeneralRequirements: len(results[len(themes)]),
	}
	for i, rs := range results {
		for _, r := range rs {
			r.RequirementType = lower(r.RequirementType)
			out.Rules = append(out.Rules, r)
		}
		if i < len(themes) {
			e.deps.Logger.Debug("extracted theme rules",
				zap.String("theme", themes[i].Theme),
				zap.Int("rules", len(rs)))
		}
	}
	return out, nil
}

// Default returns an empty extraction.
func (e *Extract) Default(*orchestrator.RunContext) orchestrator.Fragment {
	return &Extraction{Rules: []RawRule{}, Fallback: true}
}
