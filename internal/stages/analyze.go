package stages

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/rulesmith/internal/orchestrator"
)

// Analyze computes document statistics and asks the model for the document
// structure and compliance themes.
type Analyze struct {
	deps Deps
}

// NewAnalyze creates the analyze stage.
func NewAnalyze(d Deps) *Analyze {
	return &Analyze{deps: d.withDefaults()}
}

// Name implements orchestrator.Stage.
func (a *Analyze) Name() orchestrator.StageName { return orchestrator.StageAnalyze }

// Run implements orchestrator.Stage.
func (a *Analyze) Run(ctx context.Context, rc *orchestrator.RunContext) (orchestrator.Fragment, error) {
	text := rc.Document().Text
	out := &Analysis{Stats: ComputeStats(text)}

	a.deps.Logger.Debug("document stats",
		zap.Int("words", out.Stats.WordCount),
		zap.Int("sections", out.Stats.SectionCount))

	var themes struct {
		Themes []Theme `json:"themes"`
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return infer(gctx, a.deps.Client, structureRequest(text), &out.Structure)
	})
	g.Go(func() error {
		return infer(gctx, a.deps.Client, themesRequest(text), &themes)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out.Structure.DocumentType = lower(out.Structure.DocumentType)
	if out.Structure.DocumentType == "" {
		return nil, invalid("structure analysis missing document_type")
	}

	out.Themes = make([]Theme, 0, len(themes.Themes))
	for _, t := range themes.Themes {
		if t.Theme == "" {
			continue
		}
		t.Importance = lower(t.Importance)
		out.Themes = append(out.Themes, t)
	}
	return out, nil
}

// Default returns the local statistics with an unknown document type and no themes.
func (a *Analyze) Default(rc *orchestrator.RunContext) orchestrator.Fragment {
	return &Analysis{
		Stats:     ComputeStats(rc.Document().Text),
		Structure: Structure{DocumentType: "unknown"},
		Themes:    []Theme{},
		Fallback:  true,
	}
}
