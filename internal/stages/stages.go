// Package stages implements the five inference-backed pipeline stages and the
// single-shot rule generator used when synthesis fails.
//
// Every stage reads earlier fragments from the run context, renders one or more
// prompts, and decodes the JSON the model returns into a typed fragment. Decoding
// and schema failures are reported as orchestrator.ErrInvalidOutput; an unusable
// inference capability is reported as orchestrator.ErrUnavailable.
package stages

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rulesmith/internal/inference"
	"github.com/fyrsmithlabs/rulesmith/internal/orchestrator"
)

// DefaultParallelism bounds concurrent inference calls inside one stage.
const DefaultParallelism = 4

// Deps are the collaborators shared by all stages.
type Deps struct {
	Client      inference.Client
	Logger      *zap.Logger
	Parallelism int
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Parallelism <= 0 {
		d.Parallelism = DefaultParallelism
	}
	return d
}

// All returns the five stages in pipeline order.
func All(d Deps) []orchestrator.Stage {
	d = d.withDefaults()
	return []orchestrator.Stage{
		NewAnalyze(d),
		NewExtract(d),
		NewClassify(d),
		NewValidate(d),
		NewSynthesize(d),
	}
}

// substituted is implemented by fragments that can stand in for a failed stage.
type substituted interface {
	Substituted() bool
}

// infer performs one call and decodes the JSON object in the response into out.
func infer(ctx context.Context, client inference.Client, req inference.Request, out any) error {
	resp, err := client.Infer(ctx, req)
	if err != nil {
		if errors.Is(err, inference.ErrUnavailable) {
			return fmt.Errorf("%w: %w", orchestrator.ErrUnavailable, err)
		}
		return fmt.Errorf("%s: %w", req.TemplateID, err)
	}
	if err := decodeJSON(resp.Text, out); err != nil {
		return fmt.Errorf("%s: %w", req.TemplateID, err)
	}
	return nil
}

// upstream returns the typed fragment for stage, or the zero value when absent.
func upstream[T orchestrator.Fragment](rc *orchestrator.RunContext, stage orchestrator.StageName) T {
	f, _ := orchestrator.FragmentAs[T](rc, stage)
	return f
}
