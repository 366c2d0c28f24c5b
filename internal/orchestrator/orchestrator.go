package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rulesmith/internal/rules"
)

// Orchestrator drives one document through the five stages.
//
// State machine:
//
//	Idle -> Running(0) -> ... -> Running(4) -> Completed
//	Running(i) -> Aborted            (fatal failure, cancellation)
//	Running(4) -> single-shot -> Completed | Aborted
//
// An Orchestrator serves exactly one run; Completed and Aborted are terminal.
type Orchestrator struct {
	doc     Document
	runID   string
	stages  []Stage
	runner  *Runner
	single  SingleShot
	emitter Emitter
	metrics *Metrics
	tracer  trace.Tracer
	logger  *zap.Logger
	now     func() time.Time

	mu    sync.Mutex
	state State
	index int
	seq   int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEmitter sets the event sink.
func WithEmitter(e Emitter) Option {
	return func(o *Orchestrator) {
		o.emitter = e
	}
}

// WithSingleShot sets the fallback used when synthesis fails.
func WithSingleShot(s SingleShot) Option {
	return func(o *Orchestrator) {
		o.single = s
	}
}

// WithRunID overrides the generated run ID.
func WithRunID(id string) Option {
	return func(o *Orchestrator) {
		if id != "" {
			o.runID = id
		}
	}
}

// WithMetrics sets Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates an orchestrator for doc. stages must contain exactly one implementation
// per pipeline stage, in any order.
func New(doc Document, stages []Stage, runner *Runner, opts ...Option) (*Orchestrator, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}

	ordered, err := orderStages(stages)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		doc:     doc,
		runID:   uuid.NewString(),
		stages:  ordered,
		runner:  runner,
		emitter: NopEmitter{},
		tracer:  otel.Tracer(tracerName),
		logger:  zap.NewNop(),
		now:     time.Now,
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.emitter == nil {
		o.emitter = NopEmitter{}
	}
	o.logger = o.logger.With(zap.String("run.id", o.runID), zap.String("document.id", doc.ID))
	return o, nil
}

func orderStages(stages []Stage) ([]Stage, error) {
	all := AllStages()
	ordered := make([]Stage, len(all))
	for _, s := range stages {
		if s == nil {
			return nil, fmt.Errorf("nil stage")
		}
		idx := s.Name().Index()
		if idx < 0 {
			return nil, fmt.Errorf("unknown stage %q", s.Name())
		}
		if ordered[idx] != nil {
			return nil, fmt.Errorf("duplicate stage %q", s.Name())
		}
		ordered[idx] = s
	}
	for i, s := range ordered {
		if s == nil {
			return nil, fmt.Errorf("missing stage %q", all[i])
		}
	}
	return ordered, nil
}

// RunID returns the run identifier used in events.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// State returns the lifecycle state and, while running, the current stage index.
func (o *Orchestrator) State() (State, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state, o.index
}

// Run executes the pipeline. It returns a non-nil Result in every terminal state; the
// error is an *AbortError when the run ends in StateAborted.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	o.state = StateRunning
	o.index = 0
	o.mu.Unlock()

	o.metrics.RunStarted()

	ctx, span := o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", o.runID),
		attribute.String("document.id", o.doc.ID),
	))
	defer span.End()

	result := &Result{
		RunID:      o.runID,
		DocumentID: o.doc.ID,
		State:      StateRunning,
		Rules:      []rules.Rule{},
		Degraded:   []StageName{},
		StartedAt:  o.now(),
	}

	o.logger.Info("pipeline started", zap.Int("document.length", len(o.doc.Text)))
	o.emit(Event{Type: EventPipelineStarted, TotalStages: len(o.stages)})

	rc := NewRunContext(o.doc)

	for i, stage := range o.stages {
		name := stage.Name()

		// Cancellation is honoured only between stages.
		if err := ctx.Err(); err != nil {
			return o.abort(span, result, rc, name, fmt.Errorf("%w: %v", ErrCancelled, err))
		}

		o.setIndex(i)
		if rc.Len() != i {
			return o.abort(span, result, rc, name, fmt.Errorf("context holds %d fragments before stage %d", rc.Len(), i))
		}

		o.emit(Event{Type: EventStageStarted, Stage: name})
		o.logger.Debug("stage started", zap.String("stage", string(name)))

		res := o.runner.Run(ctx, stage, rc)
		result.Stages = append(result.Stages, res)

		if res.Outcome == OutcomeFatal {
			if res.Action != ActionSingleShot || o.single == nil {
				return o.abort(span, result, rc, name, res.Err)
			}

			o.logger.Warn("stage failed, trying single-shot fallback",
				zap.String("stage", string(name)),
				zap.String("reason", res.Reason),
			)
			src, err := o.runner.RunSingleShot(ctx, o.single, o.doc)
			if err != nil {
				return o.abort(span, result, rc, name, fmt.Errorf("%v; single-shot fallback failed: %w", res.Err, err))
			}
			res = StageResult{
				Stage:    name,
				Outcome:  OutcomeDegraded,
				Fragment: src,
				Reason:   res.Reason,
				Attempts: res.Attempts,
				Duration: res.Duration,
				Action:   ActionSingleShot,
				Err:      res.Err,
			}
			result.Stages[len(result.Stages)-1] = res
			result.Fallback = true
		}

		next, err := rc.Append(name, res.Fragment)
		if err != nil {
			return o.abort(span, result, rc, name, err)
		}
		rc = next

		degraded := res.Outcome == OutcomeDegraded
		if degraded {
			result.Degraded = append(result.Degraded, name)
			o.logger.Warn("stage degraded", zap.String("stage", string(name)), zap.String("reason", res.Reason))
		}

		o.emit(Event{
			Type:     EventStageCompleted,
			Stage:    name,
			Summary:  res.Fragment.Summary(),
			Degraded: degraded,
		})
	}

	if src, ok := FragmentAs[RuleSource](rc, StageSynthesize); ok {
		if final := src.FinalRules(); final != nil {
			result.Rules = final
		}
	}
	result.Context = rc
	result.Summary = pipelineSummary(rc, result)

	o.emit(Event{
		Type:           EventPipelineCompleted,
		Rules:          result.Rules,
		Fallback:       result.Fallback,
		DegradedStages: result.Degraded,
		Summary:        result.Summary,
	})

	o.setState(StateCompleted)
	result.State = StateCompleted
	result.FinishedAt = o.now()
	result.EventsDropped = o.dropped()
	o.metrics.RunFinished(StateCompleted)

	span.SetAttributes(
		attribute.Int("rules.count", len(result.Rules)),
		attribute.Bool("run.fallback", result.Fallback),
		attribute.Int("run.degraded_stages", len(result.Degraded)),
	)
	o.logger.Info("pipeline completed",
		zap.Int("rules", len(result.Rules)),
		zap.Bool("fallback", result.Fallback),
		zap.Int("degraded_stages", len(result.Degraded)),
	)

	return result, nil
}

// abort emits the terminal error event and moves to StateAborted.
func (o *Orchestrator) abort(span trace.Span, result *Result, rc *RunContext, stage StageName, cause error) (*Result, error) {
	if cause == nil {
		cause = fmt.Errorf("stage %s failed", stage)
	}

	o.emit(Event{Type: EventError, Stage: stage, Message: cause.Error()})
	o.setState(StateAborted)

	result.State = StateAborted
	result.Context = rc
	result.FailedStage = stage
	result.FailureMessage = cause.Error()
	result.Rules = []rules.Rule{}
	result.FinishedAt = o.now()
	result.EventsDropped = o.dropped()
	o.metrics.RunFinished(StateAborted)

	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	o.logger.Error("pipeline aborted", zap.String("stage", string(stage)), zap.Error(cause))

	return result, &AbortError{RunID: o.runID, Stage: stage, Err: cause}
}

// emit stamps and forwards an event. Events are emitted from the run goroutine only, so
// sequence numbers follow emission order.
func (o *Orchestrator) emit(event Event) {
	o.mu.Lock()
	o.seq++
	event.Seq = o.seq
	o.mu.Unlock()

	event.RunID = o.runID
	event.Time = o.now()
	o.metrics.RecordEvent(event.Type)
	o.emitter.Emit(event)
}

func (o *Orchestrator) dropped() int64 {
	if dc, ok := o.emitter.(DropCounter); ok {
		return dc.Dropped()
	}
	return 0
}

func (o *Orchestrator) setIndex(i int) {
	o.mu.Lock()
	o.index = i
	o.mu.Unlock()
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// pipelineSummary condenses the run for the pipeline_completed event.
func pipelineSummary(rc *RunContext, result *Result) Summary {
	stageSummaries := make(map[string]any, rc.Len())
	view := rc.View()
	for i, name := range view.Stages {
		stageSummaries[string(name)] = view.Fragments[i].Summary()
	}

	degraded := make([]string, len(result.Degraded))
	for i, s := range result.Degraded {
		degraded[i] = string(s)
	}

	return Summary{
		"total_stages":          len(AllStages()),
		"stages_completed":      rc.Len(),
		"total_rules_generated": len(result.Rules),
		"degraded_stages":       degraded,
		"fallback":              result.Fallback,
		"stages":                stageSummaries,
	}
}
