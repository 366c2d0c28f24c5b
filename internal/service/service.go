package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/fyrsmithlabs/rulesmith/internal/config"
	"github.com/fyrsmithlabs/rulesmith/internal/inference"
	"github.com/fyrsmithlabs/rulesmith/internal/logging"
	"github.com/fyrsmithlabs/rulesmith/internal/orchestrator"
	"github.com/fyrsmithlabs/rulesmith/internal/secrets"
	"github.com/fyrsmithlabs/rulesmith/internal/stages"
)

// ErrEmptyDocument is returned when a run is requested for blank text.
var ErrEmptyDocument = errors.New("document text is empty")

const (
	defaultMaxInFlight = 8
	defaultEventBuffer = 64
)

// Config holds the pipeline settings shared by all runs.
type Config struct {
	Runner orchestrator.RunnerConfig

	// MaxInFlight bounds stage invocations across all concurrent runs.
	MaxInFlight int64

	// EventBuffer and EventGrace size the per-run event channel used by Start.
	EventBuffer int
	EventGrace  time.Duration

	// Parallelism bounds concurrent inference calls inside one stage.
	Parallelism int
}

// ConfigFromSettings maps the pipeline section of the application config.
func ConfigFromSettings(p config.PipelineConfig) Config {
	return Config{
		Runner: orchestrator.RunnerConfig{
			Timeout:    p.StageTimeout.Duration(),
			MaxRetries: p.MaxRetries,
			Backoff:    p.RetryBackoff.Duration(),
		},
		MaxInFlight: int64(p.MaxInFlight),
		EventBuffer: p.EventBuffer,
		EventGrace:  p.EventGrace.Duration(),
		Parallelism: p.Parallelism,
	}
}

// Options supplies the collaborators of a Service.
type Options struct {
	// Client is the inference capability. Required.
	Client inference.Client

	// Scrubber redacts secrets before any text reaches the client. Optional.
	Scrubber *secrets.Scrubber

	// Publisher receives every event of every run in addition to the caller's
	// emitter, e.g. an *events.Publisher. Optional.
	Publisher orchestrator.Emitter

	Metrics *orchestrator.Metrics
	Tracer  trace.Tracer
	Logger  *zap.Logger
}

// Service runs documents through the pipeline. It is safe for concurrent use.
type Service struct {
	config    Config
	stages    []orchestrator.Stage
	single    orchestrator.SingleShot
	runner    *orchestrator.Runner
	scrubber  *secrets.Scrubber
	publisher orchestrator.Emitter
	metrics   *orchestrator.Metrics
	logger    *zap.Logger
}

// New composes a Service.
func New(cfg Config, opts Options) (*Service, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("inference client is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = defaultMaxInFlight
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if cfg.EventGrace <= 0 {
		cfg.EventGrace = orchestrator.DefaultEventGrace
	}

	runnerOpts := []orchestrator.RunnerOption{
		orchestrator.WithLimiter(semaphore.NewWeighted(cfg.MaxInFlight)),
		orchestrator.WithRunnerMetrics(opts.Metrics),
		orchestrator.WithRunnerLogger(opts.Logger.Named("runner")),
	}
	if opts.Tracer != nil {
		runnerOpts = append(runnerOpts, orchestrator.WithTracer(opts.Tracer))
	}
	runner := orchestrator.NewRunner(cfg.Runner, runnerOpts...)
	cfg.Runner = runner.Config()

	deps := stages.Deps{
		Client:      opts.Client,
		Logger:      opts.Logger.Named("stages"),
		Parallelism: cfg.Parallelism,
	}

	return &Service{
		config:    cfg,
		stages:    stages.All(deps),
		single:    stages.NewSingleShot(deps),
		runner:    runner,
		scrubber:  opts.Scrubber,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}, nil
}

// Config returns the effective settings.
func (s *Service) Config() Config {
	return s.config
}

// Generate runs doc to completion, delivering events to emitter (which may be nil).
// The result is non-nil whenever the run started; the error is an
// *orchestrator.AbortError when the run aborted.
func (s *Service) Generate(ctx context.Context, doc orchestrator.Document, emitter orchestrator.Emitter) (*orchestrator.Result, error) {
	o, ctx, err := s.prepare(ctx, doc, emitter, "")
	if err != nil {
		return nil, err
	}
	return o.Run(ctx)
}

// Run is a pipeline execution started by Start.
type Run struct {
	id      string
	emitter *orchestrator.ChannelEmitter
	done    chan struct{}
	result  *orchestrator.Result
	err     error
}

// ID returns the run identifier carried by every event.
func (r *Run) ID() string {
	return r.id
}

// Events returns the live event stream. It is closed after the terminal event.
// A consumer that falls behind by more than the grace period loses events.
func (r *Run) Events() <-chan orchestrator.Event {
	return r.emitter.Events()
}

// Dropped returns the number of events the consumer missed.
func (r *Run) Dropped() int64 {
	return r.emitter.Dropped()
}

// Done is closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run finishes and returns its outcome.
func (r *Run) Wait() (*orchestrator.Result, error) {
	<-r.done
	return r.result, r.err
}

// Start begins a run in the background. runID may be empty to generate one.
// Cancelling ctx stops the run at the next stage boundary.
func (s *Service) Start(ctx context.Context, doc orchestrator.Document, runID string) (*Run, error) {
	ch := orchestrator.NewChannelEmitter(s.config.EventBuffer, s.config.EventGrace,
		orchestrator.WithDropHook(func(e orchestrator.Event) {
			s.metrics.RecordDrop()
			s.logger.Debug("event dropped",
				zap.String("run.id", e.RunID),
				zap.String("event", string(e.Type)),
				zap.Int("seq", e.Seq),
			)
		}),
	)

	o, ctx, err := s.prepare(ctx, doc, ch, runID)
	if err != nil {
		ch.Close()
		return nil, err
	}

	run := &Run{id: o.RunID(), emitter: ch, done: make(chan struct{})}
	go func() {
		defer close(run.done)
		defer ch.Close()
		run.result, run.err = o.Run(ctx)
	}()
	return run, nil
}

// prepare scrubs the document and builds a one-shot orchestrator for it.
func (s *Service) prepare(ctx context.Context, doc orchestrator.Document, emitter orchestrator.Emitter, runID string) (*orchestrator.Orchestrator, context.Context, error) {
	if strings.TrimSpace(doc.Text) == "" {
		return nil, ctx, ErrEmptyDocument
	}
	if doc.ID == "" {
		doc = orchestrator.NewDocument("", doc.Title, doc.Text)
	}

	if s.scrubber != nil && s.scrubber.Enabled() {
		result := s.scrubber.Scrub(doc.Text)
		if result.HasFindings() {
			s.logger.Warn("redacted secrets from document",
				zap.String("document.id", doc.ID),
				zap.Int("findings", len(result.Findings)),
				zap.Any("by_rule", result.ByRule),
			)
			doc.Text = result.Scrubbed
		}
	}

	sink := emitter
	if s.publisher != nil {
		if sink == nil {
			sink = s.publisher
		} else {
			sink = orchestrator.MultiEmitter{emitter, s.publisher}
		}
	}

	o, err := orchestrator.New(doc, s.stages, s.runner,
		orchestrator.WithRunID(runID),
		orchestrator.WithEmitter(sink),
		orchestrator.WithSingleShot(s.single),
		orchestrator.WithMetrics(s.metrics),
		orchestrator.WithLogger(s.logger.Named("orchestrator")),
	)
	if err != nil {
		return nil, ctx, fmt.Errorf("creating orchestrator: %w", err)
	}

	ctx = logging.WithRunID(ctx, o.RunID())
	ctx = logging.WithDocumentID(ctx, doc.ID)
	return o, ctx, nil
}
