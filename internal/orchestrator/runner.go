package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	defaultStageTimeout = 60 * time.Second
	defaultMaxRetries   = 2
	defaultRetryBackoff = 500 * time.Millisecond

	tracerName = "github.com/fyrsmithlabs/rulesmith/internal/orchestrator"
)

// Limiter bounds in-flight stage invocations across runs.
// *semaphore.Weighted from golang.org/x/sync satisfies it.
type Limiter interface {
	Acquire(ctx context.Context, n int64) error
	Release(n int64)
}

// RunnerConfig holds the retry and timeout policy for stage invocations.
type RunnerConfig struct {
	// Timeout applies to each attempt individually.
	Timeout time.Duration

	// MaxRetries is the number of attempts after the first.
	MaxRetries int

	// Backoff is the base delay between attempts, doubled per retry.
	Backoff time.Duration
}

// DefaultRunnerConfig returns the default stage policy.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Timeout:    defaultStageTimeout,
		MaxRetries: defaultMaxRetries,
		Backoff:    defaultRetryBackoff,
	}
}

// Runner executes single stages with timeout, retry and fallback resolution.
// A Runner holds no per-run state and may be shared by concurrent runs.
type Runner struct {
	config  RunnerConfig
	policy  Policy
	limiter Limiter
	metrics *Metrics
	tracer  trace.Tracer
	logger  *zap.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLimiter sets the cross-run concurrency limiter.
func WithLimiter(l Limiter) RunnerOption {
	return func(r *Runner) {
		r.limiter = l
	}
}

// WithRunnerMetrics sets Prometheus metrics.
func WithRunnerMetrics(m *Metrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithTracer sets the tracer used for stage spans.
func WithTracer(t trace.Tracer) RunnerOption {
	return func(r *Runner) {
		r.tracer = t
	}
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(l *zap.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = l
	}
}

// NewRunner creates a runner. Zero config values fall back to defaults.
func NewRunner(cfg RunnerConfig, opts ...RunnerOption) *Runner {
	def := DefaultRunnerConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	}

	r := &Runner{
		config: cfg,
		tracer: otel.Tracer(tracerName),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the runner policy.
func (r *Runner) Config() RunnerConfig {
	return r.config
}

// Run executes stage against rc and classifies the outcome.
//
// Transient failures are retried up to MaxRetries times with identical input. Once
// retries are exhausted the fallback policy decides between a degraded substitute and a
// fatal result. Run cancellation is only observed while waiting for the first slot; an
// invocation that has started runs to completion, timeout or error.
func (r *Runner) Run(ctx context.Context, stage Stage, rc *RunContext) StageResult {
	name := stage.Name()
	start := time.Now()

	ctx, span := r.tracer.Start(ctx, "stage."+string(name), trace.WithAttributes(
		attribute.String("stage.name", string(name)),
		attribute.Int("context.fragments", rc.Len()),
	))
	defer span.End()

	var (
		lastErr  error
		kind     FailureKind
		attempts int
	)

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 && r.config.Backoff > 0 {
			time.Sleep(r.config.Backoff * time.Duration(1<<(attempt-1)))
		}

		attempts++
		fragment, err := r.attempt(ctx, stage, rc, attempt)
		if err == nil {
			r.metrics.RecordAttempt(name, "ok")
			res := Success(name, fragment)
			res.Attempts = attempts
			res.Duration = time.Since(start)
			r.finish(span, res)
			return res
		}

		lastErr = err
		kind = ClassifyError(err)
		r.metrics.RecordAttempt(name, string(kind))
		r.logger.Warn("stage attempt failed",
			zap.String("stage", string(name)),
			zap.Int("attempt", attempts),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)

		if !kind.Retryable() {
			break
		}
	}

	stageErr := &StageError{Stage: name, Kind: kind, Attempts: attempts, Err: lastErr}

	var res StageResult
	switch action := r.policy.Resolve(name, kind); action {
	case ActionSubstitute:
		if f := stage.Default(rc); f != nil {
			res = Degraded(name, f, stageErr.Error())
			res.Err = stageErr
		} else {
			res = Fatal(name, ActionAbort, stageErr)
		}
	default:
		res = Fatal(name, action, stageErr)
	}
	res.Attempts = attempts
	res.Duration = time.Since(start)
	r.finish(span, res)
	return res
}

// attempt performs one bounded invocation of stage.
func (r *Runner) attempt(ctx context.Context, stage Stage, rc *RunContext, n int) (Fragment, error) {
	name := stage.Name()

	if r.limiter != nil {
		acquireCtx := ctx
		if n > 0 {
			// Retries belong to an invocation that is already in flight.
			acquireCtx = context.WithoutCancel(ctx)
		}
		if err := r.limiter.Acquire(acquireCtx, 1); err != nil {
			return nil, fmt.Errorf("%w: waiting for inference slot: %v", ErrCancelled, err)
		}
		defer r.limiter.Release(1)
	}

	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.Timeout)
	defer cancel()

	var (
		fragment Fragment
		err      error
	)
	r.metrics.observeSlot(func() {
		fragment, err = stage.Run(attemptCtx, rc)
	})

	if err == nil && fragment == nil {
		err = fmt.Errorf("%w: %s returned no fragment", ErrInvalidOutput, name)
	}
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		r.metrics.RecordTimeout(name)
		if !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		err = fmt.Errorf("%s timed out after %s: %w", name, r.config.Timeout, err)
	}
	return fragment, err
}

// RunSingleShot performs the single-shot fallback exactly once: one slot, one timeout,
// no retries.
func (r *Runner) RunSingleShot(ctx context.Context, ss SingleShot, doc Document) (RuleSource, error) {
	ctx, span := r.tracer.Start(ctx, "single_shot", trace.WithAttributes(
		attribute.String("document.id", doc.ID),
	))
	defer span.End()

	if r.limiter != nil {
		if err := r.limiter.Acquire(context.WithoutCancel(ctx), 1); err != nil {
			return nil, fmt.Errorf("waiting for inference slot: %w", err)
		}
		defer r.limiter.Release(1)
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.Timeout)
	defer cancel()

	src, err := ss.Generate(callCtx, doc)
	if err == nil && src == nil {
		err = fmt.Errorf("%w: single-shot returned no rules", ErrInvalidOutput)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.RecordSingleShot("failed")
		return nil, err
	}
	r.metrics.RecordSingleShot("ok")
	return src, nil
}

func (r *Runner) finish(span trace.Span, res StageResult) {
	span.SetAttributes(
		attribute.String("stage.outcome", string(res.Outcome)),
		attribute.Int("stage.attempts", res.Attempts),
	)
	if res.Err != nil {
		span.RecordError(res.Err)
	}
	if res.Outcome == OutcomeFatal {
		span.SetStatus(codes.Error, res.Reason)
	}
	r.metrics.RecordStage(res)
}
