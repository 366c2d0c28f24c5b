// Package orchestrator drives a regulatory document through the five
// rule-generation stages and reports progress as an ordered event stream.
//
// # Overview
//
// A run moves through a fixed state machine:
//
//	Idle → Running(analyze) → … → Running(synthesize) → Completed | Aborted
//
// Stages execute strictly in order. Each stage reads the RunContext built so far
// and contributes exactly one Fragment; the context is append-only and a stage
// never sees fragments of later stages.
//
// # Key Components
//
// ## Runner
//
// The Runner invokes one stage with a per-attempt timeout and a bounded number
// of retries. A shared Limiter (typically *semaphore.Weighted) caps in-flight
// invocations across all runs. The Runner holds no per-run state.
//
// ## Policy
//
// When retries are exhausted the Policy decides the outcome:
//   - analyze, extract, classify and validate degrade to the stage's substitute
//     fragment and the run continues
//   - synthesize escalates to a single-shot generation over the original
//     document, attempted exactly once
//   - an unavailable inference service or a cancelled run aborts immediately
//
// ## Emitter
//
// Every run emits pipeline_started, stage_started and stage_completed for each
// stage, and then either pipeline_completed or a single error event. Emit is
// bounded: a ChannelEmitter waits at most its grace period for a slow consumer
// and then drops and counts the event.
//
// # Usage Example
//
//	runner := orchestrator.NewRunner(orchestrator.DefaultRunnerConfig(),
//	    orchestrator.WithLimiter(semaphore.NewWeighted(8)))
//	o, err := orchestrator.New(doc, stages.All(deps), runner,
//	    orchestrator.WithSingleShot(stages.NewSingleShot(deps)),
//	    orchestrator.WithEmitter(emitter))
//	if err != nil {
//	    return err
//	}
//	result, err := o.Run(ctx)
//
// # Cancellation
//
// Cancelling the run context is observed between stages only. An invocation that
// has started runs to completion, timeout or error, and its result is discarded.
package orchestrator
