package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
)

func TestNewRunner_Defaults(t *testing.T) {
	r := NewRunner(RunnerConfig{MaxRetries: -1, Backoff: -time.Second})
	cfg := r.Config()

	assert.Equal(t, defaultStageTimeout, cfg.Timeout)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, time.Duration(0), cfg.Backoff)

	assert.Equal(t, RunnerConfig{Timeout: 60 * time.Second, MaxRetries: 2, Backoff: 500 * time.Millisecond}, DefaultRunnerConfig())
}

func TestRunner_Run(t *testing.T) {
	rc := NewRunContext(testDocument())

	tests := []struct {
		name         string
		stage        StageName
		failures     int
		err          error
		wantOutcome  Outcome
		wantAction   Action
		wantAttempts int
	}{
		{name: "success", stage: StageAnalyze, wantOutcome: OutcomeSuccess, wantAttempts: 1},
		{name: "recovers on retry", stage: StageExtract, failures: 2, err: ErrInvalidOutput, wantOutcome: OutcomeSuccess, wantAttempts: 3},
		{name: "degrades after retries", stage: StageValidate, failures: 10, err: ErrInvalidOutput, wantOutcome: OutcomeDegraded, wantAction: ActionSubstitute, wantAttempts: 3},
		{name: "synthesize requests single-shot", stage: StageSynthesize, failures: 10, err: ErrInvalidOutput, wantOutcome: OutcomeFatal, wantAction: ActionSingleShot, wantAttempts: 3},
		{name: "unavailable aborts at once", stage: StageClassify, failures: 10, err: ErrUnavailable, wantOutcome: OutcomeFatal, wantAction: ActionAbort, wantAttempts: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n atomic.Int32
			stage := &fakeStage{name: tt.stage}
			stage.run = func(context.Context, *RunContext) (Fragment, error) {
				if int(n.Add(1)) <= tt.failures {
					return nil, fmt.Errorf("attempt %d: %w", n.Load(), tt.err)
				}
				return testFragment{stage: tt.stage}, nil
			}

			res := fastRunner().Run(context.Background(), stage, rc)

			assert.Equal(t, tt.stage, res.Stage)
			assert.Equal(t, tt.wantOutcome, res.Outcome)
			assert.Equal(t, tt.wantAction, res.Action)
			assert.Equal(t, tt.wantAttempts, res.Attempts)
			assert.Equal(t, int32(tt.wantAttempts), stage.calls.Load())

			switch tt.wantOutcome {
			case OutcomeSuccess:
				assert.NoError(t, res.Err)
				assert.NotNil(t, res.Fragment)
			case OutcomeDegraded:
				require.Error(t, res.Err)
				assert.True(t, res.Fragment.(testFragment).substitute)
				assert.NotEmpty(t, res.Reason)
			case OutcomeFatal:
				assert.Nil(t, res.Fragment)
				var stageErr *StageError
				require.ErrorAs(t, res.Err, &stageErr)
				assert.Equal(t, tt.wantAttempts, stageErr.Attempts)
			}
		})
	}
}

func TestRunner_RetriesSeeIdenticalInput(t *testing.T) {
	rc, err := NewRunContext(testDocument()).Append(StageAnalyze, testFragment{stage: StageAnalyze})
	require.NoError(t, err)

	var seen []*RunContext
	stage := &fakeStage{name: StageExtract}
	stage.run = func(_ context.Context, got *RunContext) (Fragment, error) {
		seen = append(seen, got)
		return nil, ErrInvalidOutput
	}

	fastRunner().Run(context.Background(), stage, rc)

	require.Len(t, seen, 3)
	for _, got := range seen {
		assert.Same(t, rc, got)
	}
}

func TestRunner_NilFragmentIsInvalid(t *testing.T) {
	stage := &fakeStage{name: StageAnalyze}
	stage.run = func(context.Context, *RunContext) (Fragment, error) {
		return nil, nil
	}

	res := fastRunner().Run(context.Background(), stage, NewRunContext(testDocument()))

	assert.Equal(t, OutcomeDegraded, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrInvalidOutput)
}

func TestRunner_TimeoutIsTransient(t *testing.T) {
	stage := &fakeStage{name: StageValidate}
	stage.run = func(ctx context.Context, _ *RunContext) (Fragment, error) {
		select {
		case <-ctx.Done():
			return nil, errors.New("request aborted")
		case <-time.After(time.Second):
			return testFragment{stage: StageValidate}, nil
		}
	}

	r := NewRunner(RunnerConfig{Timeout: 10 * time.Millisecond, MaxRetries: 1})
	res := r.Run(context.Background(), stage, NewRunContext(testDocument()))

	assert.Equal(t, OutcomeDegraded, res.Outcome)
	assert.Equal(t, 2, res.Attempts)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Contains(t, res.Err.Error(), "timed out")
}

func TestRunner_InFlightInvocationIgnoresCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	stage := &fakeStage{name: StageAnalyze}
	stage.run = func(stageCtx context.Context, _ *RunContext) (Fragment, error) {
		cancel()
		assert.NoError(t, stageCtx.Err())
		return testFragment{stage: StageAnalyze}, nil
	}

	res := fastRunner().Run(ctx, stage, NewRunContext(testDocument()))
	assert.Equal(t, OutcomeSuccess, res.Outcome)
}

func TestRunner_LimiterBoundsConcurrentRuns(t *testing.T) {
	const (
		slots = 2
		runs  = 6
	)

	var inFlight, peak atomic.Int32
	track := func(name StageName) func(context.Context, *RunContext) (Fragment, error) {
		return func(context.Context, *RunContext) (Fragment, error) {
			cur := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			if name == StageSynthesize {
				return testRules{rules: sampleRules("Disclose fees")}, nil
			}
			return testFragment{stage: name}, nil
		}
	}

	runner := fastRunner(WithLimiter(semaphore.NewWeighted(slots)))

	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		p := newPipeline()
		for name, s := range p.stages {
			s.run = track(name)
		}
		o, err := New(testDocument(), p.list(), runner)
		require.NoError(t, err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := o.Run(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, StateCompleted, result.State)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(slots))
	assert.Greater(t, peak.Load(), int32(0))
}

func TestRunner_CancelledWhileWaitingForSlot(t *testing.T) {
	sem := semaphore.NewWeighted(1)
	require.True(t, sem.TryAcquire(1))
	defer sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	stage := &fakeStage{name: StageExtract}
	res := fastRunner(WithLimiter(sem)).Run(ctx, stage, NewRunContext(testDocument()))

	assert.Equal(t, OutcomeFatal, res.Outcome)
	assert.Equal(t, ActionAbort, res.Action)
	assert.ErrorIs(t, res.Err, ErrCancelled)
	assert.Equal(t, int32(0), stage.calls.Load())
}

func TestRunner_RunSingleShot(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		single := &fakeSingleShot{}
		src, err := fastRunner().RunSingleShot(context.Background(), single, testDocument())
		require.NoError(t, err)
		assert.Len(t, src.FinalRules(), 1)
		assert.Equal(t, int32(1), single.calls.Load())
	})

	t.Run("failure is not retried", func(t *testing.T) {
		single := &fakeSingleShot{err: ErrInvalidOutput}
		_, err := fastRunner().RunSingleShot(context.Background(), single, testDocument())
		assert.ErrorIs(t, err, ErrInvalidOutput)
		assert.Equal(t, int32(1), single.calls.Load())
	})

	t.Run("nil source", func(t *testing.T) {
		_, err := fastRunner().RunSingleShot(context.Background(), nilSingleShot{}, testDocument())
		assert.ErrorIs(t, err, ErrInvalidOutput)
	})
}

type nilSingleShot struct{}

func (nilSingleShot) Generate(context.Context, Document) (RuleSource, error) {
	return nil, nil
}

func TestRunner_Metrics(t *testing.T) {
	m := NewMetrics()
	require.Same(t, m, NewMetrics())

	stage := &fakeStage{name: StageClassify}
	stage.run = func(context.Context, *RunContext) (Fragment, error) {
		return nil, ErrInvalidOutput
	}
	res := fastRunner(WithRunnerMetrics(m)).Run(context.Background(), stage, NewRunContext(testDocument()))
	assert.Equal(t, OutcomeDegraded, res.Outcome)

	var nilMetrics *Metrics
	assert.NotPanics(t, func() {
		nilMetrics.RecordStage(res)
		nilMetrics.RunStarted()
		nilMetrics.RecordDrop()
	})
}
