package orchestrator

import (
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelEmitter_Delivers(t *testing.T) {
	e := NewChannelEmitter(4, time.Second)
	e.Emit(Event{Type: EventPipelineStarted, Seq: 1})
	e.Emit(Event{Type: EventStageStarted, Seq: 2, Stage: StageAnalyze})
	e.Close()

	var got []Event
	for ev := range e.Events() {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Seq)
	assert.Equal(t, 2, got[1].Seq)
	assert.Equal(t, int64(0), e.Dropped())
}

func TestChannelEmitter_DropsAfterGrace(t *testing.T) {
	var hooked atomic.Int32
	e := NewChannelEmitter(1, 10*time.Millisecond, WithDropHook(func(Event) { hooked.Add(1) }))
	defer e.Close()

	e.Emit(Event{Seq: 1})

	start := time.Now()
	e.Emit(Event{Seq: 2})
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond, "sender waits the grace period")

	assert.Equal(t, int64(1), e.Dropped())
	assert.Equal(t, int32(1), hooked.Load())

	ev := <-e.Events()
	assert.Equal(t, 1, ev.Seq, "the buffered event is kept, the late one is not retried")
}

func TestChannelEmitter_StalledConsumerWaitsOnce(t *testing.T) {
	e := NewChannelEmitter(0, 50*time.Millisecond)
	defer e.Close()

	start := time.Now()
	for i := 1; i <= 10; i++ {
		e.Emit(Event{Seq: i})
	}
	elapsed := time.Since(start)

	assert.Equal(t, int64(10), e.Dropped())
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 250*time.Millisecond, "only the first drop waits the grace period")
}

func TestChannelEmitter_RecoversAfterStall(t *testing.T) {
	e := NewChannelEmitter(1, 200*time.Millisecond)
	defer e.Close()

	e.Emit(Event{Seq: 1})
	e.Emit(Event{Seq: 2}) // grace expires, consumer marked stalled
	require.Equal(t, int64(1), e.Dropped())

	assert.Equal(t, 1, (<-e.Events()).Seq)

	e.Emit(Event{Seq: 3})
	assert.Equal(t, 3, (<-e.Events()).Seq)

	// the successful send cleared the stall, so a full buffer waits again
	received := make(chan int, 1)
	e.Emit(Event{Seq: 4})
	go func() {
		time.Sleep(10 * time.Millisecond)
		received <- (<-e.Events()).Seq
	}()
	e.Emit(Event{Seq: 5})
	assert.Equal(t, 4, <-received)
	assert.Equal(t, 5, (<-e.Events()).Seq)
	assert.Equal(t, int64(1), e.Dropped())
}

func TestChannelEmitter_SlowConsumerWithinGrace(t *testing.T) {
	e := NewChannelEmitter(0, time.Second)

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(20 * time.Millisecond)
		<-e.Events()
	}()

	e.Emit(Event{Seq: 1})
	<-done
	assert.Equal(t, int64(0), e.Dropped())
	e.Close()
}

func TestChannelEmitter_EmitAfterClose(t *testing.T) {
	e := NewChannelEmitter(1, time.Millisecond)
	e.Close()
	e.Close()

	assert.NotPanics(t, func() { e.Emit(Event{Seq: 1}) })
	assert.Equal(t, int64(1), e.Dropped())
}

func TestNewChannelEmitter_DefaultGrace(t *testing.T) {
	e := NewChannelEmitter(-1, 0)
	assert.Equal(t, DefaultEventGrace, e.grace)
	assert.Equal(t, 0, cap(e.ch))
}

func TestMultiEmitter(t *testing.T) {
	a, b := &Collector{}, &Collector{}
	ch := NewChannelEmitter(0, time.Millisecond)
	defer ch.Close()

	var fn int
	m := MultiEmitter{a, nil, b, ch, EmitterFunc(func(Event) { fn++ })}
	m.Emit(Event{Type: EventPipelineStarted})

	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
	assert.Equal(t, 1, fn)
	assert.Equal(t, int64(1), m.Dropped())
}

func TestEventType_Terminal(t *testing.T) {
	assert.True(t, EventPipelineCompleted.Terminal())
	assert.True(t, EventError.Terminal())
	assert.False(t, EventPipelineStarted.Terminal())
	assert.False(t, EventStageStarted.Terminal())
	assert.False(t, EventStageCompleted.Terminal())
}

func TestEvent_MarshalJSON(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name    string
		event   Event
		present []string
		absent  []string
		check   func(t *testing.T, m map[string]any)
	}{
		{
			name:    "pipeline started",
			event:   Event{Type: EventPipelineStarted, TotalStages: 5},
			present: []string{"type", "run_id", "seq", "timestamp", "total_stages"},
			absent:  []string{"degraded", "rules", "stage_name"},
		},
		{
			name:    "stage completed not degraded",
			event:   Event{Type: EventStageCompleted, Stage: StageExtract, Summary: Summary{"total_rules": 3}},
			present: []string{"stage_name", "summary", "degraded"},
			absent:  []string{"rules", "fallback"},
			check: func(t *testing.T, m map[string]any) {
				assert.Equal(t, false, m["degraded"])
				assert.Equal(t, "extract", m["stage_name"])
			},
		},
		{
			name:    "pipeline completed with no rules",
			event:   Event{Type: EventPipelineCompleted},
			present: []string{"rules", "fallback", "degraded_stages"},
			absent:  []string{"degraded", "message"},
			check: func(t *testing.T, m map[string]any) {
				assert.Equal(t, []any{}, m["rules"])
				assert.Equal(t, []any{}, m["degraded_stages"])
			},
		},
		{
			name:    "error",
			event:   Event{Type: EventError, Stage: StageSynthesize, Message: "boom"},
			present: []string{"stage_name", "message"},
			absent:  []string{"rules", "degraded", "summary"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.event.RunID = "run-1"
			tt.event.Seq = 1
			tt.event.Time = ts

			data, err := json.Marshal(tt.event)
			require.NoError(t, err)

			var m map[string]any
			require.NoError(t, json.Unmarshal(data, &m))
			assert.Equal(t, string(tt.event.Type), m["type"])
			for _, key := range tt.present {
				assert.Contains(t, m, key)
			}
			for _, key := range tt.absent {
				assert.NotContains(t, m, key)
			}
			if tt.check != nil {
				tt.check(t, m)
			}
		})
	}
}
