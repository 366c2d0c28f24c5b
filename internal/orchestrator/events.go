package orchestrator

import (
	"encoding/json"
	"time"

	"github.com/fyrsmithlabs/rulesmith/internal/rules"
)

// EventType identifies a lifecycle event.
type EventType string

const (
	EventPipelineStarted   EventType = "pipeline_started"
	EventStageStarted      EventType = "stage_started"
	EventStageCompleted    EventType = "stage_completed"
	EventPipelineCompleted EventType = "pipeline_completed"
	EventError             EventType = "error"
)

// Terminal reports whether the event ends a run's stream.
func (t EventType) Terminal() bool {
	return t == EventPipelineCompleted || t == EventError
}

// Event is an immutable progress notification. Events of a run are emitted exactly once
// each, in execution order; Seq is the 1-based emission index.
type Event struct {
	Type  EventType `json:"type"`
	RunID string    `json:"run_id"`
	Seq   int       `json:"seq"`
	Time  time.Time `json:"timestamp"`
	Stage StageName `json:"stage_name,omitempty"`

	// stage_completed
	Summary  Summary `json:"summary,omitempty"`
	Degraded bool    `json:"degraded"`

	// pipeline_started
	TotalStages int `json:"total_stages,omitempty"`

	// pipeline_completed
	Rules          []rules.Rule `json:"rules"`
	Fallback       bool         `json:"fallback"`
	DegradedStages []StageName  `json:"degraded_stages"`

	// error
	Message string `json:"message,omitempty"`
}

// MarshalJSON writes only the fields that belong to the event type, so a consumer sees
// `degraded` on every stage_completed and `rules` on every pipeline_completed.
func (e Event) MarshalJSON() ([]byte, error) {
	type wire struct {
		Type           EventType     `json:"type"`
		RunID          string        `json:"run_id"`
		Seq            int           `json:"seq"`
		Time           time.Time     `json:"timestamp"`
		Stage          StageName     `json:"stage_name,omitempty"`
		TotalStages    int           `json:"total_stages,omitempty"`
		Summary        Summary       `json:"summary,omitempty"`
		Degraded       *bool         `json:"degraded,omitempty"`
		Rules          *[]rules.Rule `json:"rules,omitempty"`
		Fallback       *bool         `json:"fallback,omitempty"`
		DegradedStages *[]StageName  `json:"degraded_stages,omitempty"`
		Message        string        `json:"message,omitempty"`
	}

	w := wire{
		Type:    e.Type,
		RunID:   e.RunID,
		Seq:     e.Seq,
		Time:    e.Time,
		Stage:   e.Stage,
		Message: e.Message,
	}
	switch e.Type {
	case EventPipelineStarted:
		w.TotalStages = e.TotalStages
	case EventStageCompleted:
		w.Summary = e.Summary
		w.Degraded = &e.Degraded
	case EventPipelineCompleted:
		rs := e.Rules
		if rs == nil {
			rs = []rules.Rule{}
		}
		ds := e.DegradedStages
		if ds == nil {
			ds = []StageName{}
		}
		w.Rules = &rs
		w.Fallback = &e.Fallback
		w.DegradedStages = &ds
		w.Summary = e.Summary
	}
	return json.Marshal(w)
}
