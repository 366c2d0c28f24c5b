package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/rulesmith/internal/rules"
)

// StageName identifies one ordered step of the pipeline.
type StageName string

const (
	// StageAnalyze derives document structure and compliance themes.
	StageAnalyze StageName = "analyze"

	// StageExtract pulls candidate requirements out of the document.
	StageExtract StageName = "extract"

	// StageClassify assigns risk, urgency and priority to each requirement.
	StageClassify StageName = "classify"

	// StageValidate checks requirements for completeness and consistency.
	StageValidate StageName = "validate"

	// StageSynthesize produces the final rule set.
	StageSynthesize StageName = "synthesize"
)

// AllStages returns all stages in execution order.
func AllStages() []StageName {
	return []StageName{StageAnalyze, StageExtract, StageClassify, StageValidate, StageSynthesize}
}

// Index returns the zero-based position of the stage, or -1 if unknown.
func (s StageName) Index() int {
	for i, name := range AllStages() {
		if name == s {
			return i
		}
	}
	return -1
}

// Required reports whether no substitute output is acceptable for the stage.
func (s StageName) Required() bool {
	return s == StageSynthesize
}

// Valid reports whether s is one of the pipeline stages.
func (s StageName) Valid() bool {
	return s.Index() >= 0
}

// Document is the raw regulatory text for one run. It is never modified once a run starts.
type Document struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text"`
}

// NewDocument creates a document, assigning a random ID when id is empty.
func NewDocument(id, title, text string) Document {
	if id == "" {
		id = uuid.NewString()
	}
	return Document{ID: id, Title: title, Text: text}
}

// Summary is the compact, JSON-friendly digest of a fragment carried by stage_completed events.
type Summary map[string]any

// Fragment is a stage's structured contribution to the run context.
type Fragment interface {
	Summary() Summary
}

// RuleSource is implemented by fragments that carry final rules.
type RuleSource interface {
	Fragment
	FinalRules() []rules.Rule
}

// Stage is one inference-backed transformation.
type Stage interface {
	// Name returns the stage this implementation handles.
	Name() StageName

	// Run produces the stage fragment from the accumulated context.
	// Returned errors are classified by the runner, see FailureKind.
	Run(ctx context.Context, rc *RunContext) (Fragment, error)

	// Default returns the substitute fragment used when the stage degrades.
	// Stages with no acceptable substitute return nil.
	Default(rc *RunContext) Fragment
}

// SingleShot generates rules in one direct call over the original document.
type SingleShot interface {
	Generate(ctx context.Context, doc Document) (RuleSource, error)
}

// Outcome tags a StageResult.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeDegraded Outcome = "degraded"
	OutcomeFatal    Outcome = "fatal"
)

// StageResult is the closed outcome of one stage invocation, produced by the Runner.
type StageResult struct {
	Stage    StageName     `json:"stage"`
	Outcome  Outcome       `json:"outcome"`
	Fragment Fragment      `json:"-"`
	Reason   string        `json:"reason,omitempty"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`

	// Action is the fallback decision taken for a failed stage.
	Action Action `json:"action,omitempty"`

	// Err is the final failure for degraded and fatal outcomes.
	Err error `json:"-"`
}

// Success builds a successful result.
func Success(stage StageName, f Fragment) StageResult {
	return StageResult{Stage: stage, Outcome: OutcomeSuccess, Fragment: f}
}

// Degraded builds a degraded result carrying a substitute fragment.
func Degraded(stage StageName, f Fragment, reason string) StageResult {
	return StageResult{Stage: stage, Outcome: OutcomeDegraded, Fragment: f, Reason: reason, Action: ActionSubstitute}
}

// Fatal builds a fatal result.
func Fatal(stage StageName, action Action, err error) StageResult {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	return StageResult{Stage: stage, Outcome: OutcomeFatal, Reason: reason, Action: action, Err: err}
}

// State is the orchestrator lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted
}

// Result aggregates the outcome of a run.
type Result struct {
	RunID          string        `json:"run_id"`
	DocumentID     string        `json:"document_id"`
	State          State         `json:"state"`
	Rules          []rules.Rule  `json:"rules"`
	Degraded       []StageName   `json:"degraded_stages"`
	Fallback       bool          `json:"fallback"`
	Stages         []StageResult `json:"stages"`
	Summary        Summary       `json:"summary,omitempty"`
	EventsDropped  int64         `json:"events_dropped"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	Context        *RunContext   `json:"-"`
	FailedStage    StageName     `json:"failed_stage,omitempty"`
	FailureMessage string        `json:"failure_message,omitempty"`
}

// RulesJSON encodes the final rules. Identical runs yield identical bytes.
func (r *Result) RulesJSON() ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("nil result")
	}
	out := r.Rules
	if out == nil {
		out = []rules.Rule{}
	}
	return json.Marshal(out)
}
