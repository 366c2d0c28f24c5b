package orchestrator

// Action is the fallback decision for a stage that exhausted its retries.
type Action string

const (
	// ActionSubstitute continues the run with the stage's default fragment.
	ActionSubstitute Action = "substitute"

	// ActionSingleShot reroutes rule generation through one direct call over the document.
	ActionSingleShot Action = "single_shot"

	// ActionAbort ends the run.
	ActionAbort Action = "abort"
)

// Policy decides how failures are absorbed. Decisions depend only on the stage and the
// failure kind.
type Policy struct{}

// Resolve returns the action for a failed stage.
func (Policy) Resolve(stage StageName, kind FailureKind) Action {
	switch kind {
	case FailureUnavailable, FailureCancelled:
		return ActionAbort
	}
	if !stage.Valid() {
		return ActionAbort
	}
	if stage.Required() {
		return ActionSingleShot
	}
	return ActionSubstitute
}
