package orchestrator

import (
	"fmt"
)

// entry is one recorded stage fragment.
type entry struct {
	stage    StageName
	fragment Fragment
}

// RunContext is the append-only record of a run: the original document plus every
// completed stage's fragment, in execution order.
//
// Append never modifies the receiver; it returns a new RunContext sharing no mutable
// state with the old one, so a stage holding an older view can never observe later writes.
type RunContext struct {
	doc     Document
	entries []entry
}

// NewRunContext creates an empty context for doc.
func NewRunContext(doc Document) *RunContext {
	return &RunContext{doc: doc}
}

// Append records fragment under stage and returns the extended context.
// Stages must be appended in pipeline order, exactly once each.
func (c *RunContext) Append(stage StageName, fragment Fragment) (*RunContext, error) {
	if fragment == nil {
		return nil, fmt.Errorf("append %s: nil fragment", stage)
	}
	stages := AllStages()
	if len(c.entries) >= len(stages) {
		return nil, fmt.Errorf("append %s: context already complete", stage)
	}
	if want := stages[len(c.entries)]; stage != want {
		return nil, fmt.Errorf("append %s: expected fragment for %s", stage, want)
	}

	entries := make([]entry, len(c.entries), len(c.entries)+1)
	copy(entries, c.entries)
	entries = append(entries, entry{stage: stage, fragment: fragment})

	return &RunContext{doc: c.doc, entries: entries}, nil
}

// Document returns the run's input document.
func (c *RunContext) Document() Document {
	return c.doc
}

// Len returns the number of recorded fragments.
func (c *RunContext) Len() int {
	return len(c.entries)
}

// Get returns the fragment recorded for stage.
func (c *RunContext) Get(stage StageName) (Fragment, bool) {
	for _, e := range c.entries {
		if e.stage == stage {
			return e.fragment, true
		}
	}
	return nil, false
}

// Stages returns the recorded stage names in order.
func (c *RunContext) Stages() []StageName {
	names := make([]StageName, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.stage
	}
	return names
}

// View is a read-only snapshot of a RunContext.
type View struct {
	Document  Document
	Stages    []StageName
	Fragments []Fragment
}

// View returns the document plus the ordered fragments.
func (c *RunContext) View() View {
	v := View{
		Document:  c.doc,
		Stages:    make([]StageName, len(c.entries)),
		Fragments: make([]Fragment, len(c.entries)),
	}
	for i, e := range c.entries {
		v.Stages[i] = e.stage
		v.Fragments[i] = e.fragment
	}
	return v
}

// FragmentAs returns the fragment for stage asserted to T.
// The boolean is false when the stage has not run or its fragment has another type.
func FragmentAs[T Fragment](c *RunContext, stage StageName) (T, bool) {
	var zero T
	if c == nil {
		return zero, false
	}
	f, ok := c.Get(stage)
	if !ok {
		return zero, false
	}
	typed, ok := f.(T)
	return typed, ok
}
