package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/rulesmith/internal/orchestrator"
)

// Lipgloss styles for run progress
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	stageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45")).
			Width(11)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
)

// renderEvent formats one event as a single progress line. Started events for
// stages render as nothing; their completion line carries the outcome.
func renderEvent(e orchestrator.Event) string {
	switch e.Type {
	case orchestrator.EventPipelineStarted:
		return headerStyle.Render("rulesmith") + " " +
			dimStyle.Render(fmt.Sprintf("run %s, %d stages", e.RunID, e.TotalStages))
	case orchestrator.EventStageCompleted:
		status := healthyStyle.Render("[✓]")
		note := ""
		if e.Degraded {
			status = warningStyle.Render("[⚠]")
			note = " " + warningStyle.Render("degraded")
		}
		return fmt.Sprintf("%s %s%s%s", status, stageStyle.Render(string(e.Stage)), note, summaryText(e.Summary))
	case orchestrator.EventPipelineCompleted:
		line := healthyStyle.Render(fmt.Sprintf("✓ %d rule(s) generated", len(e.Rules)))
		if len(e.DegradedStages) > 0 {
			names := make([]string, len(e.DegradedStages))
			for i, s := range e.DegradedStages {
				names[i] = string(s)
			}
			line += " " + warningStyle.Render("degraded: "+strings.Join(names, ", "))
		}
		if e.Fallback {
			line += " " + dimStyle.Render("(single-shot fallback)")
		}
		return line
	case orchestrator.EventError:
		return errorStyle.Render(fmt.Sprintf("✗ aborted at %s", e.Stage)) + " " + e.Message
	default:
		return ""
	}
}

// summaryText renders scalar summary values as sorted key=value pairs.
func summaryText(s orchestrator.Summary) string {
	if len(s) == 0 {
		return ""
	}
	keys := make([]string, 0, len(s))
	for k, v := range s {
		switch v.(type) {
		case int, int64, float64, string, bool:
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	slices.Sort(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, s[k])
	}
	return " " + dimStyle.Render(strings.Join(parts, " "))
}
