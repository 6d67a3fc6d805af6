package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntryKind identifies the variant of a trajectory entry.
type EntryKind string

const (
	// EntryObjective records a new user goal.
	EntryObjective EntryKind = "objective"
	// EntryThought records the model's stated reasoning for a step.
	EntryThought EntryKind = "thought"
	// EntryAction records a capability invocation the model requested.
	EntryAction EntryKind = "action"
	// EntryObservation records the textual result or error of an invocation.
	EntryObservation EntryKind = "observation"
	// EntryFinalAnswer records terminal output for the current objective.
	EntryFinalAnswer EntryKind = "final_answer"
	// EntryErrorNote records a terminal or recoverable failure notice.
	EntryErrorNote EntryKind = "error_note"
)

// TrajectoryEntry is a single turn in a session's conversational history.
// Entries are immutable once appended; insertion order is meaningful because
// the trajectory is replayed verbatim into future prompts.
type TrajectoryEntry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Kind      EntryKind `json:"kind"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Set only for EntryAction.
	ToolName  string         `json:"tool_name,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Render formats the entry with its fixed label for prompt embedding. Each
// kind renders with a distinct prefix so the model can parse its own history.
func (e TrajectoryEntry) Render() string {
	switch e.Kind {
	case EntryObjective:
		return "User's objective: " + e.Text
	case EntryThought:
		return "Thought: " + e.Text
	case EntryAction:
		args, _ := json.Marshal(e.Arguments)
		return fmt.Sprintf("Action: Call tool `%s` with arguments `%s`", e.ToolName, args)
	case EntryObservation:
		return "Observation: " + e.Text
	case EntryFinalAnswer:
		return "Final Answer: " + e.Text
	case EntryErrorNote:
		return "Error: " + e.Text
	default:
		return e.Text
	}
}

// Objective creates an EntryObjective entry.
func Objective(text string) TrajectoryEntry {
	return TrajectoryEntry{Kind: EntryObjective, Text: text}
}

// Thought creates an EntryThought entry.
func Thought(text string) TrajectoryEntry {
	return TrajectoryEntry{Kind: EntryThought, Text: text}
}

// ActionEntry creates an EntryAction entry.
func ActionEntry(toolName string, arguments map[string]any) TrajectoryEntry {
	return TrajectoryEntry{Kind: EntryAction, ToolName: toolName, Arguments: arguments}
}

// Observation creates an EntryObservation entry.
func Observation(text string) TrajectoryEntry {
	return TrajectoryEntry{Kind: EntryObservation, Text: text}
}

// FinalAnswer creates an EntryFinalAnswer entry.
func FinalAnswer(text string) TrajectoryEntry {
	return TrajectoryEntry{Kind: EntryFinalAnswer, Text: text}
}

// ErrorNote creates an EntryErrorNote entry.
func ErrorNote(text string) TrajectoryEntry {
	return TrajectoryEntry{Kind: EntryErrorNote, Text: text}
}
