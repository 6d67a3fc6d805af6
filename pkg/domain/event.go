package domain

// EventType identifies the kind of an agent event.
type EventType string

const (
	// EventThought reports the model's reasoning for a step.
	EventThought EventType = "thought"
	// EventAction reports a capability call about to be dispatched.
	EventAction EventType = "action"
	// EventObservation reports the result of a capability call.
	EventObservation EventType = "observation"
	// EventFinalAnswer reports the terminal answer for an objective.
	EventFinalAnswer EventType = "final_answer"
	// EventError reports a terminal failure.
	EventError EventType = "error"
)

// Event is a single typed message in the agent's output stream. Events are
// emitted in exactly the order the step loop produces them; every run ends
// with exactly one final_answer or error event.
type Event struct {
	Type    EventType `json:"type"`
	Content string    `json:"content"`
}
