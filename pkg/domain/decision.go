package domain

// Action is a capability invocation requested by the model.
type Action struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Decision is the structured outcome of parsing one model completion.
// At most one of Action and FinalAnswer is populated; a decision with
// neither is malformed for control purposes even if it was valid JSON.
type Decision struct {
	Thought     string  `json:"thought"`
	Action      *Action `json:"action,omitempty"`
	FinalAnswer *string `json:"final_answer,omitempty"`
}

// IsFinal reports whether the decision carries a final answer. FinalAnswer
// presence wins over Action when the model populates both.
func (d *Decision) IsFinal() bool {
	return d.FinalAnswer != nil
}

// HasAction reports whether the decision carries a usable action, meaning
// an action object with a non-empty tool name.
func (d *Decision) HasAction() bool {
	return d.Action != nil && d.Action.ToolName != ""
}
