package extract

import (
	"testing"
)

func TestExtractDirect(t *testing.T) {
	raw := `{"thought": "done", "final_answer": "42"}`
	d := Extract(raw)
	if d == nil {
		t.Fatal("Extract returned nil for a valid decision")
	}
	if d.Thought != "done" {
		t.Errorf("Thought = %q, want %q", d.Thought, "done")
	}
	if d.FinalAnswer == nil || *d.FinalAnswer != "42" {
		t.Errorf("FinalAnswer = %v, want 42", d.FinalAnswer)
	}
	if d.Action != nil {
		t.Errorf("Action = %v, want nil", d.Action)
	}
}

func TestExtractDirectAction(t *testing.T) {
	raw := `{"thought": "need list", "action": {"tool_name": "list_items", "arguments": {"limit": 5}}}`
	d := Extract(raw)
	if d == nil {
		t.Fatal("Extract returned nil")
	}
	if !d.HasAction() {
		t.Fatal("HasAction() = false, want true")
	}
	if d.Action.ToolName != "list_items" {
		t.Errorf("ToolName = %q, want %q", d.Action.ToolName, "list_items")
	}
	if got := d.Action.Arguments["limit"]; got != float64(5) {
		t.Errorf("Arguments[limit] = %v, want 5", got)
	}
}

func TestExtractFencedBlock(t *testing.T) {
	raw := "Sure, here is my decision:\n```json\n{\"thought\": \"listing\", \"action\": {\"tool_name\": \"list_databases\"}}\n```\nLet me know if that helps."
	d := Extract(raw)
	if d == nil {
		t.Fatal("Extract returned nil for fenced decision")
	}
	if d.Thought != "listing" {
		t.Errorf("Thought = %q, want %q", d.Thought, "listing")
	}
	if !d.HasAction() || d.Action.ToolName != "list_databases" {
		t.Errorf("Action = %+v, want list_databases", d.Action)
	}
}

func TestExtractBraceSpan(t *testing.T) {
	raw := `The plan is as follows. {"thought": "ok", "final_answer": "done"} That is all.`
	d := Extract(raw)
	if d == nil {
		t.Fatal("Extract returned nil for brace-span decision")
	}
	if d.FinalAnswer == nil || *d.FinalAnswer != "done" {
		t.Errorf("FinalAnswer = %v, want done", d.FinalAnswer)
	}
}

func TestExtractStrategyOrder(t *testing.T) {
	// A decision that is valid on its own must not be re-interpreted by a
	// later, looser strategy, even when a field contains a fenced block.
	raw := `{"thought": "echoing literal text", "final_answer": "Use a fence like ` + "```json" + ` {\"x\":1} ` + "```" + ` in markdown"}`
	d := Extract(raw)
	if d == nil {
		t.Fatal("Extract returned nil")
	}
	if d.FinalAnswer == nil || d.Thought != "echoing literal text" {
		t.Errorf("direct parse did not win: %+v", d)
	}
}

func TestExtractFailures(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"plain prose", "I could not decide what to do next."},
		{"empty", ""},
		{"unclosed fence, broken body", "```json\n{\"thought\": broken"},
		{"broken json everywhere", "prose {not json} prose"},
		{"unknown fields", `{"observation": "not a decision shape"}`},
		{"json array", `[1, 2, 3]`},
		{"trailing garbage after object", `{"thought": "x"} {"thought": "y"}`},
		{"reversed braces", "} nothing here {"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if d := Extract(tc.raw); d != nil {
				t.Errorf("Extract(%q) = %+v, want nil", tc.raw, d)
			}
		})
	}
}

func TestExtractThoughtOnly(t *testing.T) {
	// Valid shape with neither action nor final answer still parses; the
	// orchestrator decides how to treat it.
	d := Extract(`{"thought": "hmm"}`)
	if d == nil {
		t.Fatal("Extract returned nil for thought-only decision")
	}
	if d.IsFinal() || d.HasAction() {
		t.Errorf("decision should carry neither action nor final answer: %+v", d)
	}
}

func TestExtractFencedBlockBadInnerFallsThrough(t *testing.T) {
	// Fence contains garbage but the whole string still holds a brace span
	// with a valid object.
	raw := "```json\nnot json\n```\n{\"thought\": \"recovered\", \"final_answer\": \"ok\"}"
	d := Extract(raw)
	if d == nil {
		t.Fatal("Extract returned nil, want brace-span recovery")
	}
	if d.Thought != "recovered" {
		t.Errorf("Thought = %q, want %q", d.Thought, "recovered")
	}
}
