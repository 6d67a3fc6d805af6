package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rkapoor/dbagent/pkg/capability"
	"github.com/rkapoor/dbagent/pkg/domain"
	"github.com/rkapoor/dbagent/pkg/mcp"
	"github.com/rkapoor/dbagent/pkg/trajectory"
)

// scriptedProvider replays a fixed sequence of completions. The last
// response repeats once the script runs out.
type scriptedProvider struct {
	responses []string
	err       error

	calls   int
	prompts []string
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) List(ctx context.Context) ([]domain.Model, error) {
	return nil, nil
}

func (p *scriptedProvider) Complete(ctx context.Context, modelName, prompt string) (string, error) {
	p.calls++
	p.prompts = append(p.prompts, prompt)
	if p.err != nil {
		return "", p.err
	}
	i := p.calls - 1
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	return p.responses[i], nil
}

type fakeDiscoverer struct{ defs []mcp.ToolDef }

func (f *fakeDiscoverer) ListTools(ctx context.Context) ([]mcp.ToolDef, error) {
	return f.defs, nil
}

type fakeCaller struct {
	text    string
	isError bool
	calls   int
}

func (f *fakeCaller) CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.ToolResult, error) {
	f.calls++
	return &mcp.ToolResult{
		Content: []mcp.Content{{Type: "text", Text: f.text}},
		IsError: f.isError,
	}, nil
}

func testCatalog(t *testing.T) *capability.Catalog {
	t.Helper()
	cat, err := capability.Fetch(context.Background(), &fakeDiscoverer{defs: []mcp.ToolDef{
		{Name: "list_items", Description: "List items."},
		{Name: "create_database", Description: "Create a database."},
	}})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	return cat
}

type run struct {
	state  State
	err    error
	events []domain.Event
	traj   *trajectory.Log
	prov   *scriptedProvider
}

func runAgent(t *testing.T, prov *scriptedProvider, caller *fakeCaller, objective string, maxSteps int) run {
	t.Helper()
	cat := testCatalog(t)
	orch := New(Config{
		Provider: prov,
		Model:    "gemini-2.5-flash",
		Catalog:  cat,
		Invoker:  capability.NewInvoker(caller),
		MaxSteps: maxSteps,
	})

	traj := trajectory.New()
	var events []domain.Event
	state, err := orch.Run(context.Background(), traj, objective, func(e domain.Event) {
		events = append(events, e)
	})
	return run{state: state, err: err, events: events, traj: traj, prov: prov}
}

func eventTypes(events []domain.Event) []domain.EventType {
	out := make([]domain.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func entryKinds(traj *trajectory.Log) []domain.EntryKind {
	entries := traj.Entries()
	out := make([]domain.EntryKind, len(entries))
	for i, e := range entries {
		out[i] = e.Kind
	}
	return out
}

func sameKinds(got []domain.EntryKind, want ...domain.EntryKind) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestRunFinalAnswer(t *testing.T) {
	prov := &scriptedProvider{responses: []string{`{"thought":"done","final_answer":"42"}`}}
	r := runAgent(t, prov, &fakeCaller{}, "what is the answer", 0)

	if r.err != nil {
		t.Fatalf("Run: %v", r.err)
	}
	if r.state != StateTerminatedFinal {
		t.Errorf("state = %s, want %s", r.state, StateTerminatedFinal)
	}
	if got := eventTypes(r.events); len(got) != 2 || got[0] != domain.EventThought || got[1] != domain.EventFinalAnswer {
		t.Errorf("events = %v, want [thought final_answer]", got)
	}
	if r.events[1].Content != "42" {
		t.Errorf("final answer content = %q, want 42", r.events[1].Content)
	}
	if !sameKinds(entryKinds(r.traj), domain.EntryObjective, domain.EntryThought, domain.EntryFinalAnswer) {
		t.Errorf("trajectory kinds = %v", entryKinds(r.traj))
	}
}

func TestRunFinalAnswerWinsOverAction(t *testing.T) {
	// A decision carrying both an action and a final answer resolves to the
	// final answer; the tool must never be called.
	prov := &scriptedProvider{responses: []string{
		`{"thought":"both","action":{"tool_name":"list_items","arguments":{}},"final_answer":"done anyway"}`,
	}}
	caller := &fakeCaller{text: "should not be seen"}
	r := runAgent(t, prov, caller, "ambiguous decision", 0)

	if r.err != nil {
		t.Fatalf("Run: %v", r.err)
	}
	if r.state != StateTerminatedFinal {
		t.Errorf("state = %s, want %s", r.state, StateTerminatedFinal)
	}
	if caller.calls != 0 {
		t.Errorf("caller.calls = %d, want 0", caller.calls)
	}
	if got := eventTypes(r.events); len(got) != 2 || got[0] != domain.EventThought || got[1] != domain.EventFinalAnswer {
		t.Errorf("events = %v, want [thought final_answer]", got)
	}
	if r.events[1].Content != "done anyway" {
		t.Errorf("final answer content = %q, want done anyway", r.events[1].Content)
	}
	if !sameKinds(entryKinds(r.traj), domain.EntryObjective, domain.EntryThought, domain.EntryFinalAnswer) {
		t.Errorf("trajectory kinds = %v", entryKinds(r.traj))
	}
}

func TestRunActionThenFinal(t *testing.T) {
	prov := &scriptedProvider{responses: []string{
		`{"thought":"need list","action":{"tool_name":"list_items","arguments":{}}}`,
		`{"thought":"empty, answering","final_answer":"There are no items."}`,
	}}
	caller := &fakeCaller{text: "[]"}
	r := runAgent(t, prov, caller, "list everything", 0)

	if r.err != nil {
		t.Fatalf("Run: %v", r.err)
	}
	if r.state != StateTerminatedFinal {
		t.Errorf("state = %s, want %s", r.state, StateTerminatedFinal)
	}
	if caller.calls != 1 {
		t.Errorf("caller.calls = %d, want 1", caller.calls)
	}

	want := []domain.EventType{
		domain.EventThought, domain.EventAction, domain.EventObservation,
		domain.EventThought, domain.EventFinalAnswer,
	}
	got := eventTypes(r.events)
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
	if r.events[2].Content != "[]" {
		t.Errorf("observation = %q, want []", r.events[2].Content)
	}
	if !sameKinds(entryKinds(r.traj),
		domain.EntryObjective, domain.EntryThought, domain.EntryAction,
		domain.EntryObservation, domain.EntryThought, domain.EntryFinalAnswer) {
		t.Errorf("trajectory kinds = %v", entryKinds(r.traj))
	}
}

func TestRunInvalidTool(t *testing.T) {
	prov := &scriptedProvider{responses: []string{`{"thought":"go","action":{"tool_name":"nonexistent"}}`}}
	caller := &fakeCaller{}
	r := runAgent(t, prov, caller, "do something", 0)

	if r.err != nil {
		t.Fatalf("Run returned run-level error: %v", r.err)
	}
	if r.state != StateTerminatedError {
		t.Errorf("state = %s, want %s", r.state, StateTerminatedError)
	}
	if prov.calls != 1 {
		t.Errorf("provider.calls = %d, want 1 (no further steps)", prov.calls)
	}
	if caller.calls != 0 {
		t.Errorf("caller.calls = %d, want 0 (invalid tool must not reach server)", caller.calls)
	}

	last := r.events[len(r.events)-1]
	if last.Type != domain.EventError || !strings.Contains(last.Content, "nonexistent") {
		t.Errorf("last event = %+v, want error naming the tool", last)
	}
	kinds := entryKinds(r.traj)
	if kinds[len(kinds)-1] != domain.EntryErrorNote {
		t.Errorf("trajectory kinds = %v, want trailing error_note", kinds)
	}
}

func TestRunUnparseableResponse(t *testing.T) {
	prov := &scriptedProvider{responses: []string{"I am sorry, I cannot express that as JSON."}}
	r := runAgent(t, prov, &fakeCaller{}, "hello", 0)

	if r.err != nil {
		t.Fatalf("Run: %v", r.err)
	}
	if r.state != StateTerminatedFinal {
		t.Errorf("state = %s, want %s (graceful degradation)", r.state, StateTerminatedFinal)
	}
	// Terminates on the first step even with budget remaining.
	if prov.calls != 1 {
		t.Errorf("provider.calls = %d, want 1", prov.calls)
	}
	if len(r.events) != 1 || r.events[0].Type != domain.EventFinalAnswer {
		t.Fatalf("events = %v, want single final_answer", eventTypes(r.events))
	}
	if !strings.HasPrefix(r.events[0].Content, "Warning:") {
		t.Errorf("final answer not warning-tagged: %q", r.events[0].Content)
	}
	if !strings.Contains(r.events[0].Content, "I am sorry") {
		t.Errorf("final answer lost the raw text: %q", r.events[0].Content)
	}
	if !sameKinds(entryKinds(r.traj), domain.EntryObjective, domain.EntryFinalAnswer) {
		t.Errorf("trajectory kinds = %v", entryKinds(r.traj))
	}
}

func TestRunMissingDecision(t *testing.T) {
	prov := &scriptedProvider{responses: []string{`{"thought":"hmm"}`}}
	r := runAgent(t, prov, &fakeCaller{}, "objective", 0)

	if r.state != StateTerminatedError {
		t.Errorf("state = %s, want %s", r.state, StateTerminatedError)
	}
	last := r.events[len(r.events)-1]
	if last.Type != domain.EventError || !strings.Contains(last.Content, "valid action or final answer") {
		t.Errorf("last event = %+v", last)
	}
}

func TestRunMaxStepsExceeded(t *testing.T) {
	// Adversarial model: always requests the same valid tool, never answers.
	prov := &scriptedProvider{responses: []string{
		`{"thought":"again","action":{"tool_name":"list_items","arguments":{}}}`,
	}}
	caller := &fakeCaller{text: "ok"}
	r := runAgent(t, prov, caller, "never finish", 0)

	if r.err != nil {
		t.Fatalf("Run: %v", r.err)
	}
	if r.state != StateTerminatedMaxSteps {
		t.Errorf("state = %s, want %s", r.state, StateTerminatedMaxSteps)
	}
	if prov.calls != DefaultMaxSteps {
		t.Errorf("provider.calls = %d, want %d", prov.calls, DefaultMaxSteps)
	}
	last := r.events[len(r.events)-1]
	if last.Type != domain.EventError || !strings.Contains(last.Content, "maximum steps") {
		t.Errorf("last event = %+v, want max-steps error", last)
	}
	// Exactly one terminal event: no other error events before it.
	for _, e := range r.events[:len(r.events)-1] {
		if e.Type == domain.EventError || e.Type == domain.EventFinalAnswer {
			t.Errorf("unexpected terminal event mid-run: %+v", e)
		}
	}
}

func TestRunCompletionUnavailable(t *testing.T) {
	prov := &scriptedProvider{err: errors.New("service unreachable")}
	r := runAgent(t, prov, &fakeCaller{}, "objective", 0)

	if r.err == nil {
		t.Fatal("Run returned nil error, want run-level abort")
	}
	if r.state != StateTerminatedError {
		t.Errorf("state = %s, want %s", r.state, StateTerminatedError)
	}
	if len(r.events) != 1 || r.events[0].Type != domain.EventError {
		t.Errorf("events = %v, want single error event", eventTypes(r.events))
	}
	// Only the objective was recorded; the failed step mutated nothing.
	if !sameKinds(entryKinds(r.traj), domain.EntryObjective) {
		t.Errorf("trajectory kinds = %v, want [objective]", entryKinds(r.traj))
	}
}

func TestRunFailedInvocationContinuesLoop(t *testing.T) {
	prov := &scriptedProvider{responses: []string{
		`{"thought":"try","action":{"tool_name":"create_database","arguments":{"name":"x"}}}`,
		`{"thought":"it failed, reporting","final_answer":"Could not create the database."}`,
	}}
	caller := &fakeCaller{text: "database already exists", isError: true}
	r := runAgent(t, prov, caller, "create x", 0)

	if r.err != nil {
		t.Fatalf("Run: %v", r.err)
	}
	if r.state != StateTerminatedFinal {
		t.Errorf("state = %s, want %s (failed call is recoverable)", r.state, StateTerminatedFinal)
	}
	var observed bool
	for _, e := range r.events {
		if e.Type == domain.EventObservation && strings.Contains(e.Content, "database already exists") {
			observed = true
		}
	}
	if !observed {
		t.Error("remote failure was not fed back as an observation")
	}
}

func TestRunTrajectoryPersistsAcrossObjectives(t *testing.T) {
	cat := testCatalog(t)
	prov := &scriptedProvider{responses: []string{
		`{"thought":"one","final_answer":"first"}`,
		`{"thought":"two","final_answer":"second"}`,
	}}
	orch := New(Config{
		Provider: prov,
		Model:    "m",
		Catalog:  cat,
		Invoker:  capability.NewInvoker(&fakeCaller{}),
	})

	traj := trajectory.New()
	ctx := context.Background()
	if _, err := orch.Run(ctx, traj, "first objective", nil); err != nil {
		t.Fatalf("Run 1: %v", err)
	}
	if _, err := orch.Run(ctx, traj, "second objective", nil); err != nil {
		t.Fatalf("Run 2: %v", err)
	}

	// The second prompt must replay the first objective's history.
	lastPrompt := prov.prompts[len(prov.prompts)-1]
	if !strings.Contains(lastPrompt, "User's objective: first objective") {
		t.Error("second run's prompt lost the earlier objective")
	}
	if !strings.Contains(lastPrompt, "Final Answer: first") {
		t.Error("second run's prompt lost the earlier final answer")
	}
}

func TestPromptContainsCatalogAndInstructions(t *testing.T) {
	prov := &scriptedProvider{responses: []string{`{"thought":"t","final_answer":"a"}`}}
	r := runAgent(t, prov, &fakeCaller{}, "objective text", 0)

	if len(r.prov.prompts) == 0 {
		t.Fatal("no prompts captured")
	}
	prompt := r.prov.prompts[0]
	for _, want := range []string{
		"ReAct-style database management assistant",
		"list_items: List items.",
		"User's objective: objective text",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
