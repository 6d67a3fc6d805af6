// Package agent implements the bounded think-act-observe loop. The
// orchestrator is the only component with loop control: it builds prompts,
// requests completions, extracts decisions, dispatches capability calls, and
// enforces termination. It must never crash regardless of what the model
// emits.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rkapoor/dbagent/pkg/capability"
	"github.com/rkapoor/dbagent/pkg/domain"
	"github.com/rkapoor/dbagent/pkg/extract"
	"github.com/rkapoor/dbagent/pkg/model"
)

// DefaultMaxSteps is the step budget for one objective. The budget is the
// only bound on runaway execution; there is no mid-step cancellation beyond
// context expiry on the blocking calls.
const DefaultMaxSteps = 15

// State enumerates the orchestrator's step-loop states.
type State string

const (
	// StateAwaitingDecision means the loop is about to request a completion.
	StateAwaitingDecision State = "awaiting_decision"
	// StateExecutingAction means a capability call is being dispatched.
	StateExecutingAction State = "executing_action"
	// StateTerminatedFinal means the run ended with a final answer.
	StateTerminatedFinal State = "terminated_final"
	// StateTerminatedError means the run ended with an error event.
	StateTerminatedError State = "terminated_error"
	// StateTerminatedMaxSteps means the step budget ran out.
	StateTerminatedMaxSteps State = "terminated_max_steps"
)

// Terminal reports whether the state ends processing of the objective.
func (s State) Terminal() bool {
	switch s {
	case StateTerminatedFinal, StateTerminatedError, StateTerminatedMaxSteps:
		return true
	}
	return false
}

// Trajectory is the per-session history the orchestrator reads and extends.
// Exactly one trajectory instance belongs to each logical session; the
// orchestrator owns it for the duration of a run.
type Trajectory interface {
	Append(ctx context.Context, entry domain.TrajectoryEntry) error
	Render(ctx context.Context) (string, error)
}

// Invoker dispatches validated capability calls.
type Invoker interface {
	Invoke(ctx context.Context, toolName string, arguments map[string]any, catalog *capability.Catalog) (string, error)
}

// EmitFunc receives agent events in exactly the order the step loop
// produces them.
type EmitFunc func(domain.Event)

// systemInstructions is prepended to every prompt, ahead of the capability
// catalog and the rendered trajectory.
const systemInstructions = `You are a ReAct-style database management assistant. Your goal is to achieve the user's objective by thinking, acting, and observing.

**Workflow:**
1. **Thought:** Think step-by-step about the user's request and your plan.
2. **Action:** Based on your thought, decide if you need to use a tool. Unless the user is just saying hello, you should almost always follow your thought with an 'action' or a 'final_answer'.
3. **Observation:** After you act, you will be given the result of your action.
Repeat this process until you have the final answer.

**Data Formatting:** When presenting data to the user, especially dates and times, always format them in a human-readable way (e.g., 'May 15, 2024', '02:00 PM'). Avoid showing raw or internal formats like 'PT14H'.

**Response Format:**
You MUST respond with a single valid JSON object:
{"thought": "...", "action": {"tool_name": "...", "arguments": {...}}}
or
{"thought": "...", "final_answer": "..."}`

// Config assembles an Orchestrator.
type Config struct {
	Provider model.Provider
	Model    string
	Catalog  *capability.Catalog
	Invoker  Invoker

	// MaxSteps overrides the step budget. Zero means DefaultMaxSteps.
	MaxSteps int
}

// Orchestrator runs the bounded step loop for one session at a time.
type Orchestrator struct {
	provider model.Provider
	model    string
	catalog  *capability.Catalog
	invoker  Invoker
	maxSteps int

	catalogText string
}

// New creates an Orchestrator. The catalog is rendered once; capabilities
// are immutable for the life of the session.
func New(cfg Config) *Orchestrator {
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Orchestrator{
		provider:    cfg.Provider,
		model:       cfg.Model,
		catalog:     cfg.Catalog,
		invoker:     cfg.Invoker,
		maxSteps:    maxSteps,
		catalogText: cfg.Catalog.Render(),
	}
}

// Run processes one objective against the given trajectory. Events are
// emitted in step order; every run ends with exactly one final_answer or
// error event. The returned error is non-nil only for run-level aborts
// (completion service or trajectory failures); model misbehavior terminates
// the run through the event stream instead.
func (o *Orchestrator) Run(ctx context.Context, traj Trajectory, objective string, emit EmitFunc) (State, error) {
	if emit == nil {
		emit = func(domain.Event) {}
	}

	if objective != "" {
		if err := o.append(ctx, traj, domain.Objective(objective)); err != nil {
			return o.abort(emit, fmt.Errorf("recording objective: %w", err))
		}
	}

	for step := 0; step < o.maxSteps; step++ {
		state, action, err := o.decide(ctx, traj, emit)
		if err != nil {
			return o.abort(emit, err)
		}
		if state.Terminal() {
			return state, nil
		}
		if state == StateExecutingAction {
			state, err = o.executeAction(ctx, traj, action, emit)
			if err != nil {
				return o.abort(emit, err)
			}
			if state.Terminal() {
				return state, nil
			}
		}
	}

	emit(domain.Event{
		Type:    domain.EventError,
		Content: "Agent reached maximum steps without finding a final answer.",
	})
	return StateTerminatedMaxSteps, nil
}

// decide runs the thinking half of one cycle: render history, request a
// completion, and extract a decision. It either terminates the run or
// transitions to StateExecutingAction with the chosen action.
func (o *Orchestrator) decide(ctx context.Context, traj Trajectory, emit EmitFunc) (State, *domain.Action, error) {
	history, err := traj.Render(ctx)
	if err != nil {
		return StateTerminatedError, nil, fmt.Errorf("rendering trajectory: %w", err)
	}

	prompt := o.buildPrompt(history)
	raw, err := o.provider.Complete(ctx, o.model, prompt)
	if err != nil {
		return StateTerminatedError, nil, fmt.Errorf("requesting completion: %w", err)
	}

	decision := extract.Extract(raw)
	if decision == nil {
		// Unparseable output is assumed to already be the intended answer,
		// not an error.
		if err := o.append(ctx, traj, domain.FinalAnswer(raw)); err != nil {
			return StateTerminatedError, nil, fmt.Errorf("recording final answer: %w", err)
		}
		emit(domain.Event{
			Type:    domain.EventFinalAnswer,
			Content: "Warning: Model provided a non-JSON response. Treating it as a final answer.\n\n---\n\n" + raw,
		})
		return StateTerminatedFinal, nil, nil
	}

	if decision.Thought != "" {
		if err := o.append(ctx, traj, domain.Thought(decision.Thought)); err != nil {
			return StateTerminatedError, nil, fmt.Errorf("recording thought: %w", err)
		}
		emit(domain.Event{Type: domain.EventThought, Content: decision.Thought})
	}

	if decision.IsFinal() {
		answer := *decision.FinalAnswer
		if err := o.append(ctx, traj, domain.FinalAnswer(answer)); err != nil {
			return StateTerminatedError, nil, fmt.Errorf("recording final answer: %w", err)
		}
		emit(domain.Event{Type: domain.EventFinalAnswer, Content: answer})
		return StateTerminatedFinal, nil, nil
	}

	if !decision.HasAction() {
		const msg = "Model did not provide a valid action or final answer."
		emit(domain.Event{Type: domain.EventError, Content: msg})
		if err := o.append(ctx, traj, domain.ErrorNote(msg)); err != nil {
			return StateTerminatedError, nil, fmt.Errorf("recording error note: %w", err)
		}
		return StateTerminatedError, nil, nil
	}

	return StateExecutingAction, decision.Action, nil
}

// executeAction runs the acting half of the cycle: dispatch the capability
// call and feed the observation back into the trajectory, transitioning to
// StateAwaitingDecision on success.
func (o *Orchestrator) executeAction(ctx context.Context, traj Trajectory, action *domain.Action, emit EmitFunc) (State, error) {
	arguments := action.Arguments
	if arguments == nil {
		arguments = map[string]any{}
	}

	argsJSON, _ := json.Marshal(arguments)
	emit(domain.Event{
		Type:    domain.EventAction,
		Content: fmt.Sprintf("Calling tool `%s` with arguments: `%s`", action.ToolName, argsJSON),
	})
	if err := o.append(ctx, traj, domain.ActionEntry(action.ToolName, arguments)); err != nil {
		return StateTerminatedError, fmt.Errorf("recording action: %w", err)
	}

	observation, err := o.invoker.Invoke(ctx, action.ToolName, arguments, o.catalog)
	if err != nil {
		// InvalidCapability is a hard stop: the model asked for something
		// the catalog never offered.
		msg := fmt.Sprintf("Model chose an invalid tool: '%s'", action.ToolName)
		slog.Warn("Invalid capability requested", "tool", action.ToolName)
		emit(domain.Event{Type: domain.EventError, Content: msg})
		if err := o.append(ctx, traj, domain.ErrorNote(msg)); err != nil {
			return StateTerminatedError, fmt.Errorf("recording error note: %w", err)
		}
		return StateTerminatedError, nil
	}

	if err := o.append(ctx, traj, domain.Observation(observation)); err != nil {
		return StateTerminatedError, fmt.Errorf("recording observation: %w", err)
	}
	emit(domain.Event{Type: domain.EventObservation, Content: observation})
	return StateAwaitingDecision, nil
}

// abort ends the run with a single error event for failures of the
// orchestrator's own collaborators (not of the model).
func (o *Orchestrator) abort(emit EmitFunc, err error) (State, error) {
	slog.Error("Agent run aborted", "error", err)
	emit(domain.Event{
		Type:    domain.EventError,
		Content: fmt.Sprintf("Failed to run agent step: %v", err),
	})
	return StateTerminatedError, err
}

func (o *Orchestrator) buildPrompt(history string) string {
	return systemInstructions +
		"\n\n**Available Tools:**\n" + o.catalogText +
		"\n\n**Conversation Trajectory:**\n" + history
}

func (o *Orchestrator) append(ctx context.Context, traj Trajectory, entry domain.TrajectoryEntry) error {
	entry.ID = uuid.New().String()
	return traj.Append(ctx, entry)
}
