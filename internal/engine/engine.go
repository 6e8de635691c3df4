// Package engine drives a workflow run: the step state machine,
// templated dataflow between steps, HITL suspension, loop controls,
// parallel groups, and embedded-workflow expansion. All persistence
// goes through an injected store; all model calls through an injected
// invoker.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/steerworks/steer/internal/errors"
	"github.com/steerworks/steer/internal/model"
	"github.com/steerworks/steer/internal/store"
	"github.com/steerworks/steer/internal/template"
	"github.com/steerworks/steer/internal/types"
	"github.com/steerworks/steer/internal/validation"
	"github.com/steerworks/steer/internal/vcs"
	"github.com/steerworks/steer/internal/workflow"
)

// StateFile is the persisted run-state document, replaced atomically
// after every step transition.
const StateFile = "state.yaml"

// DefaultMaxWhileIterations bounds while loops that never converge.
const DefaultMaxWhileIterations = 25

// HITLAction is a human review decision.
type HITLAction string

const (
	HITLAccept HITLAction = "accept" // Keep the output unmodified
	HITLReject HITLAction = "reject" // Abort the run, publish nothing
	HITLEdit   HITLAction = "edit"   // Publish the replacement instead
)

// HITLDecision carries a review outcome into Resume.
type HITLDecision struct {
	Action      HITLAction
	Replacement map[string]any // Only read for HITLEdit
}

// StepResult is the explicit outcome of one step body execution.
// Output is a field→value record for bash/script/prompt steps; loop
// steps and list-join parallel groups produce an ordered list.
type StepResult struct {
	Output any
	Err    error
}

// Options configures an Engine. Store and Invoker are required for
// runs that persist or prompt; everything else has a default.
type Options struct {
	Store              store.Store
	Invoker            model.Invoker
	Library            *workflow.Library
	Logger             *slog.Logger
	WorkDir            string
	MaxWhileIterations int

	// DiffFunc captures worktree changes for prompt-step artifacts.
	// Defaults to vcs.CaptureDiff; tests replace it.
	DiffFunc func(ctx context.Context, dir string) string
}

// Engine executes workflow runs.
type Engine struct {
	store    store.Store
	invoker  model.Invoker
	library  *workflow.Library
	logger   *slog.Logger
	workDir  string
	maxWhile int
	diffFunc func(ctx context.Context, dir string) string
}

// New creates an engine, applying defaults for unset options.
func New(opts Options) *Engine {
	e := &Engine{
		store:    opts.Store,
		invoker:  opts.Invoker,
		library:  opts.Library,
		logger:   opts.Logger,
		workDir:  opts.WorkDir,
		maxWhile: opts.MaxWhileIterations,
		diffFunc: opts.DiffFunc,
	}
	if e.store == nil {
		e.store = store.NewMemory()
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	if e.maxWhile <= 0 {
		e.maxWhile = DefaultMaxWhileIterations
	}
	if e.diffFunc == nil {
		e.diffFunc = vcs.CaptureDiff
	}
	return e
}

// Run validates the workflow, then executes it from the beginning.
// Returns the final (or suspended) run state; the error is non-nil only
// for failed runs and infrastructure problems, not HITL suspension.
func (e *Engine) Run(ctx context.Context, wf *types.Workflow, inputs map[string]any) (*types.RunState, error) {
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	if err := validation.CheckOutputUsage(wf, false); err != nil {
		return nil, err
	}
	resolved, err := wf.InputDefaults(inputs)
	if err != nil {
		return nil, err
	}

	state := types.NewRunState(wf, e.workDir, os.Getpid())
	for name, value := range resolved {
		state.Context[name] = value
	}
	if err := e.persist(state); err != nil {
		return nil, err
	}

	e.logger.Info("run started", "workflow", wf.Name, "steps", len(wf.Steps))
	r := &run{e: e, wf: wf, state: state}
	return state, r.loop(ctx)
}

// Resume continues a suspended or interrupted run. For a run waiting
// on human review, decision is required and is applied to the waiting
// step before the loop continues. For a run interrupted mid-flight
// (status still running), decision must be nil and execution picks up
// at the current step.
func (e *Engine) Resume(ctx context.Context, wf *types.Workflow, state *types.RunState, decision *HITLDecision) error {
	if state.Status.IsTerminal() {
		return fmt.Errorf("run already %s", state.Status)
	}

	r := &run{e: e, wf: wf, state: state}

	switch state.Status {
	case types.RunStatusWaiting:
		if decision == nil {
			return fmt.Errorf("run is waiting for human review; a decision is required")
		}
		if err := r.applyDecision(decision); err != nil {
			return err
		}
		if state.Status == types.RunStatusFailed {
			return e.persist(state)
		}
	case types.RunStatusRunning:
		if decision != nil {
			return fmt.Errorf("run is not waiting for review")
		}
	}

	state.PID = os.Getpid()
	e.logger.Info("run resumed", "workflow", wf.Name, "step_index", state.CurrentStep)
	return r.loop(ctx)
}

// LoadState reads the persisted run state back from a store.
func LoadState(s store.Store) (*types.RunState, error) {
	data, err := s.Get(StateFile)
	if err != nil {
		return nil, err
	}
	var state types.RunState
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing run state: %w", err)
	}
	return &state, nil
}

func (e *Engine) persist(state *types.RunState) error {
	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling run state: %w", err)
	}
	return e.store.Put(StateFile, data)
}

// run holds everything one execution pass needs.
type run struct {
	e     *Engine
	wf    *types.Workflow
	state *types.RunState
}

// loop executes steps from the current index until the run completes,
// fails, or suspends for review.
func (r *run) loop(ctx context.Context) error {
	for r.state.CurrentStep < len(r.wf.Steps) {
		step := r.wf.Steps[r.state.CurrentStep]
		stepState, ok := r.state.StepState(step.Name)
		if !ok {
			return fmt.Errorf("step state not found: %s", step.Name)
		}

		if step.Condition != "" {
			proceed, err := template.EvalCondition(step.Condition, r.state.Context)
			if err != nil {
				return r.fail(step.Name, err)
			}
			if !proceed {
				stepState.Status = types.StepStatusSkipped
				r.e.logger.Info("step skipped", "step", step.Name)
				if err := r.advance(); err != nil {
					return err
				}
				continue
			}
		}

		stepState.Status = types.StepStatusInProgress
		if err := r.e.persist(r.state); err != nil {
			return err
		}
		if !step.Hidden {
			r.e.logger.Info("step started", "step", step.Name, "kind", string(step.Kind()))
		}

		result := r.executeStep(ctx, step, r.state.Context)
		if result.Err != nil {
			return r.fail(step.Name, result.Err)
		}

		stepState.Output = result.Output
		if step.Output != nil {
			stepState.OutputTypes = step.Output.Schema
		}

		if step.HITL {
			stepState.Status = types.StepStatusWaiting
			r.state.Status = types.RunStatusWaiting
			r.e.logger.Info("step waiting for review", "step", step.Name)
			return r.e.persist(r.state)
		}

		stepState.Status = types.StepStatusCompleted
		if err := Context(r.state.Context).Publish(step.Name, orEmpty(result.Output)); err != nil {
			return r.fail(step.Name, err)
		}
		if err := r.advance(); err != nil {
			return err
		}
	}

	r.state.Complete()
	r.e.logger.Info("run completed", "workflow", r.wf.Name)
	return r.e.persist(r.state)
}

// applyDecision finalizes the step the run is suspended on.
func (r *run) applyDecision(decision *HITLDecision) error {
	step := r.wf.Steps[r.state.CurrentStep]
	stepState, ok := r.state.StepState(step.Name)
	if !ok || stepState.Status != types.StepStatusWaiting {
		return fmt.Errorf("step %s is not waiting for review", step.Name)
	}

	switch decision.Action {
	case HITLAccept:
		// Output stands as produced.
	case HITLEdit:
		if decision.Replacement == nil {
			return fmt.Errorf("edit decision requires a replacement value")
		}
		if step.Output != nil {
			if err := validation.ValidateRecord(step.Name, step.Output, decision.Replacement); err != nil {
				return err
			}
		}
		stepState.Output = validation.CoerceRecord(step.Output, decision.Replacement)
	case HITLReject:
		stepState.Status = types.StepStatusFailed
		stepState.Error = "review rejected"
		stepState.Output = nil
		r.state.Status = types.RunStatusFailed
		r.e.logger.Info("review rejected", "step", step.Name)
		return nil
	default:
		return fmt.Errorf("unknown review action: %s", decision.Action)
	}

	stepState.Status = types.StepStatusCompleted
	r.state.Status = types.RunStatusRunning
	if err := Context(r.state.Context).Publish(step.Name, orEmpty(stepState.Output)); err != nil {
		return err
	}
	r.state.CurrentStep++
	return r.e.persist(r.state)
}

// executeStep runs a step's body against runCtx, applying loop
// controls. Top-level steps pass the run context; parallel children and
// embedded-workflow steps pass their isolated copies, so loop controls
// behave the same at every nesting level.
func (r *run) executeStep(ctx context.Context, step *types.Step, runCtx map[string]any) StepResult {
	switch {
	case step.Repeat > 1:
		return r.runRepeat(ctx, step, runCtx)
	case step.While != "":
		return r.runWhile(ctx, step, runCtx)
	case step.For != "":
		return r.runFor(ctx, step, runCtx)
	default:
		out, err := r.executeBody(ctx, step, runCtx)
		return StepResult{Output: out, Err: err}
	}
}

// runRepeat executes the body a fixed number of times. The last output
// wins; every iteration is published under "<name>_history", so a step
// whose name collides with that key fails instead of silently
// clobbering it.
func (r *run) runRepeat(ctx context.Context, step *types.Step, runCtx map[string]any) StepResult {
	var last any
	history := make([]any, 0, step.Repeat)
	for i := 0; i < step.Repeat; i++ {
		out, err := r.executeBody(ctx, step, runCtx)
		if err != nil {
			return StepResult{Err: err}
		}
		last = out
		history = append(history, orEmpty(out))
	}
	if err := Context(runCtx).Publish(step.Name+"_history", history); err != nil {
		return StepResult{Err: err}
	}
	return StepResult{Output: last}
}

// runWhile executes the body at least once and re-runs while the
// expression holds, evaluated with the step's own latest output
// visible. Bounded by the configured iteration cap.
func (r *run) runWhile(ctx context.Context, step *types.Step, runCtx map[string]any) StepResult {
	for i := 0; i < r.e.maxWhile; i++ {
		out, err := r.executeBody(ctx, step, runCtx)
		if err != nil {
			return StepResult{Err: err}
		}

		trial := Context(runCtx).Clone()
		trial[step.Name] = orEmpty(out)
		again, err := template.EvalCondition(step.While, trial)
		if err != nil {
			return StepResult{Err: err}
		}
		if !again {
			return StepResult{Output: out}
		}
	}
	return StepResult{Err: errors.StepWhileCap(step.Name, r.e.maxWhile)}
}

// runFor iterates a list from the Context. Each iteration sees an
// isolated copy with "item" and "index" layered in; outputs are
// collected as an ordered list.
func (r *run) runFor(ctx context.Context, step *types.Step, runCtx map[string]any) StepResult {
	value, ok := template.Resolve(step.For, runCtx)
	if !ok {
		return StepResult{Err: fmt.Errorf("step %s: for expression %q resolves to nothing", step.Name, step.For)}
	}
	list, ok := value.([]any)
	if !ok {
		return StepResult{Err: fmt.Errorf("step %s: for expression %q is not a list", step.Name, step.For)}
	}

	outputs := make([]any, 0, len(list))
	for i, item := range list {
		iterCtx := Context(runCtx).Clone()
		iterCtx["item"] = item
		iterCtx["index"] = i
		out, err := r.executeBody(ctx, step, iterCtx)
		if err != nil {
			return StepResult{Err: fmt.Errorf("step %s iteration %d: %w", step.Name, i, err)}
		}
		outputs = append(outputs, orEmpty(out))
	}
	return StepResult{Output: outputs}
}

// executeBody dispatches on the step's body kind.
func (r *run) executeBody(ctx context.Context, step *types.Step, runCtx map[string]any) (any, error) {
	switch step.Kind() {
	case types.BodyBash:
		out, err := r.execBash(ctx, step, runCtx)
		return out, err
	case types.BodyScript:
		out, err := r.execScript(step, runCtx)
		return out, err
	case types.BodyPrompt:
		out, err := r.execPrompt(ctx, step, runCtx)
		return out, err
	case types.BodyParallel:
		return r.execParallel(ctx, step, runCtx)
	}
	return nil, fmt.Errorf("step %s: unknown body kind", step.Name)
}

// fail records the error on the offending step and terminates the run.
func (r *run) fail(stepName string, cause error) error {
	r.e.logger.Error("step failed", "step", stepName, "error", cause)
	if err := r.state.FailStep(stepName, cause.Error()); err != nil {
		return err
	}
	if err := r.e.persist(r.state); err != nil {
		return err
	}
	return cause
}

func (r *run) advance() error {
	r.state.CurrentStep++
	return r.e.persist(r.state)
}

// orEmpty substitutes an empty record for a nil output so published
// context entries are never nil.
func orEmpty(out any) any {
	switch v := out.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		if v == nil {
			return map[string]any{}
		}
	}
	return out
}
