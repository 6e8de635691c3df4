package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/steerworks/steer/internal/store"
	"github.com/steerworks/steer/internal/testutil"
	"github.com/steerworks/steer/internal/types"
)

func newTestEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = testutil.DiscardLogger()
	}
	if opts.DiffFunc == nil {
		opts.DiffFunc = func(ctx context.Context, dir string) string { return "" }
	}
	return New(opts)
}

func TestRun_Completion(t *testing.T) {
	wf := &types.Workflow{
		Name: "all-bash",
		Steps: []*types.Step{
			{Name: "first", Bash: `echo '{"branch": "main"}'`},
			{Name: "second", Bash: "echo building {{ first.branch }}"},
			{Name: "third", Bash: "true"},
		},
	}
	e := newTestEngine(Options{})

	state, err := e.Run(context.Background(), wf, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.Status != types.RunStatusCompleted {
		t.Errorf("status = %s, want completed", state.Status)
	}
	for _, name := range []string{"first", "second", "third"} {
		if _, ok := state.Context[name]; !ok {
			t.Errorf("context missing entry for %s", name)
		}
	}
	second := state.Context["second"].(map[string]any)
	if second["output"] != "building main" {
		t.Errorf("dataflow broken: %#v", second)
	}
}

func TestRun_SkipSemantics(t *testing.T) {
	wf := &types.Workflow{
		Name: "skips",
		Steps: []*types.Step{
			{Name: "gate", Bash: `echo '{"deploy": false}'`},
			{Name: "release", Bash: "echo released", Condition: "gate.deploy"},
			{Name: "wrap", Bash: "true"},
		},
	}
	e := newTestEngine(Options{})

	state, err := e.Run(context.Background(), wf, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.Status != types.RunStatusCompleted {
		t.Fatalf("status = %s", state.Status)
	}
	if _, ok := state.Context["release"]; ok {
		t.Error("skipped step must not publish a context entry")
	}
	ss, _ := state.StepState("release")
	if ss.Status != types.StepStatusSkipped {
		t.Errorf("release status = %s, want skipped", ss.Status)
	}
}

func TestRun_StepFailureStopsRun(t *testing.T) {
	wf := &types.Workflow{
		Name: "failing",
		Steps: []*types.Step{
			{Name: "boom", Bash: "echo oops >&2; exit 3"},
			{Name: "never", Bash: "echo unreachable"},
		},
	}
	e := newTestEngine(Options{})

	state, err := e.Run(context.Background(), wf, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if state.Status != types.RunStatusFailed {
		t.Errorf("status = %s, want failed", state.Status)
	}
	ss, _ := state.StepState("boom")
	if ss.Status != types.StepStatusFailed || !strings.Contains(ss.Error, "oops") {
		t.Errorf("boom state: %+v", ss)
	}
	never, _ := state.StepState("never")
	if never.Status != types.StepStatusPending {
		t.Errorf("never should not have run: %s", never.Status)
	}
}

func TestRun_InputsSeedContext(t *testing.T) {
	wf := &types.Workflow{
		Name:   "inputs",
		Inputs: []types.Input{{Name: "goal"}, {Name: "branch", Default: "main"}},
		Steps: []*types.Step{
			{Name: "announce", Bash: "echo {{ goal }} on {{ branch }}"},
		},
	}
	e := newTestEngine(Options{})

	state, err := e.Run(context.Background(), wf, map[string]any{"goal": "ship"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := state.Context["announce"].(map[string]any)
	if out["output"] != "ship on main" {
		t.Errorf("got %#v", out)
	}
}

func TestRun_RefusesUnusedOutput(t *testing.T) {
	wf := &types.Workflow{
		Name: "lint",
		Steps: []*types.Step{
			{Name: "A", Bash: "gen", Output: &types.OutputSpec{
				Schema: map[string]types.FieldType{"x": types.FieldShortText},
			}},
			{Name: "B", Bash: "echo done"},
		},
	}
	e := newTestEngine(Options{})

	if _, err := e.Run(context.Background(), wf, nil); err == nil {
		t.Fatal("expected lint error before any step runs")
	}
}

func hitlWorkflow() *types.Workflow {
	return &types.Workflow{
		Name: "review",
		Steps: []*types.Step{
			{Name: "plan", Bash: `echo '{"summary": "patch the parser"}'`,
				Output: &types.OutputSpec{
					Schema: map[string]types.FieldType{"summary": types.FieldShortText},
				},
				HITL: true},
			{Name: "apply", Bash: "echo applying {{ plan.summary }}"},
		},
	}
}

func TestHITL_SuspendAndAccept(t *testing.T) {
	mem := store.NewMemory()
	e := newTestEngine(Options{Store: mem})
	wf := hitlWorkflow()

	state, err := e.Run(context.Background(), wf, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.Status != types.RunStatusWaiting {
		t.Fatalf("status = %s, want waiting_for_human", state.Status)
	}
	if _, ok := state.Context["plan"]; ok {
		t.Error("suspended step must not publish before review")
	}

	// Simulate a new process: reload persisted state.
	reloaded, err := LoadState(mem)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	e2 := newTestEngine(Options{Store: mem})
	if err := e2.Resume(context.Background(), wf, reloaded, &HITLDecision{Action: HITLAccept}); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if reloaded.Status != types.RunStatusCompleted {
		t.Errorf("status = %s", reloaded.Status)
	}
	plan := reloaded.Context["plan"].(map[string]any)
	if plan["summary"] != "patch the parser" {
		t.Errorf("accepted output altered: %#v", plan)
	}
	apply := reloaded.Context["apply"].(map[string]any)
	if apply["output"] != "applying patch the parser" {
		t.Errorf("downstream step saw wrong value: %#v", apply)
	}
}

func TestHITL_EditReplacesPublishedValue(t *testing.T) {
	mem := store.NewMemory()
	e := newTestEngine(Options{Store: mem})
	wf := hitlWorkflow()

	state, err := e.Run(context.Background(), wf, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	err = e.Resume(context.Background(), wf, state, &HITLDecision{
		Action:      HITLEdit,
		Replacement: map[string]any{"summary": "rewrite it properly"},
	})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	plan := state.Context["plan"].(map[string]any)
	if plan["summary"] != "rewrite it properly" {
		t.Errorf("edit not published: %#v", plan)
	}
	apply := state.Context["apply"].(map[string]any)
	if apply["output"] != "applying rewrite it properly" {
		t.Errorf("downstream step saw original value: %#v", apply)
	}
}

func TestHITL_RejectHaltsWithoutPublishing(t *testing.T) {
	mem := store.NewMemory()
	e := newTestEngine(Options{Store: mem})
	wf := hitlWorkflow()

	state, err := e.Run(context.Background(), wf, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if err := e.Resume(context.Background(), wf, state, &HITLDecision{Action: HITLReject}); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if state.Status != types.RunStatusFailed {
		t.Errorf("status = %s, want failed", state.Status)
	}
	if _, ok := state.Context["plan"]; ok {
		t.Error("rejected step must not publish")
	}
	ss, _ := state.StepState("plan")
	if ss.Status != types.StepStatusFailed || ss.Error != "review rejected" {
		t.Errorf("plan state: %+v", ss)
	}
	apply, _ := state.StepState("apply")
	if apply.Status != types.StepStatusPending {
		t.Errorf("apply should never run after rejection: %s", apply.Status)
	}
}

func TestResume_CrashedRunContinues(t *testing.T) {
	mem := store.NewMemory()
	e := newTestEngine(Options{Store: mem})
	wf := &types.Workflow{
		Name: "crashy",
		Steps: []*types.Step{
			{Name: "one", Bash: "echo 1"},
			{Name: "two", Bash: "echo 2"},
		},
	}

	state, err := e.Run(context.Background(), wf, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.Status != types.RunStatusCompleted {
		t.Fatalf("status = %s", state.Status)
	}

	// Rewind the persisted state to mid-run, as if the process died
	// after step one.
	state.Status = types.RunStatusRunning
	state.CurrentStep = 1
	delete(state.Context, "two")
	ss, _ := state.StepState("two")
	ss.Status = types.StepStatusPending
	ss.Output = nil

	e2 := newTestEngine(Options{Store: mem})
	if err := e2.Resume(context.Background(), wf, state, nil); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if state.Status != types.RunStatusCompleted {
		t.Errorf("status = %s", state.Status)
	}
	if _, ok := state.Context["two"]; !ok {
		t.Error("resumed run did not execute remaining step")
	}
}

func TestRun_RepeatKeepsHistory(t *testing.T) {
	wf := &types.Workflow{
		Name: "repeater",
		Steps: []*types.Step{
			{Name: "roll", Bash: "echo attempt", Repeat: 3},
		},
	}
	e := newTestEngine(Options{})

	state, err := e.Run(context.Background(), wf, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	history, ok := state.Context["roll_history"].([]any)
	if !ok || len(history) != 3 {
		t.Fatalf("history = %#v", state.Context["roll_history"])
	}
	if _, ok := state.Context["roll"]; !ok {
		t.Error("last output should be published under the step name")
	}
}

func TestRun_RepeatHistoryNameCollisionFails(t *testing.T) {
	wf := &types.Workflow{
		Name: "collision",
		Steps: []*types.Step{
			{Name: "roll", Bash: "echo attempt", Repeat: 2},
			{Name: "roll_history", Bash: "echo shadow"},
		},
	}
	e := newTestEngine(Options{})

	state, err := e.Run(context.Background(), wf, nil)
	if err == nil {
		t.Fatal("expected collision error")
	}
	if !strings.Contains(err.Error(), "roll_history") {
		t.Errorf("error should name the colliding key: %v", err)
	}
	if state.Status != types.RunStatusFailed {
		t.Errorf("status = %s", state.Status)
	}
	history, ok := state.Context["roll_history"].([]any)
	if !ok || len(history) != 2 {
		t.Errorf("history entry clobbered: %#v", state.Context["roll_history"])
	}
}

func TestRun_WhileCapFailsStep(t *testing.T) {
	wf := &types.Workflow{
		Name: "spinner",
		Steps: []*types.Step{
			{Name: "poll", Bash: `echo '{"done": false}'`, While: "poll.done == false"},
		},
	}
	e := newTestEngine(Options{MaxWhileIterations: 3})

	state, err := e.Run(context.Background(), wf, nil)
	if err == nil {
		t.Fatal("expected while-cap error")
	}
	if !strings.Contains(err.Error(), "3") {
		t.Errorf("error should name the cap: %v", err)
	}
	if state.Status != types.RunStatusFailed {
		t.Errorf("status = %s", state.Status)
	}
}

func TestRun_WhileStopsWhenConditionFalsifies(t *testing.T) {
	// The command output is constant, so the loop condition is false on
	// the very first check.
	wf := &types.Workflow{
		Name: "converges",
		Steps: []*types.Step{
			{Name: "poll", Bash: `echo '{"done": true}'`, While: "poll.done == false"},
		},
	}
	e := newTestEngine(Options{MaxWhileIterations: 5})

	state, err := e.Run(context.Background(), wf, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	poll := state.Context["poll"].(map[string]any)
	if poll["done"] != true {
		t.Errorf("got %#v", poll)
	}
	if state.Status != types.RunStatusCompleted {
		t.Errorf("status = %s", state.Status)
	}
}

func TestRun_ForCollectsOrderedOutputs(t *testing.T) {
	wf := &types.Workflow{
		Name:   "mapper",
		Inputs: []types.Input{{Name: "targets", Default: []any{"api", "web", "cli"}}},
		Steps: []*types.Step{
			{Name: "build", Bash: "echo built {{ item }} at {{ index }}", For: "targets"},
		},
	}
	e := newTestEngine(Options{})

	state, err := e.Run(context.Background(), wf, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	outputs, ok := state.Context["build"].([]any)
	if !ok || len(outputs) != 3 {
		t.Fatalf("outputs = %#v", state.Context["build"])
	}
	first := outputs[0].(map[string]any)
	if first["output"] != "built api at 0" {
		t.Errorf("first iteration = %#v", first)
	}
	last := outputs[2].(map[string]any)
	if last["output"] != "built cli at 2" {
		t.Errorf("last iteration = %#v", last)
	}
}

func TestRun_ScriptStep(t *testing.T) {
	wf := &types.Workflow{
		Name:   "scripted",
		Inputs: []types.Input{{Name: "base", Default: float64(20)}},
		Steps: []*types.Step{
			{Name: "calc", Script: "return { total = ctx.base + 22, label = 'answer' }",
				Output: &types.OutputSpec{
					Schema: map[string]types.FieldType{
						"total": types.FieldNumber,
						"label": types.FieldShortText,
					},
				}},
			{Name: "report", Bash: "echo {{ calc.total }} {{ calc.label }}"},
		},
	}
	e := newTestEngine(Options{})

	state, err := e.Run(context.Background(), wf, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	calc := state.Context["calc"].(map[string]any)
	if calc["total"] != float64(42) || calc["label"] != "answer" {
		t.Errorf("script output = %#v", calc)
	}
	report := state.Context["report"].(map[string]any)
	if report["output"] != "42 answer" {
		t.Errorf("report = %#v", report)
	}
}

func TestRun_ScriptRuntimeErrorFailsStep(t *testing.T) {
	wf := &types.Workflow{
		Name: "badscript",
		Steps: []*types.Step{
			{Name: "calc", Script: "error('deliberate failure')"},
		},
	}
	e := newTestEngine(Options{})

	state, err := e.Run(context.Background(), wf, nil)
	if err == nil {
		t.Fatal("expected script error")
	}
	if state.Status != types.RunStatusFailed {
		t.Errorf("status = %s", state.Status)
	}
}

func TestResumabilityRoundTrip(t *testing.T) {
	mem := store.NewMemory()
	e := newTestEngine(Options{Store: mem})
	wf := hitlWorkflow()

	state, err := e.Run(context.Background(), wf, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	reloaded, err := LoadState(mem)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if reloaded.Status != state.Status || reloaded.CurrentStep != state.CurrentStep {
		t.Errorf("round trip mismatch: %+v vs %+v", reloaded, state)
	}
	if len(reloaded.Steps) != len(state.Steps) {
		t.Fatalf("step count mismatch")
	}
	for i := range state.Steps {
		if reloaded.Steps[i].Status != state.Steps[i].Status {
			t.Errorf("step %s status mismatch", state.Steps[i].Name)
		}
	}
}
