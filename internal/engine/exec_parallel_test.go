package engine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/steerworks/steer/internal/types"
)

func parallelWorkflow(join string, children ...*types.Step) *types.Workflow {
	return &types.Workflow{
		Name: "fanout",
		Steps: []*types.Step{
			{Name: "grp", Parallel: &types.ParallelBody{Join: join, Steps: children}},
			{Name: "after", Bash: "echo {{ grp }}"},
		},
	}
}

func TestParallel_ObjectJoin(t *testing.T) {
	wf := parallelWorkflow(types.JoinObject,
		&types.Step{Name: "t1", Bash: `echo '{"v": 1}'`},
		&types.Step{Name: "t2", Bash: `echo '{"v": 2}'`},
		&types.Step{Name: "t3", Bash: `echo '{"v": 3}'`},
	)
	e := newTestEngine(Options{})

	state, err := e.Run(context.Background(), wf, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := map[string]any{
		"t1": map[string]any{"v": float64(1)},
		"t2": map[string]any{"v": float64(2)},
		"t3": map[string]any{"v": float64(3)},
	}
	if !reflect.DeepEqual(state.Context["grp"], want) {
		t.Errorf("grp = %#v, want %#v", state.Context["grp"], want)
	}
}

func TestParallel_ListJoinPreservesDeclarationOrder(t *testing.T) {
	wf := parallelWorkflow("list",
		&types.Step{Name: "t1", Bash: `echo '{"v": 1}'`},
		&types.Step{Name: "t2", Bash: `echo '{"v": 2}'`},
		&types.Step{Name: "t3", Bash: `echo '{"v": 3}'`},
	)
	e := newTestEngine(Options{})

	state, err := e.Run(context.Background(), wf, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []any{
		map[string]any{"v": float64(1)},
		map[string]any{"v": float64(2)},
		map[string]any{"v": float64(3)},
	}
	if !reflect.DeepEqual(state.Context["grp"], want) {
		t.Errorf("grp = %#v, want %#v", state.Context["grp"], want)
	}
}

func TestParallel_FailureAtomicity(t *testing.T) {
	wf := parallelWorkflow(types.JoinObject,
		&types.Step{Name: "a", Bash: "echo ok"},
		&types.Step{Name: "b", Bash: "echo b exploded >&2; exit 1"},
	)
	e := newTestEngine(Options{})

	state, err := e.Run(context.Background(), wf, nil)
	if err == nil {
		t.Fatal("expected group failure")
	}
	if !strings.Contains(err.Error(), "b") || !strings.Contains(err.Error(), "exploded") {
		t.Errorf("aggregated error should name the failing child: %v", err)
	}
	if _, ok := state.Context["grp"]; ok {
		t.Error("failed group must not publish a context entry")
	}
	if state.Status != types.RunStatusFailed {
		t.Errorf("status = %s", state.Status)
	}
	child, _ := state.StepState("grp.b")
	if child.Status != types.StepStatusFailed {
		t.Errorf("child b status = %s", child.Status)
	}
}

func TestParallel_CollectsAllErrorsWithoutFailFast(t *testing.T) {
	off := false
	wf := &types.Workflow{
		Name: "multi-fail",
		Steps: []*types.Step{
			{Name: "grp", Parallel: &types.ParallelBody{
				Join:     "list",
				FailFast: &off,
				Steps: []*types.Step{
					{Name: "x", Bash: "echo x broke >&2; exit 1"},
					{Name: "y", Bash: "echo y broke >&2; exit 1"},
				},
			}},
		},
	}
	e := newTestEngine(Options{})

	_, err := e.Run(context.Background(), wf, nil)
	if err == nil {
		t.Fatal("expected group failure")
	}
	for _, fragment := range []string{"x broke", "y broke"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("aggregated error missing %q: %v", fragment, err)
		}
	}
}

func TestParallel_ChildrenGetIsolatedContexts(t *testing.T) {
	// Each child reads the same upstream value; no child sees another's
	// output.
	wf := &types.Workflow{
		Name: "isolated",
		Steps: []*types.Step{
			{Name: "seed", Bash: `echo '{"val": "base"}'`},
			{Name: "grp", Parallel: &types.ParallelBody{
				Join: types.JoinObject,
				Steps: []*types.Step{
					{Name: "l", Bash: "echo left-{{ seed.val }}"},
					{Name: "r", Bash: "echo right-{{ seed.val }}"},
				},
			}},
			{Name: "after", Bash: "echo {{ grp.l.output }} {{ grp.r.output }}"},
		},
	}
	e := newTestEngine(Options{})

	state, err := e.Run(context.Background(), wf, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	after := state.Context["after"].(map[string]any)
	if after["output"] != "left-base right-base" {
		t.Errorf("after = %#v", after)
	}
}

func TestParallel_ChildRepeatRunsEveryIteration(t *testing.T) {
	mark := filepath.Join(t.TempDir(), "ticks")
	wf := parallelWorkflow(types.JoinObject,
		&types.Step{Name: "steady", Bash: `echo '{"v": 1}'`},
		&types.Step{Name: "looped", Bash: "echo tick >> " + mark + `; echo '{"v": 2}'`, Repeat: 3},
	)
	e := newTestEngine(Options{})

	state, err := e.Run(context.Background(), wf, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	data, err := os.ReadFile(mark)
	if err != nil {
		t.Fatalf("reading marker file: %v", err)
	}
	if got := bytes.Count(data, []byte("tick")); got != 3 {
		t.Errorf("child body ran %d times, want 3", got)
	}
	grp := state.Context["grp"].(map[string]any)
	looped := grp["looped"].(map[string]any)
	if looped["v"] != float64(2) {
		t.Errorf("looped = %#v", looped)
	}
}

func TestParallel_ChildForIteratesList(t *testing.T) {
	wf := &types.Workflow{
		Name:   "fan-for",
		Inputs: []types.Input{{Name: "targets", Default: []any{"api", "web"}}},
		Steps: []*types.Step{
			{Name: "grp", Parallel: &types.ParallelBody{
				Join: types.JoinObject,
				Steps: []*types.Step{
					{Name: "builds", Bash: "echo built {{ item }}", For: "targets"},
				},
			}},
			{Name: "after", Bash: "echo {{ grp }}"},
		},
	}
	e := newTestEngine(Options{})

	state, err := e.Run(context.Background(), wf, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	grp := state.Context["grp"].(map[string]any)
	builds, ok := grp["builds"].([]any)
	if !ok || len(builds) != 2 {
		t.Fatalf("builds = %#v", grp["builds"])
	}
	first := builds[0].(map[string]any)
	if first["output"] != "built api" {
		t.Errorf("first iteration = %#v", first)
	}
}

func TestParallel_ChildConditionSkips(t *testing.T) {
	wf := &types.Workflow{
		Name: "gated-children",
		Steps: []*types.Step{
			{Name: "gate", Bash: `echo '{"extra": false}'`},
			{Name: "grp", Parallel: &types.ParallelBody{
				Join: types.JoinObject,
				Steps: []*types.Step{
					{Name: "always", Bash: "echo yes"},
					{Name: "maybe", Bash: "echo extra", Condition: "gate.extra"},
				},
			}},
			{Name: "after", Bash: "echo {{ grp }}"},
		},
	}
	e := newTestEngine(Options{})

	state, err := e.Run(context.Background(), wf, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	grp := state.Context["grp"].(map[string]any)
	if _, ok := grp["maybe"]; ok {
		t.Errorf("skipped child must not appear in the join: %#v", grp)
	}
	if _, ok := grp["always"]; !ok {
		t.Errorf("executed child missing from the join: %#v", grp)
	}
	child, _ := state.StepState("grp.maybe")
	if child.Status != types.StepStatusSkipped {
		t.Errorf("maybe status = %s", child.Status)
	}
}
