package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/steerworks/steer/internal/types"
)

// execParallel runs the group's children concurrently, each against an
// independent deep copy of the context. Fail-fast stops not-yet-started
// children once one fails; already-running children finish. Every
// collected child error is reported, and a failed group publishes
// nothing.
func (r *run) execParallel(ctx context.Context, step *types.Step, runCtx map[string]any) (any, error) {
	children := step.Parallel.Steps
	failFast := step.Parallel.IsFailFast()

	type childResult struct {
		output  any
		skipped bool
	}
	results := make([]childResult, len(children))

	var mu sync.Mutex
	childErrs := make(map[string]string)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(children))

	for i, child := range children {
		g.Go(func() error {
			// Fail-fast: a sibling already failed, don't start.
			if failFast && gctx.Err() != nil {
				r.setChildStatus(step.Name, child.Name, types.StepStatusSkipped, "")
				mu.Lock()
				results[i].skipped = true
				mu.Unlock()
				return nil
			}

			if skip, err := r.skipByCondition(child, runCtx); err != nil {
				mu.Lock()
				childErrs[child.Name] = err.Error()
				mu.Unlock()
				r.setChildStatus(step.Name, child.Name, types.StepStatusFailed, err.Error())
				if failFast {
					return err
				}
				return nil
			} else if skip {
				r.setChildStatus(step.Name, child.Name, types.StepStatusSkipped, "")
				mu.Lock()
				results[i].skipped = true
				mu.Unlock()
				return nil
			}

			r.setChildStatus(step.Name, child.Name, types.StepStatusInProgress, "")

			childCtx := Context(runCtx).Clone()
			res := r.executeStep(gctx, child, childCtx)
			out, err := res.Output, res.Err
			if err != nil {
				mu.Lock()
				childErrs[child.Name] = err.Error()
				mu.Unlock()
				r.setChildStatus(step.Name, child.Name, types.StepStatusFailed, err.Error())
				if failFast {
					return err
				}
				return nil
			}

			mu.Lock()
			results[i].output = orEmpty(out)
			mu.Unlock()
			r.setChildStatus(step.Name, child.Name, types.StepStatusCompleted, "")
			return nil
		})
	}
	// Per-child errors are already collected; Wait only drives the
	// fan-in.
	_ = g.Wait()

	if len(childErrs) > 0 {
		names := make([]string, 0, len(childErrs))
		for name := range childErrs {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s: %s", name, childErrs[name]))
		}
		return nil, fmt.Errorf("parallel group %s failed: %s", step.Name, strings.Join(parts, "; "))
	}

	if step.Parallel.Join == types.JoinObject {
		combined := make(map[string]any, len(children))
		for i, child := range children {
			if results[i].skipped {
				continue
			}
			combined[child.Name] = results[i].output
		}
		return combined, nil
	}

	combined := make([]any, 0, len(children))
	for i := range children {
		if results[i].skipped {
			continue
		}
		combined = append(combined, results[i].output)
	}
	return combined, nil
}

// setChildStatus updates the qualified "group.child" step state. Status
// writes from concurrent children go to distinct entries, but the
// shared persist is serialized.
func (r *run) setChildStatus(group, child string, status types.StepStatus, errMsg string) {
	st, ok := r.state.StepState(group + "." + child)
	if !ok {
		return
	}
	st.Status = status
	st.Error = errMsg
}
