package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/steerworks/steer/internal/errors"
	"github.com/steerworks/steer/internal/template"
	"github.com/steerworks/steer/internal/types"
)

// ContentFragment is the template an embedded workflow must declare:
// its rendered content is what replaces the reference in the parent
// prompt.
const ContentFragment = "content"

// postRun is the deferred half of an embedded workflow: its post-phase
// steps, sub-context, and export mapping, executed after the model
// responds.
type postRun struct {
	sub       *types.Workflow
	subCtx    Context
	exportKey string
}

// expandPrompt replaces every {{> name arg… }} reference in the prompt.
// Workflow-local fragments are pure text splices; library sub-workflows
// run their pre-phase steps first, splice their rendered content
// fragment, and contribute post-phase steps + exports for after the
// model call.
func (r *run) expandPrompt(ctx context.Context, stepName, prompt string, runCtx map[string]any) (string, []postRun, error) {
	refs := template.EmbeddedRefs(prompt)
	if len(refs) == 0 {
		return prompt, nil, nil
	}

	var posts []postRun
	for _, ref := range refs {
		if frag, ok := r.wf.Templates[ref.Name]; ok {
			rendered, err := renderFragment(frag, ref, runCtx)
			if err != nil {
				return "", nil, fmt.Errorf("step %s: %w", stepName, err)
			}
			prompt = strings.Replace(prompt, ref.Raw, rendered, 1)
			continue
		}

		if r.e.library == nil || !r.e.library.Has(ref.Name) {
			return "", nil, errors.DefUnknownTemplate(ref.Name)
		}
		rendered, post, err := r.expandSubWorkflow(ctx, ref, runCtx)
		if err != nil {
			return "", nil, err
		}
		prompt = strings.Replace(prompt, ref.Raw, rendered, 1)
		if post != nil {
			posts = append(posts, *post)
		}
	}
	return prompt, posts, nil
}

// renderFragment splices a workflow-local fragment, binding its
// declared input to the reference's first argument.
func renderFragment(frag types.Fragment, ref template.EmbeddedRef, runCtx map[string]any) (string, error) {
	fragCtx := Context(runCtx).Clone()
	if frag.Input != "" {
		if len(ref.Args) == 0 {
			return "", errors.DefMissingInput("template "+ref.Name, frag.Input)
		}
		fragCtx[frag.Input] = ref.Args[0]
	}
	return template.Render(frag.Content, fragCtx)
}

// expandSubWorkflow resolves a library workflow, binds the reference's
// positional arguments to its inputs, runs its pre-phase steps, and
// renders its content fragment. Post-phase steps and exports are
// returned for execution after the model call.
func (r *run) expandSubWorkflow(ctx context.Context, ref template.EmbeddedRef, runCtx map[string]any) (string, *postRun, error) {
	sub, err := r.e.library.Get(ref.Name)
	if err != nil {
		return "", nil, err
	}

	subCtx := Context(runCtx).Clone()
	supplied := make(map[string]any)
	for i, arg := range ref.Args {
		if i >= len(sub.Inputs) {
			break
		}
		supplied[sub.Inputs[i].Name] = arg
	}
	resolved, err := sub.InputDefaults(supplied)
	if err != nil {
		return "", nil, err
	}
	for name, value := range resolved {
		subCtx[name] = value
	}

	subRun := &run{e: r.e, wf: sub, state: r.state}
	for _, step := range sub.Steps {
		if step.Phase == types.PhasePost {
			continue
		}
		if skip, err := subRun.skipByCondition(step, subCtx); err != nil {
			return "", nil, err
		} else if skip {
			continue
		}
		res := subRun.executeStep(ctx, step, subCtx)
		if res.Err != nil {
			return "", nil, fmt.Errorf("embedded workflow %s step %s: %w", sub.Name, step.Name, res.Err)
		}
		subCtx[step.Name] = orEmpty(res.Output)
	}

	frag, ok := sub.Templates[ContentFragment]
	if !ok {
		return "", nil, errors.DefUnknownTemplate(ref.Name + "." + ContentFragment)
	}
	rendered, err := template.Render(frag.Content, subCtx)
	if err != nil {
		return "", nil, fmt.Errorf("embedded workflow %s: %w", sub.Name, err)
	}

	return rendered, &postRun{
		sub:       sub,
		subCtx:    subCtx,
		exportKey: exportKey(sub.Name, ref.Args),
	}, nil
}

// runPostSteps executes an embedded workflow's post-phase steps with
// the model exchange injected, then propagates its exports into the
// parent context.
func (r *run) runPostSteps(ctx context.Context, post postRun, prompt, response string) error {
	post.subCtx["prompt"] = prompt
	post.subCtx["response"] = response

	subRun := &run{e: r.e, wf: post.sub, state: r.state}
	for _, step := range post.sub.Steps {
		if step.Phase != types.PhasePost {
			continue
		}
		if skip, err := subRun.skipByCondition(step, post.subCtx); err != nil {
			return err
		} else if skip {
			continue
		}
		res := subRun.executeStep(ctx, step, post.subCtx)
		if res.Err != nil {
			return fmt.Errorf("embedded workflow %s step %s: %w", post.sub.Name, step.Name, res.Err)
		}
		post.subCtx[step.Name] = orEmpty(res.Output)
	}

	if len(post.sub.Exports) == 0 {
		return nil
	}
	exported := make(map[string]any, len(post.sub.Exports))
	for name, path := range post.sub.Exports {
		// A missing export path resolves to null, not an error.
		value, _ := template.Resolve(path, post.subCtx)
		exported[name] = value
	}
	return Context(r.state.Context).Publish(post.exportKey, exported)
}

func (r *run) skipByCondition(step *types.Step, runCtx map[string]any) (bool, error) {
	if step.Condition == "" {
		return false, nil
	}
	proceed, err := template.EvalCondition(step.Condition, runCtx)
	if err != nil {
		return false, fmt.Errorf("step %s: %w", step.Name, err)
	}
	return !proceed, nil
}

// exportKey synthesizes the parent-context key for an embedded
// workflow's exports: the workflow name, suffixed with the first
// positional argument so repeated invocations stay addressable.
func exportKey(subName string, args []string) string {
	if len(args) == 0 {
		return subName
	}
	suffix := strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			return c
		default:
			return '_'
		}
	}, args[0])
	return subName + "_" + suffix
}
