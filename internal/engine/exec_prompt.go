package engine

import (
	"context"
	"fmt"

	"github.com/steerworks/steer/internal/errors"
	"github.com/steerworks/steer/internal/model"
	"github.com/steerworks/steer/internal/template"
	"github.com/steerworks/steer/internal/types"
	"github.com/steerworks/steer/internal/validation"
)

// execPrompt renders the prompt, expands embedded workflow references,
// invokes the model, and parses/validates the response. Side effects:
// a transcript artifact per invocation, a best-effort diff artifact
// when the worktree changed, and any embedded post-phase steps with
// export propagation.
func (r *run) execPrompt(ctx context.Context, step *types.Step, runCtx map[string]any) (map[string]any, error) {
	if r.e.invoker == nil {
		return nil, errors.StepInvokeFailed(step.Name, fmt.Errorf("no model invoker configured"))
	}

	expanded, posts, err := r.expandPrompt(ctx, step.Name, step.Prompt, runCtx)
	if err != nil {
		return nil, err
	}
	prompt, err := template.Render(expanded, runCtx)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", step.Name, err)
	}

	response, err := r.e.invoker.Invoke(ctx, prompt, model.Options{WorkDir: r.e.workDir})
	if err != nil {
		return nil, errors.StepInvokeFailed(step.Name, err)
	}

	r.writeTranscript(step.Name, prompt, response)

	var record map[string]any
	if step.Output != nil {
		record, err = validation.ParseModelResponse(response)
		if err != nil {
			return nil, errors.StepBadResponse(step.Name, err)
		}
		if err := validation.ValidateRecord(step.Name, step.Output, record); err != nil {
			return nil, err
		}
		record = validation.CoerceRecord(step.Output, record)
	} else {
		record = map[string]any{validation.ResponseField: response}
	}

	if diff := r.e.diffFunc(ctx, r.e.workDir); diff != "" {
		r.writeArtifact(step.Name, "changes.diff", diff)
	}

	for _, post := range posts {
		if err := r.runPostSteps(ctx, post, prompt, response); err != nil {
			return nil, err
		}
	}

	return record, nil
}

// writeTranscript appends the prompt/response pair to the step's chat
// transcript artifact. Best effort: artifact loss never fails a step.
func (r *run) writeTranscript(stepName, prompt, response string) {
	name := fmt.Sprintf("artifacts/%s/transcript.md", stepName)
	var prior string
	if data, err := r.e.store.Get(name); err == nil {
		prior = string(data)
	}
	entry := fmt.Sprintf("## Prompt\n\n%s\n\n## Response\n\n%s\n\n", prompt, response)
	if err := r.e.store.Put(name, []byte(prior+entry)); err != nil {
		r.e.logger.Warn("transcript write failed", "step", stepName, "error", err)
	}
}

func (r *run) writeArtifact(stepName, file, content string) {
	name := fmt.Sprintf("artifacts/%s/%s", stepName, file)
	if err := r.e.store.Put(name, []byte(content)); err != nil {
		r.e.logger.Warn("artifact write failed", "step", stepName, "artifact", file, "error", err)
	}
}
