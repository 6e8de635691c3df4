package validation

import (
	"sort"
	"strings"

	"github.com/steerworks/steer/internal/errors"
	"github.com/steerworks/steer/internal/template"
	"github.com/steerworks/steer/internal/types"
)

// CheckOutputUsage is the static dataflow lint run before any step
// executes: every step that declares output fields must be referenced
// somewhere downstream, by bare name (whole-value) or as name.field.
//
// Exemptions:
//   - the workflow's last step is legitimately terminal;
//   - when the workflow is validated as an embedded (library) workflow,
//     its last post-phase step is terminal too - its outer reference is
//     a prompt-part splice with no later reader;
//   - children of parallel groups whose join is not "object": the join
//     erases their individual identity, so per-child tracking is
//     meaningless. Object-join children are tracked as "group.child".
func CheckOutputUsage(wf *types.Workflow, embedded bool) error {
	type producer struct {
		ref    string // Name used in references ("step" or "group.child")
		step   string // Declaring step name, for the error
		index  int    // Top-level step index
		fields []string
	}

	var producers []producer
	for i, step := range wf.Steps {
		if step.Output != nil {
			producers = append(producers, producer{
				ref: step.Name, step: step.Name, index: i,
				fields: schemaFields(step.Output),
			})
		}
		if step.Parallel != nil && step.Parallel.Join == types.JoinObject {
			for _, child := range step.Parallel.Steps {
				if child.Output == nil {
					continue
				}
				producers = append(producers, producer{
					ref: step.Name + "." + child.Name, step: child.Name, index: i,
					fields: schemaFields(child.Output),
				})
			}
		}
	}
	if len(producers) == 0 {
		return nil
	}

	refsByIndex := make([][]string, len(wf.Steps))
	for i, step := range wf.Steps {
		refsByIndex[i] = stepRefs(step)
	}

	// Fragment references are not positional: a fragment can be spliced
	// into any prompt, so its reads satisfy every producer.
	var fragmentRefs []string
	for _, frag := range wf.Templates {
		fragmentRefs = append(fragmentRefs, template.Refs(frag.Content)...)
	}

	lastIndex := len(wf.Steps) - 1
	lastPost := -1
	if embedded {
		for i, s := range wf.Steps {
			if s.Phase == types.PhasePost {
				lastPost = i
			}
		}
	}

	for _, p := range producers {
		if p.index == lastIndex {
			continue
		}
		if embedded && p.index == lastPost {
			continue
		}

		used := anyRefMatches(fragmentRefs, p.ref)
		// A step's own while expression reads its own output between
		// iterations; that is a genuine use.
		if !used && wf.Steps[p.index].While != "" {
			used = anyRefMatches(template.ConditionRefs(wf.Steps[p.index].While), p.ref)
		}
		for j := p.index + 1; j <= lastIndex && !used; j++ {
			used = anyRefMatches(refsByIndex[j], p.ref)
		}
		if !used {
			return errors.DefUnusedOutput(p.step, strings.Join(p.fields, ", "))
		}
	}
	return nil
}

// anyRefMatches reports whether any reference reads the producer: the
// exact name, a field under it, or (for qualified child names) the
// whole group.
func anyRefMatches(refs []string, name string) bool {
	group, _, qualified := strings.Cut(name, ".")
	for _, ref := range refs {
		if ref == name || strings.HasPrefix(ref, name+".") {
			return true
		}
		if qualified && ref == group {
			return true // Whole-group reference covers every child
		}
	}
	return false
}

// stepRefs collects every dotted-path reference a step reads: its
// condition, loop expressions, body template, and (for parallel groups)
// all child steps.
func stepRefs(step *types.Step) []string {
	var refs []string
	if step.Condition != "" {
		refs = append(refs, template.ConditionRefs(step.Condition)...)
	}
	if step.While != "" {
		refs = append(refs, template.ConditionRefs(step.While)...)
	}
	if step.For != "" {
		if strings.Contains(step.For, "{{") {
			refs = append(refs, template.Refs(step.For)...)
		} else {
			refs = append(refs, strings.TrimSpace(step.For))
		}
	}
	for _, body := range []string{step.Bash, step.Script, step.Prompt} {
		if body != "" {
			refs = append(refs, template.Refs(body)...)
		}
	}
	if step.Parallel != nil {
		for _, child := range step.Parallel.Steps {
			refs = append(refs, stepRefs(child)...)
		}
	}
	return refs
}

func schemaFields(spec *types.OutputSpec) []string {
	fields := make([]string, 0, len(spec.Schema))
	for f := range spec.Schema {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}
