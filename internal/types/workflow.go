package types

import (
	"fmt"
)

// Input declares a typed workflow parameter. Inputs without a default
// are required at launch time.
type Input struct {
	Name    string    `yaml:"name"`
	Type    FieldType `yaml:"type,omitempty"`
	Default any       `yaml:"default,omitempty"`
	Desc    string    `yaml:"desc,omitempty"`
}

// Required reports whether the input must be supplied by the caller.
func (i Input) Required() bool {
	return i.Default == nil
}

// Fragment is a reusable named prompt part, optionally parameterized by
// a single input bound from the reference's first argument.
type Fragment struct {
	Input   string `yaml:"input,omitempty"`
	Content string `yaml:"content"`
}

// Workflow is an immutable workflow definition. Loaded once from YAML,
// never mutated during execution.
type Workflow struct {
	Name      string              `yaml:"name"`
	Inputs    []Input             `yaml:"inputs,omitempty"`
	Exports   map[string]string   `yaml:"exports,omitempty"`
	Templates map[string]Fragment `yaml:"templates,omitempty"`
	Steps     []*Step             `yaml:"steps"`
}

// Validate checks the definition is well-formed. This covers structural
// rules only; cross-step dataflow is checked by the validation package.
func (w *Workflow) Validate() error {
	if w.Name == "" {
		return fmt.Errorf("workflow name is required")
	}
	if len(w.Steps) == 0 {
		return fmt.Errorf("workflow %s has no steps", w.Name)
	}

	seenInputs := make(map[string]bool, len(w.Inputs))
	for _, in := range w.Inputs {
		if in.Name == "" {
			return fmt.Errorf("workflow %s: input with empty name", w.Name)
		}
		if in.Type != "" && !in.Type.Valid() {
			return fmt.Errorf("workflow %s: input %s has unknown type %q", w.Name, in.Name, in.Type)
		}
		if seenInputs[in.Name] {
			return fmt.Errorf("workflow %s: duplicate input %s", w.Name, in.Name)
		}
		seenInputs[in.Name] = true
	}

	for name, path := range w.Exports {
		if path == "" {
			return fmt.Errorf("workflow %s: export %s has empty path", w.Name, name)
		}
	}

	for name, frag := range w.Templates {
		if frag.Content == "" {
			return fmt.Errorf("workflow %s: template %s has empty content", w.Name, name)
		}
	}

	seen := make(map[string]bool, len(w.Steps))
	for _, step := range w.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("workflow %s: %w", w.Name, err)
		}
		if seen[step.Name] {
			return fmt.Errorf("workflow %s: duplicate step name: %s", w.Name, step.Name)
		}
		if seenInputs[step.Name] {
			return fmt.Errorf("workflow %s: step %s shadows an input", w.Name, step.Name)
		}
		seen[step.Name] = true
	}

	return nil
}

// Step retrieves a top-level step by name.
func (w *Workflow) Step(name string) (*Step, bool) {
	for _, s := range w.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// InputDefaults returns the caller-supplied values merged over declared
// defaults. Missing required inputs are reported as an error.
func (w *Workflow) InputDefaults(supplied map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(w.Inputs))
	for _, in := range w.Inputs {
		if v, ok := supplied[in.Name]; ok {
			resolved[in.Name] = v
			continue
		}
		if in.Required() {
			return nil, fmt.Errorf("workflow %s: missing required input %q", w.Name, in.Name)
		}
		resolved[in.Name] = in.Default
	}
	return resolved, nil
}
