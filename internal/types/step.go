package types

import (
	"fmt"
	"strings"
)

// BodyKind identifies which kind of work a step performs.
// IMPORTANT: There are exactly 4 body kinds. A step carries exactly one.
type BodyKind string

const (
	BodyBash     BodyKind = "bash"     // Shell command in a subprocess
	BodyScript   BodyKind = "script"   // Sandboxed Lua chunk
	BodyPrompt   BodyKind = "prompt"   // Prompt sent to the model
	BodyParallel BodyKind = "parallel" // Concurrent group of child steps
)

// FieldType tags a declared output field.
type FieldType string

const (
	FieldBoolean   FieldType = "boolean"
	FieldShortText FieldType = "short-text"
	FieldLongText  FieldType = "long-text"
	FieldPath      FieldType = "path"
	FieldNumber    FieldType = "number"
)

// Valid returns true if this is a recognized field type.
func (f FieldType) Valid() bool {
	switch f {
	case FieldBoolean, FieldShortText, FieldLongText, FieldPath, FieldNumber:
		return true
	}
	return false
}

// OutputSpec declares the structured output a step must produce.
// Every schema field is required unless named in Optional.
type OutputSpec struct {
	Schema   map[string]FieldType `yaml:"schema"`
	Optional []string             `yaml:"optional,omitempty"`
}

// IsRequired reports whether the named field must be present.
func (o *OutputSpec) IsRequired(field string) bool {
	for _, opt := range o.Optional {
		if opt == field {
			return false
		}
	}
	return true
}

// JoinObject nests each child's output under its own name. Any other join
// value collects child outputs into an ordered list.
const JoinObject = "object"

// ParallelBody holds a parallel step group.
type ParallelBody struct {
	Join  string  `yaml:"join,omitempty"`
	Steps []*Step `yaml:"steps"`

	// FailFast stops scheduling not-yet-started children once one fails.
	// Defaults to true. Already-running children are not interrupted.
	FailFast *bool `yaml:"fail_fast,omitempty"`
}

// IsFailFast returns the effective fail-fast setting.
func (p *ParallelBody) IsFailFast() bool {
	return p.FailFast == nil || *p.FailFast
}

// Phase controls when an embedded workflow's step runs relative to the
// model call of the step that referenced the workflow.
type Phase string

const (
	PhasePre  Phase = "pre"  // Before the model call (default)
	PhasePost Phase = "post" // After the model responds
)

// Step is the single unit of work in a workflow.
type Step struct {
	Name string `yaml:"name"`

	// Body - exactly one must be set.
	Bash     string        `yaml:"bash,omitempty"`
	Script   string        `yaml:"script,omitempty"`
	Prompt   string        `yaml:"prompt,omitempty"`
	Parallel *ParallelBody `yaml:"parallel,omitempty"`

	// Common controls.
	Output    *OutputSpec `yaml:"output,omitempty"`
	Hidden    bool        `yaml:"hidden,omitempty"`
	HITL      bool        `yaml:"hitl,omitempty"`
	Condition string      `yaml:"condition,omitempty"`

	// Loop controls - at most one.
	For    string `yaml:"for,omitempty"`
	While  string `yaml:"while,omitempty"`
	Repeat int    `yaml:"repeat,omitempty"`

	// Phase is only meaningful inside embedded (library) workflows.
	Phase Phase `yaml:"phase,omitempty"`
}

// Kind returns the step's body kind. Only valid after Validate.
func (s *Step) Kind() BodyKind {
	switch {
	case s.Bash != "":
		return BodyBash
	case s.Script != "":
		return BodyScript
	case s.Prompt != "":
		return BodyPrompt
	default:
		return BodyParallel
	}
}

// HasLoop reports whether any loop control is set.
func (s *Step) HasLoop() bool {
	return s.For != "" || s.While != "" || s.Repeat > 1
}

// Validate checks the step is well-formed.
func (s *Step) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("step name is required")
	}
	// Dots are reserved for qualified names (e.g., "group.child").
	if strings.Contains(s.Name, ".") {
		return fmt.Errorf("step %s: name cannot contain dots (reserved for qualified names)", s.Name)
	}

	bodies := 0
	if s.Bash != "" {
		bodies++
	}
	if s.Script != "" {
		bodies++
	}
	if s.Prompt != "" {
		bodies++
	}
	if s.Parallel != nil {
		bodies++
	}
	if bodies != 1 {
		return fmt.Errorf("step %s must have exactly one of bash, script, prompt, parallel (found %d)", s.Name, bodies)
	}

	loops := 0
	if s.For != "" {
		loops++
	}
	if s.While != "" {
		loops++
	}
	if s.Repeat > 1 {
		loops++
	}
	if loops > 1 {
		return fmt.Errorf("step %s: for, while and repeat are mutually exclusive", s.Name)
	}
	if s.Repeat < 0 {
		return fmt.Errorf("step %s: repeat must be positive", s.Name)
	}
	if s.HITL && s.HasLoop() {
		return fmt.Errorf("step %s: hitl cannot be combined with loop controls", s.Name)
	}

	if s.Output != nil {
		if len(s.Output.Schema) == 0 {
			return fmt.Errorf("step %s: output declared with empty schema", s.Name)
		}
		for field, ft := range s.Output.Schema {
			if !ft.Valid() {
				return fmt.Errorf("step %s: output field %q has unknown type %q", s.Name, field, ft)
			}
		}
	}

	if s.Parallel != nil {
		if len(s.Parallel.Steps) == 0 {
			return fmt.Errorf("step %s: parallel group has no children", s.Name)
		}
		seen := make(map[string]bool, len(s.Parallel.Steps))
		for _, child := range s.Parallel.Steps {
			if err := child.Validate(); err != nil {
				return err
			}
			if child.Parallel != nil {
				return fmt.Errorf("step %s: parallel groups cannot be nested (child %s)", s.Name, child.Name)
			}
			// No suspension point exists mid-group.
			if child.HITL {
				return fmt.Errorf("step %s: child %s cannot require human review inside a parallel group", s.Name, child.Name)
			}
			if seen[child.Name] {
				return fmt.Errorf("step %s: duplicate child name %s", s.Name, child.Name)
			}
			seen[child.Name] = true
		}
	}

	return nil
}
