package workflow

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/steerworks/steer/internal/errors"
	"github.com/steerworks/steer/internal/types"
)

const implementYAML = `
name: implement
inputs:
  - name: goal
    type: long-text
  - name: branch
    type: short-text
    default: main
steps:
  - name: plan
    prompt: |
      Plan the change for: {{ goal }}
    output:
      schema:
        summary: long-text
        file_count: number
  - name: build
    prompt: |
      Implement the plan: {{ plan.summary }} ({{ plan.file_count }} files)
    hitl: true
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeFile(t, t.TempDir(), "implement.yaml", implementYAML)

	wf, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if wf.Name != "implement" {
		t.Errorf("name = %q", wf.Name)
	}
	if len(wf.Inputs) != 2 || wf.Inputs[1].Default != "main" {
		t.Errorf("inputs = %+v", wf.Inputs)
	}
	if len(wf.Steps) != 2 {
		t.Fatalf("steps = %d", len(wf.Steps))
	}
	if wf.Steps[0].Kind() != types.BodyPrompt {
		t.Errorf("kind = %q", wf.Steps[0].Kind())
	}
	if wf.Steps[0].Output.Schema["file_count"] != types.FieldNumber {
		t.Errorf("schema = %+v", wf.Steps[0].Output.Schema)
	}
	if !wf.Steps[1].HITL {
		t.Error("build should require review")
	}
}

func TestParseRejectsInvalidDefinitions(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "two bodies",
			yaml: "name: w\nsteps:\n  - name: s\n    bash: ls\n    prompt: hello\n",
			want: "exactly one",
		},
		{
			name: "duplicate step names",
			yaml: "name: w\nsteps:\n  - name: s\n    bash: ls\n  - name: s\n    bash: pwd\n",
			want: "duplicate",
		},
		{
			name: "malformed yaml",
			yaml: "name: [unclosed",
			want: "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.name, []byte(tc.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.HasCode(err, errors.CodeDefParseError) {
				t.Errorf("expected parse error code, got %v", err)
			}
			if tc.want != "" && !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %v should mention %q", err, tc.want)
			}
		})
	}
}

func TestLibrary(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "review-checklist.yaml", `
name: review-checklist
inputs:
  - name: focus
    default: general
templates:
  content:
    content: "Review with focus on {{ focus }}."
steps:
  - name: record
    bash: "echo reviewed"
    phase: post
`)

	lib := NewLibrary(dir)

	if !lib.Has("review-checklist") {
		t.Error("Has should find the definition")
	}
	if lib.Has("missing") {
		t.Error("Has should not find missing definitions")
	}

	wf, err := lib.Get("review-checklist")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if wf.Name != "review-checklist" {
		t.Errorf("name = %q", wf.Name)
	}

	// Cached: same pointer on second resolution.
	again, err := lib.Get("review-checklist")
	if err != nil {
		t.Fatalf("Get (cached): %v", err)
	}
	if again != wf {
		t.Error("expected cached definition")
	}

	if _, err := lib.Get("missing"); !errors.HasCode(err, errors.CodeDefUnknownTemplate) {
		t.Errorf("expected unknown-template error, got %v", err)
	}
}

func TestLibraryRejectsMismatchedName(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "alias.yaml", "name: other\nsteps:\n  - name: s\n    bash: ls\n")

	if _, err := NewLibrary(dir).Get("alias"); err == nil {
		t.Fatal("expected error for mismatched workflow name")
	}
}
