// Package workflow loads workflow definitions and resolves embedded
// (library) workflows by name.
package workflow

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/steerworks/steer/internal/errors"
	"github.com/steerworks/steer/internal/types"
	"github.com/steerworks/steer/internal/validation"
)

// Load parses and validates a workflow definition from a YAML file.
func Load(path string) (*types.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.DefParseError(path, err)
	}
	return Parse(filepath.Base(path), data)
}

// Parse parses and validates a workflow definition. The name argument
// is used only for error reporting; the document's own name field wins.
func Parse(name string, data []byte) (*types.Workflow, error) {
	var wf types.Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, errors.DefParseError(name, err)
	}
	if err := wf.Validate(); err != nil {
		return nil, errors.DefParseError(name, err)
	}
	return &wf, nil
}

// Lint runs the static dataflow check on a loaded definition.
func Lint(wf *types.Workflow, embedded bool) error {
	return validation.CheckOutputUsage(wf, embedded)
}

// Library resolves embedded workflow references against a directory of
// definitions, loading lazily and caching by name.
type Library struct {
	dir   string
	cache map[string]*types.Workflow
}

// NewLibrary creates a library over a directory of workflow YAML files.
// The directory may not exist yet; resolution just fails per-name.
func NewLibrary(dir string) *Library {
	return &Library{dir: dir, cache: make(map[string]*types.Workflow)}
}

// Get resolves a sub-workflow by name. Embedded definitions are linted
// with the embedded exemption for their last post-phase step.
func (l *Library) Get(name string) (*types.Workflow, error) {
	if wf, ok := l.cache[name]; ok {
		return wf, nil
	}

	path, err := l.find(name)
	if err != nil {
		return nil, err
	}
	wf, err := Load(path)
	if err != nil {
		return nil, err
	}
	if wf.Name != name {
		return nil, errors.DefParseError(name, nil).
			WithDetail("reason", "file name and workflow name disagree").
			WithDetail("declared", wf.Name)
	}
	if err := Lint(wf, true); err != nil {
		return nil, err
	}

	l.cache[name] = wf
	return wf, nil
}

// Has reports whether the library can resolve the name.
func (l *Library) Has(name string) bool {
	if _, ok := l.cache[name]; ok {
		return true
	}
	_, err := l.find(name)
	return err == nil
}

func (l *Library) find(name string) (string, error) {
	if strings.ContainsAny(name, "/\\") {
		return "", errors.DefUnknownTemplate(name)
	}
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(l.dir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", errors.DefUnknownTemplate(name)
}
