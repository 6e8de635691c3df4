// Package template resolves {{ dotted.path }} references and boolean
// condition expressions against a run's context.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// refPattern matches {{ ... }} expressions, including embedded
// workflow references of the form {{> name args }}.
var refPattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// Render replaces every {{ dotted.path }} in input with its value from
// ctx. Embedded references ({{> ... }}) are left untouched; they are
// expanded by the engine, not here. A reference to a missing path is an
// error naming the path.
func Render(input string, ctx map[string]any) (string, error) {
	var missing []string

	result := refPattern.ReplaceAllStringFunc(input, func(match string) string {
		body := strings.TrimSpace(match[2 : len(match)-2])
		if strings.HasPrefix(body, ">") {
			return match // Embedded reference, expanded elsewhere
		}

		value, ok := Resolve(body, ctx)
		if !ok {
			missing = append(missing, body)
			return match
		}
		return Stringify(value)
	})

	if len(missing) > 0 {
		return result, fmt.Errorf("unresolved references: %s", strings.Join(missing, ", "))
	}
	return result, nil
}

// Resolve looks up a dotted path in ctx. A bare step name resolves to
// the step's whole output record.
func Resolve(path string, ctx map[string]any) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = ctx
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Stringify renders a context value for splicing into a template.
// Records and lists are serialized as JSON so whole-value references
// stay machine-readable.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Refs returns every dotted path referenced by the input's plain
// {{ ... }} expressions, in order of appearance. Embedded references
// are skipped.
func Refs(input string) []string {
	var refs []string
	for _, match := range refPattern.FindAllStringSubmatch(input, -1) {
		body := strings.TrimSpace(match[1])
		if strings.HasPrefix(body, ">") {
			continue
		}
		refs = append(refs, body)
	}
	return refs
}

// EmbeddedRef is one {{> name args }} reference found in a template.
type EmbeddedRef struct {
	Raw  string // Full match, for splicing
	Name string
	Args []string
}

// EmbeddedRefs returns every embedded workflow/fragment reference in
// the input, in order of appearance.
func EmbeddedRefs(input string) []EmbeddedRef {
	var refs []EmbeddedRef
	for _, match := range refPattern.FindAllStringSubmatch(input, -1) {
		body := strings.TrimSpace(match[1])
		if !strings.HasPrefix(body, ">") {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(body, ">"))
		if len(fields) == 0 {
			continue
		}
		refs = append(refs, EmbeddedRef{
			Raw:  match[0],
			Name: fields[0],
			Args: fields[1:],
		})
	}
	return refs
}
