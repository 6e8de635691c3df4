// Package validation parses raw step results into structured records
// and checks them against declared output schemas. It also hosts the
// static whole-workflow dataflow check (usage.go).
package validation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/steerworks/steer/internal/errors"
	"github.com/steerworks/steer/internal/types"
)

// RawField is the implicit field name used when a step's output cannot
// be parsed as JSON or key=value pairs.
const RawField = "output"

// ResponseField is the implicit field name for a model response with no
// recognizable structured block.
const ResponseField = "response"

// ParseCommandOutput turns a subprocess's stdout into a structured
// record. Order of preference: JSON object, key=value line pairs, raw
// text under the implicit field.
func ParseCommandOutput(raw string) map[string]any {
	trimmed := strings.TrimSpace(raw)

	if strings.HasPrefix(trimmed, "{") {
		var rec map[string]any
		if err := json.Unmarshal([]byte(trimmed), &rec); err == nil {
			return rec
		}
	}

	if rec, ok := parseKeyValueLines(trimmed); ok {
		return rec
	}

	return map[string]any{RawField: trimmed}
}

// parseKeyValueLines parses "key=value" line pairs. Every non-empty
// line must match, otherwise the format is rejected.
func parseKeyValueLines(raw string) (map[string]any, bool) {
	if raw == "" {
		return nil, false
	}
	rec := make(map[string]any)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" || strings.ContainsAny(key, " \t") {
			return nil, false
		}
		rec[key] = strings.TrimSpace(value)
	}
	if len(rec) == 0 {
		return nil, false
	}
	return rec, true
}

var fencedBlock = regexp.MustCompile("(?s)```(json|yaml)\\s*\\n(.*?)```")

// ParseModelResponse extracts a structured record from a model
// response: the first fenced JSON or YAML block wins; otherwise the
// whole response is returned under the implicit response field. A
// fenced block that fails to parse is an error, since the model
// signalled structure it did not deliver.
func ParseModelResponse(text string) (map[string]any, error) {
	match := fencedBlock.FindStringSubmatch(text)
	if match == nil {
		return map[string]any{ResponseField: strings.TrimSpace(text)}, nil
	}

	body := match[2]
	var rec map[string]any
	switch match[1] {
	case "json":
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			return nil, fmt.Errorf("fenced json block: %w", err)
		}
	case "yaml":
		if err := yaml.Unmarshal([]byte(body), &rec); err != nil {
			return nil, fmt.Errorf("fenced yaml block: %w", err)
		}
	}
	return rec, nil
}

// ValidateRecord checks a parsed record against the step's declared
// schema. A missing required field or a wrong field type fails the
// step, naming the offending field.
func ValidateRecord(step string, spec *types.OutputSpec, rec map[string]any) error {
	if spec == nil {
		return nil
	}
	for field, ft := range spec.Schema {
		value, ok := rec[field]
		if !ok || value == nil {
			if spec.IsRequired(field) {
				return errors.StepSchemaInvalid(step, field, "missing required field")
			}
			continue
		}
		if err := checkFieldType(value, ft); err != nil {
			return errors.StepSchemaInvalid(step, field, err.Error())
		}
	}
	return nil
}

// checkFieldType validates a value against its declared type tag.
// String-typed values are coerced where unambiguous, since subprocess
// key=value output is always textual.
func checkFieldType(value any, ft types.FieldType) error {
	switch ft {
	case types.FieldBoolean:
		switch v := value.(type) {
		case bool:
			return nil
		case string:
			switch strings.ToLower(v) {
			case "true", "false":
				return nil
			}
		}
		return fmt.Errorf("expected boolean, got %T", value)

	case types.FieldNumber:
		switch v := value.(type) {
		case int, int64, float64:
			return nil
		case string:
			if _, err := json.Number(strings.TrimSpace(v)).Float64(); err == nil && strings.TrimSpace(v) != "" {
				return nil
			}
		}
		return fmt.Errorf("expected number, got %T", value)

	case types.FieldShortText, types.FieldLongText, types.FieldPath:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected %s, got %T", ft, value)
		}
		return nil

	default:
		return fmt.Errorf("unknown field type %q", ft)
	}
}

// CoerceRecord converts string field values to their declared types so
// downstream conditions can compare them natively. Call after
// ValidateRecord; unparsable values pass through unchanged.
func CoerceRecord(spec *types.OutputSpec, rec map[string]any) map[string]any {
	if spec == nil {
		return rec
	}
	for field, ft := range spec.Schema {
		s, ok := rec[field].(string)
		if !ok {
			continue
		}
		switch ft {
		case types.FieldBoolean:
			switch strings.ToLower(s) {
			case "true":
				rec[field] = true
			case "false":
				rec[field] = false
			}
		case types.FieldNumber:
			if f, err := json.Number(strings.TrimSpace(s)).Float64(); err == nil {
				rec[field] = f
			}
		}
	}
	return rec
}
