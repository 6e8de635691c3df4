package validation

import (
	"reflect"
	"strings"
	"testing"

	"github.com/steerworks/steer/internal/errors"
	"github.com/steerworks/steer/internal/types"
)

func TestParseCommandOutput(t *testing.T) {
	t.Run("json object", func(t *testing.T) {
		got := ParseCommandOutput(`{"ok": true, "count": 2}`)
		if got["ok"] != true {
			t.Errorf("expected ok=true, got %#v", got)
		}
	})

	t.Run("key=value lines", func(t *testing.T) {
		got := ParseCommandOutput("branch=main\nfiles_changed=3\n")
		want := map[string]any{"branch": "main", "files_changed": "3"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %#v, want %#v", got, want)
		}
	})

	t.Run("raw text falls back to implicit field", func(t *testing.T) {
		got := ParseCommandOutput("plain words, no structure\nsecond line")
		if got[RawField] != "plain words, no structure\nsecond line" {
			t.Errorf("got %#v", got)
		}
	})

	t.Run("broken json falls back", func(t *testing.T) {
		got := ParseCommandOutput(`{"ok": tru`)
		if _, found := got[RawField]; !found {
			t.Errorf("expected raw fallback, got %#v", got)
		}
	})
}

func TestParseModelResponse(t *testing.T) {
	t.Run("fenced json block", func(t *testing.T) {
		text := "Here is my answer:\n```json\n{\"verdict\": \"pass\"}\n```\nDone."
		got, err := ParseModelResponse(text)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got["verdict"] != "pass" {
			t.Errorf("got %#v", got)
		}
	})

	t.Run("fenced yaml block", func(t *testing.T) {
		text := "```yaml\nverdict: pass\nscore: 7\n```"
		got, err := ParseModelResponse(text)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got["verdict"] != "pass" || got["score"] != 7 {
			t.Errorf("got %#v", got)
		}
	})

	t.Run("no block keeps raw response", func(t *testing.T) {
		got, err := ParseModelResponse("just prose")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got[ResponseField] != "just prose" {
			t.Errorf("got %#v", got)
		}
	})

	t.Run("broken fenced block is an error", func(t *testing.T) {
		if _, err := ParseModelResponse("```json\n{broken\n```"); err == nil {
			t.Fatal("expected error for unparsable fenced block")
		}
	})
}

func TestValidateRecord(t *testing.T) {
	spec := &types.OutputSpec{
		Schema: map[string]types.FieldType{
			"approved": types.FieldBoolean,
			"count":    types.FieldNumber,
			"summary":  types.FieldShortText,
			"notes":    types.FieldLongText,
		},
		Optional: []string{"notes"},
	}

	t.Run("valid record", func(t *testing.T) {
		rec := map[string]any{"approved": true, "count": 2, "summary": "ok"}
		if err := ValidateRecord("review", spec, rec); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("string coercion accepted for bool and number", func(t *testing.T) {
		rec := map[string]any{"approved": "true", "count": "17", "summary": "ok"}
		if err := ValidateRecord("review", spec, rec); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("missing required field names the field", func(t *testing.T) {
		rec := map[string]any{"approved": true, "summary": "ok"}
		err := ValidateRecord("review", spec, rec)
		if err == nil {
			t.Fatal("expected error")
		}
		if !errors.HasCode(err, errors.CodeStepSchemaInvalid) {
			t.Errorf("expected schema error code, got %v", err)
		}
		if !strings.Contains(err.Error(), "count") {
			t.Errorf("error should name the field: %v", err)
		}
	})

	t.Run("wrong type names the field", func(t *testing.T) {
		rec := map[string]any{"approved": 42, "count": 1, "summary": "ok"}
		err := ValidateRecord("review", spec, rec)
		if err == nil || !strings.Contains(err.Error(), "approved") {
			t.Errorf("expected error naming approved, got %v", err)
		}
	})

	t.Run("missing optional field is fine", func(t *testing.T) {
		rec := map[string]any{"approved": false, "count": 0, "summary": ""}
		if err := ValidateRecord("review", spec, rec); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("nil spec validates anything", func(t *testing.T) {
		if err := ValidateRecord("free", nil, map[string]any{"whatever": 1}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestCoerceRecord(t *testing.T) {
	spec := &types.OutputSpec{
		Schema: map[string]types.FieldType{
			"approved": types.FieldBoolean,
			"count":    types.FieldNumber,
		},
	}
	rec := CoerceRecord(spec, map[string]any{"approved": "true", "count": "3"})
	if rec["approved"] != true {
		t.Errorf("approved not coerced: %#v", rec["approved"])
	}
	if rec["count"] != 3.0 {
		t.Errorf("count not coerced: %#v", rec["count"])
	}
}
