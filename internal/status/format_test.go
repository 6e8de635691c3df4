package status

import (
	"strings"
	"testing"
	"time"

	"github.com/steerworks/steer/internal/types"
)

func TestFormatRun(t *testing.T) {
	summary := NewRunSummary("run-1", sampleState())
	out := FormatRun(summary, FormatOptions{NoColor: true})

	for _, want := range []string{
		"Run: run-1",
		"Workflow: implement",
		"Progress:",
		"build.cli: exit 2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	// Parallel children lose their group prefix and indent instead.
	if !strings.Contains(out, "    ") || strings.Contains(out, "build.api") {
		t.Errorf("child steps should render indented without the group prefix:\n%s", out)
	}
}

func TestFormatRunWaitingHint(t *testing.T) {
	state := sampleState()
	state.Status = types.RunStatusWaiting
	state.Steps[2].Status = types.StepStatusWaiting

	out := FormatRun(NewRunSummary("run-9", state), FormatOptions{NoColor: true})
	if !strings.Contains(out, "steer resume run-9") {
		t.Errorf("waiting run should hint at resume:\n%s", out)
	}
}

func TestFormatRunList(t *testing.T) {
	old := NewRunSummary("run-old", sampleState())
	old.StartedAt = time.Now().Add(-time.Hour)
	fresh := NewRunSummary("run-new", sampleState())

	out := FormatRunList([]*RunSummary{old, fresh}, FormatOptions{NoColor: true})
	if !strings.Contains(out, "Found 2 run(s)") {
		t.Errorf("output = %q", out)
	}
	if strings.Index(out, "run-new") > strings.Index(out, "run-old") {
		t.Errorf("newest run should list first:\n%s", out)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{90 * time.Second, "1m30s"},
		{2*time.Hour + 5*time.Minute, "2h5m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
