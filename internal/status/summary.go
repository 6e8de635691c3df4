// Package status renders run state for the terminal. Everything here
// is computed from the persisted state document alone, so a viewer
// never needs the owning process.
package status

import (
	"time"

	"github.com/steerworks/steer/internal/types"
)

// RunSummary contains computed information about a run for display.
type RunSummary struct {
	RunID       string          `json:"run_id"`
	Workflow    string          `json:"workflow"`
	Status      types.RunStatus `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	PID         int             `json:"pid"`
	StepStats   StepStats       `json:"step_stats"`
	CurrentStep string          `json:"current_step,omitempty"`
	WaitingStep string          `json:"waiting_step,omitempty"`
	Errors      []string        `json:"errors,omitempty"`
	Steps       []StepLine      `json:"steps"`
}

// StepStats contains step count breakdown.
type StepStats struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	InProgress int `json:"in_progress"`
	Waiting    int `json:"waiting"`
	Pending    int `json:"pending"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// StepLine is one step row in the detailed view.
type StepLine struct {
	Name   string           `json:"name"`
	Status types.StepStatus `json:"status"`
	Error  string           `json:"error,omitempty"`
}

// NewRunSummary computes a summary from persisted run state.
func NewRunSummary(runID string, state *types.RunState) *RunSummary {
	summary := &RunSummary{
		RunID:     runID,
		Workflow:  state.WorkflowName,
		Status:    state.Status,
		StartedAt: state.StartTime,
		PID:       state.PID,
	}

	for _, step := range state.Steps {
		summary.StepStats.Total++
		switch step.Status {
		case types.StepStatusCompleted:
			summary.StepStats.Completed++
		case types.StepStatusInProgress:
			summary.StepStats.InProgress++
			if summary.CurrentStep == "" {
				summary.CurrentStep = step.Name
			}
		case types.StepStatusWaiting:
			summary.StepStats.Waiting++
			if summary.WaitingStep == "" {
				summary.WaitingStep = step.Name
			}
		case types.StepStatusPending:
			summary.StepStats.Pending++
		case types.StepStatusFailed:
			summary.StepStats.Failed++
			if step.Error != "" {
				summary.Errors = append(summary.Errors, step.Name+": "+step.Error)
			}
		case types.StepStatusSkipped:
			summary.StepStats.Skipped++
		}
		summary.Steps = append(summary.Steps, StepLine{
			Name:   step.Name,
			Status: step.Status,
			Error:  step.Error,
		})
	}

	return summary
}
