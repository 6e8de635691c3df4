package types

import (
	"fmt"
	"time"
)

// StepStatus represents the lifecycle state of a step within a run.
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusWaiting    StepStatus = "waiting_for_human"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
	StepStatusSkipped    StepStatus = "skipped" // Condition rendered false
)

// Valid returns true if this is a recognized step status.
func (s StepStatus) Valid() bool {
	switch s {
	case StepStatusPending, StepStatusInProgress, StepStatusWaiting,
		StepStatusCompleted, StepStatusFailed, StepStatusSkipped:
		return true
	}
	return false
}

// IsTerminal returns true if this status is final.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed || s == StepStatusSkipped
}

// CanTransitionTo returns true if transitioning from s to target is valid.
func (s StepStatus) CanTransitionTo(target StepStatus) bool {
	switch s {
	case StepStatusPending:
		return target == StepStatusInProgress || target == StepStatusSkipped
	case StepStatusInProgress:
		return target == StepStatusWaiting || target == StepStatusCompleted ||
			target == StepStatusFailed || target == StepStatusInProgress // Loop iterations re-enter
	case StepStatusWaiting:
		return target == StepStatusCompleted || target == StepStatusFailed
	}
	return false
}

// StepState is the runtime record for one step. Output is usually a
// field→value record; for-loop steps and list-join parallel groups
// produce an ordered list instead.
type StepState struct {
	Name        string               `yaml:"name"`
	Status      StepStatus           `yaml:"status"`
	Output      any                  `yaml:"output,omitempty"`
	OutputTypes map[string]FieldType `yaml:"output_types,omitempty"`
	Error       string               `yaml:"error,omitempty"`
}

// RunStatus represents the lifecycle state of a whole run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusWaiting   RunStatus = "waiting_for_human"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Valid returns true if this is a recognized run status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusRunning, RunStatusWaiting, RunStatusCompleted, RunStatusFailed:
		return true
	}
	return false
}

// IsTerminal returns true if this status is final.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// RunState is the persisted record of one workflow run. It is owned
// exclusively by the process executing the run and replaced atomically
// after every step transition, so an external viewer or a resumed
// process can reconstruct exact progress from the file alone.
type RunState struct {
	WorkflowName string         `yaml:"workflow_name"`
	Status       RunStatus      `yaml:"status"`
	CurrentStep  int            `yaml:"current_step_index"`
	Steps        []*StepState   `yaml:"steps"`
	Context      map[string]any `yaml:"context"`
	ArtifactsDir string         `yaml:"artifacts_dir"`
	StartTime    time.Time      `yaml:"start_time"`
	PID          int            `yaml:"pid"`
}

// NewRunState creates the initial state for a run. Step states for
// hidden and nested steps are included; parallel children use the
// qualified "group.child" name.
func NewRunState(wf *Workflow, artifactsDir string, pid int) *RunState {
	st := &RunState{
		WorkflowName: wf.Name,
		Status:       RunStatusRunning,
		CurrentStep:  0,
		Context:      make(map[string]any),
		ArtifactsDir: artifactsDir,
		StartTime:    time.Now().UTC(),
		PID:          pid,
	}
	for _, step := range wf.Steps {
		st.Steps = append(st.Steps, &StepState{Name: step.Name, Status: StepStatusPending})
		if step.Parallel != nil {
			for _, child := range step.Parallel.Steps {
				st.Steps = append(st.Steps, &StepState{
					Name:   step.Name + "." + child.Name,
					Status: StepStatusPending,
				})
			}
		}
	}
	return st
}

// StepState retrieves a step record by (possibly qualified) name.
func (r *RunState) StepState(name string) (*StepState, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// FailStep marks the named step failed with the given message and moves
// the run to its terminal failed state.
func (r *RunState) FailStep(name, msg string) error {
	st, ok := r.StepState(name)
	if !ok {
		return fmt.Errorf("step state not found: %s", name)
	}
	st.Status = StepStatusFailed
	st.Error = msg
	r.Status = RunStatusFailed
	return nil
}

// Complete marks the run completed.
func (r *RunState) Complete() {
	r.Status = RunStatusCompleted
}
