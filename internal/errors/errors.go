// Package errors provides structured error types for steer.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error codes for steer operations.
const (
	// Definition errors - surfaced before any step runs
	CodeDefParseError      = "DEF_001" // Malformed workflow document
	CodeDefDuplicateStep   = "DEF_002" // Duplicate step name
	CodeDefBodyKind        = "DEF_003" // Not exactly one body kind
	CodeDefUnusedOutput    = "DEF_004" // Declared output never referenced
	CodeDefMissingInput    = "DEF_005" // Missing required workflow/template input
	CodeDefInvalidLoop     = "DEF_006" // Conflicting or invalid loop controls
	CodeDefUnknownTemplate = "DEF_007" // Embedded workflow or fragment not found

	// Step-body errors - fatal to the run
	CodeStepCommandFailed = "STEP_001" // Non-zero subprocess exit
	CodeStepBadResponse   = "STEP_002" // Unparsable model response
	CodeStepSchemaInvalid = "STEP_003" // Output schema validation failed
	CodeStepScriptFailed  = "STEP_004" // Script runtime error
	CodeStepInvokeFailed  = "STEP_005" // Model invocation error
	CodeStepWhileCap      = "STEP_006" // While loop exceeded iteration cap

	// Pool errors
	CodePoolRegistry = "POOL_001" // Claim registry read/write error

	// IO errors
	CodeIOReadError  = "IO_001" // Read error
	CodeIOWriteError = "IO_002" // Write error
)

// SteerError is the structured error type for steer operations.
type SteerError struct {
	Code    string         `json:"code"`              // Error code (e.g., "DEF_001")
	Message string         `json:"message"`           // Human-readable message
	Details map[string]any `json:"details,omitempty"` // Context (step, field, etc.)
	Cause   error          `json:"-"`                 // Wrapped error (not serialized)
}

// Error implements the error interface.
func (e *SteerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *SteerError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error.
func (e *SteerError) WithDetail(key string, value any) *SteerError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause wraps an underlying error.
func (e *SteerError) WithCause(err error) *SteerError {
	e.Cause = err
	return e
}

// MarshalJSON implements json.Marshaler with cause error message.
func (e *SteerError) MarshalJSON() ([]byte, error) {
	type alias SteerError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// New creates a new SteerError.
func New(code, message string) *SteerError {
	return &SteerError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new SteerError with formatted message.
func Newf(code, format string, args ...any) *SteerError {
	return &SteerError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with a SteerError.
func Wrap(code, message string, err error) *SteerError {
	return &SteerError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with a formatted SteerError.
func Wrapf(code string, err error, format string, args ...any) *SteerError {
	return &SteerError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// --- Definition Errors ---

// DefParseError creates an error for a malformed workflow document.
func DefParseError(name string, err error) *SteerError {
	return Wrap(CodeDefParseError, "failed to parse workflow", err).
		WithDetail("workflow", name)
}

// DefDuplicateStep creates an error for duplicate step names.
func DefDuplicateStep(name string) *SteerError {
	return Newf(CodeDefDuplicateStep, "duplicate step name: %s", name).
		WithDetail("step", name)
}

// DefBodyKind creates an error for a step without exactly one body kind.
func DefBodyKind(step string, count int) *SteerError {
	return Newf(CodeDefBodyKind, "step %s must have exactly one of bash, script, prompt, parallel (found %d)", step, count).
		WithDetail("step", step)
}

// DefUnusedOutput creates an error for an output field never referenced downstream.
func DefUnusedOutput(step, field string) *SteerError {
	return Newf(CodeDefUnusedOutput, "step %s declares output %q but nothing downstream references it", step, field).
		WithDetail("step", step).
		WithDetail("field", field)
}

// DefMissingInput creates an error for a missing required input.
func DefMissingInput(scope, input string) *SteerError {
	return Newf(CodeDefMissingInput, "%s: missing required input %q", scope, input).
		WithDetail("scope", scope).
		WithDetail("input", input)
}

// DefInvalidLoop creates an error for conflicting loop controls.
func DefInvalidLoop(step, reason string) *SteerError {
	return Newf(CodeDefInvalidLoop, "step %s: %s", step, reason).
		WithDetail("step", step)
}

// DefUnknownTemplate creates an error for an unresolvable embedded reference.
func DefUnknownTemplate(name string) *SteerError {
	return Newf(CodeDefUnknownTemplate, "embedded workflow or fragment not found: %s", name).
		WithDetail("name", name)
}

// --- Step Errors ---

// StepCommandFailed creates an error for a failing subprocess.
func StepCommandFailed(step string, exitCode int, stderr string) *SteerError {
	msg := stderr
	if msg == "" {
		msg = fmt.Sprintf("exit code %d", exitCode)
	}
	return New(CodeStepCommandFailed, msg).
		WithDetail("step", step).
		WithDetail("exit_code", exitCode)
}

// StepBadResponse creates an error for an unparsable model response.
func StepBadResponse(step string, err error) *SteerError {
	return Wrap(CodeStepBadResponse, "unparsable model response", err).
		WithDetail("step", step)
}

// StepSchemaInvalid creates an error for a schema validation failure.
func StepSchemaInvalid(step, field, reason string) *SteerError {
	return Newf(CodeStepSchemaInvalid, "step %s output field %q: %s", step, field, reason).
		WithDetail("step", step).
		WithDetail("field", field)
}

// StepScriptFailed creates an error for a script runtime failure.
func StepScriptFailed(step string, err error) *SteerError {
	return Wrap(CodeStepScriptFailed, "script execution failed", err).
		WithDetail("step", step)
}

// StepInvokeFailed creates an error for a failed model invocation.
func StepInvokeFailed(step string, err error) *SteerError {
	return Wrap(CodeStepInvokeFailed, "model invocation failed", err).
		WithDetail("step", step)
}

// StepWhileCap creates an error for a while loop hitting its iteration cap.
func StepWhileCap(step string, limit int) *SteerError {
	return Newf(CodeStepWhileCap, "step %s: while loop exceeded %d iterations", step, limit).
		WithDetail("step", step).
		WithDetail("cap", limit)
}

// HasCode checks if an error is a SteerError with the given code.
// It handles wrapped errors by unwrapping to find a SteerError.
func HasCode(err error, code string) bool {
	var serr *SteerError
	if errors.As(err, &serr) {
		return serr.Code == code
	}
	return false
}

// Code returns the error code if err is a SteerError, empty string otherwise.
func Code(err error) string {
	var serr *SteerError
	if errors.As(err, &serr) {
		return serr.Code
	}
	return ""
}
