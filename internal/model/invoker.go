// Package model abstracts the coding-agent invocation behind an
// Invoker interface so the engine can run against a real CLI agent in
// production and a scripted fake in tests.
package model

import "context"

// Options carries per-invocation settings.
type Options struct {
	Model   string // Model identifier passed to the agent CLI
	WorkDir string // Working directory for the invocation
}

// Invoker sends a rendered prompt to an agent and returns its full
// response text.
type Invoker interface {
	Invoke(ctx context.Context, prompt string, opts Options) (string, error)
}
