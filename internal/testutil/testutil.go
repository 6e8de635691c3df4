// Package testutil holds shared test fakes.
package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/steerworks/steer/internal/model"
)

// DiscardLogger returns a logger that discards all output.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelError + 100,
	}))
}

// ScriptedInvoker returns canned model responses in order and records
// the prompts it received.
type ScriptedInvoker struct {
	mu        sync.Mutex
	Responses []string
	Errs      []error // Optional, parallel to Responses
	Prompts   []string
	calls     int
}

// Invoke returns the next scripted response.
func (s *ScriptedInvoker) Invoke(ctx context.Context, prompt string, opts model.Options) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Prompts = append(s.Prompts, prompt)
	if s.calls >= len(s.Responses) {
		return "", fmt.Errorf("no scripted response for call %d", s.calls+1)
	}
	i := s.calls
	s.calls++
	if i < len(s.Errs) && s.Errs[i] != nil {
		return "", s.Errs[i]
	}
	return s.Responses[i], nil
}

// Calls returns how many times Invoke was called.
func (s *ScriptedInvoker) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var _ model.Invoker = (*ScriptedInvoker)(nil)
