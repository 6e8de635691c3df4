package model

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// CLIInvoker drives an agent CLI as a subprocess: the prompt goes to
// stdin, the response comes back on stdout. The command and base args
// come from config (e.g. command "claude", args ["-p"]).
type CLIInvoker struct {
	Command string
	Args    []string
}

// NewCLIInvoker creates an invoker for the given agent command.
func NewCLIInvoker(command string, args ...string) *CLIInvoker {
	return &CLIInvoker{Command: command, Args: args}
}

// Invoke runs the agent subprocess and returns its stdout.
func (i *CLIInvoker) Invoke(ctx context.Context, prompt string, opts Options) (string, error) {
	args := append([]string{}, i.Args...)
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}

	cmd := exec.CommandContext(ctx, i.Command, args...)
	if opts.WorkDir != "" {
		cmd.Dir = opts.WorkDir
	}
	cmd.Env = os.Environ()
	cmd.Stdin = strings.NewReader(prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		stderrStr := strings.TrimSpace(stderr.String())
		if stderrStr != "" {
			return "", fmt.Errorf("agent command failed: %s: %w", stderrStr, err)
		}
		return "", fmt.Errorf("agent command failed: %w", err)
	}

	return stdout.String(), nil
}

var _ Invoker = (*CLIInvoker)(nil)
