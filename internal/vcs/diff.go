// Package vcs captures worktree changes for run artifacts.
package vcs

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// CaptureDiff returns the uncommitted diff for dir, or "" when the
// directory is not a git worktree or has no changes. Diff capture is
// best effort: artifact quality never fails a step.
func CaptureDiff(ctx context.Context, dir string) string {
	cmd := exec.CommandContext(ctx, "git", "diff", "HEAD")
	cmd.Dir = dir

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return ""
	}
	return strings.TrimSpace(stdout.String())
}
