// Package vcs captures a best-effort snapshot of the workspace's git state.
// Snapshots annotate trace records; they are advisory and never block the
// update path for long.
package vcs

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// Snapshot describes the repository state at a point in time. Zero values
// mean the information was unavailable.
type Snapshot struct {
	Branch string `json:"branch,omitempty"`
	Commit string `json:"commit,omitempty"`
	Dirty  bool   `json:"dirty,omitempty"`
}

// Capture inspects the git repository at dir within the given time budget.
// A missing repository, a missing git binary or an expired budget all yield
// an empty snapshot; callers never see an error.
func Capture(ctx context.Context, dir string, budget time.Duration) Snapshot {
	if dir == "" {
		return Snapshot{}
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	var snap Snapshot
	if out, err := gitOutput(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD"); err == nil {
		snap.Branch = out
	} else {
		return Snapshot{}
	}
	if out, err := gitOutput(ctx, dir, "rev-parse", "--short", "HEAD"); err == nil {
		snap.Commit = out
	}
	if out, err := gitOutput(ctx, dir, "status", "--porcelain"); err == nil {
		snap.Dirty = out != ""
	}
	return snap
}

func gitOutput(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
