package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/fyrsmithlabs/orchd/internal/agent"
	"github.com/fyrsmithlabs/orchd/internal/executor"
	"github.com/fyrsmithlabs/orchd/internal/task"
)

// tempFailExit is the sysexits EX_TEMPFAIL code. A runner command exiting
// with it signals a transient failure worth retrying.
const tempFailExit = 75

// runnerRequest is the JSON payload written to the runner command's stdin.
type runnerRequest struct {
	TaskID      string `json:"task_id"`
	WorkspaceID string `json:"workspace_id"`
	GoalID      string `json:"goal_id,omitempty"`
	Name        string `json:"name"`
	Capability  string `json:"capability"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	AgentID     string `json:"agent_id"`
	AgentRole   string `json:"agent_role"`
}

// commandRunner executes tasks by invoking an external command per attempt.
// The task and agent are passed as JSON on stdin; stdout is the task output.
type commandRunner struct {
	command string
}

func newCommandRunner(command string) *commandRunner {
	return &commandRunner{command: command}
}

// Run implements executor.Runner.
func (r *commandRunner) Run(ctx context.Context, t *task.Task, a *agent.Agent) (string, error) {
	payload, err := json.Marshal(runnerRequest{
		TaskID:      t.ID,
		WorkspaceID: t.WorkspaceID,
		GoalID:      t.GoalID,
		Name:        t.Name,
		Capability:  t.Capability,
		Attempt:     t.AttemptCount,
		MaxAttempts: t.MaxAttempts,
		AgentID:     a.ID,
		AgentRole:   a.Role,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode runner request: %w", err)
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", r.command)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", executor.ErrTimeout
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == tempFailExit {
			return "", fmt.Errorf("%w: %s", executor.ErrAgentUnavailable, firstLine(stderr.String()))
		}
		return "", fmt.Errorf("runner command failed: %w (stderr: %s)", err, firstLine(stderr.String()))
	}

	return stdout.String(), nil
}

// firstLine truncates command stderr for error messages.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return "no stderr output"
	}
	return s
}
