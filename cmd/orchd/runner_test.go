package main

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/orchd/internal/agent"
	"github.com/fyrsmithlabs/orchd/internal/executor"
	"github.com/fyrsmithlabs/orchd/internal/task"
)

func testTask() *task.Task {
	return &task.Task{
		ID:          "task-1",
		WorkspaceID: "ws-1",
		Name:        "Collect findings: survey",
		Capability:  "research",
		MaxAttempts: 3,
	}
}

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("command runner tests require /bin/sh")
	}
}

func TestCommandRunnerReturnsStdout(t *testing.T) {
	requireUnix(t)

	r := newCommandRunner("cat >/dev/null; echo task output")
	out, err := r.Run(context.Background(), testTask(), agent.New("ws-1", "research"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.TrimSpace(out) != "task output" {
		t.Errorf("Run() output = %q, want %q", out, "task output")
	}
}

func TestCommandRunnerReceivesTaskJSON(t *testing.T) {
	requireUnix(t)

	// The command echoes its stdin back, so the output is the request payload.
	r := newCommandRunner("cat")
	out, err := r.Run(context.Background(), testTask(), agent.New("ws-1", "research"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, want := range []string{`"task_id":"task-1"`, `"capability":"research"`, `"agent_role":"research"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Run() payload missing %s: %s", want, out)
		}
	}
}

func TestCommandRunnerTempFailIsTransient(t *testing.T) {
	requireUnix(t)

	r := newCommandRunner("echo agent overloaded >&2; exit 75")
	_, err := r.Run(context.Background(), testTask(), agent.New("ws-1", "research"))
	if !errors.Is(err, executor.ErrAgentUnavailable) {
		t.Fatalf("Run() error = %v, want ErrAgentUnavailable", err)
	}
	if !executor.IsTransient(err) {
		t.Error("EX_TEMPFAIL exit should classify as transient")
	}
}

func TestCommandRunnerFailureIsPermanent(t *testing.T) {
	requireUnix(t)

	r := newCommandRunner("echo bad input >&2; exit 1")
	_, err := r.Run(context.Background(), testTask(), agent.New("ws-1", "research"))
	if err == nil {
		t.Fatal("Run() expected error")
	}
	if executor.IsTransient(err) {
		t.Error("plain nonzero exit should not classify as transient")
	}
	if !strings.Contains(err.Error(), "bad input") {
		t.Errorf("Run() error should carry stderr, got %v", err)
	}
}

func TestCommandRunnerTimeout(t *testing.T) {
	requireUnix(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	r := newCommandRunner("sleep 5")
	_, err := r.Run(ctx, testTask(), agent.New("ws-1", "research"))
	if !errors.Is(err, executor.ErrTimeout) {
		t.Fatalf("Run() error = %v, want ErrTimeout", err)
	}
}
