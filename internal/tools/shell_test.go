package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func newTestShell(deny ...string) *ShellTool {
	cfg := DefaultConfig()
	if len(deny) > 0 {
		cfg.ShellDeny = deny
	}
	return NewShellTool(cfg, DefaultOutputLimits())
}

func TestShellEchoSuccess(t *testing.T) {
	tool := newTestShell()
	out, err := tool.Execute(context.Background(), mustArgs(t, ShellArgs{Command: "echo hello"}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "hello") {
		t.Errorf("output missing stdout: %q", out)
	}
	if !strings.Contains(out, "exit_code: 0") {
		t.Errorf("output missing exit code: %q", out)
	}
}

func TestShellNonzeroExitCode(t *testing.T) {
	tool := newTestShell()
	out, err := tool.Execute(context.Background(), mustArgs(t, ShellArgs{Command: "exit 3"}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "exit_code: 3") {
		t.Errorf("output = %q, want exit_code: 3", out)
	}
}

func TestShellStderrCaptured(t *testing.T) {
	tool := newTestShell()
	out, err := tool.Execute(context.Background(), mustArgs(t, ShellArgs{Command: "echo oops >&2"}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "stderr:") || !strings.Contains(out, "oops") {
		t.Errorf("output missing stderr: %q", out)
	}
}

func TestShellDenyPattern(t *testing.T) {
	tool := newTestShell("rm -rf /*")
	_, err := tool.Execute(context.Background(), mustArgs(t, ShellArgs{Command: "rm -rf /tmp/everything"}))
	var toolErr *ToolError
	if !errors.As(err, &toolErr) || toolErr.Type != ErrCommandDenied {
		t.Fatalf("err = %v, want COMMAND_DENIED", err)
	}
}

func TestShellTimeout(t *testing.T) {
	tool := newTestShell()
	_, err := tool.Execute(context.Background(), mustArgs(t, ShellArgs{
		Command:        "sleep 5",
		TimeoutSeconds: 1,
	}))
	var toolErr *ToolError
	if !errors.As(err, &toolErr) || toolErr.Type != ErrTimeout {
		t.Fatalf("err = %v, want TIMEOUT", err)
	}
}

func TestShellEmptyCommand(t *testing.T) {
	tool := newTestShell()
	_, err := tool.Execute(context.Background(), mustArgs(t, ShellArgs{}))
	var toolErr *ToolError
	if !errors.As(err, &toolErr) || toolErr.Type != ErrInvalidParams {
		t.Fatalf("err = %v, want INVALID_PARAMS", err)
	}
}

func TestShellPreviewTruncatesLongCommands(t *testing.T) {
	tool := newTestShell()
	long := strings.Repeat("a", 80)
	preview := tool.Preview(mustArgs(t, ShellArgs{Command: long}))
	if len(preview) != 50 || !strings.HasSuffix(preview, "...") {
		t.Errorf("preview = %q (len %d), want 50 chars ending in ...", preview, len(preview))
	}
}
