package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/kon-agent/kon/internal/llm"
)

// ShellTool implements the shell tool.
type ShellTool struct {
	deny           *denyMatcher
	limits         OutputLimits
	defaultTimeout time.Duration
}

func NewShellTool(cfg Config, limits OutputLimits) *ShellTool {
	timeout := time.Duration(cfg.ShellTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &ShellTool{
		deny:           newDenyMatcher(cfg.ShellDeny),
		limits:         limits,
		defaultTimeout: timeout,
	}
}

// ShellArgs are the arguments for the shell tool.
type ShellArgs struct {
	Command        string `json:"command"`
	WorkingDir     string `json:"working_dir,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

func (t *ShellTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        ShellToolName,
		Description: "Execute a shell command. Returns stdout, stderr, and exit code.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"command": map[string]interface{}{
					"type":        "string",
					"description": "Shell command to execute",
				},
				"working_dir": map[string]interface{}{
					"type":        "string",
					"description": "Working directory (defaults to current directory)",
				},
				"timeout_seconds": map[string]interface{}{
					"type":        "integer",
					"description": "Command timeout in seconds (default: 120, max: 600)",
				},
			},
			"required":             []string{"command"},
			"additionalProperties": false,
		},
	}
}

func (t *ShellTool) Preview(args json.RawMessage) string {
	var a ShellArgs
	if err := json.Unmarshal(args, &a); err != nil || a.Command == "" {
		return ""
	}
	return truncateCommand(a.Command)
}

func (t *ShellTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a ShellArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", NewToolError(ErrInvalidParams, err.Error())
	}
	if a.Command == "" {
		return "", NewToolError(ErrInvalidParams, "command is required")
	}

	if pattern := t.deny.Match(a.Command); pattern != "" {
		return "", NewToolErrorf(ErrCommandDenied, "command matches deny pattern %q: %s", pattern, truncateCommand(a.Command))
	}

	timeout := t.defaultTimeout
	if a.TimeoutSeconds > 0 {
		timeout = time.Duration(a.TimeoutSeconds) * time.Second
	}
	if timeout > 10*time.Minute {
		timeout = 10 * time.Minute
	}

	workDir := a.WorkingDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", NewToolErrorf(ErrExecutionFailed, "cannot get working directory: %v", err)
		}
		workDir = wd
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, detectShell(), "-c", a.Command)
	cmd.Dir = workDir

	// Output arriving counts as progress for the dispatcher's idle
	// watchdog: a long build that keeps printing is alive, a hung command
	// is not.
	ping := llm.ProgressFromContext(ctx)
	stdout := &progressWriter{ping: ping}
	stderr := &progressWriter{ping: ping}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()

	exitCode := 0
	timedOut := execCtx.Err() == context.DeadlineExceeded
	if err != nil && !timedOut {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return "", NewToolErrorf(ErrExecutionFailed, "command error: %v", err)
		}
	}

	output := t.formatResult(stdout.String(), stderr.String(), exitCode, timedOut)
	if timedOut {
		return "", NewToolErrorf(ErrTimeout, "command timed out after %s\n%s", timeout, output)
	}
	return output, nil
}

func (t *ShellTool) formatResult(stdout, stderr string, exitCode int, timedOut bool) string {
	truncated := false
	if int64(len(stdout)) > t.limits.MaxBytes {
		stdout = stdout[:t.limits.MaxBytes]
		truncated = true
	}
	if int64(len(stderr)) > t.limits.MaxBytes {
		stderr = stderr[:t.limits.MaxBytes]
		truncated = true
	}

	var sb strings.Builder
	if stdout != "" {
		sb.WriteString("stdout:\n")
		sb.WriteString(stdout)
		if !strings.HasSuffix(stdout, "\n") {
			sb.WriteString("\n")
		}
	}
	if stderr != "" {
		if stdout != "" {
			sb.WriteString("\n")
		}
		sb.WriteString("stderr:\n")
		sb.WriteString(stderr)
		if !strings.HasSuffix(stderr, "\n") {
			sb.WriteString("\n")
		}
	}
	if !timedOut {
		fmt.Fprintf(&sb, "\nexit_code: %d", exitCode)
	}
	if truncated {
		sb.WriteString("\n\n[Output truncated due to size limit]")
	}
	return sb.String()
}

// progressWriter buffers command output and signals the idle watchdog on
// every write.
type progressWriter struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	ping func()
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	n, err := w.buf.Write(p)
	w.mu.Unlock()
	w.ping()
	return n, err
}

func (w *progressWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

// detectShell returns the user's shell, defaulting to bash.
func detectShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "bash"
}

// truncateCommand truncates a command for previews and error messages.
func truncateCommand(cmd string) string {
	if len(cmd) > 50 {
		return cmd[:47] + "..."
	}
	return cmd
}
