package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// stderrTail is how much of stderr a ToolError keeps in its message.
const stderrTail = 500

// ToolError represents a failed tool invocation, including the stderr output.
// ExitCode is -1 when the process could not be started.
type ToolError struct {
	Tool     string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	if e.ExitCode < 0 {
		return fmt.Sprintf("%s failed to start: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Tool, e.ExitCode, tail(e.Stderr, stderrTail))
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// runner executes a command and returns its stdout.
// A failed command is reported as a *ToolError.
type runner func(ctx context.Context, name string, args ...string) (string, error)

// execRun runs the command with exec.CommandContext.
func execRun(ctx context.Context, name string, args ...string) (string, error) {
	// #nosec G204 - tool paths are set by the application, not user input
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%s cancelled: %w", name, ctx.Err())
		}
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return "", &ToolError{
			Tool:     name,
			Args:     args,
			ExitCode: code,
			Stderr:   stderr.String(),
			Err:      err,
		}
	}

	return stdout.String(), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
