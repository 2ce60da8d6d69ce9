// Package command wraps invocation of external tools (adb, bazel, unzip,
// power scripts) behind a narrow interface, so callers depend only on exit
// status and captured output rather than on os/exec details.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// Result carries what an external tool reported.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner executes external tools. Run captures output; Stream forwards it
// live to out instead, for long builds and benchmark invocations.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
	Stream(ctx context.Context, out io.Writer, name string, args ...string) error
}

// ExitError reports a command that started but exited non-zero.
type ExitError struct {
	Cmd    string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s exited with status %d: %s", e.Cmd, e.Code, e.Stderr)
	}
	return fmt.Sprintf("%s exited with status %d", e.Cmd, e.Code)
}

// ExitCode extracts the exit status carried by err, or -1 when err does not
// wrap an ExitError.
func ExitCode(err error) int {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return -1
}

// ExecRunner runs commands through os/exec.
type ExecRunner struct {
	logger *zap.Logger
}

// NewExecRunner creates a runner logging invocations at debug level.
func NewExecRunner(logger *zap.Logger) *ExecRunner {
	return &ExecRunner{logger: logger.Named("command")}
}

// Run executes the command and captures both output streams. A non-zero exit
// returns the populated Result together with an *ExitError so callers can
// branch on the status code.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("Executing command",
		zap.String("command", name),
		zap.Strings("args", args))

	err := cmd.Run()
	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			result.ExitCode = ee.ExitCode()
			return result, &ExitError{
				Cmd:    name,
				Code:   result.ExitCode,
				Stderr: strings.TrimSpace(result.Stderr),
			}
		}
		return result, fmt.Errorf("failed to run %s: %w", name, err)
	}

	return result, nil
}

// Stream executes the command with both output streams forwarded to out.
func (r *ExecRunner) Stream(ctx context.Context, out io.Writer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = out
	cmd.Stderr = out

	r.logger.Debug("Executing command with live output",
		zap.String("command", name),
		zap.Strings("args", args))

	err := cmd.Run()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return &ExitError{Cmd: name, Code: ee.ExitCode()}
		}
		return fmt.Errorf("failed to run %s: %w", name, err)
	}
	return nil
}
