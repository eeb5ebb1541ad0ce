package webin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/typeloader/typeloader/internal/platform/apperr"
)

// Output is what a finished child process produced.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Combined returns stdout followed by the trimmed stderr.
func (o Output) Combined() string {
	return o.Stdout + strings.TrimSpace(o.Stderr)
}

// Runner starts a process and waits for it. Run returns an error only when
// the process could not be started or was stopped through ctx; a non-zero
// exit status is reported in Output.ExitCode.
type Runner interface {
	Run(ctx context.Context, argv []string) (Output, error)
}

// ExecRunner runs processes with os/exec.
type ExecRunner struct {
	// Env replaces the environment of the child when not nil.
	Env []string
	// WaitDelay bounds how long to wait for output pipes after the child is
	// killed.
	WaitDelay time.Duration
}

func (r ExecRunner) Run(ctx context.Context, argv []string) (Output, error) {
	if len(argv) == 0 {
		return Output{}, errors.New("webin: empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = r.Env
	cmd.WaitDelay = r.WaitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	return out, err
}

// TimeoutError reports that the tool exceeded its time bound and was killed.
type TimeoutError struct {
	Mode    Mode
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("could not reach ENA within the given timeout threshold (%s) while running %s", e.Timeout, e.Mode)
}

func (e *TimeoutError) Kind() apperr.Kind { return apperr.KindTimeout }

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// ToolInvocationError reports a tool run that produced nothing usable: it
// could not start, or it exited non-zero without any output.
type ToolInvocationError struct {
	Command  string // redacted
	ExitCode int
	Err      error
}

func (e *ToolInvocationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("submission tool failed: %v", e.Err)
	}
	return fmt.Sprintf("submission tool exited with status %d and no output", e.ExitCode)
}

func (e *ToolInvocationError) Unwrap() error { return e.Err }

func (e *ToolInvocationError) Kind() apperr.Kind { return apperr.KindToolInvocation }

// Invoke runs cmd through r bounded by timeout. A timeout yields a
// TimeoutError; cancellation of ctx is returned as is.
func Invoke(ctx context.Context, r Runner, cmd Command, timeout time.Duration) (Output, error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := r.Run(runCtx, cmd.Render())
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return out, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return out, &TimeoutError{Mode: cmd.Mode, Timeout: timeout}
	default:
		return out, &ToolInvocationError{Command: cmd.Redacted(), Err: err}
	}
	if out.ExitCode != 0 && strings.TrimSpace(out.Combined()) == "" {
		return out, &ToolInvocationError{Command: cmd.Redacted(), ExitCode: out.ExitCode}
	}
	return out, nil
}

// CheckJava runs "java -version" and fails when Java is not usable.
func CheckJava(ctx context.Context, r Runner, java string) error {
	if java == "" {
		java = "java"
	}
	out, err := r.Run(ctx, []string{java, "-version"})
	if err == nil && out.ExitCode != 0 {
		err = fmt.Errorf("exit status %d", out.ExitCode)
	}
	if err != nil {
		return &ToolInvocationError{
			Command:  java + " -version",
			ExitCode: out.ExitCode,
			Err:      fmt.Errorf("could not find Java on your system, please install Java: %w", err),
		}
	}
	return nil
}
