// Package process runs toolchain commands as child processes with a wall-clock
// bound, captured output and whole-tree termination.
package process

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Failure classifies why a process did not succeed.
type Failure string

const (
	FailureNone     Failure = ""
	FailureExit     Failure = "exit"
	FailureTimeout  Failure = "timeout"
	FailureSpawn    Failure = "spawn"
	FailureCanceled Failure = "canceled"
)

const (
	DefaultMaxOutputBytes = 1 << 20
	DefaultKillGrace      = 2 * time.Second
)

// Command is an argv ready for execution. Name is resolved through PATH.
type Command struct {
	Name string
	Args []string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Outcome is the result of one child process run. It is produced for every
// run, including runs that could not be started.
type Outcome struct {
	ExitSucceeded bool
	ExitCode      int
	Stdout        string
	Stderr        string
	Failure       Failure
	Duration      time.Duration
	Truncated     bool
}

// Runner executes commands. The zero value is usable.
type Runner struct {
	// MaxOutputBytes bounds the retained head of each stream.
	MaxOutputBytes int
	// KillGrace bounds how long Wait blocks on pipes held open by
	// descendants after the direct child exits.
	KillGrace time.Duration
	// Env is appended to the allowlisted part of the server environment.
	Env []string
}

// Run executes cmd in dir. A timeout of zero means no wall-clock bound other
// than ctx. Stdin is always empty.
func (r *Runner) Run(ctx context.Context, cmd Command, dir string, timeout time.Duration) Outcome {
	maxOut := r.MaxOutputBytes
	if maxOut <= 0 {
		maxOut = DefaultMaxOutputBytes
	}
	grace := r.KillGrace
	if grace <= 0 {
		grace = DefaultKillGrace
	}

	stdout := newCapture(maxOut)
	stderr := newCapture(maxOut)

	c := exec.Command(cmd.Name, cmd.Args...) // #nosec G204 -- argv comes from configured toolchain templates
	c.Dir = dir
	c.Stdout = stdout
	c.Stderr = stderr
	c.WaitDelay = grace
	c.Env = processEnv(r.Env)
	setProcessGroup(c)

	start := time.Now()
	if err := c.Start(); err != nil {
		return Outcome{
			ExitCode: -1,
			Stderr:   err.Error(),
			Failure:  FailureSpawn,
			Duration: time.Since(start),
		}
	}

	done := make(chan error, 1)
	go func() { done <- c.Wait() }()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	var (
		waitErr error
		failure Failure
	)
	select {
	case waitErr = <-done:
	case <-expired:
		failure = FailureTimeout
		r.kill(c)
		waitErr = <-done
	case <-ctx.Done():
		failure = FailureCanceled
		r.kill(c)
		waitErr = <-done
	}
	duration := time.Since(start)

	// Reap background descendants that outlived the direct child.
	r.kill(c)

	out := Outcome{
		ExitCode:  -1,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Failure:   failure,
		Duration:  duration,
		Truncated: stdout.Truncated() || stderr.Truncated(),
	}

	switch failure {
	case FailureTimeout:
		out.Stderr = appendLine(out.Stderr, fmt.Sprintf("execution timed out after %s", timeout))
		return out
	case FailureCanceled:
		out.Stderr = appendLine(out.Stderr, "execution canceled")
		return out
	}

	if c.ProcessState != nil {
		out.ExitCode = c.ProcessState.ExitCode()
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		out.ExitSucceeded = true
	case errors.Is(waitErr, exec.ErrWaitDelay) && c.ProcessState != nil && c.ProcessState.Success():
		out.ExitSucceeded = true
	case errors.As(waitErr, &exitErr):
		out.Failure = FailureExit
	default:
		out.Failure = FailureExit
		out.Stderr = appendLine(out.Stderr, waitErr.Error())
	}
	return out
}

func (r *Runner) kill(c *exec.Cmd) {
	if err := killProcessGroup(c); err != nil {
		log.Debug().Err(err).Int("pid", c.Process.Pid).Msg("failed to kill process group")
	}
}

func appendLine(s, line string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s + line
	}
	return s + "\n" + line
}
