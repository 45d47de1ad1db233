package engine

import (
	"time"

	"codeexec/internal/runtime"
)

// Status is the terminal state of one execution.
type Status string

const (
	StatusOK               Status = "ok"
	StatusCompileError     Status = "compile_error"
	StatusRuntimeError     Status = "runtime_error"
	StatusTimeout          Status = "timeout"
	StatusMalformedVerdict Status = "malformed_verdict"
	StatusSpawnError       Status = "spawn_error"
	StatusCanceled         Status = "canceled"
	StatusInternalError    Status = "internal_error"
)

var statusErrors = map[Status]error{
	StatusCompileError:     ErrCompile,
	StatusRuntimeError:     ErrRuntime,
	StatusTimeout:          ErrTimeout,
	StatusMalformedVerdict: ErrMalformedVerdict,
	StatusSpawnError:       ErrSpawn,
	StatusCanceled:         ErrCanceled,
	StatusInternalError:    ErrInternal,
}

// TestCase is re-exported so callers need not import the runtime package.
type TestCase = runtime.TestCase

// Request is one submission.
type Request struct {
	// ID optionally pre-assigns the job id so the caller can cancel the job
	// while it runs. It must be a valid job id; empty means generate one.
	ID         string
	SourceCode string
	Language   string
	TestCases  []TestCase
	// Timeout bounds the run step. Zero selects the engine default.
	Timeout time.Duration
}

// Result is the verdict of one execution. It holds no reference to the
// workspace, which no longer exists when the result is returned.
type Result struct {
	JobID    string `json:"id"`
	Language string `json:"language"`
	// Success reflects whether the program ran to a zero exit status,
	// independent of how many test cases passed.
	Success     bool     `json:"success"`
	Status      Status   `json:"status"`
	Output      string   `json:"output,omitempty"`
	Error       string   `json:"error,omitempty"`
	Stderr      string   `json:"stderr,omitempty"`
	RuntimeMs   int64    `json:"runtimeMs"`
	TestsPassed *int     `json:"testsPassed,omitempty"`
	TestsTotal  *int     `json:"testsTotal,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Truncated   bool     `json:"truncated,omitempty"`
}

// Err returns the sentinel matching Status, or nil for StatusOK.
func (r *Result) Err() error {
	if err, ok := statusErrors[r.Status]; ok {
		return &ExecutionError{JobID: r.JobID, Op: string(r.Status), Err: err}
	}
	return nil
}
