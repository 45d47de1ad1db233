package engine

import (
	"errors"
	"fmt"

	"codeexec/internal/runtime"
)

// Sentinel errors for typed error checking.
var (
	ErrUnsupportedLanguage = runtime.ErrUnsupportedLanguage
	ErrInvalidRequest      = errors.New("invalid execution request")
	ErrCompile             = errors.New("compilation failed")
	ErrRuntime             = errors.New("program exited with an error")
	ErrTimeout             = errors.New("execution timed out")
	ErrMalformedVerdict    = errors.New("malformed test result payload")
	ErrSpawn               = errors.New("failed to start process")
	ErrCanceled            = errors.New("execution canceled")
	ErrInternal            = errors.New("internal engine error")
	ErrClosed              = errors.New("engine is shut down")
)

// ExecutionError wraps errors with job context.
type ExecutionError struct {
	JobID string
	Op    string // The operation that failed
	Err   error
}

func (e *ExecutionError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("execution %s: %s: %s", e.JobID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsTimeout returns true if the error is a timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsRejection reports whether err means the request was refused before any
// process was started.
func IsRejection(err error) bool {
	return errors.Is(err, ErrUnsupportedLanguage) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrClosed)
}
