package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"codeexec/internal/engine"
)

// ExecutionRequest is the API-level submission.
type ExecutionRequest struct {
	// ID optionally pre-assigns the job id so the client can cancel it.
	ID        string            `json:"id,omitempty"`
	Code      string            `json:"code"`
	Language  string            `json:"language"`
	TestCases []engine.TestCase `json:"testCases,omitempty"`
	Timeout   Duration          `json:"timeout,omitempty"`
}

func (r ExecutionRequest) toEngine() engine.Request {
	return engine.Request{
		ID:         r.ID,
		SourceCode: r.Code,
		Language:   r.Language,
		TestCases:  r.TestCases,
		Timeout:    r.Timeout.Duration,
	}
}

// Duration wraps time.Duration for JSON. It marshals as a string like "10s"
// and unmarshals from either such a string or a bare number of milliseconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		d.Duration = 0
		return nil
	}
	if len(b) > 0 && b[0] != '"' {
		var ms float64
		if err := json.Unmarshal(b, &ms); err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		d.Duration = time.Duration(ms * float64(time.Millisecond))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

// StartedEvent is the first event of a streamed execution.
type StartedEvent struct {
	ID       string `json:"id"`
	Language string `json:"language"`
}

// CancelResponse acknowledges a cancel request.
type CancelResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

// LanguagesResponse lists the registered language ids.
type LanguagesResponse struct {
	Languages []string `json:"languages"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status           string `json:"status"`
	Database         bool   `json:"database"`
	Languages        int    `json:"languages"`
	ActiveExecutions int64  `json:"active_executions"`
	Uptime           string `json:"uptime"`
}
