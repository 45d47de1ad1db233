// Package verdict extracts the structured test result that harnesses print
// after a unique per-job marker line.
package verdict

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrMalformed is returned when a marker is present but the payload that
// follows it cannot be used.
var ErrMalformed = errors.New("malformed test result payload")

const markerPrefix = "__CODEEXEC_VERDICT_"

// NewMarker returns a marker that user code cannot predict.
func NewMarker() string {
	return markerPrefix + strings.ReplaceAll(uuid.New().String(), "-", "") + "__"
}

// Payload is the JSON document printed on the line after the marker.
type Payload struct {
	Passed *int   `json:"passed"`
	Total  *int   `json:"total"`
	Output string `json:"output"`
}

// Verdict is the interpreted run output.
type Verdict struct {
	Structured bool
	Passed     int
	Total      int
	// Display is the text shown to the caller. For structured output it is
	// anything printed before the marker followed by the harness log.
	Display string
}

// Parse interprets stdout. Without a marker it returns the raw output
// unchanged. When the marker occurs more than once the last occurrence wins,
// so text echoed by user code earlier in the stream cannot shadow it. The
// marker may end a line that user code left unterminated; the text before
// it on that line is program output.
func Parse(stdout, marker string) (Verdict, error) {
	raw := Verdict{Display: stdout}
	if marker == "" {
		return raw, nil
	}

	lines := strings.Split(stdout, "\n")
	at := -1
	var partial string
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimRight(lines[i], "\r"); strings.HasSuffix(line, marker) {
			at = i
			partial = strings.TrimSuffix(line, marker)
			break
		}
	}
	if at < 0 {
		return raw, nil
	}

	var next string
	for _, l := range lines[at+1:] {
		if strings.TrimSpace(l) != "" {
			next = strings.TrimSpace(l)
			break
		}
	}
	if next == "" {
		return raw, fmt.Errorf("%w: no payload after marker", ErrMalformed)
	}

	var p Payload
	if err := json.Unmarshal([]byte(next), &p); err != nil {
		return raw, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.Passed == nil || p.Total == nil {
		return raw, fmt.Errorf("%w: missing passed or total", ErrMalformed)
	}
	if *p.Passed < 0 || *p.Total < 0 || *p.Passed > *p.Total {
		return raw, fmt.Errorf("%w: passed=%d total=%d", ErrMalformed, *p.Passed, *p.Total)
	}

	display := p.Output
	before := append(lines[:at:at], partial)
	if prior := strings.TrimRight(strings.Join(before, "\n"), "\r\n"); prior != "" {
		display = prior + "\n" + p.Output
	}
	return Verdict{
		Structured: true,
		Passed:     *p.Passed,
		Total:      *p.Total,
		Display:    display,
	}, nil
}
