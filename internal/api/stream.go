package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// SSEWriter writes Server-Sent Events and flushes after each one.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewSSEWriter returns nil if the ResponseWriter does not support flushing.
func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil
	}
	return &SSEWriter{w: w, flusher: flusher}
}

// Send writes one event. Each line of a multi-line payload gets its own
// "data:" prefix so program output cannot inject event boundaries.
func (s *SSEWriter) Send(event, data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fmt.Fprintf(s.w, "event: %s\n", event)
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(s.w, "data: %s\n", line)
	}
	if _, err := fmt.Fprint(s.w, "\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// SendJSON marshals v and sends it as one event.
func (s *SSEWriter) SendJSON(event string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Send(event, string(b))
}

// Comment writes an SSE comment line, used as a keepalive.
func (s *SSEWriter) Comment(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
