package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"codeexec/internal/engine"
	"codeexec/internal/storage"
	"codeexec/internal/workspace"
)

// Executor is the engine surface the HTTP layer depends on.
type Executor interface {
	Execute(ctx context.Context, req engine.Request) (*engine.Result, error)
	Cancel(jobID string) bool
	Languages() []string
	ActiveCount() int64
}

type Handlers struct {
	executor    Executor
	store       storage.Store
	auditWriter *storage.AuditWriter
	keepalive   time.Duration
}

func NewHandlers(executor Executor, store storage.Store, auditWriter *storage.AuditWriter) *Handlers {
	return &Handlers{
		executor:    executor,
		store:       store,
		auditWriter: auditWriter,
		keepalive:   15 * time.Second,
	}
}

func (h *Handlers) HandleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed, r)
		return
	}

	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	start := time.Now()
	result, err := h.executor.Execute(r.Context(), req.toEngine())
	if err != nil {
		writeExecuteError(w, err, r)
		return
	}

	h.logAudit(result, req.Code, start, r)
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) HandleExecuteStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed, r)
		return
	}

	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	sse := NewSSEWriter(w)
	if sse == nil {
		writeError(w, "streaming not supported", "STREAMING_UNSUPPORTED", http.StatusInternalServerError, r)
		return
	}

	// The id is assigned up front so the started event can carry it.
	if req.ID == "" {
		req.ID = workspace.NewJobID()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := sse.SendJSON("started", StartedEvent{ID: req.ID, Language: req.Language}); err != nil {
		log.Warn().Err(err).Str("job_id", req.ID).Msg("client went away before execution started")
		return
	}

	type outcome struct {
		result *engine.Result
		err    error
	}
	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		res, err := h.executor.Execute(r.Context(), req.toEngine())
		done <- outcome{res, err}
	}()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = sse.Comment("keepalive")
		case out := <-done:
			if out.err != nil {
				code, _ := errorCode(out.err)
				_ = sse.SendJSON("error", ErrorResponse{
					Error:     out.err.Error(),
					Code:      code,
					RequestID: RequestIDFromContext(r.Context()),
				})
				return
			}
			h.logAudit(out.result, req.Code, start, r)
			_ = sse.SendJSON("done", out.result)
			return
		}
	}
}

func (h *Handlers) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed, r)
		return
	}

	id := r.PathValue("id")
	if id == "" {
		writeError(w, "execution ID required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	if h.store == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	exec, err := h.store.GetExecution(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, "execution not found", "NOT_FOUND", http.StatusNotFound, r)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("exec_id", id).Msg("audit lookup failed")
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}

	writeJSON(w, http.StatusOK, exec)
}

func (h *Handlers) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed, r)
		return
	}

	if h.store == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	q := r.URL.Query()
	filter := storage.ExecutionFilter{
		Language: q.Get("language"),
		Status:   q.Get("status"),
		Limit:    100,
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, "invalid "+name, "INVALID_REQUEST", http.StatusBadRequest, r)
			return
		}
		*dst = n
	}

	execs, err := h.store.ListExecutions(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Msg("audit list failed")
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}
	if execs == nil {
		execs = []storage.Execution{}
	}

	writeJSON(w, http.StatusOK, execs)
}

func (h *Handlers) HandleKillExecution(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, "method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed, r)
		return
	}

	id := r.PathValue("id")
	if id == "" {
		writeError(w, "execution ID required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	if !h.executor.Cancel(id) {
		writeError(w, "no active execution with that id", "NOT_FOUND", http.StatusNotFound, r)
		return
	}

	log.Info().Str("exec_id", id).Msg("kill requested for execution")
	writeJSON(w, http.StatusAccepted, CancelResponse{Status: "cancel_requested", ID: id})
}

func (h *Handlers) HandleLanguages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LanguagesResponse{Languages: h.executor.Languages()})
}

func (h *Handlers) decodeRequest(w http.ResponseWriter, r *http.Request) (ExecutionRequest, bool) {
	var req ExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, "request body too large", "BODY_TOO_LARGE", http.StatusRequestEntityTooLarge, r)
			return req, false
		}
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return req, false
	}

	if req.Language == "" {
		writeError(w, "language is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return req, false
	}
	if req.Code == "" {
		writeError(w, "code is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return req, false
	}
	if h.executor == nil {
		writeError(w, "execution engine unavailable", "ENGINE_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return req, false
	}
	return req, true
}

func (h *Handlers) logAudit(result *engine.Result, code string, start time.Time, r *http.Request) {
	if h.auditWriter == nil || result == nil {
		return
	}

	sum := sha256.Sum256([]byte(code))
	completedAt := time.Now()
	h.auditWriter.Log(&storage.Execution{
		ID:          result.JobID,
		Language:    result.Language,
		CodeHash:    hex.EncodeToString(sum[:]),
		Status:      string(result.Status),
		Success:     result.Success,
		Output:      result.Output,
		Error:       result.Error,
		TestsPassed: result.TestsPassed,
		TestsTotal:  result.TestsTotal,
		RuntimeMS:   result.RuntimeMs,
		Warnings:    len(result.Warnings),
		RequestIP:   clientIP(r),
		APIKeyHash:  hashAPIKey(r.Context()),
		CreatedAt:   start,
		CompletedAt: &completedAt,
	})
}

func hashAPIKey(ctx context.Context) string {
	key, ok := ctx.Value(contextKeyAPIKey).(string)
	if !ok || key == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}

// errorCode maps an engine rejection to an API error code and status.
func errorCode(err error) (string, int) {
	switch {
	case errors.Is(err, engine.ErrUnsupportedLanguage):
		return "UNSUPPORTED_LANGUAGE", http.StatusBadRequest
	case errors.Is(err, engine.ErrInvalidRequest):
		return "VALIDATION_ERROR", http.StatusBadRequest
	case errors.Is(err, engine.ErrClosed):
		return "ENGINE_CLOSED", http.StatusServiceUnavailable
	default:
		return "EXECUTION_FAILED", http.StatusInternalServerError
	}
}

func writeExecuteError(w http.ResponseWriter, err error, r *http.Request) {
	code, status := errorCode(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("execution failed")
	}
	writeError(w, err.Error(), code, status, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}
