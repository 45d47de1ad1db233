// Package engine turns a submission (source code, language, test cases) into
// an execution verdict. Each job gets its own workspace, an optional compile
// step and a run step, and every job's files are removed before it returns.
package engine

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"codeexec/internal/monitor"
	"codeexec/internal/process"
	"codeexec/internal/runtime"
	"codeexec/internal/verdict"
	"codeexec/internal/workspace"
)

// Options configures an Engine. Zero values select defaults.
type Options struct {
	ScratchRoot    string
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	CompileTimeout time.Duration
	MaxConcurrent  int
	MaxOutputBytes int
	// OrphanMaxAge is the age after which a leftover job directory is
	// removed by the periodic sweep.
	OrphanMaxAge  time.Duration
	SweepInterval time.Duration
	Toolchains    map[string]runtime.Toolchain
	// Env is added to the environment of every compiler and program.
	Env []string
}

func (o *Options) setDefaults() {
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = 10 * time.Second
	}
	if o.MaxTimeout <= 0 {
		o.MaxTimeout = 60 * time.Second
	}
	if o.DefaultTimeout > o.MaxTimeout {
		o.DefaultTimeout = o.MaxTimeout
	}
	if o.CompileTimeout <= 0 {
		o.CompileTimeout = 30 * time.Second
	}
	if o.MaxConcurrent < 1 {
		o.MaxConcurrent = 16
	}
	if o.MaxOutputBytes <= 0 {
		o.MaxOutputBytes = process.DefaultMaxOutputBytes
	}
	if o.OrphanMaxAge <= 0 {
		o.OrphanMaxAge = time.Hour
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 5 * time.Minute
	}
}

// Engine executes submissions concurrently. Jobs share nothing but the
// scratch root, inside which each owns a uniquely named directory.
type Engine struct {
	opts     Options
	registry *runtime.Registry
	spaces   *workspace.Manager
	runner   *process.Runner
	metrics  *monitor.Metrics
	tracer   *monitor.Tracer
	analyzer *monitor.Analyzer

	sem    chan struct{} // Concurrency limiter
	active atomic.Int64
	wg     sync.WaitGroup

	mu     sync.Mutex // Protects closed and jobs
	closed bool
	jobs   map[string]context.CancelFunc

	cancelSweep context.CancelFunc
}

// New creates an engine. metrics may be nil.
func New(opts Options, metrics *monitor.Metrics) (*Engine, error) {
	opts.setDefaults()

	registry, err := runtime.NewRegistry(opts.Toolchains)
	if err != nil {
		return nil, fmt.Errorf("building language registry: %w", err)
	}
	spaces, err := workspace.NewManager(opts.ScratchRoot)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		opts:     opts,
		registry: registry,
		spaces:   spaces,
		runner: &process.Runner{
			MaxOutputBytes: opts.MaxOutputBytes,
			Env:            opts.Env,
		},
		metrics:  metrics,
		tracer:   monitor.NewTracer(),
		analyzer: monitor.NewAnalyzer(),
		sem:      make(chan struct{}, opts.MaxConcurrent),
		jobs:     make(map[string]context.CancelFunc),
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancelSweep = cancel
	e.sweep()
	go e.sweepLoop(ctx)

	log.Info().
		Str("scratch_root", spaces.Root()).
		Int("max_concurrent", opts.MaxConcurrent).
		Strs("languages", registry.Languages()).
		Msg("execution engine ready")
	return e, nil
}

// sweepLoop periodically removes job directories left behind by a crash.
func (e *Engine) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(e.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) sweep() {
	n, err := e.spaces.SweepOrphans(e.opts.OrphanMaxAge)
	if err != nil {
		log.Warn().Err(err).Msg("orphaned workspace sweep failed")
		return
	}
	if n > 0 {
		log.Warn().Int("removed", n).Msg("removed orphaned workspaces")
	}
}

// Languages returns the supported language identifiers.
func (e *Engine) Languages() []string {
	return e.registry.Languages()
}

// ActiveCount returns the number of jobs currently holding a slot.
func (e *Engine) ActiveCount() int64 {
	return e.active.Load()
}

// ExecuteCode runs code with the default timeout and a generated job id.
func (e *Engine) ExecuteCode(ctx context.Context, code, language string, cases []TestCase) (*Result, error) {
	return e.Execute(ctx, Request{SourceCode: code, Language: language, TestCases: cases})
}

// Execute runs one submission to completion. The returned error is non-nil
// only when the request is rejected before any process starts; every
// execution fault is reported through the Result.
func (e *Engine) Execute(ctx context.Context, req Request) (*Result, error) {
	jobID := req.ID
	if jobID == "" {
		jobID = workspace.NewJobID()
	} else if !workspace.ValidJobID(jobID) {
		return nil, &ExecutionError{Op: "validate", Err: fmt.Errorf("%w: malformed job id %q", ErrInvalidRequest, jobID)}
	}

	codeHash := fmt.Sprintf("%x", sha256.Sum256([]byte(req.SourceCode)))
	logger := log.With().
		Str("job_id", jobID).
		Str("language", req.Language).
		Str("code_hash", codeHash[:16]).
		Logger()

	logger.Info().Int("test_cases", len(req.TestCases)).Msg("execution requested")

	adapter, err := e.registry.Get(req.Language)
	if err != nil {
		return nil, &ExecutionError{JobID: jobID, Op: "dispatch", Err: err}
	}
	if err := adapter.Validate(req.SourceCode); err != nil {
		return nil, &ExecutionError{JobID: jobID, Op: "validate", Err: fmt.Errorf("%w: %v", ErrInvalidRequest, err)}
	}
	timeout, err := e.runTimeout(req.Timeout)
	if err != nil {
		return nil, &ExecutionError{JobID: jobID, Op: "validate", Err: err}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := e.register(jobID, cancel); err != nil {
		return nil, &ExecutionError{JobID: jobID, Op: "register", Err: err}
	}
	defer e.unregister(jobID)

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		logger.Warn().Msg("canceled while waiting for an execution slot")
		return &Result{
			JobID:    jobID,
			Language: adapter.Name(),
			Status:   StatusCanceled,
			Error:    ErrCanceled.Error(),
		}, nil
	}

	e.active.Add(1)
	defer e.active.Add(-1)
	if e.metrics != nil {
		e.metrics.ActiveExecutions.Inc()
		defer e.metrics.ActiveExecutions.Dec()
		e.metrics.CodeSizeBytes.Observe(float64(len(req.SourceCode)))
	}

	res := e.run(ctx, logger, adapter, jobID, req, timeout)

	if e.metrics != nil {
		e.metrics.RecordExecution(res.Language, string(res.Status), float64(res.RuntimeMs)/1000)
		e.metrics.OutputSizeBytes.Observe(float64(len(res.Output)))
	}

	event := logger.Info()
	if res.Status == StatusTimeout || res.Status == StatusCanceled {
		event = logger.Warn()
	}
	event.
		Str("status", string(res.Status)).
		Bool("success", res.Success).
		Int64("runtime_ms", res.RuntimeMs).
		Msg("execution finished")

	return res, nil
}

func (e *Engine) runTimeout(requested time.Duration) (time.Duration, error) {
	switch {
	case requested < 0:
		return 0, fmt.Errorf("%w: negative timeout", ErrInvalidRequest)
	case requested == 0:
		return e.opts.DefaultTimeout, nil
	case requested > e.opts.MaxTimeout:
		return e.opts.MaxTimeout, nil
	default:
		return requested, nil
	}
}

func (e *Engine) register(jobID string, cancel context.CancelFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if _, dup := e.jobs[jobID]; dup {
		return fmt.Errorf("%w: job %s is already running", ErrInvalidRequest, jobID)
	}
	e.jobs[jobID] = cancel
	e.wg.Add(1)
	return nil
}

func (e *Engine) unregister(jobID string) {
	e.mu.Lock()
	delete(e.jobs, jobID)
	e.mu.Unlock()
	e.wg.Done()
}

// Cancel stops an active job through the same kill path used for timeouts.
// It reports whether a job with that id was running.
func (e *Engine) Cancel(jobID string) bool {
	e.mu.Lock()
	cancel, ok := e.jobs[jobID]
	e.mu.Unlock()
	if ok {
		log.Info().Str("job_id", jobID).Msg("execution cancel requested")
		cancel()
	}
	return ok
}

func (e *Engine) run(ctx context.Context, logger zerolog.Logger, adapter runtime.Adapter, jobID string, req Request, timeout time.Duration) (res *Result) {
	start := time.Now()
	res = &Result{JobID: jobID, Language: adapter.Name()}

	ctx, span := e.tracer.StartSpan(ctx, "execute",
		monitor.AttrJobID.String(jobID),
		monitor.AttrLanguage.String(adapter.Name()),
		monitor.AttrTestCases.Int(len(req.TestCases)),
	)
	defer func() {
		res.RuntimeMs = time.Since(start).Milliseconds()
		span.SetAttributes(
			monitor.AttrStatus.String(string(res.Status)),
			monitor.AttrDurationMS.Int64(res.RuntimeMs),
		)
		monitor.EndSpan(span, res.Err())
	}()

	for _, d := range e.analyzer.AnalyzeCode(req.SourceCode) {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %s (line %d)", d.Pattern, d.Detail, d.Line))
		if e.metrics != nil {
			e.metrics.RecordFlag(d.Pattern)
		}
	}

	ws, err := e.spaces.Allocate(jobID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to allocate workspace")
		return internalFailure(res, "allocate workspace", err)
	}

	harnessed := len(req.TestCases) > 0
	target := runtime.Target{
		JobID:     jobID,
		Dir:       ws.Dir,
		Source:    adapter.SourceFileName(jobID, req.SourceCode, harnessed),
		Harnessed: harnessed,
	}
	defer e.release(logger, ws, adapter, target)

	var marker string
	if harnessed {
		marker = verdict.NewMarker()
	}
	prog, err := adapter.Wrap(target, req.SourceCode, req.TestCases, marker)
	if err != nil {
		return internalFailure(res, "wrap", err)
	}
	for _, f := range prog.Files() {
		if _, err := ws.WriteFile(f.Name, f.Content); err != nil {
			return internalFailure(res, "write source", err)
		}
	}

	if cmd, ok := adapter.CompileCommand(target); ok {
		out := e.phase(ctx, logger, adapter.Name(), "compile", cmd, ws.Dir, e.opts.CompileTimeout)
		if !out.ExitSucceeded {
			compileFailure(res, out)
			return res
		}
	}

	out := e.phase(ctx, logger, adapter.Name(), "run", adapter.RunCommand(target), ws.Dir, timeout)
	runOutcome(res, out, marker)

	for _, d := range e.analyzer.AnalyzeOutput(out.Stdout + out.Stderr) {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %s", d.Pattern, d.Detail))
		if e.metrics != nil {
			e.metrics.RecordFlag(d.Pattern)
		}
	}
	return res
}

func (e *Engine) phase(ctx context.Context, logger zerolog.Logger, language, name string, cmd process.Command, dir string, timeout time.Duration) process.Outcome {
	ctx, span := e.tracer.StartSpan(ctx, name)
	logger.Debug().Str("phase", name).Str("command", cmd.String()).Msg("starting process")

	out := e.runner.Run(ctx, cmd, dir, timeout)

	span.SetAttributes(
		monitor.AttrExitCode.Int(out.ExitCode),
		monitor.AttrDurationMS.Int64(out.Duration.Milliseconds()),
	)
	var spanErr error
	if !out.ExitSucceeded {
		spanErr = fmt.Errorf("%s %s", name, failureLabel(out))
	}
	monitor.EndSpan(span, spanErr)

	if e.metrics != nil {
		e.metrics.RecordPhase(language, name, out.Duration.Seconds())
	}
	if out.Failure == process.FailureTimeout {
		logger.Warn().Str("phase", name).Dur("timeout", timeout).Msg("process killed after timeout")
	}
	return out
}

// release removes every artifact of the job. Failures are logged and
// counted but never replace the job's own result.
func (e *Engine) release(logger zerolog.Logger, ws *workspace.Workspace, adapter runtime.Adapter, target runtime.Target) {
	ws.Track(adapter.Artifacts(target)...)
	if err := ws.Release(); err != nil {
		logger.Error().Err(err).Str("dir", ws.Dir).Msg("failed to clean up workspace")
		if e.metrics != nil {
			e.metrics.CleanupFailures.Inc()
		}
	}
}

// Close stops accepting jobs and waits up to 30s for active ones, then
// cancels whatever is still running.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	if e.cancelSweep != nil {
		e.cancelSweep()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("all executions drained")
		return nil
	case <-time.After(30 * time.Second):
		log.Warn().Int64("active", e.active.Load()).Msg("timed out waiting for executions to drain, canceling")
	}

	e.mu.Lock()
	for _, cancel := range e.jobs {
		cancel()
	}
	e.mu.Unlock()
	<-done
	return nil
}

func compileFailure(res *Result, out process.Outcome) {
	res.Success = false
	res.Truncated = out.Truncated
	switch out.Failure {
	case process.FailureTimeout:
		res.Status = StatusTimeout
		res.Error = "compilation: " + strings.TrimSpace(out.Stderr)
	case process.FailureSpawn:
		res.Status = StatusSpawnError
		res.Error = "failed to start compiler: " + strings.TrimSpace(out.Stderr)
	case process.FailureCanceled:
		res.Status = StatusCanceled
		res.Error = ErrCanceled.Error()
	default:
		res.Status = StatusCompileError
		res.Error = firstNonBlank(out.Stderr, out.Stdout, fmt.Sprintf("compiler exited with code %d", out.ExitCode))
	}
}

func runOutcome(res *Result, out process.Outcome, marker string) {
	res.Truncated = out.Truncated
	res.Stderr = out.Stderr

	switch out.Failure {
	case process.FailureTimeout:
		res.Status = StatusTimeout
		res.Output = out.Stdout
		res.Error = lastLine(out.Stderr)
		return
	case process.FailureSpawn:
		res.Status = StatusSpawnError
		res.Error = "failed to start program: " + strings.TrimSpace(out.Stderr)
		return
	case process.FailureCanceled:
		res.Status = StatusCanceled
		res.Output = out.Stdout
		res.Error = ErrCanceled.Error()
		return
	}

	v, perr := verdict.Parse(out.Stdout, marker)
	res.Output = v.Display

	if !out.ExitSucceeded {
		res.Status = StatusRuntimeError
		res.Error = firstNonBlank(out.Stderr, fmt.Sprintf("process exited with code %d", out.ExitCode))
		if perr == nil && v.Structured {
			res.TestsPassed, res.TestsTotal = intPtr(v.Passed), intPtr(v.Total)
		}
		return
	}

	if perr != nil {
		res.Status = StatusMalformedVerdict
		res.Error = ErrMalformedVerdict.Error()
		return
	}

	res.Success = true
	res.Status = StatusOK
	if v.Structured {
		res.TestsPassed, res.TestsTotal = intPtr(v.Passed), intPtr(v.Total)
	}
}

func internalFailure(res *Result, op string, err error) *Result {
	res.Success = false
	res.Status = StatusInternalError
	res.Error = fmt.Sprintf("%s: %v", op, err)
	return res
}

func failureLabel(out process.Outcome) string {
	if out.Failure == process.FailureExit {
		return fmt.Sprintf("exited with code %d", out.ExitCode)
	}
	return string(out.Failure)
}

func firstNonBlank(candidates ...string) string {
	for _, c := range candidates {
		if s := strings.TrimSpace(c); s != "" {
			return s
		}
	}
	return ""
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func intPtr(n int) *int { return &n }
