//go:build unix

package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeexec/internal/monitor"
	"codeexec/internal/runtime"
	"codeexec/internal/workspace"
)

// fakeCompiled treats cpp sources as shell scripts: compiling copies the
// script to the binary path unless it contains SYNTAX_ERROR.
var fakeCompiled = runtime.Toolchain{
	Compile: `sh -c "if grep -q SYNTAX_ERROR {src}; then echo 'solution.cpp:1:1: error: SYNTAX_ERROR' >&2; exit 1; fi; cp {src} {bin}"`,
	Run:     "sh {bin}",
}

// markerEcho answers every python harness with the job's own marker, read
// back from the generated source, followed by payload.
func markerEcho(payload string) runtime.Toolchain {
	escaped := strings.ReplaceAll(payload, `"`, `\"`)
	return runtime.Toolchain{
		Run: fmt.Sprintf(`sh -c "grep -o '__CODEEXEC_VERDICT_[0-9a-f]*__' {src} | head -n 1; echo '%s'"`, escaped),
	}
}

func requireTool(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available", name)
	}
}

func newTestEngine(t *testing.T, toolchains map[string]runtime.Toolchain) (*Engine, string) {
	t.Helper()
	requireTool(t, "sh")
	root := t.TempDir()
	e, err := New(Options{
		ScratchRoot:    root,
		DefaultTimeout: 5 * time.Second,
		CompileTimeout: 60 * time.Second,
		MaxConcurrent:  8,
		Toolchains:     toolchains,
	}, monitor.NewMetrics())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, root
}

func assertScratchEmpty(t *testing.T, root string) {
	t.Helper()
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace artifacts left behind")
}

func TestExecuteRejectsUnsupportedLanguage(t *testing.T) {
	e, root := newTestEngine(t, nil)

	_, err := e.ExecuteCode(context.Background(), "x", "cobol", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedLanguage))
	assert.True(t, IsRejection(err))

	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "dispatch", execErr.Op)
	assertScratchEmpty(t, root)
}

func TestExecuteRejectsInvalidRequests(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	tests := []struct {
		name string
		req  Request
	}{
		{"empty code", Request{Language: "python", SourceCode: "  "}},
		{"bad id", Request{ID: "../x", Language: "python", SourceCode: "print(1)"}},
		{"negative timeout", Request{Language: "python", SourceCode: "print(1)", Timeout: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Execute(context.Background(), tt.req)
			assert.True(t, errors.Is(err, ErrInvalidRequest), "got %v", err)
		})
	}
}

func TestFreeExecutionPassthrough(t *testing.T) {
	e, root := newTestEngine(t, map[string]runtime.Toolchain{"cpp": fakeCompiled})

	res, err := e.ExecuteCode(context.Background(), "echo line one\necho line two", "cpp", nil)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, "line one\nline two\n", res.Output)
	assert.Nil(t, res.TestsPassed)
	assert.Nil(t, res.TestsTotal)
	assert.NoError(t, res.Err())
	assertScratchEmpty(t, root)
}

func TestCompileErrorSkipsRun(t *testing.T) {
	e, root := newTestEngine(t, map[string]runtime.Toolchain{"cpp": fakeCompiled})

	res, err := e.ExecuteCode(context.Background(), "SYNTAX_ERROR\necho should-not-run", "cpp", []TestCase{{Input: "", ExpectedOutput: "x"}})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, StatusCompileError, res.Status)
	assert.Contains(t, res.Error, "error: SYNTAX_ERROR")
	assert.NotContains(t, res.Output, "should-not-run")
	assert.Nil(t, res.TestsPassed)
	assert.Nil(t, res.TestsTotal)
	assert.True(t, errors.Is(res.Err(), ErrCompile))
	assertScratchEmpty(t, root)
}

func TestRuntimeError(t *testing.T) {
	e, root := newTestEngine(t, map[string]runtime.Toolchain{"cpp": fakeCompiled})

	res, err := e.ExecuteCode(context.Background(), "echo partial\necho boom >&2\nexit 4", "cpp", nil)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, StatusRuntimeError, res.Status)
	assert.Equal(t, "boom", res.Error)
	assert.Equal(t, "partial\n", res.Output)
	assertScratchEmpty(t, root)
}

func TestRuntimeErrorWithoutStderr(t *testing.T) {
	e, _ := newTestEngine(t, map[string]runtime.Toolchain{"cpp": fakeCompiled})

	res, err := e.ExecuteCode(context.Background(), "exit 2", "cpp", nil)
	require.NoError(t, err)
	assert.Equal(t, "process exited with code 2", res.Error)
}

func TestTimeoutEnforcement(t *testing.T) {
	e, root := newTestEngine(t, map[string]runtime.Toolchain{"cpp": fakeCompiled})

	start := time.Now()
	res, err := e.Execute(context.Background(), Request{
		SourceCode: "while :; do :; done",
		Language:   "cpp",
		Timeout:    200 * time.Millisecond,
	})
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, StatusTimeout, res.Status)
	assert.Contains(t, res.Error, "timed out")
	assert.True(t, IsTimeout(res.Err()))
	assert.Less(t, elapsed, 3*time.Second)
	assertScratchEmpty(t, root)
}

func TestTimeoutIsCappedAtMax(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	got, err := e.runTimeout(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, e.opts.MaxTimeout, got)

	got, _ = e.runTimeout(0)
	assert.Equal(t, 5*time.Second, got)
}

func TestSpawnError(t *testing.T) {
	e, root := newTestEngine(t, map[string]runtime.Toolchain{
		"javascript": {Run: "definitely-missing-interpreter-xyz {src}"},
	})

	res, err := e.ExecuteCode(context.Background(), "console.log(1)", "javascript", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, StatusSpawnError, res.Status)
	assert.Contains(t, res.Error, "failed to start program")
	assertScratchEmpty(t, root)
}

func TestVerdictFidelity(t *testing.T) {
	e, root := newTestEngine(t, map[string]runtime.Toolchain{
		"python": markerEcho(`{"passed":3,"total":5,"output":"Test 1: PASS"}`),
	})

	cases := make([]TestCase, 5)
	res, err := e.ExecuteCode(context.Background(), "def solution(s):\n    return s\n", "python", cases)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, StatusOK, res.Status)
	require.NotNil(t, res.TestsPassed)
	require.NotNil(t, res.TestsTotal)
	assert.Equal(t, 3, *res.TestsPassed)
	assert.Equal(t, 5, *res.TestsTotal)
	assert.Equal(t, "Test 1: PASS", res.Output)
	assertScratchEmpty(t, root)
}

func TestMalformedVerdict(t *testing.T) {
	e, root := newTestEngine(t, map[string]runtime.Toolchain{
		"python": markerEcho(`{"passed": 1, "total"`),
	})

	res, err := e.ExecuteCode(context.Background(), "def solution(s):\n    return s\n", "python", []TestCase{{Input: "a", ExpectedOutput: "a"}})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, StatusMalformedVerdict, res.Status)
	assert.Equal(t, "malformed test result payload", res.Error)
	assert.Nil(t, res.TestsPassed)
	assert.True(t, errors.Is(res.Err(), ErrMalformedVerdict))
	assertScratchEmpty(t, root)
}

func TestCancelActiveJob(t *testing.T) {
	e, root := newTestEngine(t, map[string]runtime.Toolchain{"cpp": fakeCompiled})

	id := workspace.NewJobID()
	done := make(chan *Result, 1)
	go func() {
		res, err := e.Execute(context.Background(), Request{ID: id, SourceCode: "sleep 30", Language: "cpp"})
		assert.NoError(t, err)
		done <- res
	}()

	require.Eventually(t, func() bool { return e.Cancel(id) }, 3*time.Second, 10*time.Millisecond)

	select {
	case res := <-done:
		assert.Equal(t, StatusCanceled, res.Status)
		assert.False(t, res.Success)
	case <-time.After(5 * time.Second):
		t.Fatal("canceled job did not return")
	}
	assert.False(t, e.Cancel(id), "finished job should not be cancelable")
	assertScratchEmpty(t, root)
}

func TestContextCancellation(t *testing.T) {
	e, _ := newTestEngine(t, map[string]runtime.Toolchain{"cpp": fakeCompiled})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	res, err := e.ExecuteCode(ctx, "sleep 30", "cpp", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, res.Status)
}

func TestDuplicateActiveIDRejected(t *testing.T) {
	e, _ := newTestEngine(t, map[string]runtime.Toolchain{"cpp": fakeCompiled})

	id := workspace.NewJobID()
	go func() {
		_, _ = e.Execute(context.Background(), Request{ID: id, SourceCode: "sleep 30", Language: "cpp"})
	}()
	require.Eventually(t, func() bool { return e.ActiveCount() == 1 }, 3*time.Second, 10*time.Millisecond)

	_, err := e.Execute(context.Background(), Request{ID: id, SourceCode: "echo hi", Language: "cpp"})
	assert.True(t, errors.Is(err, ErrInvalidRequest), "got %v", err)
	e.Cancel(id)
}

func TestConcurrentJobsAreIsolated(t *testing.T) {
	e, root := newTestEngine(t, map[string]runtime.Toolchain{"cpp": fakeCompiled})

	const n = 20
	var wg sync.WaitGroup
	results := make([]*Result, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := e.ExecuteCode(context.Background(), fmt.Sprintf("sleep 0.05\necho job-%d", i), "cpp", nil)
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	ids := make(map[string]bool)
	for i, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, StatusOK, res.Status)
		assert.Equal(t, fmt.Sprintf("job-%d\n", i), res.Output, "job output crossed workspaces")
		assert.False(t, ids[res.JobID], "duplicate job id")
		ids[res.JobID] = true
	}
	assertScratchEmpty(t, root)
}

func TestCloseRejectsNewJobs(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	require.NoError(t, e.Close())

	_, err := e.ExecuteCode(context.Background(), "print(1)", "python", nil)
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestSubmissionWarnings(t *testing.T) {
	e, _ := newTestEngine(t, map[string]runtime.Toolchain{"cpp": fakeCompiled})

	res, err := e.ExecuteCode(context.Background(), "echo __CODEEXEC_VERDICT_0__", "cpp", nil)
	require.NoError(t, err)
	require.NotEmpty(t, res.Warnings)
	assert.True(t, strings.HasPrefix(res.Warnings[0], "marker_spoof"))
}

func TestOrphanSweepOnStart(t *testing.T) {
	requireTool(t, "sh")
	root := t.TempDir()
	spaces, err := workspace.NewManager(root)
	require.NoError(t, err)
	stale, err := spaces.Allocate(workspace.NewJobID())
	require.NoError(t, err)
	old := time.Now().Add(-3 * time.Hour)
	require.NoError(t, os.Chtimes(stale.Dir, old, old))

	e, err := New(Options{ScratchRoot: root}, nil)
	require.NoError(t, err)
	defer e.Close()

	_, err = os.Stat(stale.Dir)
	assert.True(t, os.IsNotExist(err))
}
