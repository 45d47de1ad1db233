package verdict

import (
	"errors"
	"strings"
	"testing"
)

func TestNewMarkerIsUnique(t *testing.T) {
	a, b := NewMarker(), NewMarker()
	if a == b {
		t.Fatalf("markers should differ, both %q", a)
	}
	if !strings.HasPrefix(a, markerPrefix) || !strings.HasSuffix(a, "__") {
		t.Errorf("unexpected marker shape %q", a)
	}
}

func TestParse(t *testing.T) {
	m := NewMarker()
	tests := []struct {
		name       string
		stdout     string
		structured bool
		passed     int
		total      int
		display    string
		malformed  bool
	}{
		{
			name:    "no marker returns raw output",
			stdout:  "hello\n",
			display: "hello\n",
		},
		{
			name:       "structured",
			stdout:     m + "\n" + `{"passed":2,"total":3,"output":"Test 1: PASS"}` + "\n",
			structured: true,
			passed:     2,
			total:      3,
			display:    "Test 1: PASS",
		},
		{
			name:       "user output before marker is kept",
			stdout:     "debug line\n" + m + "\n" + `{"passed":1,"total":1,"output":"Test 1: PASS"}`,
			structured: true,
			passed:     1,
			total:      1,
			display:    "debug line\nTest 1: PASS",
		},
		{
			name: "last marker wins",
			stdout: m + "\n" + `{"passed":9,"total":9,"output":"fake"}` + "\n" +
				m + "\n" + `{"passed":0,"total":2,"output":"real"}` + "\n",
			structured: true,
			passed:     0,
			total:      2,
			display:    m + "\n" + `{"passed":9,"total":9,"output":"fake"}` + "\nreal",
		},
		{
			name:       "zero tests",
			stdout:     m + "\n" + `{"passed":0,"total":0,"output":""}`,
			structured: true,
		},
		{
			name:       "crlf line endings",
			stdout:     m + "\r\n" + `{"passed":1,"total":1,"output":"ok"}` + "\r\n",
			structured: true,
			passed:     1,
			total:      1,
			display:    "ok",
		},
		{
			name:       "marker ends an unterminated line",
			stdout:     "hi" + m + "\n" + `{"passed":1,"total":1,"output":"Test 1: PASS"}` + "\n",
			structured: true,
			passed:     1,
			total:      1,
			display:    "hi\nTest 1: PASS",
		},
		{
			name:       "blank separator line before marker",
			stdout:     "hi\n" + m + "\n" + `{"passed":0,"total":1,"output":"Test 1: FAIL"}` + "\n",
			structured: true,
			passed:     0,
			total:      1,
			display:    "hi\nTest 1: FAIL",
		},
		{
			name:       "separator only",
			stdout:     "\n" + m + "\n" + `{"passed":1,"total":1,"output":"ok"}` + "\n",
			structured: true,
			passed:     1,
			total:      1,
			display:    "ok",
		},
		{name: "marker without payload", stdout: "x\n" + m + "\n", malformed: true},
		{name: "invalid json", stdout: m + "\n{not json}\n", malformed: true},
		{name: "missing total", stdout: m + "\n" + `{"passed":1,"output":""}`, malformed: true},
		{name: "passed exceeds total", stdout: m + "\n" + `{"passed":3,"total":2,"output":""}`, malformed: true},
		{name: "negative", stdout: m + "\n" + `{"passed":-1,"total":2,"output":""}`, malformed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Parse(tt.stdout, m)
			if tt.malformed {
				if !errors.Is(err, ErrMalformed) {
					t.Fatalf("Parse() error = %v, want ErrMalformed", err)
				}
				if v.Display != tt.stdout {
					t.Errorf("Display = %q, want raw stdout", v.Display)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if v.Structured != tt.structured {
				t.Errorf("Structured = %v, want %v", v.Structured, tt.structured)
			}
			if v.Passed != tt.passed || v.Total != tt.total {
				t.Errorf("counts = %d/%d, want %d/%d", v.Passed, v.Total, tt.passed, tt.total)
			}
			if v.Display != tt.display {
				t.Errorf("Display = %q, want %q", v.Display, tt.display)
			}
		})
	}
}

func TestParseIgnoresOtherJobsMarker(t *testing.T) {
	other := NewMarker()
	stdout := other + "\n" + `{"passed":1,"total":1,"output":"x"}`
	v, err := Parse(stdout, NewMarker())
	if err != nil {
		t.Fatal(err)
	}
	if v.Structured {
		t.Error("foreign marker must not produce a structured verdict")
	}
}

func TestParseEmptyMarker(t *testing.T) {
	v, err := Parse("anything", "")
	if err != nil || v.Structured || v.Display != "anything" {
		t.Errorf("Parse with empty marker = %+v, %v", v, err)
	}
}
