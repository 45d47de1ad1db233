package api

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDuration_MarshalJSON(t *testing.T) {
	d := Duration{Duration: 10 * time.Second}
	b, err := d.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	want := `"10s"`
	if string(b) != want {
		t.Errorf("MarshalJSON() = %s, want %s", b, want)
	}
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{`"10s"`, 10 * time.Second, false},
		{`"500ms"`, 500 * time.Millisecond, false},
		{`"1m"`, time.Minute, false},
		{`2500`, 2500 * time.Millisecond, false},
		{`0`, 0, false},
		{`null`, 0, false},
		{`"not-a-duration"`, 0, true},
		{`true`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var d Duration
			err := json.Unmarshal([]byte(tt.input), &d)
			if (err != nil) != tt.wantErr {
				t.Errorf("UnmarshalJSON(%s) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if !tt.wantErr && d.Duration != tt.want {
				t.Errorf("UnmarshalJSON(%s) = %s, want %s", tt.input, d.Duration, tt.want)
			}
		})
	}
}

func TestExecutionRequest_Decode(t *testing.T) {
	body := `{"code":"def solution(s): return s","language":"python",
		"testCases":[{"input":"a","expectedOutput":"a"}],"timeout":1500}`

	var req ExecutionRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatal(err)
	}
	er := req.toEngine()
	if er.Language != "python" || er.SourceCode == "" {
		t.Errorf("unexpected request %+v", er)
	}
	if len(er.TestCases) != 1 || er.TestCases[0].ExpectedOutput != "a" {
		t.Errorf("test cases = %+v", er.TestCases)
	}
	if er.Timeout != 1500*time.Millisecond {
		t.Errorf("timeout = %s, want 1.5s", er.Timeout)
	}
}
