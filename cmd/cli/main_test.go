package main

import (
	"os"
	"path/filepath"
	"testing"

	"codeexec/internal/engine"
)

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{"solution.py", "python", false},
		{"Main.java", "java", false},
		{"a/b/prog.CPP", "cpp", false},
		{"x.rs", "rust", false},
		{"x.cs", "csharp", false},
		{"script.sh", "", true},
		{"noext", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := detectLanguage(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("detectLanguage(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("detectLanguage(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestLoadTestCases(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "cases.yaml")
	if err := os.WriteFile(yamlPath, []byte("- input: \"1 2\"\n  expectedOutput: \"3\"\n- input: \"\"\n  expectedOutput: 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cases, err := loadTestCases(yamlPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(cases) != 2 || cases[0].Input != "1 2" || cases[1].ExpectedOutput != "0" {
		t.Errorf("yaml cases = %+v", cases)
	}

	jsonPath := filepath.Join(dir, "cases.json")
	if err := os.WriteFile(jsonPath, []byte(`[{"input":"a","expectedOutput":"A"}]`), 0o600); err != nil {
		t.Fatal(err)
	}
	cases, err = loadTestCases(jsonPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(cases) != 1 || cases[0].ExpectedOutput != "A" {
		t.Errorf("json cases = %+v", cases)
	}

	if cases, err := loadTestCases(""); err != nil || cases != nil {
		t.Errorf("empty path = %v, %v", cases, err)
	}
	if _, err := loadTestCases(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestPassed(t *testing.T) {
	two, three := 2, 3
	tests := []struct {
		name string
		res  engine.Result
		want bool
	}{
		{"free run ok", engine.Result{Success: true, Status: engine.StatusOK}, true},
		{"all cases pass", engine.Result{Success: true, Status: engine.StatusOK, TestsPassed: &three, TestsTotal: &three}, true},
		{"some cases fail", engine.Result{Success: true, Status: engine.StatusOK, TestsPassed: &two, TestsTotal: &three}, false},
		{"compile error", engine.Result{Status: engine.StatusCompileError}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := passed(&tt.res); got != tt.want {
				t.Errorf("passed() = %v, want %v", got, tt.want)
			}
		})
	}
}
