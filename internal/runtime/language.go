package runtime

import (
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	"codeexec/internal/process"
)

// languageSpec is the static description of one language.
type languageSpec struct {
	name      string
	ext       string
	binExt    string
	toolchain Toolchain
	// harness is a text/template rendered with harnessData.
	harness string
	// quote renders a Go string as a string literal of the language.
	quote func(string) string
	// companion puts the rendered harness in its own file instead of
	// appending it to the user's code.
	companion bool

	sourceName func(jobID, code string, harnessed bool) string
	entryClass func(t Target) string
	artifacts  func(t Target) []string
}

type harnessCase struct {
	Input    string
	Expected string
}

type harnessData struct {
	JobID  string
	Code   string
	Marker string
	Cases  []harnessCase
}

type language struct {
	spec    languageSpec
	compile commandTemplate
	run     commandTemplate
	harness *template.Template
}

func newLanguage(spec languageSpec, tc Toolchain) (*language, error) {
	compile, err := parseTemplate(spec.name, "compile", tc.Compile)
	if err != nil {
		return nil, err
	}
	run, err := parseTemplate(spec.name, "run", tc.Run)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("%s: run command is required", spec.name)
	}
	harness, err := template.New(spec.name).Parse(spec.harness)
	if err != nil {
		return nil, fmt.Errorf("%s harness template: %w", spec.name, err)
	}
	return &language{spec: spec, compile: compile, run: run, harness: harness}, nil
}

func (l *language) Name() string { return l.spec.name }

func (l *language) SourceFileName(jobID, code string, harnessed bool) string {
	if l.spec.sourceName != nil {
		return l.spec.sourceName(jobID, code, harnessed)
	}
	return "solution_" + jobID + l.spec.ext
}

func (l *language) NeedsCompile() bool { return l.compile != nil }

func (l *language) CompileCommand(t Target) (process.Command, bool) {
	if l.compile == nil {
		return process.Command{}, false
	}
	return l.compile.expand(l.placeholders(t)), true
}

func (l *language) RunCommand(t Target) process.Command {
	return l.run.expand(l.placeholders(t))
}

func (l *language) Wrap(t Target, code string, cases []TestCase, marker string) (Program, error) {
	if len(cases) == 0 {
		return Program{Source: File{Name: t.Source, Content: code}}, nil
	}

	data := harnessData{
		JobID:  t.JobID,
		Marker: l.spec.quote(marker),
		Cases:  make([]harnessCase, len(cases)),
	}
	for i, tc := range cases {
		data.Cases[i] = harnessCase{
			Input:    l.spec.quote(tc.Input),
			Expected: l.spec.quote(tc.ExpectedOutput),
		}
	}
	if !l.spec.companion {
		data.Code = code
	}

	var b strings.Builder
	if err := l.harness.Execute(&b, data); err != nil {
		return Program{}, fmt.Errorf("rendering %s harness: %w", l.spec.name, err)
	}

	if l.spec.companion {
		return Program{
			Source:     File{Name: t.Source, Content: code},
			Companions: []File{{Name: l.companionName(t.JobID), Content: b.String()}},
		}, nil
	}
	return Program{Source: File{Name: t.Source, Content: b.String()}}, nil
}

func (l *language) Artifacts(t Target) []string {
	if l.spec.artifacts != nil {
		return l.spec.artifacts(t)
	}
	if l.compile == nil {
		return nil
	}
	return []string{l.binPath(t)}
}

func (l *language) Validate(code string) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("empty code")
	}
	return nil
}

func (l *language) companionName(jobID string) string {
	return "harness_" + jobID + l.spec.ext
}

func (l *language) binPath(t Target) string {
	return filepath.Join(t.Dir, "solution_"+t.JobID+l.spec.binExt)
}

func (l *language) placeholders(t Target) placeholders {
	src := filepath.Join(t.Dir, t.Source)
	p := placeholders{
		src:  src,
		srcs: []string{src},
		bin:  l.binPath(t),
		dir:  t.Dir,
	}
	if t.Harnessed && l.spec.companion {
		p.srcs = append(p.srcs, joinDir(t.Dir, l.companionName(t.JobID))...)
	}
	if l.spec.entryClass != nil {
		p.class = l.spec.entryClass(t)
	}
	return p
}

func builtinLanguages() []languageSpec {
	return []languageSpec{
		javascriptSpec,
		pythonSpec,
		javaSpec,
		cppSpec,
		csharpSpec,
		goSpec,
		rustSpec,
	}
}
