// Package runtime describes how each supported language is compiled, run and
// wrapped with a test harness. Adapters are data: a toolchain command
// template plus a harness template, so adding a language adds no branching.
package runtime

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"codeexec/internal/process"
)

// ErrUnsupportedLanguage is returned by Registry.Get for unknown identifiers.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// EntryPoint is the symbol user code must define when test cases are given.
const EntryPoint = "solution"

// TestCase is one input/expected-output pair supplied by the caller.
type TestCase struct {
	Input          string `json:"input" yaml:"input"`
	ExpectedOutput string `json:"expectedOutput" yaml:"expectedOutput"`
}

// Target identifies the files of one job inside its workspace.
type Target struct {
	JobID string
	Dir   string
	// Source is the base name of the user's source file.
	Source string
	// Harnessed is true when test cases were supplied.
	Harnessed bool
}

// File is a source file to materialize in the workspace.
type File struct {
	Name    string
	Content string
}

// Program is the complete set of files written before compilation. Source
// always contains the user's code verbatim; Companions hold driver code that
// cannot share a file with it.
type Program struct {
	Source     File
	Companions []File
}

// Files returns Source followed by Companions.
func (p Program) Files() []File {
	return append([]File{p.Source}, p.Companions...)
}

// Adapter encapsulates the compile, run, wrap and cleanup behaviour of one
// language.
type Adapter interface {
	// Name returns the canonical language identifier.
	Name() string

	// SourceFileName returns the file name for the user's code. Names embed
	// the job id unless the language derives them from the code itself.
	SourceFileName(jobID, code string, harnessed bool) string

	// NeedsCompile reports whether a compile step precedes the run step.
	NeedsCompile() bool

	// CompileCommand returns the compile command, or false when the
	// language is interpreted.
	CompileCommand(t Target) (process.Command, bool)

	// RunCommand returns the command that executes the program.
	RunCommand(t Target) process.Command

	// Wrap produces the program files. With no test cases the user code is
	// returned unmodified.
	Wrap(t Target, code string, cases []TestCase, marker string) (Program, error)

	// Artifacts returns build outputs beyond the source files.
	Artifacts(t Target) []string

	// Validate is a best-effort pre-check of the submitted code.
	Validate(code string) error
}

// Registry maps language identifiers to adapters.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates a registry with all supported languages. Toolchain
// entries in overrides replace the built-in command templates.
func NewRegistry(overrides map[string]Toolchain) (*Registry, error) {
	r := &Registry{adapters: make(map[string]Adapter)}

	toolchains := DefaultToolchains()
	for name, tc := range overrides {
		name = Normalize(name)
		base, ok := toolchains[name]
		if !ok {
			return nil, fmt.Errorf("toolchain override for %w %q", ErrUnsupportedLanguage, name)
		}
		if tc.Compile != "" {
			base.Compile = tc.Compile
		}
		if tc.Run != "" {
			base.Run = tc.Run
		}
		toolchains[name] = base
	}

	for _, spec := range builtinLanguages() {
		lang, err := newLanguage(spec, toolchains[spec.name])
		if err != nil {
			return nil, err
		}
		r.Register(lang)
	}
	return r, nil
}

// Register adds an adapter, replacing any with the same name.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Name()] = a
}

// Get returns the adapter for the given language or alias.
func (r *Registry) Get(language string) (Adapter, error) {
	a, ok := r.adapters[Normalize(language)]
	if !ok {
		return nil, fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedLanguage, language, strings.Join(r.Languages(), ", "))
	}
	return a, nil
}

// Languages returns all registered language names in sorted order.
func (r *Registry) Languages() []string {
	langs := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		langs = append(langs, name)
	}
	sort.Strings(langs)
	return langs
}

var aliases = map[string]string{
	"js":      "javascript",
	"node":    "javascript",
	"nodejs":  "javascript",
	"py":      "python",
	"python3": "python",
	"c++":     "cpp",
	"cxx":     "cpp",
	"cs":      "csharp",
	"c#":      "csharp",
	"golang":  "go",
	"rs":      "rust",
}

// Normalize lowercases language and resolves common aliases.
func Normalize(language string) string {
	l := strings.ToLower(strings.TrimSpace(language))
	if canonical, ok := aliases[l]; ok {
		return canonical
	}
	return l
}
