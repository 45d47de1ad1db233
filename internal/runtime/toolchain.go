package runtime

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/shlex"

	"codeexec/internal/process"
)

// Toolchain holds the command templates of one language. Templates are
// tokenized like a shell command line and support these placeholders:
//
//	{src}   absolute path of the user's source file
//	{srcs}  all source files of the program, as separate arguments
//	{bin}   absolute path of the build output
//	{dir}   the job workspace directory
//	{class} the JVM entry class
type Toolchain struct {
	Compile string `yaml:"compile"`
	Run     string `yaml:"run"`
}

// DefaultToolchains returns the built-in command templates.
func DefaultToolchains() map[string]Toolchain {
	out := make(map[string]Toolchain)
	for _, spec := range builtinLanguages() {
		out[spec.name] = spec.toolchain
	}
	return out
}

type commandTemplate []string

func parseTemplate(lang, phase, tpl string) (commandTemplate, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, nil
	}
	parts, err := shlex.Split(tpl)
	if err != nil {
		return nil, fmt.Errorf("%s %s command %q: %w", lang, phase, tpl, err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%s %s command is empty", lang, phase)
	}
	return parts, nil
}

// placeholders carries the per-job values substituted into a template.
type placeholders struct {
	src   string
	srcs  []string
	bin   string
	dir   string
	class string
}

func (t commandTemplate) expand(p placeholders) process.Command {
	r := strings.NewReplacer(
		"{src}", p.src,
		"{bin}", p.bin,
		"{dir}", p.dir,
		"{class}", p.class,
	)
	args := make([]string, 0, len(t)+len(p.srcs))
	for _, tok := range t {
		if tok == "{srcs}" {
			args = append(args, p.srcs...)
			continue
		}
		args = append(args, r.Replace(tok))
	}
	return process.Command{Name: args[0], Args: args[1:]}
}

func joinDir(dir string, names ...string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = filepath.Join(dir, n)
	}
	return out
}
