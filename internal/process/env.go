package process

import (
	"os"
	"strings"
)

// inheritedEnv lists the server variables child processes may see. Toolchains
// need these to locate binaries, caches and locales; everything else, such as
// API keys and database DSNs, stays with the server.
var inheritedEnv = map[string]bool{
	"PATH":             true,
	"HOME":             true,
	"USER":             true,
	"LANG":             true,
	"TZ":               true,
	"TMPDIR":           true,
	"GOCACHE":          true,
	"GOPATH":           true,
	"GOROOT":           true,
	"GOMODCACHE":       true,
	"GOFLAGS":          true,
	"GOPROXY":          true,
	"GOTOOLCHAIN":      true,
	"JAVA_HOME":        true,
	"CARGO_HOME":       true,
	"RUSTUP_HOME":      true,
	"RUSTUP_TOOLCHAIN": true,
	"NODE_PATH":        true,
	"DOTNET_ROOT":      true,
	"DOTNET_CLI_HOME":  true,
	"MONO_PATH":        true,
	"MONO_CFG_DIR":     true,
}

// childEnv returns the allowlisted part of environ followed by extra.
func childEnv(environ, extra []string) []string {
	env := make([]string, 0, len(extra)+8)
	for _, kv := range environ {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if inheritedEnv[name] || strings.HasPrefix(name, "LC_") {
			env = append(env, kv)
		}
	}
	return append(env, extra...)
}

func processEnv(extra []string) []string {
	return childEnv(os.Environ(), extra)
}
