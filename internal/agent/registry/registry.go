// Package registry resolves how the coding-agent child process is launched.
// A short executor tag maps to a known ACP-speaking command line; an explicit
// command in configuration overrides the tag entirely.
package registry

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/baton-gw/baton/internal/common/config"
)

// LaunchSpec is the fully resolved child-process invocation.
type LaunchSpec struct {
	Command string
	Args    []string
	Cwd     string
	Env     []string // KEY=VALUE pairs appended to the inherited environment
}

// executorCommands maps executor tags to their ACP entry points.
var executorCommands = map[string]LaunchSpec{
	"opencode":    {Command: "opencode", Args: []string{"acp"}},
	"claude-code": {Command: "claude-code-acp"},
	"codex":       {Command: "codex-acp"},
}

// DefaultExecutor is used when neither a command nor an executor is configured.
const DefaultExecutor = "opencode"

// Executors returns the known executor tags, sorted.
func Executors() []string {
	tags := make([]string, 0, len(executorCommands))
	for tag := range executorCommands {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Resolve builds the launch spec for a session rooted at projectPath.
// Precedence: explicit command > executor tag > default executor. A relative
// cwd is resolved against projectPath; an empty cwd means projectPath itself.
func Resolve(cfg config.ACPConfig, projectPath string) (LaunchSpec, error) {
	var spec LaunchSpec

	switch {
	case cfg.Command != "":
		spec.Command = cfg.Command
		spec.Args = append([]string(nil), cfg.Args...)
	default:
		tag := cfg.Executor
		if tag == "" {
			tag = DefaultExecutor
		}
		known, ok := executorCommands[tag]
		if !ok {
			return LaunchSpec{}, fmt.Errorf("unknown executor %q (known: %v)", tag, Executors())
		}
		spec.Command = known.Command
		spec.Args = append([]string(nil), known.Args...)
	}

	cwd := cfg.Cwd
	switch {
	case cwd == "":
		cwd = projectPath
	case !filepath.IsAbs(cwd):
		cwd = filepath.Join(projectPath, cwd)
	}
	spec.Cwd = cwd

	for k, v := range cfg.Env {
		spec.Env = append(spec.Env, k+"="+v)
	}
	sort.Strings(spec.Env)

	return spec, nil
}
