package registry

import (
	"path/filepath"
	"testing"

	"github.com/baton-gw/baton/internal/common/config"
)

func TestResolveDefaultExecutor(t *testing.T) {
	spec, err := Resolve(config.ACPConfig{}, "/work/proj")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if spec.Command != "opencode" {
		t.Errorf("expected opencode, got %s", spec.Command)
	}
	if len(spec.Args) != 1 || spec.Args[0] != "acp" {
		t.Errorf("expected args [acp], got %v", spec.Args)
	}
	if spec.Cwd != "/work/proj" {
		t.Errorf("expected cwd /work/proj, got %s", spec.Cwd)
	}
}

func TestResolveExecutorTags(t *testing.T) {
	cases := map[string]string{
		"claude-code": "claude-code-acp",
		"codex":       "codex-acp",
	}
	for tag, want := range cases {
		spec, err := Resolve(config.ACPConfig{Executor: tag}, "/p")
		if err != nil {
			t.Fatalf("Resolve(%s) failed: %v", tag, err)
		}
		if spec.Command != want {
			t.Errorf("executor %s: expected command %s, got %s", tag, want, spec.Command)
		}
	}
}

func TestResolveUnknownExecutor(t *testing.T) {
	if _, err := Resolve(config.ACPConfig{Executor: "mystery"}, "/p"); err == nil {
		t.Fatal("expected error for unknown executor")
	}
}

func TestResolveExplicitCommandWins(t *testing.T) {
	cfg := config.ACPConfig{
		Command:  "/usr/local/bin/my-agent",
		Args:     []string{"--stdio"},
		Executor: "codex", // ignored when command is set
	}
	spec, err := Resolve(cfg, "/p")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if spec.Command != "/usr/local/bin/my-agent" {
		t.Errorf("expected explicit command, got %s", spec.Command)
	}
	if len(spec.Args) != 1 || spec.Args[0] != "--stdio" {
		t.Errorf("expected args [--stdio], got %v", spec.Args)
	}
}

func TestResolveRelativeCwd(t *testing.T) {
	spec, err := Resolve(config.ACPConfig{Cwd: "sub/dir"}, "/work/proj")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	want := filepath.Join("/work/proj", "sub/dir")
	if spec.Cwd != want {
		t.Errorf("expected cwd %s, got %s", want, spec.Cwd)
	}
}

func TestResolveEnvSorted(t *testing.T) {
	spec, err := Resolve(config.ACPConfig{Env: map[string]string{"B": "2", "A": "1"}}, "/p")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(spec.Env) != 2 || spec.Env[0] != "A=1" || spec.Env[1] != "B=2" {
		t.Errorf("expected sorted env [A=1 B=2], got %v", spec.Env)
	}
}
