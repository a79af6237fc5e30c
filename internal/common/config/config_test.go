package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir(), "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Language != "en" || cfg.Server.Port != 8090 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.PermissionTimeout() != 300*time.Second {
		t.Errorf("unexpected permission timeout %v", cfg.PermissionTimeout())
	}
	if cfg.DedupTTL() != 5*time.Minute {
		t.Errorf("unexpected dedup ttl %v", cfg.DedupTTL())
	}
}

func TestLoadExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "custom.json", `{
		"language": "zh-CN",
		"project": {"path": "/srv/work"},
		"slack": {"bot_token": "xoxb-1", "signing_secret": "s1"},
		"permission_timeout_ms": 60000
	}`)

	cfg, err := Load("", path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Language != "zh-CN" || cfg.Project.Path != "/srv/work" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Slack.BotToken != "xoxb-1" {
		t.Errorf("nested values not applied: %+v", cfg.Slack)
	}
	if cfg.PermissionTimeout() != time.Minute {
		t.Errorf("unexpected permission timeout %v", cfg.PermissionTimeout())
	}
}

func TestFindConfigFileWalksUp(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "baton.config.json", `{"language": "en"}`)

	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	cfg, err := Load(nested, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Language != "en" {
		t.Errorf("parent config not found: %+v", cfg)
	}
}

func TestLoadRejectsBadJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "baton.json", `{not json`)
	if _, err := Load("", path); err == nil {
		t.Error("expected error for malformed config file")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("BATON_LANGUAGE", "zh-CN")
	cfg, err := Load(t.TempDir(), "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Language != "zh-CN" {
		t.Errorf("env override not applied, got %q", cfg.Language)
	}
}
