// internal/config/loader_test.go
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/colebrumley/cortex/internal/rules"
)

func TestLoadGlobal(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	content := `
goal: ship the quarterly report
daemon:
  log_level: debug
  listen_port: 9090
monitor:
  interval_seconds: 10
  monitored_apps: [Safari, "Google Chrome"]
classifier:
  model: anthropic/claude-3.5-sonnet
actions:
  webhook_retry_count: 3
  scripts:
    focus:
      command: /usr/bin/shortcuts
      args: [run, Focus]
logging:
  format: text
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadGlobal(configPath)
	if err != nil {
		t.Fatalf("LoadGlobal failed: %v", err)
	}

	if cfg.Goal != "ship the quarterly report" {
		t.Errorf("unexpected goal %q", cfg.Goal)
	}
	if cfg.Daemon.LogLevel != "debug" {
		t.Errorf("expected log_level debug, got %s", cfg.Daemon.LogLevel)
	}
	if cfg.Daemon.ListenPort != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Daemon.ListenPort)
	}
	if len(cfg.Monitor.MonitoredApps) != 2 {
		t.Errorf("expected 2 monitored apps, got %v", cfg.Monitor.MonitoredApps)
	}
	if cfg.Classifier.Model != "anthropic/claude-3.5-sonnet" {
		t.Errorf("unexpected model %s", cfg.Classifier.Model)
	}
	if cfg.Actions.WebhookRetryCount != 3 {
		t.Errorf("expected retry count 3, got %d", cfg.Actions.WebhookRetryCount)
	}
	if got := cfg.Actions.Scripts["focus"].TimeoutSeconds; got != 60 {
		t.Errorf("expected default script timeout 60, got %d", got)
	}
}

func TestLoadGlobal_Defaults(t *testing.T) {
	cfg := Default()

	if cfg.Daemon.ListenAddress != "127.0.0.1" || cfg.Daemon.ListenPort != 8080 {
		t.Errorf("unexpected listen address %s:%d", cfg.Daemon.ListenAddress, cfg.Daemon.ListenPort)
	}
	if cfg.Monitor.Cooldown().Seconds() != 3 {
		t.Errorf("expected 3s cooldown, got %s", cfg.Monitor.Cooldown())
	}
	if cfg.Monitor.ClassifyTimeoutDuration().Seconds() != 30 {
		t.Errorf("expected 30s classify timeout, got %s", cfg.Monitor.ClassifyTimeoutDuration())
	}
	if cfg.Classifier.Model != "openai/gpt-4o" {
		t.Errorf("expected default model openai/gpt-4o, got %s", cfg.Classifier.Model)
	}
	if cfg.Classifier.APIKeyEnv != "OPENROUTER_API_KEY" {
		t.Errorf("unexpected api key env %s", cfg.Classifier.APIKeyEnv)
	}
	if cfg.Actions.WebhookTimeoutSeconds != 30 {
		t.Errorf("expected webhook timeout 30, got %d", cfg.Actions.WebhookTimeoutSeconds)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("expected json logging, got %s", cfg.Logging.Format)
	}
}

func TestLoadGlobal_Missing(t *testing.T) {
	_, err := LoadGlobal(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config")
	}
	if !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func writeRule(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const instagramRule = `
name: No doomscrolling
type: time_window
conditions:
  - field: domain
    operator: "=="
    value: instagram.com
time_window:
  duration_seconds: 300
  lookback_seconds: 600
actions:
  - type: alert
    parameters:
      message: "{{duration}} on {{domain}}"
  - type: block
    parameters:
      duration_seconds: 600
priority: 5
`

func TestLoadRule(t *testing.T) {
	path := writeRule(t, t.TempDir(), "instagram.yaml", instagramRule)

	rule, err := LoadRule(path)
	if err != nil {
		t.Fatalf("LoadRule failed: %v", err)
	}

	if rule.ID != "instagram" {
		t.Errorf("expected id from file name, got %s", rule.ID)
	}
	if rule.Name != "No doomscrolling" {
		t.Errorf("unexpected name %s", rule.Name)
	}
	if !rule.IsActive {
		t.Error("expected rule to default to active")
	}
	if rule.Source != rules.SourceFile {
		t.Errorf("expected source file, got %s", rule.Source)
	}
	if rule.LogicalOperator != rules.And {
		t.Errorf("expected AND default, got %s", rule.LogicalOperator)
	}
	if rule.TimeWindow == nil || rule.TimeWindow.DurationSeconds != 300 {
		t.Fatalf("time window not decoded: %+v", rule.TimeWindow)
	}
	if len(rule.Actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(rule.Actions))
	}
	if d, _ := rule.Actions[1].Parameters["duration_seconds"].AsInt(); d != 600 {
		t.Errorf("expected block duration 600, got %d", d)
	}
}

func TestLoadRule_Inactive(t *testing.T) {
	path := writeRule(t, t.TempDir(), "off.yaml", instagramRule+"is_active: false\n")
	rule, err := LoadRule(path)
	if err != nil {
		t.Fatalf("LoadRule failed: %v", err)
	}
	if rule.IsActive {
		t.Error("expected is_active: false to be honored")
	}
}

func TestLoadRule_UnknownField(t *testing.T) {
	path := writeRule(t, t.TempDir(), "typo.yaml", instagramRule+"prioirty: 3\n")
	if _, err := LoadRule(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadRule_Invalid(t *testing.T) {
	content := strings.Replace(instagramRule, "lookback_seconds: 600", "lookback_seconds: 60", 1)
	path := writeRule(t, t.TempDir(), "bad.yaml", content)

	_, err := LoadRule(path)
	if !errors.Is(err, rules.ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}
}

func TestLoadRulesDir(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "a.yaml", instagramRule)
	writeRule(t, dir, "b.yml", strings.Replace(instagramRule, "No doomscrolling", "Second", 1))
	writeRule(t, dir, "notes.txt", "not a rule")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0700); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadRulesDir(dir)
	if err != nil {
		t.Fatalf("LoadRulesDir failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(loaded))
	}
	if loaded[0].ID != "a" || loaded[1].ID != "b" {
		t.Errorf("unexpected ids %s, %s", loaded[0].ID, loaded[1].ID)
	}
}

func TestLoadRulesDir_DuplicateID(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "a.yaml", "id: same\n"+instagramRule)
	writeRule(t, dir, "b.yaml", "id: same\n"+instagramRule)

	_, err := LoadRulesDir(dir)
	if err == nil || !strings.Contains(err.Error(), "defined in both") {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
}
