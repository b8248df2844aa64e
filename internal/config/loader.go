// internal/config/loader.go
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/colebrumley/cortex/internal/rules"
)

// LoadGlobal loads the global configuration from a YAML file
func LoadGlobal(path string) (*Global, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Global
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyGlobalDefaults(&cfg)
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Global {
	var cfg Global
	applyGlobalDefaults(&cfg)
	return &cfg
}

// LoadRule loads one rule from a YAML file. The rule id defaults to the
// file name without extension and rules are active unless they say otherwise.
func LoadRule(path string) (rules.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return rules.Rule{}, fmt.Errorf("reading rule file: %w", err)
	}

	rule := rules.Rule{IsActive: true}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&rule); err != nil && !errors.Is(err, io.EOF) {
		return rules.Rule{}, fmt.Errorf("parsing rule file: %w", err)
	}

	if rule.ID == "" {
		rule.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	rule.Source = rules.SourceFile
	if err := rule.Validate(); err != nil {
		return rules.Rule{}, err
	}
	return rule, nil
}

// LoadRulesDir loads all rules from a directory
func LoadRulesDir(dir string) ([]rules.Rule, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading rules directory: %w", err)
	}

	var out []rules.Rule
	seen := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !IsRuleFile(entry.Name()) {
			continue
		}

		rule, err := LoadRule(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("loading rule %s: %w", entry.Name(), err)
		}
		if other, dup := seen[rule.ID]; dup {
			return nil, fmt.Errorf("rule id %q defined in both %s and %s", rule.ID, other, entry.Name())
		}
		seen[rule.ID] = entry.Name()
		out = append(out, rule)
	}

	return out, nil
}

// IsRuleFile reports whether name looks like a rule file.
func IsRuleFile(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}

// SupportDir is where cortex keeps its database and logs.
func SupportDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "Library", "Application Support", "cortex")
	}
	return filepath.Join(os.TempDir(), "cortex")
}

func applyGlobalDefaults(cfg *Global) {
	if cfg.Daemon.LogLevel == "" {
		cfg.Daemon.LogLevel = "info"
	}
	if cfg.Daemon.ListenPort == 0 {
		cfg.Daemon.ListenPort = 8080
	}
	if cfg.Daemon.ListenAddress == "" {
		cfg.Daemon.ListenAddress = "127.0.0.1"
	}
	if cfg.Daemon.RulesDir == "" {
		cfg.Daemon.RulesDir = filepath.Join(SupportDir(), "rules")
	}
	if cfg.Daemon.RateLimit <= 0 {
		cfg.Daemon.RateLimit = 20
	}
	if cfg.Daemon.RateBurst <= 0 {
		cfg.Daemon.RateBurst = 40
	}

	if cfg.Monitor.IntervalSeconds <= 0 {
		cfg.Monitor.IntervalSeconds = 5
	}
	if cfg.Monitor.CooldownSeconds <= 0 {
		cfg.Monitor.CooldownSeconds = 3
	}
	if cfg.Monitor.ClassifyTimeout <= 0 {
		cfg.Monitor.ClassifyTimeout = 30
	}
	if cfg.Monitor.ScreenshotURL == "" {
		cfg.Monitor.ScreenshotURL = "http://127.0.0.1:8090/screenshot"
	}
	if cfg.Monitor.ExtensionFreshSeconds <= 0 {
		cfg.Monitor.ExtensionFreshSeconds = 60
	}

	if cfg.Classifier.BaseURL == "" {
		cfg.Classifier.BaseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.Classifier.Model == "" {
		cfg.Classifier.Model = "openai/gpt-4o"
	}
	if cfg.Classifier.APIKeyEnv == "" {
		cfg.Classifier.APIKeyEnv = "OPENROUTER_API_KEY"
	}
	if cfg.Classifier.MaxTokens <= 0 {
		cfg.Classifier.MaxTokens = 300
	}

	if cfg.Storage.Path == "" {
		cfg.Storage.Path = filepath.Join(SupportDir(), "cortex.db")
	}
	if cfg.Storage.RetentionDays <= 0 {
		cfg.Storage.RetentionDays = 30
	}
	if cfg.Storage.RetentionSchedule == "" {
		cfg.Storage.RetentionSchedule = "0 0 3 * * *"
	}

	if cfg.Actions.AlertTitle == "" {
		cfg.Actions.AlertTitle = "Cortex"
	}
	if cfg.Actions.AlertGiveUpSeconds <= 0 {
		cfg.Actions.AlertGiveUpSeconds = 10
	}
	if cfg.Actions.BlockDurationSeconds <= 0 {
		cfg.Actions.BlockDurationSeconds = 300
	}
	if cfg.Actions.WebhookTimeoutSeconds <= 0 {
		cfg.Actions.WebhookTimeoutSeconds = 30
	}
	if cfg.Actions.WebhookRetryCount < 0 {
		cfg.Actions.WebhookRetryCount = 0
	}
	if cfg.Actions.LogPath == "" {
		cfg.Actions.LogPath = filepath.Join(SupportDir(), "actions.jsonl")
	}
	for name, s := range cfg.Actions.Scripts {
		if s.TimeoutSeconds <= 0 {
			s.TimeoutSeconds = 60
			cfg.Actions.Scripts[name] = s
		}
	}

	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.MaxSizeMB <= 0 {
		cfg.Logging.MaxSizeMB = 10
	}
}
