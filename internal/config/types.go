// internal/config/types.go
package config

import "time"

// Global configuration loaded from config.yaml
type Global struct {
	Daemon     DaemonConfig     `yaml:"daemon"`
	Goal       string           `yaml:"goal"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Storage    StorageConfig    `yaml:"storage"`
	Actions    ActionsConfig    `yaml:"actions"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type DaemonConfig struct {
	LogLevel      string  `yaml:"log_level"`
	ListenAddress string  `yaml:"listen_address"`
	ListenPort    int     `yaml:"listen_port"` // API, extension bridge and MCP
	RulesDir      string  `yaml:"rules_dir"`
	RateLimit     float64 `yaml:"rate_limit"` // requests per second across the API
	RateBurst     int     `yaml:"rate_burst"`
}

type MonitorConfig struct {
	IntervalSeconds       int      `yaml:"interval_seconds"`
	CooldownSeconds       int      `yaml:"cooldown_seconds"`
	ClassifyTimeout       int      `yaml:"classify_timeout_seconds"`
	MonitoredApps         []string `yaml:"monitored_apps"` // empty = every app
	BrowserApps           []string `yaml:"browser_apps"`   // bundle ids or names that get extension data
	CaptureScreenshot     bool     `yaml:"capture_screenshot"`
	ScreenshotURL         string   `yaml:"screenshot_url"`
	ExtensionFreshSeconds int      `yaml:"extension_fresh_seconds"`
}

type ClassifierConfig struct {
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	MaxTokens int    `yaml:"max_tokens"`
}

type StorageConfig struct {
	Path              string `yaml:"path"`
	RetentionDays     int    `yaml:"retention_days"`
	RetentionSchedule string `yaml:"retention_schedule"` // cron with seconds, HH:MM or a duration
	MaxEvents         int    `yaml:"max_events"`         // 0 keeps every event inside retention
}

type ActionsConfig struct {
	AlertTitle            string                  `yaml:"alert_title"`
	AlertGiveUpSeconds    int                     `yaml:"alert_give_up_seconds"`
	BlockDurationSeconds  int                     `yaml:"block_duration_seconds"`
	WebhookTimeoutSeconds int                     `yaml:"webhook_timeout_seconds"`
	WebhookRetryCount     int                     `yaml:"webhook_retry_count"`
	LogPath               string                  `yaml:"log_path"`
	Scripts               map[string]ScriptConfig `yaml:"scripts"`
}

// ScriptConfig is an automation script runnable by the "script" action.
type ScriptConfig struct {
	Command        string            `yaml:"command"`
	Args           []string          `yaml:"args"`
	WorkDir        string            `yaml:"work_dir"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	EnvVars        map[string]string `yaml:"env_vars"`
}

type LoggingConfig struct {
	Format    string `yaml:"format"`
	Debug     bool   `yaml:"debug"`
	Path      string `yaml:"path"`
	MaxSizeMB int    `yaml:"max_size_mb"`
}

func (m MonitorConfig) Interval() time.Duration {
	return time.Duration(m.IntervalSeconds) * time.Second
}

func (m MonitorConfig) Cooldown() time.Duration {
	return time.Duration(m.CooldownSeconds) * time.Second
}

func (m MonitorConfig) ClassifyTimeoutDuration() time.Duration {
	return time.Duration(m.ClassifyTimeout) * time.Second
}

func (s ScriptConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}
