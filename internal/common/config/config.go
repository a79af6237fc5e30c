// Package config loads gateway configuration with precedence
// environment > config file > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config file names probed in order, walking up to five parent directories.
var configFileNames = []string{"baton.config.json", ".batonrc.json", "baton.json"}

const maxSearchDepth = 5

// ProjectConfig sets the default working directory for new conversations.
type ProjectConfig struct {
	Path string `mapstructure:"path"`
	Name string `mapstructure:"name"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig configures the webhook HTTP server.
type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

// ReadTimeoutDuration returns the read timeout as a duration.
func (s ServerConfig) ReadTimeoutDuration() time.Duration {
	if s.ReadTimeout <= 0 {
		return 15 * time.Second
	}
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a duration.
func (s ServerConfig) WriteTimeoutDuration() time.Duration {
	if s.WriteTimeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.WriteTimeout) * time.Second
}

// ACPConfig overrides how the agent child process is launched.
type ACPConfig struct {
	Command  string            `mapstructure:"command"`
	Args     []string          `mapstructure:"args"`
	Cwd      string            `mapstructure:"cwd"`
	Env      map[string]string `mapstructure:"env"`
	Executor string            `mapstructure:"executor"` // opencode, claude-code, codex
}

// FeishuCardConfig configures interactive card behavior.
type FeishuCardConfig struct {
	PermissionTimeout int `mapstructure:"permission_timeout"` // milliseconds
}

// FeishuConfig configures the Feishu long-connection transport.
type FeishuConfig struct {
	AppID     string           `mapstructure:"app_id"`
	AppSecret string           `mapstructure:"app_secret"`
	Domain    string           `mapstructure:"domain"`
	Card      FeishuCardConfig `mapstructure:"card"`
}

// TelegramConfig configures the Telegram long-poll transport.
type TelegramConfig struct {
	BotToken          string `mapstructure:"bot_token"`
	APIBase           string `mapstructure:"api_base"`
	PermissionTimeout int    `mapstructure:"permission_timeout"` // milliseconds
}

// WacliConfig configures the CLI-polling WhatsApp variant.
type WacliConfig struct {
	Bin            string `mapstructure:"bin"`
	StoreDir       string `mapstructure:"store_dir"`
	PollIntervalMs int    `mapstructure:"poll_interval_ms"`
}

// WhatsAppConfig configures the WhatsApp transport.
type WhatsAppConfig struct {
	AccessToken   string      `mapstructure:"access_token"`
	PhoneNumberID string      `mapstructure:"phone_number_id"`
	Wacli         WacliConfig `mapstructure:"wacli"`
}

// SlackConfig configures the Slack webhook transport.
type SlackConfig struct {
	BotToken      string `mapstructure:"bot_token"`
	SigningSecret string `mapstructure:"signing_secret"`
	Port          int    `mapstructure:"port"`
	WebhookPath   string `mapstructure:"webhook_path"`
}

// DiscordConfig configures the Discord webhook transport.
type DiscordConfig struct {
	BotToken    string `mapstructure:"bot_token"`
	PublicKey   string `mapstructure:"public_key"`
	Port        int    `mapstructure:"port"`
	WebhookPath string `mapstructure:"webhook_path"`
}

// EventsConfig configures event distribution.
type EventsConfig struct {
	NATSURL string `mapstructure:"nats_url"`
}

// ReposConfig configures repository inventory scanning.
type ReposConfig struct {
	Root string `mapstructure:"root"`
}

// Config is the full gateway configuration.
type Config struct {
	Project  ProjectConfig  `mapstructure:"project"`
	Language string         `mapstructure:"language"` // en, zh-CN
	Logging  LoggingConfig  `mapstructure:"logging"`
	Server   ServerConfig   `mapstructure:"server"`
	Repos    ReposConfig    `mapstructure:"repos"`
	ACP      ACPConfig      `mapstructure:"acp"`
	Feishu   FeishuConfig   `mapstructure:"feishu"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	WhatsApp WhatsAppConfig `mapstructure:"whatsapp"`
	Slack    SlackConfig    `mapstructure:"slack"`
	Discord  DiscordConfig  `mapstructure:"discord"`
	Events   EventsConfig   `mapstructure:"events"`

	// PermissionTimeoutMs bounds how long an interaction stays pending
	// before the fallback option is chosen.
	PermissionTimeoutMs int `mapstructure:"permission_timeout_ms"`

	// DedupTTLSeconds bounds the duplicate-delivery suppression window.
	DedupTTLSeconds int `mapstructure:"dedup_ttl_seconds"`
}

// PermissionTimeout returns the pending-interaction timeout as a duration.
func (c *Config) PermissionTimeout() time.Duration {
	if c.PermissionTimeoutMs <= 0 {
		return 300 * time.Second
	}
	return time.Duration(c.PermissionTimeoutMs) * time.Millisecond
}

// DedupTTL returns the duplicate-suppression window as a duration.
func (c *Config) DedupTTL() time.Duration {
	if c.DedupTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.DedupTTLSeconds) * time.Second
}

// Load loads configuration from the first config file found (walking up from
// dir), overlaid with BATON_* environment variables. An explicit file path
// skips the search. dir and file may be empty.
func Load(dir, file string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix("BATON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	path := file
	if path == "" {
		path = findConfigFile(dir)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("language", "en")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("server.port", 8090)
	v.SetDefault("slack.webhook_path", "/webhook/slack")
	v.SetDefault("discord.webhook_path", "/webhook/discord")
	v.SetDefault("telegram.api_base", "https://api.telegram.org")
	v.SetDefault("whatsapp.wacli.poll_interval_ms", 1500)
	v.SetDefault("permission_timeout_ms", 300000)
	v.SetDefault("dedup_ttl_seconds", 300)
}

// findConfigFile walks up from dir probing the known file names.
func findConfigFile(dir string) string {
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			return ""
		}
	}
	dir, _ = filepath.Abs(dir)

	for i := 0; i <= maxSearchDepth; i++ {
		for _, name := range configFileNames {
			candidate := filepath.Join(dir, name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}
