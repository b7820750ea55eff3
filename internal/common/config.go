package common

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/adsum/internal/models"
)

// Config represents the application configuration. Accounts and
// settings follow the original JSON accounts-file layout; the rest
// are adsum-specific sections.
type Config struct {
	Accounts []models.Account `toml:"accounts" json:"accounts" yaml:"accounts"`
	Settings Settings         `toml:"settings" json:"settings" yaml:"settings"`
	Logging  LoggingConfig    `toml:"logging" json:"logging" yaml:"logging"`
	Browser  BrowserConfig    `toml:"browser" json:"browser" yaml:"browser"`
	Storage  StorageConfig    `toml:"storage" json:"storage" yaml:"storage"`
	Report   ReportConfig     `toml:"report" json:"report" yaml:"report"`
	Mail     MailConfig       `toml:"mail" json:"mail" yaml:"mail"`
}

// Settings is the batch-level configuration block.
type Settings struct {
	MinDelay            int                   `toml:"min_delay" json:"min_delay" yaml:"min_delay" validate:"gte=0"` // seconds between accounts
	MaxDelay            int                   `toml:"max_delay" json:"max_delay" yaml:"max_delay" validate:"gtefield=MinDelay"`
	Headless            bool                  `toml:"headless" json:"headless" yaml:"headless"`
	Proxy               string                `toml:"proxy" json:"proxy" yaml:"proxy"`
	MaxRetries          int                   `toml:"max_retries" json:"max_retries" yaml:"max_retries" validate:"gte=0,lte=10"`
	RetryDelayHours     float64               `toml:"retry_delay_hours" json:"retry_delay_hours" yaml:"retry_delay_hours" validate:"gte=0"`
	RemoteDebugEndpoint string                `toml:"remote_debug_endpoint" json:"remote_debug_endpoint" yaml:"remote_debug_endpoint"`
	BaseURL             string                `toml:"base_url" json:"base_url" yaml:"base_url"` // legacy top-level key, overlays Site.BaseURL
	Site                *models.SiteOverrides `toml:"site" json:"site" yaml:"site"`
	Schedule            string                `toml:"schedule" json:"schedule" yaml:"schedule"` // cron spec for schedule mode, empty = run once
}

// RetryDelay returns the inter-round backoff as a duration.
func (s Settings) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelayHours * float64(time.Hour))
}

type LoggingConfig struct {
	Level  string   `toml:"level" json:"level" yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Output []string `toml:"output" json:"output" yaml:"output"` // "stdout", "file"
}

// BrowserConfig carries the anti-detection knobs passed through to
// the session driver. None of these affect core decisions.
type BrowserConfig struct {
	UserAgent         string `toml:"user_agent" json:"user_agent" yaml:"user_agent"`
	NoSandbox         bool   `toml:"no_sandbox" json:"no_sandbox" yaml:"no_sandbox"`
	DisableGPU        bool   `toml:"disable_gpu" json:"disable_gpu" yaml:"disable_gpu"`
	RandomizeViewport bool   `toml:"randomize_viewport" json:"randomize_viewport" yaml:"randomize_viewport"`
	Locale            string `toml:"locale" json:"locale" yaml:"locale"`
	Timezone          string `toml:"timezone" json:"timezone" yaml:"timezone"`
	NavTimeoutSeconds int    `toml:"nav_timeout_seconds" json:"nav_timeout_seconds" yaml:"nav_timeout_seconds" validate:"gte=0"`
	APIRatePerSecond  int    `toml:"api_rate_per_second" json:"api_rate_per_second" yaml:"api_rate_per_second" validate:"gte=0"`
}

type StorageConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Path    string `toml:"path" json:"path" yaml:"path"`
}

type ReportConfig struct {
	OutputDir string   `toml:"output_dir" json:"output_dir" yaml:"output_dir"`
	Formats   []string `toml:"formats" json:"formats" yaml:"formats" validate:"dive,oneof=csv json text"`
}

// MailConfig holds SMTP settings for the end-of-run notification.
type MailConfig struct {
	Host     string `toml:"host" json:"host" yaml:"host"`
	Port     int    `toml:"port" json:"port" yaml:"port" validate:"gte=0,lte=65535"`
	Username string `toml:"username" json:"username" yaml:"username"`
	Password string `toml:"password" json:"password" yaml:"password"`
	From     string `toml:"from" json:"from" yaml:"from" validate:"omitempty,email"`
	FromName string `toml:"from_name" json:"from_name" yaml:"from_name"`
	To       string `toml:"to" json:"to" yaml:"to" validate:"omitempty,email"`
	UseTLS   bool   `toml:"use_tls" json:"use_tls" yaml:"use_tls"`
}

// NewDefaultConfig creates a configuration with default values.
// Only user-facing settings are expected in config files; technical
// parameters default here.
func NewDefaultConfig() *Config {
	return &Config{
		Settings: Settings{
			MinDelay:        60,
			MaxDelay:        180,
			Headless:        true,
			MaxRetries:      0,
			RetryDelayHours: 6,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Browser: BrowserConfig{
			UserAgent:         "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.0.0 Safari/537.36",
			NoSandbox:         true,
			RandomizeViewport: true,
			Locale:            "zh-CN",
			Timezone:          "Asia/Shanghai",
			NavTimeoutSeconds: 60,
			APIRatePerSecond:  2,
		},
		Storage: StorageConfig{
			Enabled: true,
			Path:    "./data/runs",
		},
		Report: ReportConfig{
			OutputDir: "./results",
			Formats:   []string{"csv", "json", "text"},
		},
		Mail: MailConfig{
			Port:     587,
			FromName: "Adsum",
			UseTLS:   true,
		},
	}
}

// LoadFromFiles loads configuration starting from defaults and
// merging each file in order; later files override earlier ones.
// The format is chosen by extension: .toml, .json (original accounts
// file format) or .yaml/.yml.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".json":
			err = json.Unmarshal(data, config)
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, config)
		default:
			err = toml.Unmarshal(data, config)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	if err := Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the loaded configuration against its validate tags.
func Validate(config *Config) error {
	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ApplyFlagOverrides applies command-line flag values on top of the
// loaded configuration. Flags have the highest priority.
func ApplyFlagOverrides(config *Config, headless string, schedule string) {
	switch strings.ToLower(headless) {
	case "true", "1", "yes":
		config.Settings.Headless = true
	case "false", "0", "no":
		config.Settings.Headless = false
	}
	if schedule != "" {
		config.Settings.Schedule = schedule
	}
}
