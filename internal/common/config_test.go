package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	assert.Equal(t, 60, config.Settings.MinDelay)
	assert.Equal(t, 180, config.Settings.MaxDelay)
	assert.True(t, config.Settings.Headless)
	assert.Equal(t, 6*time.Hour, config.Settings.RetryDelay())
	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, "zh-CN", config.Browser.Locale)
}

func TestLoadFromFiles_TOML(t *testing.T) {
	path := writeTempFile(t, "adsum.toml", `
[settings]
min_delay = 10
max_delay = 20
headless = false
max_retries = 2

[settings.site]
base_url = "https://example.com"
auth_mode = "oauthdelegate"

[[accounts]]
username = "alice"
password = "pw"
`)

	config, err := LoadFromFiles(path)
	require.NoError(t, err)

	assert.Equal(t, 10, config.Settings.MinDelay)
	assert.Equal(t, 20, config.Settings.MaxDelay)
	assert.False(t, config.Settings.Headless)
	require.NotNil(t, config.Settings.Site)
	assert.Equal(t, "https://example.com", config.Settings.Site.BaseURL)
	require.Len(t, config.Accounts, 1)
	assert.Equal(t, "alice", config.Accounts[0].Username)
	// Unset sections keep their defaults.
	assert.Equal(t, "./results", config.Report.OutputDir)
}

func TestLoadFromFiles_JSONAccountsFile(t *testing.T) {
	// The original flat accounts-file layout, including flattened
	// per-account site overrides.
	path := writeTempFile(t, "accounts.json", `{
  "accounts": [
    {"username": "alice", "password": "pw", "base_url": "https://a.example.com"},
    {"username": "bob", "password": "pw2", "proxy": "http://127.0.0.1:8080"}
  ],
  "settings": {"min_delay": 5, "max_delay": 9, "base_url": "https://global.example.com"}
}`)

	config, err := LoadFromFiles(path)
	require.NoError(t, err)

	require.Len(t, config.Accounts, 2)
	assert.Equal(t, "https://a.example.com", config.Accounts[0].SiteOverrides.BaseURL)
	assert.Equal(t, "http://127.0.0.1:8080", config.Accounts[1].Proxy)
	assert.Equal(t, "https://global.example.com", config.Settings.BaseURL)
	assert.Equal(t, 5, config.Settings.MinDelay)
}

func TestLoadFromFiles_LaterFileOverrides(t *testing.T) {
	base := writeTempFile(t, "base.toml", `
[settings]
min_delay = 30
max_delay = 60
`)
	override := writeTempFile(t, "override.yaml", `
settings:
  max_delay: 90
`)

	config, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	assert.Equal(t, 30, config.Settings.MinDelay)
	assert.Equal(t, 90, config.Settings.MaxDelay)
}

func TestLoadFromFiles_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "max below min",
			content: `
[settings]
min_delay = 100
max_delay = 50
`,
		},
		{
			name: "retries out of range",
			content: `
[settings]
max_retries = 99
`,
		},
		{
			name: "bad log level",
			content: `
[logging]
level = "loud"
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTempFile(t, "bad.toml", tt.content)
			_, err := LoadFromFiles(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadFromFiles_MissingFile(t *testing.T) {
	_, err := LoadFromFiles("/nonexistent/adsum.toml")
	assert.Error(t, err)
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()

	ApplyFlagOverrides(config, "false", "0 9 * * *")
	assert.False(t, config.Settings.Headless)
	assert.Equal(t, "0 9 * * *", config.Settings.Schedule)

	ApplyFlagOverrides(config, "true", "")
	assert.True(t, config.Settings.Headless)
	assert.Equal(t, "0 9 * * *", config.Settings.Schedule, "empty flag keeps config value")

	ApplyFlagOverrides(config, "", "")
	assert.True(t, config.Settings.Headless, "empty flag keeps config value")
}
