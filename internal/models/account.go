package models

import "strings"

// SiteOverrides carries optional overrides of SiteDescriptor fields.
// It appears in two places: the global settings block and per-account
// configuration. Zero values mean "not set" and fall through to the
// next layer during resolution.
type SiteOverrides struct {
	Name                     string `toml:"name" json:"name" yaml:"name"`
	BaseURL                  string `toml:"base_url" json:"base_url" yaml:"base_url"`
	LoginPath                string `toml:"login_path" json:"login_path" yaml:"login_path"`
	ConsolePath              string `toml:"console_path" json:"console_path" yaml:"console_path"`
	CheckinAPIPath           string `toml:"checkin_api_path" json:"checkin_api_path" yaml:"checkin_api_path"`
	UserAPIPath              string `toml:"user_api_path" json:"user_api_path" yaml:"user_api_path"`
	TokensAPIPath            string `toml:"tokens_api_path" json:"tokens_api_path" yaml:"tokens_api_path"`
	AuthMode                 string `toml:"auth_mode" json:"auth_mode" yaml:"auth_mode"`
	OAuthEntryPath           string `toml:"oauth_entry_path" json:"oauth_entry_path" yaml:"oauth_entry_path"`
	OAuthButtonLabel         string `toml:"oauth_button_label" json:"oauth_button_label" yaml:"oauth_button_label"`
	ManualAuthTimeoutSeconds any    `toml:"manual_auth_timeout_seconds" json:"manual_auth_timeout_seconds" yaml:"manual_auth_timeout_seconds"`
	SavedSessionPath         string `toml:"saved_session_path" json:"saved_session_path" yaml:"saved_session_path"`
}

// Account is one credential set read from configuration. Accounts are
// filtered for validity before processing and never mutated.
//
// Site overrides can be given either nested under "site" or flattened
// directly on the account (legacy format); the embedded SiteOverrides
// picks up the flattened keys.
type Account struct {
	SiteOverrides

	Username            string         `toml:"username" json:"username" yaml:"username"`
	Password            string         `toml:"password" json:"password" yaml:"password"`
	Proxy               string         `toml:"proxy" json:"proxy" yaml:"proxy"`
	RemoteDebugEndpoint string         `toml:"remote_debug_endpoint" json:"remote_debug_endpoint" yaml:"remote_debug_endpoint"`
	Site                *SiteOverrides `toml:"site" json:"site" yaml:"site"`
}

// placeholders are substrings that mark a credential as a template
// value rather than a real account.
var placeholders = []string{
	"账号", "密码", "username", "password", "your_",
	"example", "test", "xxx", "user", "pass",
	"用户名", "你的",
}

// IsValid reports whether the account is worth processing: username
// present, and neither username nor password looks like a placeholder.
// Password may be empty; delegate-auth accounts log in without one and
// local-auth accounts fail later with a missing-credentials result.
func (a Account) IsValid() bool {
	username := strings.TrimSpace(a.Username)
	if username == "" {
		return false
	}
	if containsPlaceholder(username) {
		return false
	}
	if password := strings.TrimSpace(a.Password); password != "" && containsPlaceholder(password) {
		return false
	}
	return true
}

func containsPlaceholder(value string) bool {
	lower := strings.ToLower(value)
	for _, p := range placeholders {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// FilterValid splits accounts into processable accounts and the
// usernames of skipped entries.
func FilterValid(accounts []Account) (valid []Account, skipped []string) {
	for _, account := range accounts {
		if account.IsValid() {
			valid = append(valid, account)
			continue
		}
		name := strings.TrimSpace(account.Username)
		if name == "" {
			name = "(empty)"
		}
		skipped = append(skipped, name)
	}
	return valid, skipped
}
