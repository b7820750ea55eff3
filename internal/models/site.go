package models

import (
	"strings"
	"time"
)

// AuthMode selects the login protocol used for a site.
type AuthMode string

const (
	// AuthModeLocal is a form-based username/password login.
	AuthModeLocal AuthMode = "local"
	// AuthModeOAuthDelegate delegates login to a third-party identity
	// provider and may require human interaction on first use.
	AuthModeOAuthDelegate AuthMode = "oauthdelegate"
)

// SiteDescriptor is the fully resolved set of URLs, paths and auth
// parameters for one deployment of a target service. It is built once
// per (settings, account) pair by the site resolver and never mutated
// afterwards.
type SiteDescriptor struct {
	Name              string        `json:"name"`
	BaseURL           string        `json:"base_url"` // absolute, scheme included, no trailing slash
	LoginPath         string        `json:"login_path"`
	ConsolePath       string        `json:"console_path"`
	CheckinAPIPath    string        `json:"checkin_api_path"`
	UserAPIPath       string        `json:"user_api_path"`
	TokensAPIPath     string        `json:"tokens_api_path"`
	AuthMode          AuthMode      `json:"auth_mode"`
	OAuthEntryPath    string        `json:"oauth_entry_path"`
	OAuthButtonLabel  string        `json:"oauth_button_label"`
	ManualAuthTimeout time.Duration `json:"manual_auth_timeout"`
	SavedSessionPath  string        `json:"saved_session_path,omitempty"` // absolute path, empty when disabled
}

// URL joins a path field with the base URL. Path fields that are
// already absolute URLs are returned unchanged.
func (s SiteDescriptor) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return s.BaseURL + path
}

// LoginURL returns the absolute login page URL.
func (s SiteDescriptor) LoginURL() string { return s.URL(s.LoginPath) }

// ConsoleURL returns the absolute console page URL.
func (s SiteDescriptor) ConsoleURL() string { return s.URL(s.ConsolePath) }

// AccountKey derives the identity used to dedupe results across retry
// rounds. Two accounts with the same username on different sites never
// collide because the resolved base URL is part of the key.
func AccountKey(site SiteDescriptor, username string) string {
	return site.BaseURL + "::" + strings.TrimSpace(username)
}

// AccountLabel formats an account for human-readable output.
func AccountLabel(site SiteDescriptor, username string) string {
	return strings.TrimSpace(username) + " @ " + site.BaseURL
}
