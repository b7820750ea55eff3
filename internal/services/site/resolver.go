// -----------------------------------------------------------------------
// Site Resolver - merges defaults, global and per-account settings
// into one canonical site descriptor
// -----------------------------------------------------------------------

package site

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/adsum/internal/models"
)

// DefaultManualAuthTimeout applies when the configured value is
// missing or unparseable.
const DefaultManualAuthTimeout = 180 * time.Second

// Globals is the site-related portion of the global settings,
// including the legacy top-level base_url key kept for backward
// compatibility with old accounts files.
type Globals struct {
	Site    *models.SiteOverrides
	BaseURL string
}

// Resolve merges built-in defaults, global overrides and per-account
// overrides into an immutable site descriptor. It is a pure function
// and never fails: unresolvable fields fall back to defaults.
//
// Overlay order, lowest priority first: defaults, global site block,
// legacy top-level base_url, account site block, legacy flattened
// account fields.
func Resolve(globals Globals, account models.Account) models.SiteDescriptor {
	site := defaults()

	overlay(&site, globals.Site)
	if globals.BaseURL != "" {
		site.BaseURL = globals.BaseURL
	}
	overlay(&site, account.Site)
	overlay(&site, &account.SiteOverrides)

	normalize(&site)
	return site
}

func defaults() models.SiteDescriptor {
	return models.SiteDescriptor{
		BaseURL:           "https://anyrouter.top",
		LoginPath:         "/login",
		ConsolePath:       "/console",
		CheckinAPIPath:    "/api/user/sign_in",
		UserAPIPath:       "/api/user/self",
		TokensAPIPath:     "/api/token/",
		AuthMode:          models.AuthModeLocal,
		OAuthEntryPath:    "/login",
		ManualAuthTimeout: DefaultManualAuthTimeout,
	}
}

// overlay copies non-empty override fields onto the descriptor.
func overlay(site *models.SiteDescriptor, o *models.SiteOverrides) {
	if o == nil {
		return
	}
	if o.Name != "" {
		site.Name = o.Name
	}
	if o.BaseURL != "" {
		site.BaseURL = o.BaseURL
	}
	if o.LoginPath != "" {
		site.LoginPath = o.LoginPath
	}
	if o.ConsolePath != "" {
		site.ConsolePath = o.ConsolePath
	}
	if o.CheckinAPIPath != "" {
		site.CheckinAPIPath = o.CheckinAPIPath
	}
	if o.UserAPIPath != "" {
		site.UserAPIPath = o.UserAPIPath
	}
	if o.TokensAPIPath != "" {
		site.TokensAPIPath = o.TokensAPIPath
	}
	if o.AuthMode != "" {
		site.AuthMode = models.AuthMode(o.AuthMode)
	}
	if o.OAuthEntryPath != "" {
		site.OAuthEntryPath = o.OAuthEntryPath
	}
	if o.OAuthButtonLabel != "" {
		site.OAuthButtonLabel = o.OAuthButtonLabel
	}
	if o.ManualAuthTimeoutSeconds != nil {
		site.ManualAuthTimeout = coerceSeconds(o.ManualAuthTimeoutSeconds)
	}
	if o.SavedSessionPath != "" {
		site.SavedSessionPath = o.SavedSessionPath
	}
}

func normalize(site *models.SiteDescriptor) {
	site.BaseURL = normalizeBaseURL(site.BaseURL)
	site.LoginPath = normalizePath(site.LoginPath)
	site.ConsolePath = normalizePath(site.ConsolePath)
	site.CheckinAPIPath = normalizePath(site.CheckinAPIPath)
	site.UserAPIPath = normalizePath(site.UserAPIPath)
	site.TokensAPIPath = normalizePath(site.TokensAPIPath)
	site.OAuthEntryPath = normalizePath(site.OAuthEntryPath)

	site.AuthMode = models.AuthMode(strings.ToLower(string(site.AuthMode)))
	if site.AuthMode != models.AuthModeOAuthDelegate {
		site.AuthMode = models.AuthModeLocal
	}

	if site.ManualAuthTimeout <= 0 {
		site.ManualAuthTimeout = DefaultManualAuthTimeout
	}

	if site.SavedSessionPath != "" {
		if abs, err := filepath.Abs(site.SavedSessionPath); err == nil {
			site.SavedSessionPath = abs
		}
	}

	if site.Name == "" {
		site.Name = hostOf(site.BaseURL)
	}
}

// normalizeBaseURL guarantees an explicit scheme and no trailing
// slash. An empty value falls back to the built-in default.
func normalizeBaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "anyrouter.top"
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	return strings.TrimRight(raw, "/")
}

// normalizePath makes a path field start with "/" unless it is
// already an absolute URL.
func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// coerceSeconds accepts int, float or numeric string timeout values.
func coerceSeconds(value any) time.Duration {
	switch v := value.(type) {
	case int:
		return secondsOrDefault(int64(v))
	case int64:
		return secondsOrDefault(v)
	case float64:
		return secondsOrDefault(int64(v))
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return secondsOrDefault(int64(f))
		}
		return DefaultManualAuthTimeout
	default:
		if s, err := strconv.ParseInt(fmt.Sprintf("%v", value), 10, 64); err == nil {
			return secondsOrDefault(s)
		}
		return DefaultManualAuthTimeout
	}
}

func secondsOrDefault(seconds int64) time.Duration {
	if seconds <= 0 {
		return DefaultManualAuthTimeout
	}
	return time.Duration(seconds) * time.Second
}

func hostOf(baseURL string) string {
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		return u.Host
	}
	return baseURL
}
