package site

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ternarybob/adsum/internal/models"
)

func TestResolve_Defaults(t *testing.T) {
	site := Resolve(Globals{}, models.Account{Username: "alice"})

	assert.Equal(t, "https://anyrouter.top", site.BaseURL)
	assert.Equal(t, "/login", site.LoginPath)
	assert.Equal(t, "/console", site.ConsolePath)
	assert.Equal(t, "/api/user/sign_in", site.CheckinAPIPath)
	assert.Equal(t, "/api/user/self", site.UserAPIPath)
	assert.Equal(t, "/api/token/", site.TokensAPIPath)
	assert.Equal(t, models.AuthModeLocal, site.AuthMode)
	assert.Equal(t, DefaultManualAuthTimeout, site.ManualAuthTimeout)
	assert.Equal(t, "anyrouter.top", site.Name)
}

func TestResolve_Normalization(t *testing.T) {
	tests := []struct {
		name     string
		globals  Globals
		account  models.Account
		baseURL  string
		login    string
		authMode models.AuthMode
	}{
		{
			name:     "scheme added and trailing slash stripped",
			globals:  Globals{Site: &models.SiteOverrides{BaseURL: "example.com/"}},
			account:  models.Account{Username: "a"},
			baseURL:  "https://example.com",
			login:    "/login",
			authMode: models.AuthModeLocal,
		},
		{
			name:     "explicit http scheme preserved",
			globals:  Globals{Site: &models.SiteOverrides{BaseURL: "http://10.0.0.1:3000"}},
			account:  models.Account{Username: "a"},
			baseURL:  "http://10.0.0.1:3000",
			login:    "/login",
			authMode: models.AuthModeLocal,
		},
		{
			name:     "path gets leading slash",
			globals:  Globals{Site: &models.SiteOverrides{LoginPath: "signin"}},
			account:  models.Account{Username: "a"},
			baseURL:  "https://anyrouter.top",
			login:    "/signin",
			authMode: models.AuthModeLocal,
		},
		{
			name:     "unknown auth mode collapses to local",
			globals:  Globals{Site: &models.SiteOverrides{AuthMode: "saml"}},
			account:  models.Account{Username: "a"},
			baseURL:  "https://anyrouter.top",
			login:    "/login",
			authMode: models.AuthModeLocal,
		},
		{
			name:     "delegate auth mode case-insensitive",
			globals:  Globals{Site: &models.SiteOverrides{AuthMode: "OAuthDelegate"}},
			account:  models.Account{Username: "a"},
			baseURL:  "https://anyrouter.top",
			login:    "/login",
			authMode: models.AuthModeOAuthDelegate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site := Resolve(tt.globals, tt.account)
			assert.Equal(t, tt.baseURL, site.BaseURL)
			assert.Equal(t, tt.login, site.LoginPath)
			assert.Equal(t, tt.authMode, site.AuthMode)
		})
	}
}

func TestResolve_OverlayPrecedence(t *testing.T) {
	globals := Globals{
		Site:    &models.SiteOverrides{BaseURL: "global.example.com", ConsolePath: "/dashboard"},
		BaseURL: "legacy.example.com",
	}

	// Legacy top-level base_url beats the global site block.
	site := Resolve(globals, models.Account{Username: "a"})
	assert.Equal(t, "https://legacy.example.com", site.BaseURL)
	assert.Equal(t, "/dashboard", site.ConsolePath)

	// Nested account site block beats globals.
	account := models.Account{
		Username: "a",
		Site:     &models.SiteOverrides{BaseURL: "nested.example.com"},
	}
	site = Resolve(globals, account)
	assert.Equal(t, "https://nested.example.com", site.BaseURL)

	// Flattened account keys beat the nested block.
	account.SiteOverrides = models.SiteOverrides{BaseURL: "flat.example.com"}
	site = Resolve(globals, account)
	assert.Equal(t, "https://flat.example.com", site.BaseURL)
}

func TestResolve_ManualAuthTimeoutCoercion(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  time.Duration
	}{
		{"int seconds", 300, 300 * time.Second},
		{"float seconds", 90.7, 90 * time.Second},
		{"numeric string", "120", 120 * time.Second},
		{"garbage string", "soon", DefaultManualAuthTimeout},
		{"zero falls back", 0, DefaultManualAuthTimeout},
		{"negative falls back", -5, DefaultManualAuthTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account := models.Account{
				Username: "a",
				Site:     &models.SiteOverrides{ManualAuthTimeoutSeconds: tt.value},
			}
			site := Resolve(Globals{}, account)
			assert.Equal(t, tt.want, site.ManualAuthTimeout)
		})
	}
}

func TestAccountKey_DistinctAcrossSites(t *testing.T) {
	a := Resolve(Globals{Site: &models.SiteOverrides{BaseURL: "one.example.com"}}, models.Account{Username: "alice"})
	b := Resolve(Globals{Site: &models.SiteOverrides{BaseURL: "two.example.com"}}, models.Account{Username: "alice"})

	assert.NotEqual(t, models.AccountKey(a, "alice"), models.AccountKey(b, "alice"))
	// Whitespace around the username does not change identity.
	assert.Equal(t, models.AccountKey(a, "alice"), models.AccountKey(a, "  alice  "))
}
