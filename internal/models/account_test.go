package models

import "testing"

func TestAccountIsValid(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
		valid    bool
	}{
		{"real credentials", "alice", "s3cret", true},
		{"empty username", "", "s3cret", false},
		{"whitespace username", "   ", "s3cret", false},
		{"template username cn", "账号", "s3cret", false},
		{"template password cn", "alice", "密码", false},
		{"placeholder username", "your_username", "s3cret", false},
		{"placeholder password", "alice", "your_password", false},
		{"example marker", "example@mail.com", "s3cret", false},
		{"xxx marker", "alice", "xxx123", false},
		{"empty password allowed", "alice", "", true},
		{"case insensitive", "Alice", "MyPASSword", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account := Account{Username: tt.username, Password: tt.password}
			if got := account.IsValid(); got != tt.valid {
				t.Errorf("IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestFilterValid(t *testing.T) {
	accounts := []Account{
		{Username: "alice", Password: "one"},
		{Username: "账号", Password: "two"},
		{Username: "", Password: "three"},
		{Username: "bob", Password: "four"},
	}

	valid, skipped := FilterValid(accounts)
	if len(valid) != 2 {
		t.Fatalf("expected 2 valid accounts, got %d", len(valid))
	}
	if valid[0].Username != "alice" || valid[1].Username != "bob" {
		t.Errorf("valid accounts out of order: %v", valid)
	}
	if len(skipped) != 2 {
		t.Fatalf("expected 2 skipped entries, got %d", len(skipped))
	}
	if skipped[1] != "(empty)" {
		t.Errorf("empty username should be reported as (empty), got %q", skipped[1])
	}
}

func TestSiteURLJoining(t *testing.T) {
	site := SiteDescriptor{BaseURL: "https://example.com"}

	if got := site.URL("/api/user/self"); got != "https://example.com/api/user/self" {
		t.Errorf("URL() = %q", got)
	}
	if got := site.URL("console"); got != "https://example.com/console" {
		t.Errorf("URL() without leading slash = %q", got)
	}
	// Absolute path fields bypass the base URL.
	if got := site.URL("https://other.example.com/x"); got != "https://other.example.com/x" {
		t.Errorf("URL() with absolute URL = %q", got)
	}
}
