package config

import (
	"testing"
	"time"
)

func TestGetEnvOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal string
		expected   string
	}{
		{"uses env value", "TEST_VAR_1", "hello", "default", "hello"},
		{"uses default when empty", "TEST_VAR_2", "", "default", "default"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.envValue)

			result := getEnvOrDefault(tc.key, tc.defaultVal)
			if result != tc.expected {
				t.Errorf("Expected %q, got %q", tc.expected, result)
			}
		})
	}
}

func TestGetEnvAsIntOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal int
		expected   int
	}{
		{"parses integer", "TEST_INT_1", "42", 10, 42},
		{"uses default for empty", "TEST_INT_2", "", 10, 10},
		{"uses default for non-numeric", "TEST_INT_3", "abc", 10, 10},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.envValue)

			result := getEnvAsIntOrDefault(tc.key, tc.defaultVal)
			if result != tc.expected {
				t.Errorf("Expected %d, got %d", tc.expected, result)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "")
	t.Setenv("DEFAULT_PROVIDER", "")
	t.Setenv("MAX_UPLOAD_MB", "")
	t.Setenv("LLM_TIMEOUT_SECONDS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DatabaseDriver != DriverSQLite {
		t.Errorf("Expected sqlite driver by default, got %q", cfg.DatabaseDriver)
	}
	if cfg.DefaultProvider != "groq" {
		t.Errorf("Expected groq default provider, got %q", cfg.DefaultProvider)
	}
	if cfg.MaxUploadBytes != 20<<20 {
		t.Errorf("Expected 20MB upload limit, got %d", cfg.MaxUploadBytes)
	}
	if cfg.LLMTimeout != 90*time.Second {
		t.Errorf("Expected 90s LLM timeout, got %s", cfg.LLMTimeout)
	}
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "mysql")

	if _, err := Load(); err == nil {
		t.Fatal("Expected error for unsupported driver")
	}
}

func TestLoad_RejectsUnknownProvider(t *testing.T) {
	t.Setenv("DEFAULT_PROVIDER", "anthropic")

	if _, err := Load(); err == nil {
		t.Fatal("Expected error for unsupported provider")
	}
}

func TestRequireSessionSecret(t *testing.T) {
	cfg := &Config{SessionSecret: "short"}
	if err := cfg.RequireSessionSecret(); err == nil {
		t.Error("Expected error for short secret")
	}

	cfg.SessionSecret = "a-long-enough-session-secret"
	if err := cfg.RequireSessionSecret(); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" http://a.test , ,http://b.test")
	if len(got) != 2 || got[0] != "http://a.test" || got[1] != "http://b.test" {
		t.Errorf("unexpected split result: %v", got)
	}
}
