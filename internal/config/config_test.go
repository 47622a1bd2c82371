package config

import (
	"os"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	// Set required env vars
	os.Setenv("SMSLEDGER_DB_PATH", "/tmp/test.db")
	os.Setenv("SMSLEDGER_CONFIG_PATH", "/tmp/providers.xml")
	os.Setenv("SMSLEDGER_TOKEN", "test_token")
	defer func() {
		os.Unsetenv("SMSLEDGER_DB_PATH")
		os.Unsetenv("SMSLEDGER_CONFIG_PATH")
		os.Unsetenv("SMSLEDGER_TOKEN")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}

	if cfg.DBPath != "/tmp/test.db" {
		t.Errorf("expected db path /tmp/test.db, got %s", cfg.DBPath)
	}

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}

	if cfg.Region != "KR" {
		t.Errorf("expected default region KR, got %s", cfg.Region)
	}
}

func TestLoadConfigMissingRequired(t *testing.T) {
	// Clear env vars
	os.Unsetenv("SMSLEDGER_DB_PATH")
	os.Unsetenv("SMSLEDGER_CONFIG_PATH")
	os.Unsetenv("SMSLEDGER_TOKEN")

	_, err := Load()
	if err == nil {
		t.Error("expected error when missing required config")
	}
}

func TestLoadConfigBadBatch(t *testing.T) {
	os.Setenv("SMSLEDGER_DB_PATH", "/tmp/test.db")
	os.Setenv("SMSLEDGER_CONFIG_PATH", "/tmp/providers.xml")
	os.Setenv("SMSLEDGER_TOKEN", "t")
	os.Setenv("SMSLEDGER_IMPORT_BATCH", "zero")
	defer func() {
		os.Unsetenv("SMSLEDGER_DB_PATH")
		os.Unsetenv("SMSLEDGER_CONFIG_PATH")
		os.Unsetenv("SMSLEDGER_TOKEN")
		os.Unsetenv("SMSLEDGER_IMPORT_BATCH")
	}()

	if _, err := Load(); err == nil {
		t.Error("expected error for non-numeric batch size")
	}

	os.Setenv("SMSLEDGER_IMPORT_BATCH", "0")
	if _, err := Load(); err == nil {
		t.Error("expected error for zero batch size")
	}
}

func TestValidToken(t *testing.T) {
	cfg := &Config{Token: "secret"}

	tests := []struct {
		token string
		want  bool
	}{
		{"secret", true},
		{"invalid", false},
		{"", false},
	}

	for _, tc := range tests {
		if got := cfg.ValidToken(tc.token); got != tc.want {
			t.Errorf("ValidToken(%q) = %v, want %v", tc.token, got, tc.want)
		}
	}

	empty := &Config{}
	if empty.ValidToken("") {
		t.Error("empty configured token must never validate")
	}
}

func TestConfigDefaults(t *testing.T) {
	os.Setenv("SMSLEDGER_DB_PATH", "/tmp/d")
	os.Setenv("SMSLEDGER_CONFIG_PATH", "/tmp/c")
	os.Setenv("SMSLEDGER_TOKEN", "t")
	defer func() {
		os.Unsetenv("SMSLEDGER_DB_PATH")
		os.Unsetenv("SMSLEDGER_CONFIG_PATH")
		os.Unsetenv("SMSLEDGER_TOKEN")
	}()

	cfg, _ := Load()

	// Check defaults
	if cfg.Port != "8080" {
		t.Errorf("default port should be 8080")
	}
	if cfg.Currency != "KRW" {
		t.Errorf("default currency should be KRW")
	}
	if cfg.Timezone != "Asia/Seoul" {
		t.Errorf("default timezone should be Asia/Seoul")
	}
	if cfg.ImportBatch != 100 {
		t.Errorf("default import batch should be 100")
	}
}
