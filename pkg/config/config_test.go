package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.APIKey = "test-api-key"
	cfg.FragmentsDir = "/tmp/fragments"
	cfg.JWTSecret = "test-secret"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.AppHost != "0.0.0.0" {
		t.Errorf("expected default app_host 0.0.0.0, got %q", cfg.AppHost)
	}
	if cfg.AppPort != 8082 {
		t.Errorf("expected default app_port 8082, got %d", cfg.AppPort)
	}
	if cfg.JWTTTLSeconds != 86400 {
		t.Errorf("expected default jwt_ttl_seconds 86400, got %d", cfg.JWTTTLSeconds)
	}
	if cfg.ExecuteTimeoutSeconds != 30 {
		t.Errorf("expected default execute_timeout_seconds 30, got %d", cfg.ExecuteTimeoutSeconds)
	}
	if cfg.ModuleCacheSize != 256 {
		t.Errorf("expected default module_cache_size 256, got %d", cfg.ModuleCacheSize)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log_level info, got %q", cfg.LogLevel)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}, wantErr: false},
		{name: "missing api key", mutate: func(c *Config) { c.APIKey = "" }, wantErr: true},
		{name: "missing fragments dir", mutate: func(c *Config) { c.FragmentsDir = "" }, wantErr: true},
		{name: "missing jwt secret", mutate: func(c *Config) { c.JWTSecret = "" }, wantErr: true},
		{name: "zero port", mutate: func(c *Config) { c.AppPort = 0 }, wantErr: true},
		{name: "negative timeout", mutate: func(c *Config) { c.ExecuteTimeoutSeconds = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			errs := cfg.Validate()
			if tt.wantErr && len(errs) == 0 {
				t.Errorf("expected validation errors, got none")
			}
			if !tt.wantErr && len(errs) != 0 {
				t.Errorf("expected no validation errors, got %v", errs)
			}
		})
	}
}

func TestApplyDefaultsLeavesRequiredFieldsAlone(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	if cfg.APIKey != "" || cfg.FragmentsDir != "" || cfg.JWTSecret != "" {
		t.Errorf("ApplyDefaults must not fabricate required fields, got %+v", cfg)
	}
	if cfg.AppHost != "0.0.0.0" || cfg.AppPort != 8082 {
		t.Errorf("ApplyDefaults did not fill optional fields, got %+v", cfg)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
app_port = 9090
api_key = "file-key"
fragments_dir = "/var/fragments"
jwt_secret = "file-secret"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.AppPort != 9090 {
		t.Errorf("expected app_port 9090, got %d", cfg.AppPort)
	}
	if cfg.APIKey != "file-key" {
		t.Errorf("expected api_key file-key, got %q", cfg.APIKey)
	}
	if cfg.AppHost != "0.0.0.0" {
		t.Errorf("expected default app_host to survive, got %q", cfg.AppHost)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
app_port = 9090
api_key = "file-key"
fragments_dir = "/var/fragments"
jwt_secret = "file-secret"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	t.Setenv(EnvPrefix+"APP_PORT", "7070")
	t.Setenv(EnvPrefix+"API_KEY", "env-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.AppPort != 7070 {
		t.Errorf("expected env override app_port 7070, got %d", cfg.AppPort)
	}
	if cfg.APIKey != "env-key" {
		t.Errorf("expected env override api_key env-key, got %q", cfg.APIKey)
	}
}

func TestLoadMissingFileFallsBackToEnvAndDefaults(t *testing.T) {
	t.Setenv(EnvPrefix+"API_KEY", "env-only-key")
	t.Setenv(EnvPrefix+"FRAGMENTS_DIR", "/env/fragments")
	t.Setenv(EnvPrefix+"JWT_SECRET", "env-only-secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.APIKey != "env-only-key" {
		t.Errorf("expected env api_key, got %q", cfg.APIKey)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for missing required fields, got nil")
	}
}

func TestAddr(t *testing.T) {
	cfg := validConfig()
	cfg.AppHost = "127.0.0.1"
	cfg.AppPort = 8082
	if got := cfg.Addr(); got != "127.0.0.1:8082" {
		t.Errorf("expected 127.0.0.1:8082, got %q", got)
	}
}
