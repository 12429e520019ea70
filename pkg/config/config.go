// Package config loads the runtime's configuration from a TOML file with
// an environment-variable overlay, mirroring the layered precedence of a
// Figment-style loader: file values first, environment values last.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	fragerrors "github.com/poudelpratik/fragmentrt/pkg/errors"
)

// EnvPrefix is prepended to every config key to form its environment
// variable name, e.g. app_port -> FRAGMENTRT_APP_PORT.
const EnvPrefix = "FRAGMENTRT_"

// Config holds every knob the runtime reads at startup.
type Config struct {
	AppHost string `toml:"app_host"`
	AppPort int    `toml:"app_port"`

	APIKey       string `toml:"api_key"`
	FragmentsDir string `toml:"fragments_dir"`

	JWTSecret     string `toml:"jwt_secret"`
	JWTTTLSeconds int    `toml:"jwt_ttl_seconds"`

	ExecuteTimeoutSeconds int `toml:"execute_timeout_seconds"`
	ModuleCacheSize       int `toml:"module_cache_size"`

	AuditLogPath string `toml:"audit_log_path"`
	LogLevel     string `toml:"log_level"`
}

// DefaultConfig returns a configuration with every optional key set to
// its documented default. Required keys (APIKey, FragmentsDir, JWTSecret)
// are left empty; Validate rejects them.
func DefaultConfig() *Config {
	return &Config{
		AppHost:               "0.0.0.0",
		AppPort:               8082,
		JWTTTLSeconds:         86400,
		ExecuteTimeoutSeconds: 30,
		ModuleCacheSize:       256,
		AuditLogPath:          "./fragment-audit.db",
		LogLevel:              "info",
	}
}

// Load reads a TOML file at path (if it exists), applies defaults for
// any zero-valued field, then overlays environment variables prefixed
// with EnvPrefix, and finally validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fragerrors.NewStartupError("failed to decode config file "+path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fragerrors.NewStartupError("failed to stat config file "+path, err)
		}
	}

	cfg.ApplyDefaults()
	cfg.applyEnvOverrides()

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fragerrors.NewStartupError(fmt.Sprintf("invalid configuration: %v", errs), nil)
	}

	return cfg, nil
}

// applyEnvOverrides overlays FRAGMENTRT_* environment variables on top
// of whatever the file and defaults produced. Environment always wins.
func (c *Config) applyEnvOverrides() {
	if v, ok := lookupEnv("APP_HOST"); ok {
		c.AppHost = v
	}
	if v, ok := lookupEnvInt("APP_PORT"); ok {
		c.AppPort = v
	}
	if v, ok := lookupEnv("API_KEY"); ok {
		c.APIKey = v
	}
	if v, ok := lookupEnv("FRAGMENTS_DIR"); ok {
		c.FragmentsDir = v
	}
	if v, ok := lookupEnv("JWT_SECRET"); ok {
		c.JWTSecret = v
	}
	if v, ok := lookupEnvInt("JWT_TTL_SECONDS"); ok {
		c.JWTTTLSeconds = v
	}
	if v, ok := lookupEnvInt("EXECUTE_TIMEOUT_SECONDS"); ok {
		c.ExecuteTimeoutSeconds = v
	}
	if v, ok := lookupEnvInt("MODULE_CACHE_SIZE"); ok {
		c.ModuleCacheSize = v
	}
	if v, ok := lookupEnv("AUDIT_LOG_PATH"); ok {
		c.AuditLogPath = v
	}
	if v, ok := lookupEnv("LOG_LEVEL"); ok {
		c.LogLevel = strings.ToLower(v)
	}
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func lookupEnvInt(key string) (int, bool) {
	v, ok := lookupEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks the configuration for missing required fields and
// out-of-range values.
func (c *Config) Validate() []error {
	var errs []error

	if c.AppHost == "" {
		errs = append(errs, fragerrors.NewValidationError("app_host", "must not be empty", nil))
	}
	if c.AppPort <= 0 || c.AppPort > 65535 {
		errs = append(errs, fragerrors.NewValidationError("app_port", "must be between 1 and 65535", nil))
	}
	if c.APIKey == "" {
		errs = append(errs, fragerrors.NewValidationError("api_key", "is required", nil))
	}
	if c.FragmentsDir == "" {
		errs = append(errs, fragerrors.NewValidationError("fragments_dir", "is required", nil))
	}
	if c.JWTSecret == "" {
		errs = append(errs, fragerrors.NewValidationError("jwt_secret", "is required", nil))
	}
	if c.JWTTTLSeconds <= 0 {
		errs = append(errs, fragerrors.NewValidationError("jwt_ttl_seconds", "must be positive", nil))
	}
	if c.ExecuteTimeoutSeconds <= 0 {
		errs = append(errs, fragerrors.NewValidationError("execute_timeout_seconds", "must be positive", nil))
	}
	if c.ModuleCacheSize <= 0 {
		errs = append(errs, fragerrors.NewValidationError("module_cache_size", "must be positive", nil))
	}
	if c.AuditLogPath == "" {
		errs = append(errs, fragerrors.NewValidationError("audit_log_path", "must not be empty", nil))
	}

	return errs
}

// ApplyDefaults fills zero-valued optional fields with their documented
// defaults. Required fields (APIKey, FragmentsDir, JWTSecret) are left
// untouched; Validate is responsible for rejecting them if still empty.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.AppHost == "" {
		c.AppHost = defaults.AppHost
	}
	if c.AppPort == 0 {
		c.AppPort = defaults.AppPort
	}
	if c.JWTTTLSeconds == 0 {
		c.JWTTTLSeconds = defaults.JWTTTLSeconds
	}
	if c.ExecuteTimeoutSeconds == 0 {
		c.ExecuteTimeoutSeconds = defaults.ExecuteTimeoutSeconds
	}
	if c.ModuleCacheSize == 0 {
		c.ModuleCacheSize = defaults.ModuleCacheSize
	}
	if c.AuditLogPath == "" {
		c.AuditLogPath = defaults.AuditLogPath
	}
	if c.LogLevel == "" {
		c.LogLevel = defaults.LogLevel
	}
}

// WithFragmentsDir returns a copy with FragmentsDir set, for tests that
// need to point at a temp directory without mutating a shared config.
func (c *Config) WithFragmentsDir(dir string) *Config {
	cp := *c
	cp.FragmentsDir = dir
	return &cp
}

// WithExecuteTimeout returns a copy with ExecuteTimeoutSeconds set.
func (c *Config) WithExecuteTimeout(seconds int) *Config {
	cp := *c
	cp.ExecuteTimeoutSeconds = seconds
	return &cp
}

// Addr returns the host:port string this runtime should bind to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.AppHost, c.AppPort)
}
