// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

// Package config loads wardline configuration from defaults, an optional
// YAML file and command-line flags, in increasing order of precedence.
package config

import (
	"log/slog"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/wardline/wardline/internal/identity"
	"github.com/wardline/wardline/internal/logging"
	"github.com/wardline/wardline/internal/persist"
)

// CodeInvalid is the oops code for configuration errors.
const CodeInvalid = "CONFIG_INVALID"

// Config is the full wardline configuration.
type Config struct {
	Log       LogConfig       `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Database  DatabaseConfig  `koanf:"database"`
	Hashing   HashingConfig   `koanf:"hashing"`
	Policy    PolicyConfig    `koanf:"policy"`
	Persist   PersistConfig   `koanf:"persist"`
	Provision ProvisionConfig `koanf:"provision"`
}

// LogConfig controls log output.
type LogConfig struct {
	Format string `koanf:"format" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" jsonschema:"description=slog level name such as debug or warn"`
}

// MetricsConfig controls the metrics and health endpoint.
type MetricsConfig struct {
	// Addr is the listen address. Empty disables the server.
	Addr string `koanf:"addr"`
}

// DatabaseConfig locates the account store.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// HashingConfig tunes password hashing.
type HashingConfig struct {
	Iterations int `koanf:"iterations" jsonschema:"minimum=1,maximum=10000000"`
}

// PolicyConfig tunes the password policy.
type PolicyConfig struct {
	MinLength int `koanf:"min_length" jsonschema:"minimum=8"`
}

// PersistConfig tunes write-behind persistence.
type PersistConfig struct {
	Buffer     int           `koanf:"buffer" jsonschema:"minimum=1"`
	MaxRetries int           `koanf:"max_retries" jsonschema:"minimum=0"`
	Backoff    time.Duration `koanf:"backoff"`
	Timeout    time.Duration `koanf:"timeout"`
}

// ProvisionConfig tunes patient account provisioning.
type ProvisionConfig struct {
	CredentialTTL time.Duration `koanf:"credential_ttl"`
}

// Defaults returns the built-in configuration. database.url falls back to
// the DATABASE_URL environment variable.
func Defaults() map[string]any {
	return map[string]any{
		"log.format":               "json",
		"log.level":                "info",
		"metrics.addr":             "127.0.0.1:9100",
		"database.url":             os.Getenv("DATABASE_URL"),
		"hashing.iterations":       identity.DefaultIterations,
		"policy.min_length":        identity.MinPasswordLength,
		"persist.buffer":           persist.DefaultBuffer,
		"persist.max_retries":      persist.DefaultMaxRetries,
		"persist.backoff":          persist.DefaultBackoff.String(),
		"persist.timeout":          persist.DefaultTimeout.String(),
		"provision.credential_ttl": "24h",
	}
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"log-format":          "log.format",
	"log-level":           "log.level",
	"metrics-addr":        "metrics.addr",
	"database-url":        "database.url",
	"hash-iterations":     "hashing.iterations",
	"min-password-length": "policy.min_length",
	"persist-buffer":      "persist.buffer",
}

// RegisterFlags adds the overridable settings to fs. Flag defaults are
// informational; unset flags never override the file.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.String("log-format", d["log.format"].(string), "log format (json or text)")
	fs.String("log-level", d["log.level"].(string), "log level (debug, info, warn, error)")
	fs.String("metrics-addr", d["metrics.addr"].(string), "metrics/health HTTP address (empty = disabled)")
	fs.String("database-url", "", "PostgreSQL connection URL (default: $DATABASE_URL)")
	fs.Int("hash-iterations", identity.DefaultIterations, "PBKDF2 iterations for new password records")
	fs.Int("min-password-length", identity.MinPasswordLength, "minimum password length")
	fs.Int("persist-buffer", persist.DefaultBuffer, "queued directory changes that trigger a backlog warning")
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// empty) and the flags changed in fs (skipped when nil).
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	for key, val := range Defaults() {
		if err := k.Set(key, val); err != nil {
			return nil, oops.Code(CodeInvalid).With("key", key).Wrap(err)
		}
	}

	if path != "" {
		if err := ValidateFile(path); err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code(CodeInvalid).
				With("operation", "load config file").
				With("path", path).
				Wrap(err)
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code(CodeInvalid).With("operation", "load flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code(CodeInvalid).With("operation", "decode config").Wrap(err)
	}
	return &cfg, nil
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	invalid := func(key string, format string, args ...any) error {
		return oops.Code(CodeInvalid).With("key", key).Errorf(format, args...)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return oops.Code(CodeInvalid).With("key", "log.level").Wrap(err)
	}
	if c.Hashing.Iterations < 1 || c.Hashing.Iterations > identity.MaxIterations {
		return invalid("hashing.iterations", "hashing.iterations must be between 1 and %d, got %d",
			identity.MaxIterations, c.Hashing.Iterations)
	}
	if c.Policy.MinLength < identity.MinPasswordLength {
		return invalid("policy.min_length", "policy.min_length must be at least %d, got %d",
			identity.MinPasswordLength, c.Policy.MinLength)
	}
	if c.Persist.Buffer < 1 {
		return invalid("persist.buffer", "persist.buffer must be positive, got %d", c.Persist.Buffer)
	}
	if c.Persist.MaxRetries < 0 {
		return invalid("persist.max_retries", "persist.max_retries must not be negative, got %d", c.Persist.MaxRetries)
	}
	if c.Persist.Backoff <= 0 || c.Persist.Timeout <= 0 {
		return invalid("persist", "persist.backoff and persist.timeout must be positive")
	}
	if c.Provision.CredentialTTL <= 0 {
		return invalid("provision.credential_ttl", "provision.credential_ttl must be positive")
	}
	return nil
}

// RequireDatabase reports an error when no database URL is configured.
func (c *Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return oops.Code(CodeInvalid).
			With("key", "database.url").
			Errorf("database.url is required (set --database-url or DATABASE_URL)")
	}
	return nil
}

// PasswordPolicy returns the configured password policy.
func (c *Config) PasswordPolicy() identity.Policy {
	return identity.Policy{MinLength: c.Policy.MinLength}
}

// LogLevel returns the configured log level.
func (c *Config) LogLevel() slog.Level {
	return logging.ParseLevel(c.Log.Level)
}
