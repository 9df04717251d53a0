// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CampusGate Contributors

// Package config loads process-wide configuration. Precedence, lowest to
// highest: built-in defaults, YAML config file, CAMPUSGATE_* environment
// variables, command-line flags. Lockout and session parameters are fixed at
// startup; nothing re-reads them at runtime.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// envPrefix namespaces environment overrides, e.g. CAMPUSGATE_HTTP_ADDR.
const envPrefix = "CAMPUSGATE_"

// Config is the process-wide configuration.
type Config struct {
	HTTPAddr    string        `koanf:"http_addr"`
	MetricsAddr string        `koanf:"metrics_addr"`
	DatabaseURL string        `koanf:"database_url"`
	LogFormat   string        `koanf:"log_format"`
	CORSOrigins []string      `koanf:"cors_origins"`
	AuditWAL    string        `koanf:"audit_wal"`
	Session     SessionConfig `koanf:"session"`
	Lockout     LockoutConfig `koanf:"lockout"`
}

// SessionConfig holds bearer-token parameters.
type SessionConfig struct {
	Secret   string        `koanf:"secret"`
	Lifetime time.Duration `koanf:"lifetime"`
}

// LockoutConfig holds brute-force mitigation parameters.
type LockoutConfig struct {
	MaxAttempts  int           `koanf:"max_attempts"`
	LockDuration time.Duration `koanf:"lock_duration"`
}

// defaults returns the built-in configuration.
func defaults() map[string]any {
	return map[string]any{
		"http_addr":            ":8080",
		"metrics_addr":         "127.0.0.1:9100",
		"database_url":         "",
		"log_format":           "json",
		"cors_origins":         []string{},
		"audit_wal":            "campusgate-audit-wal.jsonl",
		"session.secret":       "",
		"session.lifetime":     (7 * 24 * time.Hour).String(),
		"lockout.max_attempts": 5,
		"lockout.lock_duration": (24 * time.Hour).String(),
	}
}

// Load builds the configuration. path and flags may be empty/nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, oops.Code("CONFIG_DEFAULTS_FAILED").With("key", key).Wrap(err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_FILE_FAILED").With("path", path).Wrap(err)
		}
	}

	envKeys := make(map[string]string, len(defaults()))
	for key := range defaults() {
		envKeys[strings.ReplaceAll(key, ".", "_")] = key
	}
	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// CAMPUSGATE_LOCKOUT_MAX_ATTEMPTS -> lockout.max_attempts. Mapping
		// through the default key set keeps underscores that belong to a
		// segment name intact; unrecognized variables are ignored.
		return envKeys[strings.ToLower(strings.TrimPrefix(s, envPrefix))]
	}), nil)
	if err != nil {
		return nil, oops.Code("CONFIG_ENV_FAILED").Wrap(err)
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_UNMARSHAL_FAILED").Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database_url is required")
	}
	if c.Session.Secret == "" {
		return oops.Code("CONFIG_INVALID").Errorf("session.secret is required")
	}
	if c.Session.Lifetime <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("session.lifetime must be positive")
	}
	if c.Lockout.MaxAttempts <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("lockout.max_attempts must be positive")
	}
	if c.Lockout.LockDuration <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("lockout.lock_duration must be positive")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return oops.Code("CONFIG_INVALID").Errorf("log_format must be json or text, got %q", c.LogFormat)
	}
	return nil
}
