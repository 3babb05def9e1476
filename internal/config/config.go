// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Usher Contributors

// Package config loads Usher settings from defaults, an optional YAML
// file, and command-line flags, in increasing order of precedence.
package config

import (
	"os"
	"slices"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/usherauth/usher/internal/xdg"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Hasher algorithms.
const (
	HasherArgon2id = "argon2id"
	HasherBcrypt   = "bcrypt"
)

// Config holds every setting of the server and CLI.
type Config struct {
	HTTPAddr     string   `koanf:"http_addr" jsonschema:"description=HTTP API listen address"`
	ControlAddr  string   `koanf:"control_addr" jsonschema:"description=control gRPC listen address"`
	MetricsAddr  string   `koanf:"metrics_addr" jsonschema:"description=metrics and health address; empty disables it"`
	LogFormat    string   `koanf:"log_format" jsonschema:"enum=json,enum=text"`
	Store        string   `koanf:"store" jsonschema:"enum=memory,enum=postgres,enum=redis"`
	DatabaseURL  string   `koanf:"database_url"`
	RedisURL     string   `koanf:"redis_url"`
	AutoMigrate  bool     `koanf:"auto_migrate"`
	Hasher       string   `koanf:"hasher" jsonschema:"enum=argon2id,enum=bcrypt"`
	BcryptCost   int      `koanf:"bcrypt_cost" jsonschema:"minimum=4,maximum=31"`
	CookieSecure bool     `koanf:"cookie_secure"`
	CORSOrigins  []string `koanf:"cors_origins"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		HTTPAddr:    ":5000",
		ControlAddr: "127.0.0.1:9101",
		MetricsAddr: "127.0.0.1:9100",
		LogFormat:   "json",
		Store:       StoreMemory,
		Hasher:      HasherArgon2id,
		BcryptCost:  10,
	}
}

// BindFlags registers a flag per setting on fs, named after the key with
// dashes, defaulting to Default().
func BindFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("http-addr", d.HTTPAddr, "HTTP API listen address")
	fs.String("control-addr", d.ControlAddr, "control gRPC listen address (loopback)")
	fs.String("metrics-addr", d.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.String("log-format", d.LogFormat, "log format (json or text)")
	fs.String("store", d.Store, "account store backend (memory, postgres or redis)")
	fs.String("database-url", "", "PostgreSQL URL (default: $DATABASE_URL)")
	fs.String("redis-url", "", "Redis URL (default: $REDIS_URL)")
	fs.Bool("auto-migrate", d.AutoMigrate, "apply pending migrations on startup")
	fs.String("hasher", d.Hasher, "password hasher (argon2id or bcrypt)")
	fs.Int("bcrypt-cost", d.BcryptCost, "bcrypt work factor")
	fs.Bool("cookie-secure", d.CookieSecure, "mark the session cookie Secure")
	fs.StringSlice("cors-origins", nil, "allowed CORS origins (globs, * matches one host label)")
}

// Load resolves the configuration. path names a YAML file; if empty, the
// XDG config file is read when present. flags may be nil. Only flags that
// BindFlags registers are read; explicitly set flags override the file.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		if p, ok := xdg.DefaultConfigFile(); ok {
			path = p
		}
	}
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
		if err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
		if err := ValidateFile(data); err != nil {
			return nil, oops.With("path", path).Wrap(err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			if _, known := defaultKeys[key]; !known {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.RedisURL == "" {
		cfg.RedisURL = os.Getenv("REDIS_URL")
	}
	return &cfg, nil
}

// Values returns the settings keyed as in the config file.
func (c Config) Values() map[string]any {
	origins := c.CORSOrigins
	if origins == nil {
		origins = []string{}
	}
	return map[string]any{
		"http_addr":     c.HTTPAddr,
		"control_addr":  c.ControlAddr,
		"metrics_addr":  c.MetricsAddr,
		"log_format":    c.LogFormat,
		"store":         c.Store,
		"database_url":  c.DatabaseURL,
		"redis_url":     c.RedisURL,
		"auto_migrate":  c.AutoMigrate,
		"hasher":        c.Hasher,
		"bcrypt_cost":   c.BcryptCost,
		"cookie_secure": c.CookieSecure,
		"cors_origins":  origins,
	}
}

var defaultKeys = func() map[string]struct{} {
	keys := make(map[string]struct{})
	for k := range Default().Values() {
		keys[k] = struct{}{}
	}
	return keys
}()

// Validate checks enumerations and that the selected store has a URL.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("http_addr is required")
	}
	if c.ControlAddr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("control_addr is required")
	}
	if !slices.Contains([]string{"json", "text"}, c.LogFormat) {
		return oops.Code("CONFIG_INVALID").Errorf("log_format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if !slices.Contains([]string{HasherArgon2id, HasherBcrypt}, c.Hasher) {
		return oops.Code("CONFIG_INVALID").Errorf("hasher must be 'argon2id' or 'bcrypt', got %q", c.Hasher)
	}

	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return oops.Code("CONFIG_INVALID").Errorf("database_url is required for the postgres store")
		}
	case StoreRedis:
		if c.RedisURL == "" {
			return oops.Code("CONFIG_INVALID").Errorf("redis_url is required for the redis store")
		}
	default:
		return oops.Code("CONFIG_INVALID").Errorf("store must be memory, postgres or redis, got %q", c.Store)
	}
	return nil
}
