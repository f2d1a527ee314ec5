// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

// Package config loads propeval configuration. Sources are layered as
// built-in defaults, then the YAML config file, then DATABASE_URL, then
// command-line flags that were set explicitly.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/propeval/propeval/internal/logging"
	"github.com/propeval/propeval/internal/xdg"
)

// Config is the complete propeval configuration.
type Config struct {
	Database   Database   `koanf:"database"`
	Log        Log        `koanf:"log"`
	Evaluation Evaluation `koanf:"evaluation"`
	Worker     Worker     `koanf:"worker"`
	Metrics    Metrics    `koanf:"metrics"`
}

// Database configures the PostgreSQL connection.
type Database struct {
	URL string `koanf:"url"`
}

// Log configures the process logger.
type Log struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// Evaluation tunes the evaluator.
type Evaluation struct {
	Workers           int           `koanf:"workers"`
	ScriptTimeout     time.Duration `koanf:"script_timeout"`
	MaterialCacheSize int           `koanf:"material_cache_size"`
}

// Worker tunes the queue consumer.
type Worker struct {
	PollInterval time.Duration `koanf:"poll_interval"`
	BatchSize    int           `koanf:"batch_size"`
	MaxAttempts  int           `koanf:"max_attempts"`
}

// Metrics configures the metrics and health server. An empty Addr
// disables it.
type Metrics struct {
	Addr string `koanf:"addr"`
}

// Default values.
const (
	DefaultLogFormat         = "json"
	DefaultLogLevel          = "info"
	DefaultWorkers           = 4
	DefaultScriptTimeout     = 5 * time.Second
	DefaultMaterialCacheSize = 1024
	DefaultPollInterval      = 2 * time.Second
	DefaultBatchSize         = 1
	DefaultMaxAttempts       = 3
	DefaultMetricsAddr       = "127.0.0.1:9190"
)

// DatabaseURLEnv overrides database.url when set.
const DatabaseURLEnv = "DATABASE_URL"

func defaults() map[string]any {
	return map[string]any{
		"database.url":                   "",
		"log.format":                     DefaultLogFormat,
		"log.level":                      DefaultLogLevel,
		"evaluation.workers":             DefaultWorkers,
		"evaluation.script_timeout":      DefaultScriptTimeout,
		"evaluation.material_cache_size": DefaultMaterialCacheSize,
		"worker.poll_interval":           DefaultPollInterval,
		"worker.batch_size":              DefaultBatchSize,
		"worker.max_attempts":            DefaultMaxAttempts,
		"metrics.addr":                   DefaultMetricsAddr,
	}
}

// flagKeys maps command-line flag names to config keys. Flags not listed
// here are not configuration.
var flagKeys = map[string]string{
	"database-url":   "database.url",
	"log-format":     "log.format",
	"log-level":      "log.level",
	"workers":        "evaluation.workers",
	"script-timeout": "evaluation.script_timeout",
	"poll-interval":  "worker.poll_interval",
	"batch-size":     "worker.batch_size",
	"max-attempts":   "worker.max_attempts",
	"metrics-addr":   "metrics.addr",
}

// Options controls where Load reads from.
type Options struct {
	// Path is the config file. When empty the XDG default is used and a
	// missing file is not an error.
	Path string
	// Flags are overlaid last; only flags the user changed take effect.
	Flags *pflag.FlagSet
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Load builds a validated Config.
func Load(opts Options) (*Config, error) {
	k := koanf.New(".")
	for key, val := range defaults() {
		if err := k.Set(key, val); err != nil {
			return nil, oops.In("config").With("key", key).Wrap(err)
		}
	}

	path, explicit := opts.Path, opts.Path != ""
	if !explicit {
		path = xdg.ConfigFile()
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, oops.In("config").Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
		}
	}

	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if url, ok := lookup(DatabaseURLEnv); ok && url != "" {
		if err := k.Set("database.url", url); err != nil {
			return nil, oops.In("config").With("key", "database.url").Wrap(err)
		}
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.In("config").Code("CONFIG_READ_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.In("config").Code("CONFIG_INVALID").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	invalid := func(key string, format string, args ...any) error {
		return oops.In("config").Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return invalid("log.format", "log format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "unknown log level %q", c.Log.Level)
	}
	if c.Evaluation.Workers < 1 {
		return invalid("evaluation.workers", "workers must be at least 1, got %d", c.Evaluation.Workers)
	}
	if c.Evaluation.ScriptTimeout < 0 {
		return invalid("evaluation.script_timeout", "script timeout must not be negative")
	}
	if c.Evaluation.MaterialCacheSize < 1 {
		return invalid("evaluation.material_cache_size", "material cache size must be at least 1, got %d", c.Evaluation.MaterialCacheSize)
	}
	if c.Worker.PollInterval <= 0 {
		return invalid("worker.poll_interval", "poll interval must be positive")
	}
	if c.Worker.BatchSize < 1 {
		return invalid("worker.batch_size", "batch size must be at least 1, got %d", c.Worker.BatchSize)
	}
	if c.Worker.MaxAttempts < 1 {
		return invalid("worker.max_attempts", "max attempts must be at least 1, got %d", c.Worker.MaxAttempts)
	}
	return nil
}

// LogOptions converts the log section for logging.Setup.
func (c *Config) LogOptions() logging.Options {
	return logging.Options{Format: c.Log.Format, Level: c.Log.Level}
}

// RequireDatabase fails when no database URL is configured.
func (c *Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return oops.In("config").Code("DATABASE_URL_MISSING").
			Errorf("database URL is required: set %s, database.url or --database-url", DatabaseURLEnv)
	}
	return nil
}
