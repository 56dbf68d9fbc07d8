// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

// Package config loads rowguard configuration. Sources are layered:
// built-in defaults, then an optional YAML file, then DATABASE_URL, then
// command-line flags that were explicitly set.
package config

import (
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/rowguard/rowguard/internal/access/policy/audit"
	"github.com/rowguard/rowguard/internal/expr"
	"github.com/rowguard/rowguard/internal/logging"
)

// Policy sources.
const (
	SourceFile     = "file"
	SourcePostgres = "postgres"
)

// Audit writers.
const (
	WriterSlog     = "slog"
	WriterPostgres = "postgres"
)

// CodeInvalid is the error code for configuration that fails validation.
const CodeInvalid = "CONFIG_INVALID"

// Config is the full rowguard configuration.
type Config struct {
	Log        LogConfig        `koanf:"log"`
	Evaluation EvaluationConfig `koanf:"evaluation"`
	Policy     PolicyConfig     `koanf:"policy"`
	Database   DatabaseConfig   `koanf:"database"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Audit      AuditConfig      `koanf:"audit"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// EvaluationConfig bounds every expression evaluation.
type EvaluationConfig struct {
	MaxDepth      int           `koanf:"max_depth"`
	MaxOperations int           `koanf:"max_operations"`
	Timeout       time.Duration `koanf:"timeout"`
}

// PolicyConfig selects where policy documents come from.
type PolicyConfig struct {
	Source string `koanf:"source"`
	File   string `koanf:"file"`
	// Staleness makes the engine deny everything when no reload succeeded
	// for this long. Zero disables the check.
	Staleness    time.Duration `koanf:"staleness"`
	PollInterval time.Duration `koanf:"poll_interval"`
}

// DatabaseConfig configures PostgreSQL.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// MetricsConfig configures the observability server. An empty address
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// AuditConfig configures decision auditing.
type AuditConfig struct {
	Mode    string `koanf:"mode"`
	Writer  string `koanf:"writer"`
	WALPath string `koanf:"wal_path"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Log: LogConfig{Format: "json", Level: "info"},
		Evaluation: EvaluationConfig{
			MaxDepth:      expr.DefaultMaxDepth,
			MaxOperations: expr.DefaultMaxOperations,
			Timeout:       expr.DefaultTimeout,
		},
		Policy:  PolicyConfig{Source: SourceFile, File: "policies.yaml"},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Audit:   AuditConfig{Mode: string(audit.ModeMinimal), Writer: WriterSlog},
	}
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"log-format":     "log.format",
	"log-level":      "log.level",
	"max-depth":      "evaluation.max_depth",
	"max-operations": "evaluation.max_operations",
	"eval-timeout":   "evaluation.timeout",
	"policies":       "policy.file",
	"policy-source":  "policy.source",
	"staleness":      "policy.staleness",
	"poll-interval":  "policy.poll_interval",
	"database-url":   "database.url",
	"metrics-addr":   "metrics.addr",
	"audit-mode":     "audit.mode",
	"audit-writer":   "audit.writer",
	"audit-wal":      "audit.wal_path",
}

// RegisterFlags adds the configuration flags to fs with the built-in
// defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.Int("max-depth", d.Evaluation.MaxDepth, "maximum expression depth")
	fs.Int("max-operations", d.Evaluation.MaxOperations, "maximum operations per evaluation")
	fs.Duration("eval-timeout", d.Evaluation.Timeout, "wall-clock limit per evaluation")
	fs.String("policies", d.Policy.File, "policy document path")
	fs.String("policy-source", d.Policy.Source, "policy source (file or postgres)")
	fs.Duration("staleness", d.Policy.Staleness, "deny all when the policy cache is older than this (0 disables)")
	fs.Duration("poll-interval", d.Policy.PollInterval, "reload file policies at this interval (0 disables)")
	fs.String("database-url", "", "PostgreSQL connection string (default $DATABASE_URL)")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	fs.String("audit-mode", d.Audit.Mode, "audit mode (off, minimal, denials_only, all)")
	fs.String("audit-writer", d.Audit.Writer, "audit writer (slog or postgres)")
	fs.String("audit-wal", "", "audit write-ahead log path for failed writes")
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// empty), DATABASE_URL and the flags in fs that were changed. fs may be nil.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	d := Defaults()
	defaults := map[string]any{
		"log.format":                d.Log.Format,
		"log.level":                 d.Log.Level,
		"evaluation.max_depth":      d.Evaluation.MaxDepth,
		"evaluation.max_operations": d.Evaluation.MaxOperations,
		"evaluation.timeout":        d.Evaluation.Timeout,
		"policy.source":             d.Policy.Source,
		"policy.file":               d.Policy.File,
		"policy.staleness":          d.Policy.Staleness,
		"policy.poll_interval":      d.Policy.PollInterval,
		"metrics.addr":              d.Metrics.Addr,
		"audit.mode":                d.Audit.Mode,
		"audit.writer":              d.Audit.Writer,
	}
	for key, v := range defaults {
		if err := k.Set(key, v); err != nil {
			return nil, oops.Code(CodeInvalid).With("key", key).Wrap(err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code(CodeInvalid).With("path", path).Wrapf(err, "load config file")
		}
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		if err := k.Set("database.url", url); err != nil {
			return nil, oops.Code(CodeInvalid).With("key", "database.url").Wrap(err)
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
			return nil, oops.Code(CodeInvalid).Wrapf(err, "load flags")
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code(CodeInvalid).Wrapf(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "%s", err.Error())
	}
	if c.Evaluation.MaxDepth <= 0 {
		return invalid("evaluation.max_depth", "must be positive, got %d", c.Evaluation.MaxDepth)
	}
	if c.Evaluation.MaxOperations <= 0 {
		return invalid("evaluation.max_operations", "must be positive, got %d", c.Evaluation.MaxOperations)
	}
	if c.Evaluation.Timeout <= 0 {
		return invalid("evaluation.timeout", "must be positive, got %s", c.Evaluation.Timeout)
	}
	if c.Policy.Staleness < 0 || c.Policy.PollInterval < 0 {
		return invalid("policy", "durations must not be negative")
	}
	switch c.Policy.Source {
	case SourceFile:
		if c.Policy.File == "" {
			return invalid("policy.file", "required when policy.source is %q", SourceFile)
		}
	case SourcePostgres:
		if c.Database.URL == "" {
			return invalid("database.url", "required when policy.source is %q", SourcePostgres)
		}
	default:
		return invalid("policy.source", "must be %q or %q, got %q", SourceFile, SourcePostgres, c.Policy.Source)
	}
	if _, err := audit.ParseMode(c.Audit.Mode); err != nil {
		return invalid("audit.mode", "%s", err.Error())
	}
	switch c.Audit.Writer {
	case WriterSlog:
	case WriterPostgres:
		if c.Database.URL == "" {
			return invalid("database.url", "required when audit.writer is %q", WriterPostgres)
		}
	default:
		return invalid("audit.writer", "must be %q or %q, got %q", WriterSlog, WriterPostgres, c.Audit.Writer)
	}
	return nil
}

// Budget returns the evaluation budget with every operation allowed.
func (c *Config) Budget() expr.Budget {
	b := expr.DefaultBudget()
	b.MaxDepth = c.Evaluation.MaxDepth
	b.MaxOperations = c.Evaluation.MaxOperations
	b.Timeout = c.Evaluation.Timeout
	return b
}

func invalid(key, format string, args ...any) error {
	return oops.Code(CodeInvalid).With("key", key).Errorf(key+" "+format, args...)
}
