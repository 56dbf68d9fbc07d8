// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowguard/rowguard/internal/expr"
	"github.com/rowguard/rowguard/pkg/errutil"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rowguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func flags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, Defaults(), *cfg)
	assert.Equal(t, expr.DefaultBudget().MaxDepth, cfg.Budget().MaxDepth)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	path := writeConfig(t, `
log:
  format: text
  level: debug
evaluation:
  max_depth: 16
  timeout: 10ms
policy:
  file: /etc/rowguard/policies.yaml
  staleness: 1m
audit:
  mode: all
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 16, cfg.Evaluation.MaxDepth)
	assert.Equal(t, expr.DefaultMaxOperations, cfg.Evaluation.MaxOperations)
	assert.Equal(t, 10*time.Millisecond, cfg.Evaluation.Timeout)
	assert.Equal(t, "/etc/rowguard/policies.yaml", cfg.Policy.File)
	assert.Equal(t, time.Minute, cfg.Policy.Staleness)
	assert.Equal(t, "all", cfg.Audit.Mode)
}

func TestLoad_FlagsOverrideFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	path := writeConfig(t, "log:\n  format: text\nevaluation:\n  max_depth: 16\n")

	cfg, err := Load(path, flags(t, "--max-depth=8", "--audit-mode=denials_only"))
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Evaluation.MaxDepth)
	assert.Equal(t, "denials_only", cfg.Audit.Mode)
	assert.Equal(t, "text", cfg.Log.Format, "unchanged flag keeps file value")
}

func TestLoad_DatabaseURLFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/db")

	cfg, err := Load("", flags(t, "--policy-source=postgres"))
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/db", cfg.Database.URL)

	cfg, err = Load("", flags(t, "--policy-source=postgres", "--database-url=postgres://flag/db"))
	require.NoError(t, err)
	assert.Equal(t, "postgres://flag/db", cfg.Database.URL)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	errutil.AssertErrorCode(t, err, CodeInvalid)
}

func TestLoad_InvalidValue(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := Load("", flags(t, "--log-format=xml"))
	errutil.AssertErrorCode(t, err, CodeInvalid)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(*Config) {}, ok: true},
		{name: "bad log format", mutate: func(c *Config) { c.Log.Format = "xml" }},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "loud" }},
		{name: "zero depth", mutate: func(c *Config) { c.Evaluation.MaxDepth = 0 }},
		{name: "zero operations", mutate: func(c *Config) { c.Evaluation.MaxOperations = 0 }},
		{name: "zero timeout", mutate: func(c *Config) { c.Evaluation.Timeout = 0 }},
		{name: "negative staleness", mutate: func(c *Config) { c.Policy.Staleness = -time.Second }},
		{name: "empty policy file", mutate: func(c *Config) { c.Policy.File = "" }},
		{name: "unknown source", mutate: func(c *Config) { c.Policy.Source = "s3" }},
		{name: "postgres source without url", mutate: func(c *Config) { c.Policy.Source = SourcePostgres }},
		{
			name: "postgres source with url",
			mutate: func(c *Config) {
				c.Policy.Source = SourcePostgres
				c.Database.URL = "postgres://localhost/rowguard"
			},
			ok: true,
		},
		{name: "bad audit mode", mutate: func(c *Config) { c.Audit.Mode = "loud" }},
		{name: "postgres audit without url", mutate: func(c *Config) { c.Audit.Writer = WriterPostgres }},
		{name: "unknown audit writer", mutate: func(c *Config) { c.Audit.Writer = "kafka" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			errutil.AssertErrorCode(t, err, CodeInvalid)
		})
	}
}

func TestConfig_Budget(t *testing.T) {
	cfg := Defaults()
	cfg.Evaluation = EvaluationConfig{MaxDepth: 3, MaxOperations: 7, Timeout: time.Second}

	b := cfg.Budget()

	assert.Equal(t, 3, b.MaxDepth)
	assert.Equal(t, 7, b.MaxOperations)
	assert.Equal(t, time.Second, b.Timeout)
	assert.True(t, b.AllowedOperations.Contains(expr.OpEq))
}
