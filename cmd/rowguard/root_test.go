// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

const blogPolicies = "../../internal/access/policy/testdata/blog.yaml"

// execute runs the CLI with args and returns combined output.
func execute(t *testing.T, deps *ServeDeps, args ...string) (string, error) {
	t.Helper()
	return executeContext(context.Background(), t, deps, args...)
}

func executeContext(ctx context.Context, t *testing.T, deps *ServeDeps, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	cmd := newRootCmd(deps)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := NewRootCmd()

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}

	for _, want := range []string{"validate", "eval", "check", "serve", "migrate", "policy"} {
		assert.Contains(t, names, want)
	}
}

func TestRootCmd_ConfigFlags(t *testing.T) {
	cmd := NewRootCmd()

	for _, name := range []string{"config", "policies", "log-format", "max-depth", "metrics-addr", "audit-mode"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestParseObject(t *testing.T) {
	got, err := parseObject("data", "")
	assert.NoError(t, err)
	assert.Nil(t, got)

	got, err = parseObject("data", `{"a": 1}`)
	assert.NoError(t, err)
	assert.Contains(t, got, "a")

	_, err = parseObject("data", `[1]`)
	assert.Error(t, err)
}

func TestParseUser(t *testing.T) {
	u, err := parseUser(`{"id":"u1","roles":["admin"]}`)
	assert.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, []string{"admin"}, u.Roles)

	u, err = parseUser("")
	assert.NoError(t, err)
	assert.Nil(t, u)

	_, err = parseUser("nope")
	assert.Error(t, err)
}
