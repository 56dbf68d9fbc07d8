// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowguard/rowguard/internal/access/policy"
	"github.com/rowguard/rowguard/pkg/errutil"
)

func TestValidate(t *testing.T) {
	out, err := execute(t, nil, "validate", blogPolicies)
	require.NoError(t, err)

	assert.Contains(t, out, "version 1.2.0, 2 resources, 3 policies")
	assert.Regexp(t, `Post:read\s+row filter: post_fetch`, out)
	assert.Regexp(t, `Post:update\s+row filter: store`, out)
	assert.Regexp(t, `Comment:read\s+row filter: store`, out)
}

func TestValidate_InvalidDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: \"2.0.0\"\npolicies: []\n"), 0o600))

	_, err := execute(t, nil, "validate", path)
	errutil.AssertErrorCode(t, err, policy.CodeUnsupportedVersion)
}

func TestValidate_RequiresFile(t *testing.T) {
	_, err := execute(t, nil, "validate")
	assert.Error(t, err)
}
