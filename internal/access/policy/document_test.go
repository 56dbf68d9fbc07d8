// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package policy

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowguard/rowguard/internal/access/policy/types"
	"github.com/rowguard/rowguard/internal/expr"
	"github.com/rowguard/rowguard/pkg/errutil"
)

func TestLoadDocument_YAML(t *testing.T) {
	doc, err := LoadDocument(filepath.Join("testdata", "blog.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "1.2.0", doc.Version)
	require.Len(t, doc.Policies, 3)
	assert.Equal(t, types.Key{Resource: "Post", Action: types.ActionRead}, doc.Policies[0].Key())
	assert.Equal(t, []string{"body"}, doc.Policies[0].Fields.Deny)
	assert.Contains(t, doc.Resources["Post"].Computed, "titleLength")

	or, ok := doc.Policies[0].Allow.Node.(*expr.Operation)
	require.True(t, ok)
	assert.Equal(t, "or", or.Op)
	assert.Len(t, or.Args, 2)
}

func TestLoadDocument_Missing(t *testing.T) {
	_, err := LoadDocument(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodeDocumentInvalid)
}

func TestParseDocument_JSON(t *testing.T) {
	src := `{
		"version": "1.0.0",
		"policies": [
			{"resource": "Post", "action": "delete", "allow": {"type": "permission", "check": "hasRole", "args": ["admin"]}}
		]
	}`
	doc, err := ParseDocument([]byte(src))
	require.NoError(t, err)
	require.Len(t, doc.Policies, 1)
	assert.Equal(t, types.ActionDelete, doc.Policies[0].Action)
	assert.IsType(t, &expr.PermissionCheck{}, doc.Policies[0].Allow.Node)
}

func TestParseDocument_Rejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code string
	}{
		{"empty", "   \n", CodeDocumentInvalid},
		{"bad yaml", "version: [1", CodeDocumentInvalid},
		{"missing policies", `version: "1.0.0"`, CodeSchemaViolation},
		{"unknown top-level key", "version: \"1.0.0\"\npolicies: []\nextra: 1\n", CodeSchemaViolation},
		{"unknown action", "version: \"1.0.0\"\npolicies:\n  - {resource: Post, action: publish, allow: {type: literal, value: true}}\n", CodeSchemaViolation},
		{"numeric version", "version: 1\npolicies: []\n", CodeSchemaViolation},
		{"unknown node type", "version: \"1.0.0\"\npolicies:\n  - {resource: Post, action: read, allow: {type: lambda}}\n", CodeSchemaViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDocument([]byte(tt.src))
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.code)
		})
	}
}

func TestParseDocument_MalformedExpression(t *testing.T) {
	src := "version: \"1.0.0\"\npolicies:\n  - {resource: Post, action: read, allow: {type: field}}\n"
	_, err := ParseDocument([]byte(src))
	require.Error(t, err)
	assert.Equal(t, expr.KindMalformedExpression, expr.KindOf(err))
}

func TestGenerateSchema(t *testing.T) {
	data, err := GenerateSchema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.Equal(t, SchemaID, schema["$id"])
	assert.ElementsMatch(t, []any{"version", "policies"}, schema["required"])
}

func TestValidateSchema_Fixture(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "blog.yaml"))
	require.NoError(t, err)
	assert.NoError(t, ValidateSchema(data))
}
