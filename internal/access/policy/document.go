// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package policy

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/rowguard/rowguard/internal/access/policy/types"
)

// Load-time error codes. A document that fails with one of these must not be
// served.
const (
	CodeDocumentInvalid    = "POLICY_DOCUMENT_INVALID"
	CodeSchemaViolation    = "POLICY_SCHEMA_VIOLATION"
	CodeDuplicatePolicy    = "POLICY_DUPLICATE"
	CodeUnsupportedVersion = "POLICY_UNSUPPORTED_VERSION"
	CodeClientOnlyPolicy   = "POLICY_CLIENT_ONLY"
)

// Document is a policy document as written by operators, in YAML or JSON.
type Document struct {
	Version   string                    `json:"version" yaml:"version" jsonschema:"minLength=1"`
	Resources map[string]types.Resource `json:"resources,omitempty" yaml:"resources,omitempty"`
	Policies  []types.Policy            `json:"policies" yaml:"policies"`
}

// LoadDocument reads and parses the policy document at path.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, oops.Code(CodeDocumentInvalid).With("path", path).Wrapf(err, "reading policy document")
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, oops.With("path", path).Wrap(err)
	}
	return doc, nil
}

// ParseDocument validates data against the document schema and decodes it.
// YAML and JSON are both accepted.
func ParseDocument(data []byte) (*Document, error) {
	jsonData, err := toJSON(data)
	if err != nil {
		return nil, err
	}
	if err := validateJSON(jsonData); err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(jsonData))
	dec.DisallowUnknownFields()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, oops.Code(CodeDocumentInvalid).Wrapf(err, "decoding policy document")
	}
	return &doc, nil
}

// toJSON normalizes a YAML or JSON document into JSON bytes.
func toJSON(data []byte) ([]byte, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, oops.Code(CodeDocumentInvalid).Errorf("policy document is empty")
	}
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, oops.Code(CodeDocumentInvalid).Wrapf(err, "invalid YAML")
	}
	out, err := json.Marshal(raw)
	if err != nil {
		return nil, oops.Code(CodeDocumentInvalid).Wrapf(err, "policy document is not JSON-compatible")
	}
	return out, nil
}
