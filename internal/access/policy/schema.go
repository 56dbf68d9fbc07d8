// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package policy

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaID is the $id of the policy document schema.
const SchemaID = "https://rowguard.dev/schemas/policy-document.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jschema.Schema
	errSchema      error
)

// GenerateSchema renders the JSON Schema for policy documents.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{DoNotReference: true}
	schema := r.Reflect(&Document{})
	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "Rowguard Policy Document"
	schema.Description = "Access policies, field rules and computed fields per resource"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Wrapf(err, "marshal schema")
	}
	return data, nil
}

// ValidateSchema checks a YAML or JSON document against the schema.
func ValidateSchema(data []byte) error {
	jsonData, err := toJSON(data)
	if err != nil {
		return err
	}
	return validateJSON(jsonData)
}

func validateJSON(jsonData []byte) error {
	sch, err := documentSchema()
	if err != nil {
		return oops.Code(CodeSchemaViolation).Wrapf(err, "compile schema")
	}
	inst, err := jschema.UnmarshalJSON(bytes.NewReader(jsonData))
	if err != nil {
		return oops.Code(CodeDocumentInvalid).Wrapf(err, "parse document")
	}
	if err := sch.Validate(inst); err != nil {
		return oops.Code(CodeSchemaViolation).Errorf("schema validation failed: %v", err)
	}
	return nil
}

func documentSchema() (*jschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, errSchema = compileSchema()
	})
	return compiledSchema, errSchema
}

func compileSchema() (*jschema.Schema, error) {
	schemaBytes, err := GenerateSchema()
	if err != nil {
		return nil, err
	}
	doc, err := jschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
	if err != nil {
		return nil, oops.Wrapf(err, "parse schema JSON")
	}
	c := jschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, oops.Wrapf(err, "add schema resource")
	}
	sch, err := c.Compile("schema.json")
	if err != nil {
		return nil, oops.Wrapf(err, "compile schema")
	}
	return sch, nil
}
