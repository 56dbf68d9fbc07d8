// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package expr

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// MaxDecodeDepth bounds the nesting of encoded expressions.
const MaxDecodeDepth = 256

// Parse decodes a JSON-encoded expression.
func Parse(data []byte) (Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, oops.Code(CodeMalformedExpression).Wrapf(err, "decoding expression JSON")
	}
	if dec.More() {
		return nil, errMalformed("trailing data after expression")
	}
	return Decode(raw)
}

// Decode converts generic decoded data (from encoding/json or yaml.v3) into
// an expression tree.
func Decode(raw any) (Node, error) {
	return decodeNode(raw, 0, "$")
}

func decodeNode(raw any, depth int, at string) (Node, error) {
	if depth > MaxDecodeDepth {
		return nil, errMalformed("expression nesting exceeds %d levels at %s", MaxDecodeDepth, at)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, errMalformed("expected expression object at %s, got %s", at, TypeName(Normalize(raw)))
	}
	typ, _ := obj["type"].(string)
	switch NodeType(typ) {
	case NodeLiteral:
		v, ok := obj["value"]
		if !ok {
			return nil, errMalformed("literal at %s has no value", at)
		}
		val := Normalize(v)
		if !isScalar(val) {
			return nil, errMalformed("literal at %s must be a scalar, got %s", at, TypeName(val))
		}
		return &Literal{Value: val}, nil

	case NodeField:
		path, ok := obj["path"].(string)
		if !ok {
			return nil, errMalformed("field at %s requires a string path", at)
		}
		return &FieldRef{Path: path}, nil

	case NodeOperation:
		op, ok := obj["op"].(string)
		if !ok || op == "" {
			return nil, errMalformed("operation at %s requires an op name", at)
		}
		args, err := decodeArgs(obj["args"], depth, at)
		if err != nil {
			return nil, err
		}
		return &Operation{Op: op, Args: args}, nil

	case NodeCondition:
		op, ok := obj["op"].(string)
		if !ok || op == "" {
			return nil, errMalformed("condition at %s requires an op name", at)
		}
		left, err := decodeNode(obj["left"], depth+1, at+".left")
		if err != nil {
			return nil, err
		}
		right, err := decodeNode(obj["right"], depth+1, at+".right")
		if err != nil {
			return nil, err
		}
		return &Condition{Op: op, Left: left, Right: right}, nil

	case NodeConditional:
		cond, err := decodeNode(obj["condition"], depth+1, at+".condition")
		if err != nil {
			return nil, err
		}
		then, err := decodeNode(obj["then"], depth+1, at+".then")
		if err != nil {
			return nil, err
		}
		els, err := decodeNode(obj["else"], depth+1, at+".else")
		if err != nil {
			return nil, err
		}
		return &Conditional{Cond: cond, Then: then, Else: els}, nil

	case NodePermission:
		check, ok := obj["check"].(string)
		if !ok || check == "" {
			return nil, errMalformed("permission at %s requires a check name", at)
		}
		var args []Value
		if rawArgs, present := obj["args"]; present && rawArgs != nil {
			list, ok := rawArgs.([]any)
			if !ok {
				return nil, errMalformed("permission args at %s must be an array", at)
			}
			for i, a := range list {
				v := Normalize(a)
				if !isScalar(v) {
					return nil, errMalformed("permission arg %d at %s must be a scalar", i, at)
				}
				args = append(args, v)
			}
		}
		return &PermissionCheck{Check: check, Args: args}, nil

	default:
		return nil, errMalformed("unknown node type %q at %s", typ, at)
	}
}

func decodeArgs(raw any, depth int, at string) ([]Node, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, errMalformed("args at %s must be an array", at)
	}
	args := make([]Node, 0, len(list))
	for i, a := range list {
		n, err := decodeNode(a, depth+1, fmt.Sprintf("%s.args[%d]", at, i))
		if err != nil {
			return nil, err
		}
		args = append(args, n)
	}
	return args, nil
}

func isScalar(v Value) bool {
	switch v.(type) {
	case nil, float64, string, bool:
		return true
	default:
		return false
	}
}

// Encode renders a node in its generic JSON-compatible form.
func Encode(n Node) map[string]any {
	switch t := n.(type) {
	case *Literal:
		return map[string]any{"type": string(NodeLiteral), "value": t.Value}
	case *FieldRef:
		return map[string]any{"type": string(NodeField), "path": t.Path}
	case *Operation:
		args := make([]any, len(t.Args))
		for i, a := range t.Args {
			args[i] = Encode(a)
		}
		return map[string]any{"type": string(NodeOperation), "op": t.Op, "args": args}
	case *Condition:
		return map[string]any{
			"type":  string(NodeCondition),
			"op":    t.Op,
			"left":  Encode(t.Left),
			"right": Encode(t.Right),
		}
	case *Conditional:
		return map[string]any{
			"type":      string(NodeConditional),
			"condition": Encode(t.Cond),
			"then":      Encode(t.Then),
			"else":      Encode(t.Else),
		}
	case *PermissionCheck:
		args := make([]any, len(t.Args))
		copy(args, t.Args)
		return map[string]any{"type": string(NodePermission), "check": t.Check, "args": args}
	default:
		return nil
	}
}

// Expression wraps a Node so it can be embedded in JSON and YAML documents.
type Expression struct {
	Node Node
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Expression) UnmarshalJSON(data []byte) error {
	n, err := Parse(data)
	if err != nil {
		return err
	}
	e.Node = n
	return nil
}

// MarshalJSON implements json.Marshaler.
func (e Expression) MarshalJSON() ([]byte, error) {
	if e.Node == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(Encode(e.Node))
	if err != nil {
		return nil, oops.Wrapf(err, "encoding expression")
	}
	return data, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (e *Expression) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return oops.Code(CodeMalformedExpression).Wrapf(err, "decoding expression YAML")
	}
	n, err := Decode(raw)
	if err != nil {
		return err
	}
	e.Node = n
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (e Expression) MarshalYAML() (any, error) {
	if e.Node == nil {
		return nil, nil
	}
	return Encode(e.Node), nil
}

// JSONSchema describes the encoded expression for schema generation. Only
// the node envelope is constrained; operation names and arities are checked
// by the evaluator.
func (Expression) JSONSchema() *jsonschema.Schema {
	types := []any{
		string(NodeLiteral), string(NodeField), string(NodeOperation),
		string(NodeCondition), string(NodeConditional), string(NodePermission),
	}
	props := jsonschema.NewProperties()
	props.Set("type", &jsonschema.Schema{Type: "string", Enum: types})
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   []string{"type"},
	}
}
