// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

// Package types defines the core types for the policy engine.
package types

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rowguard/rowguard/internal/expr"
)

// Action is the operation a request performs on a resource.
type Action string

// Supported actions.
const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Actions lists every supported action.
var Actions = []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete}

// Valid reports whether a is a supported action.
func (a Action) Valid() bool {
	return slices.Contains(Actions, a)
}

// ParseAction converts a string into an Action.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("unknown action %q", s)
	}
	return a, nil
}

// EvaluateOn declares where an expression may be evaluated. The zero value
// means server.
type EvaluateOn string

// EvaluateOn values.
const (
	EvaluateOnClient EvaluateOn = "client"
	EvaluateOnServer EvaluateOn = "server"
	EvaluateOnBoth   EvaluateOn = "both"
)

// Valid reports whether e is empty or a known placement.
func (e EvaluateOn) Valid() bool {
	switch e {
	case "", EvaluateOnClient, EvaluateOnServer, EvaluateOnBoth:
		return true
	default:
		return false
	}
}

// OnServer reports whether the server evaluates expressions with this tag.
func (e EvaluateOn) OnServer() bool {
	return e != EvaluateOnClient
}

// Effect represents the evaluated outcome of an access decision.
type Effect int

// Effect constants define the possible outcomes of policy evaluation.
const (
	EffectDefaultDeny Effect = iota // default_deny
	EffectAllow                     // allow
	EffectDeny                      // deny
	EffectErrorDeny                 // error_deny
)

var effectStrings = [...]string{
	"default_deny",
	"allow",
	"deny",
	"error_deny",
}

func (e Effect) String() string {
	if e >= 0 && int(e) < len(effectStrings) {
		return effectStrings[e]
	}
	return fmt.Sprintf("unknown(%d)", int(e))
}

// MarshalText renders the effect name.
func (e Effect) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText parses an effect name.
func (e *Effect) UnmarshalText(text []byte) error {
	for i, s := range effectStrings {
		if s == string(text) {
			*e = Effect(i)
			return nil
		}
	}
	return fmt.Errorf("unknown effect %q", text)
}

// Key identifies the policy for a resource and action.
type Key struct {
	Resource string
	Action   Action
}

func (k Key) String() string {
	return k.Resource + ":" + string(k.Action)
}

// RoleFields grants fields to a single role.
type RoleFields struct {
	Read  []string `json:"read,omitempty" yaml:"read,omitempty"`
	Write []string `json:"write,omitempty" yaml:"write,omitempty"`
}

// FieldRules restricts which fields a policy exposes. A nil Read or Write
// list means every declared field of the resource.
type FieldRules struct {
	Read  []string              `json:"read,omitempty" yaml:"read,omitempty"`
	Write []string              `json:"write,omitempty" yaml:"write,omitempty"`
	Deny  []string              `json:"deny,omitempty" yaml:"deny,omitempty"`
	Roles map[string]RoleFields `json:"roles,omitempty" yaml:"roles,omitempty"`
}

// Policy grants an action on a resource when Allow evaluates to true.
type Policy struct {
	Resource    string          `json:"resource" yaml:"resource" jsonschema:"minLength=1"`
	Action      Action          `json:"action" yaml:"action" jsonschema:"enum=create,enum=read,enum=update,enum=delete"`
	Allow       expr.Expression `json:"allow" yaml:"allow"`
	Fields      *FieldRules     `json:"fields,omitempty" yaml:"fields,omitempty"`
	EvaluateOn  EvaluateOn      `json:"evaluateOn,omitempty" yaml:"evaluateOn,omitempty" jsonschema:"enum=client,enum=server,enum=both"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
}

// Key returns the index key of the policy.
func (p *Policy) Key() Key {
	return Key{Resource: p.Resource, Action: p.Action}
}

// ComputedField is a value derived from a record by an expression.
type ComputedField struct {
	Expression expr.Expression `json:"expression" yaml:"expression"`
	EvaluateOn EvaluateOn      `json:"evaluateOn,omitempty" yaml:"evaluateOn,omitempty" jsonschema:"enum=client,enum=server,enum=both"`
}

// Resource declares the fields of a resource.
type Resource struct {
	Fields   []string                 `json:"fields,omitempty" yaml:"fields,omitempty"`
	Computed map[string]ComputedField `json:"computed,omitempty" yaml:"computed,omitempty"`
}

// Declares reports whether name is a declared or computed field.
func (r Resource) Declares(name string) bool {
	if slices.Contains(r.Fields, name) {
		return true
	}
	_, ok := r.Computed[name]
	return ok
}

// ComputedNames returns the computed field names in sorted order.
func (r Resource) ComputedNames() []string {
	names := make([]string, 0, len(r.Computed))
	for name := range r.Computed {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// User is the identity a request is made for.
type User struct {
	ID         any            `json:"id"`
	Roles      []string       `json:"roles,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// HasRole reports whether the user holds role.
func (u *User) HasRole(role string) bool {
	return u != nil && slices.Contains(u.Roles, role)
}

// ExprUser converts the user for expression evaluation. A nil user stays nil.
func (u *User) ExprUser() *expr.User {
	if u == nil {
		return nil
	}
	return &expr.User{ID: u.ID, Roles: u.Roles, Attributes: u.Attributes}
}

// PolicyContext is the request-shaped input to the engine. Data is the
// existing or proposed record; Where holds caller-supplied equality
// constraints.
type PolicyContext struct {
	User     *User          `json:"user,omitempty"`
	Resource string         `json:"resource"`
	Action   Action         `json:"action"`
	Where    map[string]any `json:"where,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// Key returns the policy key addressed by the context.
func (pc PolicyContext) Key() Key {
	return Key{Resource: pc.Resource, Action: pc.Action}
}

// Validate checks that the context addresses a resource and a known action.
func (pc PolicyContext) Validate() error {
	if strings.TrimSpace(pc.Resource) == "" {
		return fmt.Errorf("policy context: resource must not be empty")
	}
	if !pc.Action.Valid() {
		return fmt.Errorf("policy context: unknown action %q", pc.Action)
	}
	return nil
}

// FilterOp is a row-filter comparison.
type FilterOp string

// Filter operators.
const (
	FilterEq FilterOp = "eq"
	FilterIn FilterOp = "in"
)

// FilterClause constrains one field. For FilterIn, Value is a []any.
type FilterClause struct {
	Field string   `json:"field"`
	Op    FilterOp `json:"op"`
	Value any      `json:"value"`
}

func (c FilterClause) String() string {
	return fmt.Sprintf("%s %s %s", c.Field, c.Op, expr.Stringify(expr.Normalize(c.Value)))
}

// FilterMode tells the record store how to honor a RowFilter.
type FilterMode string

// Filter modes.
const (
	// FilterModeStore means the clauses fully express the policy.
	FilterModeStore FilterMode = "store"
	// FilterModePostFetch means the clauses only narrow candidates; every
	// fetched row must also pass Engine.FilterRows.
	FilterModePostFetch FilterMode = "post_fetch"
	// FilterModeDenyAll means no row may be returned.
	FilterModeDenyAll FilterMode = "deny_all"
)

// RowFilter is a conjunction of clauses with a mode.
type RowFilter struct {
	Mode    FilterMode     `json:"mode"`
	Clauses []FilterClause `json:"clauses"`
}

// AllowedFields is the result of a field permission query.
type AllowedFields struct {
	Read  []string `json:"read"`
	Write []string `json:"write"`
}

// Decision is the result of evaluating a policy context.
// The allowed field is unexported to prevent invariant bypass.
type Decision struct {
	allowed     bool
	Effect      Effect
	Reason      string
	PolicyKey   string
	FailureKind expr.Kind
}

// NewDecision creates a Decision with the allowed field set consistently
// based on the effect: only Allow grants access.
func NewDecision(effect Effect, reason, policyKey string) Decision {
	return Decision{
		allowed:   effect == EffectAllow,
		Effect:    effect,
		Reason:    reason,
		PolicyKey: policyKey,
	}
}

// IsAllowed returns whether the decision grants access.
func (d Decision) IsAllowed() bool {
	return d.allowed
}

// Validate checks that the allowed field is consistent with the Effect.
func (d Decision) Validate() error {
	if d.allowed != (d.Effect == EffectAllow) {
		return fmt.Errorf(
			"decision invariant violated: allowed=%v but effect=%s",
			d.allowed, d.Effect,
		)
	}
	return nil
}
