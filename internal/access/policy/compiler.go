// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

// Package policy loads policy documents and answers access, row-filter and
// field-permission questions for them.
package policy

import (
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"

	"github.com/rowguard/rowguard/internal/access/policy/types"
	"github.com/rowguard/rowguard/internal/expr"
)

// SupportedVersions is the semver constraint a document version must satisfy.
const SupportedVersions = "^1"

// DefaultMaxDisjuncts bounds the size of a compiled row-filter plan.
const DefaultMaxDisjuncts = 16

// Compiler validates policy documents and builds immutable snapshots.
type Compiler struct {
	versions     *semver.Constraints
	maxDisjuncts int
}

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithMaxDisjuncts sets the largest row-filter plan the compiler will build.
// Larger allow expressions fall back to post-fetch filtering.
func WithMaxDisjuncts(n int) CompilerOption {
	return func(c *Compiler) {
		c.maxDisjuncts = n
	}
}

// NewCompiler creates a Compiler.
func NewCompiler(opts ...CompilerOption) *Compiler {
	versions, err := semver.NewConstraint(SupportedVersions)
	if err != nil {
		panic(err)
	}
	c := &Compiler{versions: versions, maxDisjuncts: DefaultMaxDisjuncts}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CompiledPolicy is a validated policy with its row-filter plan.
// It must not be modified after compilation.
type CompiledPolicy struct {
	Policy types.Policy
	plan   *filterPlan
}

// Key returns the policy's index key.
func (p *CompiledPolicy) Key() types.Key {
	return p.Policy.Key()
}

// RowFilterTranslatable reports whether the allow expression compiles to a
// store-level filter. When false, reads fall back to post-fetch filtering.
func (p *CompiledPolicy) RowFilterTranslatable() bool {
	return p.plan.ok
}

// Snapshot is an immutable, read-only view of a compiled document.
// It is safe for concurrent reads without locking.
type Snapshot struct {
	version   string
	policies  map[types.Key]*CompiledPolicy
	resources map[string]types.Resource
	CreatedAt time.Time
}

// EmptySnapshot returns a snapshot with no policies, which denies everything.
func EmptySnapshot() *Snapshot {
	return &Snapshot{
		policies:  map[types.Key]*CompiledPolicy{},
		resources: map[string]types.Resource{},
	}
}

// Version is the document version the snapshot was compiled from.
func (s *Snapshot) Version() string { return s.version }

// Len returns the number of policies.
func (s *Snapshot) Len() int { return len(s.policies) }

// Policy returns the policy for key.
func (s *Snapshot) Policy(key types.Key) (*CompiledPolicy, bool) {
	p, ok := s.policies[key]
	return p, ok
}

// Policies returns every policy ordered by key.
func (s *Snapshot) Policies() []*CompiledPolicy {
	out := make([]*CompiledPolicy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key().String() < out[j].Key().String()
	})
	return out
}

// Resource returns the declaration of a resource.
func (s *Snapshot) Resource(name string) (types.Resource, bool) {
	r, ok := s.resources[name]
	return r, ok
}

// Compile validates doc and builds a snapshot. The document is copied; later
// changes to doc are not observed by the snapshot.
func (c *Compiler) Compile(doc *Document) (*Snapshot, error) {
	if doc == nil {
		return nil, oops.Code(CodeDocumentInvalid).Errorf("policy document is nil")
	}
	if err := c.checkVersion(doc.Version); err != nil {
		return nil, err
	}

	resources := make(map[string]types.Resource, len(doc.Resources))
	for name, res := range doc.Resources {
		if strings.TrimSpace(name) == "" {
			return nil, oops.Code(CodeDocumentInvalid).Errorf("resource name must not be empty")
		}
		if err := validateResource(name, res); err != nil {
			return nil, err
		}
		resources[name] = cloneResource(res)
	}

	policies := make(map[types.Key]*CompiledPolicy, len(doc.Policies))
	for i := range doc.Policies {
		p := clonePolicy(doc.Policies[i])
		key := p.Key()
		if err := validatePolicy(i, p, resources); err != nil {
			return nil, err
		}
		if _, dup := policies[key]; dup {
			return nil, oops.Code(CodeDuplicatePolicy).
				With("policy", key.String()).
				Errorf("duplicate policy for %s", key)
		}
		policies[key] = &CompiledPolicy{
			Policy: p,
			plan:   buildPlan(p.Allow.Node, c.maxDisjuncts),
		}
	}

	return &Snapshot{
		version:   doc.Version,
		policies:  policies,
		resources: resources,
		CreatedAt: time.Now(),
	}, nil
}

func (c *Compiler) checkVersion(raw string) error {
	v, err := semver.NewVersion(raw)
	if err != nil {
		return oops.Code(CodeUnsupportedVersion).
			With("version", raw).
			Wrapf(err, "invalid document version")
	}
	if !c.versions.Check(v) {
		return oops.Code(CodeUnsupportedVersion).
			With("version", raw).
			With("supported", SupportedVersions).
			Errorf("document version %s is not supported", raw)
	}
	return nil
}

func validateResource(name string, res types.Resource) error {
	seen := make(map[string]struct{}, len(res.Fields))
	for _, f := range res.Fields {
		if _, err := expr.SplitPath(f); err != nil {
			return invalid("resource", name, "field %q: %v", f, err)
		}
		if _, dup := seen[f]; dup {
			return invalid("resource", name, "field %q declared twice", f)
		}
		seen[f] = struct{}{}
	}
	for field, cf := range res.Computed {
		if _, dup := seen[field]; dup {
			return invalid("resource", name, "computed field %q shadows a declared field", field)
		}
		if !cf.EvaluateOn.Valid() {
			return invalid("resource", name, "computed field %q: unknown evaluateOn %q", field, cf.EvaluateOn)
		}
		if err := validateExpression(cf.Expression.Node); err != nil {
			return invalid("resource", name, "computed field %q: %v", field, err)
		}
	}
	return nil
}

type fieldList struct {
	name   string
	fields []string
}

func validatePolicy(i int, p types.Policy, resources map[string]types.Resource) error {
	key := p.Key().String()
	if strings.TrimSpace(p.Resource) == "" {
		return invalid("policy", i, "resource must not be empty")
	}
	if !p.Action.Valid() {
		return invalid("policy", key, "unknown action %q", p.Action)
	}
	if !p.EvaluateOn.Valid() {
		return invalid("policy", key, "unknown evaluateOn %q", p.EvaluateOn)
	}
	if !p.EvaluateOn.OnServer() {
		return oops.Code(CodeClientOnlyPolicy).
			With("policy", key).
			Errorf("policy %s gates access and must be evaluated on the server", key)
	}
	if err := validateExpression(p.Allow.Node); err != nil {
		return invalid("policy", key, "allow: %v", err)
	}
	if p.Fields == nil {
		return nil
	}
	res, declared := resources[p.Resource]
	check := func(list string, fields []string) error {
		for _, f := range fields {
			segs, err := expr.SplitPath(f)
			if err != nil {
				return invalid("policy", key, "fields.%s %q: %v", list, f, err)
			}
			if declared && !res.Declares(segs[0]) {
				return invalid("policy", key, "fields.%s %q is not declared on %s", list, f, p.Resource)
			}
		}
		return nil
	}
	lists := []fieldList{
		{"read", p.Fields.Read},
		{"write", p.Fields.Write},
		{"deny", p.Fields.Deny},
	}
	for role, rf := range p.Fields.Roles {
		lists = append(lists,
			fieldList{"roles." + role + ".read", rf.Read},
			fieldList{"roles." + role + ".write", rf.Write},
		)
	}
	for _, l := range lists {
		if err := check(l.name, l.fields); err != nil {
			return err
		}
	}
	return nil
}

// validateExpression rejects expressions that can never evaluate: unknown
// operations, wrong arities and forbidden field paths.
func validateExpression(n expr.Node) error {
	if n == nil {
		return oops.Errorf("expression is missing")
	}
	var err error
	expr.Walk(n, func(n expr.Node) bool {
		if err != nil {
			return false
		}
		switch t := n.(type) {
		case *expr.FieldRef:
			_, err = expr.SplitPath(t.Path)
		case *expr.Operation:
			err = checkOp(t.Op, len(t.Args))
		case *expr.Condition:
			err = checkOp(t.Op, 2)
		case *expr.PermissionCheck:
			err = checkOp(t.Check, len(t.Args))
		}
		return err == nil
	})
	return err
}

func checkOp(name string, n int) error {
	op, ok := expr.LookupOp(name)
	if !ok {
		return oops.With("op", name).Errorf("unknown operation %q", name)
	}
	lo, hi, _ := expr.Arity(op)
	if n < lo || (hi >= 0 && n > hi) {
		return oops.With("op", name).Errorf("%s takes %s arguments, got %d", name, arityString(lo, hi), n)
	}
	return nil
}

func arityString(lo, hi int) string {
	switch {
	case hi < 0:
		return "at least " + strconv.Itoa(lo)
	case lo == hi:
		return strconv.Itoa(lo)
	default:
		return strconv.Itoa(lo) + " to " + strconv.Itoa(hi)
	}
}

func invalid(kind string, id any, format string, args ...any) error {
	return oops.Code(CodeDocumentInvalid).
		With(kind, id).
		Errorf(kind+" %v: "+format, append([]any{id}, args...)...)
}

func cloneResource(r types.Resource) types.Resource {
	out := types.Resource{Fields: slices.Clone(r.Fields)}
	if r.Computed != nil {
		out.Computed = make(map[string]types.ComputedField, len(r.Computed))
		for k, v := range r.Computed {
			out.Computed[k] = v
		}
	}
	return out
}

func clonePolicy(p types.Policy) types.Policy {
	if p.Fields == nil {
		return p
	}
	f := &types.FieldRules{
		Read:  slices.Clone(p.Fields.Read),
		Write: slices.Clone(p.Fields.Write),
		Deny:  slices.Clone(p.Fields.Deny),
	}
	if p.Fields.Roles != nil {
		f.Roles = make(map[string]types.RoleFields, len(p.Fields.Roles))
		for role, rf := range p.Fields.Roles {
			f.Roles[role] = types.RoleFields{Read: slices.Clone(rf.Read), Write: slices.Clone(rf.Write)}
		}
	}
	p.Fields = f
	return p
}
