// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

// Package expr implements the sandboxed expression language used by policies
// and computed fields: the AST, its JSON and text encodings, the closed
// operation registry and a budgeted evaluator.
package expr

// NodeType tags each AST node in its JSON encoding.
type NodeType string

// Node types.
const (
	NodeLiteral     NodeType = "literal"
	NodeField       NodeType = "field"
	NodeOperation   NodeType = "operation"
	NodeCondition   NodeType = "condition"
	NodeConditional NodeType = "conditional"
	NodePermission  NodeType = "permission"
)

// Node is an expression tree node. Nodes are immutable once constructed.
type Node interface {
	Type() NodeType
	node()
}

// Literal is a scalar constant: number, string, boolean or null.
type Literal struct {
	Value Value
}

// FieldRef is a dot-separated path into the evaluation context.
type FieldRef struct {
	Path string
}

// Operation applies a registry operation to evaluated arguments. Op is kept
// as the raw name so that unknown operations fail at evaluation time.
type Operation struct {
	Op   string
	Args []Node
}

// Condition is a binary comparison.
type Condition struct {
	Op    string
	Left  Node
	Right Node
}

// Conditional is a ternary.
type Conditional struct {
	Cond Node
	Then Node
	Else Node
}

// PermissionCheck tests the context user. Args are scalars.
type PermissionCheck struct {
	Check string
	Args  []Value
}

func (*Literal) Type() NodeType         { return NodeLiteral }
func (*FieldRef) Type() NodeType        { return NodeField }
func (*Operation) Type() NodeType       { return NodeOperation }
func (*Condition) Type() NodeType       { return NodeCondition }
func (*Conditional) Type() NodeType     { return NodeConditional }
func (*PermissionCheck) Type() NodeType { return NodePermission }

func (*Literal) node()         {}
func (*FieldRef) node()        {}
func (*Operation) node()       {}
func (*Condition) node()       {}
func (*Conditional) node()     {}
func (*PermissionCheck) node() {}

// Lit builds a literal node. Non-scalar values are normalized; callers that
// need to reject them should go through Decode.
func Lit(v any) *Literal { return &Literal{Value: Normalize(v)} }

// Field builds a field reference.
func Field(path string) *FieldRef { return &FieldRef{Path: path} }

// Call builds an operation node.
func Call(op Op, args ...Node) *Operation { return &Operation{Op: string(op), Args: args} }

// Compare builds a condition node.
func Compare(op Op, left, right Node) *Condition {
	return &Condition{Op: string(op), Left: left, Right: right}
}

// If builds a conditional node.
func If(cond, then, els Node) *Conditional {
	return &Conditional{Cond: cond, Then: then, Else: els}
}

// Permission builds a permission check node.
func Permission(check Op, args ...any) *PermissionCheck {
	vals := make([]Value, len(args))
	for i, a := range args {
		vals[i] = Normalize(a)
	}
	return &PermissionCheck{Check: string(check), Args: vals}
}

// Walk calls fn for n and every descendant in depth-first order. Children of
// a node are skipped when fn returns false for it.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	switch t := n.(type) {
	case *Operation:
		for _, a := range t.Args {
			Walk(a, fn)
		}
	case *Condition:
		Walk(t.Left, fn)
		Walk(t.Right, fn)
	case *Conditional:
		Walk(t.Cond, fn)
		Walk(t.Then, fn)
		Walk(t.Else, fn)
	}
}
